// Package bootstrap assembles a running pilot from configuration.
package bootstrap

import (
	"fmt"
	"log"
	"strings"

	"github.com/example/pilot/internal/api"
	"github.com/example/pilot/internal/artifact"
	"github.com/example/pilot/internal/capability"
	"github.com/example/pilot/internal/cascade"
	"github.com/example/pilot/internal/config"
	"github.com/example/pilot/internal/orchestrator"
	"github.com/example/pilot/internal/perception"
	"github.com/example/pilot/internal/planner"
	"github.com/example/pilot/internal/policy"
	"github.com/example/pilot/internal/reflex"
	"github.com/example/pilot/internal/runtime"
	"github.com/example/pilot/internal/safety"
	"github.com/example/pilot/internal/session"
	"github.com/example/pilot/internal/specialists"
	"github.com/example/pilot/internal/taskqueue"
)

// System holds every wired component. Fields are exported for cmd/ and tests.
type System struct {
	Config       config.Config
	State        *session.State
	Policy       *policy.Engine
	Registry     *capability.Registry
	Queue        *taskqueue.Queue
	Orchestrator *orchestrator.Orchestrator
	Gate         *safety.Gate
	Cascade      *cascade.Cascade
	Artifacts    artifact.Store
	Runtime      *runtime.Runtime
	Server       *api.Server
}

// Components supplied by the host. Nil values fall back to a static empty
// snapshot, no detector and runtime.LogDriver.
type Hardware struct {
	Source   perception.Source
	Detector safety.Detector
	Driver   runtime.Driver
}

func New(cfg config.Config, hw Hardware) (*System, error) {
	pol, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	store, err := artifact.New(cfg.Artifacts)
	if err != nil {
		return nil, err
	}
	slow, err := newSlowTier(cfg.Planner)
	if err != nil {
		return nil, err
	}

	sys := &System{
		Config:    cfg,
		State:     session.New(),
		Policy:    pol,
		Registry:  capability.NewRegistry(),
		Artifacts: store,
	}
	sys.Queue = taskqueue.New(sys.Registry, taskqueue.Options{
		Policy:           pol,
		State:            sys.State,
		StrictKinds:      cfg.Queue.StrictKinds,
		StrictInvariants: cfg.Queue.StrictInvariants,
	})
	sys.Orchestrator = orchestrator.New(sys.State, pol)
	sys.Gate = safety.New(cfg.Safety, hw.Detector)
	sys.Orchestrator.GuardDirectives(sys.Gate)

	fast := &reflex.Cruise{
		Sector:    cfg.Safety.FrontSector,
		Clearance: cfg.Reflex.Clearance,
		Speed:     cfg.Reflex.Speed,
		TurnRate:  cfg.Reflex.TurnRate,
	}
	opts := cascade.Options{
		Orchestrator:  sys.Orchestrator,
		Gate:          sys.Gate,
		Fast:          fast,
		EscalateEvery: cfg.Loop.EscalateEvery,
		TierTimeout:   cfg.Loop.TierTimeout,
	}
	if slow != nil {
		opts.Slow = slow
	}
	sys.Cascade = cascade.New(opts)

	err = specialists.Register(sys.Registry,
		specialists.NewGrasp(sys.State),
		specialists.NewDock(sys.State),
		specialists.NewExplore(sys.State),
		specialists.NewReport(sys.Cascade.Stats, sys.Queue.Status, store),
	)
	if err != nil {
		return nil, err
	}

	source := hw.Source
	if source == nil {
		source = perception.Static{Value: perception.Snapshot{CameraOptional: !cfg.Safety.RequireCamera}}
	}
	sys.Runtime = runtime.New(runtime.Config{
		TickInterval:   cfg.Loop.TickInterval,
		PollInterval:   cfg.Loop.PollInterval,
		MaxConcurrent:  cfg.Queue.MaxConcurrent,
		CameraOptional: !cfg.Safety.RequireCamera,
	}, source, sys.Cascade, sys.Queue, hw.Driver)

	sys.Server = api.NewServer(sys.Queue, sys.Registry, sys.Cascade, sys.State, api.Options{
		Tokens:          cfg.API.Tokens,
		SubmitRateLimit: cfg.API.SubmitRateLimit,
		GlobalRateLimit: cfg.API.GlobalRateLimit,
		SubmitWindow:    cfg.API.SubmitWindow,
	})
	return sys, nil
}

// newSlowTier returns nil when no planner is configured. The planner runs in
// the background so model latency never holds up a tick.
func newSlowTier(cfg config.PlannerConfig) (*planner.Background, error) {
	var provider planner.Provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "anthropic":
		p, err := planner.NewAnthropicProvider(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("planner: %w", err)
		}
		provider = p
	case "http":
		if strings.TrimSpace(cfg.Endpoint) == "" {
			return nil, fmt.Errorf("PILOT_PLANNER_ENDPOINT is required when PILOT_PLANNER_PROVIDER=http")
		}
		provider = planner.NewHTTPProvider(cfg.Endpoint, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported PILOT_PLANNER_PROVIDER value %q", cfg.Provider)
	}
	log.Printf("slow tier enabled provider=%s", cfg.Provider)
	return planner.NewBackground(planner.New(provider, planner.WithGoal(cfg.Goal)), cfg.CallTimeout, cfg.PlanTTL), nil
}
