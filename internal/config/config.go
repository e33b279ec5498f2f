// Package config loads daemon settings from PILOT_* environment variables and
// an optional YAML file named by PILOT_CONFIG. Values present in the file win
// over the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/pilot/internal/artifact"
	"github.com/example/pilot/internal/observability"
	"github.com/example/pilot/internal/safety"
)

type Config struct {
	Service    string                      `yaml:"service"`
	Loop       LoopConfig                  `yaml:"loop"`
	Safety     safety.Config               `yaml:"safety"`
	Reflex     ReflexConfig                `yaml:"reflex"`
	Planner    PlannerConfig               `yaml:"planner"`
	Queue      QueueConfig                 `yaml:"queue"`
	PolicyFile string                      `yaml:"policy_file"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
	Artifacts  artifact.Config             `yaml:"artifacts"`
	API        APIConfig                   `yaml:"api"`
}

type LoopConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	EscalateEvery int           `yaml:"escalate_every"`
	TierTimeout   time.Duration `yaml:"tier_timeout"`
}

type ReflexConfig struct {
	Clearance float64 `yaml:"clearance"`
	Speed     float64 `yaml:"speed"`
	TurnRate  float64 `yaml:"turn_rate"`
}

type PlannerConfig struct {
	// Provider is none, anthropic or http.
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Endpoint    string        `yaml:"endpoint"`
	Goal        string        `yaml:"goal"`
	// CallTimeout bounds one provider call. Calls run off the control loop,
	// so it is independent of loop.tier_timeout.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// PlanTTL is how long a planner answer keeps deciding ticks.
	PlanTTL     time.Duration `yaml:"plan_ttl"`
}

type QueueConfig struct {
	MaxConcurrent    int  `yaml:"max_concurrent"`
	StrictKinds      bool `yaml:"strict_kinds"`
	StrictInvariants bool `yaml:"strict_invariants"`
}

type APIConfig struct {
	Addr            string        `yaml:"addr"`
	// Tokens uses the "token:scope|scope,..." form.
	Tokens          string        `yaml:"tokens"`
	SubmitRateLimit int           `yaml:"submit_rate_limit"`
	// GlobalRateLimit caps submissions from all callers together.
	GlobalRateLimit int           `yaml:"global_rate_limit"`
	SubmitWindow    time.Duration `yaml:"submit_window"`
}

// Load reads the environment, then overlays PILOT_CONFIG if set.
func Load() (Config, error) {
	cfg := FromEnv()
	path := strings.TrimSpace(os.Getenv("PILOT_CONFIG"))
	if path == "" {
		return cfg, cfg.Validate()
	}
	if err := cfg.overlayFile(path); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func FromEnv() Config {
	sc := safety.DefaultConfig()
	sc.RequireCamera = getenvBool("PILOT_REQUIRE_CAMERA", sc.RequireCamera)
	sc.MinFrontDistance = getenvFloat("PILOT_MIN_FRONT_DISTANCE", sc.MinFrontDistance)
	sc.Vision.Enabled = getenvBool("PILOT_VISION_ENABLED", false)
	sc.Vision.Timeout = getenvDuration("PILOT_VISION_TIMEOUT", sc.Vision.Timeout)

	return Config{
		Service: getenv("PILOT_SERVICE_NAME", "pilotd"),
		Loop: LoopConfig{
			TickInterval:  getenvDuration("PILOT_TICK_INTERVAL", 100*time.Millisecond),
			PollInterval:  getenvDuration("PILOT_POLL_INTERVAL", 500*time.Millisecond),
			EscalateEvery: getenvInt("PILOT_ESCALATE_EVERY", 50),
			TierTimeout:   getenvDuration("PILOT_TIER_TIMEOUT", 50*time.Millisecond),
		},
		Safety: sc,
		Reflex: ReflexConfig{
			Clearance: getenvFloat("PILOT_REFLEX_CLEARANCE", 0.8),
			Speed:     getenvFloat("PILOT_REFLEX_SPEED", 0.25),
			TurnRate:  getenvFloat("PILOT_REFLEX_TURN_RATE", 0.6),
		},
		Planner: PlannerConfig{
			Provider:    getenv("PILOT_PLANNER_PROVIDER", "none"),
			Model:       getenv("PILOT_PLANNER_MODEL", ""),
			APIKey:      getenv("PILOT_PLANNER_API_KEY", ""),
			Endpoint:    getenv("PILOT_PLANNER_ENDPOINT", ""),
			Goal:        getenv("PILOT_PLANNER_GOAL", ""),
			CallTimeout: getenvDuration("PILOT_PLANNER_CALL_TIMEOUT", 10*time.Second),
			PlanTTL:     getenvDuration("PILOT_PLANNER_PLAN_TTL", 2*time.Second),
		},
		Queue: QueueConfig{
			MaxConcurrent:    getenvInt("PILOT_MAX_CONCURRENT", 2),
			StrictKinds:      getenvBool("PILOT_STRICT_KINDS", false),
			StrictInvariants: getenvBool("PILOT_STRICT_INVARIANTS", false),
		},
		PolicyFile: getenv("PILOT_POLICY_FILE", ""),
		Tracing: observability.TracingConfig{
			Exporter:    getenv("PILOT_TRACING_EXPORTER", "none"),
			Endpoint:    getenv("PILOT_OTLP_ENDPOINT", ""),
			Headers:     observability.ParseHeaders(getenv("PILOT_OTLP_HEADERS", "")),
			Insecure:    getenvBool("PILOT_OTLP_INSECURE", true),
			SampleRatio: getenvFloat("PILOT_TRACE_SAMPLE_RATIO", 1),
			Environment: getenv("PILOT_ENVIRONMENT", "dev"),
		},
		Artifacts: artifact.Config{
			Backend:        getenv("PILOT_ARTIFACT_BACKEND", "local"),
			Root:           getenv("PILOT_ARTIFACT_ROOT", "/tmp/pilot-artifacts"),
			MinIOEndpoint:  getenv("PILOT_MINIO_ENDPOINT", ""),
			MinIOAccessKey: getenv("PILOT_MINIO_ACCESS_KEY", ""),
			MinIOSecretKey: getenv("PILOT_MINIO_SECRET_KEY", ""),
			MinIOBucket:    getenv("PILOT_MINIO_BUCKET", "pilot-artifacts"),
			MinIOUseSSL:    getenvBool("PILOT_MINIO_USE_SSL", false),
		},
		API: APIConfig{
			Addr:            getenv("PILOT_API_ADDR", ":8080"),
			Tokens:          getenv("PILOT_API_TOKENS", ""),
			SubmitRateLimit: getenvInt("PILOT_SUBMIT_RATE_LIMIT_PER_MIN", 600),
			GlobalRateLimit: getenvInt("PILOT_SUBMIT_RATE_LIMIT_GLOBAL", 0),
			SubmitWindow:    time.Minute,
		},
	}
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.Loop.TickInterval <= 0 {
		return fmt.Errorf("loop.tick_interval must be positive, got %s", c.Loop.TickInterval)
	}
	if c.Loop.PollInterval <= 0 {
		return fmt.Errorf("loop.poll_interval must be positive, got %s", c.Loop.PollInterval)
	}
	if c.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be at least 1, got %d", c.Queue.MaxConcurrent)
	}
	switch strings.ToLower(strings.TrimSpace(c.Planner.Provider)) {
	case "", "none", "anthropic":
	case "http":
		if strings.TrimSpace(c.Planner.Endpoint) == "" {
			return fmt.Errorf("planner.endpoint is required when planner.provider=http")
		}
	default:
		return fmt.Errorf("unsupported planner provider %q", c.Planner.Provider)
	}
	return nil
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
