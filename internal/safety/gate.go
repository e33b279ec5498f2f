// Package safety implements the reactive override tier: a rule evaluator over
// the latest perception snapshot that decides whether everything else must be
// overridden this tick.
package safety

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/observability"
	"github.com/example/pilot/internal/perception"
)

// Box is a detection bounding box in normalized [0,1] image coordinates.
type Box struct {
	X, Y, W, H float64
}

type Detection struct {
	Label      string
	Confidence float64
	Box        Box
}

// Detector finds obstacles in a frame. Implementations may fail or panic;
// the gate treats both as "no detection". A call that outlives
// VisionConfig.Timeout is abandoned and also counts as "no detection", and no
// new call starts until it returns.
type Detector interface {
	Detect(frame *perception.Frame) ([]Detection, error)
}

type VisionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Calibration converts inverse normalized box area into meters.
	Calibration    float64 `yaml:"calibration"`
	StopDistance   float64 `yaml:"stop_distance"`
	WarnDistance   float64 `yaml:"warn_distance"`
	EvasiveAngular float64 `yaml:"evasive_angular"`
	// Timeout bounds one Detect call inside a tick.
	Timeout time.Duration `yaml:"timeout"`
}

type Config struct {
	RequireCamera    bool          `yaml:"require_camera"`
	MinFrameWidth    int           `yaml:"min_frame_width"`
	MinFrameHeight   int           `yaml:"min_frame_height"`
	FrontSector      string        `yaml:"front_sector"`
	MinFrontDistance float64       `yaml:"min_front_distance"`
	WaitDuration     time.Duration `yaml:"wait_duration"`
	Vision           VisionConfig  `yaml:"vision"`
}

func DefaultConfig() Config {
	return Config{
		RequireCamera:    true,
		MinFrameWidth:    32,
		MinFrameHeight:   24,
		FrontSector:      perception.SectorFront,
		MinFrontDistance: 0.3,
		WaitDuration:     500 * time.Millisecond,
		Vision: VisionConfig{
			Calibration:    0.05,
			StopDistance:   0.4,
			WarnDistance:   1.0,
			EvasiveAngular: 0.6,
			Timeout:        30 * time.Millisecond,
		},
	}
}

type Gate struct {
	cfg      Config
	detector Detector

	mu        sync.Mutex
	last      []Detection
	detecting bool
}

func New(cfg Config, detector Detector) *Gate {
	def := DefaultConfig()
	if cfg.FrontSector == "" {
		cfg.FrontSector = def.FrontSector
	}
	if cfg.WaitDuration <= 0 {
		cfg.WaitDuration = def.WaitDuration
	}
	if cfg.Vision.Calibration <= 0 {
		cfg.Vision.Calibration = def.Vision.Calibration
	}
	if cfg.Vision.StopDistance <= 0 {
		cfg.Vision.StopDistance = def.Vision.StopDistance
	}
	if cfg.Vision.WarnDistance < cfg.Vision.StopDistance {
		cfg.Vision.WarnDistance = cfg.Vision.StopDistance
	}
	if cfg.Vision.EvasiveAngular == 0 {
		cfg.Vision.EvasiveAngular = def.Vision.EvasiveAngular
	}
	if cfg.Vision.Timeout <= 0 {
		cfg.Vision.Timeout = def.Vision.Timeout
	}
	return &Gate{cfg: cfg, detector: detector}
}

// Evaluate returns an override action and true, or false when the tick should
// pass to the next tier. Rules are checked in order and the first match wins.
func (g *Gate) Evaluate(snap perception.Snapshot) (action.Action, bool) {
	cameraRequired := g.cfg.RequireCamera && !snap.CameraOptional
	if cameraRequired {
		f := snap.Frame
		if f == nil || f.Width < g.cfg.MinFrameWidth || f.Height < g.cfg.MinFrameHeight || len(f.Pix) < f.Width*f.Height {
			return action.Wait(g.cfg.WaitDuration, "camera frame unavailable"), true
		}
		if f.Blank() {
			return action.Wait(g.cfg.WaitDuration, "camera frame blank"), true
		}
	}
	if d, ok := snap.Distance(g.cfg.FrontSector); ok && d < g.cfg.MinFrontDistance {
		return action.Stop(fmt.Sprintf("obstacle at %.2fm", d)), true
	}
	if snap.Flag(perception.FlagBatteryCritical) {
		return action.Stop("battery critical"), true
	}
	if g.cfg.Vision.Enabled && g.detector != nil && snap.Frame != nil {
		if a, ok := g.visionCheck(snap.Frame); ok {
			return a, true
		}
	}
	return action.Idle(), false
}

func (g *Gate) visionCheck(frame *perception.Frame) (action.Action, bool) {
	dets := g.detect(frame)
	g.mu.Lock()
	g.last = dets
	g.mu.Unlock()
	nearest := math.Inf(1)
	for _, d := range dets {
		area := d.Box.W * d.Box.H
		if area <= 0 {
			continue
		}
		if dist := g.cfg.Vision.Calibration / area; dist < nearest {
			nearest = dist
		}
	}
	switch {
	case nearest < g.cfg.Vision.StopDistance:
		return action.Stop(fmt.Sprintf("vision obstacle at %.2fm", nearest)), true
	case nearest < g.cfg.Vision.WarnDistance:
		return action.Move(0, g.cfg.Vision.EvasiveAngular, "evasive turn"), true
	default:
		return action.Idle(), false
	}
}

// detect runs the detector under the vision timeout. While an abandoned call
// is still running, later ticks skip detection instead of piling up calls.
func (g *Gate) detect(frame *perception.Frame) []Detection {
	g.mu.Lock()
	if g.detecting {
		g.mu.Unlock()
		observability.Default.IncCounter("safety_detector_errors_total", map[string]string{"cause": "busy"}, 1)
		return nil
	}
	g.detecting = true
	g.mu.Unlock()

	done := make(chan []Detection, 1)
	go func() {
		dets := g.runDetector(frame)
		g.mu.Lock()
		g.detecting = false
		g.mu.Unlock()
		done <- dets
	}()

	timer := time.NewTimer(g.cfg.Vision.Timeout)
	defer timer.Stop()
	select {
	case dets := <-done:
		return dets
	case <-timer.C:
		log.Printf("safety: detector exceeded %s, skipping vision check", g.cfg.Vision.Timeout)
		observability.Default.IncCounter("safety_detector_errors_total", map[string]string{"cause": "timeout"}, 1)
		return nil
	}
}

func (g *Gate) runDetector(frame *perception.Frame) (dets []Detection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("safety: detector panic: %v", r)
			observability.Default.IncCounter("safety_detector_errors_total", map[string]string{"cause": "panic"}, 1)
			dets = nil
		}
	}()
	out, err := g.detector.Detect(frame)
	if err != nil {
		observability.Default.IncCounter("safety_detector_errors_total", map[string]string{"cause": "error"}, 1)
		return nil
	}
	return out
}

// LastDetections returns the detections seen by the most recent vision check.
func (g *Gate) LastDetections() []Detection {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Detection, len(g.last))
	copy(out, g.last)
	return out
}
