package perception

import (
	"context"
	"time"
)

const (
	FlagBatteryCritical = "battery_critical"

	SectorFront = "front"
	SectorLeft  = "left"
	SectorRight = "right"
)

// Frame is a raw camera frame. Pix holds one byte per pixel channel sample.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// Snapshot is the perception state for one tick. Any absent field means
// unknown, never an error.
type Snapshot struct {
	Frame     *Frame
	Distances map[string]float64
	Flags     map[string]bool
	// CameraOptional skips the frame checks for callers running without a
	// camera.
	CameraOptional bool
	TakenAt        time.Time
}

func (s Snapshot) Distance(sector string) (float64, bool) {
	if s.Distances == nil {
		return 0, false
	}
	d, ok := s.Distances[sector]
	return d, ok
}

func (s Snapshot) Flag(name string) bool {
	return s.Flags != nil && s.Flags[name]
}

// Blank reports whether every sample in the frame is zero.
func (f *Frame) Blank() bool {
	for _, b := range f.Pix {
		if b != 0 {
			return false
		}
	}
	return true
}

// Source supplies fresh snapshots to the control loop.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Static returns the same snapshot every tick; useful for bench runs without
// sensors.
type Static struct {
	Value Snapshot
}

func (s Static) Snapshot(context.Context) (Snapshot, error) {
	v := s.Value
	v.TakenAt = time.Now()
	return v, nil
}
