// Package reflex holds the fast per-tick decision source.
package reflex

import (
	"context"
	"fmt"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/perception"
)

// Cruise drives forward while the watched sector is clear and turns in place
// toward the more open side otherwise.
type Cruise struct {
	Sector    string
	Clearance float64
	Speed     float64
	TurnRate  float64
}

func NewCruise() *Cruise {
	return &Cruise{Sector: perception.SectorFront, Clearance: 0.8, Speed: 0.25, TurnRate: 0.6}
}

func (c *Cruise) Decide(ctx context.Context, snap perception.Snapshot) (action.Action, bool, error) {
	if err := ctx.Err(); err != nil {
		return action.Action{}, false, err
	}
	sector := c.Sector
	if sector == "" {
		sector = perception.SectorFront
	}
	front, ok := snap.Distance(sector)
	if !ok {
		return action.Idle(), false, nil
	}
	if front >= c.Clearance {
		return action.Move(c.Speed, 0, fmt.Sprintf("clear %.2fm", front)), true, nil
	}
	rate := c.TurnRate
	left, lok := snap.Distance(perception.SectorLeft)
	right, rok := snap.Distance(perception.SectorRight)
	// Positive angular turns left.
	if rok && (!lok || right > left) {
		rate = -rate
	}
	return action.Move(0, rate, fmt.Sprintf("blocked %.2fm, turning", front)), true, nil
}
