// Package pattern implements the deterrence pattern engine (C8): a square
// perimeter centered on a ground target, resolved through the aim transform
// into four absolute mirror positions and handed to the motion controller
// as a fire-and-forget pattern primitive.
//
// Grounded on original_source/Laser/DeterrencePattern.py's corner-then-define
// shape, adapted into the absolute-positions-plus-speed-plus-dwell primitive
// spec.md §4.8 specifies.
package pattern

import (
	"fmt"

	"github.com/corvidguard/turret/internal/aim"
	"github.com/corvidguard/turret/internal/transport"
)

// Config bounds one pattern invocation.
type Config struct {
	SideLength float64 // ground-plane square side, meters
	SpeedMMps  float64
	DwellMs    int
}

// Engine emits pattern_define/pattern_start/pattern_stop primitives over a
// transport client. It does not itself run the perimeter loop or dwell
// timing; the external controller owns that once started.
type Engine struct {
	client *transport.Client
	aim    aim.Params
	active bool
}

// New builds an Engine bound to a transport client and the aim parameters
// used to resolve ground corners to mirror positions.
func New(client *transport.Client, params aim.Params) *Engine {
	return &Engine{client: client, aim: params}
}

// Active reports whether Start has been called without a matching Stop.
func (e *Engine) Active() bool { return e.active }

// corner is one resolved perimeter vertex in command units.
type corner struct{ DX, DY float64 }

// corners computes the four ground-plane square corners centered on
// (targetX, targetZ), counter-clockwise from near-left, and resolves each
// through the aim transform at the given platform roll.
func corners(cfg Config, targetX, targetZ, roll float64, params aim.Params) ([4]corner, error) {
	half := cfg.SideLength / 2
	// near-left, near-right, far-right, far-left: counter-clockwise from near-left.
	groundCorners := [4][2]float64{
		{targetX - half, targetZ - half},
		{targetX + half, targetZ - half},
		{targetX + half, targetZ + half},
		{targetX - half, targetZ + half},
	}

	var out [4]corner
	for i, gc := range groundCorners {
		delta, err := aim.Solve(params, gc[0], gc[1], roll)
		if err != nil {
			return out, fmt.Errorf("pattern: corner %d: %w", i, err)
		}
		out[i] = corner{DX: delta.DX, DY: delta.DY}
	}
	return out, nil
}

// Start computes the square's corners around the given ground target and
// emits pattern_define then pattern_start. Both are fire-and-forget.
func (e *Engine) Start(cfg Config, targetX, targetZ, roll float64) error {
	cs, err := corners(cfg, targetX, targetZ, roll, e.aim)
	if err != nil {
		return err
	}

	define := map[string]any{
		"script": fmt.Sprintf(
			"PATTERN_DEFINE P0=%.4f,%.4f P1=%.4f,%.4f P2=%.4f,%.4f P3=%.4f,%.4f SPEED=%.2f DWELL=%d",
			cs[0].DX, cs[0].DY, cs[1].DX, cs[1].DY, cs[2].DX, cs[2].DY, cs[3].DX, cs[3].DY,
			cfg.SpeedMMps, cfg.DwellMs,
		),
	}
	if err := e.client.SendFireAndForget("printer.gcode.script", define); err != nil {
		return fmt.Errorf("pattern: define failed: %w", err)
	}

	if err := e.client.SendFireAndForget("printer.gcode.script", map[string]any{"script": "PATTERN_START"}); err != nil {
		return fmt.Errorf("pattern: start failed: %w", err)
	}

	e.active = true
	return nil
}

// Stop emits pattern_stop. It is idempotent: calling it when no pattern is
// active still issues the stop primitive (the controller-side state machine
// is expected to no-op), and always clears the local active flag.
func (e *Engine) Stop() error {
	err := e.client.SendFireAndForget("printer.gcode.script", map[string]any{"script": "PATTERN_STOP"})
	e.active = false
	if err != nil {
		return fmt.Errorf("pattern: stop failed: %w", err)
	}
	return nil
}

// CornerZero returns the first corner's resolved delta, used by C9 to aim
// the mirrors at the pattern's starting position before the pattern itself
// takes over timing.
func CornerZero(cfg Config, targetX, targetZ, roll float64, params aim.Params) (aim.Delta, error) {
	cs, err := corners(cfg, targetX, targetZ, roll, params)
	if err != nil {
		return aim.Delta{}, err
	}
	return aim.Delta{DX: cs[0].DX, DY: cs[0].DY}, nil
}
