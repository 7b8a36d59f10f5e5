// Package motion implements the rate-limited, clamped motion streamer (C4):
// the sole mutator of last-sent axis targets and the last commanded Z seed.
//
// Grounded on original_source/Motion/MotionController.py (intent/last-sent
// split, clamp-then-emit, single lock held for the whole update) and
// original_source/Motion/Move.py (relative Z stepping via a dedicated
// macro versus a blocking G91/M400/G90 sequence), adapted to the rate-gated,
// absolute-X/Y-plus-relative-Z shape spec.md §4.4 specifies.
package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corvidguard/turret/internal/transport"
)

// Limits bounds each axis in command units.
type Limits struct {
	XMin, XMax float64
	YMin, YMax float64
	ZMin, ZMax float64
}

// Config bundles everything the streamer needs besides the transport client.
type Config struct {
	Limits           Limits
	RateHz           float64
	ZDeadband        float64
	FeedrateTravel   int
	FeedrateZ        int
	AngularVelocityX float64 // degrees/sec; not read by the streamer: X/Y moves use FeedrateTravel
	AngularVelocityY float64 // degrees/sec; not read by the streamer
}

// Intent is the latest absolute target per axis; nil means "no opinion".
type Intent struct {
	X, Y, Z *float64
}

// Streamer owns MotionState: last-sent per axis and last-commanded-Z.
type Streamer struct {
	cfg    Config
	client *transport.Client
	logger *logrus.Entry

	mu sync.Mutex

	intent Intent

	lastSentX, lastSentY *float64
	lastCommandedZ       *float64

	lastSendInstant time.Time
}

// New builds a Streamer bound to a dialed transport client.
func New(cfg Config, client *transport.Client, logger *logrus.Entry) *Streamer {
	return &Streamer{cfg: cfg, client: client, logger: logger}
}

// SetIntent overwrites the given axes' targets; nil leaves an axis unchanged.
func (s *Streamer) SetIntent(x, y, z *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x != nil {
		s.intent.X = x
	}
	if y != nil {
		s.intent.Y = y
	}
	if z != nil {
		s.intent.Z = z
	}
}

// LastCommandedZ reports the absolute Z position implied by every delta
// streamed so far, or (0, false) if no seed has been established yet.
func (s *Streamer) LastCommandedZ() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCommandedZ == nil {
		return 0, false
	}
	return *s.lastCommandedZ, true
}

// Update runs one tick of the streamer under its lock. It is a no-op if the
// send-rate gate hasn't elapsed, or if nothing changed enough to emit.
func (s *Streamer) Update(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.RateHz > 0 && !s.lastSendInstant.IsZero() {
		minInterval := time.Duration(float64(time.Second) / s.cfg.RateHz)
		if now.Sub(s.lastSendInstant) < minInterval {
			return nil
		}
	}

	var deltaZ float64
	haveDeltaZ := false
	if s.intent.Z != nil {
		clampedZ := clamp(*s.intent.Z, s.cfg.Limits.ZMin, s.cfg.Limits.ZMax)
		if s.lastCommandedZ == nil {
			haveDeltaZ = false // no-op: nothing to seed a relative step from
		} else {
			d := clampedZ - *s.lastCommandedZ
			if absf(d) > s.cfg.ZDeadband {
				deltaZ = d
				haveDeltaZ = true
			}
		}
	}

	moveX, moveY := false, false
	var clampedX, clampedY float64
	if s.intent.X != nil {
		clampedX = clamp(*s.intent.X, s.cfg.Limits.XMin, s.cfg.Limits.XMax)
		if s.lastSentX == nil || *s.lastSentX != clampedX {
			moveX = true
		}
	}
	if s.intent.Y != nil {
		clampedY = clamp(*s.intent.Y, s.cfg.Limits.YMin, s.cfg.Limits.YMax)
		if s.lastSentY == nil || *s.lastSentY != clampedY {
			moveY = true
		}
	}

	if !haveDeltaZ && !moveX && !moveY {
		return nil
	}

	if haveDeltaZ {
		script := fmt.Sprintf("Move x=%.4f y=%.4f", 0.0, deltaZ)
		if err := s.client.SendFireAndForget("printer.gcode.script", map[string]string{"script": script}); err != nil {
			s.logger.WithError(err).Warn("relative Z stream emit failed, will retry next tick")
		} else {
			z := *s.lastCommandedZ + deltaZ
			s.lastCommandedZ = &z
		}
	}

	if moveX || moveY {
		script := "G90\nG0"
		if moveX {
			script += fmt.Sprintf(" X%.4f", clampedX)
		}
		if moveY {
			script += fmt.Sprintf(" Y%.4f", clampedY)
		}
		script += fmt.Sprintf(" F%d", s.cfg.FeedrateTravel)

		if err := s.client.SendFireAndForget("printer.gcode.script", map[string]string{"script": script}); err != nil {
			s.logger.WithError(err).Warn("absolute X/Y emit failed, will retry next tick")
		} else {
			if moveX {
				x := clampedX
				s.lastSentX = &x
			}
			if moveY {
				y := clampedY
				s.lastSentY = &y
			}
		}
	}

	s.lastSendInstant = now
	return nil
}

// MoveAbsoluteBlocking issues a single absolute positioning call covering
// every non-nil target and blocks for the controller's response. On success
// it seeds last-sent and last-commanded-Z. Used only in INIT/SHUTDOWN.
func (s *Streamer) MoveAbsoluteBlocking(ctx context.Context, x, y, z *float64, timeout time.Duration) error {
	s.mu.Lock()
	script := "G90\nG0"
	var cx, cy, cz float64
	if x != nil {
		cx = clamp(*x, s.cfg.Limits.XMin, s.cfg.Limits.XMax)
		script += fmt.Sprintf(" X%.4f", cx)
	}
	if y != nil {
		cy = clamp(*y, s.cfg.Limits.YMin, s.cfg.Limits.YMax)
		script += fmt.Sprintf(" Y%.4f", cy)
	}
	if z != nil {
		cz = clamp(*z, s.cfg.Limits.ZMin, s.cfg.Limits.ZMax)
		script += fmt.Sprintf(" Z%.4f", cz)
	}
	script += fmt.Sprintf(" F%d", s.cfg.FeedrateTravel)
	s.mu.Unlock()

	if _, err := s.client.Call(ctx, "printer.gcode.script", map[string]string{"script": script}, timeout); err != nil {
		return fmt.Errorf("motion: blocking absolute move failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if x != nil {
		v := cx
		s.lastSentX = &v
	}
	if y != nil {
		v := cy
		s.lastSentY = &v
	}
	if z != nil {
		v := cz
		s.lastCommandedZ = &v
	}
	return nil
}

// HomeBlocking issues G28 and blocks for the controller's acknowledgement.
// Must complete before any other move is trusted; the galvos are otherwise
// unreferenced. Used only in INIT.
func (s *Streamer) HomeBlocking(ctx context.Context, timeout time.Duration) error {
	if _, err := s.client.Call(ctx, "printer.gcode.script", map[string]string{"script": "G28"}, timeout); err != nil {
		return fmt.Errorf("motion: home failed: %w", err)
	}
	return nil
}

// MoveZRelativeBlocking issues a relative Z step wrapped with a
// wait-for-moves-to-finish barrier and blocks for acknowledgement. On
// success it updates last-commanded-Z. Used only in INIT/SHUTDOWN.
func (s *Streamer) MoveZRelativeBlocking(ctx context.Context, dz float64, timeout time.Duration) error {
	script := fmt.Sprintf("G91\nG0 Z%.4f F%d\nM400\nG90", dz, s.cfg.FeedrateZ)
	if _, err := s.client.Call(ctx, "printer.gcode.script", map[string]string{"script": script}, timeout); err != nil {
		return fmt.Errorf("motion: blocking relative Z move failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCommandedZ == nil {
		v := dz
		s.lastCommandedZ = &v
	} else {
		v := *s.lastCommandedZ + dz
		s.lastCommandedZ = &v
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
