// Package tracking implements the proportional pixel-error corrector that
// re-centers a detected bird, with deadzone filtering and lost-frame
// hysteresis.
//
// Grounded on original_source/Behavior/TrackingController.py, kept
// deliberately close to its shape (same field names translated to Go,
// same deadzone/clamp/min-step order of operations) per spec.md §4.7. The
// per-session track ID is grounded on internal/orbital/tracking/tracker.go's
// Track.ID, which tags every tracked object the same way.
package tracking

import "github.com/google/uuid"

// Config bounds the corrector.
type Config struct {
	FrameWidth    int
	DeadzonePx    float64
	KP            float64
	StepMaxMM     float64
	StepMinMM     float64
	ConfGate      float64
	LostThreshold int
}

// Result is one tick's tracking decision.
type Result struct {
	ShouldMove   bool
	Delta        float64
	ErrorPx      float64
	TargetLocked bool
}

// Controller holds the hysteresis counter across ticks.
type Controller struct {
	cfg                 Config
	centerX             float64
	framesWithoutTarget int
	trackID             uuid.UUID
}

// New builds a Controller for the given config.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, centerX: float64(cfg.FrameWidth) / 2, trackID: uuid.New()}
}

// Reset clears the lost-frame counter and mints a new track ID, e.g. on
// SEARCH->TRACK entry. Log lines tagged with the old and new IDs let an
// operator tell two separate lock-on episodes apart in the turret's logs.
func (c *Controller) Reset() {
	c.framesWithoutTarget = 0
	c.trackID = uuid.New()
}

// TrackID identifies the current lock-on episode, minted fresh each Reset.
func (c *Controller) TrackID() uuid.UUID {
	return c.trackID
}

// Update computes this tick's correction from the detected bbox center (if
// any) and its confidence.
func (c *Controller) Update(center *[2]float64, confidence float64) Result {
	if center == nil || confidence < c.cfg.ConfGate {
		c.framesWithoutTarget++
		return Result{}
	}

	c.framesWithoutTarget = 0
	errorPx := center[0] - c.centerX

	if absf(errorPx) < c.cfg.DeadzonePx {
		return Result{ErrorPx: errorPx, TargetLocked: true}
	}

	delta := clamp(c.cfg.KP*errorPx, -c.cfg.StepMaxMM, c.cfg.StepMaxMM)
	if absf(delta) < c.cfg.StepMinMM {
		return Result{ErrorPx: errorPx, TargetLocked: true}
	}

	return Result{ShouldMove: true, Delta: delta, ErrorPx: errorPx, TargetLocked: true}
}

// IsTargetLost reports whether the target has been absent long enough to
// fall back to SEARCH.
func (c *Controller) IsTargetLost() bool {
	return c.framesWithoutTarget >= c.cfg.LostThreshold
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
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
