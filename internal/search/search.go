// Package search implements the deterministic bouncing sweep used while no
// bird is being tracked.
//
// Grounded on original_source/Behavior/Search_v2.py's SearchController, but
// adapted from that file's time-based (velocity * dt) sweep into the
// fixed-step-per-tick form spec.md §4.6 specifies, so the main loop drives
// it once per tick rather than by wall-clock elapsed time.
package search

// Config bounds and steps the sweep.
type Config struct {
	MinZ, MaxZ float64
	StartZ     float64
	Step       float64
	Direction  int // +1 or -1
}

// Controller is a pure triangle-wave state machine over one axis.
type Controller struct {
	cfg       Config
	current   float64
	direction int
}

// New builds a Controller seeded at cfg.StartZ, clamped into [MinZ, MaxZ].
func New(cfg Config) *Controller {
	start := cfg.StartZ
	if start < cfg.MinZ {
		start = cfg.MinZ
	}
	if start > cfg.MaxZ {
		start = cfg.MaxZ
	}
	direction := cfg.Direction
	if direction != 1 && direction != -1 {
		direction = 1
	}
	return &Controller{cfg: cfg, current: start, direction: direction}
}

// Reset returns the sweep to its configured start position and direction.
func (c *Controller) Reset() {
	c.current = c.cfg.StartZ
	c.direction = c.cfg.Direction
	if c.direction != 1 && c.direction != -1 {
		c.direction = 1
	}
}

// Result is one tick's output: the delta to apply and the resulting absolute position.
type Result struct {
	Delta      float64
	AbsoluteZ  float64
}

// Update advances the sweep by one step, bouncing off either bound, and
// returns the delta plus the resulting absolute position. current is always
// left in [MinZ, MaxZ].
func (c *Controller) Update() Result {
	proposed := c.current + float64(c.direction)*c.cfg.Step

	switch {
	case proposed >= c.cfg.MaxZ:
		proposed = c.cfg.MaxZ
		c.direction = -1
	case proposed <= c.cfg.MinZ:
		proposed = c.cfg.MinZ
		c.direction = 1
	}

	delta := proposed - c.current
	c.current = proposed
	return Result{Delta: delta, AbsoluteZ: c.current}
}

// Current returns the sweep's current absolute position.
func (c *Controller) Current() float64 { return c.current }
