// Package safety implements the SEARCH/TRACK/DETERRING/SAFE/INIT/SHUTDOWN
// state machine (C9): the sole arbiter of who owns motion (C4 vs C8) and
// when the laser may fire.
//
// Grounded on Valkyrie/internal/failsafe/emergency.go's health/mode/
// procedure shape (mutex-guarded struct, mode as a small int enum with a
// String method, logrus-backed transition logging), replacing flight
// emergencies with the bird-deterrence transitions spec.md §4.9 specifies.
package safety

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corvidguard/turret/internal/aim"
	"github.com/corvidguard/turret/internal/distance"
	"github.com/corvidguard/turret/internal/laser"
	"github.com/corvidguard/turret/internal/motion"
	"github.com/corvidguard/turret/internal/pattern"
	"github.com/corvidguard/turret/internal/search"
	"github.com/corvidguard/turret/internal/tracking"
	"github.com/corvidguard/turret/internal/transport"
	"github.com/corvidguard/turret/internal/vision"
)

// Mode is the system's current top-level state.
type Mode int

const (
	ModeInit Mode = iota
	ModeSearch
	ModeTrack
	ModeDeterring
	ModeSafe
	ModeShutdown
)

func (m Mode) String() string {
	switch m {
	case ModeInit:
		return "INIT"
	case ModeSearch:
		return "SEARCH"
	case ModeTrack:
		return "TRACK"
	case ModeDeterring:
		return "DETERRING"
	case ModeSafe:
		return "SAFE"
	case ModeShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Config bundles every tunable the state machine consults.
type Config struct {
	NConfirm            int
	NLost               int
	ConfGate            float64
	HumanConfGate       float64
	DMin, DMax          float64
	DebounceWindow      time.Duration
	RecenterThresholdPx float64
	PatternCycle        time.Duration // estimated wall-clock time for one perimeter loop
	Pattern             pattern.Config
	AimParams           aim.Params
	SearchReset         bool // reset search direction/position on TRACK->SEARCH
}

// Machine owns mode, the confirm/lost hysteresis counters, and ownership
// handoff between the search/tracking streamer path and the pattern engine.
type Machine struct {
	cfg Config

	client   *transport.Client
	distance *distance.Model
	streamer *motion.Streamer
	search   *search.Controller
	tracker  *tracking.Controller
	patternE *pattern.Engine
	laserA   *laser.Actuator
	logger   *logrus.Entry

	mode          Mode
	confirmCount  int
	patternSince  time.Time
	debounceUntil time.Time
	humanLatched  bool
}

// New builds a Machine wired to every component it arbitrates between.
func New(cfg Config, client *transport.Client, dm *distance.Model, streamer *motion.Streamer,
	searchC *search.Controller, trackerC *tracking.Controller, patternE *pattern.Engine,
	laserA *laser.Actuator, logger *logrus.Entry) *Machine {
	return &Machine{
		cfg: cfg, client: client, distance: dm, streamer: streamer,
		search: searchC, tracker: trackerC, patternE: patternE, laserA: laserA,
		logger: logger, mode: ModeInit,
	}
}

// Mode reports the current top-level state.
func (m *Machine) Mode() Mode { return m.mode }

// EnterSearchFromInit transitions INIT -> SEARCH. Call only after homing and
// the blocking neutral-seat move have completed.
func (m *Machine) EnterSearchFromInit() {
	m.mode = ModeSearch
	m.logger.Info("INIT -> SEARCH")
}

// Tick runs one iteration of the state machine against the latest
// detection and platform roll, driving C4/C6/C7/C8 as appropriate.
func (m *Machine) Tick(now time.Time, det vision.Detection, roll float64) error {
	if det.HasTarget && det.Class == vision.ClassHuman && det.Confidence >= m.cfg.HumanConfGate {
		return m.enterSafe(now)
	}

	if m.humanLatched {
		// Laser stays disabled until a full tick shows no human.
		m.humanLatched = false
	}

	switch m.mode {
	case ModeSearch:
		return m.tickSearch(now, det)
	case ModeTrack:
		return m.tickTrack(now, det, roll)
	case ModeDeterring:
		return m.tickDeterring(now, det)
	case ModeSafe:
		return m.tickSafe(now)
	default:
		return nil
	}
}

func (m *Machine) tickSearch(now time.Time, det vision.Detection) error {
	if det.HasTarget && det.Class == vision.ClassBird && det.Confidence >= m.cfg.ConfGate {
		m.confirmCount++
	} else {
		m.confirmCount = 0
	}

	if m.confirmCount >= m.cfg.NConfirm {
		if err := m.client.SendFireAndForget("printer.gcode.script", map[string]any{"script": "M400"}); err != nil {
			m.logger.WithError(err).Warn("finish-pending-moves primitive failed on SEARCH->TRACK entry")
		}
		m.tracker.Reset()
		m.confirmCount = 0
		m.mode = ModeTrack
		m.logger.WithField("track_id", m.tracker.TrackID()).Info("SEARCH -> TRACK")
		return nil
	}

	result := m.search.Update()
	z := result.AbsoluteZ
	m.streamer.SetIntent(nil, nil, &z)
	return nil
}

func (m *Machine) tickTrack(now time.Time, det vision.Detection, roll float64) error {
	var center *[2]float64
	conf := 0.0
	if det.HasTarget {
		c := [2]float64{det.CenterX, det.CenterY}
		center = &c
		conf = det.Confidence
	}

	result := m.tracker.Update(center, conf)

	if m.tracker.IsTargetLost() {
		if err := m.patternE.Stop(); err != nil {
			m.logger.WithError(err).Warn("pattern stop failed on TRACK->SEARCH")
		}
		if err := m.laserA.Off(); err != nil {
			m.logger.WithError(err).Warn("laser off failed on TRACK->SEARCH")
		}
		m.confirmCount = 0
		if m.cfg.SearchReset {
			m.search.Reset()
		}
		m.mode = ModeSearch
		m.logger.Info("TRACK -> SEARCH: target lost")
		return nil
	}

	if result.ShouldMove {
		current, _ := m.streamer.LastCommandedZ()
		z := current + result.Delta
		m.streamer.SetIntent(nil, nil, &z)
		return nil
	}

	if !result.TargetLocked {
		return nil
	}

	// Centered within deadzone this tick: evaluate distance gate.
	dist := m.distance.DistanceOf(det.BBox.Y2)
	if dist < m.cfg.DMin || dist > m.cfg.DMax {
		return nil
	}

	delta, err := pattern.CornerZero(m.cfg.Pattern, 0, dist, roll, m.cfg.AimParams)
	if err != nil {
		return fmt.Errorf("safety: corner-zero aim failed: %w", err)
	}
	// Never block the steady-state tick on an RPC round trip: set intent and
	// let the rate-gated streamer.Update stream it on the next tick.
	m.streamer.SetIntent(&delta.DX, &delta.DY, nil)

	if err := m.laserA.On(); err != nil {
		m.logger.WithError(err).Warn("laser on failed")
	}
	if err := m.patternE.Start(m.cfg.Pattern, 0, dist, roll); err != nil {
		m.logger.WithError(err).Warn("pattern start failed, reverting to SEARCH")
		m.laserA.Off()
		m.mode = ModeSearch
		return nil
	}

	m.patternSince = now
	m.debounceUntil = now.Add(m.cfg.DebounceWindow)
	m.mode = ModeDeterring
	m.logger.Info("TRACK -> DETERRING")
	return nil
}

func (m *Machine) tickDeterring(now time.Time, det vision.Detection) error {
	var center *[2]float64
	conf := 0.0
	if det.HasTarget {
		c := [2]float64{det.CenterX, det.CenterY}
		center = &c
		conf = det.Confidence
	}
	result := m.tracker.Update(center, conf)

	cycleComplete := now.Sub(m.patternSince) >= m.cfg.PatternCycle
	debounceExpired := now.After(m.debounceUntil)
	recentered := math.Abs(result.ErrorPx) > m.cfg.RecenterThresholdPx

	if debounceExpired && cycleComplete && recentered {
		if err := m.patternE.Stop(); err != nil {
			m.logger.WithError(err).Warn("pattern stop failed on DETERRING->TRACK")
		}
		if err := m.laserA.Off(); err != nil {
			m.logger.WithError(err).Warn("laser off failed on DETERRING->TRACK")
		}
		m.mode = ModeTrack
		m.logger.Info("DETERRING -> TRACK")
	}
	return nil
}

func (m *Machine) enterSafe(now time.Time) error {
	if m.mode == ModeSafe {
		// Human still in frame: keep the sweep running while SAFE.
		return m.tickSafe(now)
	}
	if m.patternE.Active() {
		if err := m.patternE.Stop(); err != nil {
			m.logger.WithError(err).Warn("pattern stop failed entering SAFE")
		}
	}
	if err := m.laserA.Off(); err != nil {
		m.logger.WithError(err).Warn("laser off failed entering SAFE")
	}
	m.confirmCount = 0
	m.humanLatched = true
	m.mode = ModeSafe
	m.logger.Warn("-> SAFE: human detected")
	return nil
}

func (m *Machine) tickSafe(now time.Time) error {
	// Sweep continues so the turret doesn't freeze while a person is present.
	result := m.search.Update()
	z := result.AbsoluteZ
	m.streamer.SetIntent(nil, nil, &z)

	if !m.humanLatched {
		m.mode = ModeSearch
		m.logger.Info("SAFE -> SEARCH")
	}
	return nil
}

// Shutdown stops any pattern, kills the laser, and returns the mirrors to
// neutral via a blocking absolute move. Call once on external signal.
func (m *Machine) Shutdown(neutralX, neutralY float64, timeout time.Duration) error {
	m.mode = ModeShutdown
	if m.patternE.Active() {
		if err := m.patternE.Stop(); err != nil {
			m.logger.WithError(err).Warn("pattern stop failed during shutdown")
		}
	}
	if err := m.laserA.Off(); err != nil {
		m.logger.WithError(err).Warn("laser off failed during shutdown")
	}
	if err := m.streamer.MoveAbsoluteBlocking(context.Background(), &neutralX, &neutralY, nil, timeout); err != nil {
		return fmt.Errorf("safety: shutdown neutral move failed: %w", err)
	}
	return nil
}
