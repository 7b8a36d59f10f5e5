package safety

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
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

// scriptRecorder records every gcode script sent over the motion socket.
type scriptRecorder struct {
	mu      sync.Mutex
	scripts []string
}

func (r *scriptRecorder) handler(w http.ResponseWriter, req *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		var msg struct {
			ID     *uint64 `json:"id"`
			Params struct {
				Script string `json:"script"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		r.mu.Lock()
		r.scripts = append(r.scripts, msg.Params.Script)
		r.mu.Unlock()
		if msg.ID != nil {
			conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": *msg.ID, "result": "ok"})
		}
	}
}

func (r *scriptRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scripts...)
}

func (r *scriptRecorder) countContaining(substr string) int {
	n := 0
	for _, s := range r.snapshot() {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

type harness struct {
	machine *Machine
	scripts *scriptRecorder
	laserOn func() bool
	client  *transport.Client
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	rec := &scriptRecorder{}
	motionSrv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(motionSrv.Close)

	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	client := transport.New("ws"+strings.TrimPrefix(motionSrv.URL, "http"), logrus.NewEntry(l))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	streamer := motion.New(motion.Config{
		Limits:         motion.Limits{XMin: -10, XMax: 10, YMin: -10, YMax: 10, ZMin: 0, ZMax: 20},
		FeedrateTravel: 5000, FeedrateZ: 1500,
	}, client, logrus.NewEntry(l))

	dm, err := distance.Load([]distance.Point{
		{Row: 420, Distance: 2.5}, {Row: 50, Distance: 20},
	})
	if err != nil {
		t.Fatalf("distance.Load: %v", err)
	}

	searchC := search.New(search.Config{MinZ: 0, MaxZ: 20, StartZ: 10, Step: 1, Direction: 1})
	trackerC := tracking.New(tracking.Config{
		FrameWidth: 640, DeadzonePx: 30, KP: 0.05,
		StepMaxMM: 3.0, StepMinMM: 0.01, ConfGate: 0.7, LostThreshold: 3,
	})

	aimParams := aim.Params{LaserHeightM: 1.4, ScaleX: 1, ScaleY: 1, SignX: 1, SignY: 1}
	patternE := pattern.New(client, aimParams)

	var laserMu sync.Mutex
	laserOn := false
	laserSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		laserMu.Lock()
		defer laserMu.Unlock()
		switch r.URL.Path {
		case "/on":
			laserOn = true
		case "/off":
			laserOn = false
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(laserSrv.Close)
	laserA := laser.New(laser.Config{BaseURL: laserSrv.URL, Timeout: time.Second}, logrus.NewEntry(l))

	cfg.AimParams = aimParams
	machine := New(cfg, client, dm, streamer, searchC, trackerC, patternE, laserA, logrus.NewEntry(l))
	machine.EnterSearchFromInit()

	return &harness{
		machine: machine,
		scripts: rec,
		laserOn: func() bool { laserMu.Lock(); defer laserMu.Unlock(); return laserOn },
		client:  client,
	}
}

func baseCfg() Config {
	return Config{
		NConfirm: 3, NLost: 3, ConfGate: 0.7, HumanConfGate: 0.5,
		DMin: 1, DMax: 12,
		DebounceWindow:      10 * time.Millisecond,
		RecenterThresholdPx: 50,
		PatternCycle:        10 * time.Millisecond,
		Pattern:             pattern.Config{SideLength: 0.6, SpeedMMps: 40, DwellMs: 10},
		SearchReset:         true,
	}
}

func birdDetection(centerX, centerY, conf float64) vision.Detection {
	return vision.Detection{
		HasTarget: true, Class: vision.ClassBird, Confidence: conf,
		CenterX: centerX, CenterY: centerY,
		BBox: vision.BoundingBox{X1: centerX - 5, Y1: centerY - 5, X2: centerX + 5, Y2: centerY + 5},
		HasBBox: true,
	}
}

func humanDetection(conf float64) vision.Detection {
	return vision.Detection{HasTarget: true, Class: vision.ClassHuman, Confidence: conf}
}

func TestSearchToTrack_RequiresNConfirmConsecutiveHits(t *testing.T) {
	h := newHarness(t, baseCfg())
	now := time.Now()

	for i := 0; i < 2; i++ {
		if err := h.machine.Tick(now, birdDetection(320, 240, 0.9), 0); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if h.machine.Mode() != ModeSearch {
		t.Fatalf("expected to still be in SEARCH after 2/3 confirms, got %v", h.machine.Mode())
	}

	if err := h.machine.Tick(now, birdDetection(320, 240, 0.9), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.machine.Mode() != ModeTrack {
		t.Fatalf("expected SEARCH -> TRACK on the 3rd confirm, got %v", h.machine.Mode())
	}
	waitUntil(t, func() bool { return h.scripts.countContaining("M400") == 1 })
}

func TestSearchToTrack_ResetsConfirmCountOnMiss(t *testing.T) {
	h := newHarness(t, baseCfg())
	now := time.Now()

	h.machine.Tick(now, birdDetection(320, 240, 0.9), 0)
	h.machine.Tick(now, birdDetection(320, 240, 0.9), 0)
	h.machine.Tick(now, vision.Detection{}, 0) // miss resets the counter
	h.machine.Tick(now, birdDetection(320, 240, 0.9), 0)
	h.machine.Tick(now, birdDetection(320, 240, 0.9), 0)

	if h.machine.Mode() != ModeSearch {
		t.Fatalf("expected to remain in SEARCH after an interrupted confirm streak, got %v", h.machine.Mode())
	}
}

func TestTrackToDeterring_LockedCloseTargetStartsPatternAndLaser(t *testing.T) {
	h := newHarness(t, baseCfg())
	now := time.Now()

	for i := 0; i < 3; i++ {
		h.machine.Tick(now, birdDetection(320, 240, 0.9), 0)
	}
	if h.machine.Mode() != ModeTrack {
		t.Fatalf("setup: expected TRACK, got %v", h.machine.Mode())
	}

	// Centered within the deadzone at a close row (high Y2 -> near distance).
	nearby := vision.Detection{
		HasTarget: true, Class: vision.ClassBird, Confidence: 0.9,
		CenterX: 320, CenterY: 240,
		BBox: vision.BoundingBox{X1: 315, Y1: 395, X2: 325, Y2: 405},
		HasBBox: true,
	}
	if err := h.machine.Tick(now, nearby, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.machine.Mode() != ModeDeterring {
		t.Fatalf("expected TRACK -> DETERRING, got %v", h.machine.Mode())
	}
	waitUntil(t, func() bool { return h.scripts.countContaining("PATTERN_DEFINE") == 1 })
	waitUntil(t, func() bool { return h.scripts.countContaining("PATTERN_START") == 1 })
	waitUntil(t, h.laserOn)
}

func TestDeterringToTrack_RequiresDebounceCycleAndRecenter(t *testing.T) {
	h := newHarness(t, baseCfg())
	now := time.Now()

	for i := 0; i < 3; i++ {
		h.machine.Tick(now, birdDetection(320, 240, 0.9), 0)
	}
	nearby := vision.Detection{
		HasTarget: true, Class: vision.ClassBird, Confidence: 0.9,
		CenterX: 320, CenterY: 240,
		BBox: vision.BoundingBox{X1: 315, Y1: 395, X2: 325, Y2: 405},
		HasBBox: true,
	}
	h.machine.Tick(now, nearby, 0)
	if h.machine.Mode() != ModeDeterring {
		t.Fatalf("setup: expected DETERRING, got %v", h.machine.Mode())
	}
	waitUntil(t, h.laserOn)

	// Before the debounce window / pattern cycle elapse and before the bird
	// has drifted off-center, DETERRING should hold even on later ticks.
	stillCentered := birdDetection(320, 240, 0.9)
	h.machine.Tick(now, stillCentered, 0)
	if h.machine.Mode() != ModeDeterring {
		t.Fatalf("expected to remain in DETERRING before recentering, got %v", h.machine.Mode())
	}

	time.Sleep(15 * time.Millisecond) // clear DebounceWindow and PatternCycle
	driftedOff := birdDetection(600, 240, 0.9)
	if err := h.machine.Tick(time.Now(), driftedOff, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.machine.Mode() != ModeTrack {
		t.Fatalf("expected DETERRING -> TRACK once debounced, cycled, and recentered, got %v", h.machine.Mode())
	}
	waitUntil(t, func() bool { return !h.laserOn() })
}

func TestHumanDetection_PreemptsFromAnyMode(t *testing.T) {
	h := newHarness(t, baseCfg())
	now := time.Now()

	for i := 0; i < 3; i++ {
		h.machine.Tick(now, birdDetection(320, 240, 0.9), 0)
	}
	if h.machine.Mode() != ModeTrack {
		t.Fatalf("setup: expected TRACK, got %v", h.machine.Mode())
	}

	if err := h.machine.Tick(now, humanDetection(0.95), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.machine.Mode() != ModeSafe {
		t.Fatalf("expected preemption into SAFE, got %v", h.machine.Mode())
	}
	waitUntil(t, func() bool { return !h.laserOn() })
}

func TestHumanDetection_ExitsSafeOnceClear(t *testing.T) {
	h := newHarness(t, baseCfg())
	now := time.Now()

	h.machine.Tick(now, humanDetection(0.95), 0)
	if h.machine.Mode() != ModeSafe {
		t.Fatalf("setup: expected SAFE, got %v", h.machine.Mode())
	}

	if err := h.machine.Tick(now.Add(time.Millisecond), vision.Detection{}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.machine.Mode() != ModeSearch {
		t.Fatalf("expected SAFE -> SEARCH once no human is detected, got %v", h.machine.Mode())
	}
}

func TestShutdown_StopsPatternKillsLaserAndSeeksNeutral(t *testing.T) {
	h := newHarness(t, baseCfg())
	now := time.Now()
	for i := 0; i < 3; i++ {
		h.machine.Tick(now, birdDetection(320, 240, 0.9), 0)
	}
	nearby := vision.Detection{
		HasTarget: true, Class: vision.ClassBird, Confidence: 0.9,
		CenterX: 320, CenterY: 240,
		BBox: vision.BoundingBox{X1: 315, Y1: 395, X2: 325, Y2: 405},
		HasBBox: true,
	}
	h.machine.Tick(now, nearby, 0)
	waitUntil(t, h.laserOn)

	if err := h.machine.Shutdown(5, 5, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.machine.Mode() != ModeShutdown {
		t.Errorf("expected mode SHUTDOWN, got %v", h.machine.Mode())
	}
	if h.laserOn() {
		t.Errorf("expected the laser to be off after Shutdown")
	}
	waitUntil(t, func() bool { return h.scripts.countContaining("PATTERN_STOP") >= 1 })
}
