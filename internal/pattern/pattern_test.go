package pattern

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
	"github.com/corvidguard/turret/internal/transport"
)

func testAimParams() aim.Params {
	return aim.Params{LaserHeightM: 1.4, ScaleX: 1, ScaleY: 1, SignX: 1, SignY: 1}
}

func TestCornerZero_RejectsNonPositiveForwardDistance(t *testing.T) {
	cfg := Config{SideLength: 0.6, SpeedMMps: 40, DwellMs: 300}
	if _, err := CornerZero(cfg, 0, 0, 0, testAimParams()); err == nil {
		t.Fatal("expected an error when the square's near edge sits at z<=0")
	}
}

func TestCornerZero_ReturnsNearLeftCorner(t *testing.T) {
	cfg := Config{SideLength: 1.0, SpeedMMps: 40, DwellMs: 300}
	delta, err := CornerZero(cfg, 0, 10, 0, testAimParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := aim.Solve(testAimParams(), -0.5, 9.5, 0)
	if err != nil {
		t.Fatalf("unexpected error computing expected delta: %v", err)
	}
	if delta != want {
		t.Errorf("CornerZero = %+v, want %+v", delta, want)
	}
}

type recordingServer struct {
	mu      sync.Mutex
	scripts []string
}

func (r *recordingServer) handler(w http.ResponseWriter, req *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		var msg struct {
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
	}
}

func (r *recordingServer) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scripts...)
}

func dialedClient(t *testing.T, srv *httptest.Server) *transport.Client {
	t.Helper()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	c := transport.New("ws"+strings.TrimPrefix(srv.URL, "http"), logrus.NewEntry(l))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Dial(ctx); err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func waitForCount(t *testing.T, rec *recordingServer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least %d emitted scripts, got %d", n, len(rec.snapshot()))
}

func TestStart_EmitsDefineThenStart(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()
	client := dialedClient(t, srv)
	defer client.Close()

	e := New(client, testAimParams())
	cfg := Config{SideLength: 0.6, SpeedMMps: 40, DwellMs: 300}
	if err := e.Start(cfg, 0, 10, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForCount(t, rec, 2)

	scripts := rec.snapshot()
	if !strings.HasPrefix(scripts[0], "PATTERN_DEFINE") {
		t.Errorf("expected first script to define the pattern, got %q", scripts[0])
	}
	if scripts[1] != "PATTERN_START" {
		t.Errorf("expected second script to be PATTERN_START, got %q", scripts[1])
	}
	if !e.Active() {
		t.Errorf("expected the engine to report active after Start")
	}
}

func TestStop_IsIdempotentAndClearsActive(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()
	client := dialedClient(t, srv)
	defer client.Close()

	e := New(client, testAimParams())
	if err := e.Stop(); err != nil {
		t.Fatalf("unexpected error stopping an inactive engine: %v", err)
	}
	if e.Active() {
		t.Errorf("expected Active()=false after Stop")
	}
	waitForCount(t, rec, 1)
	if rec.snapshot()[0] != "PATTERN_STOP" {
		t.Errorf("expected PATTERN_STOP to be emitted even when inactive")
	}
}
