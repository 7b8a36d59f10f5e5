package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew_CollectorsAreUsable(t *testing.T) {
	m := New()
	m.Mode.Set(2)
	m.LaserOn.Set(1)
	m.PatternActive.Set(0)
	m.MotionCommands.WithLabelValues("z_relative").Inc()
	m.DetectionsSeen.WithLabelValues("bird").Inc()
	m.TickDuration.Observe(0.01)
	// No panics above is the contract; promauto registers globally so a
	// second New() in the same process would panic on duplicate registration,
	// which is why only one Metrics is ever constructed per turret process.
}

func TestHandler_ServesPrometheusFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("expected default Go collector output in /metrics body")
	}
}
