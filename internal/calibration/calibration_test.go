package calibration

import (
	"path/filepath"
	"testing"
	"time"
)

func sixGoodClicks(s *Session) {
	rows := []float64{420, 340, 260, 180, 100, 50}
	dists := []float64{2.5, 4, 6, 9, 14, 20}
	for i := range rows {
		s.Click(rows[i], dists[i])
	}
}

func TestOpenStore_MissingFileIsEmptyNotError(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Names()) != 0 {
		t.Errorf("expected an empty store, got names %v", s.Names())
	}
}

func TestSession_RejectsFewerThanMinPoints(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(filepath.Join(dir, "cal.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session := NewSession("cam0", 640, 480, time.Unix(0, 0))
	session.Click(100, 10)
	session.Click(200, 5)

	if err := s.Save("rig1", session); err == nil {
		t.Fatal("expected an error for fewer than MinPoints clicks")
	}
}

func TestSession_RejectsNonMonotoneClicks(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(filepath.Join(dir, "cal.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session := NewSession("cam0", 640, 480, time.Unix(0, 0))
	session.Click(50, 10)
	session.Click(100, 10) // flat: not strictly monotone
	session.Click(150, 8)
	session.Click(200, 6)
	session.Click(250, 4)
	session.Click(300, 2)

	if err := s.Save("rig1", session); err == nil {
		t.Fatal("expected a validation error for non-monotone clicks")
	}
}

func TestSave_RoundTripsThroughANewStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session := NewSession("cam0", 640, 480, time.Unix(1700000000, 0))
	sixGoodClicks(session)

	if err := s.Save("rig1", session); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	rec, ok := reopened.Get("rig1")
	if !ok {
		t.Fatal("expected to find the saved record after reopening")
	}
	if len(rec.Points) != session.Count() {
		t.Errorf("Points count = %d, want %d", len(rec.Points), session.Count())
	}
	if rec.Metadata.Source != "cam0" {
		t.Errorf("Metadata.Source = %q, want cam0", rec.Metadata.Source)
	}
}

func TestSession_PointsReturnsACopy(t *testing.T) {
	session := NewSession("cam0", 640, 480, time.Unix(0, 0))
	sixGoodClicks(session)
	pts := session.Points()
	pts[0].Row = 99999

	again := session.Points()
	if again[0].Row == 99999 {
		t.Error("Points() should return a defensive copy")
	}
}
