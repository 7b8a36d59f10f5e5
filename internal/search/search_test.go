package search

import "testing"

func TestNew_ClampsStartIntoBounds(t *testing.T) {
	c := New(Config{MinZ: 0, MaxZ: 10, StartZ: 100, Step: 1, Direction: 1})
	if c.Current() != 10 {
		t.Errorf("Current() = %v, want 10", c.Current())
	}
}

func TestNew_DefaultsInvalidDirectionToPositive(t *testing.T) {
	c := New(Config{MinZ: 0, MaxZ: 10, StartZ: 5, Step: 1, Direction: 0})
	r := c.Update()
	if r.Delta <= 0 {
		t.Errorf("expected a positive initial step, got delta=%v", r.Delta)
	}
}

func TestUpdate_BouncesOffUpperBound(t *testing.T) {
	c := New(Config{MinZ: 0, MaxZ: 10, StartZ: 9, Step: 2, Direction: 1})
	r := c.Update()
	if r.AbsoluteZ != 10 {
		t.Fatalf("expected to clamp at MaxZ=10, got %v", r.AbsoluteZ)
	}
	r2 := c.Update()
	if r2.Delta >= 0 {
		t.Errorf("expected direction to reverse after hitting MaxZ, got delta=%v", r2.Delta)
	}
}

func TestUpdate_BouncesOffLowerBound(t *testing.T) {
	c := New(Config{MinZ: 0, MaxZ: 10, StartZ: 1, Step: 2, Direction: -1})
	r := c.Update()
	if r.AbsoluteZ != 0 {
		t.Fatalf("expected to clamp at MinZ=0, got %v", r.AbsoluteZ)
	}
	r2 := c.Update()
	if r2.Delta <= 0 {
		t.Errorf("expected direction to reverse after hitting MinZ, got delta=%v", r2.Delta)
	}
}

func TestUpdate_StaysWithinBoundsOverManyTicks(t *testing.T) {
	c := New(Config{MinZ: 0, MaxZ: 5, StartZ: 0, Step: 3, Direction: 1})
	for i := 0; i < 200; i++ {
		r := c.Update()
		if r.AbsoluteZ < 0 || r.AbsoluteZ > 5 {
			t.Fatalf("tick %d: AbsoluteZ=%v out of bounds", i, r.AbsoluteZ)
		}
	}
}

func TestReset_RestoresStartAndDirection(t *testing.T) {
	c := New(Config{MinZ: 0, MaxZ: 10, StartZ: 4, Step: 1, Direction: 1})
	c.Update()
	c.Update()
	c.Reset()
	if c.Current() != 4 {
		t.Errorf("Current() after Reset = %v, want 4", c.Current())
	}
}
