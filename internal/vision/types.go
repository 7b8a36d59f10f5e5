// Package vision implements the free-running detection producer (C5): a
// camera source is polled, a detector is invoked (optionally through a
// tiled-inference helper), and the result is published to a single-writer,
// multi-reader Detection slot.
//
// Grounded on internal/orbital/vision/{yolo_processor.go} (Detection/
// BoundingBox shape, VisionProcessor interface) and internal/orbital/hal
// (CameraController polling pattern), generalized to the
// {has_target, class, bbox, center, confidence} shape spec.md §3 specifies.
package vision

import "time"

// Class is the detected object category. A small enum instead of a bare
// string so an illegal value cannot flow through the pipeline.
type Class int

const (
	ClassNone Class = iota
	ClassBird
	ClassHuman
)

func (c Class) String() string {
	switch c {
	case ClassBird:
		return "bird"
	case ClassHuman:
		return "human"
	default:
		return "none"
	}
}

// BoundingBox is an axis-aligned box in image pixel coordinates.
type BoundingBox struct {
	X1, Y1, X2, Y2 float64
}

// Area returns the box's pixel area, 0 if degenerate.
func (b BoundingBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Center returns the box's midpoint.
func (b BoundingBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// IoU returns the intersection-over-union of two boxes.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	x1 := max(b.X1, o.X1)
	y1 := max(b.Y1, o.Y1)
	x2 := min(b.X2, o.X2)
	y2 := min(b.Y2, o.Y2)

	iw := x2 - x1
	ih := y2 - y1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	intersection := iw * ih
	union := b.Area() + o.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Detection is one published observation, per spec.md §3.
type Detection struct {
	Timestamp  time.Time
	HasTarget  bool
	Class      Class
	BBox       BoundingBox
	HasBBox    bool
	CenterX    float64
	CenterY    float64
	Confidence float64
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
