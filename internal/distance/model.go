// Package distance fits and queries the monotone piecewise-linear map
// between an image row and ground distance used to decide when a tracked
// bird is close enough to deter.
//
// Grounded on original_source/Distance/Model.py (two independent fits, one
// per direction, both clamped at their domain edges) but built on
// gonum.org/v1/gonum/interp instead of numpy's Polynomial.fit: a degree-2
// polynomial fit is not guaranteed monotone even when the underlying data
// is, which would violate the invariant spec.md §8 requires, so this
// implementation fits a piecewise-linear interpolant over strictly monotone
// calibration data instead.
package distance

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// Point is one (row_pixel, distance) calibration sample.
type Point struct {
	Row      float64
	Distance float64
}

// ErrInvalidCalibration is returned when a calibration has fewer than two
// points, duplicate rows, or is not strictly monotone in distance.
type ErrInvalidCalibration struct{ Reason string }

func (e *ErrInvalidCalibration) Error() string {
	return fmt.Sprintf("invalid calibration: %s", e.Reason)
}

// Model is a loaded, validated row<->distance calibration.
type Model struct {
	forward  interp.PiecewiseLinear
	inverse  interp.PiecewiseLinear
	minRow, maxRow           float64
	minDistance, maxDistance float64
}

// Load sorts points by row, validates strict monotonicity of the resulting
// distance sequence (in either direction), and fits both the forward
// (row->distance) and inverse (distance->row) interpolants.
func Load(points []Point) (*Model, error) {
	if len(points) < 2 {
		return nil, &ErrInvalidCalibration{Reason: "fewer than 2 points"}
	}

	sorted := append([]Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Row < sorted[j].Row })

	rows := make([]float64, len(sorted))
	dists := make([]float64, len(sorted))
	for i, p := range sorted {
		rows[i] = p.Row
		dists[i] = p.Distance
		if i > 0 && rows[i] == rows[i-1] {
			return nil, &ErrInvalidCalibration{Reason: "duplicate row"}
		}
	}

	increasing, err := monotoneDirection(dists)
	if err != nil {
		return nil, err
	}

	fwdRows, fwdDists := rows, dists
	invDists, invRows := dists, rows
	if !increasing {
		// interp.PiecewiseLinear requires its x series strictly increasing;
		// build the inverse fit over the reversed, now-increasing series.
		invDists = reversed(dists)
		invRows = reversed(rows)
	}

	var fwd, inv interp.PiecewiseLinear
	if err := fwd.Fit(fwdRows, fwdDists); err != nil {
		return nil, fmt.Errorf("fit forward model: %w", err)
	}
	if err := inv.Fit(invDists, invRows); err != nil {
		return nil, fmt.Errorf("fit inverse model: %w", err)
	}

	minD, maxD := dists[0], dists[len(dists)-1]
	if minD > maxD {
		minD, maxD = maxD, minD
	}

	return &Model{
		forward:     fwd,
		inverse:     inv,
		minRow:      rows[0],
		maxRow:      rows[len(rows)-1],
		minDistance: minD,
		maxDistance: maxD,
	}, nil
}

// monotoneDirection reports whether dists is strictly increasing (true) or
// strictly decreasing (false); any other shape is rejected.
func monotoneDirection(dists []float64) (increasing bool, err error) {
	if len(dists) < 2 {
		return false, &ErrInvalidCalibration{Reason: "fewer than 2 points"}
	}
	asc, desc := true, true
	for i := 1; i < len(dists); i++ {
		if dists[i] <= dists[i-1] {
			asc = false
		}
		if dists[i] >= dists[i-1] {
			desc = false
		}
	}
	switch {
	case asc:
		return true, nil
	case desc:
		return false, nil
	default:
		return false, &ErrInvalidCalibration{Reason: "distances are not strictly monotone in row order"}
	}
}

func reversed(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

// DistanceOf returns the estimated ground distance for an image row, clamped
// to the calibrated row range. No extrapolation occurs.
func (m *Model) DistanceOf(row float64) float64 {
	clamped := clamp(row, m.minRow, m.maxRow)
	return m.forward.Predict(clamped)
}

// RowOf returns the estimated image row for a ground distance, clamped to
// the calibrated distance range via the inverse fit.
func (m *Model) RowOf(dist float64) float64 {
	clamped := clamp(dist, m.minDistance, m.maxDistance)
	return m.inverse.Predict(clamped)
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
