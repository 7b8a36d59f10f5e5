package vision

import "sort"

// TileConfig describes a grid of overlapping regions to subdivide a frame
// into before running the detector, improving detection of small/distant
// targets that would otherwise be lost when a high-resolution frame is
// downscaled to the detector's native input size.
//
// Grounded on original_source/YoloModel/Tiling.py's TileConfig/
// calculate_tile_regions.
type TileConfig struct {
	Rows, Cols     int
	OverlapPercent float64 // 0.0-0.5
}

// Region is one tile's placement within the full frame.
type Region struct {
	X1, Y1, X2, Y2 int
	Row, Col       int
}

// Regions computes the tile placements for a frame of the given size,
// mirroring calculate_tile_regions's overlap-then-clamp-to-bounds approach.
func Regions(frameW, frameH int, cfg TileConfig) []Region {
	if cfg.Rows < 1 {
		cfg.Rows = 1
	}
	if cfg.Cols < 1 {
		cfg.Cols = 1
	}

	baseH := float64(frameH) / float64(cfg.Rows)
	baseW := float64(frameW) / float64(cfg.Cols)
	overlapH := int(baseH * cfg.OverlapPercent)
	overlapW := int(baseW * cfg.OverlapPercent)
	tileH := int(baseH) + overlapH
	tileW := int(baseW) + overlapW

	regions := make([]Region, 0, cfg.Rows*cfg.Cols)
	for row := 0; row < cfg.Rows; row++ {
		for col := 0; col < cfg.Cols; col++ {
			y1 := int(float64(row) * baseH)
			x1 := int(float64(col) * baseW)
			if row > 0 {
				y1 -= overlapH / 2
			}
			if col > 0 {
				x1 -= overlapW / 2
			}
			if y1 < 0 {
				y1 = 0
			}
			if x1 < 0 {
				x1 = 0
			}

			y2 := y1 + tileH
			if y2 > frameH {
				y2 = frameH
			}
			x2 := x1 + tileW
			if x2 > frameW {
				x2 = frameW
			}

			if y2-y1 < tileH && frameH-tileH >= 0 {
				y1 = frameH - tileH
				if y1 < 0 {
					y1 = 0
				}
			}
			if x2-x1 < tileW && frameW-tileW >= 0 {
				x1 = frameW - tileW
				if x1 < 0 {
					x1 = 0
				}
			}

			regions = append(regions, Region{X1: x1, Y1: y1, X2: x2, Y2: y2, Row: row, Col: col})
		}
	}
	return regions
}

// TileDetection is a raw per-tile detection before translation to frame
// coordinates.
type TileDetection struct {
	BBox       BoundingBox
	Confidence float64
	Class      Class
}

// ToFrameCoords translates a tile-relative detection into full-frame
// coordinates given the tile's region offset.
func ToFrameCoords(d TileDetection, r Region) Detection {
	bx := BoundingBox{
		X1: d.BBox.X1 + float64(r.X1),
		Y1: d.BBox.Y1 + float64(r.Y1),
		X2: d.BBox.X2 + float64(r.X1),
		Y2: d.BBox.Y2 + float64(r.Y1),
	}
	cx, cy := bx.Center()
	return Detection{HasTarget: true, BBox: bx, HasBBox: true, CenterX: cx, CenterY: cy, Confidence: d.Confidence, Class: d.Class}
}

// MergeDetections applies greedy confidence-ordered non-max suppression
// across every tile's frame-coordinate detections, suppressing only
// same-class overlaps, mirroring non_max_suppression/merge_tile_detections.
func MergeDetections(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) == 0 {
		return nil
	}

	sorted := append([]Detection(nil), dets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	var kept []Detection
	for len(sorted) > 0 {
		best := sorted[0]
		kept = append(kept, best)

		remaining := sorted[1:][:0]
		for _, d := range sorted[1:] {
			if best.Class != d.Class || best.BBox.IoU(d.BBox) < iouThreshold {
				remaining = append(remaining, d)
			}
		}
		sorted = remaining
	}
	return kept
}

// BestDetection returns the highest-confidence detection, or false if empty.
func BestDetection(dets []Detection) (Detection, bool) {
	if len(dets) == 0 {
		return Detection{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, true
}
