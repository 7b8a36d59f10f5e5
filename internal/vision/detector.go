package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// detectionWire is one detection as the remote inference service reports
// it: a class label plus an axis-aligned box in the frame it was given.
type detectionWire struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

// HTTPDetector posts a JPEG frame to a remote inference service and parses
// its JSON detection list. Grounded on
// internal/orbital/vision.YOLOProcessor's detectHTTP backend, simplified
// from its tensor-protocol request body to a plain JPEG body plus a JSON
// detection array response, since model choice and wire format are a
// deployment detail the detector contract deliberately hides from the rest
// of the pipeline (spec.md §1).
type HTTPDetector struct {
	url       string
	modelPath string
	client    *http.Client
}

// NewHTTPDetector builds a detector against a remote inference endpoint.
// modelPath is forwarded as a request header so one inference service can
// serve multiple model deployments.
func NewHTTPDetector(url, modelPath string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{url: url, modelPath: modelPath, client: &http.Client{Timeout: timeout}}
}

// Detect posts frame.Data as a JPEG body and returns the parsed detections.
func (d *HTTPDetector) Detect(ctx context.Context, frame Frame) ([]TileDetection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("vision: build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	if d.modelPath != "" {
		req.Header.Set("X-Model-Path", d.modelPath)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision: inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision: inference failed with status %d", resp.StatusCode)
	}

	var wire []detectionWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("vision: decode inference response: %w", err)
	}

	out := make([]TileDetection, 0, len(wire))
	for _, w := range wire {
		out = append(out, TileDetection{
			BBox:       BoundingBox{X1: w.X1, Y1: w.Y1, X2: w.X2, Y2: w.Y2},
			Confidence: w.Confidence,
			Class:      classFromWire(w.Class),
		})
	}
	return out, nil
}

func classFromWire(label string) Class {
	switch label {
	case "bird":
		return ClassBird
	case "person", "human":
		return ClassHuman
	default:
		return ClassNone
	}
}
