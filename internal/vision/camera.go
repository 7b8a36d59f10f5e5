package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoding used by image.DecodeConfig below
	"io"
	"net/http"
	"time"
)

// HTTPFrameSource pulls the newest still frame from an HTTP/MJPEG camera
// endpoint on every CaptureFrame call. Grounded on
// internal/orbital/hal.Camera's captureMJPEG path, generalized from a
// streaming loop to the producer's own poll-driven cadence.
type HTTPFrameSource struct {
	url    string
	client *http.Client
}

// NewHTTPFrameSource builds a frame source against a camera's snapshot URL.
func NewHTTPFrameSource(url string, timeout time.Duration) *HTTPFrameSource {
	return &HTTPFrameSource{url: url, client: &http.Client{Timeout: timeout}}
}

// CaptureFrame fetches one JPEG frame and reports its decoded dimensions.
func (s *HTTPFrameSource) CaptureFrame(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("vision: build frame request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("vision: capture frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("vision: capture frame: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return Frame{}, fmt.Errorf("vision: read frame body: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("vision: decode frame header: %w", err)
	}

	return Frame{Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}
