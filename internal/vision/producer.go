package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/sirupsen/logrus"
)

// Frame is one captured image plus its pixel dimensions.
type Frame struct {
	Data          []byte
	Width, Height int
}

// FrameSource yields the newest available frame, dropping any frame the
// caller didn't have time to consume. Grounded on
// internal/orbital/hal.Camera's MJPEG capture path.
type FrameSource interface {
	CaptureFrame(ctx context.Context) (Frame, error)
}

// Detector is a pure function: given a frame, return the raw detections it
// finds, tagged with the class each one belongs to. Model lifecycle (loading
// weights, GPU/CPU placement) is out of scope here, per spec.md §1 — this
// interface is the only contract the producer depends on.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]TileDetection, error)
}

// Config bundles the producer's tuning knobs.
type Config struct {
	PollInterval  time.Duration
	ConfGate      float64 // gate applied to ClassBird candidates
	HumanConfGate float64 // gate applied to ClassHuman candidates
	TileConfig    TileConfig
	UseTiling     bool
	MergeIoU      float64
}

// Producer runs the free-running detector loop described in spec.md §4.5.
type Producer struct {
	cfg      Config
	source   FrameSource
	detector Detector
	slot     *Slot
	logger   *logrus.Entry
}

// NewProducer wires a Producer around a frame source, detector, and the
// Detection slot it will exclusively write to.
func NewProducer(cfg Config, source FrameSource, detector Detector, slot *Slot, logger *logrus.Entry) *Producer {
	return &Producer{cfg: cfg, source: source, detector: detector, slot: slot, logger: logger}
}

// Run blocks until ctx is cancelled, polling frames and publishing
// detections at cfg.PollInterval. A detector fault is logged and the
// producer keeps running so the consuming loop reverts to SEARCH purely
// via the slot's own staleness, never via a dedicated error channel.
func (p *Producer) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Producer) tick(ctx context.Context) {
	frame, err := p.source.CaptureFrame(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("frame capture failed")
		return
	}

	dets, err := p.infer(ctx, frame)
	if err != nil {
		p.logger.WithError(err).Warn("detector fault, keeping last detection stale-tracked")
		return
	}

	chosen, found := classify(dets, p.cfg.ConfGate, p.cfg.HumanConfGate)
	if !found {
		p.slot.Store(Detection{Timestamp: time.Now(), HasTarget: false})
		return
	}

	chosen.Timestamp = time.Now()
	chosen.HasTarget = true
	p.slot.Store(chosen)
}

// classify picks the frame's single reportable detection. A human-class
// candidate clearing humanGate always wins, so the safety preemption in
// internal/safety never has to race a higher-confidence bird box for the
// slot; absent a human, the best bird candidate clearing confGate is used.
func classify(dets []Detection, confGate, humanGate float64) (Detection, bool) {
	var humans, birds []Detection
	for _, d := range dets {
		switch d.Class {
		case ClassHuman:
			if d.Confidence >= humanGate {
				humans = append(humans, d)
			}
		case ClassBird:
			if d.Confidence >= confGate {
				birds = append(birds, d)
			}
		}
	}
	if best, ok := BestDetection(humans); ok {
		return best, true
	}
	return BestDetection(birds)
}

func (p *Producer) infer(ctx context.Context, frame Frame) ([]Detection, error) {
	if !p.cfg.UseTiling {
		raw, err := p.detector.Detect(ctx, frame)
		if err != nil {
			return nil, err
		}
		dets := make([]Detection, 0, len(raw))
		for _, r := range raw {
			cx, cy := r.BBox.Center()
			dets = append(dets, Detection{BBox: r.BBox, HasBBox: true, CenterX: cx, CenterY: cy, Confidence: r.Confidence, Class: r.Class})
		}
		return dets, nil
	}

	regions := Regions(frame.Width, frame.Height, p.cfg.TileConfig)
	var all []Detection
	for _, region := range regions {
		cropped, err := cropFrame(frame, region)
		if err != nil {
			return nil, fmt.Errorf("vision: crop tile row=%d col=%d: %w", region.Row, region.Col, err)
		}
		tile := Frame{Data: cropped, Width: region.X2 - region.X1, Height: region.Y2 - region.Y1}
		raw, err := p.detector.Detect(ctx, tile)
		if err != nil {
			return nil, err
		}
		for _, r := range raw {
			all = append(all, ToFrameCoords(r, region))
		}
	}

	return MergeDetections(all, p.cfg.MergeIoU), nil
}

// cropFrame decodes the frame, crops it to region's bounds, and re-encodes
// it as JPEG for the detector call. Mirrors
// internal/orbital/hal.Camera.encodeJPEG's decode/re-encode shape.
func cropFrame(frame Frame, region Region) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("vision: decode frame: %w", err)
	}

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	si, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("vision: frame image type %T does not support cropping", img)
	}
	cropped := si.SubImage(image.Rect(region.X1, region.Y1, region.X2, region.Y2))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("vision: encode tile: %w", err)
	}
	return buf.Bytes(), nil
}
