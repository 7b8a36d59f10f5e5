// Package calibration implements the interactive distance-calibration
// capture flow (C10): accumulate (row, distance) clicks, validate strict
// monotonicity, and persist named records to disk.
//
// Grounded on original_source/Distance/Storage.py's bare JSON dump/load,
// supplemented per spec.md §6 "Persisted state" into a named record keyed
// by name with capture metadata, since the original format carried no
// provenance.
package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/corvidguard/turret/internal/distance"
)

// MinPoints is the minimum click count required to save a calibration.
const MinPoints = 6

// Metadata records where/when a calibration was captured.
type Metadata struct {
	Source      string    `json:"source"`
	CaptureW    int       `json:"capture_w"`
	CaptureH    int       `json:"capture_h"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record is one named, persisted calibration.
type Record struct {
	SchemaVersion int                `json:"schema_version"`
	Metadata      Metadata           `json:"metadata"`
	Points        []distance.Point   `json:"points"`
}

// Store is a JSON document of named records keyed by name.
type Store struct {
	path    string
	records map[string]Record
}

// OpenStore loads an existing store file, or returns an empty Store if the
// file does not exist yet.
func OpenStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Store{path: path, records: map[string]Record{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calibration: failed to read store %s: %w", path, err)
	}

	records := map[string]Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("calibration: failed to parse store %s: %w", path, err)
	}
	return &Store{path: path, records: records}, nil
}

// Get returns a named record.
func (s *Store) Get(name string) (Record, bool) {
	r, ok := s.records[name]
	return r, ok
}

// Names lists every record name in the store.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.records))
	for n := range s.records {
		names = append(names, n)
	}
	return names
}

// Save validates and persists a named capture session. Validation delegates
// to distance.Load, so a saved record is always loadable as a Model.
func (s *Store) Save(name string, session *Session) error {
	if len(session.points) < MinPoints {
		return fmt.Errorf("calibration: need at least %d points, have %d", MinPoints, len(session.points))
	}
	if _, err := distance.Load(session.points); err != nil {
		return fmt.Errorf("calibration: session failed validation: %w", err)
	}

	s.records[name] = Record{
		SchemaVersion: 1,
		Metadata: Metadata{
			Source:    session.source,
			CaptureW:  session.captureW,
			CaptureH:  session.captureH,
			CreatedAt: session.createdAt,
		},
		Points: append([]distance.Point(nil), session.points...),
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("calibration: failed to marshal store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("calibration: failed to write store %s: %w", s.path, err)
	}
	return nil
}

// Session accumulates clicks during an interactive capture flow before
// they're validated and committed to a Store.
type Session struct {
	source    string
	captureW  int
	captureH  int
	createdAt time.Time
	points    []distance.Point
}

// NewSession starts a capture session against a frame of the given
// resolution, identified by source (e.g. a camera name or file path).
func NewSession(source string, captureW, captureH int, now time.Time) *Session {
	return &Session{source: source, captureW: captureW, captureH: captureH, createdAt: now}
}

// Click records one (row_pixel, distance) sample.
func (s *Session) Click(row, dist float64) {
	s.points = append(s.points, distance.Point{Row: row, Distance: dist})
}

// Count reports how many points have been captured so far.
func (s *Session) Count() int { return len(s.points) }

// Points returns a copy of the captured points.
func (s *Session) Points() []distance.Point {
	return append([]distance.Point(nil), s.points...)
}
