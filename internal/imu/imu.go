// Package imu reads platform pitch/roll off a serial link and publishes
// roll (radians, mounting-offset corrected) to a shared PlatformRoll.
//
// Grounded on Valkyrie/internal/actuators/mavlink_protocol.go's
// serial-port handling (go.bug.st/serial, mutex-guarded port,
// SetReadTimeout), replacing its binary MAVLink framing with the
// line-oriented `PITCH:<deg>,ROLL:<deg>` ASCII framing spec.md §4.11/§6
// specifies. No original_source grounding exists for this component — the
// source system predates IMU integration.
package imu

import (
	"bufio"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// lineRe matches "PITCH:<float>,ROLL:<float>" with optional whitespace.
var lineRe = regexp.MustCompile(`PITCH:\s*(-?[0-9]+\.?[0-9]*)\s*,\s*ROLL:\s*(-?[0-9]+\.?[0-9]*)`)

// PlatformRoll is the single-writer/multi-reader shared roll value, stored
// as radians already corrected for mounting offset.
type PlatformRoll struct {
	mu    sync.Mutex
	value float64
}

// Store overwrites the published roll. Called only by the reader loop.
func (r *PlatformRoll) Store(v float64) {
	r.mu.Lock()
	r.value = v
	r.mu.Unlock()
}

// Load returns the last published roll, or 0 before the first line arrives.
func (r *PlatformRoll) Load() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Config bundles the serial link and correction parameters.
type Config struct {
	PortName        string
	BaudRate        int
	ReadTimeout     time.Duration
	MountingOffset  float64 // radians, subtracted from measured roll
}

// Reader owns the serial port and the PlatformRoll it publishes to.
type Reader struct {
	cfg    Config
	port   serial.Port
	roll   *PlatformRoll
	logger *logrus.Entry
}

// Open opens the serial port and returns a Reader ready to run.
func Open(cfg Config, roll *PlatformRoll, logger *logrus.Entry) (*Reader, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("imu: failed to open serial port %s: %w", cfg.PortName, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("imu: failed to set read timeout: %w", err)
		}
	}
	return &Reader{cfg: cfg, port: port, roll: roll, logger: logger}, nil
}

// Close releases the serial port.
func (r *Reader) Close() error {
	return r.port.Close()
}

// Run reads framed lines until the transport is lost, parsing each with
// lineRe. Malformed lines are silently skipped, matching spec. The loop
// exits (rather than retrying) on a read error, leaving PlatformRoll at its
// last published value for C3 to keep consuming.
func (r *Reader) Run() error {
	scanner := bufio.NewScanner(r.port)
	for scanner.Scan() {
		if rollRad, ok := parseLine(scanner.Text(), r.cfg.MountingOffset); ok {
			r.roll.Store(rollRad)
		}
	}

	if err := scanner.Err(); err != nil {
		r.logger.WithError(err).Warn("imu serial transport lost")
		return fmt.Errorf("imu: read loop terminated: %w", err)
	}
	return nil
}

// parseLine extracts a mounting-offset-corrected roll in radians from one
// framed line. Malformed lines (no match, unparseable floats) return ok=false.
func parseLine(line string, mountingOffset float64) (rollRad float64, ok bool) {
	matches := lineRe.FindStringSubmatch(line)
	if matches == nil {
		return 0, false
	}

	if _, err := strconv.ParseFloat(matches[1], 64); err != nil {
		// pitch is framed but unused by the aim transform today
		return 0, false
	}

	rollDeg, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		return 0, false
	}

	return rollDeg*math.Pi/180 - mountingOffset, true
}
