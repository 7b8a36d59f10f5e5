// Package laser drives the beam's remote HTTP endpoint: three idempotent
// GET routes, /on, /off, /status.
//
// Grounded on Valkyrie/internal/integration/asgard.go's plain *http.Client
// ClientConfig pattern, replacing the original ESP32 TCP framing in
// original_source/Laser/LaserEnable.py with the HTTP surface spec.md §6
// specifies.
package laser

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Config points the actuator at its endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Status is the decoded /status response.
type Status struct {
	State string `json:"state"` // "HIGH" or "LOW"
}

// Actuator is a thin HTTP client for the laser endpoint.
type Actuator struct {
	cfg    Config
	client *http.Client
	logger *logrus.Entry
}

// New builds an Actuator with a bounded-timeout client.
func New(cfg Config, logger *logrus.Entry) *Actuator {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Actuator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// On requests the beam active.
func (a *Actuator) On() error {
	return a.get("/on")
}

// Off requests the beam inactive.
func (a *Actuator) Off() error {
	return a.get("/off")
}

// Status queries the beam's reported state.
func (a *Actuator) Status() (Status, error) {
	resp, err := a.client.Get(a.cfg.BaseURL + "/status")
	if err != nil {
		return Status{}, fmt.Errorf("laser: status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Status{}, fmt.Errorf("laser: status read failed: %w", err)
	}

	var s Status
	if err := json.Unmarshal(body, &s); err != nil {
		return Status{}, fmt.Errorf("laser: status decode failed: %w", err)
	}
	return s, nil
}

func (a *Actuator) get(path string) error {
	resp, err := a.client.Get(a.cfg.BaseURL + path)
	if err != nil {
		a.logger.WithError(err).WithField("path", path).Warn("laser endpoint request failed")
		return fmt.Errorf("laser: %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("laser: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
