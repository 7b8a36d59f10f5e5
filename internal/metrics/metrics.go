// Package metrics exposes the turret's Prometheus metrics: current mode,
// laser state, pattern activity, and motion command rates.
//
// Grounded on internal/platform/observability/metrics.go's promauto-built
// Metrics struct, scoped to the turret's own namespace instead of asgard's.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every turret Prometheus collector.
type Metrics struct {
	Mode              prometheus.Gauge
	LaserOn           prometheus.Gauge
	PatternActive     prometheus.Gauge
	MotionCommands    *prometheus.CounterVec
	DetectionsSeen    *prometheus.CounterVec
	TickDuration      prometheus.Histogram
}

// New registers and returns the turret's metric set.
func New() *Metrics {
	return &Metrics{
		Mode: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "turret",
			Name:      "mode",
			Help:      "Current system mode as an integer (0=INIT,1=SEARCH,2=TRACK,3=DETERRING,4=SAFE,5=SHUTDOWN)",
		}),
		LaserOn: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "turret",
			Name:      "laser_on",
			Help:      "1 if the laser is currently commanded on, 0 otherwise",
		}),
		PatternActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "turret",
			Name:      "pattern_active",
			Help:      "1 if a deterrence pattern is currently active, 0 otherwise",
		}),
		MotionCommands: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turret",
			Name:      "motion_commands_total",
			Help:      "Motion commands emitted, by kind",
		}, []string{"kind"}),
		DetectionsSeen: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turret",
			Name:      "detections_total",
			Help:      "Detections observed, by class",
		}, []string{"class"}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "turret",
			Name:      "tick_duration_seconds",
			Help:      "Main control loop tick duration",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
