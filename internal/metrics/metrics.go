// Package metrics exposes Prometheus counters and histograms for request
// and phase throughput, and the echo middleware/handler that wire them up.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors. Construct once per process
// with New and share the instance across the echo middleware and the
// Runner call sites that report phase outcomes.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	phasesTotal     *prometheus.CounterVec
	phaseWallTime   prometheus.Histogram
}

// New registers and returns a Metrics instance.
func New() *Metrics {
	return &Metrics{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxed_http_requests_total",
			Help: "Total HTTP requests by path and status code.",
		}, []string{"path", "status"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boxed_http_request_duration_seconds",
			Help:    "HTTP request latency by path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		phasesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxed_phases_total",
			Help: "Total phases executed, partitioned by whether they exited zero.",
		}, []string{"outcome"}),
		phaseWallTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "boxed_phase_wall_time_seconds",
			Help:    "Observed phase wall-clock time, from sandbox metadata.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
	}
}

// Middleware returns an echo.MiddlewareFunc that records request count
// and latency for every request.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			path := c.Path()
			m.requestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
			m.requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ObservePhase records one phase's outcome and, when the sandbox reported
// a wall-clock time, its duration.
func (m *Metrics) ObservePhase(status int32, wallTime *float64) {
	outcome := "ok"
	if status != 0 {
		outcome = "nonzero"
	}
	m.phasesTotal.WithLabelValues(outcome).Inc()
	if wallTime != nil {
		m.phaseWallTime.Observe(*wallTime)
	}
}

// Handler returns the echo.HandlerFunc serving the Prometheus exposition
// format for GET /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
