package afectacion

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for registration and read models. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Registration outcomes by code ("OK" or an error code)
	Registrations *prometheus.CounterVec

	// Full registrar latency, write and verify included
	RegisterLatency prometheus.Histogram

	// Verify-read retries after a transport failure
	VerifyRetries prometheus.Counter

	// Dashboard units by status
	TableroUnidades *prometheus.CounterVec

	// Branches whose open period already ended
	StaleOpenPeriods prometheus.Gauge
}

// NewMetrics registers every metric on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "afectaciones_registrations_total",
			Help: "Registration attempts by outcome code",
		}, []string{"outcome", "accion"}),

		RegisterLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "afectaciones_register_duration_seconds",
			Help:    "Duration of a registration including write and verification",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		VerifyRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "afectaciones_verify_retries_total",
			Help: "Verification reads retried after a transport failure",
		}),

		TableroUnidades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "afectaciones_tablero_units_total",
			Help: "Units aggregated by dashboards, by status",
		}, []string{"status"}),

		StaleOpenPeriods: f.NewGauge(prometheus.GaugeOpts{
			Name: "afectaciones_stale_open_periods",
			Help: "Branches with an open period whose last day has passed",
		}),
	}
}

func (m *Metrics) ObserveRegistration(outcome, accion string, d time.Duration) {
	if m != nil {
		m.Registrations.WithLabelValues(outcome, accion).Inc()
		m.RegisterLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncVerifyRetry() {
	if m != nil {
		m.VerifyRetries.Inc()
	}
}

func (m *Metrics) AddTablero(status Status, n int) {
	if m != nil && n > 0 {
		m.TableroUnidades.WithLabelValues(string(status)).Add(float64(n))
	}
}

func (m *Metrics) SetStaleOpenPeriods(n int) {
	if m != nil {
		m.StaleOpenPeriods.Set(float64(n))
	}
}
