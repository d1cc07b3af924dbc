// Package metrics exposes Prometheus collectors for scan and sweep activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service collectors. A nil *Metrics is a no-op.
type Metrics struct {
	scans          *prometheus.CounterVec
	cooldowns      prometheus.Counter
	sweepRuns      prometheus.Counter
	sweepProcessed prometheus.Counter
	sweepFailed    prometheus.Counter
	confirmations  prometheus.Counter
}

// New registers collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrchek",
			Name:      "scans_accepted_total",
			Help:      "Accepted scans by resulting record type.",
		}, []string{"type"}),
		cooldowns: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qrchek",
			Name:      "scans_cooldown_rejected_total",
			Help:      "Scans rejected inside the cooldown window.",
		}),
		sweepRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qrchek",
			Name:      "autocheckout_runs_total",
			Help:      "Completed auto-checkout sweeps.",
		}),
		sweepProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qrchek",
			Name:      "autocheckout_processed_total",
			Help:      "Synthetic departures written by the sweep.",
		}),
		sweepFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qrchek",
			Name:      "autocheckout_failed_total",
			Help:      "Employees the sweep failed to close.",
		}),
		confirmations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qrchek",
			Name:      "departures_confirmed_total",
			Help:      "Synthetic departures confirmed by employees.",
		}),
	}
}

func (m *Metrics) ScanAccepted(typ string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(typ).Inc()
}

func (m *Metrics) CooldownRejected() {
	if m == nil {
		return
	}
	m.cooldowns.Inc()
}

func (m *Metrics) SweepCompleted(processed, failed int) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepProcessed.Add(float64(processed))
	m.sweepFailed.Add(float64(failed))
}

func (m *Metrics) DepartureConfirmed() {
	if m == nil {
		return
	}
	m.confirmations.Inc()
}
