package reconcile

import "github.com/prometheus/client_golang/prometheus"

// Metrics exported by the engine. Divergence between ledger and backend is
// tolerated, so it is made visible here instead of failing requests.
type Metrics struct {
	divergence      *prometheus.GaugeVec
	addressFailures *prometheus.CounterVec
	passes          *prometheus.CounterVec
}

// NewMetrics creates the engine metrics and registers them with reg when not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		divergence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sharedfs_integrity_divergence",
			Help: "Filesystems seen by only one of ledger and backend on the last listing (orphan: backend only, ghost: ledger only)",
		}, []string{"kind"}),
		addressFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sharedfs_address_failures_total",
			Help: "Per-address attach or detach failures tolerated during reconciliation",
		}, []string{"op"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sharedfs_reconcile_passes_total",
			Help: "Reconciliation passes run, by operation",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.divergence, m.addressFailures, m.passes)
	}
	return m
}
