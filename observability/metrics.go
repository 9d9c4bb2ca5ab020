package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LoanMetricsRegistry records loan lifecycle activity for the RPC surface.
type LoanMetricsRegistry struct {
	Originations *prometheus.CounterVec
	Repayments   prometheus.Counter
	Liquidations prometheus.Counter
	AuthFailures *prometheus.CounterVec
}

var (
	loanMetricsOnce sync.Once
	loanRegistry    *LoanMetricsRegistry
)

// LoanMetrics returns the lazily-initialised loan metrics registry.
func LoanMetrics() *LoanMetricsRegistry {
	loanMetricsOnce.Do(func() {
		loanRegistry = &LoanMetricsRegistry{
			Originations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pawnvault",
				Subsystem: "loan",
				Name:      "originations_total",
				Help:      "Total loan originations segmented by collateral kind.",
			}, []string{"kind"}),
			Repayments: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pawnvault",
				Subsystem: "loan",
				Name:      "repayments_total",
				Help:      "Total successful loan repayments.",
			}),
			Liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pawnvault",
				Subsystem: "loan",
				Name:      "liquidations_total",
				Help:      "Total overdue liquidations.",
			}),
			AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pawnvault",
				Subsystem: "loan",
				Name:      "auth_failures_total",
				Help:      "Authorization and nonce rejections segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			loanRegistry.Originations,
			loanRegistry.Repayments,
			loanRegistry.Liquidations,
			loanRegistry.AuthFailures,
		)
	})
	return loanRegistry
}
