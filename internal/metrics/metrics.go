// Package metrics содержит счётчики Prometheus для операций экономики.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics агрегирует счётчики операций экономики.
type Metrics struct {
	ReactionsCredited prometheus.Counter
	ReactionsRejected *prometheus.CounterVec
	ClaimsTotal       prometheus.Counter
	PurchasesTotal    prometheus.Counter
	RewardsGranted    prometheus.Counter
	SweepRuns         prometheus.Counter
	SweepExpired      prometheus.Counter
}

// New регистрирует счётчики в указанном реестре и возвращает их.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ReactionsCredited: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanpoints_reactions_credited_total",
			Help: "Reactions that passed all checks and were credited.",
		}),
		ReactionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fanpoints_reactions_rejected_total",
			Help: "Reactions rejected by the gate, by cause.",
		}, []string{"cause"}),
		ClaimsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanpoints_claims_total",
			Help: "Successful daily claims.",
		}),
		PurchasesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanpoints_purchases_total",
			Help: "Completed purchases (debit committed).",
		}),
		RewardsGranted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanpoints_rewards_granted_total",
			Help: "Reward grants committed by the reward engine.",
		}),
		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanpoints_sweep_runs_total",
			Help: "Daily streak sweep executions on this instance.",
		}),
		SweepExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "fanpoints_sweep_expired_streaks_total",
			Help: "Streaks zeroed by the daily sweep.",
		}),
	}
}
