package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// This file carries the rate-limit and list-management collectors; it
// replaces the teacher's Redis token-bucket anomaly/mitigation metrics with
// the process-local sliding-window tracker's equivalents, keeping the same
// "one CounterVec/GaugeVec per concern, registered once" shape.
var (
	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Name:      "ratelimit_decisions_total",
			Help:      "Total rate-limit decisions, labeled by reason (allowed, blocked, rate_limit_exceeded, whitelisted, blacklisted, skipped, disabled).",
		},
		[]string{"reason"},
	)

	RateLimitActiveBlocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatewarden",
			Name:      "ratelimit_active_blocked_keys",
			Help:      "Current number of client keys under an active temporary block.",
		},
	)

	RateLimitTrackedKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatewarden",
			Name:      "ratelimit_tracked_keys",
			Help:      "Current number of client keys with live sliding-window state.",
		},
	)

	ListSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gatewarden",
			Name:      "list_size",
			Help:      "Current size of the allow/deny lists.",
		},
		[]string{"list"},
	)

	registerRateLimitOnce sync.Once
)

// RegisterRateLimitMetrics registers the rate-limit collectors once.
func RegisterRateLimitMetrics(reg prometheus.Registerer) {
	registerRateLimitOnce.Do(func() {
		reg.MustRegister(RateLimitDecisionsTotal)
		reg.MustRegister(RateLimitActiveBlocks)
		reg.MustRegister(RateLimitTrackedKeys)
		reg.MustRegister(ListSize)
	})
}
