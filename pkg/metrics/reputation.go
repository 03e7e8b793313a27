package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ReputationChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Name:      "reputation_checks_total",
			Help:      "Total reputation checks, labeled by reason (ok, private_ip, whitelisted, no_api_key, rate_limited, api_error).",
		},
		[]string{"reason"},
	)

	ReputationCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatewarden",
			Name:      "reputation_cache_size",
			Help:      "Current number of entries in the reputation TTL cache.",
		},
	)

	ReputationQuotaRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatewarden",
			Name:      "reputation_quota_remaining",
			Help:      "Remaining external API calls in today's quota.",
		},
	)

	ReputationReportsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Name:      "reputation_reports_sent_total",
			Help:      "Total abuse reports successfully submitted to the reputation provider.",
		},
	)

	registerReputationOnce sync.Once
)

// RegisterReputationMetrics registers the reputation collectors once.
func RegisterReputationMetrics(reg prometheus.Registerer) {
	registerReputationOnce.Do(func() {
		reg.MustRegister(ReputationChecksTotal)
		reg.MustRegister(ReputationCacheSize)
		reg.MustRegister(ReputationQuotaRemaining)
		reg.MustRegister(ReputationReportsSent)
	})
}
