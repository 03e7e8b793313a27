package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BotScoreTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Name:      "botscore_verdicts_total",
			Help:      "Total bot-score verdicts, labeled by whether the request was flagged as a bot.",
		},
		[]string{"is_bot"},
	)

	BotScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gatewarden",
			Name:      "botscore_score",
			Help:      "Distribution of computed bot scores.",
			Buckets:   []float64{0, 10, 25, 40, 55, 70, 85, 100},
		},
	)

	registerBotScoreOnce sync.Once
)

// RegisterBotScoreMetrics registers the bot-score collectors once.
func RegisterBotScoreMetrics(reg prometheus.Registerer) {
	registerBotScoreOnce.Do(func() {
		reg.MustRegister(BotScoreTotal)
		reg.MustRegister(BotScoreHistogram)
	})
}
