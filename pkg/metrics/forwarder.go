package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Name:      "forwarded_requests_total",
			Help:      "Total forwarded requests, labeled by response status class.",
		},
		[]string{"status_class"},
	)

	UpstreamTargets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatewarden",
			Name:      "upstream_targets",
			Help:      "Current number of discovered, routable upstream targets.",
		},
	)

	DiscoveryScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Name:      "discovery_scans_total",
			Help:      "Total discovery scan attempts.",
		},
	)

	DiscoveryErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Name:      "discovery_scan_errors_total",
			Help:      "Total discovery scans that failed to reach the container runtime.",
		},
	)

	registerForwarderOnce sync.Once
)

// RegisterForwarderMetrics registers the forwarder and discovery collectors
// once.
func RegisterForwarderMetrics(reg prometheus.Registerer) {
	registerForwarderOnce.Do(func() {
		reg.MustRegister(ForwardedTotal)
		reg.MustRegister(UpstreamTargets)
		reg.MustRegister(DiscoveryScansTotal)
		reg.MustRegister(DiscoveryErrorsTotal)
	})
}
