package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(tokensTotal, providerRequests, usageAlerts)
}

var (
	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens recorded in the usage ledger by kind.",
		},
		[]string{"kind"},
	)

	providerRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Billable provider responses recorded in the usage ledger.",
		},
	)

	usageAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_alerts_total",
			Help:      "Usage threshold alerts fired.",
		},
	)
)

// ObserveUsage adds one recorded response to the token counters
func ObserveUsage(prompt, completion, total int) {
	tokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	tokensTotal.WithLabelValues("completion").Add(float64(completion))
	tokensTotal.WithLabelValues("total").Add(float64(total))
	providerRequests.Inc()
}

// UsageAlertFired counts a threshold alert
func UsageAlertFired() {
	usageAlerts.Inc()
}
