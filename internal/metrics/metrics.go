package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of the service.
type Metrics struct {
	apiCalls     *prometheus.CounterVec
	apiLatency   *prometheus.HistogramVec
	syncItems    *prometheus.CounterVec
	webhookEvent *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp",
			Name:      "provider_api_calls_total",
			Help:      "Outbound provider API calls.",
		}, []string{"provider", "endpoint", "success"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "whatsapp",
			Name:      "provider_api_latency_seconds",
			Help:      "Latency of outbound provider API calls including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"}),
		syncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp",
			Name:      "sync_items_total",
			Help:      "Entities processed by synchronization runs.",
		}, []string{"entity", "outcome"}),
		webhookEvent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp",
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(m.apiCalls, m.apiLatency, m.syncItems, m.webhookEvent)
	return m
}

func (m *Metrics) ObserveAPICall(provider, endpoint string, success bool, latency time.Duration) {
	if m == nil {
		return
	}
	m.apiCalls.WithLabelValues(provider, endpoint, strconv.FormatBool(success)).Inc()
	m.apiLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (m *Metrics) AddSyncItems(entity, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncItems.WithLabelValues(entity, outcome).Add(float64(n))
}

func (m *Metrics) IncWebhookEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvent.WithLabelValues(kind, outcome).Inc()
}
