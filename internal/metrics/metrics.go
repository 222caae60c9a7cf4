// metrics.go — Prometheus instrumentation for the dispatcher and
// connection pool. Metrics are ambient observability, not a named
// component of the core, but are wired throughout it the way the
// storage and pool collaborators expect to be instrumented in
// production deployments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the counters and gauges the server exposes on its
// metrics endpoint.
type Registry struct {
	RequestsTotal    *prometheus.CounterVec
	RequestErrors    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	SessionsOpen     prometheus.Gauge
	PoolChannelsLive *prometheus.GaugeVec
	PoolAcquireWait  prometheus.Histogram
}

// New registers and returns a Registry against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer-wrapping registry in production.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lucent",
			Subsystem: "dispatcher",
			Name:      "requests_total",
			Help:      "Total requests dispatched, by opcode.",
		}, []string{"opcode"}),
		RequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lucent",
			Subsystem: "dispatcher",
			Name:      "request_errors_total",
			Help:      "Total requests that resulted in an error frame, by opcode and error class.",
		}, []string{"opcode", "class"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lucent",
			Subsystem: "dispatcher",
			Name:      "request_duration_seconds",
			Help:      "Time spent servicing a request, by opcode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"opcode"}),
		SessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lucent",
			Subsystem: "dispatcher",
			Name:      "sessions_open",
			Help:      "Number of currently open sessions.",
		}),
		PoolChannelsLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lucent",
			Subsystem: "pool",
			Name:      "channels_live",
			Help:      "Live channels per server URL.",
		}, []string{"url"}),
		PoolAcquireWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lucent",
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent blocked in Acquire waiting for a free channel.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		r.RequestsTotal, r.RequestErrors, r.RequestDuration,
		r.SessionsOpen, r.PoolChannelsLive, r.PoolAcquireWait,
	)
	return r
}
