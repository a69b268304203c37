// Package metrics provides Prometheus metrics collection for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the proxy.
type Collector struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ReferrerRejections prometheus.Counter
	RateLimitHits       *prometheus.CounterVec
	RateLimitTokens     *prometheus.GaugeVec

	CredentialFailures *prometheus.CounterVec
	CredentialRetries  prometheus.Counter

	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	UpstreamInFlight prometheus.Gauge

	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector with all metrics registered
// against the default Prometheus registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom
// registry. Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geoproxy",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "geoproxy",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "geoproxy",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		ReferrerRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "geoproxy",
				Name:      "referrer_rejections_total",
				Help:      "Total number of requests rejected by referrer validation",
			},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geoproxy",
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate-meter denials (420 responses)",
			},
			[]string{"referrer"},
		),
		RateLimitTokens: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "geoproxy",
				Name:      "rate_limit_tokens",
				Help:      "Current token-bucket level, by referrer and rule",
			},
			[]string{"referrer", "rule_url"},
		),

		CredentialFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geoproxy",
				Name:      "credential_failures_total",
				Help:      "Total number of credential acquisition failures",
			},
			[]string{"kind"},
		),
		CredentialRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "geoproxy",
				Name:      "credential_retries_total",
				Help:      "Total number of requests retried after an upstream credential rejection",
			},
		),

		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "geoproxy",
				Name:      "upstream_duration_seconds",
				Help:      "Upstream request duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "status"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geoproxy",
				Name:      "upstream_errors_total",
				Help:      "Total number of upstream transport errors",
			},
			[]string{"type"},
		),
		UpstreamInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "geoproxy",
				Name:      "upstream_requests_in_flight",
				Help:      "Number of requests currently being sent to upstream",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "geoproxy",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "geoproxy",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "geoproxy",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}
