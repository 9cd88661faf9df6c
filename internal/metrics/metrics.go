// Package metrics holds the internal Prometheus registry. litegate never
// exposes a /metrics HTTP route itself — scraping is an external
// collaborator's job — so this package only registers collectors for a
// caller-supplied prometheus.Registerer to expose however the
// deployment chooses.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the pipeline and its components touch.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	RateLimitRejects    *prometheus.CounterVec
	BudgetRejects       *prometheus.CounterVec
	TokensProcessed     *prometheus.CounterVec
	SpendTotal          *prometheus.CounterVec
	DeploymentState     *prometheus.GaugeVec
	DeploymentCooldowns *prometheus.CounterVec
	GuardrailBlocks     *prometheus.CounterVec
}

// New creates and registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "litegate",
			Name:      "requests_total",
			Help:      "Total number of gateway requests.",
		}, []string{"model", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "litegate",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "litegate",
			Name:      "active_requests",
			Help:      "Number of requests currently in flight.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "litegate",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "litegate",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "litegate",
			Name:      "ratelimit_rejects_total",
			Help:      "Total requests rejected for exceeding a rate limit.",
		}, []string{"scope"}),

		BudgetRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "litegate",
			Name:      "budget_rejects_total",
			Help:      "Total requests rejected for exceeding a hard spend budget.",
		}, []string{"scope"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "litegate",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		SpendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "litegate",
			Name:      "spend_usd_total",
			Help:      "Total accounted spend in USD.",
		}, []string{"model"}),

		DeploymentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "litegate",
			Name:      "deployment_state",
			Help:      "Deployment health state (0=healthy, 1=cooldown).",
		}, []string{"deployment_id"}),

		DeploymentCooldowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "litegate",
			Name:      "deployment_cooldowns_total",
			Help:      "Total times a deployment entered cooldown.",
		}, []string{"deployment_id"}),

		GuardrailBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "litegate",
			Name:      "guardrail_blocks_total",
			Help:      "Total requests blocked by a guardrail.",
		}, []string{"guardrail"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.BudgetRejects,
		m.TokensProcessed,
		m.SpendTotal,
		m.DeploymentState,
		m.DeploymentCooldowns,
		m.GuardrailBlocks,
	)

	return m
}
