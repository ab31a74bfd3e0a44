package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geminimock"

type Metrics struct {
	Requests           *prometheus.CounterVec
	Tokens             *prometheus.CounterVec
	TokenLimitRejected prometheus.Counter
	PresetMatches      *prometheus.CounterVec
	BatchJobs          *prometheus.CounterVec
	CacheHits          prometheus.Counter
	CacheEntries       prometheus.Gauge
	RateLimited        prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// Global registers the process-wide metrics on the default registry.
func Global() *Metrics {
	once.Do(func() {
		global = New(prometheus.DefaultRegisterer)
	})
	return global
}

// New builds a metric set registered on reg. Tests pass a fresh
// prometheus.NewRegistry() to stay isolated.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total API requests by surface, action and response code",
		}, []string{"surface", "action", "code"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Estimated tokens reported in usage metadata",
		}, []string{"kind"}),
		TokenLimitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_limit_rejections_total",
			Help:      "Requests rejected for exceeding a model input limit",
		}),
		PresetMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preset_matches_total",
			Help:      "Payload selections by preset id, schema or fallback",
		}, []string{"source"}),
		BatchJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_jobs_total",
			Help:      "Batch jobs by terminal state",
		}, []string{"state"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cached content applied to a generation request",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Live cached content entries",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-credential rate limit",
		}),
	}
	reg.MustRegister(
		m.Requests,
		m.Tokens,
		m.TokenLimitRejected,
		m.PresetMatches,
		m.BatchJobs,
		m.CacheHits,
		m.CacheEntries,
		m.RateLimited,
	)
	return m
}
