// Package stats emits per-query outcome records to the statistics sink.
// The core produces the records; storage and querying of statistics belong
// to whoever scrapes the Prometheus endpoint.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Outcome classifies how a served query ended.
type Outcome string

const (
	OutcomeMatched  Outcome = "matched"
	OutcomeFallback Outcome = "fallback"
	OutcomeFailed   Outcome = "failed"
)

// QueryRecord is one served query's outcome.
type QueryRecord struct {
	Outcome    Outcome
	Confidence float64
	Duration   time.Duration
	Degraded   bool
}

// Recorder is the statistics sink interface the engine emits into.
type Recorder interface {
	Query(rec QueryRecord)
	Rebuild(success bool, duration time.Duration)
}

// Prometheus is a Recorder backed by a Prometheus registry, plus cheap
// atomic counters for in-process status reporting.
type Prometheus struct {
	logger *zap.Logger

	servedQueries atomic.Uint64
	fallbackUsed  atomic.Uint64
	failedQueries atomic.Uint64

	queriesTotal  *prometheus.CounterVec
	queryLatency  prometheus.Histogram
	degradedTotal prometheus.Counter
	rebuildsTotal *prometheus.CounterVec
	rebuildTime   prometheus.Histogram
}

// NewPrometheus registers the engine's metrics on reg and returns the
// recorder. Passing a fresh registry keeps tests independent.
func NewPrometheus(reg prometheus.Registerer, logger *zap.Logger) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		logger: logger,
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolscout",
			Name:      "queries_total",
			Help:      "Served recommendation queries by outcome",
		}, []string{"outcome"}),
		queryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "toolscout",
			Name:      "query_duration_seconds",
			Help:      "End-to-end recommendation latency",
			Buckets:   prometheus.DefBuckets,
		}),
		degradedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "toolscout",
			Name:      "degraded_responses_total",
			Help:      "Responses served with at least one degraded component",
		}),
		rebuildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolscout",
			Name:      "index_rebuilds_total",
			Help:      "Index rebuild attempts by result",
		}, []string{"result"}),
		rebuildTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "toolscout",
			Name:      "index_rebuild_duration_seconds",
			Help:      "Index rebuild duration",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
	}
}

func (p *Prometheus) Query(rec QueryRecord) {
	p.servedQueries.Add(1)
	switch rec.Outcome {
	case OutcomeFallback:
		p.fallbackUsed.Add(1)
	case OutcomeFailed:
		p.failedQueries.Add(1)
	}

	p.queriesTotal.WithLabelValues(string(rec.Outcome)).Inc()
	p.queryLatency.Observe(rec.Duration.Seconds())
	if rec.Degraded {
		p.degradedTotal.Inc()
	}
}

func (p *Prometheus) Rebuild(success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	p.rebuildsTotal.WithLabelValues(result).Inc()
	p.rebuildTime.Observe(duration.Seconds())
}

// Counters is a point-in-time snapshot of the in-process counters, used by
// the catalog_stats surface.
type Counters struct {
	ServedQueries uint64 `json:"served_queries"`
	FallbackUsed  uint64 `json:"fallback_used"`
	FailedQueries uint64 `json:"failed_queries"`
}

func (p *Prometheus) Counters() Counters {
	return Counters{
		ServedQueries: p.servedQueries.Load(),
		FallbackUsed:  p.fallbackUsed.Load(),
		FailedQueries: p.failedQueries.Load(),
	}
}

// Nop is a Recorder that discards everything. Useful in tests and in tools
// that do not serve metrics.
type Nop struct{}

func (Nop) Query(QueryRecord)           {}
func (Nop) Rebuild(bool, time.Duration) {}
