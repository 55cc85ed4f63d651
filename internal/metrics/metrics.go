package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Analysis outcomes.
const (
	// OutcomeCacheHit labels analyses answered from the cache.
	OutcomeCacheHit = "cache_hit"
	// OutcomeComputed labels analyses that ran a regression.
	OutcomeComputed = "computed"
	// OutcomeNoTrend labels analyses that ended without a trend (sparse or degenerate data).
	OutcomeNoTrend = "no_trend"
	// OutcomeError labels failed analyses (invalid input or record store issues).
	OutcomeError = "error"
)

// Dispatch paths.
const (
	PathInline   = "inline"
	PathWorker   = "worker"
	PathFallback = "fallback"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "analyses_total",
			Help:      "Total number of trend analyses handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trend_engine",
			Name:      "analysis_seconds",
			Help:      "Trend analysis latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "regressions_total",
			Help:      "Regressions computed, partitioned by execution path.",
		},
		[]string{"path"},
	)

	cacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "cache_operations_total",
			Help:      "Analysis cache operations, partitioned by operation and tier.",
		},
		[]string{"op", "tier"},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trend_engine",
			Name:      "cache_entries",
			Help:      "Entries currently held in the in-memory analysis cache.",
		},
	)

	sweepRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trend_engine",
			Name:      "cache_expired_total",
			Help:      "Analysis cache entries removed by the expiry sweep.",
		},
	)
)

// Register attaches trend-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		dispatchTotal,
		cacheOpsTotal,
		cacheEntries,
		sweepRemovedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeCacheHit, OutcomeComputed, OutcomeNoTrend:
	default:
		outcome = OutcomeError
	}
	analysesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveDispatch counts a regression by the path that computed it.
func ObserveDispatch(path string) {
	dispatchTotal.WithLabelValues(path).Inc()
}

// ObserveCacheOp counts a cache operation (get_hit, get_miss, save, invalidate, error) on a tier.
func ObserveCacheOp(op, tier string) {
	cacheOpsTotal.WithLabelValues(op, tier).Inc()
}

// SetCacheEntries publishes the in-memory cache size.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// ObserveSweep records entries removed by an expiry sweep.
func ObserveSweep(removed int) {
	if removed > 0 {
		sweepRemovedTotal.Add(float64(removed))
	}
}
