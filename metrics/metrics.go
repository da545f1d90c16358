// Package metrics exposes Prometheus collectors for the embedding, lookup
// and backfill paths, plus adapters that feed them from the hook interfaces
// those packages define.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "riskdedup"

// Embedding metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding requests by outcome",
		},
		[]string{"outcome"}, // ok / error / invalid / skipped
	)

	EmbeddingRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

// Similarity lookup metrics.
var (
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "similarity_lookups_total",
			Help:      "Similarity lookups by operation",
		},
		[]string{"operation"},
	)

	LookupResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "similarity_lookup_results",
			Help:      "Number of matches returned per lookup",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		},
		[]string{"operation"},
	)

	MatchScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "similarity_match_score",
			Help:      "Final score of returned matches",
			Buckets:   prometheus.LinearBuckets(50, 5, 11),
		},
	)

	ExactMatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "similarity_exact_matches_total",
			Help:      "Candidates matched by exact title",
		},
	)

	CandidatesKeptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "similarity_candidates_total",
			Help:      "Candidates scored by vector and how many cleared the threshold",
		},
		[]string{"stage"}, // "scored" / "kept"
	)

	RechecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "similarity_rechecks_total",
			Help:      "Semantic re-checks by outcome",
		},
		[]string{"outcome"},
	)

	RecheckCapReachedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "similarity_recheck_cap_reached_total",
			Help:      "Lookups that hit the re-check cap",
		},
	)
)

// Backfill metrics.
var (
	BackfillRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_records_total",
			Help:      "Backfilled records by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	BackfillBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backfill_batch_duration_seconds",
			Help:      "Time to drain one backfill batch",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"kind"},
	)
)

var registered bool

// Register registers all collectors with the default registry. Must be
// called once from main; later calls do nothing.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingCacheTotal,
		LookupsTotal,
		LookupResults,
		MatchScores,
		ExactMatchesTotal,
		CandidatesKeptTotal,
		RechecksTotal,
		RecheckCapReachedTotal,
		BackfillRecordsTotal,
		BackfillBatchDuration,
	)
	registered = true
}
