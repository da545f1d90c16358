package metrics

import (
	"time"

	"github.com/poiesic/riskdedup/backfill"
	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/embedding"
	"github.com/poiesic/riskdedup/similarity"
)

// EmbeddingObserver feeds the embedding collectors.
type EmbeddingObserver struct{}

var _ embedding.Observer = EmbeddingObserver{}

func (EmbeddingObserver) EmbeddingGenerated(outcome string, elapsed time.Duration) {
	EmbeddingRequestsTotal.WithLabelValues(outcome).Inc()
	if outcome != embedding.OutcomeSkipped {
		EmbeddingRequestDuration.Observe(elapsed.Seconds())
	}
}

// LookupMonitor feeds the similarity collectors.
type LookupMonitor struct{}

var _ similarity.Monitor = LookupMonitor{}

func (LookupMonitor) Start(operation string) {
	LookupsTotal.WithLabelValues(operation).Inc()
}

func (LookupMonitor) ExactMatches(count int) {
	ExactMatchesTotal.Add(float64(count))
}

func (LookupMonitor) CandidatesScored(scored, kept int) {
	CandidatesKeptTotal.WithLabelValues("scored").Add(float64(scored))
	CandidatesKeptTotal.WithLabelValues("kept").Add(float64(kept))
}

func (LookupMonitor) Rechecked(outcome string) {
	RechecksTotal.WithLabelValues(outcome).Inc()
}

func (LookupMonitor) RecheckCapReached() {
	RecheckCapReachedTotal.Inc()
}

func (LookupMonitor) Finish(operation string, matches []similarity.Match) {
	LookupResults.WithLabelValues(operation).Observe(float64(len(matches)))
	for _, m := range matches {
		MatchScores.Observe(float64(m.Score))
	}
}

// BackfillObserver feeds the backfill collectors.
type BackfillObserver struct{}

var _ backfill.Observer = BackfillObserver{}

func (BackfillObserver) RecordProcessed(kind core.RecordKind, outcome string) {
	BackfillRecordsTotal.WithLabelValues(kind.String(), outcome).Inc()
}

func (BackfillObserver) BatchCompleted(kind core.RecordKind, _ int, elapsed time.Duration) {
	BackfillBatchDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}
