// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/embedding"
	"github.com/poiesic/riskdedup/recheck"
	"github.com/poiesic/riskdedup/storage"
	"github.com/poiesic/riskdedup/vector"
)

// Defaults for the Finder thresholds.
const (
	DefaultSimilarityThreshold = 70
	DefaultExactMatchScore     = 95
	DefaultBandLow             = 65
	DefaultBandHigh            = 85
	DefaultRecheckCap          = 10
	DefaultLimit               = 10
	MinTitleLength             = 3
)

const (
	opExisting = "existing"
	opNew      = "new"
)

// Rechecker confirms or corrects a borderline vector score.
type Rechecker interface {
	Recheck(ctx context.Context, a, b *core.Record) (*recheck.Result, error)
}

var _ Rechecker = (*recheck.Checker)(nil)

// Finder ranks stored records by their similarity to a target.
type Finder struct {
	repository storage.RecordRepository
	embeddings *embedding.Client
	rechecker  Rechecker

	threshold    int
	exactScore   int
	bandLow      int
	bandHigh     int
	recheckCap   int
	defaultLimit int

	monitor Monitor
	tracer  trace.Tracer
	logger  *slog.Logger
}

// Option configures a Finder.
type Option func(*Finder) error

// WithSimilarityThreshold sets the minimum score a vector match must reach.
func WithSimilarityThreshold(score int) Option {
	return func(f *Finder) error {
		if err := checkScore(score); err != nil {
			return err
		}
		f.threshold = score
		return nil
	}
}

// WithExactMatchScore sets the score given to exact title matches.
func WithExactMatchScore(score int) Option {
	return func(f *Finder) error {
		if err := checkScore(score); err != nil {
			return err
		}
		f.exactScore = score
		return nil
	}
}

// WithBorderlineBand sets the inclusive score range that triggers a re-check.
func WithBorderlineBand(low, high int) Option {
	return func(f *Finder) error {
		if err := checkScore(low); err != nil {
			return err
		}
		if err := checkScore(high); err != nil {
			return err
		}
		if low > high {
			return ErrInvalidBand
		}
		f.bandLow, f.bandHigh = low, high
		return nil
	}
}

// WithRecheckCap limits the number of re-checks per FindSimilarForNew call.
// Zero disables re-checking.
func WithRecheckCap(n int) Option {
	return func(f *Finder) error {
		if n < 0 {
			return fmt.Errorf("recheck cap cannot be negative: %d", n)
		}
		f.recheckCap = n
		return nil
	}
}

// WithDefaultLimit sets the result count used when a caller passes limit <= 0.
func WithDefaultLimit(n int) Option {
	return func(f *Finder) error {
		if n <= 0 {
			return fmt.Errorf("default limit must be positive: %d", n)
		}
		f.defaultLimit = n
		return nil
	}
}

// WithRechecker sets the borderline re-checker. Without one, borderline
// scores are kept as computed.
func WithRechecker(r Rechecker) Option {
	return func(f *Finder) error {
		f.rechecker = r
		return nil
	}
}

// WithMonitor attaches lookup hooks.
func WithMonitor(m Monitor) Option {
	return func(f *Finder) error {
		if m != nil {
			f.monitor = m
		}
		return nil
	}
}

// WithTracer sets the tracer used for lookup spans.
// Default is the global otel tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(f *Finder) error {
		if t != nil {
			f.tracer = t
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Finder) error {
		if logger == nil {
			logger = slog.Default()
		}
		f.logger = logger
		return nil
	}
}

// NewFinder creates a Finder over repository.
func NewFinder(repository storage.RecordRepository, embeddings *embedding.Client, opts ...Option) (*Finder, error) {
	if repository == nil {
		return nil, ErrRepositoryRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingClientRequired
	}

	f := &Finder{
		repository:   repository,
		embeddings:   embeddings,
		threshold:    DefaultSimilarityThreshold,
		exactScore:   DefaultExactMatchScore,
		bandLow:      DefaultBandLow,
		bandHigh:     DefaultBandHigh,
		recheckCap:   DefaultRecheckCap,
		defaultLimit: DefaultLimit,
		monitor:      &noopMonitor{},
		tracer:       otel.Tracer("github.com/poiesic/riskdedup/similarity"),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	f.logger = f.logger.With("component", "similarity")

	return f, nil
}

// FindSimilarForExisting returns up to limit stored records similar to the
// record with the given id. Any failure yields an empty result.
func (f *Finder) FindSimilarForExisting(ctx context.Context, id core.ID, limit int) (matches []Match) {
	ctx, span := f.tracer.Start(ctx, "similarity.FindSimilarForExisting",
		trace.WithAttributes(attribute.Int64("record.id", int64(id))))
	defer span.End()
	f.monitor.Start(opExisting)

	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("panic while finding similar records", "recordID", id, "panic", p)
			span.SetStatus(codes.Error, "panic")
			matches = []Match{}
		}
		f.monitor.Finish(opExisting, matches)
		span.SetAttributes(attribute.Int("results", len(matches)))
	}()

	ranked, err := f.RankExisting(ctx, id, limit)
	if err != nil {
		f.logger.Error("error finding similar records", "recordID", id, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return []Match{}
	}
	return ToMatches(ranked)
}

// FindSimilarForNew returns up to limit stored records similar to input,
// which need not be stored. excludeID, when non-zero, is left out of the
// candidates. Any failure yields an empty result.
func (f *Finder) FindSimilarForNew(ctx context.Context, input *core.Record, limit int, excludeID core.ID) (matches []Match) {
	ctx, span := f.tracer.Start(ctx, "similarity.FindSimilarForNew")
	defer span.End()
	f.monitor.Start(opNew)

	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("panic while finding similar records for new input", "panic", p)
			span.SetStatus(codes.Error, "panic")
			matches = []Match{}
		}
		f.monitor.Finish(opNew, matches)
		span.SetAttributes(attribute.Int("results", len(matches)))
	}()

	ranked, err := f.RankNew(ctx, input, limit, excludeID)
	if err != nil {
		f.logger.Error("error finding similar records for new input", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return []Match{}
	}
	return ToMatches(ranked)
}

// RankExisting is FindSimilarForExisting without the error shield. A
// missing record is an empty result, not an error.
func (f *Finder) RankExisting(ctx context.Context, id core.ID, limit int) ([]*core.Candidate, error) {
	limit = f.limitOrDefault(limit)

	target, err := f.repository.GetRecord(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		f.logger.Debug("target record not found", "recordID", id)
		return []*core.Candidate{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading record %d: %w", id, err)
	}

	if !target.HasVector() {
		vec := f.embeddings.GenerateForRecord(ctx, target)
		if vec == nil {
			f.logger.Warn("no embedding available for target record", "recordID", id)
			return []*core.Candidate{}, nil
		}
		if err := f.repository.SetRecordEmbedding(ctx, id, vec); err != nil {
			f.logger.Warn("failed to persist target embedding", "recordID", id, "err", err)
		}
		target.Vector = vec
	}

	candidates, err := f.repository.ListRecords(ctx, target.Kind, target.Id)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	if len(candidates) == 0 {
		return []*core.Candidate{}, nil
	}

	kept, err := f.scoreByVector(target.Vector, candidates)
	if err != nil {
		return nil, err
	}
	sortByScore(kept)
	return truncate(kept, limit), nil
}

// RankNew is FindSimilarForNew without the error shield.
func (f *Finder) RankNew(ctx context.Context, input *core.Record, limit int, excludeID core.ID) ([]*core.Candidate, error) {
	if input == nil || utf8.RuneCountInString(strings.TrimSpace(input.Title)) < MinTitleLength {
		return []*core.Candidate{}, nil
	}
	limit = f.limitOrDefault(limit)

	kind := input.Kind
	if kind == 0 {
		kind = core.RecordKindRisk
	}
	candidates, err := f.repository.ListRecords(ctx, kind, excludeID)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	if len(candidates) == 0 {
		return []*core.Candidate{}, nil
	}

	if exact := f.exactMatches(input, candidates); len(exact) > 0 {
		f.monitor.ExactMatches(len(exact))
		return truncate(exact, limit), nil
	}

	vec := f.embeddings.GenerateForRecord(ctx, input)
	if vec == nil {
		f.logger.Warn("no embedding available for new input")
		return []*core.Candidate{}, nil
	}

	kept, err := f.scoreByVector(vec, candidates)
	if err != nil {
		return nil, err
	}
	sortByScore(kept)

	f.recheckBorderline(ctx, input, kept)

	sortByScore(kept)
	return truncate(kept, limit), nil
}

// exactMatches returns, in discovery order, the candidates whose trimmed
// lowercased title equals the input's.
func (f *Finder) exactMatches(input *core.Record, candidates []*core.Record) []*core.Candidate {
	key := titleKey(input.Title)
	var exact []*core.Candidate
	for _, c := range candidates {
		if titleKey(c.Title) == key {
			exact = append(exact, &core.Candidate{
				Record:        c,
				Score:         f.exactScore,
				MatchedFields: []string{core.FieldTitle},
			})
		}
	}
	return exact
}

// scoreByVector scores every candidate that has a vector and keeps those at
// or above the threshold. A dimension mismatch is returned as an error.
func (f *Finder) scoreByVector(target []float32, candidates []*core.Record) ([]*core.Candidate, error) {
	kept := make([]*core.Candidate, 0, len(candidates))
	scored := 0
	for _, c := range candidates {
		if !c.HasVector() {
			continue
		}
		score, err := vector.Score(target, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("scoring record %d: %w", c.Id, err)
		}
		scored++
		if score < f.threshold {
			continue
		}
		kept = append(kept, &core.Candidate{
			Record:        c,
			Score:         score,
			MatchedFields: []string{core.FieldTitle},
		})
	}
	f.monitor.CandidatesScored(scored, len(kept))
	return kept, nil
}

// recheckBorderline replaces the score of borderline candidates with the
// re-checker's verdict, issuing at most recheckCap calls.
func (f *Finder) recheckBorderline(ctx context.Context, input *core.Record, kept []*core.Candidate) {
	if f.rechecker == nil {
		return
	}

	calls := 0
	capped := false
	for _, c := range kept {
		if c.Score < f.bandLow || c.Score > f.bandHigh {
			continue
		}
		if calls >= f.recheckCap {
			if !capped {
				f.logger.Info("re-check cap reached, keeping vector scores", "cap", f.recheckCap)
				f.monitor.RecheckCapReached()
				capped = true
			}
			continue
		}
		calls++

		result, err := f.rechecker.Recheck(ctx, input, c.Record)
		if err != nil {
			f.logger.Warn("re-check failed, keeping vector score", "recordID", c.Record.Id, "score", c.Score, "err", err)
			f.monitor.Rechecked(RecheckFailed)
			continue
		}
		f.logger.Debug("re-checked candidate", "recordID", c.Record.Id, "before", c.Score, "after", result.Score, "method", result.Method)
		f.monitor.Rechecked(RecheckOK)
		c.Score = result.Score
	}
}

func (f *Finder) limitOrDefault(limit int) int {
	if limit <= 0 {
		return f.defaultLimit
	}
	return limit
}

func titleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// sortByScore orders candidates by score descending, keeping discovery order
// among equal scores.
func sortByScore(candidates []*core.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}

func truncate(candidates []*core.Candidate, limit int) []*core.Candidate {
	if len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}

func checkScore(score int) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidScore, score)
	}
	return nil
}
