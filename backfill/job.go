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


package backfill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/embedding"
	"github.com/poiesic/riskdedup/limiter"
	"github.com/poiesic/riskdedup/storage"
)

// Record outcomes passed to Observer.RecordProcessed.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeDryRun    = "dry_run"
)

// Stats summarizes a run.
type Stats struct {
	RunID     string
	Processed int
	Succeeded int
	Failed    int
}

// Observer receives one call per processed record and per finished batch.
type Observer interface {
	RecordProcessed(kind core.RecordKind, outcome string)
	BatchCompleted(kind core.RecordKind, size int, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) RecordProcessed(core.RecordKind, string)            {}
func (noopObserver) BatchCompleted(core.RecordKind, int, time.Duration) {}

// Job fills in missing embeddings for one record kind.
type Job struct {
	repo     storage.RecordRepository
	client   *embedding.Client
	config   Config
	progress io.Writer
	observer Observer
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Option configures a Job.
type Option func(*Job) error

// WithProgress sets where progress lines are written. Default is io.Discard.
func WithProgress(w io.Writer) Option {
	return func(j *Job) error {
		if w != nil {
			j.progress = w
		}
		return nil
	}
}

// WithObserver attaches per-record and per-batch hooks.
func WithObserver(o Observer) Option {
	return func(j *Job) error {
		if o != nil {
			j.observer = o
		}
		return nil
	}
}

// WithTracer sets the tracer used for run and batch spans.
func WithTracer(t trace.Tracer) Option {
	return func(j *Job) error {
		if t != nil {
			j.tracer = t
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) error {
		if logger == nil {
			logger = slog.Default()
		}
		j.logger = logger
		return nil
	}
}

// NewJob creates a backfill job. A nil config means DefaultConfig().
func NewJob(repo storage.RecordRepository, client *embedding.Client, config *Config, opts ...Option) (*Job, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	if client == nil {
		return nil, ErrEmbeddingClientRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	j := &Job{
		repo:     repo,
		client:   client,
		config:   *config,
		progress: io.Discard,
		observer: noopObserver{},
		tracer:   otel.Tracer("github.com/poiesic/riskdedup/backfill"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(j); err != nil {
			return nil, err
		}
	}
	j.logger = j.logger.With("component", "backfill", "kind", config.Kind.String())

	return j, nil
}

// Run embeds every pending record and returns the totals. Batches run one
// after another; records within a batch share MaxConcurrency slots. A
// storage or context error stops the run and is returned with the totals so
// far. A panic yields zero totals and ErrJobPanicked.
func (j *Job) Run(ctx context.Context) (stats Stats, err error) {
	runID := uuid.NewString()
	logger := j.logger.With("runID", runID)

	ctx, span := j.tracer.Start(ctx, "backfill.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("record.kind", j.config.Kind.String()),
		attribute.Bool("dry_run", j.config.DryRun),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("backfill run panicked", "panic", p)
			stats = Stats{RunID: runID}
			err = fmt.Errorf("%w: %v", ErrJobPanicked, p)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("processed", stats.Processed),
			attribute.Int("succeeded", stats.Succeeded),
			attribute.Int("failed", stats.Failed),
		)
	}()

	stats.RunID = runID

	executor, err := limiter.New(j.config.MaxConcurrency)
	if err != nil {
		return stats, err
	}
	defer executor.Release()

	total, err := j.repo.CountMissingEmbedding(ctx, j.config.Kind)
	if err != nil {
		logger.Warn("could not count pending records", "err", err)
		total = 0
	}
	logger.Info("starting backfill", "pending", total, "batchSize", j.config.BatchSize,
		"maxConcurrency", j.config.MaxConcurrency, "dryRun", j.config.DryRun)

	tracker := NewProgressTracker(j.progress, total, j.config.ReportInterval)
	tracker.Start()

	iterator := NewPendingIterator(j.repo, j.config.Kind, j.config.BatchSize)
	err = iterator.ForEach(ctx, func(batch []*core.Record) error {
		started := time.Now()
		results := make([]<-chan error, len(batch))
		for i, record := range batch {
			results[i] = executor.Submit(ctx, func(ctx context.Context) error {
				return j.processRecord(ctx, record)
			})
		}

		for i, result := range results {
			unitErr := <-result
			if unitErr != nil && ctx.Err() != nil && errors.Is(unitErr, ctx.Err()) {
				continue
			}
			stats.Processed++
			tracker.Increment(1)
			if unitErr != nil {
				stats.Failed++
				logger.Warn("failed to backfill record", "recordID", batch[i].Id, "err", unitErr)
				j.observer.RecordProcessed(j.config.Kind, OutcomeFailed)
				continue
			}
			stats.Succeeded++
			if j.config.DryRun {
				j.observer.RecordProcessed(j.config.Kind, OutcomeDryRun)
			} else {
				j.observer.RecordProcessed(j.config.Kind, OutcomeSucceeded)
			}
		}

		j.observer.BatchCompleted(j.config.Kind, len(batch), time.Since(started))
		logger.Debug("batch complete", "size", len(batch), "cursor", batch[len(batch)-1].Id)
		return nil
	})
	tracker.Finish()

	if err != nil {
		logger.Error("backfill stopped early", "err", err, "processed", stats.Processed)
		return stats, err
	}

	logger.Info("backfill complete", "processed", stats.Processed, "succeeded", stats.Succeeded,
		"failed", stats.Failed, "elapsed", tracker.Elapsed().Round(time.Millisecond))
	return stats, nil
}

// processRecord embeds and stores one record. In dry-run mode it does
// nothing.
func (j *Job) processRecord(ctx context.Context, record *core.Record) error {
	if j.config.DryRun {
		return nil
	}

	vec := j.client.GenerateForRecord(ctx, record)
	if vec == nil {
		return ErrNoEmbedding
	}
	if err := j.repo.SetRecordEmbedding(ctx, record.Id, vec); err != nil {
		return fmt.Errorf("storing embedding for record %d: %w", record.Id, err)
	}
	return nil
}
