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


package riskdedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/poiesic/riskdedup/ai"
	"github.com/poiesic/riskdedup/ai/cache"
	"github.com/poiesic/riskdedup/ai/openai"
	"github.com/poiesic/riskdedup/backfill"
	"github.com/poiesic/riskdedup/embedding"
	"github.com/poiesic/riskdedup/metrics"
	"github.com/poiesic/riskdedup/recheck"
	"github.com/poiesic/riskdedup/similarity"
	"github.com/poiesic/riskdedup/storage"
	"github.com/poiesic/riskdedup/storage/badger"
	"github.com/poiesic/riskdedup/storage/postgres"
)

// Database ties a record store to the AI services and builds the lookup
// and backfill components on top of them.
type Database struct {
	backend    *badger.Backend
	repo       storage.RecordRepository
	provider   ai.AIProvider
	embedder   ai.Embedder
	dimensions int
	metrics    bool
	baseLogger *slog.Logger
	logger     *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig    *ai.Config
	provider    ai.AIProvider
	postgresDSN string
	inMemory    bool
	lruSize     int
	redis       redis.UniversalClient
	redisTTL    time.Duration
	metrics     bool
	logger      *slog.Logger
}

// WithAIConfig sets the embedding and re-check service settings.
func WithAIConfig(config *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = config
	}
}

// WithProvider uses provider instead of building one from the AI config.
func WithProvider(provider ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithPostgres stores records in PostgreSQL instead of BadgerDB. The file
// path given to NewDatabase is ignored.
func WithPostgres(dsn string) DatabaseOption {
	return func(o *databaseOptions) {
		o.postgresDSN = dsn
	}
}

// WithInMemory keeps the BadgerDB store in memory.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithLRUCache caches up to size embeddings in process.
func WithLRUCache(size int) DatabaseOption {
	return func(o *databaseOptions) {
		o.lruSize = size
	}
}

// WithRedisCache caches embeddings in Redis for ttl. It takes precedence
// over WithLRUCache.
func WithRedisCache(client redis.UniversalClient, ttl time.Duration) DatabaseOption {
	return func(o *databaseOptions) {
		o.redis = client
		o.redisTTL = ttl
	}
}

// WithMetrics feeds the Prometheus collectors in package metrics.
func WithMetrics() DatabaseOption {
	return func(o *databaseOptions) {
		o.metrics = true
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// NewDatabase opens the record store at filePath (or the configured
// PostgreSQL database) and connects the AI provider.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	dimensions := options.aiConfig.Dimensions

	db := &Database{
		dimensions: dimensions,
		metrics:    options.metrics,
		baseLogger: options.logger,
		logger:     options.logger.With("component", "database"),
	}

	if options.postgresDSN != "" {
		repo, err := postgres.Open(context.Background(), options.postgresDSN, dimensions)
		if err != nil {
			return nil, err
		}
		db.repo = repo
	} else {
		backend, err := badger.OpenBackend(filePath, options.inMemory)
		if err != nil {
			return nil, err
		}
		repo, err := badger.NewRecordRepository(backend, dimensions)
		if err != nil {
			backend.Close()
			return nil, err
		}
		db.backend = backend
		db.repo = repo
	}

	provider := options.provider
	if provider == nil {
		var err error
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			db.closeStorage()
			return nil, err
		}
	}
	db.provider = provider

	embedder, err := wrapWithCache(provider.Embedder(), options)
	if err != nil {
		provider.Close()
		db.closeStorage()
		return nil, err
	}
	db.embedder = embedder

	return db, nil
}

func wrapWithCache(inner ai.Embedder, options *databaseOptions) (ai.Embedder, error) {
	var store cache.Store
	switch {
	case options.redis != nil:
		store = cache.NewRedisStore(options.redis, options.redisTTL)
	case options.lruSize > 0:
		lru, err := cache.NewLRUStore(options.lruSize)
		if err != nil {
			return nil, err
		}
		store = lru
	default:
		return inner, nil
	}

	cacheOpts := []cache.Option{cache.WithLogger(options.logger.With("component", "embedding-cache"))}
	if options.metrics {
		cacheOpts = append(cacheOpts, cache.WithCounter(metrics.EmbeddingCacheTotal))
	}
	return cache.New(inner, store, options.aiConfig.EmbeddingModel, cacheOpts...), nil
}

// Close releases the AI provider and the record store.
func (db *Database) Close() error {
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing AI provider", "err", err)
	}
	return db.closeStorage()
}

func (db *Database) closeStorage() error {
	if err := db.repo.Close(); err != nil {
		db.logger.Error("error closing record repository", "err", err)
		return err
	}
	if db.backend != nil {
		if err := db.backend.Close(); err != nil {
			db.logger.Error("error closing backend storage", "err", err)
			return err
		}
	}
	return nil
}

// Repository returns the record store.
func (db *Database) Repository() storage.RecordRepository {
	return db.repo
}

// Provider returns the AI provider.
func (db *Database) Provider() ai.AIProvider {
	return db.provider
}

// NewEmbeddingClient builds an embedding client over the (possibly cached)
// embedder. Options are applied after the database defaults.
func (db *Database) NewEmbeddingClient(opts ...embedding.Option) (*embedding.Client, error) {
	defaults := []embedding.Option{
		embedding.WithDimensions(db.dimensions),
		embedding.WithLogger(db.baseLogger.With("component", "embedding-client")),
	}
	if db.metrics {
		defaults = append(defaults, embedding.WithObserver(metrics.EmbeddingObserver{}))
	}
	return embedding.NewClient(db.embedder, append(defaults, opts...)...)
}

// NewFinder builds a similarity finder with a semantic re-checker backed by
// the provider. Options are applied after the database defaults.
func (db *Database) NewFinder(opts ...similarity.Option) (*similarity.Finder, error) {
	client, err := db.NewEmbeddingClient()
	if err != nil {
		return nil, err
	}
	checker, err := recheck.NewChecker(db.provider.Rechecker(), recheck.WithLogger(db.baseLogger))
	if err != nil {
		return nil, err
	}

	defaults := []similarity.Option{
		similarity.WithRechecker(checker),
		similarity.WithLogger(db.baseLogger),
	}
	if db.metrics {
		defaults = append(defaults, similarity.WithMonitor(metrics.LookupMonitor{}))
	}
	return similarity.NewFinder(db.repo, client, append(defaults, opts...)...)
}

// NewBackfillJob builds a backfill job. A nil config means
// backfill.DefaultConfig().
func (db *Database) NewBackfillJob(config *backfill.Config, opts ...backfill.Option) (*backfill.Job, error) {
	client, err := db.NewEmbeddingClient()
	if err != nil {
		return nil, err
	}

	defaults := []backfill.Option{backfill.WithLogger(db.baseLogger)}
	if db.metrics {
		defaults = append(defaults, backfill.WithObserver(metrics.BackfillObserver{}))
	}
	return backfill.NewJob(db.repo, client, config, append(defaults, opts...)...)
}
