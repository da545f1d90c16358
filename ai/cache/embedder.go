// Package cache provides an ai.Embedder decorator that memoizes vectors in a
// key-value store. An in-process LRU and a Redis-backed store are included.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/go-crypt/x/blake2b"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/poiesic/riskdedup/ai"
)

const keyPrefix = "riskdedup:emb:"

// ErrMiss is returned by a Store when the key is absent.
var ErrMiss = errors.New("cache miss")

// Store is the key-value contract the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachedEmbedder caches embeddings keyed by model and text hash.
// Store failures degrade to a miss and are never returned to callers.
type CachedEmbedder struct {
	inner      ai.Embedder
	store      Store
	model      string
	cacheTotal *prometheus.CounterVec
	logger     *slog.Logger
}

var _ ai.Embedder = (*CachedEmbedder)(nil)

// Option configures a CachedEmbedder.
type Option func(*CachedEmbedder)

// WithCounter records "hit" and "miss" results on a counter vec with a
// single "result" label.
func WithCounter(cacheTotal *prometheus.CounterVec) Option {
	return func(c *CachedEmbedder) {
		c.cacheTotal = cacheTotal
	}
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *CachedEmbedder) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New wraps inner. model is part of every key so switching models never
// serves stale vectors.
func New(inner ai.Embedder, store Store, model string, opts ...Option) *CachedEmbedder {
	c := &CachedEmbedder{
		inner:  inner,
		store:  store,
		model:  model,
		logger: slog.Default().With("component", "embedding-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmbedText returns a cached vector or calls the inner embedder.
func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return vec, nil
	}
	c.incCache("miss")

	vec, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vec) > 0 {
		c.putToCache(ctx, key, vec)
	}
	return vec, nil
}

// EmbedTexts serves what it can from cache and batches the misses into one
// inner call.
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int

	for i, text := range texts {
		keys[i] = c.cacheKey(text)
		if vec, ok := c.getFromCache(ctx, keys[i]); ok {
			c.incCache("hit")
			results[i] = vec
			continue
		}
		c.incCache("miss")
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vectors, err := c.inner.EmbedTexts(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("embed texts: %w", err)
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("embed texts: got %d vectors for %d texts", len(vectors), len(batch))
	}
	for j, i := range missing {
		results[i] = vectors[j]
		if len(vectors[j]) > 0 {
			c.putToCache(ctx, keys[i], vectors[j])
		}
	}
	return results, nil
}

func (c *CachedEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

// cacheKey hashes model and text with BLAKE2b-256.
func (c *CachedEmbedder) cacheKey(text string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(c.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedEmbedder) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("failed to get cached embedding", "key", key, "err", err)
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil {
		c.logger.Warn("failed to parse cached embedding", "key", key, "err", err)
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbedder) putToCache(ctx context.Context, key string, vec []float32) {
	if err := c.store.Set(ctx, key, vectorToBytes(vec)); err != nil {
		c.logger.Warn("failed to cache embedding", "key", key, "err", err)
	}
}

func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
