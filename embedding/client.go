// Package embedding is the best-effort bridge between record text and vectors.
//
// Every failure mode of the embedding service (transport errors, malformed or
// empty responses, wrong dimensions, cancellation, even panics) becomes a nil
// vector. Callers treat nil as "no embedding available" and move on.
package embedding

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/poiesic/riskdedup/ai"
	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/normalize"
	"github.com/poiesic/riskdedup/vector"
)

// Outcomes reported to an Observer.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeInvalid = "invalid"
	OutcomeSkipped = "skipped"
)

// Observer receives one outcome per Generate call.
type Observer interface {
	EmbeddingGenerated(outcome string, elapsed time.Duration)
}

// Client produces normalized embedding vectors, never returning an error.
type Client struct {
	embedder    ai.Embedder
	maxLength   int
	dimensions  int
	maxAttempts int
	baseDelay   time.Duration
	limiter     *rate.Limiter
	observer    Observer
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithMaxLength sets the character budget for record text.
func WithMaxLength(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return errors.New("max length must be positive")
		}
		c.maxLength = n
		return nil
	}
}

// WithDimensions makes Generate discard vectors whose length is not n.
func WithDimensions(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			return errors.New("dimensions cannot be negative")
		}
		c.dimensions = n
		return nil
	}
}

// WithRetry allows up to maxAttempts requests per Generate call, with
// exponential backoff starting at baseDelay. The default is a single attempt.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		c.maxAttempts = maxAttempts
		c.baseDelay = baseDelay
		return nil
	}
}

// WithRateLimit caps outgoing requests at rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 || burst <= 0 {
			return errors.New("rate limit and burst must be positive")
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithObserver reports each call's outcome.
func WithObserver(o Observer) Option {
	return func(c *Client) error {
		c.observer = o
		return nil
	}
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// NewClient wraps an ai.Embedder.
func NewClient(embedder ai.Embedder, opts ...Option) (*Client, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	c := &Client{
		embedder:    embedder,
		maxLength:   normalize.DefaultMaxLength,
		maxAttempts: 1,
		logger:      slog.Default().With("component", "embedding-client"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Text returns the normalized text that would be embedded for r.
func (c *Client) Text(r *core.Record) string {
	return normalize.RecordText(r, c.maxLength)
}

// GenerateForRecord embeds the normalized text of r.
func (c *Client) GenerateForRecord(ctx context.Context, r *core.Record) []float32 {
	return c.Generate(ctx, c.Text(r))
}

// Generate returns a unit-length embedding of text, or nil when the text is
// blank or the service does not produce a usable vector.
func (c *Client) Generate(ctx context.Context, text string) (result []float32) {
	start := time.Now()
	outcome := OutcomeError
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("embedding request panicked", "panic", r)
			result = nil
			outcome = OutcomeError
		}
		if c.observer != nil {
			c.observer.EmbeddingGenerated(outcome, time.Since(start))
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		outcome = OutcomeSkipped
		return nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Warn("embedding request not sent", "err", err)
			return nil
		}
	}

	var vec []float32
	err := RetryWithBackoff(ctx, func() error {
		v, err := c.embedder.EmbedText(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}, c.maxAttempts, c.baseDelay)
	if err != nil {
		c.logger.Warn("embedding request failed", "err", err, "length", len(text))
		return nil
	}

	if len(vec) == 0 {
		outcome = OutcomeInvalid
		c.logger.Warn("embedding response had no vector")
		return nil
	}
	if c.dimensions > 0 && len(vec) != c.dimensions {
		outcome = OutcomeInvalid
		c.logger.Warn("embedding has unexpected dimensions", "got", len(vec), "want", c.dimensions)
		return nil
	}

	outcome = OutcomeOK
	return vector.Normalize(vec)
}
