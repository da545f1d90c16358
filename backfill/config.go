package backfill

import (
	"fmt"

	"github.com/poiesic/riskdedup/core"
)

// Defaults for Config.
const (
	DefaultBatchSize      = 10
	DefaultMaxConcurrency = 2
	DefaultReportInterval = 10
)

// Config holds configuration for a backfill run.
type Config struct {
	// Kind selects which records are backfilled.
	Kind core.RecordKind

	// BatchSize is the number of records fetched per batch
	BatchSize int

	// MaxConcurrency is the number of records embedded at once
	MaxConcurrency int

	// DryRun walks the pending records without calling the embedding
	// service or writing anything.
	DryRun bool

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int
}

// DefaultConfig returns a Config for risks with the default sizes.
func DefaultConfig() *Config {
	return &Config{
		Kind:           core.RecordKindRisk,
		BatchSize:      DefaultBatchSize,
		MaxConcurrency: DefaultMaxConcurrency,
		ReportInterval: DefaultReportInterval,
	}
}

// Validate checks the configured sizes and kind.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: max concurrency must be positive, got %d", ErrInvalidConfig, c.MaxConcurrency)
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("%w: report interval must be positive, got %d", ErrInvalidConfig, c.ReportInterval)
	}
	if err := core.ValidateRecordKind(c.Kind); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
