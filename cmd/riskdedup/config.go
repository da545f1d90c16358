package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poiesic/riskdedup/ai"
	"github.com/poiesic/riskdedup/backfill"
	"github.com/poiesic/riskdedup/similarity"
)

// Config is the optional YAML configuration file. Command-line flags take
// precedence over anything set here.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	AI         AIConfig         `yaml:"ai"`
	Cache      CacheConfig      `yaml:"cache"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DatabaseConfig selects the record store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AIConfig holds embedding and re-check service settings.
type AIConfig struct {
	EmbeddingHost  string `yaml:"embedding_host"`
	EmbeddingModel string `yaml:"embedding_model"`
	RecheckHost    string `yaml:"recheck_host"`
	RecheckModel   string `yaml:"recheck_model"`
	APIToken       string `yaml:"api_token"`
	Dimensions     int    `yaml:"dimensions"`
}

// CacheConfig enables an embedding cache.
type CacheConfig struct {
	LRUSize   int           `yaml:"lru_size"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisTTL  time.Duration `yaml:"redis_ttl"`
}

// BackfillConfig holds backfill defaults.
type BackfillConfig struct {
	BatchSize      int `yaml:"batch_size"`
	MaxConcurrency int `yaml:"max_concurrency"`
}

// SimilarityConfig holds lookup thresholds.
type SimilarityConfig struct {
	Threshold  int `yaml:"threshold"`
	ExactScore int `yaml:"exact_score"`
	BandLow    int `yaml:"band_low"`
	BandHigh   int `yaml:"band_high"`
	RecheckCap int `yaml:"recheck_cap"`
	Limit      int `yaml:"limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // e.g. ":9090"; empty disables
}

// LoadConfig reads path, expands ${VAR} references, applies defaults and
// validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	aiDefaults := ai.DefaultConfig()
	if c.AI.EmbeddingHost == "" {
		c.AI.EmbeddingHost = aiDefaults.EmbeddingHost
	}
	if c.AI.RecheckHost == "" {
		c.AI.RecheckHost = c.AI.EmbeddingHost
	}
	if c.AI.EmbeddingModel == "" {
		c.AI.EmbeddingModel = aiDefaults.EmbeddingModel
	}
	if c.AI.RecheckModel == "" {
		c.AI.RecheckModel = aiDefaults.RecheckModel
	}
	if c.AI.APIToken == "" {
		c.AI.APIToken = aiDefaults.APIToken
	}
	if c.Cache.RedisAddr != "" && c.Cache.RedisTTL <= 0 {
		c.Cache.RedisTTL = 24 * time.Hour
	}
	if c.Backfill.BatchSize <= 0 {
		c.Backfill.BatchSize = backfill.DefaultBatchSize
	}
	if c.Backfill.MaxConcurrency <= 0 {
		c.Backfill.MaxConcurrency = backfill.DefaultMaxConcurrency
	}
	if c.Similarity.Threshold <= 0 {
		c.Similarity.Threshold = similarity.DefaultSimilarityThreshold
	}
	if c.Similarity.ExactScore <= 0 {
		c.Similarity.ExactScore = similarity.DefaultExactMatchScore
	}
	if c.Similarity.BandLow <= 0 && c.Similarity.BandHigh <= 0 {
		c.Similarity.BandLow = similarity.DefaultBandLow
		c.Similarity.BandHigh = similarity.DefaultBandHigh
	}
	if c.Similarity.RecheckCap <= 0 {
		c.Similarity.RecheckCap = similarity.DefaultRecheckCap
	}
	if c.Similarity.Limit <= 0 {
		c.Similarity.Limit = similarity.DefaultLimit
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.AI.Dimensions < 0 {
		return fmt.Errorf("ai.dimensions cannot be negative")
	}
	if c.Cache.LRUSize < 0 {
		return fmt.Errorf("cache.lru_size cannot be negative")
	}
	if c.Similarity.BandLow > c.Similarity.BandHigh {
		return fmt.Errorf("similarity.band_low (%d) exceeds band_high (%d)", c.Similarity.BandLow, c.Similarity.BandHigh)
	}
	for name, v := range map[string]int{
		"similarity.threshold":   c.Similarity.Threshold,
		"similarity.exact_score": c.Similarity.ExactScore,
		"similarity.band_high":   c.Similarity.BandHigh,
	} {
		if v > 100 {
			return fmt.Errorf("%s must be at most 100, got %d", name, v)
		}
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// aiConfig converts the file settings into an ai.Config.
func (c *Config) aiConfig() *ai.Config {
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithRecheckHost(c.AI.RecheckHost),
		ai.WithRecheckModel(c.AI.RecheckModel),
		ai.WithAPIToken(c.AI.APIToken),
		ai.WithDimensions(c.AI.Dimensions),
	)
	cfg.Normalize()
	return cfg
}

// finderOptions converts the thresholds into similarity options.
func (c *Config) finderOptions() []similarity.Option {
	return []similarity.Option{
		similarity.WithSimilarityThreshold(c.Similarity.Threshold),
		similarity.WithExactMatchScore(c.Similarity.ExactScore),
		similarity.WithBorderlineBand(c.Similarity.BandLow, c.Similarity.BandHigh),
		similarity.WithRecheckCap(c.Similarity.RecheckCap),
		similarity.WithDefaultLimit(c.Similarity.Limit),
	}
}
