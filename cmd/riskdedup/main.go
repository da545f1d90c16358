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


package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/riskdedup"
	"github.com/poiesic/riskdedup/metrics"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "riskdedup",
		Usage: "Near-duplicate detection and embedding maintenance for risk registers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"RISKDEDUP_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory",
			},
			&cli.StringFlag{
				Name:    "postgres-dsn",
				Usage:   "PostgreSQL connection string (replaces --db)",
				EnvVars: []string{"RISKDEDUP_POSTGRES_DSN"},
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
			},
			&cli.StringFlag{
				Name:  "recheck-host",
				Usage: "Chat service host URL for semantic re-checks (defaults to embedding-host)",
			},
			&cli.StringFlag{
				Name:  "recheck-model",
				Usage: "Chat model name for semantic re-checks",
			},
			&cli.StringFlag{
				Name:    "api-token",
				Usage:   "Bearer token for the AI services",
				EnvVars: []string{"RISKDEDUP_API_TOKEN"},
			},
			&cli.IntFlag{
				Name:  "dimensions",
				Usage: "Expected embedding length (0 accepts any)",
			},
			&cli.IntFlag{
				Name:  "lru-cache",
				Usage: "Cache up to N embeddings in memory",
			},
			&cli.StringFlag{
				Name:  "redis-addr",
				Usage: "Cache embeddings in the Redis server at this address",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (e.g. :9090)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			backfillCommand(),
			similarCommand(),
			checkCommand(),
			importCommand(),
			statsCommand(),
		},
	}
}

// resolveConfig loads the configuration file, if any, and applies flag
// overrides on top of it.
func resolveConfig(c *cli.Context) (Config, error) {
	cfg := DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
		if !c.IsSet("log-level") {
			if err := installLogger(cfg.Logging.Level); err != nil {
				return Config{}, err
			}
		}
	}

	overrideString(c, "db", &cfg.Database.Path)
	overrideString(c, "postgres-dsn", &cfg.Database.PostgresDSN)
	overrideString(c, "embedding-host", &cfg.AI.EmbeddingHost)
	overrideString(c, "embedding-model", &cfg.AI.EmbeddingModel)
	overrideString(c, "recheck-host", &cfg.AI.RecheckHost)
	overrideString(c, "recheck-model", &cfg.AI.RecheckModel)
	overrideString(c, "api-token", &cfg.AI.APIToken)
	overrideString(c, "redis-addr", &cfg.Cache.RedisAddr)
	overrideString(c, "metrics-addr", &cfg.Metrics.Addr)
	if c.IsSet("dimensions") {
		cfg.AI.Dimensions = c.Int("dimensions")
	}
	if c.IsSet("lru-cache") {
		cfg.Cache.LRUSize = c.Int("lru-cache")
	}
	if c.IsSet("embedding-host") && !c.IsSet("recheck-host") {
		cfg.AI.RecheckHost = cfg.AI.EmbeddingHost
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Database.Path == "" && cfg.Database.PostgresDSN == "" {
		return Config{}, errors.New("database path is required (--db or database.path)")
	}
	return cfg, nil
}

func overrideString(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}

// openDatabase opens the store and AI provider described by cfg. The
// returned cleanup func closes everything it opened.
func openDatabase(cfg Config) (*riskdedup.Database, func(), error) {
	opts := []riskdedup.DatabaseOption{riskdedup.WithAIConfig(cfg.aiConfig())}
	if cfg.Database.PostgresDSN != "" {
		opts = append(opts, riskdedup.WithPostgres(cfg.Database.PostgresDSN))
	}
	if cfg.Cache.LRUSize > 0 {
		opts = append(opts, riskdedup.WithLRUCache(cfg.Cache.LRUSize))
	}

	var rdb *redis.Client
	if cfg.Cache.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		opts = append(opts, riskdedup.WithRedisCache(rdb, cfg.Cache.RedisTTL))
	}

	if cfg.Metrics.Addr != "" {
		metrics.Register()
		opts = append(opts, riskdedup.WithMetrics())
		serveMetrics(cfg.Metrics.Addr)
	}

	db, err := riskdedup.NewDatabase(cfg.Database.Path, opts...)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			slog.Error("error closing database", "err", err)
		}
		if rdb != nil {
			rdb.Close()
		}
	}
	return db, cleanup, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
}

func setupLogger(c *cli.Context) error {
	return installLogger(c.String("log-level"))
}

func installLogger(levelStr string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}
}
