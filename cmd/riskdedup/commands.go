package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/riskdedup/backfill"
	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/similarity"
)

func kindFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "kind",
		Aliases: []string{"k"},
		Usage:   "Record kind (risk, control)",
		Value:   "risk",
	}
}

func limitFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of matches (0 uses the configured limit)",
	}
}

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:   "backfill",
		Usage:  "Compute embeddings for records that have none",
		Action: runBackfill,
		Flags: []cli.Flag{
			kindFlag(),
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of records to fetch in each batch",
			},
			&cli.IntFlag{
				Name:  "max-concurrency",
				Usage: "Number of records embedded at once",
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N records",
				Value: backfill.DefaultReportInterval,
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Walk pending records without embedding or writing",
			},
		},
	}
}

func runBackfill(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	kind, err := core.ParseRecordKind(c.String("kind"))
	if err != nil {
		return err
	}

	jobConfig := &backfill.Config{
		Kind:           kind,
		BatchSize:      cfg.Backfill.BatchSize,
		MaxConcurrency: cfg.Backfill.MaxConcurrency,
		DryRun:         c.Bool("dry-run"),
		ReportInterval: c.Int("report-interval"),
	}
	if c.IsSet("batch-size") {
		jobConfig.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("max-concurrency") {
		jobConfig.MaxConcurrency = c.Int("max-concurrency")
	}

	db, cleanup, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	job, err := db.NewBackfillJob(jobConfig, backfill.WithProgress(c.App.ErrWriter))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	stats, err := job.Run(ctx)
	fmt.Fprintf(c.App.Writer, "run %s: processed=%d succeeded=%d failed=%d\n",
		stats.RunID, stats.Processed, stats.Succeeded, stats.Failed)
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	return nil
}

func similarCommand() *cli.Command {
	return &cli.Command{
		Name:   "similar",
		Usage:  "List stored records similar to a stored record",
		Action: runSimilar,
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "id",
				Usage:    "ID of the stored record",
				Required: true,
			},
			limitFlag(),
		},
	}
}

func runSimilar(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	db, cleanup, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	finder, err := db.NewFinder(cfg.finderOptions()...)
	if err != nil {
		return err
	}
	matches := finder.FindSimilarForExisting(c.Context, core.ID(c.Uint64("id")), c.Int("limit"))
	return writeMatches(c.App.Writer, matches)
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:   "check",
		Usage:  "List stored records similar to a record that has not been saved",
		Action: runCheck,
		Flags: []cli.Flag{
			kindFlag(),
			&cli.StringFlag{
				Name:     "title",
				Usage:    "Title of the new record",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "threat",
				Usage: "Threat of the new record",
			},
			&cli.StringFlag{
				Name:  "vulnerability",
				Usage: "Vulnerability of the new record",
			},
			&cli.StringFlag{
				Name:  "description",
				Usage: "Description of the new record",
			},
			&cli.Uint64Flag{
				Name:  "exclude-id",
				Usage: "Stored record to leave out, e.g. the one being edited",
			},
			limitFlag(),
		},
	}
}

func runCheck(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	kind, err := core.ParseRecordKind(c.String("kind"))
	if err != nil {
		return err
	}
	db, cleanup, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	finder, err := db.NewFinder(cfg.finderOptions()...)
	if err != nil {
		return err
	}
	input := &core.Record{
		Kind:          kind,
		Title:         c.String("title"),
		Threat:        c.String("threat"),
		Vulnerability: c.String("vulnerability"),
		Description:   c.String("description"),
	}
	matches := finder.FindSimilarForNew(c.Context, input, c.Int("limit"), core.ID(c.Uint64("exclude-id")))
	return writeMatches(c.App.Writer, matches)
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:   "import",
		Usage:  "Add records from a YAML file",
		Action: runImport,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "YAML file with a top-level records list",
				Required: true,
			},
		},
	}
}

func runImport(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	records, err := loadRecords(c.String("file"))
	if err != nil {
		return err
	}
	db, cleanup, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	added, err := db.Repository().AddRecords(c.Context, records...)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "imported %d records\n", len(added))
	return nil
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show record and pending-embedding counts per kind",
		Action: runStats,
	}
}

func runStats(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	db, cleanup, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	for _, kind := range []core.RecordKind{core.RecordKindRisk, core.RecordKindControl} {
		total, err := db.Repository().CountRecords(c.Context, kind)
		if err != nil {
			return err
		}
		pending, err := db.Repository().CountMissingEmbedding(c.Context, kind)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%-8s total=%d pending=%d\n", kind, total, pending)
	}
	return nil
}

func writeMatches(w io.Writer, matches []similarity.Match) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(matches)
}
