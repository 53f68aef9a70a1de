package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/lodestone"
	"github.com/poiesic/lodestone/config"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/ingestion"
	"github.com/poiesic/lodestone/reembed"
	"github.com/urfave/cli/v2"
)

const ingestChunk = 256

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Embed and store one document per line",
		ArgsUsage: "<collection>",
		Action:    ingestAction,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "src",
				Usage:   "File of documents, or - for stdin. Lines of the form scope<TAB>content carry their own owner",
				Value:   "-",
				Aliases: []string{"f"},
			},
			&cli.StringFlag{
				Name:  "owner",
				Usage: "Scope owning lines without one",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Documents per embedding request",
				Value: 32,
			},
			scopeFlag(),
		}, embeddingFlags()...),
	}
}

func ingestAction(c *cli.Context) error {
	return withCollectionName(c, func(ctx context.Context, db *lodestone.Database, cfg *config.Config, name string) error {
		col, err := db.Collection(ctx, name)
		if err != nil {
			return err
		}
		embedder, err := newEmbedder(c, cfg, col.Config().Dimension)
		if err != nil {
			return err
		}

		pipeline, err := ingestion.NewPipeline(col, embedder,
			ingestion.WithPoolSize(cfg.Embedding.Workers),
			ingestion.WithBatchSize(c.Int("batch-size")),
			ingestion.WithRateLimit(cfg.Embedding.RequestsPerSecond, 1),
			ingestion.WithPrincipal(principalFrom(c)),
			ingestion.WithLogger(slog.Default()),
		)
		if err != nil {
			return err
		}
		defer pipeline.Release()

		var src io.Reader = os.Stdin
		if path := c.String("src"); path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		}

		added, failed, err := ingestBatched(ctx, pipeline, documents(src, core.ScopeID(c.String("owner"))), ingestChunk)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "added %d documents, %d failed\n", added, failed)
		return nil
	})
}

// documents yields one document per non-blank line.
func documents(r io.Reader, owner core.ScopeID) iter.Seq[ingestion.Document] {
	return func(yield func(ingestion.Document) bool) {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			doc := ingestion.Document{Scope: owner, Content: line}
			if s, content, ok := strings.Cut(line, "\t"); ok {
				doc.Scope = core.ScopeID(s)
				doc.Content = content
			}
			if !yield(doc) {
				return
			}
		}
	}
}

// ingestBatched reads from a source iterator and ingests documents in chunks.
func ingestBatched(ctx context.Context, pipeline *ingestion.Pipeline, source iter.Seq[ingestion.Document], chunk int) (int, int, error) {
	var added, failed int
	batch := make([]ingestion.Document, 0, chunk)

	flush := func() error {
		report, err := pipeline.Ingest(ctx, batch)
		if err != nil {
			return err
		}
		added += len(report.Added)
		failed += len(report.Failed)
		for _, f := range report.Failed {
			slog.Warn("document rejected", "content", batch[f.Index].Content, "err", f.Err)
		}
		batch = batch[:0]
		return nil
	}

	for doc := range source {
		batch = append(batch, doc)
		if len(batch) == chunk {
			if err := flush(); err != nil {
				return added, failed, err
			}
		}
	}

	// Process any remaining documents
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return added, failed, err
		}
	}
	return added, failed, nil
}

func reembedCommand() *cli.Command {
	return &cli.Command{
		Name:      "reembed",
		Usage:     "Embed every record of a collection again into another collection",
		ArgsUsage: "<source> <target>",
		Action:    reembedAction,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of records to process in each batch",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N records",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Maximum retry attempts for failed operations",
				Value: 3,
			},
			&cli.DurationFlag{
				Name:  "retry-delay",
				Usage: "Base delay for exponential backoff",
				Value: 1 * time.Second,
			},
		}, embeddingFlags()...),
	}
}

func reembedAction(c *cli.Context) error {
	targetName := c.Args().Get(1)
	if targetName == "" {
		return fmt.Errorf("target collection is required")
	}

	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	return withCollectionName(c, func(ctx context.Context, db *lodestone.Database, cfg *config.Config, name string) error {
		if name == targetName {
			return fmt.Errorf("source and target collection must differ")
		}
		if _, err := db.Collection(ctx, name); err != nil {
			return err
		}
		target, err := db.Collection(ctx, targetName)
		if err != nil {
			return err
		}
		embedder, err := newEmbedder(c, cfg, target.Config().Dimension)
		if err != nil {
			return err
		}
		reembedConfig.RequestsPerSecond = cfg.Embedding.RequestsPerSecond

		reembedder, err := reembed.NewReembedder(db.Records(), name, target, embedder, reembedConfig, c.App.ErrWriter)
		if err != nil {
			return err
		}
		summary, err := reembedder.Run(ctx)
		if err != nil {
			return fmt.Errorf("reembedding failed: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "reembedded %d records into %s\n", summary.Records, targetName)
		return nil
	})
}
