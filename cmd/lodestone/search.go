package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/lodestone"
	"github.com/poiesic/lodestone/config"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/search"
	"github.com/urfave/cli/v2"
)

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Query a collection",
		ArgsUsage: "<collection> [text...]",
		Action:    searchAction,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:  "k",
				Usage: "Number of results",
				Value: 10,
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "ann, keyword or hybrid; inferred when omitted",
			},
			&cli.StringFlag{
				Name:  "vector",
				Usage: "Comma separated query vector",
			},
			&cli.BoolFlag{
				Name:  "embed",
				Usage: "Embed the query text and use it as the query vector",
			},
			&cli.BoolFlag{
				Name:  "exact",
				Usage: "Scan every record instead of the ANN index",
			},
			&cli.Float64Flag{
				Name:  "threshold",
				Usage: "Minimum similarity (ann, hybrid) or BM25 score (keyword)",
			},
			&cli.Float64Flag{
				Name:  "weight-ann",
				Usage: "Hybrid weight of the ANN ranking",
			},
			&cli.Float64Flag{
				Name:  "weight-keyword",
				Usage: "Hybrid weight of the keyword ranking",
			},
			&cli.IntFlag{
				Name:  "ef",
				Usage: "Graph beam width override",
			},
			&cli.IntFlag{
				Name:  "probes",
				Usage: "Cluster probe count override",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Query deadline; zero waits indefinitely",
			},
			scopeFlag(),
		}, embeddingFlags()...),
	}
}

func searchAction(c *cli.Context) error {
	mode, err := search.ParseMode(c.String("mode"))
	if err != nil {
		return err
	}
	vec, err := parseVector(c.String("vector"))
	if err != nil {
		return err
	}
	text := strings.Join(c.Args().Tail(), " ")

	return withCollectionName(c, func(ctx context.Context, db *lodestone.Database, cfg *config.Config, name string) error {
		col, err := db.Collection(ctx, name)
		if err != nil {
			return err
		}

		if c.Bool("embed") && vec == nil {
			if text == "" {
				return fmt.Errorf("%w: --embed needs query text", core.ErrInvalidQuery)
			}
			embedder, err := newEmbedder(c, cfg, col.Config().Dimension)
			if err != nil {
				return err
			}
			if vec, err = embedder.EmbedText(ctx, text); err != nil {
				return fmt.Errorf("failed to embed query: %w", err)
			}
		}

		if timeout := c.Duration("timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		principal := principalFrom(c)
		if c.Bool("exact") {
			results, err := col.SearchExact(ctx, principal, vec, c.Int("k"))
			if err != nil {
				return err
			}
			printResults(c, results)
			return nil
		}

		req := search.Request{
			Text:          text,
			Vector:        vec,
			K:             c.Int("k"),
			Mode:          mode,
			WeightANN:     c.Float64("weight-ann"),
			WeightKeyword: c.Float64("weight-keyword"),
			EfSearch:      c.Int("ef"),
			Probes:        c.Int("probes"),
		}
		if c.IsSet("threshold") {
			threshold := float32(c.Float64("threshold"))
			req.Threshold = &threshold
		}

		resp, err := col.Search(ctx, principal, req)
		if err != nil {
			return err
		}
		for _, w := range resp.Warnings {
			fmt.Fprintf(c.App.ErrWriter, "warning: %s\n", w)
		}
		if resp.Partial {
			fmt.Fprintln(c.App.ErrWriter, "warning: deadline reached, results are partial")
		}
		printResults(c, resp.Results)
		return nil
	})
}

func printResults(c *cli.Context, results []*core.SearchResult) {
	fmt.Fprintf(c.App.Writer, "Found %d hits\n", len(results))
	for i, hit := range results {
		fmt.Fprintf(c.App.Writer, "%d: '%s' (%d)[%0.3f]\n", i, hit.Content, hit.Id, hit.Score)
	}
}
