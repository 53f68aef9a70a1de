package main

import (
	"context"
	"fmt"

	"github.com/poiesic/lodestone"
	"github.com/poiesic/lodestone/config"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/manager"
	"github.com/urfave/cli/v2"
)

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a collection",
		ArgsUsage: "<name>",
		Action:    createAction,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:     "dim",
				Usage:    "Vector dimension",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "metric",
				Usage: "Distance metric (cosine, dot, l2); defaults to collection.metric",
			},
			&cli.StringFlag{
				Name:  "variant",
				Usage: "ANN variant (graph, cluster); chosen from the workload flags or collection.variant when omitted",
			},
			&cli.IntFlag{
				Name:  "expected-records",
				Usage: "Expected collection size, used to pick a variant",
			},
			&cli.Float64Flag{
				Name:  "write-ratio",
				Usage: "Expected share of writes among all operations, used to pick a variant",
			},
			&cli.Int64Flag{
				Name:  "memory-budget",
				Usage: "Bytes the index may occupy, used to pick a variant",
			},
			&cli.IntFlag{
				Name:  "lists",
				Usage: "Cluster count for the cluster variant",
			},
			&cli.IntFlag{
				Name:  "probes",
				Usage: "Clusters scanned per query",
			},
			&cli.IntFlag{
				Name:  "min-training-size",
				Usage: "Vectors required before the cluster variant trains",
			},
			&cli.BoolFlag{
				Name:  "no-stemming",
				Usage: "Disable English stemming in the keyword analyzer",
			},
		},
	}
}

func createAction(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("collection name is required")
	}

	db, cfg, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	col, err := cfg.NewCollection(name, c.Int("dim"))
	if err != nil {
		return err
	}
	if c.IsSet("metric") {
		if col.Metric, err = core.ParseMetric(c.String("metric")); err != nil {
			return err
		}
	}
	switch {
	case c.IsSet("variant"):
		if col.Variant, err = core.ParseVariant(c.String("variant")); err != nil {
			return err
		}
	case c.IsSet("expected-records") || c.IsSet("write-ratio") || c.IsSet("memory-budget"):
		col.Variant = manager.SelectVariant(manager.Workload{
			ExpectedCardinality: c.Int("expected-records"),
			WriteRatio:          c.Float64("write-ratio"),
			MemoryBudget:        c.Int64("memory-budget"),
			Dimension:           col.Dimension,
			M:                   col.Graph.M,
		})
	}
	if c.IsSet("lists") {
		col.Cluster.Lists = c.Int("lists")
	}
	if c.IsSet("probes") {
		col.Cluster.Probes = c.Int("probes")
	}
	if c.IsSet("min-training-size") {
		col.Cluster.MinTrainingSize = c.Int("min-training-size")
	}
	if c.Bool("no-stemming") {
		col.Stemming = false
	}

	if _, err := db.CreateCollection(c.Context, col); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "created %s (dim %d, %s, %s)\n", col.Name, col.Dimension, col.Metric, col.Variant)
	return nil
}

func dropCommand() *cli.Command {
	return &cli.Command{
		Name:      "drop",
		Usage:     "Drop a collection with its records and snapshots",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			return withCollectionName(c, func(ctx context.Context, db *lodestone.Database, _ *config.Config, name string) error {
				if err := db.DropCollection(ctx, name); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "dropped %s\n", name)
				return nil
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List collections",
		Action: func(c *cli.Context) error {
			db, _, err := openDatabase(c)
			if err != nil {
				return err
			}
			defer db.Close()

			cols, err := db.ListCollections(c.Context)
			if err != nil {
				return err
			}
			for _, col := range cols {
				fmt.Fprintf(c.App.Writer, "%s\tdim=%d\tmetric=%s\tvariant=%s\n", col.Name, col.Dimension, col.Metric, col.Variant)
			}
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show index statistics of a collection",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			return withCollection(c, func(_ context.Context, col *lodestone.Collection) error {
				s := col.Stats()
				w := c.App.Writer
				fmt.Fprintf(w, "collection:    %s\n", s.Collection)
				fmt.Fprintf(w, "variant:       %s\n", s.Variant)
				fmt.Fprintf(w, "vectors:       %d\n", s.Count)
				fmt.Fprintf(w, "trained:       %t (%d vectors, %d overflow)\n", s.Trained, s.TrainedSize, s.Overflow)
				fmt.Fprintf(w, "tombstones:    %d\n", s.Tombstones)
				fmt.Fprintf(w, "keyword docs:  %d (%d terms)\n", s.KeywordDocs, s.KeywordTerms)
				fmt.Fprintf(w, "scopes:        %d\n", s.Scopes)
				fmt.Fprintf(w, "generation:    %d\n", s.Generation)
				return nil
			})
		},
	}
}

func trainCommand() *cli.Command {
	return &cli.Command{
		Name:      "train",
		Usage:     "Train the cluster index of a collection",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			return withCollection(c, func(ctx context.Context, col *lodestone.Collection) error {
				if err := col.Train(ctx); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "trained %s on %d vectors\n", col.Name(), col.Stats().TrainedSize)
				return nil
			})
		},
	}
}

func rebuildCommand() *cli.Command {
	return &cli.Command{
		Name:      "rebuild",
		Usage:     "Rebuild every index of a collection from its records",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			return withCollection(c, func(ctx context.Context, col *lodestone.Collection) error {
				if err := col.Rebuild(ctx); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "rebuilt %s (%d vectors)\n", col.Name(), col.Stats().Count)
				return nil
			})
		},
	}
}

func switchCommand() *cli.Command {
	return &cli.Command{
		Name:      "switch",
		Usage:     "Switch the ANN variant of a collection",
		ArgsUsage: "<name> <graph|cluster>",
		Action: func(c *cli.Context) error {
			variant, err := core.ParseVariant(c.Args().Get(1))
			if err != nil {
				return err
			}
			return withCollection(c, func(ctx context.Context, col *lodestone.Collection) error {
				if err := col.SwitchVariant(ctx, variant); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s now uses the %s variant\n", col.Name(), variant)
				return nil
			})
		},
	}
}

// withCollectionName opens the database and hands the first argument to fn.
func withCollectionName(c *cli.Context, fn func(context.Context, *lodestone.Database, *config.Config, string) error) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("collection name is required")
	}

	db, cfg, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(c.Context, db, cfg, name)
}

// withCollection opens the collection named by the first argument.
func withCollection(c *cli.Context, fn func(context.Context, *lodestone.Collection) error) error {
	return withCollectionName(c, func(ctx context.Context, db *lodestone.Database, _ *config.Config, name string) error {
		col, err := db.Collection(ctx, name)
		if err != nil {
			return err
		}
		return fn(ctx, col)
	})
}
