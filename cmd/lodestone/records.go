package main

import (
	"context"
	"fmt"

	"github.com/poiesic/lodestone"
	"github.com/poiesic/lodestone/config"
	"github.com/poiesic/lodestone/core"
	"github.com/urfave/cli/v2"
)

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Store a record",
		ArgsUsage: "<collection> <content>",
		Action:    putAction,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "owner",
				Usage:    "Scope that owns the record",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "vector",
				Usage: "Comma separated vector; embeds the content when omitted",
			},
			scopeFlag(),
		}, embeddingFlags()...),
	}
}

func putAction(c *cli.Context) error {
	content := c.Args().Get(1)
	if content == "" {
		return fmt.Errorf("record content is required")
	}

	return withCollectionName(c, func(ctx context.Context, db *lodestone.Database, cfg *config.Config, name string) error {
		col, err := db.Collection(ctx, name)
		if err != nil {
			return err
		}

		vec, err := parseVector(c.String("vector"))
		if err != nil {
			return err
		}
		if vec == nil {
			embedder, err := newEmbedder(c, cfg, col.Config().Dimension)
			if err != nil {
				return err
			}
			if vec, err = embedder.EmbedText(ctx, content); err != nil {
				return fmt.Errorf("failed to embed content: %w", err)
			}
		}

		record, err := col.Put(ctx, principalFrom(c), core.ScopeID(c.String("owner")), content, vec)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%d\n", record.Id)
		return nil
	})
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print a record",
		ArgsUsage: "<collection> <id>",
		Flags:     []cli.Flag{scopeFlag()},
		Action: func(c *cli.Context) error {
			id, err := parseID(c.Args().Get(1))
			if err != nil {
				return err
			}
			return withCollection(c, func(ctx context.Context, col *lodestone.Collection) error {
				record, err := col.Get(ctx, principalFrom(c), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%d\t%s\t%s\n", record.Id, record.Scope, record.Content)
				return nil
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a record",
		ArgsUsage: "<collection> <id>",
		Flags:     []cli.Flag{scopeFlag()},
		Action: func(c *cli.Context) error {
			id, err := parseID(c.Args().Get(1))
			if err != nil {
				return err
			}
			return withCollection(c, func(ctx context.Context, col *lodestone.Collection) error {
				if _, err := col.Delete(ctx, principalFrom(c), id); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "deleted %d\n", id)
				return nil
			})
		},
	}
}
