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
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/poiesic/lodestone"
	"github.com/poiesic/lodestone/ai"
	"github.com/poiesic/lodestone/ai/openai"
	"github.com/poiesic/lodestone/config"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/scope"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "lodestone",
		Usage: "Hybrid vector and keyword search over scoped collections",
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
				Usage:   "Path to TOML config file",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides database.path)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			createCommand(),
			dropCommand(),
			listCommand(),
			statsCommand(),
			trainCommand(),
			rebuildCommand(),
			switchCommand(),
			putCommand(),
			getCommand(),
			deleteCommand(),
			searchCommand(),
			ingestCommand(),
			reembedCommand(),
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// openDatabase loads the config and opens the database it points at.
func openDatabase(c *cli.Context) (*lodestone.Database, *config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	dbPath := c.String("db")
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}

	db, err := lodestone.NewDatabase(dbPath, cfg.DatabaseOptions()...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, cfg, nil
}

// newEmbedder builds an embedder from the config, letting command flags override host and model.
func newEmbedder(c *cli.Context, cfg *config.Config, dimension int) (ai.Embedder, error) {
	aiConfig := cfg.AIConfig()
	if host := c.String("embedding-host"); host != "" {
		aiConfig.EmbeddingHost = host
	}
	if model := c.String("embedding-model"); model != "" {
		aiConfig.EmbeddingModel = model
	}
	aiConfig.Dimension = dimension

	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}
	return openai.NewEmbedder(aiConfig)
}

// principalFrom returns the principal named by the --scope flags.
// Without any the command acts as an administrator over every scope.
func principalFrom(c *cli.Context) scope.Principal {
	scopes := c.StringSlice("scope")
	if len(scopes) == 0 {
		return scope.Unrestricted()
	}
	ids := make([]core.ScopeID, len(scopes))
	for i, s := range scopes {
		ids[i] = core.ScopeID(s)
	}
	return scope.NewPrincipal(ids...)
}

// parseVector reads a comma separated list of floats.
func parseVector(s string) ([]float32, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func parseID(s string) (core.ID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	return core.ID(id), nil
}

func embeddingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL (overrides embedding.host)",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name (overrides embedding.model)",
		},
	}
}

func scopeFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "scope",
		Aliases: []string{"s"},
		Usage:   "Scope the caller controls; repeat for several. Omit for unrestricted access",
	}
}
