// Package config loads the engine configuration from a TOML file.
//
// Every field is optional; missing fields take the values of
// NewDefaultConfig. Command line flags override the loaded values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/poiesic/lodestone"
	"github.com/poiesic/lodestone/ai"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/manager"
	"github.com/poiesic/lodestone/search"
)

const (
	// v0 is the first version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// Config is the engine configuration. The TOML layout uses one section per concern.
type Config struct {
	Version     int               `toml:"version"`
	Database    DatabaseConfig    `toml:"database"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Search      SearchConfig      `toml:"search"`
	Collection  CollectionConfig  `toml:"collection"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	Path               string `toml:"path,omitempty"`
	PersistOnClose     *bool  `toml:"persist_on_close,omitempty"`
	MaintenanceWorkers int    `toml:"maintenance_workers,omitempty"`
}

// MaintenanceConfig holds background training and rebuild settings.
type MaintenanceConfig struct {
	Auto           *bool   `toml:"auto,omitempty"`
	RetrainGrowth  float64 `toml:"retrain_growth,omitempty"`
	TombstoneRatio float64 `toml:"tombstone_ratio,omitempty"`
	BatchSize      int     `toml:"batch_size,omitempty"`
}

// SearchConfig holds query router settings.
type SearchConfig struct {
	CandidateMultiplier int     `toml:"candidate_multiplier,omitempty"`
	RRFK                float64 `toml:"rrf_k,omitempty"`
	MaxWidenings        *int    `toml:"max_widenings,omitempty"`
}

// CollectionConfig holds the defaults applied to newly created collections.
type CollectionConfig struct {
	Metric          string `toml:"metric,omitempty"`
	Variant         string `toml:"variant,omitempty"`
	M               int    `toml:"m,omitempty"`
	EfConstruction  int    `toml:"ef_construction,omitempty"`
	EfSearch        int    `toml:"ef_search,omitempty"`
	Lists           int    `toml:"lists,omitempty"`
	Probes          int    `toml:"probes,omitempty"`
	MinTrainingSize int    `toml:"min_training_size,omitempty"`
	Stemming        *bool  `toml:"stemming,omitempty"`
}

// EmbeddingConfig holds settings for the embedding service used by ingest and reembed.
type EmbeddingConfig struct {
	Host              string  `toml:"host,omitempty"`
	Model             string  `toml:"model,omitempty"`
	RequestsPerSecond float64 `toml:"requests_per_second,omitempty"`
	Workers           int     `toml:"workers,omitempty"`
}

// Load reads the configuration at path. A missing file or an empty path
// yields the defaults. Fields explicitly set in the file override them.
func Load(path string) (*Config, error) {
	if path == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML data, fills unset fields with defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config: unknown key %q", undecoded[0].String())
	}
	if cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d", cfg.Version)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks value ranges that the defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := core.ParseMetric(c.Collection.Metric); err != nil {
		return fmt.Errorf("config: collection.metric: %w", err)
	}
	if _, err := core.ParseVariant(c.Collection.Variant); err != nil {
		return fmt.Errorf("config: collection.variant: %w", err)
	}
	if c.Maintenance.RetrainGrowth <= 1 {
		return fmt.Errorf("config: maintenance.retrain_growth must exceed 1, got %v", c.Maintenance.RetrainGrowth)
	}
	if c.Maintenance.TombstoneRatio <= 0 || c.Maintenance.TombstoneRatio >= 1 {
		return fmt.Errorf("config: maintenance.tombstone_ratio must be in (0, 1), got %v", c.Maintenance.TombstoneRatio)
	}
	if c.Search.CandidateMultiplier < 1 {
		return fmt.Errorf("config: search.candidate_multiplier must be positive, got %d", c.Search.CandidateMultiplier)
	}
	if c.Search.RRFK <= 0 {
		return fmt.Errorf("config: search.rrf_k must be positive, got %v", c.Search.RRFK)
	}
	if c.Embedding.RequestsPerSecond < 0 {
		return fmt.Errorf("config: embedding.requests_per_second must not be negative, got %v", c.Embedding.RequestsPerSecond)
	}
	return nil
}

// NewCollection returns a collection config carrying the configured defaults.
// The result still needs core.ValidateCollection.
func (c *Config) NewCollection(name string, dimension int) (*core.Collection, error) {
	metric, err := core.ParseMetric(c.Collection.Metric)
	if err != nil {
		return nil, err
	}
	variant, err := core.ParseVariant(c.Collection.Variant)
	if err != nil {
		return nil, err
	}

	col := core.NewCollection(name, dimension)
	col.Metric = metric
	col.Variant = variant
	col.Graph = core.GraphParams{
		M:              c.Collection.M,
		EfConstruction: c.Collection.EfConstruction,
		EfSearch:       c.Collection.EfSearch,
	}
	col.Cluster = core.ClusterParams{
		Lists:           c.Collection.Lists,
		Probes:          c.Collection.Probes,
		MinTrainingSize: c.Collection.MinTrainingSize,
	}
	col.Stemming = c.Collection.Stemming == nil || *c.Collection.Stemming
	return col, nil
}

// DatabaseOptions translates the configuration into options for lodestone.NewDatabase.
func (c *Config) DatabaseOptions() []lodestone.DatabaseOption {
	persist := c.Database.PersistOnClose == nil || *c.Database.PersistOnClose
	auto := c.Maintenance.Auto == nil || *c.Maintenance.Auto
	maxWidenings := defaultMaxWidenings
	if c.Search.MaxWidenings != nil {
		maxWidenings = *c.Search.MaxWidenings
	}

	return []lodestone.DatabaseOption{
		lodestone.WithPersistOnClose(persist),
		lodestone.WithMaintenanceWorkers(c.Database.MaintenanceWorkers),
		lodestone.WithManagerOptions(
			manager.WithAutoMaintenance(auto),
			manager.WithRetrainGrowth(c.Maintenance.RetrainGrowth),
			manager.WithTombstoneRatio(c.Maintenance.TombstoneRatio),
			manager.WithBatchSize(c.Maintenance.BatchSize),
		),
		lodestone.WithSearchOptions(
			search.WithCandidateMultiplier(c.Search.CandidateMultiplier),
			search.WithRRFK(c.Search.RRFK),
			search.WithMaxWidenings(maxWidenings),
		),
	}
}

// AIConfig returns the embedding service settings.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
	)
}
