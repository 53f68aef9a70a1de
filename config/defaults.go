package config

const (
	defaultDatabasePath       = "./lodestone.db"
	defaultMaintenanceWorkers = 2

	defaultRetrainGrowth  = 2.0
	defaultTombstoneRatio = 0.5
	defaultBatchSize      = 512

	defaultCandidateMultiplier = 4
	defaultRRFK                = 50.0
	defaultMaxWidenings        = 4

	defaultMetric          = "cosine"
	defaultVariant         = "graph"
	defaultM               = 16
	defaultEfConstruction  = 200
	defaultEfSearch        = 64
	defaultLists           = 100
	defaultProbes          = 8
	defaultMinTrainingSize = 1000

	defaultEmbeddingHost     = "http://localhost:11434/v1"
	defaultEmbeddingModel    = "embeddinggemma"
	defaultRequestsPerSecond = 10.0
	defaultEmbedWorkers      = 4
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Database: DatabaseConfig{
			Path:               defaultDatabasePath,
			PersistOnClose:     ptr(true),
			MaintenanceWorkers: defaultMaintenanceWorkers,
		},
		Maintenance: MaintenanceConfig{
			Auto:           ptr(true),
			RetrainGrowth:  defaultRetrainGrowth,
			TombstoneRatio: defaultTombstoneRatio,
			BatchSize:      defaultBatchSize,
		},
		Search: SearchConfig{
			CandidateMultiplier: defaultCandidateMultiplier,
			RRFK:                defaultRRFK,
			MaxWidenings:        ptr(defaultMaxWidenings),
		},
		Collection: CollectionConfig{
			Metric:          defaultMetric,
			Variant:         defaultVariant,
			M:               defaultM,
			EfConstruction:  defaultEfConstruction,
			EfSearch:        defaultEfSearch,
			Lists:           defaultLists,
			Probes:          defaultProbes,
			MinTrainingSize: defaultMinTrainingSize,
			Stemming:        ptr(true),
		},
		Embedding: EmbeddingConfig{
			Host:              defaultEmbeddingHost,
			Model:             defaultEmbeddingModel,
			RequestsPerSecond: defaultRequestsPerSecond,
			Workers:           defaultEmbedWorkers,
		},
	}
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Database.Path == "" {
		cfg.Database.Path = defaults.Database.Path
	}
	if cfg.Database.PersistOnClose == nil {
		cfg.Database.PersistOnClose = defaults.Database.PersistOnClose
	}
	if cfg.Database.MaintenanceWorkers == 0 {
		cfg.Database.MaintenanceWorkers = defaults.Database.MaintenanceWorkers
	}

	if cfg.Maintenance.Auto == nil {
		cfg.Maintenance.Auto = defaults.Maintenance.Auto
	}
	if cfg.Maintenance.RetrainGrowth == 0 {
		cfg.Maintenance.RetrainGrowth = defaults.Maintenance.RetrainGrowth
	}
	if cfg.Maintenance.TombstoneRatio == 0 {
		cfg.Maintenance.TombstoneRatio = defaults.Maintenance.TombstoneRatio
	}
	if cfg.Maintenance.BatchSize == 0 {
		cfg.Maintenance.BatchSize = defaults.Maintenance.BatchSize
	}

	if cfg.Search.CandidateMultiplier == 0 {
		cfg.Search.CandidateMultiplier = defaults.Search.CandidateMultiplier
	}
	if cfg.Search.RRFK == 0 {
		cfg.Search.RRFK = defaults.Search.RRFK
	}
	if cfg.Search.MaxWidenings == nil {
		cfg.Search.MaxWidenings = defaults.Search.MaxWidenings
	}

	if cfg.Collection.Metric == "" {
		cfg.Collection.Metric = defaults.Collection.Metric
	}
	if cfg.Collection.Variant == "" {
		cfg.Collection.Variant = defaults.Collection.Variant
	}
	if cfg.Collection.M == 0 {
		cfg.Collection.M = defaults.Collection.M
	}
	if cfg.Collection.EfConstruction == 0 {
		cfg.Collection.EfConstruction = defaults.Collection.EfConstruction
	}
	if cfg.Collection.EfSearch == 0 {
		cfg.Collection.EfSearch = defaults.Collection.EfSearch
	}
	if cfg.Collection.Lists == 0 {
		cfg.Collection.Lists = defaults.Collection.Lists
	}
	if cfg.Collection.Probes == 0 {
		cfg.Collection.Probes = defaults.Collection.Probes
	}
	if cfg.Collection.MinTrainingSize == 0 {
		cfg.Collection.MinTrainingSize = defaults.Collection.MinTrainingSize
	}
	if cfg.Collection.Stemming == nil {
		cfg.Collection.Stemming = defaults.Collection.Stemming
	}

	if cfg.Embedding.Host == "" {
		cfg.Embedding.Host = defaults.Embedding.Host
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = defaults.Embedding.RequestsPerSecond
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = defaults.Embedding.Workers
	}
}

func ptr[T any](v T) *T {
	return &v
}
