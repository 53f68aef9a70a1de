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

// Package lodestone is a hybrid vector and keyword search engine embedded
// over a badger store. A Database holds named collections; each collection
// answers nearest neighbor, BM25 keyword and fused hybrid queries restricted
// to the scopes of the calling principal.
package lodestone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/manager"
	"github.com/poiesic/lodestone/search"
	"github.com/poiesic/lodestone/storage"
	"github.com/poiesic/lodestone/storage/badger"
)

// ErrDatabaseClosed is returned by operations on a closed Database.
var ErrDatabaseClosed = errors.New("database is closed")

type Database struct {
	backend     *badger.Backend
	records     *badger.RecordRepository
	collections *badger.CollectionRepository
	snapshots   *badger.SnapshotRepository
	pool        *ants.Pool
	options     *databaseOptions
	logger      *slog.Logger

	mu     sync.Mutex
	open   map[string]*Collection
	closed bool
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	inMemory       bool
	logger         *slog.Logger
	maintenance    int
	persistOnClose bool
	managerOpts    []manager.Option
	searchOpts     []search.Option
}

// WithInMemory keeps everything in memory; the path passed to NewDatabase is ignored.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
	}
}

// WithMaintenanceWorkers sets how many collections may train or rebuild in the background at once.
// Default is GOMAXPROCS/2, at least 1.
func WithMaintenanceWorkers(n int) DatabaseOption {
	return func(o *databaseOptions) {
		o.maintenance = max(n, 1)
	}
}

// WithPersistOnClose controls whether Close writes index snapshots.
// Default is true.
func WithPersistOnClose(enabled bool) DatabaseOption {
	return func(o *databaseOptions) {
		o.persistOnClose = enabled
	}
}

// WithManagerOptions passes options to every collection's index manager.
func WithManagerOptions(opts ...manager.Option) DatabaseOption {
	return func(o *databaseOptions) {
		o.managerOpts = append(o.managerOpts, opts...)
	}
}

// WithSearchOptions passes options to every collection's query router.
func WithSearchOptions(opts ...search.Option) DatabaseOption {
	return func(o *databaseOptions) {
		o.searchOpts = append(o.searchOpts, opts...)
	}
}

// NewDatabase opens (or creates) the database stored at filePath.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	// Apply options
	options := &databaseOptions{
		logger:         slog.Default(),
		maintenance:    max(runtime.GOMAXPROCS(0)/2, 1),
		persistOnClose: true,
	}
	for _, opt := range opts {
		opt(options)
	}

	// Open backend
	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(options.maintenance, ants.WithNonblocking(true))
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &Database{
		backend:     backend,
		records:     badger.NewRecordRepository(backend),
		collections: badger.NewCollectionRepository(backend),
		snapshots:   badger.NewSnapshotRepository(backend),
		pool:        pool,
		options:     options,
		logger:      options.logger.With("component", "database"),
		open:        make(map[string]*Collection),
	}, nil
}

// Close persists index snapshots of every open collection then closes the store.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var errs []error
	for name, c := range db.open {
		if db.options.persistOnClose {
			if err := c.manager.Persist(context.Background()); err != nil {
				db.logger.Error("error persisting index snapshot", "collection", name, "err", err)
				errs = append(errs, err)
			}
		}
		if err := c.manager.Close(); err != nil {
			db.logger.Error("error closing index manager", "collection", name, "err", err)
			errs = append(errs, err)
		}
		delete(db.open, name)
	}
	db.pool.Release()

	// Close repositories
	if err := db.records.Close(); err != nil {
		db.logger.Error("error closing record repository", "err", err)
		errs = append(errs, err)
	}

	// Close backend
	if err := db.backend.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CreateCollection stores a new collection config and opens it.
func (db *Database) CreateCollection(ctx context.Context, config *core.Collection) (*Collection, error) {
	if err := core.ValidateCollection(config); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}

	if err := db.collections.CreateCollection(ctx, config); err != nil {
		return nil, err
	}
	c, err := db.openCollection(ctx, config)
	if err != nil {
		// Leave nothing half-created behind.
		if derr := db.collections.DeleteCollection(context.WithoutCancel(ctx), config.Name); derr != nil {
			db.logger.Error("error removing collection after failed open", "collection", config.Name, "err", derr)
		}
		return nil, err
	}
	db.logger.Info("created collection", "collection", config.Name, "dimension", config.Dimension,
		"metric", config.Metric, "variant", config.Variant)
	return c, nil
}

// Collection returns an open handle on the named collection.
// Returns storage.ErrCollectionNotFound if it does not exist.
func (db *Database) Collection(ctx context.Context, name string) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}

	if c, ok := db.open[name]; ok {
		return c, nil
	}
	config, err := db.collections.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	return db.openCollection(ctx, config)
}

// Records exposes the record store shared by every collection.
// It bypasses scope checks and is meant for bulk tooling such as reembedding.
func (db *Database) Records() storage.RecordRepository {
	return db.records
}

// ListCollections returns every collection config ordered by name.
func (db *Database) ListCollections(ctx context.Context) ([]*core.Collection, error) {
	return db.collections.ListCollections(ctx)
}

// DropCollection removes a collection with its records and snapshots.
func (db *Database) DropCollection(ctx context.Context, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}

	if _, err := db.collections.GetCollection(ctx, name); err != nil {
		return err
	}
	if c, ok := db.open[name]; ok {
		if err := c.manager.Close(); err != nil {
			return err
		}
		delete(db.open, name)
	}

	if err := db.snapshots.DeleteSnapshots(ctx, name); err != nil {
		return fmt.Errorf("dropping snapshots of %s: %w", name, err)
	}
	if err := db.records.DropRecords(ctx, name); err != nil {
		return fmt.Errorf("dropping records of %s: %w", name, err)
	}
	if err := db.collections.DeleteCollection(ctx, name); err != nil {
		return err
	}
	db.logger.Info("dropped collection", "collection", name)
	return nil
}

// openCollection builds the manager and router of a collection. Callers hold db.mu.
func (db *Database) openCollection(ctx context.Context, config *core.Collection) (*Collection, error) {
	logger := db.options.logger
	managerOpts := append([]manager.Option{
		manager.WithLogger(logger),
		manager.WithSnapshotRepository(db.snapshots),
		manager.WithPool(db.pool),
	}, db.options.managerOpts...)

	m, err := manager.New(config, db.records, managerOpts...)
	if err != nil {
		return nil, err
	}
	if err := m.Open(ctx); err != nil {
		m.Close()
		return nil, err
	}

	searchOpts := append([]search.Option{search.WithLogger(logger)}, db.options.searchOpts...)
	searcher, err := search.NewSearcher(m, db.records, searchOpts...)
	if err != nil {
		m.Close()
		return nil, err
	}

	c := &Collection{
		db:       db,
		manager:  m,
		searcher: searcher,
		logger:   logger.With("component", "collection", "collection", config.Name),
	}
	db.open[config.Name] = c
	return c, nil
}
