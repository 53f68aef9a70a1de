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

// Package manager owns the derived indexes of one collection: the ANN index,
// the keyword index and the scope registry. It keeps them consistent with the
// record store and replaces them wholesale on training and rebuilds.
//
// Writers hold the gate shared while they update the store and then the
// indexes. Training and rebuilds hold it exclusively only for the final
// reassignment and swap. Readers never touch the gate: they load the current
// state through an atomic pointer and keep using it even if a swap happens
// mid-query.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index"
	"github.com/poiesic/lodestone/index/hnsw"
	"github.com/poiesic/lodestone/index/ivf"
	"github.com/poiesic/lodestone/keyword"
	"github.com/poiesic/lodestone/scope"
	"github.com/poiesic/lodestone/storage"
)

const (
	defaultBatchSize      = 512
	defaultRetrainGrowth  = 2.0
	defaultTombstoneRatio = 0.5
	// Graphs smaller than this are not rebuilt for tombstones alone.
	minTombstonesForRebuild = 64
	// Training samples this many vectors per list when the population allows.
	samplePerList = 64
)

// state is one immutable generation of derived indexes.
type state struct {
	collection *core.Collection
	ann        index.Index
	keyword    *keyword.Index
	scopes     *scope.Registry
	generation uint64
	builtAt    time.Time
}

// View is a consistent read-only handle on the indexes of one generation.
type View struct {
	Collection *core.Collection
	ANN        index.Index
	Keyword    *keyword.Index
	Scopes     *scope.Registry
	Generation uint64
}

// Manager maintains the indexes of a single collection.
type Manager struct {
	records   storage.RecordRepository
	snapshots storage.SnapshotRepository
	logger    *slog.Logger

	gate  sync.RWMutex // shared: writers; exclusive: train, rebuild, persist, load
	state atomic.Pointer[state]
	gen   atomic.Uint64

	batchSize      int
	retrainGrowth  float64
	tombstoneRatio float64
	autoMaintain   bool

	pool       *ants.Pool
	ownsPool   bool
	inflight   sync.WaitGroup
	training   atomic.Bool
	rebuilding atomic.Bool
	closed     atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// WithSnapshotRepository enables Persist and Load.
func WithSnapshotRepository(repo storage.SnapshotRepository) Option {
	return func(m *Manager) error {
		m.snapshots = repo
		return nil
	}
}

// WithBatchSize sets how many records are read per batch while rebuilding.
// Default is 512.
func WithBatchSize(size int) Option {
	return func(m *Manager) error {
		if size < 1 {
			size = 1
		}
		m.batchSize = size
		return nil
	}
}

// WithAutoMaintenance enables background training and rebuilds.
// Default is true.
func WithAutoMaintenance(enabled bool) Option {
	return func(m *Manager) error {
		m.autoMaintain = enabled
		return nil
	}
}

// WithRetrainGrowth sets how far a cluster index may grow past its trained size
// before it is retrained. Default is 2.0.
func WithRetrainGrowth(factor float64) Option {
	return func(m *Manager) error {
		if factor <= 1 {
			return fmt.Errorf("retrain growth must exceed 1, got %v", factor)
		}
		m.retrainGrowth = factor
		return nil
	}
}

// WithTombstoneRatio sets the share of deleted graph nodes that triggers a rebuild.
// Default is 0.5.
func WithTombstoneRatio(ratio float64) Option {
	return func(m *Manager) error {
		if ratio <= 0 || ratio >= 1 {
			return fmt.Errorf("tombstone ratio must be in (0, 1), got %v", ratio)
		}
		m.tombstoneRatio = ratio
		return nil
	}
}

// WithPool runs maintenance on a shared worker pool instead of a private one.
// The caller keeps ownership of the pool.
func WithPool(pool *ants.Pool) Option {
	return func(m *Manager) error {
		if m.ownsPool && m.pool != nil {
			m.pool.Release()
		}
		m.pool = pool
		m.ownsPool = false
		return nil
	}
}

// New creates a manager with empty indexes for collection.
// Call Open to populate them from a snapshot or the store.
func New(collection *core.Collection, records storage.RecordRepository, opts ...Option) (*Manager, error) {
	if collection == nil {
		return nil, ErrCollectionRequired
	}
	if records == nil {
		return nil, ErrRecordRepositoryRequired
	}
	if err := core.ValidateCollection(collection); err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(1, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}

	m := &Manager{
		records:        records,
		logger:         slog.Default(),
		batchSize:      defaultBatchSize,
		retrainGrowth:  defaultRetrainGrowth,
		tombstoneRatio: defaultTombstoneRatio,
		autoMaintain:   true,
		pool:           pool,
		ownsPool:       true,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			if m.ownsPool {
				m.pool.Release()
			}
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "index-manager", "collection", collection.Name)

	st, err := m.emptyState(collection)
	if err != nil {
		if m.ownsPool {
			m.pool.Release()
		}
		return nil, err
	}
	m.state.Store(st)
	return m, nil
}

func newANN(c *core.Collection) (index.Index, error) {
	switch c.Variant {
	case core.VariantGraph:
		return hnsw.New(hnsw.ConfigFor(c))
	case core.VariantCluster:
		return ivf.New(ivf.ConfigFor(c))
	default:
		return nil, core.ErrUnknownVariant
	}
}

func (m *Manager) emptyState(c *core.Collection) (*state, error) {
	ann, err := newANN(c)
	if err != nil {
		return nil, err
	}
	return &state{
		collection: c,
		ann:        ann,
		keyword:    keyword.New(keyword.NewAnalyzer(c.Stemming)),
		scopes:     scope.NewRegistry(),
		generation: m.gen.Add(1),
		builtAt:    time.Now(),
	}, nil
}

// swap publishes st. Callers hold the gate exclusively.
func (m *Manager) swap(st *state) {
	prev := m.state.Swap(st)
	m.logger.Debug("index generation swapped",
		"from", prev.generation,
		"to", st.generation,
		"variant", st.collection.Variant,
		"count", st.ann.Len())
}

// Collection returns the collection config of the current generation.
func (m *Manager) Collection() *core.Collection {
	return m.state.Load().collection
}

// View returns the current indexes. The view stays valid after later swaps.
func (m *Manager) View() View {
	st := m.state.Load()
	return View{
		Collection: st.collection,
		ANN:        st.ann,
		Keyword:    st.keyword,
		Scopes:     st.scopes,
		Generation: st.generation,
	}
}

// Open loads the persisted snapshot if it matches the store, and rebuilds from the store otherwise.
func (m *Manager) Open(ctx context.Context) error {
	if m.snapshots != nil {
		loaded, err := m.Load(ctx)
		if err != nil {
			return err
		}
		if loaded {
			return nil
		}
	}
	return m.Rebuild(ctx)
}

// Insert persists a record and indexes it. Tokens and the content hash are
// derived here; the caller supplies scope, content and vector. On return the
// record is visible to every search path, or nothing was written at all.
func (m *Manager) Insert(ctx context.Context, record *core.Record) (*core.Record, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	st := m.state.Load()
	if err := core.ValidateRecord(record, st.collection.Dimension); err != nil {
		return nil, err
	}

	vec := make([]float32, len(record.Vector))
	copy(vec, record.Vector)
	toStore := &core.Record{
		Scope:       record.Scope,
		Content:     record.Content,
		Vector:      vec,
		Tokens:      st.keyword.Analyzer().Analyze(record.Content),
		ContentHash: core.HashContent(record.Content),
	}

	m.gate.RLock()
	name := m.state.Load().collection.Name
	stored, err := m.records.AddRecord(ctx, name, toStore)
	if err != nil {
		m.gate.RUnlock()
		return nil, err
	}
	if err := m.apply(stored); err != nil {
		if _, rbErr := m.records.DeleteRecord(context.WithoutCancel(ctx), name, stored.Id); rbErr != nil {
			m.logger.Error("failed to roll back record after index failure", "id", stored.Id, "err", rbErr)
		}
		m.gate.RUnlock()
		return nil, err
	}
	m.gate.RUnlock()

	m.maybeMaintain()
	return stored, nil
}

// Delete removes a record from the store and every index.
// Returns storage.ErrNotFound if the record does not exist.
func (m *Manager) Delete(ctx context.Context, id core.ID) (*core.Record, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	m.gate.RLock()
	removed, err := m.records.DeleteRecord(ctx, m.state.Load().collection.Name, id)
	if err != nil {
		m.gate.RUnlock()
		return nil, err
	}
	m.unapply(removed)
	m.gate.RUnlock()

	m.maybeMaintain()
	return removed, nil
}

// OnInsert indexes a record that is already in the store.
func (m *Manager) OnInsert(record *core.Record) error {
	m.gate.RLock()
	defer m.gate.RUnlock()
	return m.apply(record)
}

// OnDelete removes a record that was deleted from the store from every index.
func (m *Manager) OnDelete(record *core.Record) {
	m.gate.RLock()
	defer m.gate.RUnlock()
	m.unapply(record)
}

// apply indexes record in the current generation. Callers hold the gate shared.
func (m *Manager) apply(record *core.Record) error {
	st := m.state.Load()
	if err := st.ann.Insert(record.Id, record.Vector); err != nil {
		return err
	}
	if err := st.keyword.Add(record.Id, record.Tokens); err != nil {
		st.ann.Delete(record.Id)
		return err
	}
	st.scopes.Add(record.Scope, record.Id)
	return nil
}

func (m *Manager) unapply(record *core.Record) {
	st := m.state.Load()
	st.ann.Delete(record.Id)
	st.keyword.Remove(record.Id)
	st.scopes.Remove(record.Scope, record.Id)
}

// Rebuild reconstructs every index from the store and swaps them in.
// Cluster collections with enough records are trained as part of the rebuild.
func (m *Manager) Rebuild(ctx context.Context) error {
	m.gate.Lock()
	defer m.gate.Unlock()

	st, err := m.build(ctx, m.state.Load().collection)
	if err != nil {
		return err
	}
	m.swap(st)
	return nil
}

// SwitchVariant rebuilds the collection on a different ANN structure.
// The returned config carries the new variant; persisting it is up to the caller.
func (m *Manager) SwitchVariant(ctx context.Context, variant core.Variant) (*core.Collection, error) {
	m.gate.Lock()
	defer m.gate.Unlock()

	c := *m.state.Load().collection
	if c.Variant == variant {
		return &c, nil
	}
	c.Variant = variant
	c.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	if err := core.ValidateCollection(&c); err != nil {
		return nil, err
	}

	st, err := m.build(ctx, &c)
	if err != nil {
		return nil, err
	}
	m.swap(st)
	m.logger.Info("switched ANN variant", "variant", variant)
	return &c, nil
}

// build constructs a fresh generation from the store. Callers hold the gate exclusively.
func (m *Manager) build(ctx context.Context, c *core.Collection) (*state, error) {
	start := time.Now()
	st, err := m.emptyState(c)
	if err != nil {
		return nil, err
	}

	if c.Variant == core.VariantCluster {
		trained, err := m.trainedFromStore(ctx, c)
		if err != nil {
			return nil, err
		}
		if trained != nil {
			st.ann = trained
		}
	}

	err = m.records.ForEach(ctx, c.Name, m.batchSize, func(batch []*core.Record) error {
		for _, r := range batch {
			if err := st.ann.Insert(r.Id, r.Vector); err != nil {
				return fmt.Errorf("failed to index record %d: %w", r.Id, err)
			}
			if err := st.keyword.Add(r.Id, r.Tokens); err != nil {
				return fmt.Errorf("failed to index record %d: %w", r.Id, err)
			}
			st.scopes.Add(r.Scope, r.Id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("rebuilt indexes",
		"variant", c.Variant,
		"count", st.ann.Len(),
		"elapsed", time.Since(start))
	return st, nil
}

// trainedFromStore returns an empty trained cluster index, or nil when the store
// holds too few records to train.
func (m *Manager) trainedFromStore(ctx context.Context, c *core.Collection) (*ivf.Index, error) {
	sample, population, err := m.records.Sample(ctx, c.Name, sampleSize(c), m.sampleSeed(c))
	if err != nil {
		return nil, err
	}
	centroids, err := ivf.Train(ctx, ivf.ConfigFor(c), sample)
	if errors.Is(err, core.ErrInsufficientTrainingData) {
		m.logger.Debug("cluster index left untrained", "population", population)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ivf.NewTrained(ivf.ConfigFor(c), centroids, population)
}

func sampleSize(c *core.Collection) int {
	return max(c.Cluster.MinTrainingSize, c.Cluster.Lists*samplePerList)
}

func (m *Manager) sampleSeed(c *core.Collection) int64 {
	return int64(core.HashContent(c.Name) ^ m.gen.Load())
}

// Train samples the store and retrains the cluster index.
// Returns core.ErrTrainingNotSupported for graph collections and
// core.ErrInsufficientTrainingData, leaving the index untouched, when the store is too small.
func (m *Manager) Train(ctx context.Context) error {
	c := m.Collection()
	if c.Variant != core.VariantCluster {
		return core.ErrTrainingNotSupported
	}
	sample, population, err := m.records.Sample(ctx, c.Name, sampleSize(c), m.sampleSeed(c))
	if err != nil {
		return err
	}
	return m.trainWith(ctx, c, sample, population)
}

// TrainWith retrains the cluster index on a caller supplied sample.
func (m *Manager) TrainWith(ctx context.Context, sample [][]float32) error {
	c := m.Collection()
	if c.Variant != core.VariantCluster {
		return core.ErrTrainingNotSupported
	}
	return m.trainWith(ctx, c, sample, len(sample))
}

// trainWith runs k-means without the gate, then reassigns every vector into a
// trained index and swaps it in under the exclusive gate.
func (m *Manager) trainWith(ctx context.Context, c *core.Collection, sample [][]float32, population int) error {
	start := time.Now()
	cfg := ivf.ConfigFor(c)
	centroids, err := ivf.Train(ctx, cfg, sample)
	if err != nil {
		return err
	}

	m.gate.Lock()
	defer m.gate.Unlock()

	cur := m.state.Load()
	if cur.collection.Variant != core.VariantCluster {
		return core.ErrTrainingNotSupported
	}
	fresh, err := ivf.NewTrained(cfg, centroids, max(population, cur.ann.Len()))
	if err != nil {
		return err
	}

	var insertErr error
	cur.ann.Each(func(id core.ID, v []float32) bool {
		insertErr = fresh.Insert(id, v)
		return insertErr == nil
	})
	if insertErr != nil {
		return fmt.Errorf("failed to reassign vectors: %w", insertErr)
	}

	m.swap(&state{
		collection: cur.collection,
		ann:        fresh,
		keyword:    cur.keyword,
		scopes:     cur.scopes,
		generation: m.gen.Add(1),
		builtAt:    time.Now(),
	})
	m.logger.Info("trained cluster index",
		"lists", fresh.Centroids(),
		"sample", len(sample),
		"count", fresh.Len(),
		"elapsed", time.Since(start))
	return nil
}

// Close waits for running maintenance and releases the private worker pool.
// Snapshots are not written; call Persist first to keep them.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.inflight.Wait()
	if m.ownsPool {
		m.pool.Release()
	}
	return nil
}
