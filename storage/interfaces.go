package storage

import (
	"context"
	"time"

	"github.com/poiesic/lodestone/core"
)

// RecordRepository stores records, partitioned by collection.
// Implementations must be thread-safe and support concurrent access.
type RecordRepository interface {
	// AddRecord stores a new record in the collection.
	// Generates the ID from the collection sequence and sets CreatedAt/UpdatedAt.
	// Advances the collection watermark in the same transaction.
	AddRecord(ctx context.Context, collection string, record *core.Record) (*core.Record, error)

	// DeleteRecord removes a record and returns what was stored.
	// Returns ErrNotFound if the record doesn't exist.
	DeleteRecord(ctx context.Context, collection string, id core.ID) (*core.Record, error)

	// GetRecord retrieves a single record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetRecord(ctx context.Context, collection string, id core.ID) (*core.Record, error)

	// GetRecords retrieves multiple records by their IDs.
	// Returns only the records that exist (no error for missing records), in request order.
	GetRecords(ctx context.Context, collection string, ids ...core.ID) ([]*core.Record, error)

	// ForEach iterates over every record in ID order, calling fn once per batch.
	// Iteration runs inside a single read transaction and stops at the first error.
	ForEach(ctx context.Context, collection string, batchSize int, fn func([]*core.Record) error) error

	// Sample returns up to n vectors chosen uniformly from the collection along with
	// the total population that was scanned.
	Sample(ctx context.Context, collection string, n int, seed int64) ([][]float32, int, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// Watermark returns the mutation stamp of the most recent committed write.
	// Returns 0 for a collection that was never written.
	Watermark(ctx context.Context, collection string) (uint64, error)

	// DropRecords removes every record of the collection along with its sequence and watermark.
	DropRecords(ctx context.Context, collection string) error

	// Close releases ID sequences.
	Close() error
}

// CollectionRepository stores collection configurations.
type CollectionRepository interface {
	// CreateCollection stores a new collection config.
	// Returns ErrCollectionExists if the name is taken.
	CreateCollection(ctx context.Context, collection *core.Collection) error

	// UpdateCollection replaces an existing collection config.
	// Returns ErrCollectionNotFound if the collection doesn't exist.
	UpdateCollection(ctx context.Context, collection *core.Collection) error

	// GetCollection retrieves a collection config by name.
	// Returns ErrCollectionNotFound if the collection doesn't exist.
	GetCollection(ctx context.Context, name string) (*core.Collection, error)

	// ListCollections returns every collection config ordered by name.
	ListCollections(ctx context.Context) ([]*core.Collection, error)

	// DeleteCollection removes a collection config.
	// Returns ErrCollectionNotFound if the collection doesn't exist.
	DeleteCollection(ctx context.Context, name string) error
}

// SnapshotManifest describes the currently published snapshot of one index.
type SnapshotManifest struct {
	Generation uint64 // bumped on each save; chunks are keyed by generation
	Chunks     int
	Size       int
	Watermark  uint64 // store watermark the snapshot reflects
	UpdatedAt  time.Time
}

// SnapshotRepository persists derived index state.
// Snapshots are caches: losing one only costs a rebuild from the record store.
type SnapshotRepository interface {
	// SaveSnapshot writes data under a new generation then publishes its manifest atomically.
	SaveSnapshot(ctx context.Context, collection, kind string, watermark uint64, data []byte) error

	// LoadSnapshot returns the published snapshot for an index kind.
	// Returns nil, nil, nil if none exists.
	LoadSnapshot(ctx context.Context, collection, kind string) (*SnapshotManifest, []byte, error)

	// DeleteSnapshots removes every snapshot of the collection.
	DeleteSnapshots(ctx context.Context, collection string) error
}
