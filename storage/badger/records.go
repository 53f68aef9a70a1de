package badger

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/storage"
	"github.com/poiesic/lodestone/vector"
)

const defaultBatchSize = 256

// RecordRepository implements storage.RecordRepository for BadgerDB.
type RecordRepository struct {
	backend *Backend
	mu      sync.Mutex
	idSeqs  map[string]*badger.Sequence
	wmSeqs  map[string]*badger.Sequence
}

var _ storage.RecordRepository = (*RecordRepository)(nil)

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(backend *Backend) *RecordRepository {
	return &RecordRepository{
		backend: backend,
		idSeqs:  make(map[string]*badger.Sequence),
		wmSeqs:  make(map[string]*badger.Sequence),
	}
}

// Close releases all ID and watermark sequences.
func (r *RecordRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, seq := range r.idSeqs {
		errs = append(errs, seq.Release())
		delete(r.idSeqs, name)
	}
	for name, seq := range r.wmSeqs {
		errs = append(errs, seq.Release())
		delete(r.wmSeqs, name)
	}
	return errors.Join(errs...)
}

// sequences returns the lazily opened ID and watermark sequences of a collection.
func (r *RecordRepository) sequences(collection string) (*badger.Sequence, *badger.Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idSeq, ok := r.idSeqs[collection]
	if !ok {
		var err error
		idSeq, err = r.backend.GetSequence(makeRecordSeqName(collection))
		if err != nil {
			return nil, nil, err
		}
		r.idSeqs[collection] = idSeq
	}
	wmSeq, ok := r.wmSeqs[collection]
	if !ok {
		var err error
		wmSeq, err = r.backend.GetSequence(makeWatermarkSeqName(collection))
		if err != nil {
			return nil, nil, err
		}
		r.wmSeqs[collection] = wmSeq
	}
	return idSeq, wmSeq, nil
}

// stamp sets the collection watermark to a fresh stamp.
// The key is written blind so concurrent writers never conflict on it.
func (r *RecordRepository) stamp(tx *badger.Txn, collection string, wmSeq *badger.Sequence) error {
	next, err := nextNonZero(wmSeq)
	if err != nil {
		return err
	}
	return tx.Set(makeWatermarkKey(collection), storage.MarshalUint64(next))
}

// AddRecord stores a new record in the collection.
func (r *RecordRepository) AddRecord(ctx context.Context, collection string, record *core.Record) (*core.Record, error) {
	idSeq, wmSeq, err := r.sequences(collection)
	if err != nil {
		return nil, err
	}

	err = r.backend.WithTx(func(tx *badger.Txn) error {
		nextID, err := nextNonZero(idSeq)
		if err != nil {
			return err
		}
		record.Id = core.ID(nextID)
		record.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
		record.UpdatedAt = record.CreatedAt

		if err := tx.Set(makeRecordKey(collection, record.Id), storage.MarshalRecord(record)); err != nil {
			return err
		}
		if err := r.stamp(tx, collection, wmSeq); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// DeleteRecord removes a record and returns what was stored.
func (r *RecordRepository) DeleteRecord(ctx context.Context, collection string, id core.ID) (*core.Record, error) {
	_, wmSeq, err := r.sequences(collection)
	if err != nil {
		return nil, err
	}

	var record *core.Record
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeRecordKey(collection, id)
		var err error
		record, err = readRecord(tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			return storage.ErrNotFound
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		if err := r.stamp(tx, collection, wmSeq); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetRecord retrieves a single record by ID.
func (r *RecordRepository) GetRecord(ctx context.Context, collection string, id core.ID) (*core.Record, error) {
	var result *core.Record
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readRecord(tx, makeRecordKey(collection, id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetRecords retrieves multiple records by their IDs.
func (r *RecordRepository) GetRecords(ctx context.Context, collection string, ids ...core.ID) ([]*core.Record, error) {
	results := make([]*core.Record, 0, len(ids))
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			record, err := readRecord(tx, makeRecordKey(collection, id))
			if err != nil {
				return err
			}
			if record != nil {
				results = append(results, record)
			}
		}
		return nil
	}, false)
	return results, err
}

// ForEach iterates over every record in ID order, calling fn once per batch.
func (r *RecordRepository) ForEach(ctx context.Context, collection string, batchSize int, fn func([]*core.Record) error) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeRecordPrefix(collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		batch := make([]*core.Record, 0, batchSize)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			var record *core.Record
			err := iter.Item().Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			batch = append(batch, record)

			if len(batch) == batchSize {
				if err := fn(batch); err != nil {
					return err
				}
				batch = make([]*core.Record, 0, batchSize)
				// Check context between batches
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
		if len(batch) > 0 {
			return fn(batch)
		}
		return nil
	}, false)
}

// Sample returns up to n vectors chosen uniformly from the collection (reservoir sampling).
func (r *RecordRepository) Sample(ctx context.Context, collection string, n int, seed int64) ([][]float32, int, error) {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	reservoir := make([][]float32, 0, n)
	seen := 0

	err := r.ForEach(ctx, collection, defaultBatchSize, func(batch []*core.Record) error {
		for _, record := range batch {
			seen++
			if len(reservoir) < n {
				reservoir = append(reservoir, record.Vector)
				continue
			}
			if j := rng.IntN(seen); j < n {
				reservoir[j] = record.Vector
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return reservoir, seen, nil
}

// Count returns the number of records in the collection.
func (r *RecordRepository) Count(ctx context.Context, collection string) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeRecordPrefix(collection)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Watermark returns the mutation stamp of the most recent committed write.
func (r *RecordRepository) Watermark(ctx context.Context, collection string) (uint64, error) {
	var wm uint64
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeWatermarkKey(collection))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			wm, err = storage.UnmarshalUint64(val)
			return err
		})
	}, false)
	return wm, err
}

// DropRecords removes every record of the collection along with its sequences and watermark.
func (r *RecordRepository) DropRecords(ctx context.Context, collection string) error {
	r.mu.Lock()
	var errs []error
	if seq, ok := r.idSeqs[collection]; ok {
		errs = append(errs, seq.Release())
		delete(r.idSeqs, collection)
	}
	if seq, ok := r.wmSeqs[collection]; ok {
		errs = append(errs, seq.Release())
		delete(r.wmSeqs, collection)
	}
	r.mu.Unlock()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if err := r.backend.DropPrefix(makeRecordPrefix(collection)); err != nil {
		return err
	}

	// Exact keys: a prefix drop would also hit collections sharing a name prefix.
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, key := range [][]byte{
			makeWatermarkKey(collection),
			[]byte(makeRecordSeqName(collection)),
			[]byte(makeWatermarkSeqName(collection)),
		} {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// FindNearest performs an exact linear scan over the collection.
// It is the ground truth that approximate indexes are measured against.
func (r *RecordRepository) FindNearest(ctx context.Context, collection string, query []float32, metric core.Metric, k int, keep func(*core.Record) bool) ([]*core.SearchResult, error) {
	dist := vector.Distance(metric)
	q := vector.Prepare(metric, query)

	type scored struct {
		record *core.Record
		dist   float32
	}
	var hits []scored

	err := r.ForEach(ctx, collection, defaultBatchSize, func(batch []*core.Record) error {
		for _, record := range batch {
			if keep != nil && !keep(record) {
				continue
			}
			if len(record.Vector) != len(q) {
				continue
			}
			hits = append(hits, scored{record: record, dist: dist(q, vector.Prepare(metric, record.Vector))})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Sort by distance ascending, ID breaks ties
	slices.SortFunc(hits, func(a, b scored) int {
		if a.dist < b.dist {
			return -1
		}
		if a.dist > b.dist {
			return 1
		}
		if a.record.Id < b.record.Id {
			return -1
		}
		if a.record.Id > b.record.Id {
			return 1
		}
		return 0
	})

	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]*core.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = &core.SearchResult{
			Id:      h.record.Id,
			Content: h.record.Content,
			Score:   vector.Similarity(metric, h.dist),
		}
	}
	return results, nil
}

// readRecord reads and decodes a record; returns nil, nil when the key is absent.
func readRecord(tx *badger.Txn, key []byte) (*core.Record, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var record *core.Record
	err = item.Value(func(val []byte) error {
		var err error
		record, err = storage.UnmarshalRecord(val)
		return err
	})
	return record, err
}
