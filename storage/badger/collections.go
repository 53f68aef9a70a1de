package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/storage"
)

// CollectionRepository implements storage.CollectionRepository for BadgerDB.
type CollectionRepository struct {
	backend *Backend
}

var _ storage.CollectionRepository = (*CollectionRepository)(nil)

// NewCollectionRepository creates a new CollectionRepository.
func NewCollectionRepository(backend *Backend) *CollectionRepository {
	return &CollectionRepository{
		backend: backend,
	}
}

// CreateCollection stores a new collection config.
func (r *CollectionRepository) CreateCollection(ctx context.Context, collection *core.Collection) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeCollectionKey(collection.Name)
		existing, err := readCollection(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return storage.ErrCollectionExists
		}

		collection.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
		collection.UpdatedAt = collection.CreatedAt
		if err := tx.Set(key, storage.MarshalCollection(collection)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// UpdateCollection replaces an existing collection config.
func (r *CollectionRepository) UpdateCollection(ctx context.Context, collection *core.Collection) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeCollectionKey(collection.Name)
		existing, err := readCollection(tx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			return storage.ErrCollectionNotFound
		}

		collection.CreatedAt = existing.CreatedAt
		collection.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
		if err := tx.Set(key, storage.MarshalCollection(collection)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetCollection retrieves a collection config by name.
func (r *CollectionRepository) GetCollection(ctx context.Context, name string) (*core.Collection, error) {
	var result *core.Collection
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readCollection(tx, makeCollectionKey(name))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrCollectionNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListCollections returns every collection config ordered by name.
func (r *CollectionRepository) ListCollections(ctx context.Context) ([]*core.Collection, error) {
	var results []*core.Collection
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				c, err := storage.UnmarshalCollection(val)
				if err != nil {
					return err
				}
				results = append(results, c)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return results, err
}

// DeleteCollection removes a collection config.
func (r *CollectionRepository) DeleteCollection(ctx context.Context, name string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeCollectionKey(name)
		existing, err := readCollection(tx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			return storage.ErrCollectionNotFound
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

func readCollection(tx *badger.Txn, key []byte) (*core.Collection, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var collection *core.Collection
	err = item.Value(func(val []byte) error {
		var err error
		collection, err = storage.UnmarshalCollection(val)
		return err
	})
	return collection, err
}
