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

package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/lodestone/storage"
)

// SnapshotRepository implements storage.SnapshotRepository for BadgerDB.
//
// Snapshot payloads can exceed a single transaction, so they are written as
// chunks under a fresh generation with a WriteBatch. Only once every chunk is
// flushed does a small transaction publish the manifest pointing at them;
// the previous generation is dropped afterwards. Readers therefore always see
// either the old or the new snapshot in full.
type SnapshotRepository struct {
	backend *Backend
	mu      sync.Mutex // serializes saves so generations stay monotonic
}

var _ storage.SnapshotRepository = (*SnapshotRepository)(nil)

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(backend *Backend) *SnapshotRepository {
	return &SnapshotRepository{
		backend: backend,
	}
}

// SaveSnapshot writes data under a new generation then publishes its manifest.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, collection, kind string, watermark uint64, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, err := r.loadManifest(collection, kind)
	if err != nil {
		return err
	}
	var generation uint64 = 1
	if previous != nil {
		generation = previous.Generation + 1
	}

	wb := r.backend.db.NewWriteBatch()
	defer wb.Cancel()

	chunks := 0
	for offset := 0; offset < len(data); offset += snapshotChunkBytes {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(offset+snapshotChunkBytes, len(data))
		if err := wb.Set(makeSnapshotChunkKey(collection, kind, generation, chunks), data[offset:end]); err != nil {
			return err
		}
		chunks++
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	manifest := &storage.SnapshotManifest{
		Generation: generation,
		Chunks:     chunks,
		Size:       len(data),
		Watermark:  watermark,
		UpdatedAt:  time.Now().UTC(),
	}
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeSnapshotManifestKey(collection, kind), storage.MarshalManifest(manifest)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}

	if previous != nil {
		if err := r.backend.DropPrefix(makeSnapshotChunkPrefix(collection, kind, previous.Generation)); err != nil {
			r.backend.logger.Warn("error dropping superseded snapshot", "collection", collection, "kind", kind,
				"generation", previous.Generation, "err", err)
		}
	}
	return nil
}

// LoadSnapshot returns the published snapshot for an index kind.
// Returns nil, nil, nil if no snapshot exists.
func (r *SnapshotRepository) LoadSnapshot(ctx context.Context, collection, kind string) (*storage.SnapshotManifest, []byte, error) {
	var (
		manifest *storage.SnapshotManifest
		data     []byte
	)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		manifest, err = readManifest(tx, collection, kind)
		if err != nil || manifest == nil {
			return err
		}

		data = make([]byte, 0, manifest.Size)
		for chunk := 0; chunk < manifest.Chunks; chunk++ {
			item, err := tx.Get(makeSnapshotChunkKey(collection, kind, manifest.Generation, chunk))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					return fmt.Errorf("%w: missing chunk %d of generation %d", storage.ErrSnapshotCorrupt, chunk, manifest.Generation)
				}
				return err
			}
			err = item.Value(func(val []byte) error {
				data = append(data, val...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		if len(data) != manifest.Size {
			return fmt.Errorf("%w: expected %d bytes, read %d", storage.ErrSnapshotCorrupt, manifest.Size, len(data))
		}
		return nil
	}, false)
	if err != nil {
		return nil, nil, err
	}
	return manifest, data, nil
}

// DeleteSnapshots removes every snapshot of the collection.
func (r *SnapshotRepository) DeleteSnapshots(ctx context.Context, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.backend.DropPrefix(
		[]byte(fmt.Sprintf("%s:%s:", snapshotManifest, collection)),
		[]byte(fmt.Sprintf("%s:%s:", snapshotChunk, collection)),
	)
}

func (r *SnapshotRepository) loadManifest(collection, kind string) (*storage.SnapshotManifest, error) {
	var manifest *storage.SnapshotManifest
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		manifest, err = readManifest(tx, collection, kind)
		return err
	}, false)
	return manifest, err
}

func readManifest(tx *badger.Txn, collection, kind string) (*storage.SnapshotManifest, error) {
	item, err := tx.Get(makeSnapshotManifestKey(collection, kind))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var manifest *storage.SnapshotManifest
	err = item.Value(func(val []byte) error {
		var err error
		manifest, err = storage.UnmarshalManifest(val)
		return err
	})
	return manifest, err
}
