package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index"
	"github.com/poiesic/lodestone/index/hnsw"
	"github.com/poiesic/lodestone/index/ivf"
	"github.com/poiesic/lodestone/keyword"
	"github.com/poiesic/lodestone/scope"
	"github.com/poiesic/lodestone/storage"
	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotKind names the snapshot holding all derived indexes of a collection.
const SnapshotKind = "indexes"

const bundleVersion = 1

type bundle struct {
	Version int          `msgpack:"version"`
	Variant core.Variant `msgpack:"variant"`
	ANN     []byte       `msgpack:"ann"`
	Keyword []byte       `msgpack:"keyword"`
	Scopes  []byte       `msgpack:"scopes"`
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// Persist writes the current generation to the snapshot repository, tagged with
// the store watermark it reflects. Writers wait while the snapshot is taken.
func (m *Manager) Persist(ctx context.Context) error {
	if m.snapshots == nil {
		return ErrSnapshotsDisabled
	}
	enc, _, err := codecs()
	if err != nil {
		return err
	}

	m.gate.Lock()
	defer m.gate.Unlock()

	st := m.state.Load()
	watermark, err := m.records.Watermark(ctx, st.collection.Name)
	if err != nil {
		return err
	}

	b := bundle{Version: bundleVersion, Variant: st.collection.Variant}
	if b.ANN, err = st.ann.Snapshot(); err != nil {
		return err
	}
	if b.Keyword, err = st.keyword.Snapshot(); err != nil {
		return err
	}
	if b.Scopes, err = st.scopes.Snapshot(); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(&b)
	if err != nil {
		return fmt.Errorf("failed to encode index bundle: %w", err)
	}

	data := enc.EncodeAll(raw, nil)
	if err := m.snapshots.SaveSnapshot(ctx, st.collection.Name, SnapshotKind, watermark, data); err != nil {
		return err
	}
	m.logger.Info("persisted indexes",
		"watermark", watermark,
		"raw_bytes", len(raw),
		"stored_bytes", len(data))
	return nil
}

// Load replaces the current generation with the persisted snapshot when it
// reflects exactly the store's current watermark. A missing, stale or
// unreadable snapshot returns false so the caller can rebuild instead.
func (m *Manager) Load(ctx context.Context) (bool, error) {
	if m.snapshots == nil {
		return false, nil
	}

	m.gate.Lock()
	defer m.gate.Unlock()

	c := m.state.Load().collection
	manifest, data, err := m.snapshots.LoadSnapshot(ctx, c.Name, SnapshotKind)
	if errors.Is(err, storage.ErrSnapshotCorrupt) {
		m.logger.Warn("discarding corrupt index snapshot", "err", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if manifest == nil {
		return false, nil
	}

	watermark, err := m.records.Watermark(ctx, c.Name)
	if err != nil {
		return false, err
	}
	if manifest.Watermark != watermark {
		m.logger.Info("index snapshot is stale",
			"snapshot_watermark", manifest.Watermark,
			"store_watermark", watermark)
		return false, nil
	}

	st, err := m.restore(c, data)
	if err != nil {
		m.logger.Warn("discarding unreadable index snapshot", "err", err)
		return false, nil
	}
	m.swap(st)
	m.logger.Info("loaded indexes from snapshot",
		"watermark", watermark,
		"count", st.ann.Len(),
		"saved_at", manifest.UpdatedAt)
	return true, nil
}

func (m *Manager) restore(c *core.Collection, data []byte) (*state, error) {
	_, dec, err := codecs()
	if err != nil {
		return nil, err
	}
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress index bundle: %w", err)
	}

	var b bundle
	if err := msgpack.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode index bundle: %w", err)
	}
	if b.Version != bundleVersion {
		return nil, fmt.Errorf("%w: bundle version %d", index.ErrSnapshotVersion, b.Version)
	}
	if b.Variant != c.Variant {
		return nil, fmt.Errorf("snapshot holds a %s index, collection uses %s", b.Variant, c.Variant)
	}

	var ann index.Index
	switch c.Variant {
	case core.VariantGraph:
		ann, err = hnsw.Restore(b.ANN)
	case core.VariantCluster:
		ann, err = ivf.Restore(b.ANN)
	default:
		err = core.ErrUnknownVariant
	}
	if err != nil {
		return nil, err
	}

	kw, err := keyword.Restore(b.Keyword)
	if err != nil {
		return nil, err
	}
	if kw.Analyzer().Stemming() != c.Stemming {
		return nil, errors.New("snapshot analyzer does not match collection")
	}
	scopes, err := scope.Restore(b.Scopes)
	if err != nil {
		return nil, err
	}

	return &state{
		collection: c,
		ann:        ann,
		keyword:    kw,
		scopes:     scopes,
		generation: m.gen.Add(1),
		builtAt:    time.Now(),
	}, nil
}
