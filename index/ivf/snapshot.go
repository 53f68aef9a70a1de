package ivf

import (
	"fmt"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index"
	"github.com/vmihailenco/msgpack/v5"
)

const snapshotVersion = 1

type snapshotList struct {
	IDs     []uint64    `msgpack:"i"`
	Vectors [][]float32 `msgpack:"v"`
}

type snapshot struct {
	Version     int            `msgpack:"version"`
	Config      Config         `msgpack:"config"`
	Centroids   [][]float32    `msgpack:"centroids"`
	TrainedSize int            `msgpack:"trained_size"`
	Lists       []snapshotList `msgpack:"lists"`
	Overflow    snapshotList   `msgpack:"overflow"`
}

func encodeList(p *postingList) snapshotList {
	ids, vectors := p.view()
	out := snapshotList{IDs: make([]uint64, len(ids)), Vectors: vectors}
	for i, id := range ids {
		out.IDs[i] = uint64(id)
	}
	return out
}

// Snapshot serializes centroids and posting lists.
// Callers must keep writers out while the snapshot is taken.
func (x *Index) Snapshot() ([]byte, error) {
	snap := snapshot{
		Version:     snapshotVersion,
		Config:      x.cfg,
		Centroids:   x.centroids,
		TrainedSize: x.trainedSize,
		Lists:       make([]snapshotList, len(x.lists)),
		Overflow:    encodeList(x.overflow),
	}
	for i, p := range x.lists {
		snap.Lists[i] = encodeList(p)
	}

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cluster snapshot: %w", err)
	}
	return data, nil
}

// Restore rebuilds an index from Snapshot output.
func Restore(data []byte) (*Index, error) {
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode cluster snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: cluster snapshot version %d", index.ErrSnapshotVersion, snap.Version)
	}
	if len(snap.Lists) != len(snap.Centroids) {
		return nil, fmt.Errorf("cluster snapshot has %d lists for %d centroids", len(snap.Lists), len(snap.Centroids))
	}

	var (
		x   *Index
		err error
	)
	if len(snap.Centroids) == 0 {
		x, err = New(snap.Config)
	} else {
		x, err = NewTrained(snap.Config, snap.Centroids, snap.TrainedSize)
	}
	if err != nil {
		return nil, err
	}

	load := func(target int, sl snapshotList) error {
		if len(sl.IDs) != len(sl.Vectors) {
			return fmt.Errorf("cluster snapshot list %d is malformed", target)
		}
		p := x.list(target)
		for i, raw := range sl.IDs {
			id := core.ID(raw)
			if len(sl.Vectors[i]) != x.cfg.Dimension {
				return fmt.Errorf("%w: snapshot vector for %d", core.ErrDimensionMismatch, id)
			}
			if _, dup := x.location[id]; dup {
				return fmt.Errorf("%w: %d", index.ErrDuplicateID, id)
			}
			x.location[id] = target
			p.ids = append(p.ids, id)
			p.vectors = append(p.vectors, sl.Vectors[i])
		}
		x.live.Add(int64(len(sl.IDs)))
		return nil
	}

	if err := load(overflowList, snap.Overflow); err != nil {
		return nil, err
	}
	for i, sl := range snap.Lists {
		if err := load(i, sl); err != nil {
			return nil, err
		}
	}
	return x, nil
}
