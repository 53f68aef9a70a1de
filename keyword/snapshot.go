package keyword

import (
	"fmt"
	"slices"

	"github.com/poiesic/lodestone/core"
	"github.com/vmihailenco/msgpack/v5"
)

const snapshotVersion = 1

type snapshotDoc struct {
	ID     uint64   `msgpack:"i"`
	Tokens []string `msgpack:"t"`
}

type snapshot struct {
	Version  int           `msgpack:"version"`
	Stemming bool          `msgpack:"stemming"`
	Docs     []snapshotDoc `msgpack:"docs"`
}

// Snapshot serializes each document's token sequence, rebuilt from positions.
func (x *Index) Snapshot() ([]byte, error) {
	x.mu.RLock()
	snap := snapshot{
		Version:  snapshotVersion,
		Stemming: x.analyzer.Stemming(),
		Docs:     make([]snapshotDoc, 0, len(x.docLen)),
	}
	for id, length := range x.docLen {
		tokens := make([]string, length)
		for _, term := range x.terms[id] {
			for _, pos := range x.postings[term][id] {
				tokens[pos] = term
			}
		}
		snap.Docs = append(snap.Docs, snapshotDoc{ID: uint64(id), Tokens: tokens})
	}
	x.mu.RUnlock()

	slices.SortFunc(snap.Docs, func(a, b snapshotDoc) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode keyword snapshot: %w", err)
	}
	return data, nil
}

// Restore rebuilds an index from Snapshot output.
func Restore(data []byte) (*Index, error) {
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode keyword snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported keyword snapshot version %d", snap.Version)
	}

	x := New(NewAnalyzer(snap.Stemming))
	for _, doc := range snap.Docs {
		if err := x.Add(core.ID(doc.ID), doc.Tokens); err != nil {
			return nil, err
		}
	}
	return x, nil
}
