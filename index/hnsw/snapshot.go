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

package hnsw

import (
	"fmt"
	"math/rand/v2"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index"
	"github.com/vmihailenco/msgpack/v5"
)

const snapshotVersion = 1

type snapshotNode struct {
	ID      uint64     `msgpack:"i"`
	Vector  []float32  `msgpack:"v"`
	Level   int        `msgpack:"l"`
	Friends [][]uint32 `msgpack:"f"`
	Deleted bool       `msgpack:"d,omitempty"`
}

type snapshot struct {
	Version    int            `msgpack:"version"`
	Config     Config         `msgpack:"config"`
	Nodes      []snapshotNode `msgpack:"nodes"`
	HasEntry   bool           `msgpack:"has_entry"`
	Entry      uint32         `msgpack:"entry"`
	EntryLevel int            `msgpack:"entry_level"`
}

// Snapshot serializes the graph, tombstones included, so a restored graph
// answers queries identically without relinking.
// Callers must keep writers out while the snapshot is taken.
func (g *Graph) Snapshot() ([]byte, error) {
	arena := g.arena()
	snap := snapshot{
		Version: snapshotVersion,
		Config:  g.cfg,
		Nodes:   make([]snapshotNode, len(arena)),
	}
	for i, n := range arena {
		n.mu.RLock()
		friends := make([][]uint32, len(n.friends))
		copy(friends, n.friends)
		n.mu.RUnlock()

		snap.Nodes[i] = snapshotNode{
			ID:      uint64(n.id),
			Vector:  n.vector,
			Level:   n.level,
			Friends: friends,
			Deleted: n.deleted.Load(),
		}
	}
	if ep := g.entry.Load(); ep != nil {
		snap.HasEntry = true
		snap.Entry = ep.slot
		snap.EntryLevel = ep.level
	}

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph snapshot: %w", err)
	}
	return data, nil
}

// Restore rebuilds a graph from Snapshot output.
func Restore(data []byte) (*Graph, error) {
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode graph snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: graph snapshot version %d", index.ErrSnapshotVersion, snap.Version)
	}

	g, err := New(snap.Config)
	if err != nil {
		return nil, err
	}

	arena := make([]*node, len(snap.Nodes))
	for i, sn := range snap.Nodes {
		if len(sn.Vector) != g.cfg.Dimension || len(sn.Friends) != sn.Level+1 {
			return nil, fmt.Errorf("graph snapshot node %d is malformed", i)
		}
		for _, layer := range sn.Friends {
			for _, s := range layer {
				if int(s) >= len(snap.Nodes) {
					return nil, fmt.Errorf("graph snapshot node %d links to missing slot %d", i, s)
				}
			}
		}
		n := &node{
			id:      core.ID(sn.ID),
			vector:  sn.Vector,
			level:   sn.Level,
			friends: sn.Friends,
		}
		if sn.Deleted {
			n.deleted.Store(true)
			g.tombstones.Add(1)
		} else {
			g.lookup[n.id] = uint32(i)
			g.live.Add(1)
		}
		arena[i] = n
	}
	g.nodes.Store(&arena)

	if snap.HasEntry {
		if int(snap.Entry) >= len(arena) {
			return nil, fmt.Errorf("graph snapshot entry point %d out of range", snap.Entry)
		}
		g.entry.Store(&entryPoint{slot: snap.Entry, level: snap.EntryLevel})
	}

	// Continue the level sequence from a different point than a fresh graph would.
	seed := snap.Config.Seed + uint64(len(arena))
	g.rng = rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d))
	return g, nil
}
