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

// Package scope enforces record ownership. Every record belongs to exactly one
// scope; a query may only ever see records from scopes its principal controls.
//
// Membership is kept as one roaring bitmap per scope. A query freezes the union
// of its principal's bitmaps once, up front, and the resulting predicate is
// pushed into every index scan so foreign records never count toward k.
package scope

import (
	"fmt"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index"
	"github.com/vmihailenco/msgpack/v5"
)

// Principal is the identity a request runs as, described by the scopes it controls.
type Principal struct {
	scopes       map[core.ScopeID]struct{}
	unrestricted bool
}

// NewPrincipal creates a principal controlling the given scopes. Empty scope IDs are ignored.
func NewPrincipal(scopes ...core.ScopeID) Principal {
	p := Principal{scopes: make(map[core.ScopeID]struct{}, len(scopes))}
	for _, s := range scopes {
		if s != "" {
			p.scopes[s] = struct{}{}
		}
	}
	return p
}

// Unrestricted returns a principal that controls every scope.
// Only administrative tooling should use it.
func Unrestricted() Principal {
	return Principal{unrestricted: true}
}

// IsUnrestricted reports whether the principal bypasses scope checks.
func (p Principal) IsUnrestricted() bool {
	return p.unrestricted
}

// Controls reports whether the principal may read and write records in s.
func (p Principal) Controls(s core.ScopeID) bool {
	if p.unrestricted {
		return s != ""
	}
	_, ok := p.scopes[s]
	return ok
}

// Scopes returns the controlled scopes in sorted order. Nil for an unrestricted principal.
func (p Principal) Scopes() []core.ScopeID {
	if p.unrestricted {
		return nil
	}
	out := make([]core.ScopeID, 0, len(p.scopes))
	for s := range p.scopes {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Authorize checks that p may write a record owned by s.
// Scopes are never coerced: a foreign scope is a violation, not a rewrite.
func Authorize(p Principal, s core.ScopeID) error {
	if s == "" {
		return core.ErrEmptyScope
	}
	if !p.Controls(s) {
		return fmt.Errorf("%w: scope %q", core.ErrScopeViolation, s)
	}
	return nil
}

// Registry tracks which record IDs belong to which scope.
type Registry struct {
	mu      sync.RWMutex
	members map[core.ScopeID]*roaring64.Bitmap
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[core.ScopeID]*roaring64.Bitmap)}
}

// Add records that id is owned by s.
func (r *Registry) Add(s core.ScopeID, id core.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bm, ok := r.members[s]
	if !ok {
		bm = roaring64.New()
		r.members[s] = bm
	}
	bm.Add(uint64(id))
}

// Remove drops id from s. Scopes left empty are forgotten.
func (r *Registry) Remove(s core.ScopeID, id core.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bm, ok := r.members[s]
	if !ok {
		return
	}
	bm.Remove(uint64(id))
	if bm.IsEmpty() {
		delete(r.members, s)
	}
}

// Contains reports whether id is owned by s.
func (r *Registry) Contains(s core.ScopeID, id core.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bm, ok := r.members[s]
	return ok && bm.Contains(uint64(id))
}

// Count returns the number of records owned by s.
func (r *Registry) Count(s core.ScopeID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bm, ok := r.members[s]; ok {
		return int(bm.GetCardinality())
	}
	return 0
}

// Len returns the number of scopes with at least one record.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Filter freezes the IDs visible to p into an index predicate.
// Records added after the call are not visible to the returned filter.
// An unrestricted principal gets a nil filter, which admits everything.
func (r *Registry) Filter(p Principal) index.Filter {
	if p.IsUnrestricted() {
		return nil
	}

	r.mu.RLock()
	visible := roaring64.New()
	for s := range p.scopes {
		if bm, ok := r.members[s]; ok {
			visible.Or(bm)
		}
	}
	r.mu.RUnlock()

	if visible.IsEmpty() {
		return func(core.ID) bool { return false }
	}
	return func(id core.ID) bool {
		return visible.Contains(uint64(id))
	}
}

// Snapshot serializes every scope bitmap.
func (r *Registry) Snapshot() ([]byte, error) {
	r.mu.RLock()
	encoded := make(map[string][]byte, len(r.members))
	for s, bm := range r.members {
		data, err := bm.MarshalBinary()
		if err != nil {
			r.mu.RUnlock()
			return nil, fmt.Errorf("failed to encode scope %q: %w", s, err)
		}
		encoded[string(s)] = data
	}
	r.mu.RUnlock()

	data, err := msgpack.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scope registry: %w", err)
	}
	return data, nil
}

// Restore rebuilds a registry from Snapshot output.
func Restore(data []byte) (*Registry, error) {
	var encoded map[string][]byte
	if err := msgpack.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("failed to decode scope registry: %w", err)
	}
	r := NewRegistry()
	for s, raw := range encoded {
		bm := roaring64.New()
		if err := bm.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("failed to decode scope %q: %w", s, err)
		}
		if !bm.IsEmpty() {
			r.members[core.ScopeID(s)] = bm
		}
	}
	return r, nil
}
