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

// Package storage defines the repository contracts for the embedding store
// and the binary encoding of its values.
//
// The store is authoritative: ANN and keyword indexes are derived caches
// that can always be rebuilt from the records held here. Index snapshots
// are persisted alongside the records together with the mutation watermark
// they were taken at, so a stale snapshot is detected and discarded.
package storage
