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

// MemoryRepositories bundles the repositories of an in-memory backend for testing.
type MemoryRepositories struct {
	Backend     *Backend
	Records     *RecordRepository
	Collections *CollectionRepository
	Snapshots   *SnapshotRepository
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must call Close when done.
func NewMemoryRepositories() (*MemoryRepositories, error) {
	backend, err := NewMemoryBackend()
	if err != nil {
		return nil, err
	}

	return &MemoryRepositories{
		Backend:     backend,
		Records:     NewRecordRepository(backend),
		Collections: NewCollectionRepository(backend),
		Snapshots:   NewSnapshotRepository(backend),
	}, nil
}

// Close releases sequences and closes the backend.
func (m *MemoryRepositories) Close() error {
	if err := m.Records.Close(); err != nil {
		m.Backend.Close()
		return err
	}
	return m.Backend.Close()
}
