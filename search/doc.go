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

// Package search routes queries to the ANN and keyword indexes of a collection.
//
// The Searcher infers or validates the query mode, pushes the principal's scope
// filter into every index scan, widens the ANN beam when the filter leaves it
// short of k, runs both legs concurrently for hybrid queries and merges them
// with Reciprocal Rank Fusion. Every returned record is checked against the
// principal once more after it is fetched from the store.
//
// Deadlines are soft: an expired context yields whatever the indexes gathered
// with Partial set. Only a deadline that leaves nothing to return is an error.
package search
