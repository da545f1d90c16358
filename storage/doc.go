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


// Package storage defines the record store used by similarity lookups and
// the embedding backfill.
//
// RecordRepository is implemented by two backends:
//
//   - storage/badger: an embedded BadgerDB store, used by default and in tests
//   - storage/postgres: a PostgreSQL store built on sqlx
//
// Records are serialized with the mus-format codec in serialization.go.
// Both backends keep vectors inside the record and track which records
// still need one, so ListRecordsMissingEmbedding can walk pending records
// in ascending ID order without scanning the whole store.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	repo, err := badger.NewRecordRepository(backend, 768)
//
// Use in tests with in-memory storage:
//
//	repo, backend, err := badger.NewMemoryRepository(0)
//
// # Thread Safety
//
// All repository implementations must be safe for concurrent use.
//
// # Context Support
//
// All repository methods accept context.Context and return its error
// once it is done.
package storage
