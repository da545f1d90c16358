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


package backfill

import (
	"context"

	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/storage"
)

// PendingIterator walks records that have no embedding, in ID order, one
// batch at a time. Each fetch asks for IDs strictly greater than the last ID
// of the previous batch, so records that gain a vector mid-scan neither
// shift nor repeat later batches.
type PendingIterator struct {
	repo      storage.RecordRepository
	kind      core.RecordKind
	batchSize int
	cursor    core.ID
}

// NewPendingIterator creates an iterator over pending records of kind.
// batchSize: number of records to fetch in each batch (must be > 0)
func NewPendingIterator(repo storage.RecordRepository, kind core.RecordKind, batchSize int) *PendingIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &PendingIterator{
		repo:      repo,
		kind:      kind,
		batchSize: batchSize,
	}
}

// Cursor returns the last ID handed to fn, or 0 before the first batch.
func (it *PendingIterator) Cursor() core.ID {
	return it.cursor
}

// ForEach calls fn for each batch until a fetch comes back empty.
// Iteration stops on first error from fn or from storage.
// Context cancellation is checked between batches.
func (it *PendingIterator) ForEach(ctx context.Context, fn func([]*core.Record) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := it.repo.ListRecordsMissingEmbedding(ctx, it.kind, it.cursor, it.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}

		it.cursor = batch[len(batch)-1].Id
	}
}
