package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/storage"
)

// RecordRepository implements storage.RecordRepository for BadgerDB.
//
// Besides the primary record key, each record owns a kind index entry and,
// while it has no vector, a pending index entry. The pending index is what
// the backfill cursor walks.
type RecordRepository struct {
	backend    *Backend
	idSeq      *badger.Sequence
	dimensions int
}

var _ storage.RecordRepository = (*RecordRepository)(nil)

// NewRecordRepository creates a new RecordRepository. A positive dimensions
// value makes SetRecordEmbedding reject vectors of any other length.
func NewRecordRepository(backend *Backend, dimensions int) (*RecordRepository, error) {
	idSeq, err := backend.GetSequence(recordIDSeq)
	if err != nil {
		return nil, err
	}

	return &RecordRepository{
		backend:    backend,
		idSeq:      idSeq,
		dimensions: dimensions,
	}, nil
}

// Close releases the ID sequence.
func (r *RecordRepository) Close() error {
	return r.idSeq.Release()
}

// AddRecords adds one or more records to storage.
func (r *RecordRepository) AddRecords(ctx context.Context, records ...*core.Record) ([]*core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := core.ValidateRecord(record); err != nil {
			return nil, err
		}
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, record := range records {
			if record.Id == 0 {
				nextID, err := r.nextID()
				if err != nil {
					return err
				}
				record.Id = nextID
			} else if existing, err := readRecord(tx, makeRecordKey(record.Id)); err != nil {
				return err
			} else if existing != nil {
				return fmt.Errorf("%w: record %d", storage.ErrDuplicateKey, record.Id)
			}

			if record.InsertedAt.IsZero() {
				record.InsertedAt = time.Now().UTC()
			}
			record.UpdatedAt = record.InsertedAt

			if err := writeRecord(tx, record); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)

	return records, err
}

// UpdateRecords updates existing records.
func (r *RecordRepository) UpdateRecords(ctx context.Context, records ...*core.Record) ([]*core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, record := range records {
			if err := core.ValidateRecord(record); err != nil {
				return err
			}
			old, err := readRecord(tx, makeRecordKey(record.Id))
			if err != nil {
				return err
			}
			if old == nil {
				return fmt.Errorf("%w: record %d", storage.ErrNotFound, record.Id)
			}
			if err := deleteIndices(tx, old); err != nil {
				return err
			}

			record.InsertedAt = old.InsertedAt
			record.UpdatedAt = time.Now().UTC()
			if err := writeRecord(tx, record); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)

	return records, err
}

// DeleteRecords removes records by their IDs.
func (r *RecordRepository) DeleteRecords(ctx context.Context, ids ...core.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			key := makeRecordKey(id)
			record, err := readRecord(tx, key)
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("%w: record %d", storage.ErrNotFound, id)
			}
			if err := deleteIndices(tx, record); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetRecord retrieves a single record by ID.
func (r *RecordRepository) GetRecord(ctx context.Context, id core.ID) (*core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *core.Record
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readRecord(tx, makeRecordKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListRecords returns all records of a kind except excludeID, ordered by ID.
func (r *RecordRepository) ListRecords(ctx context.Context, kind core.RecordKind, excludeID core.ID) ([]*core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []*core.Record
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeKindPrefix(recordKindPrefix, kind)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			id := idFromIndexKey(iter.Item().Key())
			if id == excludeID {
				continue
			}
			record, err := readRecord(tx, makeRecordKey(id))
			if err != nil {
				return err
			}
			if record != nil {
				results = append(results, record)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListRecordsMissingEmbedding walks the pending index starting strictly
// after afterID.
func (r *RecordRepository) ListRecordsMissingEmbedding(ctx context.Context, kind core.RecordKind, afterID core.ID, limit int) ([]*core.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]*core.Record, 0, limit)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makeKindPrefix(recordPendingPrefix, kind)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(makeIndexKey(recordPendingPrefix, kind, afterID+1)); iter.ValidForPrefix(prefix); iter.Next() {
			id := idFromIndexKey(iter.Item().Key())
			if id <= afterID {
				continue
			}
			record, err := readRecord(tx, makeRecordKey(id))
			if err != nil {
				return err
			}
			if record == nil || record.HasVector() {
				continue
			}
			results = append(results, record)
			if len(results) >= limit {
				break
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SetRecordEmbedding replaces the vector of a record and clears its pending
// index entry in one transaction.
func (r *RecordRepository) SetRecordEmbedding(ctx context.Context, id core.ID, vector []float32) error {
	if err := storage.ValidateVector(vector, r.dimensions); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		record, err := readRecord(tx, makeRecordKey(id))
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("%w: record %d", storage.ErrNotFound, id)
		}

		record.Vector = append([]float32(nil), vector...)
		record.UpdatedAt = time.Now().UTC()
		if err := tx.Set(makeRecordKey(id), storage.MarshalRecord(record)); err != nil {
			return err
		}
		if err := tx.Delete(makeIndexKey(recordPendingPrefix, record.Kind, id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// CountRecords returns the number of records of a kind.
func (r *RecordRepository) CountRecords(ctx context.Context, kind core.RecordKind) (int, error) {
	return r.count(ctx, makeKindPrefix(recordKindPrefix, kind))
}

// CountMissingEmbedding returns the number of records of a kind without a vector.
func (r *RecordRepository) CountMissingEmbedding(ctx context.Context, kind core.RecordKind) (int, error) {
	return r.count(ctx, makeKindPrefix(recordPendingPrefix, kind))
}

func (r *RecordRepository) count(ctx context.Context, prefix []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		n = countPrefix(tx, prefix)
		return nil
	}, false)
	return n, err
}

// Helper methods

// nextID draws the next ID from the sequence, skipping the 0 that BadgerDB
// sequences can hand out on first use.
func (r *RecordRepository) nextID() (core.ID, error) {
	nextID, err := r.idSeq.Next()
	if err != nil {
		return 0, err
	}
	if nextID == 0 {
		nextID, err = r.idSeq.Next()
		if err != nil {
			return 0, err
		}
	}
	return core.ID(nextID), nil
}

// readRecord reads a record from the transaction. A missing key yields nil, nil.
func readRecord(tx *badger.Txn, key []byte) (*core.Record, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var record *core.Record
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		record, unmarshalErr = storage.UnmarshalRecord(val)
		return unmarshalErr
	})
	return record, err
}

// writeRecord stores the record and its index entries.
func writeRecord(tx *badger.Txn, record *core.Record) error {
	if err := tx.Set(makeRecordKey(record.Id), storage.MarshalRecord(record)); err != nil {
		return err
	}
	if err := tx.Set(makeIndexKey(recordKindPrefix, record.Kind, record.Id), nil); err != nil {
		return err
	}
	if !record.HasVector() {
		if err := tx.Set(makeIndexKey(recordPendingPrefix, record.Kind, record.Id), nil); err != nil {
			return err
		}
	}
	return nil
}

// deleteIndices removes the kind and pending index entries of a record.
func deleteIndices(tx *badger.Txn, record *core.Record) error {
	if err := tx.Delete(makeIndexKey(recordKindPrefix, record.Kind, record.Id)); err != nil {
		return err
	}
	return tx.Delete(makeIndexKey(recordPendingPrefix, record.Kind, record.Id))
}
