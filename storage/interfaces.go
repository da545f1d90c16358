package storage

import (
	"context"

	"github.com/poiesic/riskdedup/core"
)

// RecordRepository provides operations for managing risk and control records
// and their embeddings. Implementations must be thread-safe.
type RecordRepository interface {
	// GetRecord retrieves a single record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetRecord(ctx context.Context, id core.ID) (*core.Record, error)

	// ListRecords returns every record of the given kind except excludeID,
	// ordered by ID. Pass 0 to exclude nothing.
	ListRecords(ctx context.Context, kind core.RecordKind, excludeID core.ID) ([]*core.Record, error)

	// ListRecordsMissingEmbedding returns up to limit records of the given kind
	// that have no vector and whose ID is strictly greater than afterID,
	// ordered by ID ascending.
	ListRecordsMissingEmbedding(ctx context.Context, kind core.RecordKind, afterID core.ID, limit int) ([]*core.Record, error)

	// SetRecordEmbedding atomically replaces the vector of a single record.
	// Returns ErrNotFound if the record doesn't exist and ErrInvalidVector if
	// the vector is empty or has the wrong dimension.
	SetRecordEmbedding(ctx context.Context, id core.ID, vector []float32) error

	// AddRecords adds one or more records to storage.
	// For records with ID=0, generates new IDs from sequence.
	// Returns the records with generated IDs and timestamps populated.
	AddRecords(ctx context.Context, records ...*core.Record) ([]*core.Record, error)

	// UpdateRecords updates existing records and sets UpdatedAt.
	// Returns ErrNotFound if any record doesn't exist.
	UpdateRecords(ctx context.Context, records ...*core.Record) ([]*core.Record, error)

	// DeleteRecords removes records and their index entries.
	// Returns ErrNotFound if any record doesn't exist.
	DeleteRecords(ctx context.Context, ids ...core.ID) error

	// CountRecords returns the number of records of the given kind.
	CountRecords(ctx context.Context, kind core.RecordKind) (int, error)

	// CountMissingEmbedding returns the number of records of the given kind
	// that still need a vector.
	CountMissingEmbedding(ctx context.Context, kind core.RecordKind) (int, error)

	// Close closes the storage backend and releases resources.
	Close() error
}
