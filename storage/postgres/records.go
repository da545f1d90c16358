// Package postgres implements storage.RecordRepository on PostgreSQL using sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/poiesic/riskdedup/core"
	"github.com/poiesic/riskdedup/storage"
)

// Schema creates the records table used by RecordRepository.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	id            BIGSERIAL PRIMARY KEY,
	kind          TEXT NOT NULL,
	title         TEXT NOT NULL,
	threat        TEXT NOT NULL DEFAULT '',
	vulnerability TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	objective     TEXT NOT NULL DEFAULT '',
	guidance      TEXT NOT NULL DEFAULT '',
	device_id     BIGINT,
	device_name   TEXT,
	embedding     DOUBLE PRECISION[],
	inserted_at   TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS records_kind_pending_idx ON records (kind, id) WHERE embedding IS NULL;
`

const selectColumns = `id, kind, title, threat, vulnerability, description, objective, guidance,
	device_id, device_name, embedding, inserted_at, updated_at`

const uniqueViolation = "23505"

type recordRow struct {
	ID            int64           `db:"id"`
	Kind          string          `db:"kind"`
	Title         string          `db:"title"`
	Threat        string          `db:"threat"`
	Vulnerability string          `db:"vulnerability"`
	Description   string          `db:"description"`
	Objective     string          `db:"objective"`
	Guidance      string          `db:"guidance"`
	DeviceID      sql.NullInt64   `db:"device_id"`
	DeviceName    sql.NullString  `db:"device_name"`
	Embedding     pq.Float64Array `db:"embedding"`
	InsertedAt    time.Time       `db:"inserted_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (row *recordRow) toRecord() (*core.Record, error) {
	kind, err := core.ParseRecordKind(row.Kind)
	if err != nil {
		return nil, err
	}
	record := &core.Record{
		Id:            core.ID(row.ID),
		Kind:          kind,
		Title:         row.Title,
		Threat:        row.Threat,
		Vulnerability: row.Vulnerability,
		Description:   row.Description,
		Objective:     row.Objective,
		Guidance:      row.Guidance,
		InsertedAt:    row.InsertedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
	if row.DeviceID.Valid {
		record.Device = &core.Category{Id: core.ID(row.DeviceID.Int64), Name: row.DeviceName.String}
	}
	if len(row.Embedding) > 0 {
		record.Vector = make([]float32, len(row.Embedding))
		for i, f := range row.Embedding {
			record.Vector[i] = float32(f)
		}
	}
	return record, nil
}

func toFloat64Array(v []float32) pq.Float64Array {
	if len(v) == 0 {
		return nil
	}
	out := make(pq.Float64Array, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func deviceArgs(device *core.Category) (sql.NullInt64, sql.NullString) {
	if device == nil {
		return sql.NullInt64{}, sql.NullString{}
	}
	return sql.NullInt64{Int64: int64(device.Id), Valid: true}, sql.NullString{String: device.Name, Valid: true}
}

// RecordRepository implements storage.RecordRepository for PostgreSQL.
type RecordRepository struct {
	db         *sqlx.DB
	dimensions int
}

var _ storage.RecordRepository = (*RecordRepository)(nil)

// NewRecordRepository wraps an open database handle. A positive dimensions
// value makes SetRecordEmbedding reject vectors of any other length.
func NewRecordRepository(db *sqlx.DB, dimensions int) *RecordRepository {
	return &RecordRepository{db: db, dimensions: dimensions}
}

// Open connects to PostgreSQL with the given DSN and ensures the schema exists.
func Open(ctx context.Context, dsn string, dimensions int) (*RecordRepository, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	repo := NewRecordRepository(db, dimensions)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// EnsureSchema creates the records table and indices if they don't exist.
func (r *RecordRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (r *RecordRepository) Close() error {
	return r.db.Close()
}

// GetRecord retrieves a single record by ID.
func (r *RecordRepository) GetRecord(ctx context.Context, id core.ID) (*core.Record, error) {
	var row recordRow
	query := `SELECT ` + selectColumns + ` FROM records WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return row.toRecord()
}

// ListRecords returns all records of a kind except excludeID, ordered by ID.
func (r *RecordRepository) ListRecords(ctx context.Context, kind core.RecordKind, excludeID core.ID) ([]*core.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM records WHERE kind = $1 AND id <> $2 ORDER BY id`
	return r.selectRecords(ctx, query, kind.String(), int64(excludeID))
}

// ListRecordsMissingEmbedding returns up to limit records without a vector
// whose ID is strictly greater than afterID.
func (r *RecordRepository) ListRecordsMissingEmbedding(ctx context.Context, kind core.RecordKind, afterID core.ID, limit int) ([]*core.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}
	query := `SELECT ` + selectColumns + ` FROM records
		WHERE kind = $1 AND embedding IS NULL AND id > $2
		ORDER BY id LIMIT $3`
	return r.selectRecords(ctx, query, kind.String(), int64(afterID), limit)
}

func (r *RecordRepository) selectRecords(ctx context.Context, query string, args ...any) ([]*core.Record, error) {
	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	records := make([]*core.Record, 0, len(rows))
	for i := range rows {
		record, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// SetRecordEmbedding replaces the vector of a single record in one statement.
func (r *RecordRepository) SetRecordEmbedding(ctx context.Context, id core.ID, vector []float32) error {
	if err := storage.ValidateVector(vector, r.dimensions); err != nil {
		return err
	}
	query := `UPDATE records SET embedding = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, toFloat64Array(vector), time.Now().UTC(), int64(id))
	if err != nil {
		return fmt.Errorf("failed to set embedding: %w", err)
	}
	return expectAffected(result, id)
}

// AddRecords inserts records in a single transaction. Records with ID=0 get
// an ID from the table sequence.
func (r *RecordRepository) AddRecords(ctx context.Context, records ...*core.Record) ([]*core.Record, error) {
	for _, record := range records {
		if err := core.ValidateRecord(record); err != nil {
			return nil, err
		}
	}

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, record := range records {
			if record.InsertedAt.IsZero() {
				record.InsertedAt = time.Now().UTC()
			}
			record.UpdatedAt = record.InsertedAt
			deviceID, deviceName := deviceArgs(record.Device)
			args := []any{
				record.Kind.String(), record.Title, record.Threat, record.Vulnerability,
				record.Description, record.Objective, record.Guidance,
				deviceID, deviceName, toFloat64Array(record.Vector),
				record.InsertedAt, record.UpdatedAt,
			}

			if record.Id == 0 {
				query := `INSERT INTO records (kind, title, threat, vulnerability, description, objective, guidance,
					device_id, device_name, embedding, inserted_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`
				var id int64
				if err := tx.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
					return fmt.Errorf("failed to insert record: %w", err)
				}
				record.Id = core.ID(id)
				continue
			}

			query := `INSERT INTO records (kind, title, threat, vulnerability, description, objective, guidance,
				device_id, device_name, embedding, inserted_at, updated_at, id)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
			if _, err := tx.ExecContext(ctx, query, append(args, int64(record.Id))...); err != nil {
				var pgErr *pq.Error
				if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
					return fmt.Errorf("%w: record %d", storage.ErrDuplicateKey, record.Id)
				}
				return fmt.Errorf("failed to insert record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateRecords updates existing records in a single transaction.
func (r *RecordRepository) UpdateRecords(ctx context.Context, records ...*core.Record) ([]*core.Record, error) {
	for _, record := range records {
		if err := core.ValidateRecord(record); err != nil {
			return nil, err
		}
	}

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `UPDATE records SET kind = $1, title = $2, threat = $3, vulnerability = $4,
			description = $5, objective = $6, guidance = $7, device_id = $8, device_name = $9,
			embedding = $10, updated_at = $11 WHERE id = $12`
		for _, record := range records {
			record.UpdatedAt = time.Now().UTC()
			deviceID, deviceName := deviceArgs(record.Device)
			result, err := tx.ExecContext(ctx, query,
				record.Kind.String(), record.Title, record.Threat, record.Vulnerability,
				record.Description, record.Objective, record.Guidance,
				deviceID, deviceName, toFloat64Array(record.Vector),
				record.UpdatedAt, int64(record.Id))
			if err != nil {
				return fmt.Errorf("failed to update record: %w", err)
			}
			if err := expectAffected(result, record.Id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteRecords removes records by ID in a single transaction.
func (r *RecordRepository) DeleteRecords(ctx context.Context, ids ...core.ID) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range ids {
			result, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = $1`, int64(id))
			if err != nil {
				return fmt.Errorf("failed to delete record: %w", err)
			}
			if err := expectAffected(result, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountRecords returns the number of records of a kind.
func (r *RecordRepository) CountRecords(ctx context.Context, kind core.RecordKind) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM records WHERE kind = $1`, kind)
}

// CountMissingEmbedding returns the number of records of a kind without a vector.
func (r *RecordRepository) CountMissingEmbedding(ctx context.Context, kind core.RecordKind) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM records WHERE kind = $1 AND embedding IS NULL`, kind)
}

func (r *RecordRepository) count(ctx context.Context, query string, kind core.RecordKind) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, query, kind.String()); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (r *RecordRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	return nil
}

func expectAffected(result sql.Result, id core.ID) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: record %d", storage.ErrNotFound, id)
	}
	return nil
}
