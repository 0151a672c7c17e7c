package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brokerdash/x402pay/broker"
)

// Schema creates the jobs table
const Schema = `CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	broker_job_id TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT,
	network TEXT NOT NULL DEFAULT '',
	payer TEXT NOT NULL DEFAULT '',
	spender TEXT NOT NULL DEFAULT '',
	asset TEXT NOT NULL DEFAULT '',
	tx_hash TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const selectColumns = `SELECT id, kind, broker_job_id, status, result, network, payer, spender, asset, tx_hash, created_at, updated_at FROM jobs`

// SQLStore keeps records in a postgres table
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore wraps an open database
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// OpenSQLStore opens a postgres database and creates the table
func OpenSQLStore(ctx context.Context, databaseURL string) (*SQLStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := NewSQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the table if it does not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Save inserts record, replacing a record with the same id
func (s *SQLStore) Save(ctx context.Context, record *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, broker_job_id, status, result, network, payer, spender, asset, tx_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, result = EXCLUDED.result, updated_at = EXCLUDED.updated_at`,
		record.ID,
		string(record.Kind),
		record.BrokerJobID,
		record.Status,
		nullableResult(record.Result),
		record.Network,
		record.Payer,
		record.Spender,
		record.Asset,
		record.Transaction,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// Get loads one record
func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return record, nil
}

// List loads the records of kind, newest first
func (s *SQLStore) List(ctx context.Context, kind broker.Kind) ([]*Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, selectColumns+` WHERE kind = $1 ORDER BY created_at DESC`, string(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return records, nil
}

// ApplyStatus merges job into the stored record inside a transaction
func (s *SQLStore) ApplyStatus(ctx context.Context, id string, job broker.JobResponse) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	record, err := scanRecord(tx.QueryRowContext(ctx, selectColumns+` WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	Merge(record, job, s.now())

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = $2, result = $3, updated_at = $4 WHERE id = $1`,
		record.ID, record.Status, nullableResult(record.Result), record.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return record, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		record Record
		kind   string
		result sql.NullString
	)
	err := row.Scan(
		&record.ID,
		&kind,
		&record.BrokerJobID,
		&record.Status,
		&result,
		&record.Network,
		&record.Payer,
		&record.Spender,
		&record.Asset,
		&record.Transaction,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Kind = broker.Kind(kind)
	if result.Valid && result.String != "" {
		record.Result = json.RawMessage(result.String)
	}
	return &record, nil
}

func nullableResult(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
