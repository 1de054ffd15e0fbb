// Package postgres provides the Postgres-backed record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelasco/imagesort/internal/classify"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// RecordStoreConfig controls the Postgres connection pool.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// RecordStore persists image records in Postgres. Expected schema:
//
//	CREATE TABLE image_records (
//	    url              TEXT PRIMARY KEY,
//	    image_type       TEXT NOT NULL,
//	    predicted_class  TEXT,
//	    status           TEXT NOT NULL,
//	    confidence_level DOUBLE PRECISION,
//	    job_id           TEXT,
//	    storage_folder   TEXT,
//	    storage_filename TEXT,
//	    content_hash     TEXT,
//	    re_label         BOOLEAN NOT NULL DEFAULT FALSE,
//	    admin_reviewed   BOOLEAN NOT NULL DEFAULT FALSE,
//	    model_version    TEXT,
//	    created_at       TIMESTAMPTZ NOT NULL
//	);
type RecordStore struct {
	pool  dbPool
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "image_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool dbPool, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "image_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const recordColumns = `url, image_type, predicted_class, status, confidence_level, job_id,
storage_folder, storage_filename, content_hash, re_label, admin_reviewed, model_version, created_at`

// FindByURL returns the record for url, or classify.ErrRecordNotFound.
func (s *RecordStore) FindByURL(ctx context.Context, url string) (classify.ImageRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE url = $1`, recordColumns, s.table)
	var rec classify.ImageRecord
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&rec.URL,
		&rec.ImageType,
		&rec.PredictedClass,
		&rec.Status,
		&rec.ConfidenceLevel,
		&rec.JobID,
		&rec.StorageFolder,
		&rec.StorageFilename,
		&rec.ContentHash,
		&rec.ReLabel,
		&rec.AdminReviewed,
		&rec.ModelVersion,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return classify.ImageRecord{}, classify.ErrRecordNotFound
	}
	if err != nil {
		return classify.ImageRecord{}, fmt.Errorf("select record: %w", err)
	}
	return rec, nil
}

// Create inserts a new record. The url primary key turns a create race into
// a deterministic classify.ErrDuplicateRecord for the loser.
func (s *RecordStore) Create(ctx context.Context, rec classify.ImageRecord) error {
	if rec.URL == "" {
		return fmt.Errorf("record url is required")
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		s.table, recordColumns)
	_, err := s.pool.Exec(ctx, query,
		rec.URL,
		rec.ImageType,
		rec.PredictedClass,
		rec.Status,
		rec.ConfidenceLevel,
		rec.JobID,
		rec.StorageFolder,
		rec.StorageFilename,
		rec.ContentHash,
		rec.ReLabel,
		rec.AdminReviewed,
		rec.ModelVersion,
		rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return classify.ErrDuplicateRecord
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing record. A single UPDATE
// statement keeps the write transactional; a failure leaves the prior
// committed state intact.
func (s *RecordStore) Update(ctx context.Context, rec classify.ImageRecord) error {
	query := fmt.Sprintf(`UPDATE %s SET
image_type = $2,
predicted_class = $3,
status = $4,
confidence_level = $5,
job_id = $6,
storage_folder = $7,
storage_filename = $8,
content_hash = $9,
re_label = $10,
admin_reviewed = $11,
model_version = $12
WHERE url = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		rec.URL,
		rec.ImageType,
		rec.PredictedClass,
		rec.Status,
		rec.ConfidenceLevel,
		rec.JobID,
		rec.StorageFolder,
		rec.StorageFilename,
		rec.ContentHash,
		rec.ReLabel,
		rec.AdminReviewed,
		rec.ModelVersion,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return classify.ErrRecordNotFound
	}
	return nil
}

// AttachJob links a job handle to an existing record.
func (s *RecordStore) AttachJob(ctx context.Context, url, jobID string) error {
	query := fmt.Sprintf(`UPDATE %s SET job_id = $2 WHERE url = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, url, jobID)
	if err != nil {
		return fmt.Errorf("attach job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return classify.ErrRecordNotFound
	}
	return nil
}

// ListPendingReview returns successful records awaiting admin review.
func (s *RecordStore) ListPendingReview(ctx context.Context) ([]classify.ImageRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE status = $1 AND admin_reviewed = FALSE ORDER BY created_at`,
		recordColumns, s.table)
	rows, err := s.pool.Query(ctx, query, classify.RecordStatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("list pending review: %w", err)
	}
	defer rows.Close()

	var out []classify.ImageRecord
	for rows.Next() {
		var rec classify.ImageRecord
		if err := rows.Scan(
			&rec.URL,
			&rec.ImageType,
			&rec.PredictedClass,
			&rec.Status,
			&rec.ConfidenceLevel,
			&rec.JobID,
			&rec.StorageFolder,
			&rec.StorageFilename,
			&rec.ContentHash,
			&rec.ReLabel,
			&rec.AdminReviewed,
			&rec.ModelVersion,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// MarkReviewed flags a record as reviewed; reLabel queues it for re-labeling.
// re_label implies admin_reviewed, enforced here rather than by a constraint.
func (s *RecordStore) MarkReviewed(ctx context.Context, url string, reLabel bool) error {
	query := fmt.Sprintf(`UPDATE %s SET admin_reviewed = TRUE, re_label = $2 WHERE url = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, url, reLabel)
	if err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return classify.ErrRecordNotFound
	}
	return nil
}
