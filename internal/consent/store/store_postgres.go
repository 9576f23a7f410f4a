package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tagconsent/pkg/platform/sentinel"
)

// PostgresStore persists consent records in PostgreSQL. Rows past their
// expires_at are never returned; PurgeExpired removes them.
type PostgresStore struct {
	db  dbExecutor
	now func() time.Time
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// WithClock returns a copy of the store using now for expiry calculations.
func (s *PostgresStore) WithClock(now func() time.Time) *PostgresStore {
	clone := *s
	clone.now = now
	return &clone
}

func (s *PostgresStore) Get(ctx context.Context, visitorID string) ([]byte, error) {
	query := `
		SELECT payload
		FROM consent_records
		WHERE visitor_id = $1 AND expires_at > $2
	`
	var payload string
	err := s.db.QueryRowContext(ctx, query, visitorID, s.now().UTC()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent record: %w", err)
	}
	return []byte(payload), nil
}

func (s *PostgresStore) Put(ctx context.Context, visitorID string, payload []byte, ttl time.Duration) error {
	now := s.now().UTC()
	query := `
		INSERT INTO consent_records (visitor_id, payload, updated_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (visitor_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, visitorID, string(payload), now, now.Add(ttl)); err != nil {
		return fmt.Errorf("save consent record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, visitorID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM consent_records WHERE visitor_id = $1`, visitorID); err != nil {
		return fmt.Errorf("delete consent record: %w", err)
	}
	return nil
}

// PurgeExpired deletes rows whose retention window has passed and returns
// how many were removed.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM consent_records WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge consent records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge consent records: %w", err)
	}
	return n, nil
}
