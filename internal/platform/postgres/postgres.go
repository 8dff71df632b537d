// Package postgres opens the lib/pq connection pool and owns the schema.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"certledger/internal/platform/config"
)

const uniqueViolation = "23505"

// Open creates a pool from cfg and verifies connectivity.
func Open(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// IsUniqueViolation reports whether err is a unique constraint rejection.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id             UUID PRIMARY KEY,
		name           TEXT NOT NULL,
		email          TEXT NOT NULL,
		role           TEXT NOT NULL,
		wallet_address TEXT,
		roll_number    TEXT,
		course         TEXT,
		department     TEXT,
		institute_id   UUID,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_wallet_address_key
		ON users (lower(wallet_address)) WHERE wallet_address IS NOT NULL AND wallet_address <> ''`,
	`CREATE INDEX IF NOT EXISTS users_institute_roll_idx ON users (institute_id, roll_number)`,

	`CREATE TABLE IF NOT EXISTS certificate_requests (
		id               UUID PRIMARY KEY,
		student_id       UUID NOT NULL REFERENCES users (id),
		institute_id     UUID NOT NULL REFERENCES users (id),
		certificate_type TEXT NOT NULL,
		course           TEXT,
		department       TEXT,
		year             TEXT,
		status           TEXT NOT NULL,
		rejection_reason TEXT,
		approved_at      TIMESTAMPTZ,
		issued_at        TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS certificate_requests_status_idx ON certificate_requests (status)`,

	`CREATE TABLE IF NOT EXISTS certificates (
		certificate_id    TEXT PRIMARY KEY,
		student_id        UUID NOT NULL REFERENCES users (id),
		institute_id      UUID NOT NULL REFERENCES users (id),
		certificate_type  TEXT NOT NULL,
		course            TEXT,
		department        TEXT,
		year              TEXT,
		roll_number       TEXT,
		student_name      TEXT,
		grade             TEXT,
		cgpa              TEXT,
		issue_date        TIMESTAMPTZ NOT NULL,
		content_hash      TEXT NOT NULL,
		ledger_reference  TEXT,
		ledger_status     TEXT NOT NULL,
		status            TEXT NOT NULL,
		revocation_reason TEXT,
		revoked_at        TIMESTAMPTZ,
		request_id        UUID REFERENCES certificate_requests (id),
		issued_at         TIMESTAMPTZ NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS certificates_ledger_reference_idx ON certificates (ledger_reference)`,
	`CREATE INDEX IF NOT EXISTS certificates_ledger_status_idx ON certificates (ledger_status)`,
	`CREATE INDEX IF NOT EXISTS certificates_request_id_idx ON certificates (request_id)`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		category       TEXT NOT NULL,
		payload        JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		published_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_unpublished_idx ON outbox (created_at) WHERE published_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS outbox_aggregate_idx ON outbox (aggregate_id, created_at)`,
}
