package repository

import (
	"context"
	"database/sql"
	"time"

	"slotbook/internal/database"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore runs units of work in Postgres transactions.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, NewRepositories(tx))
	})
}

// NewRepositories binds the Postgres repositories to q, which is a *sql.Tx or a *sql.DB.
func NewRepositories(q querier) *Repositories {
	return &Repositories{
		Sessions: &SessionRepo{q: q},
		Bookings: &BookingRepo{q: q},
		Waitlist: &WaitlistRepo{q: q},
		Refunds:  &RefundRepo{q: q},
		Outbox:   &OutboxRepo{q: q},
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
