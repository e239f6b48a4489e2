package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migrationLockID serializes migrations of processes starting against the same database.
const migrationLockID = 7_414_220_301

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createSessionsTable,
		createBookingsTable,
		createBookingsIndexes,
		createWaitlistTable,
		createWaitlistIndexes,
		createRefundsTable,
		createOutboxTable,
	}

	err := db.InTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("failed to take migration lock: %w", err)
		}
		for i, migration := range migrations {
			slog.Info("Running migration", "step", i+1)
			if _, err := tx.Exec(migration); err != nil {
				return fmt.Errorf("migration %d failed: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
    id BIGSERIAL PRIMARY KEY,
    title VARCHAR(500) NOT NULL,
    starts_at TIMESTAMPTZ NOT NULL,
    ends_at TIMESTAMPTZ NOT NULL,
    max_capacity INTEGER NOT NULL,
    occupied_seats INTEGER NOT NULL DEFAULT 0,
    refund_swept_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (max_capacity > 0),
    CHECK (occupied_seats >= 0 AND occupied_seats <= max_capacity),
    CHECK (ends_at > starts_at)
);`

const createBookingsTable = `
CREATE TABLE IF NOT EXISTS bookings (
    id BIGSERIAL PRIMARY KEY,
    session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    owner_id BIGINT NOT NULL,
    contact_name VARCHAR(255) NOT NULL DEFAULT '',
    contact_email VARCHAR(255) NOT NULL DEFAULT '',
    contact_phone VARCHAR(64) NOT NULL DEFAULT '',
    guest_count INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL,
    pending_payment_expires_at TIMESTAMPTZ,
    cancelled_at TIMESTAMPTZ,
    payment_reference VARCHAR(255),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    UNIQUE(session_id, owner_id),
    CHECK (guest_count BETWEEN 0 AND 10),
    CHECK (status IN ('pending_payment', 'confirmed', 'cancelled')),
    CHECK (status = 'pending_payment' OR pending_payment_expires_at IS NULL)
);`

const createBookingsIndexes = `
CREATE INDEX IF NOT EXISTS bookings_pending_expiry_idx
ON bookings (pending_payment_expires_at) WHERE status = 'pending_payment';
CREATE INDEX IF NOT EXISTS bookings_owner_idx ON bookings (owner_id);`

const createWaitlistTable = `
CREATE TABLE IF NOT EXISTS waitlist_entries (
    id BIGSERIAL PRIMARY KEY,
    session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    owner_id BIGINT NOT NULL,
    booking_id BIGINT REFERENCES bookings(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    guest_count INTEGER NOT NULL DEFAULT 1,
    contact_name VARCHAR(255) NOT NULL DEFAULT '',
    contact_email VARCHAR(255) NOT NULL DEFAULT '',
    contact_phone VARCHAR(64) NOT NULL DEFAULT '',
    payment_reference VARCHAR(255),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (guest_count >= 1)
);`

const createWaitlistIndexes = `
CREATE UNIQUE INDEX IF NOT EXISTS waitlist_new_spot_unique
ON waitlist_entries (session_id, owner_id) WHERE booking_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS waitlist_add_guest_unique
ON waitlist_entries (session_id, booking_id) WHERE booking_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS waitlist_queue_idx
ON waitlist_entries (session_id, (booking_id IS NOT NULL), created_at, id);`

const createRefundsTable = `
CREATE TABLE IF NOT EXISTS refunds (
    id BIGSERIAL PRIMARY KEY,
    session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    payment_reference VARCHAR(255) NOT NULL UNIQUE,
    source VARCHAR(20) NOT NULL,
    source_id BIGINT NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    idempotency_key VARCHAR(64) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (status IN ('pending', 'succeeded', 'failed'))
);`

const createOutboxTable = `
CREATE TABLE IF NOT EXISTS notification_outbox (
    id UUID PRIMARY KEY,
    kind VARCHAR(64) NOT NULL,
    recipient VARCHAR(255) NOT NULL,
    session_id BIGINT NOT NULL,
    booking_id BIGINT,
    payload JSONB NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    dispatched_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS notification_outbox_pending_idx
ON notification_outbox (created_at) WHERE dispatched_at IS NULL;`
