package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"slotbook/internal/models"
)

type OutboxRepo struct {
	q querier
}

const outboxColumns = `id, kind, recipient, session_id, booking_id, payload, attempts, last_error, created_at, dispatched_at`

func scanNotification(row interface{ Scan(dest ...interface{}) error }) (*models.Notification, error) {
	n := &models.Notification{}
	var (
		bookingID    sql.NullInt64
		lastError    sql.NullString
		dispatchedAt sql.NullTime
		payload      []byte
	)
	err := row.Scan(
		&n.ID,
		&n.Kind,
		&n.Recipient,
		&n.SessionID,
		&bookingID,
		&payload,
		&n.Attempts,
		&lastError,
		&n.CreatedAt,
		&dispatchedAt,
	)
	if err != nil {
		return nil, err
	}
	n.BookingID = int64Ptr(bookingID)
	n.Payload = payload
	n.LastError = stringPtr(lastError)
	n.DispatchedAt = timePtr(dispatchedAt)
	return n, nil
}

func (r *OutboxRepo) list(ctx context.Context, query string, args ...interface{}) ([]models.Notification, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *OutboxRepo) Enqueue(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notification_outbox (id, kind, recipient, session_id, booking_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	return r.q.QueryRowContext(ctx, query,
		n.ID,
		n.Kind,
		n.Recipient,
		n.SessionID,
		n.BookingID,
		[]byte(n.Payload),
	).Scan(&n.CreatedAt)
}

func (r *OutboxRepo) ListUndispatched(ctx context.Context, maxAttempts, limit int) ([]models.Notification, error) {
	query := `SELECT ` + outboxColumns + `
		FROM notification_outbox
		WHERE dispatched_at IS NULL AND attempts < $1
		ORDER BY created_at
		LIMIT $2`
	return r.list(ctx, query, maxAttempts, limit)
}

func (r *OutboxRepo) GetByIDs(ctx context.Context, ids []string) ([]models.Notification, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + outboxColumns + `
		FROM notification_outbox
		WHERE id = ANY($1::uuid[])
		ORDER BY created_at`
	return r.list(ctx, query, pq.Array(ids))
}

func (r *OutboxRepo) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE notification_outbox
		SET dispatched_at = $2, attempts = attempts + 1, last_error = NULL
		WHERE id = $1`
	_, err := r.q.ExecContext(ctx, query, id, at)
	return err
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	query := `
		UPDATE notification_outbox
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1`
	_, err := r.q.ExecContext(ctx, query, id, reason)
	return err
}
