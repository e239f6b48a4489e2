package repository

import (
	"context"
	"database/sql"

	"slotbook/internal/models"
)

type RefundRepo struct {
	q querier
}

const refundColumns = `id, session_id, payment_reference, source, source_id, status, attempts, last_error,
		idempotency_key, created_at, updated_at`

func scanRefund(row interface{ Scan(dest ...interface{}) error }) (*models.Refund, error) {
	rf := &models.Refund{}
	var lastError sql.NullString
	err := row.Scan(
		&rf.ID,
		&rf.SessionID,
		&rf.PaymentReference,
		&rf.Source,
		&rf.SourceID,
		&rf.Status,
		&rf.Attempts,
		&lastError,
		&rf.IdempotencyKey,
		&rf.CreatedAt,
		&rf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rf.LastError = stringPtr(lastError)
	return rf, nil
}

func (r *RefundRepo) Create(ctx context.Context, refund *models.Refund) (bool, error) {
	query := `
		INSERT INTO refunds (session_id, payment_reference, source, source_id, status, attempts, last_error, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_reference) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := r.q.QueryRowContext(ctx, query,
		refund.SessionID,
		refund.PaymentReference,
		refund.Source,
		refund.SourceID,
		refund.Status,
		refund.Attempts,
		nullString(refund.LastError),
		refund.IdempotencyKey,
	).Scan(&refund.ID, &refund.CreatedAt, &refund.UpdatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RefundRepo) Update(ctx context.Context, refund *models.Refund) error {
	query := `
		UPDATE refunds
		SET status = $2, attempts = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	return r.q.QueryRowContext(ctx, query,
		refund.ID,
		refund.Status,
		refund.Attempts,
		nullString(refund.LastError),
	).Scan(&refund.UpdatedAt)
}

func (r *RefundRepo) GetByReference(ctx context.Context, reference string) (*models.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE payment_reference = $1`

	rf, err := scanRefund(r.q.QueryRowContext(ctx, query, reference))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rf, err
}

func (r *RefundRepo) ListOpen(ctx context.Context, sessionID int64) ([]models.Refund, error) {
	query := `SELECT ` + refundColumns + `
		FROM refunds
		WHERE session_id = $1 AND status <> 'succeeded'
		ORDER BY id`

	rows, err := r.q.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []models.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *rf)
	}
	return refunds, rows.Err()
}
