package repository

import (
	"context"
	"database/sql"
	"time"

	"slotbook/internal/models"
)

type SessionRepo struct {
	q querier
}

const sessionColumns = `id, title, starts_at, ends_at, max_capacity, occupied_seats, refund_swept_at, created_at, updated_at`

func scanSession(row interface{ Scan(dest ...interface{}) error }) (*models.Session, error) {
	s := &models.Session{}
	var swept sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.Title,
		&s.StartsAt,
		&s.EndsAt,
		&s.MaxCapacity,
		&s.OccupiedSeats,
		&swept,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.RefundSweptAt = timePtr(swept)
	return s, nil
}

func (r *SessionRepo) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (title, starts_at, ends_at, max_capacity, occupied_seats)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return r.q.QueryRowContext(ctx, query,
		session.Title,
		session.StartsAt,
		session.EndsAt,
		session.MaxCapacity,
		session.OccupiedSeats,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
}

func (r *SessionRepo) GetByID(ctx context.Context, id int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SessionRepo) Lock(ctx context.Context, id int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`

	s, err := scanSession(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SessionRepo) AdjustOccupied(ctx context.Context, id int64, delta int) (bool, error) {
	query := `
		UPDATE sessions
		SET occupied_seats = occupied_seats + $2, updated_at = NOW()
		WHERE id = $1
		  AND occupied_seats + $2 >= 0
		  AND occupied_seats + $2 <= max_capacity`

	result, err := r.q.ExecContext(ctx, query, id, delta)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *SessionRepo) ReleaseOccupied(ctx context.Context, id int64, seats int) error {
	query := `
		UPDATE sessions
		SET occupied_seats = GREATEST(occupied_seats - $2, 0), updated_at = NOW()
		WHERE id = $1`

	_, err := r.q.ExecContext(ctx, query, id, seats)
	return err
}

func (r *SessionRepo) ListEndedUnswept(ctx context.Context, now time.Time, limit int) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE ends_at < $1 AND refund_swept_at IS NULL
		ORDER BY ends_at
		LIMIT $2`

	rows, err := r.q.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepo) MarkRefundSwept(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE sessions SET refund_swept_at = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.q.ExecContext(ctx, query, id, at)
	return err
}
