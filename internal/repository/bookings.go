package repository

import (
	"context"
	"database/sql"
	"time"

	"slotbook/internal/models"
)

type BookingRepo struct {
	q querier
}

const bookingColumns = `id, session_id, owner_id, contact_name, contact_email, contact_phone, guest_count,
		status, pending_payment_expires_at, cancelled_at, payment_reference, created_at, updated_at`

func scanBooking(row interface{ Scan(dest ...interface{}) error }) (*models.Booking, error) {
	b := &models.Booking{}
	var (
		expiresAt   sql.NullTime
		cancelledAt sql.NullTime
		paymentRef  sql.NullString
	)
	err := row.Scan(
		&b.ID,
		&b.SessionID,
		&b.OwnerID,
		&b.Contact.Name,
		&b.Contact.Email,
		&b.Contact.Phone,
		&b.GuestCount,
		&b.Status,
		&expiresAt,
		&cancelledAt,
		&paymentRef,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.PendingPaymentExpiresAt = timePtr(expiresAt)
	b.CancelledAt = timePtr(cancelledAt)
	b.PaymentReference = stringPtr(paymentRef)
	return b, nil
}

func (r *BookingRepo) list(ctx context.Context, query string, args ...interface{}) ([]models.Booking, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *BookingRepo) Create(ctx context.Context, booking *models.Booking) error {
	query := `
		INSERT INTO bookings (session_id, owner_id, contact_name, contact_email, contact_phone, guest_count,
		                      status, pending_payment_expires_at, cancelled_at, payment_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	return r.q.QueryRowContext(ctx, query,
		booking.SessionID,
		booking.OwnerID,
		booking.Contact.Name,
		booking.Contact.Email,
		booking.Contact.Phone,
		booking.GuestCount,
		booking.Status,
		booking.PendingPaymentExpiresAt,
		booking.CancelledAt,
		nullString(booking.PaymentReference),
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
}

func (r *BookingRepo) Update(ctx context.Context, booking *models.Booking) error {
	query := `
		UPDATE bookings
		SET contact_name = $2, contact_email = $3, contact_phone = $4, guest_count = $5, status = $6,
		    pending_payment_expires_at = $7, cancelled_at = $8, payment_reference = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	return r.q.QueryRowContext(ctx, query,
		booking.ID,
		booking.Contact.Name,
		booking.Contact.Email,
		booking.Contact.Phone,
		booking.GuestCount,
		booking.Status,
		booking.PendingPaymentExpiresAt,
		booking.CancelledAt,
		nullString(booking.PaymentReference),
	).Scan(&booking.UpdatedAt)
}

func (r *BookingRepo) GetByID(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (r *BookingRepo) GetByOwner(ctx context.Context, sessionID, ownerID int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE session_id = $1 AND owner_id = $2`

	b, err := scanBooking(r.q.QueryRowContext(ctx, query, sessionID, ownerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (r *BookingRepo) ListByOwner(ctx context.Context, ownerID int64) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC`

	return r.list(ctx, query, ownerID)
}

func (r *BookingRepo) PendingHoldSeats(ctx context.Context, sessionID int64) (int, error) {
	query := `
		SELECT COALESCE(SUM(1 + guest_count), 0)
		FROM bookings
		WHERE session_id = $1 AND status = 'pending_payment'`

	var seats int
	err := r.q.QueryRowContext(ctx, query, sessionID).Scan(&seats)
	return seats, err
}

func (r *BookingRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'pending_payment' AND pending_payment_expires_at < $1
		ORDER BY pending_payment_expires_at, id
		LIMIT $2`

	return r.list(ctx, query, now, limit)
}

func (r *BookingRepo) ListRefundable(ctx context.Context, sessionID int64) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE session_id = $1 AND status = 'cancelled' AND payment_reference IS NOT NULL
		ORDER BY id`

	return r.list(ctx, query, sessionID)
}

func (r *BookingRepo) ConfirmedSeats(ctx context.Context, sessionID int64) (int, error) {
	query := `
		SELECT COALESCE(SUM(1 + guest_count), 0)
		FROM bookings
		WHERE session_id = $1 AND status = 'confirmed'`

	var seats int
	err := r.q.QueryRowContext(ctx, query, sessionID).Scan(&seats)
	return seats, err
}
