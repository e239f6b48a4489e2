package repository

import (
	"context"
	"database/sql"

	"slotbook/internal/models"
)

type WaitlistRepo struct {
	q querier
}

const waitlistColumns = `id, session_id, owner_id, booking_id, position, guest_count,
		contact_name, contact_email, contact_phone, payment_reference, created_at`

// queueOrder puts new-spot entries (booking_id IS NULL sorts false) ahead of add-guest entries.
const queueOrder = `ORDER BY (booking_id IS NOT NULL), created_at, id`

func scanEntry(row interface{ Scan(dest ...interface{}) error }) (*models.WaitlistEntry, error) {
	e := &models.WaitlistEntry{}
	var (
		bookingID  sql.NullInt64
		paymentRef sql.NullString
	)
	err := row.Scan(
		&e.ID,
		&e.SessionID,
		&e.OwnerID,
		&bookingID,
		&e.Position,
		&e.GuestCount,
		&e.Contact.Name,
		&e.Contact.Email,
		&e.Contact.Phone,
		&paymentRef,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.BookingID = int64Ptr(bookingID)
	e.PaymentReference = stringPtr(paymentRef)
	return e, nil
}

func (r *WaitlistRepo) one(ctx context.Context, query string, args ...interface{}) (*models.WaitlistEntry, error) {
	e, err := scanEntry(r.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *WaitlistRepo) list(ctx context.Context, query string, args ...interface{}) ([]models.WaitlistEntry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *WaitlistRepo) Create(ctx context.Context, entry *models.WaitlistEntry) error {
	query := `
		INSERT INTO waitlist_entries (session_id, owner_id, booking_id, position, guest_count,
		                              contact_name, contact_email, contact_phone, payment_reference)
		SELECT $1::bigint, $2::bigint, $3::bigint, COUNT(*) + 1, $4::integer, $5::varchar, $6::varchar, $7::varchar, $8::varchar
		FROM waitlist_entries
		WHERE session_id = $1::bigint
		RETURNING id, position, created_at`

	return r.q.QueryRowContext(ctx, query,
		entry.SessionID,
		entry.OwnerID,
		entry.BookingID,
		entry.GuestCount,
		entry.Contact.Name,
		entry.Contact.Email,
		entry.Contact.Phone,
		nullString(entry.PaymentReference),
	).Scan(&entry.ID, &entry.Position, &entry.CreatedAt)
}

func (r *WaitlistRepo) Update(ctx context.Context, entry *models.WaitlistEntry) error {
	query := `UPDATE waitlist_entries SET guest_count = $2, payment_reference = $3 WHERE id = $1`
	_, err := r.q.ExecContext(ctx, query, entry.ID, entry.GuestCount, nullString(entry.PaymentReference))
	return err
}

func (r *WaitlistRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id)
	return err
}

func (r *WaitlistRepo) GetByID(ctx context.Context, id int64) (*models.WaitlistEntry, error) {
	return r.one(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = $1`, id)
}

func (r *WaitlistRepo) GetNewSpot(ctx context.Context, sessionID, ownerID int64) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE session_id = $1 AND owner_id = $2 AND booking_id IS NULL`
	return r.one(ctx, query, sessionID, ownerID)
}

func (r *WaitlistRepo) GetAddGuest(ctx context.Context, sessionID, bookingID int64) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE session_id = $1 AND booking_id = $2`
	return r.one(ctx, query, sessionID, bookingID)
}

func (r *WaitlistRepo) FirstEligible(ctx context.Context, sessionID int64) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE session_id = $1
		` + queueOrder + `
		LIMIT 1
		FOR UPDATE`
	return r.one(ctx, query, sessionID)
}

func (r *WaitlistRepo) Count(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM waitlist_entries WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

func (r *WaitlistRepo) ListBySession(ctx context.Context, sessionID int64) ([]models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE session_id = $1
		` + queueOrder
	return r.list(ctx, query, sessionID)
}

func (r *WaitlistRepo) ListByOwner(ctx context.Context, ownerID int64) ([]models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE owner_id = $1
		ORDER BY created_at, id`
	return r.list(ctx, query, ownerID)
}
