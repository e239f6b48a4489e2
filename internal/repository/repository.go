package repository

import (
	"context"
	"time"

	"slotbook/internal/models"
)

// SessionRepository owns the sessions table and its occupied_seats counter.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id int64) (*models.Session, error)
	// Lock reads the session and holds its row lock until the transaction ends.
	Lock(ctx context.Context, id int64) (*models.Session, error)
	// AdjustOccupied adds delta to occupied_seats only if the result stays within [0, max_capacity].
	AdjustOccupied(ctx context.Context, id int64, delta int) (bool, error)
	// ReleaseOccupied subtracts seats from occupied_seats, flooring at zero.
	ReleaseOccupied(ctx context.Context, id int64, seats int) error
	ListEndedUnswept(ctx context.Context, now time.Time, limit int) ([]models.Session, error)
	MarkRefundSwept(ctx context.Context, id int64, at time.Time) error
}

type BookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	Update(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id int64) (*models.Booking, error)
	GetByOwner(ctx context.Context, sessionID, ownerID int64) (*models.Booking, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.Booking, error)
	// PendingHoldSeats sums the seats held by pending_payment bookings. Holds are not charged to occupied_seats.
	PendingHoldSeats(ctx context.Context, sessionID int64) (int, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
	ListRefundable(ctx context.Context, sessionID int64) ([]models.Booking, error)
	// ConfirmedSeats sums 1+guest_count over confirmed bookings. Used by audits, never by the hot path.
	ConfirmedSeats(ctx context.Context, sessionID int64) (int, error)
}

type WaitlistRepository interface {
	// Create appends the entry at the tail of the session queue and assigns its position.
	Create(ctx context.Context, entry *models.WaitlistEntry) error
	// Update writes guest_count and payment_reference.
	Update(ctx context.Context, entry *models.WaitlistEntry) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*models.WaitlistEntry, error)
	GetNewSpot(ctx context.Context, sessionID, ownerID int64) (*models.WaitlistEntry, error)
	GetAddGuest(ctx context.Context, sessionID, bookingID int64) (*models.WaitlistEntry, error)
	// FirstEligible returns the queue head: new-spot entries before add-guest entries, then oldest first.
	FirstEligible(ctx context.Context, sessionID int64) (*models.WaitlistEntry, error)
	Count(ctx context.Context, sessionID int64) (int, error)
	ListBySession(ctx context.Context, sessionID int64) ([]models.WaitlistEntry, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.WaitlistEntry, error)
}

type RefundRepository interface {
	// Create inserts the refund unless its payment reference is already known. It reports whether a row was written.
	Create(ctx context.Context, refund *models.Refund) (bool, error)
	Update(ctx context.Context, refund *models.Refund) error
	GetByReference(ctx context.Context, reference string) (*models.Refund, error)
	ListOpen(ctx context.Context, sessionID int64) ([]models.Refund, error)
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, n *models.Notification) error
	ListUndispatched(ctx context.Context, maxAttempts, limit int) ([]models.Notification, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Notification, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Repositories is the set of repositories bound to one transaction.
type Repositories struct {
	Sessions SessionRepository
	Bookings BookingRepository
	Waitlist WaitlistRepository
	Refunds  RefundRepository
	Outbox   OutboxRepository
}

// Store runs units of work atomically. Every read-then-write decision of the engine happens inside
// one InTx call.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error
}
