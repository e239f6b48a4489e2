package service

import (
	"context"
	"errors"
	"fmt"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/models"
	"slotbook/internal/repository"
)

// CapacityLedger reads and adjusts a session's occupied seats. Every method runs inside the caller's
// transaction, so the check and the write it guards commit together.
type CapacityLedger struct{}

// Reserve charges seats to the session. It fails with ErrCapacityExceeded when the session cannot take them.
func (CapacityLedger) Reserve(ctx context.Context, repos *repository.Repositories, sessionID int64, seats int) error {
	if seats <= 0 {
		return nil
	}
	ok, err := repos.Sessions.AdjustOccupied(ctx, sessionID, seats)
	if err != nil {
		return fmt.Errorf("failed to reserve seats: %w", err)
	}
	if !ok {
		return apperrors.ErrCapacityExceeded
	}
	return nil
}

// Release returns seats to the session. The counter never drops below zero.
func (CapacityLedger) Release(ctx context.Context, repos *repository.Repositories, sessionID int64, seats int) error {
	if seats <= 0 {
		return nil
	}
	if err := repos.Sessions.ReleaseOccupied(ctx, sessionID, seats); err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	return nil
}

// FreeSeats is maxCapacity minus occupiedSeats.
func (CapacityLedger) FreeSeats(ctx context.Context, repos *repository.Repositories, sessionID int64) (int, error) {
	session, err := repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return 0, apperrors.ErrSessionNotFound
	}
	return session.FreeSeats(), nil
}

// BookableSeats is what new allocations may take: free seats minus the seats promised to pending holds.
func (CapacityLedger) BookableSeats(ctx context.Context, repos *repository.Repositories, session *models.Session) (int, error) {
	held, err := repos.Bookings.PendingHoldSeats(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending holds: %w", err)
	}
	return session.FreeSeats() - held, nil
}

// lockSession takes the session row lock and rejects unknown sessions.
func lockSession(ctx context.Context, repos *repository.Repositories, sessionID int64) (*models.Session, error) {
	session, err := repos.Sessions.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	if session == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	return session, nil
}

// lockBooking takes the lock of the booking's session and then reads the booking again. Bookings
// only change under their session lock, so the second read reflects every committed write. A missing
// booking is returned as nil.
func lockBooking(ctx context.Context, repos *repository.Repositories, bookingID int64) (*models.Booking, *models.Session, error) {
	booking, err := repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, nil, nil
	}

	session, err := lockSession(ctx, repos, booking.SessionID)
	if err != nil {
		return nil, nil, err
	}

	booking, err = repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, session, nil
}

// lockEntry is lockBooking for waitlist entries.
func lockEntry(ctx context.Context, repos *repository.Repositories, entryID int64) (*models.WaitlistEntry, error) {
	entry, err := repos.Waitlist.GetByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	if _, err := lockSession(ctx, repos, entry.SessionID); err != nil {
		return nil, err
	}

	entry, err = repos.Waitlist.GetByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}
	return entry, nil
}

// capacityError translates the internal ledger signal into the caller-facing error.
func capacityError(err error, requested, available int) error {
	if errors.Is(err, apperrors.ErrCapacityExceeded) {
		if available < 0 {
			available = 0
		}
		return &apperrors.CapacityError{Requested: requested, Available: available}
	}
	return err
}
