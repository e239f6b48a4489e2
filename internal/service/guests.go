package service

import (
	"context"
	"fmt"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/repository"
)

type GuestService struct {
	*core
	waitlist *WaitlistService
}

// AddGuests seats as many of the requested guests as the session can take and queues the rest on
// the booking's add-guest entry. Both may happen in one call.
func (s *GuestService) AddGuests(ctx context.Context, ownerID, bookingID int64, req *models.GuestsRequest) (*models.AddGuestsResponse, error) {
	if req.Count < 1 || req.Count > models.MaxGuests {
		return nil, apperrors.ErrInvalidGuestCount
	}

	var resp *models.AddGuestsResponse
	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		booking, session, err := ownedConfirmedBooking(ctx, repos, ownerID, bookingID)
		if err != nil {
			return err
		}

		queued := 0
		entry, err := repos.Waitlist.GetAddGuest(ctx, booking.SessionID, booking.ID)
		if err != nil {
			return fmt.Errorf("failed to get waitlist entry: %w", err)
		}
		if entry != nil {
			queued = entry.GuestCount
		}
		if booking.GuestCount+queued+req.Count > models.MaxGuests {
			return apperrors.ErrInvalidGuestCount
		}

		spotsLeft, err := s.ledger.BookableSeats(ctx, repos, session)
		if err != nil {
			return err
		}
		toAdd := min(req.Count, max(spotsLeft, 0))
		toWaitlist := req.Count - toAdd

		if toAdd > 0 {
			if err := s.ledger.Reserve(ctx, repos, booking.SessionID, toAdd); err != nil {
				return capacityError(err, toAdd, spotsLeft)
			}
			booking.GuestCount += toAdd
			if err := repos.Bookings.Update(ctx, booking); err != nil {
				return fmt.Errorf("failed to update booking: %w", err)
			}
			fx.record(s.transition(models.ActionGuestsAdded, booking, booking.Status))
			err = s.notify(ctx, repos, fx, models.NotifyGuestsAdded, booking.Contact, ownerID, booking.SessionID, &booking.ID, map[string]interface{}{
				"session_id":  booking.SessionID,
				"booking_id":  booking.ID,
				"added":       toAdd,
				"guest_count": booking.GuestCount,
			})
			if err != nil {
				return err
			}
		}

		if toWaitlist > 0 {
			if _, err := s.waitlist.queueGuests(ctx, repos, fx, booking, toWaitlist, booking.Contact, req.PaymentReference); err != nil {
				return err
			}
		}

		resp = &models.AddGuestsResponse{
			BookingID:  booking.ID,
			Added:      toAdd,
			Waitlisted: toWaitlist,
			GuestCount: booking.GuestCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.GuestChanges.WithLabelValues("added").Add(float64(resp.Added))
	metrics.GuestChanges.WithLabelValues("waitlisted").Add(float64(resp.Waitlisted))
	return resp, nil
}

// RemoveGuests drops up to count guests from the booking and then offers each freed seat to the
// waitlist, one promotion at a time, until the queue has nobody left to serve.
func (s *GuestService) RemoveGuests(ctx context.Context, ownerID, bookingID int64, req *models.GuestsRequest) (*models.RemoveGuestsResponse, error) {
	if req.Count < 1 || req.Count > models.MaxGuests {
		return nil, apperrors.ErrInvalidGuestCount
	}

	var (
		resp      *models.RemoveGuestsResponse
		sessionID int64
	)
	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		booking, _, err := ownedConfirmedBooking(ctx, repos, ownerID, bookingID)
		if err != nil {
			return err
		}
		sessionID = booking.SessionID
		resp = &models.RemoveGuestsResponse{BookingID: booking.ID, GuestCount: booking.GuestCount}

		actual := min(req.Count, booking.GuestCount)
		if actual == 0 {
			return nil
		}

		booking.GuestCount -= actual
		if err := repos.Bookings.Update(ctx, booking); err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		if err := s.ledger.Release(ctx, repos, booking.SessionID, actual); err != nil {
			return err
		}

		resp.Removed = actual
		resp.GuestCount = booking.GuestCount
		fx.record(s.transition(models.ActionGuestsRemoved, booking, booking.Status))
		return s.notify(ctx, repos, fx, models.NotifyGuestsRemoved, booking.Contact, ownerID, booking.SessionID, &booking.ID, map[string]interface{}{
			"session_id":  booking.SessionID,
			"booking_id":  booking.ID,
			"removed":     actual,
			"guest_count": booking.GuestCount,
		})
	})
	if err != nil {
		return nil, err
	}

	if resp.Removed > 0 {
		metrics.GuestChanges.WithLabelValues("removed").Add(float64(resp.Removed))
		resp.Promoted, _ = s.waitlist.promoteUpTo(ctx, sessionID, resp.Removed)
	}
	return resp, nil
}
