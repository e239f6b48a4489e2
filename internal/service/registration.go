package service

import (
	"context"
	"errors"
	"fmt"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/logger"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/repository"
)

type RegistrationService struct {
	*core
	waitlist *WaitlistService
}

// Register books the owner plus guestCount companions into each session independently. A failure
// on one session does not affect the others. Registering is never an implicit waitlist join.
func (s *RegistrationService) Register(ctx context.Context, ownerID int64, req *models.RegisterRequest) (*models.RegisterResponse, error) {
	if req.GuestCount < 0 || req.GuestCount > models.MaxGuests {
		return nil, apperrors.ErrInvalidGuestCount
	}
	if len(req.SessionIDs) == 0 {
		return nil, apperrors.ErrInvalidSession
	}

	seen := make(map[int64]struct{}, len(req.SessionIDs))
	resp := &models.RegisterResponse{Outcomes: make([]models.RegistrationOutcome, 0, len(req.SessionIDs))}
	var confirmed []models.RegistrationOutcome

	for _, sessionID := range req.SessionIDs {
		if _, dup := seen[sessionID]; dup {
			continue
		}
		seen[sessionID] = struct{}{}

		outcome := s.registerOne(ctx, ownerID, sessionID, req)
		metrics.Registrations.WithLabelValues(outcome.Status).Inc()
		if outcome.Status == models.OutcomeFailed {
			log := logger.WithContext(ctx).With("session_id", sessionID, "owner_id", ownerID, "error", outcome.Error)
			if isCallerError(outcome.Err()) {
				log.Info("Registration rejected")
			} else {
				log.Error("Registration failed")
			}
		}
		if outcome.Status == models.OutcomeConfirmed {
			confirmed = append(confirmed, outcome)
		}
		resp.Outcomes = append(resp.Outcomes, outcome)
	}

	if len(confirmed) > 0 {
		s.notifyBatch(ctx, ownerID, req.Contact, confirmed)
	}

	return resp, nil
}

func (s *RegistrationService) registerOne(ctx context.Context, ownerID, sessionID int64, req *models.RegisterRequest) models.RegistrationOutcome {
	var outcome models.RegistrationOutcome
	seats := 1 + req.GuestCount

	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		session, err := lockSession(ctx, repos, sessionID)
		if err != nil {
			return err
		}
		if session.Ended(s.now()) {
			return apperrors.ErrSessionEnded
		}

		existing, err := repos.Bookings.GetByOwner(ctx, sessionID, ownerID)
		if err != nil {
			return fmt.Errorf("failed to get booking: %w", err)
		}
		if existing != nil {
			switch existing.Status {
			case models.BookingConfirmed:
				outcome = models.RegistrationOutcome{SessionID: sessionID, BookingID: existing.ID, Status: models.OutcomeAlreadyConfirmed}
				return nil
			case models.BookingPendingPayment:
				return apperrors.ErrAlreadyPending
			}
		}

		bookable, err := s.ledger.BookableSeats(ctx, repos, session)
		if err != nil {
			return err
		}
		if bookable < seats {
			return capacityError(apperrors.ErrCapacityExceeded, seats, bookable)
		}
		if err := s.ledger.Reserve(ctx, repos, sessionID, seats); err != nil {
			return capacityError(err, seats, bookable)
		}

		booking := existing
		action := models.ActionRegistered
		var from models.BookingStatus
		if booking != nil {
			// cancelled row is reused in place
			action = models.ActionReactivated
			from = booking.Status
			if !samePaymentReference(booking.PaymentReference, req.PaymentReference) && !s.forfeited(session, booking) {
				if err := s.queueRefund(ctx, repos, sessionID, booking.PaymentReference, models.RefundSourceReactivation, booking.ID); err != nil {
					return err
				}
			}
			if err := setStatus(booking, models.BookingConfirmed); err != nil {
				return err
			}
			booking.Contact = req.Contact
			booking.GuestCount = req.GuestCount
			booking.CancelledAt = nil
			booking.PendingPaymentExpiresAt = nil
			booking.PaymentReference = req.PaymentReference
			if err := repos.Bookings.Update(ctx, booking); err != nil {
				return fmt.Errorf("failed to reactivate booking: %w", err)
			}
		} else {
			booking = &models.Booking{
				SessionID:        sessionID,
				OwnerID:          ownerID,
				Contact:          req.Contact,
				GuestCount:       req.GuestCount,
				Status:           models.BookingConfirmed,
				PaymentReference: req.PaymentReference,
			}
			if err := repos.Bookings.Create(ctx, booking); err != nil {
				return fmt.Errorf("failed to create booking: %w", err)
			}
		}

		// a seat makes the owner's new-spot wait pointless
		entry, err := repos.Waitlist.GetNewSpot(ctx, sessionID, ownerID)
		if err != nil {
			return fmt.Errorf("failed to get waitlist entry: %w", err)
		}
		if entry != nil {
			if err := s.waitlist.removeEntry(ctx, repos, fx, entry); err != nil {
				return err
			}
		}

		fx.record(s.transition(action, booking, from))
		outcome = models.RegistrationOutcome{SessionID: sessionID, BookingID: booking.ID, Status: models.OutcomeConfirmed}
		return nil
	})
	if err != nil {
		return models.FailedOutcome(sessionID, err)
	}
	return outcome
}

func (s *RegistrationService) notifyBatch(ctx context.Context, ownerID int64, contact models.Contact, confirmed []models.RegistrationOutcome) {
	sessions := make([]map[string]int64, len(confirmed))
	for i, o := range confirmed {
		sessions[i] = map[string]int64{"session_id": o.SessionID, "booking_id": o.BookingID}
	}

	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		return s.notify(ctx, repos, fx, models.NotifyRegistrationBatch, contact, ownerID, confirmed[0].SessionID, nil, map[string]interface{}{
			"owner_id": ownerID,
			"sessions": sessions,
		})
	})
	if err != nil {
		logger.WithContext(ctx).Error("Failed to enqueue registration notification",
			"error", err, "owner_id", ownerID)
	}
}

// Cancel cancels the owner's confirmed booking, frees its seats and offers them to the waitlist once.
// The promotion runs after the cancellation committed; its failure does not undo the cancellation.
func (s *RegistrationService) Cancel(ctx context.Context, ownerID, bookingID int64) (*models.CancelBookingResponse, error) {
	var sessionID int64

	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		booking, _, err := ownedConfirmedBooking(ctx, repos, ownerID, bookingID)
		if err != nil {
			return err
		}
		sessionID = booking.SessionID

		from := booking.Status
		if err := setStatus(booking, models.BookingCancelled); err != nil {
			return err
		}
		now := s.now()
		booking.CancelledAt = &now
		if err := repos.Bookings.Update(ctx, booking); err != nil {
			return fmt.Errorf("failed to cancel booking: %w", err)
		}
		if err := s.ledger.Release(ctx, repos, booking.SessionID, booking.Seats()); err != nil {
			return err
		}

		fx.record(s.transition(models.ActionCancelled, booking, from))
		return s.notify(ctx, repos, fx, models.NotifyBookingCancelled, booking.Contact, ownerID, booking.SessionID, &booking.ID, map[string]interface{}{
			"session_id": booking.SessionID,
			"booking_id": booking.ID,
			"seats":      booking.Seats(),
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.Cancellations.Inc()

	resp := &models.CancelBookingResponse{BookingID: bookingID}
	promoted, first := s.waitlist.promoteUpTo(ctx, sessionID, 1)
	resp.Promoted = promoted > 0
	resp.PromotedBookingID = first
	return resp, nil
}

func samePaymentReference(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// isCallerError reports errors that describe the request rather than a system failure.
func isCallerError(err error) bool {
	for _, target := range []error{
		apperrors.ErrSessionFull,
		apperrors.ErrAlreadyPending,
		apperrors.ErrAlreadyBooked,
		apperrors.ErrNotFoundOrUnauthorized,
		apperrors.ErrInvalidGuestCount,
		apperrors.ErrSeatsAvailable,
		apperrors.ErrSessionNotFound,
		apperrors.ErrSessionEnded,
		apperrors.ErrInvalidSession,
		apperrors.ErrPaymentReferenceConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
