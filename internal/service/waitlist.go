package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/logger"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/repository"
)

// PromotionResult describes what one promote call did.
type PromotionResult struct {
	Promoted  bool
	Kind      string
	BookingID int64
	EntryID   int64
}

type WaitlistService struct {
	*core
}

// Join queues the owner for a new seat. The session must be full once pending holds are counted.
// Joining twice returns the existing entry.
func (s *WaitlistService) Join(ctx context.Context, ownerID int64, req *models.JoinWaitlistRequest) (*models.WaitlistEntry, error) {
	var entry *models.WaitlistEntry

	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		entry = nil

		session, err := lockSession(ctx, repos, req.SessionID)
		if err != nil {
			return err
		}
		if session.Ended(s.now()) {
			return apperrors.ErrSessionEnded
		}

		booking, err := repos.Bookings.GetByOwner(ctx, session.ID, ownerID)
		if err != nil {
			return fmt.Errorf("failed to get booking: %w", err)
		}
		if booking != nil && booking.Status != models.BookingCancelled {
			return apperrors.ErrAlreadyBooked
		}

		existing, err := repos.Waitlist.GetNewSpot(ctx, session.ID, ownerID)
		if err != nil {
			return fmt.Errorf("failed to get waitlist entry: %w", err)
		}
		if existing != nil {
			entry = existing
			return nil
		}

		bookable, err := s.ledger.BookableSeats(ctx, repos, session)
		if err != nil {
			return err
		}
		if bookable > 0 {
			return apperrors.ErrSeatsAvailable
		}

		entry = &models.WaitlistEntry{
			SessionID:  session.ID,
			OwnerID:    ownerID,
			GuestCount: 1,
			Contact:    req.Contact,
		}
		if err := repos.Waitlist.Create(ctx, entry); err != nil {
			return fmt.Errorf("failed to create waitlist entry: %w", err)
		}

		fx.record(s.entryTransition(models.ActionWaitlistJoined, entry))
		return s.notify(ctx, repos, fx, models.NotifyWaitlistJoined, entry.Contact, ownerID, session.ID, nil, map[string]interface{}{
			"session_id": session.ID,
			"entry_id":   entry.ID,
			"position":   entry.Position,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.WaitlistJoins.WithLabelValues(models.WaitlistKindNewSpot).Inc()
	return entry, nil
}

// AddGuestWaitlist queues extra guest seats for a confirmed booking. An existing entry for the
// booking grows by the requested count.
func (s *WaitlistService) AddGuestWaitlist(ctx context.Context, ownerID int64, req *models.AddGuestWaitlistRequest) (*models.WaitlistEntry, error) {
	if req.GuestCount < 1 || req.GuestCount > models.MaxGuests {
		return nil, apperrors.ErrInvalidGuestCount
	}

	var entry *models.WaitlistEntry
	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		booking, _, err := ownedConfirmedBooking(ctx, repos, ownerID, req.BookingID)
		if err != nil {
			return err
		}
		if booking.SessionID != req.SessionID {
			return apperrors.ErrNotFoundOrUnauthorized
		}

		contact := req.Contact
		if contact == (models.Contact{}) {
			contact = booking.Contact
		}
		entry, err = s.queueGuests(ctx, repos, fx, booking, req.GuestCount, contact, req.PaymentReference)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// queueGuests appends or grows the add-guest entry of booking by count.
func (s *WaitlistService) queueGuests(ctx context.Context, repos *repository.Repositories, fx *effects, booking *models.Booking, count int, contact models.Contact, paymentRef *string) (*models.WaitlistEntry, error) {
	entry, err := repos.Waitlist.GetAddGuest(ctx, booking.SessionID, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}

	queued := 0
	if entry != nil {
		queued = entry.GuestCount
	}
	if booking.GuestCount+queued+count > models.MaxGuests {
		return nil, apperrors.ErrInvalidGuestCount
	}

	if entry != nil {
		if paymentRef != nil && entry.PaymentReference != nil && *paymentRef != *entry.PaymentReference {
			return nil, apperrors.ErrPaymentReferenceConflict
		}
		entry.GuestCount += count
		if entry.PaymentReference == nil {
			entry.PaymentReference = paymentRef
		}
		if err := repos.Waitlist.Update(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to update waitlist entry: %w", err)
		}
	} else {
		bookingID := booking.ID
		entry = &models.WaitlistEntry{
			SessionID:        booking.SessionID,
			OwnerID:          booking.OwnerID,
			BookingID:        &bookingID,
			GuestCount:       count,
			Contact:          contact,
			PaymentReference: paymentRef,
		}
		if err := repos.Waitlist.Create(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to create waitlist entry: %w", err)
		}
	}

	metrics.WaitlistJoins.WithLabelValues(models.WaitlistKindAddGuest).Inc()
	fx.record(s.entryTransition(models.ActionWaitlistGuests, entry))
	err = s.notify(ctx, repos, fx, models.NotifyGuestsWaitlisted, contact, booking.OwnerID, booking.SessionID, &booking.ID, map[string]interface{}{
		"session_id":   booking.SessionID,
		"booking_id":   booking.ID,
		"entry_id":     entry.ID,
		"waitlisted":   count,
		"queued_total": entry.GuestCount,
	})
	return entry, err
}

// Promote hands the next freed seat of the session to the head of its queue.
func (s *WaitlistService) Promote(ctx context.Context, sessionID int64) (PromotionResult, error) {
	var result PromotionResult
	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		var err error
		result, err = s.promote(ctx, repos, fx, sessionID)
		return err
	})
	if err != nil {
		return PromotionResult{}, err
	}
	if result.Promoted {
		metrics.Promotions.WithLabelValues(result.Kind).Inc()
	}
	return result, nil
}

// promote consumes at most one freed seat. Entries that can no longer be served are dropped and the
// next head is tried, bounded by the queue length.
func (s *WaitlistService) promote(ctx context.Context, repos *repository.Repositories, fx *effects, sessionID int64) (PromotionResult, error) {
	if _, err := lockSession(ctx, repos, sessionID); err != nil {
		return PromotionResult{}, err
	}

	queued, err := repos.Waitlist.Count(ctx, sessionID)
	if err != nil {
		return PromotionResult{}, fmt.Errorf("failed to count waitlist: %w", err)
	}

	for attempt := 0; attempt < queued; attempt++ {
		entry, err := repos.Waitlist.FirstEligible(ctx, sessionID)
		if err != nil {
			return PromotionResult{}, fmt.Errorf("failed to get queue head: %w", err)
		}
		if entry == nil {
			return PromotionResult{}, nil
		}

		session, err := repos.Sessions.GetByID(ctx, sessionID)
		if err != nil {
			return PromotionResult{}, fmt.Errorf("failed to get session: %w", err)
		}
		bookable, err := s.ledger.BookableSeats(ctx, repos, session)
		if err != nil {
			return PromotionResult{}, err
		}
		if bookable < 1 {
			return PromotionResult{}, nil
		}

		var result PromotionResult
		if entry.IsAddGuest() {
			result, err = s.promoteGuest(ctx, repos, fx, entry)
		} else {
			result, err = s.promoteNewSpot(ctx, repos, fx, session, entry)
		}
		if errors.Is(err, apperrors.ErrStaleWaitlistEntry) {
			logger.WithContext(ctx).Info("Dropped stale waitlist entry",
				"entry_id", entry.ID, "session_id", sessionID, "kind", entry.Kind())
			continue
		}
		if err != nil {
			return PromotionResult{}, err
		}
		return result, nil
	}

	return PromotionResult{}, nil
}

// promoteNewSpot turns the entry into a pending_payment hold. Holds do not touch occupied seats.
func (s *WaitlistService) promoteNewSpot(ctx context.Context, repos *repository.Repositories, fx *effects, session *models.Session, entry *models.WaitlistEntry) (PromotionResult, error) {
	booking, err := repos.Bookings.GetByOwner(ctx, entry.SessionID, entry.OwnerID)
	if err != nil {
		return PromotionResult{}, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking != nil && booking.Status != models.BookingCancelled {
		// owner got a seat some other way
		return PromotionResult{}, s.dropEntry(ctx, repos, fx, entry)
	}

	expiresAt := s.now().Add(s.opts.HoldTTL)
	var from models.BookingStatus

	if booking != nil {
		from = booking.Status
		if !s.forfeited(session, booking) {
			if err := s.queueRefund(ctx, repos, booking.SessionID, booking.PaymentReference, models.RefundSourceReactivation, booking.ID); err != nil {
				return PromotionResult{}, err
			}
		}
		if err := setStatus(booking, models.BookingPendingPayment); err != nil {
			return PromotionResult{}, err
		}
		booking.Contact = entry.Contact
		booking.GuestCount = 0
		booking.PendingPaymentExpiresAt = &expiresAt
		booking.CancelledAt = nil
		booking.PaymentReference = nil
		if err := repos.Bookings.Update(ctx, booking); err != nil {
			return PromotionResult{}, fmt.Errorf("failed to reactivate booking: %w", err)
		}
	} else {
		booking = &models.Booking{
			SessionID:               entry.SessionID,
			OwnerID:                 entry.OwnerID,
			Contact:                 entry.Contact,
			GuestCount:              0,
			Status:                  models.BookingPendingPayment,
			PendingPaymentExpiresAt: &expiresAt,
		}
		if err := repos.Bookings.Create(ctx, booking); err != nil {
			return PromotionResult{}, fmt.Errorf("failed to create booking: %w", err)
		}
	}

	if err := repos.Waitlist.Delete(ctx, entry.ID); err != nil {
		return PromotionResult{}, fmt.Errorf("failed to delete waitlist entry: %w", err)
	}

	fx.record(s.transition(models.ActionPromoted, booking, from))
	err = s.notify(ctx, repos, fx, models.NotifyPromotionOffer, booking.Contact, booking.OwnerID, booking.SessionID, &booking.ID, map[string]interface{}{
		"session_id":   booking.SessionID,
		"booking_id":   booking.ID,
		"expires_at":   expiresAt.Format(time.RFC3339),
		"payment_link": s.paymentLink(booking.ID),
	})
	if err != nil {
		return PromotionResult{}, err
	}

	return PromotionResult{
		Promoted:  true,
		Kind:      models.WaitlistKindNewSpot,
		BookingID: booking.ID,
		EntryID:   entry.ID,
	}, nil
}

// promoteGuest attaches one guest seat to the entry's booking. The guest fee was paid at join time,
// so the seat is charged immediately.
func (s *WaitlistService) promoteGuest(ctx context.Context, repos *repository.Repositories, fx *effects, entry *models.WaitlistEntry) (PromotionResult, error) {
	booking, err := repos.Bookings.GetByID(ctx, *entry.BookingID)
	if err != nil {
		return PromotionResult{}, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil || booking.Status != models.BookingConfirmed || booking.GuestCount >= models.MaxGuests {
		return PromotionResult{}, s.dropEntry(ctx, repos, fx, entry)
	}

	if err := s.ledger.Reserve(ctx, repos, booking.SessionID, 1); err != nil {
		if errors.Is(err, apperrors.ErrCapacityExceeded) {
			return PromotionResult{}, nil
		}
		return PromotionResult{}, err
	}

	booking.GuestCount++
	if err := repos.Bookings.Update(ctx, booking); err != nil {
		return PromotionResult{}, fmt.Errorf("failed to update booking: %w", err)
	}

	entry.GuestCount--
	if entry.GuestCount == 0 {
		err = repos.Waitlist.Delete(ctx, entry.ID)
	} else {
		err = repos.Waitlist.Update(ctx, entry)
	}
	if err != nil {
		return PromotionResult{}, fmt.Errorf("failed to update waitlist entry: %w", err)
	}

	fx.record(s.transition(models.ActionGuestsPromoted, booking, booking.Status))
	err = s.notify(ctx, repos, fx, models.NotifyGuestsPromoted, booking.Contact, booking.OwnerID, booking.SessionID, &booking.ID, map[string]interface{}{
		"session_id":   booking.SessionID,
		"booking_id":   booking.ID,
		"guest_count":  booking.GuestCount,
		"still_queued": entry.GuestCount,
	})
	if err != nil {
		return PromotionResult{}, err
	}

	return PromotionResult{
		Promoted:  true,
		Kind:      models.WaitlistKindAddGuest,
		BookingID: booking.ID,
		EntryID:   entry.ID,
	}, nil
}

// dropEntry removes an entry that can no longer be promoted and returns ErrStaleWaitlistEntry.
// A paid entry leaves its payment reference in the refund ledger.
func (s *WaitlistService) dropEntry(ctx context.Context, repos *repository.Repositories, fx *effects, entry *models.WaitlistEntry) error {
	if err := repos.Waitlist.Delete(ctx, entry.ID); err != nil {
		return fmt.Errorf("failed to delete waitlist entry: %w", err)
	}
	if err := s.queueRefund(ctx, repos, entry.SessionID, entry.PaymentReference, models.RefundSourceWaitlist, entry.ID); err != nil {
		return err
	}
	fx.record(s.entryTransition(models.ActionWaitlistDropped, entry))
	return apperrors.ErrStaleWaitlistEntry
}

// Withdraw deletes one of the owner's entries.
func (s *WaitlistService) Withdraw(ctx context.Context, ownerID, entryID int64) error {
	return s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		entry, err := ownedEntry(ctx, repos, ownerID, entryID)
		if err != nil {
			return err
		}
		return s.removeEntry(ctx, repos, fx, entry)
	})
}

// ReduceWaitlist lowers the guest count of an add-guest entry. A new-spot entry, or a reduction that
// reaches zero, removes the entry. It returns the remaining entry, or nil when it was removed.
func (s *WaitlistService) ReduceWaitlist(ctx context.Context, ownerID, entryID int64, count int) (*models.WaitlistEntry, error) {
	if count < 1 {
		return nil, apperrors.ErrInvalidGuestCount
	}

	var remaining *models.WaitlistEntry
	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		remaining = nil

		entry, err := ownedEntry(ctx, repos, ownerID, entryID)
		if err != nil {
			return err
		}
		if !entry.IsAddGuest() || count >= entry.GuestCount {
			return s.removeEntry(ctx, repos, fx, entry)
		}

		entry.GuestCount -= count
		if err := repos.Waitlist.Update(ctx, entry); err != nil {
			return fmt.Errorf("failed to update waitlist entry: %w", err)
		}
		fx.record(s.entryTransition(models.ActionWaitlistReduced, entry))
		remaining = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return remaining, nil
}

func (s *WaitlistService) removeEntry(ctx context.Context, repos *repository.Repositories, fx *effects, entry *models.WaitlistEntry) error {
	if err := repos.Waitlist.Delete(ctx, entry.ID); err != nil {
		return fmt.Errorf("failed to delete waitlist entry: %w", err)
	}
	if err := s.queueRefund(ctx, repos, entry.SessionID, entry.PaymentReference, models.RefundSourceWithdrawal, entry.ID); err != nil {
		return err
	}
	fx.record(s.entryTransition(models.ActionWaitlistWithdrawn, entry))
	return nil
}

func (s *WaitlistService) paymentLink(bookingID int64) string {
	return s.opts.PaymentLinkBaseURL + "?orderId=" + strconv.FormatInt(bookingID, 10)
}

// promoteUpTo calls Promote sequentially, at most n times, and stops at the first call that
// promotes nobody or fails.
func (s *WaitlistService) promoteUpTo(ctx context.Context, sessionID int64, n int) (int, *int64) {
	promoted := 0
	var first *int64
	for i := 0; i < n; i++ {
		result, err := s.Promote(ctx, sessionID)
		if err != nil {
			logger.WithContext(ctx).Error("Waitlist promotion failed",
				"error", err, "session_id", sessionID, "attempt", i+1)
			break
		}
		if !result.Promoted {
			break
		}
		if first == nil {
			id := result.BookingID
			first = &id
		}
		promoted++
	}
	return promoted, first
}

// ownedConfirmedBooking locks the booking's session and checks the booking under that lock.
func ownedConfirmedBooking(ctx context.Context, repos *repository.Repositories, ownerID, bookingID int64) (*models.Booking, *models.Session, error) {
	booking, session, err := lockBooking(ctx, repos, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if booking == nil || booking.OwnerID != ownerID || booking.Status != models.BookingConfirmed {
		return nil, nil, apperrors.ErrNotFoundOrUnauthorized
	}
	return booking, session, nil
}

func ownedEntry(ctx context.Context, repos *repository.Repositories, ownerID, entryID int64) (*models.WaitlistEntry, error) {
	entry, err := lockEntry(ctx, repos, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.OwnerID != ownerID {
		return nil, apperrors.ErrNotFoundOrUnauthorized
	}
	return entry, nil
}
