package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/logger"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/repository"
)

// PaymentService owns the pending_payment lifecycle: capture confirmations from the gateway and the
// periodic expiry of unpaid holds.
type PaymentService struct {
	*core
	waitlist *WaitlistService
}

// ErrPaymentNotConfirmed is returned when the gateway does not report the payment as captured.
var ErrPaymentNotConfirmed = errors.New("payment is not confirmed by the gateway")

// SweepExpired cancels pending_payment bookings whose hold ran out and offers each freed hold to
// the waitlist once. Per-booking failures are collected and never stop the sweep.
func (s *PaymentService) SweepExpired(ctx context.Context) (*models.ExpirySweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("expiry").Observe(time.Since(start).Seconds())
	}()

	now := s.now()
	var expired []models.Booking
	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		expired, err = repos.Bookings.ListExpiredPending(ctx, now, s.opts.SweepBatchSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}

	result := &models.ExpirySweepResult{}
	for _, b := range expired {
		result.Processed++

		ok, err := s.expire(ctx, b.ID, now)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("booking %d: %v", b.ID, err))
			continue
		}
		result.Succeeded++
		if !ok {
			// paid or cancelled since it was listed
			continue
		}
		result.Expired++
		metrics.HoldsExpired.Inc()

		promoted, _ := s.waitlist.promoteUpTo(ctx, b.SessionID, 1)
		result.Promoted += promoted
	}

	return result, nil
}

// expire cancels one hold if it is still pending and past its expiry. No seats are released: holds
// never charged the session.
func (s *PaymentService) expire(ctx context.Context, bookingID int64, now time.Time) (bool, error) {
	expired := false
	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		expired = false

		booking, _, err := lockBooking(ctx, repos, bookingID)
		if err != nil {
			return err
		}
		if booking == nil || booking.Status != models.BookingPendingPayment ||
			booking.PendingPaymentExpiresAt == nil || !booking.PendingPaymentExpiresAt.Before(now) {
			return nil
		}

		from := booking.Status
		if err := setStatus(booking, models.BookingCancelled); err != nil {
			return err
		}
		cancelledAt := s.now()
		booking.CancelledAt = &cancelledAt
		booking.PendingPaymentExpiresAt = nil
		if err := repos.Bookings.Update(ctx, booking); err != nil {
			return fmt.Errorf("failed to expire booking: %w", err)
		}

		expired = true
		fx.record(s.transition(models.ActionHoldExpired, booking, from))
		return s.notify(ctx, repos, fx, models.NotifyHoldExpired, booking.Contact, booking.OwnerID, booking.SessionID, &booking.ID, map[string]interface{}{
			"session_id": booking.SessionID,
			"booking_id": booking.ID,
		})
	})
	return expired, err
}

// ConfirmPayment turns a pending hold into a confirmed booking and charges its seat. A booking that
// is no longer pending is reported as already handled so webhook replays are harmless. When the
// seat is gone by the time the payment arrives, the booking is cancelled and the payment queued
// for refund.
func (s *PaymentService) ConfirmPayment(ctx context.Context, bookingID int64, paymentRef string) (*models.ConfirmPaymentResponse, error) {
	resp := &models.ConfirmPaymentResponse{BookingID: bookingID}

	err := s.run(ctx, func(ctx context.Context, repos *repository.Repositories, fx *effects) error {
		*resp = models.ConfirmPaymentResponse{BookingID: bookingID}

		booking, _, err := lockBooking(ctx, repos, bookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			return apperrors.ErrNotFoundOrUnauthorized
		}
		if booking.Status != models.BookingPendingPayment {
			resp.Status = string(booking.Status)
			resp.AlreadyHandled = true
			return nil
		}

		var ref *string
		if paymentRef != "" {
			ref = &paymentRef
		}
		from := booking.Status
		booking.PendingPaymentExpiresAt = nil
		booking.PaymentReference = ref

		err = s.ledger.Reserve(ctx, repos, booking.SessionID, booking.Seats())
		if errors.Is(err, apperrors.ErrCapacityExceeded) {
			return s.rejectLatePayment(ctx, repos, fx, booking, from)
		}
		if err != nil {
			return err
		}

		if err := setStatus(booking, models.BookingConfirmed); err != nil {
			return err
		}
		if err := repos.Bookings.Update(ctx, booking); err != nil {
			return fmt.Errorf("failed to confirm booking: %w", err)
		}

		resp.Status = string(booking.Status)
		fx.record(s.transition(models.ActionPaymentConfirmed, booking, from))
		return s.notify(ctx, repos, fx, models.NotifyPaymentConfirmed, booking.Contact, booking.OwnerID, booking.SessionID, &booking.ID, map[string]interface{}{
			"session_id":        booking.SessionID,
			"booking_id":        booking.ID,
			"payment_reference": paymentRef,
		})
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.AlreadyHandled:
		metrics.PaymentsConfirmed.WithLabelValues("already_handled").Inc()
	case resp.Status == string(models.BookingConfirmed):
		metrics.PaymentsConfirmed.WithLabelValues("confirmed").Inc()
	default:
		metrics.PaymentsConfirmed.WithLabelValues("late").Inc()
	}
	return resp, nil
}

func (s *PaymentService) rejectLatePayment(ctx context.Context, repos *repository.Repositories, fx *effects, booking *models.Booking, from models.BookingStatus) error {
	if err := setStatus(booking, models.BookingCancelled); err != nil {
		return err
	}
	now := s.now()
	booking.CancelledAt = &now
	if err := repos.Bookings.Update(ctx, booking); err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	if err := s.queueRefund(ctx, repos, booking.SessionID, booking.PaymentReference, models.RefundSourceBooking, booking.ID); err != nil {
		return err
	}

	logger.WithContext(ctx).Warn("Payment arrived after the seat was lost",
		"booking_id", booking.ID, "session_id", booking.SessionID)

	fx.record(s.transition(models.ActionPaymentLate, booking, from))
	return s.notify(ctx, repos, fx, models.NotifyPaymentLate, booking.Contact, booking.OwnerID, booking.SessionID, &booking.ID, map[string]interface{}{
		"session_id": booking.SessionID,
		"booking_id": booking.ID,
	})
}

// ConfirmVerified confirms the booking named by orderID after checking the payment with the gateway.
// Without a configured gateway the order is trusted.
func (s *PaymentService) ConfirmVerified(ctx context.Context, orderID, paymentID string) (*models.ConfirmPaymentResponse, error) {
	bookingID, err := ParseOrderID(orderID)
	if err != nil {
		return nil, err
	}

	if s.payment != nil && paymentID != "" {
		ok, err := s.payment.IsConfirmed(ctx, paymentID)
		if err != nil {
			return nil, fmt.Errorf("failed to verify payment: %w", err)
		}
		if !ok {
			return nil, ErrPaymentNotConfirmed
		}
	}

	return s.ConfirmPayment(ctx, bookingID, paymentID)
}

// HandlePaymentNotification applies a gateway webhook payload. Only captured payments change state;
// failed ones leave the hold to expire.
func (s *PaymentService) HandlePaymentNotification(ctx context.Context, payload *models.PaymentNotificationPayload) (*models.ConfirmPaymentResponse, error) {
	bookingID, err := ParseOrderID(payload.OrderID)
	if err != nil {
		return nil, err
	}

	if IsCaptured(payload.Status) {
		return s.ConfirmPayment(ctx, bookingID, payload.PaymentID)
	}
	logger.WithContext(ctx).Info("Ignoring payment notification",
		"booking_id", bookingID, "payment_id", payload.PaymentID, "status", payload.Status)
	return &models.ConfirmPaymentResponse{BookingID: bookingID, Status: strings.ToLower(payload.Status)}, nil
}

// IsCaptured reports whether a gateway status means the money was taken.
func IsCaptured(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "CONFIRMED", "COMPLETED", "CAPTURED":
		return true
	default:
		return false
	}
}

// CompletedEvent builds the message published for a captured payment.
func CompletedEvent(payload *models.PaymentNotificationPayload, now time.Time) (*models.PaymentCompletedEvent, error) {
	bookingID, err := ParseOrderID(payload.OrderID)
	if err != nil {
		return nil, err
	}
	return &models.PaymentCompletedEvent{
		BookingID: bookingID,
		PaymentID: payload.PaymentID,
		OrderID:   payload.OrderID,
		Timestamp: now,
	}, nil
}

// ParseOrderID reads the booking ID carried as the gateway order ID.
func ParseOrderID(orderID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid order id %q", apperrors.ErrNotFoundOrUnauthorized, orderID)
	}
	return id, nil
}
