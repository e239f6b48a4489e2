package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/stan.go"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/logger"
	"slotbook/internal/models"
	"slotbook/internal/service"
)

// NotificationKinds are the outbox kinds the notifier subscribes to, one channel each.
var NotificationKinds = []string{
	models.NotifyRegistrationBatch,
	models.NotifyBookingCancelled,
	models.NotifyPromotionOffer,
	models.NotifyGuestsPromoted,
	models.NotifyWaitlistJoined,
	models.NotifyGuestsAdded,
	models.NotifyGuestsWaitlisted,
	models.NotifyGuestsRemoved,
	models.NotifyHoldExpired,
	models.NotifyPaymentConfirmed,
	models.NotifyPaymentLate,
}

// PaymentConfirmer is the part of the payment service the consumer drives.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, bookingID int64, paymentRef string) (*models.ConfirmPaymentResponse, error)
}

type Handlers struct {
	payments PaymentConfirmer
	timeout  time.Duration
}

func NewHandlers(payments PaymentConfirmer, timeout time.Duration) *Handlers {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handlers{payments: payments, timeout: timeout}
}

// HandlePaymentCompleted confirms the booking behind a captured payment. The message is left
// unacked on a system error so NATS redelivers it.
func (h *Handlers) HandlePaymentCompleted(m *stan.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if h.paymentCompleted(ctx, m.Data) {
		if err := m.Ack(); err != nil {
			slog.Error("Failed to ack payment completed event", "error", err, "sequence", m.Sequence)
		}
	}
}

// paymentCompleted reports whether the message is done with and should be acked.
func (h *Handlers) paymentCompleted(ctx context.Context, data []byte) bool {
	var event models.PaymentCompletedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("Failed to unmarshal payment completed event", "error", err)
		return true
	}

	log := logger.WithContext(ctx).With("booking_id", event.BookingID, "payment_id", event.PaymentID)
	log.Info("Processing payment completed event")

	resp, err := h.payments.ConfirmPayment(ctx, event.BookingID, event.PaymentID)
	switch {
	case errors.Is(err, apperrors.ErrNotFoundOrUnauthorized):
		log.Warn("Payment for unknown booking dropped")
		return true
	case err != nil:
		log.Error("Failed to confirm payment, leaving for redelivery", "error", err)
		return false
	}

	log.Info("Payment processed", "status", resp.Status, "already_handled", resp.AlreadyHandled)
	return true
}

// HandleNotification delivers an outbox notification. Delivery here is a structured log line;
// a mail or SMS sender plugs in at this point.
func (h *Handlers) HandleNotification(m *stan.Msg) {
	h.deliver(m.Data)
	if err := m.Ack(); err != nil {
		slog.Error("Failed to ack notification", "error", err, "subject", m.Subject)
	}
}

func (h *Handlers) deliver(data []byte) *models.Notification {
	var n models.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		slog.Error("Failed to unmarshal notification", "error", err)
		return nil
	}

	slog.Info("Notification delivered",
		"id", n.ID,
		"kind", n.Kind,
		"recipient", n.Recipient,
		"session_id", n.SessionID,
		"payload", string(n.Payload))
	return &n
}

var _ PaymentConfirmer = (*service.PaymentService)(nil)
