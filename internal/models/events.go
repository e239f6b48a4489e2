package models

import (
	"encoding/json"
	"time"
)

// NATS subjects
const (
	SubjectPaymentCompleted   = "payment.completed"
	SubjectNotificationPrefix = "notification."
)

// Notification kinds
const (
	NotifyRegistrationBatch = "registration.batch"
	NotifyBookingCancelled  = "booking.cancelled"
	NotifyPromotionOffer    = "waitlist.promotion_offer"
	NotifyGuestsPromoted    = "waitlist.guests_promoted"
	NotifyWaitlistJoined    = "waitlist.joined"
	NotifyGuestsAdded       = "guests.added"
	NotifyGuestsWaitlisted  = "guests.waitlisted"
	NotifyGuestsRemoved     = "guests.removed"
	NotifyHoldExpired       = "hold.expired"
	NotifyPaymentConfirmed  = "payment.confirmed"
	NotifyPaymentLate       = "payment.late"
)

// Transition actions recorded in booking history
const (
	ActionRegistered        = "registered"
	ActionReactivated       = "reactivated"
	ActionCancelled         = "cancelled"
	ActionPromoted          = "promoted"
	ActionGuestsPromoted    = "guests_promoted"
	ActionGuestsAdded       = "guests_added"
	ActionGuestsRemoved     = "guests_removed"
	ActionHoldExpired       = "hold_expired"
	ActionPaymentConfirmed  = "payment_confirmed"
	ActionPaymentLate       = "payment_late"
	ActionWaitlistJoined    = "waitlist_joined"
	ActionWaitlistGuests    = "waitlist_guests"
	ActionWaitlistReduced   = "waitlist_reduced"
	ActionWaitlistWithdrawn = "waitlist_withdrawn"
	ActionWaitlistDropped   = "waitlist_dropped"
)

// Notification is an outbox row. It is written in the same transaction as the state change it
// announces and dispatched after commit.
type Notification struct {
	ID           string          `json:"id" db:"id"`
	Kind         string          `json:"kind" db:"kind"`
	Recipient    string          `json:"recipient" db:"recipient"`
	SessionID    int64           `json:"session_id" db:"session_id"`
	BookingID    *int64          `json:"booking_id,omitempty" db:"booking_id"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	Attempts     int             `json:"attempts" db:"attempts"`
	LastError    *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty" db:"dispatched_at"`
}

// Subject returns the NATS subject the notification is published on.
func (n *Notification) Subject() string {
	return SubjectNotificationPrefix + n.Kind
}

// Transition is one entry of a booking's append-only history.
type Transition struct {
	BookingID  *int64    `json:"booking_id,omitempty"`
	EntryID    *int64    `json:"waitlist_entry_id,omitempty"`
	SessionID  int64     `json:"session_id"`
	OwnerID    int64     `json:"owner_id"`
	Action     string    `json:"action"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	GuestCount int       `json:"guest_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// PaymentCompletedEvent represents a captured payment reported by the gateway
type PaymentCompletedEvent struct {
	BookingID int64     `json:"booking_id"`
	PaymentID string    `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
}
