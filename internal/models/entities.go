package models

import (
	"time"
)

// MaxGuests is the largest number of companions one booking can carry.
const MaxGuests = 10

// Contact is the owner's contact snapshot taken when a booking or waitlist entry is written.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Session represents a bookable, capacity-limited timed event
type Session struct {
	ID            int64      `json:"id" db:"id"`
	Title         string     `json:"title" db:"title"`
	StartsAt      time.Time  `json:"starts_at" db:"starts_at"`
	EndsAt        time.Time  `json:"ends_at" db:"ends_at"`
	MaxCapacity   int        `json:"max_capacity" db:"max_capacity"`
	OccupiedSeats int        `json:"occupied_seats" db:"occupied_seats"`
	RefundSweptAt *time.Time `json:"refund_swept_at,omitempty" db:"refund_swept_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// FreeSeats is maxCapacity minus the seats charged by confirmed bookings.
func (s *Session) FreeSeats() int {
	return s.MaxCapacity - s.OccupiedSeats
}

// Ended reports whether the session end time has passed.
func (s *Session) Ended(now time.Time) bool {
	return s.EndsAt.Before(now)
}

// Booking represents one owner's reservation for a session
type Booking struct {
	ID                      int64         `json:"id" db:"id"`
	SessionID               int64         `json:"session_id" db:"session_id"`
	OwnerID                 int64         `json:"owner_id" db:"owner_id"`
	Contact                 Contact       `json:"contact"`
	GuestCount              int           `json:"guest_count" db:"guest_count"`
	Status                  BookingStatus `json:"status" db:"status"`
	PendingPaymentExpiresAt *time.Time    `json:"pending_payment_expires_at,omitempty" db:"pending_payment_expires_at"`
	CancelledAt             *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	PaymentReference        *string       `json:"payment_reference,omitempty" db:"payment_reference"`
	CreatedAt               time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at" db:"updated_at"`
}

// Seats is the number of seats the booking occupies once confirmed.
func (b *Booking) Seats() int {
	return 1 + b.GuestCount
}

// WaitlistEntry is queued demand for a new seat or for extra guest seats on a confirmed booking.
// BookingID is nil for new-spot entries.
type WaitlistEntry struct {
	ID               int64     `json:"id" db:"id"`
	SessionID        int64     `json:"session_id" db:"session_id"`
	OwnerID          int64     `json:"owner_id" db:"owner_id"`
	BookingID        *int64    `json:"booking_id,omitempty" db:"booking_id"`
	Position         int       `json:"position" db:"position"`
	GuestCount       int       `json:"guest_count" db:"guest_count"`
	Contact          Contact   `json:"contact"`
	PaymentReference *string   `json:"payment_reference,omitempty" db:"payment_reference"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// IsAddGuest reports whether the entry waits for guest seats on an existing booking.
func (e *WaitlistEntry) IsAddGuest() bool {
	return e.BookingID != nil
}

// Kind returns the queue kind label used in logs, metrics and notifications.
func (e *WaitlistEntry) Kind() string {
	if e.IsAddGuest() {
		return WaitlistKindAddGuest
	}
	return WaitlistKindNewSpot
}

const (
	WaitlistKindNewSpot  = "new_spot"
	WaitlistKindAddGuest = "add_guest"
)

// Refund sources
const (
	RefundSourceBooking      = "booking"
	RefundSourceWaitlist     = "waitlist"
	RefundSourceReactivation = "reactivation"
	RefundSourceWithdrawal   = "withdrawal"
)

// Refund statuses
const (
	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
)

// Refund is one payment reference owed back to its payer. A reference is refunded at most once.
type Refund struct {
	ID               int64     `json:"id" db:"id"`
	SessionID        int64     `json:"session_id" db:"session_id"`
	PaymentReference string    `json:"payment_reference" db:"payment_reference"`
	Source           string    `json:"source" db:"source"`
	SourceID         int64     `json:"source_id" db:"source_id"`
	Status           string    `json:"status" db:"status"`
	Attempts         int       `json:"attempts" db:"attempts"`
	LastError        *string   `json:"last_error,omitempty" db:"last_error"`
	IdempotencyKey   string    `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Occupancy is the read model for a session's counters
type Occupancy struct {
	SessionID        int64 `json:"session_id"`
	MaxCapacity      int   `json:"max_capacity"`
	OccupiedSeats    int   `json:"occupied_seats"`
	PendingHoldSeats int   `json:"pending_hold_seats"`
	FreeSeats        int   `json:"free_seats"`
	WaitlistLength   int   `json:"waitlist_length"`
}
