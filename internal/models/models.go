package models

import "time"

// CreateSessionRequest - модель для создания сеанса
type CreateSessionRequest struct {
	Title       string    `json:"title" binding:"required"`
	StartsAt    time.Time `json:"starts_at" binding:"required"`
	EndsAt      time.Time `json:"ends_at" binding:"required"`
	MaxCapacity int       `json:"max_capacity" binding:"required,min=1"`
}

// CreateSessionResponse - модель ответа при создании сеанса
type CreateSessionResponse struct {
	ID int64 `json:"id"`
}

// RegisterRequest books the caller into one or more sessions
type RegisterRequest struct {
	SessionIDs       []int64 `json:"session_ids" binding:"required,min=1"`
	GuestCount       int     `json:"guest_count" binding:"min=0,max=10"`
	Contact          Contact `json:"contact" binding:"required"`
	PaymentReference *string `json:"payment_reference,omitempty"`
}

// Registration outcome statuses
const (
	OutcomeConfirmed        = "confirmed"
	OutcomeAlreadyConfirmed = "already_confirmed"
	OutcomeFailed           = "failed"
)

// RegistrationOutcome is the per-session result of a batch registration
type RegistrationOutcome struct {
	SessionID int64  `json:"session_id"`
	BookingID int64  `json:"booking_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	err       error
}

// Err returns the error behind a failed outcome.
func (o RegistrationOutcome) Err() error {
	return o.err
}

// FailedOutcome builds a failed outcome carrying err.
func FailedOutcome(sessionID int64, err error) RegistrationOutcome {
	return RegistrationOutcome{SessionID: sessionID, Status: OutcomeFailed, Error: err.Error(), err: err}
}

// RegisterResponse - список результатов по сеансам
type RegisterResponse struct {
	Outcomes []RegistrationOutcome `json:"outcomes"`
}

// CancelBookingResponse reports the cancellation and the promotion it triggered
type CancelBookingResponse struct {
	BookingID         int64  `json:"booking_id"`
	Promoted          bool   `json:"promoted"`
	PromotedBookingID *int64 `json:"promoted_booking_id,omitempty"`
}

// JoinWaitlistRequest queues the caller for a new seat
type JoinWaitlistRequest struct {
	SessionID int64   `json:"session_id" binding:"required"`
	Contact   Contact `json:"contact" binding:"required"`
}

// AddGuestWaitlistRequest queues extra guest seats for an existing booking
type AddGuestWaitlistRequest struct {
	SessionID        int64   `json:"session_id" binding:"required"`
	BookingID        int64   `json:"booking_id" binding:"required"`
	GuestCount       int     `json:"guest_count" binding:"required,min=1,max=10"`
	Contact          Contact `json:"contact" binding:"required"`
	PaymentReference *string `json:"payment_reference,omitempty"`
}

// GuestsRequest - количество гостей для добавления или удаления
type GuestsRequest struct {
	Count int `json:"count" binding:"required"`
	// оплата гостевых мест, которые уйдут в лист ожидания
	PaymentReference *string `json:"payment_reference,omitempty"`
}

// AddGuestsResponse reports how a guest request was split between seats and waitlist
type AddGuestsResponse struct {
	BookingID  int64 `json:"booking_id"`
	Added      int   `json:"added"`
	Waitlisted int   `json:"waitlisted"`
	GuestCount int   `json:"guest_count"`
}

// RemoveGuestsResponse reports removed guests and the promotions they released
type RemoveGuestsResponse struct {
	BookingID  int64 `json:"booking_id"`
	Removed    int   `json:"removed"`
	Promoted   int   `json:"promoted"`
	GuestCount int   `json:"guest_count"`
}

// ReduceWaitlistRequest - количество мест, на которое уменьшается запись
type ReduceWaitlistRequest struct {
	Count int `json:"count" binding:"required,min=1"`
}

// ConfirmPaymentResponse reports the result of a payment confirmation
type ConfirmPaymentResponse struct {
	BookingID      int64  `json:"booking_id"`
	Status         string `json:"status"`
	AlreadyHandled bool   `json:"already_handled"`
}

// UserStatusResponse lists the caller's bookings and waitlist entries
type UserStatusResponse struct {
	Bookings []Booking       `json:"bookings"`
	Waitlist []WaitlistEntry `json:"waitlist"`
}

// PaymentNotificationPayload - модель для webhook уведомлений от платежного шлюза
type PaymentNotificationPayload struct {
	PaymentID string                 `json:"paymentId" binding:"required"`
	OrderID   string                 `json:"orderId"`
	Status    string                 `json:"status" binding:"required"`
	TeamSlug  string                 `json:"teamSlug"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// SweepResult summarizes one run of a periodic job. Per-record failures are collected, never raised.
type SweepResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Errors    []string `json:"errors,omitempty"`
}

// ExpirySweepResult adds the promotions triggered by expired holds
type ExpirySweepResult struct {
	SweepResult
	Expired  int `json:"expired"`
	Promoted int `json:"promoted"`
}

// AuditResult compares the maintained occupied_seats counter with the confirmed bookings
type AuditResult struct {
	SessionID      int64 `json:"session_id"`
	OccupiedSeats  int   `json:"occupied_seats"`
	ConfirmedSeats int   `json:"confirmed_seats"`
	MaxCapacity    int   `json:"max_capacity"`
	Consistent     bool  `json:"consistent"`
}
