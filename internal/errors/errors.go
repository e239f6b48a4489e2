package errors

import (
	"errors"
	"fmt"
)

var ErrUnauthorized = errors.New("user is not authorized")

// Booking and waitlist errors returned to callers of the engine.
var (
	ErrSessionFull              = errors.New("session is full")
	ErrAlreadyPending           = errors.New("booking is pending payment")
	ErrAlreadyBooked            = errors.New("user already holds a booking for this session")
	ErrNotFoundOrUnauthorized   = errors.New("booking not found or not owned by user")
	ErrInvalidGuestCount        = errors.New("guest count must be between 1 and 10")
	ErrSeatsAvailable           = errors.New("session still has seats available")
	ErrSessionNotFound          = errors.New("session not found")
	ErrInvalidSession           = errors.New("invalid session parameters")
	ErrSessionEnded             = errors.New("session has already ended")
	ErrPaymentReferenceConflict = errors.New("waitlist entry already carries a different payment reference")
	ErrInvalidTransition        = errors.New("booking status transition not allowed")
)

// Internal signals. They are translated before leaving the service layer.
var (
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrStaleWaitlistEntry = errors.New("waitlist entry references a booking that is no longer confirmed")
)

// CapacityError reports how many seats were asked for and how many were left.
type CapacityError struct {
	Requested int
	Available int
}

func (e *CapacityError) Error() string {
	if e.Available <= 0 {
		return fmt.Sprintf("session is full: requested %d seats, none left", e.Requested)
	}
	return fmt.Sprintf("session is full: requested %d seats, only %d left", e.Requested, e.Available)
}

func (e *CapacityError) Unwrap() error {
	return ErrSessionFull
}
