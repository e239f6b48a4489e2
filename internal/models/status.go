package models

// BookingStatus is the state of a booking.
//
//	pending_payment -> confirmed   payment captured
//	pending_payment -> cancelled   hold expired, or payment arrived after the seat was lost
//	confirmed       -> cancelled   owner cancelled
//	cancelled       -> confirmed   owner registered again (row reactivated)
//	cancelled       -> pending_payment  owner promoted from the waitlist again (row reactivated)
type BookingStatus string

const (
	BookingPendingPayment BookingStatus = "pending_payment"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingCancelled      BookingStatus = "cancelled"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPendingPayment: {BookingConfirmed, BookingCancelled},
	BookingConfirmed:      {BookingCancelled},
	BookingCancelled:      {BookingConfirmed, BookingPendingPayment},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s BookingStatus) Valid() bool {
	_, ok := bookingTransitions[s]
	return ok
}
