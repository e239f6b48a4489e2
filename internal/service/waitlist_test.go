package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/models"
)

func TestCancelPromotesWaitlistIntoHoldAndExpiryMovesOn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.createSession(t, 20)

	bookings := make(map[int64]int64)
	for owner := int64(1); owner <= 20; owner++ {
		bookings[owner] = env.register(t, owner, session.ID, 0)
	}
	require.Equal(t, 20, env.occupancy(t, session.ID).OccupiedSeats)

	const userA, userB = int64(101), int64(102)
	env.join(t, userA, session.ID)
	env.join(t, userB, session.ID)

	resp, err := env.svc.Registrations.Cancel(ctx, 1, bookings[1])
	require.NoError(t, err)
	require.True(t, resp.Promoted)

	holdA := env.bookingOf(t, session.ID, userA)
	require.NotNil(t, holdA)
	assert.Equal(t, *resp.PromotedBookingID, holdA.ID)
	assert.Equal(t, models.BookingPendingPayment, holdA.Status)
	assert.Equal(t, 0, holdA.GuestCount)
	require.NotNil(t, holdA.PendingPaymentExpiresAt)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), *holdA.PendingPaymentExpiresAt)

	queue := env.queue(t, session.ID)
	require.Len(t, queue, 1)
	assert.Equal(t, userB, queue[0].OwnerID)

	occ := env.occupancy(t, session.ID)
	assert.Equal(t, 19, occ.OccupiedSeats, "a hold is not an allocation")
	assert.Equal(t, 1, occ.PendingHoldSeats)
	assert.Equal(t, 1, env.publisher.Count("notification."+models.NotifyPromotionOffer))

	// A never pays
	env.clock.Advance(25 * time.Hour)
	result, err := env.svc.Payments.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Promoted)
	assert.Empty(t, result.Errors)

	expired := env.booking(t, holdA.ID)
	assert.Equal(t, models.BookingCancelled, expired.Status)
	assert.Nil(t, expired.PendingPaymentExpiresAt)
	require.NotNil(t, expired.CancelledAt)

	holdB := env.bookingOf(t, session.ID, userB)
	require.NotNil(t, holdB)
	assert.Equal(t, models.BookingPendingPayment, holdB.Status)
	assert.Empty(t, env.queue(t, session.ID))
	assert.Equal(t, 19, env.occupancy(t, session.ID).OccupiedSeats)
	env.requireConsistent(t, session.ID)
}

func TestJoinRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.createSession(t, 2)
	env.register(t, 1, session.ID, 0)

	_, err := env.svc.Waitlist.Join(ctx, 2, &models.JoinWaitlistRequest{SessionID: session.ID, Contact: contactFor(2)})
	assert.ErrorIs(t, err, apperrors.ErrSeatsAvailable)

	env.register(t, 2, session.ID, 0)

	_, err = env.svc.Waitlist.Join(ctx, 1, &models.JoinWaitlistRequest{SessionID: session.ID, Contact: contactFor(1)})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyBooked)

	first := env.join(t, 3, session.ID)
	second := env.join(t, 3, session.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, first.Position)
	assert.Len(t, env.queue(t, session.ID), 1)

	fourth := env.join(t, 4, session.ID)
	assert.Equal(t, 2, fourth.Position)

	_, err = env.svc.Waitlist.Join(ctx, 5, &models.JoinWaitlistRequest{SessionID: 404, Contact: contactFor(5)})
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestJoinCountsPendingHolds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.createSession(t, 2)
	first := env.register(t, 1, session.ID, 0)
	env.register(t, 2, session.ID, 0)
	env.join(t, 3, session.ID)

	_, err := env.svc.Registrations.Cancel(ctx, 1, first)
	require.NoError(t, err)

	// one seat free on the counter, but it is promised to owner 3's hold
	occ := env.occupancy(t, session.ID)
	require.Equal(t, 1, occ.FreeSeats)
	require.Equal(t, 1, occ.PendingHoldSeats)

	env.join(t, 4, session.ID)

	resp, err := env.svc.Registrations.Register(ctx, 5, &models.RegisterRequest{
		SessionIDs: []int64{session.ID},
		Contact:    contactFor(5),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, resp.Outcomes[0].Err(), apperrors.ErrSessionFull)
}

func TestPromotionOrderIsFIFOWithNewSpotFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.createSession(t, 4)

	bookings := make(map[int64]int64)
	for owner := int64(1); owner <= 4; owner++ {
		bookings[owner] = env.register(t, owner, session.ID, 0)
	}

	// owner 1 waits for a guest seat before anybody asks for a new spot
	_, err := env.svc.Waitlist.AddGuestWaitlist(ctx, 1, &models.AddGuestWaitlistRequest{
		SessionID:  session.ID,
		BookingID:  bookings[1],
		GuestCount: 1,
		Contact:    contactFor(1),
	})
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	const a, b, c = int64(11), int64(12), int64(13)
	env.join(t, a, session.ID)
	env.clock.Advance(time.Minute)
	env.join(t, b, session.ID)
	env.clock.Advance(time.Minute)
	env.join(t, c, session.ID)

	var order []int64
	for _, owner := range []int64{2, 3, 4} {
		resp, err := env.svc.Registrations.Cancel(ctx, owner, bookings[owner])
		require.NoError(t, err)
		require.True(t, resp.Promoted)
		order = append(order, env.booking(t, *resp.PromotedBookingID).OwnerID)
	}
	assert.Equal(t, []int64{a, b, c}, order)

	// only the add-guest entry is left
	_, err = env.svc.Payments.ConfirmPayment(ctx, env.bookingOf(t, session.ID, a).ID, "pay-a")
	require.NoError(t, err)

	env.clock.Advance(25 * time.Hour)
	result, err := env.svc.Payments.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Expired)
	assert.Equal(t, 1, result.Promoted, "only the add-guest entry was left")

	assert.Equal(t, 1, env.booking(t, bookings[1]).GuestCount)
	assert.Empty(t, env.queue(t, session.ID))
	env.requireConsistent(t, session.ID)
}

func TestStaleAddGuestEntryIsDroppedAndRefunded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.createSession(t, 2)
	first := env.register(t, 1, session.ID, 0)
	env.register(t, 2, session.ID, 0)

	_, err := env.svc.Waitlist.AddGuestWaitlist(ctx, 1, &models.AddGuestWaitlistRequest{
		SessionID:        session.ID,
		BookingID:        first,
		GuestCount:       2,
		Contact:          contactFor(1),
		PaymentReference: strPtr("guest-fee-1"),
	})
	require.NoError(t, err)

	resp, err := env.svc.Registrations.Cancel(ctx, 1, first)
	require.NoError(t, err)
	assert.False(t, resp.Promoted)
	assert.Empty(t, env.queue(t, session.ID))

	rf := env.refund(t, "guest-fee-1")
	require.NotNil(t, rf)
	assert.Equal(t, models.RefundSourceWaitlist, rf.Source)
	assert.Equal(t, models.RefundStatusPending, rf.Status)
}

func TestAddGuestWaitlistMergesEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.createSession(t, 1)
	bookingID := env.register(t, 1, session.ID, 0)

	req := &models.AddGuestWaitlistRequest{
		SessionID:        session.ID,
		BookingID:        bookingID,
		GuestCount:       2,
		PaymentReference: strPtr("fee-1"),
	}
	first, err := env.svc.Waitlist.AddGuestWaitlist(ctx, 1, req)
	require.NoError(t, err)
	assert.Equal(t, contactFor(1), first.Contact)

	req.GuestCount = 3
	merged, err := env.svc.Waitlist.AddGuestWaitlist(ctx, 1, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, 5, merged.GuestCount)

	req.PaymentReference = strPtr("fee-2")
	req.GuestCount = 1
	_, err = env.svc.Waitlist.AddGuestWaitlist(ctx, 1, req)
	assert.ErrorIs(t, err, apperrors.ErrPaymentReferenceConflict)

	req.PaymentReference = nil
	req.GuestCount = 6
	_, err = env.svc.Waitlist.AddGuestWaitlist(ctx, 1, req)
	assert.ErrorIs(t, err, apperrors.ErrInvalidGuestCount)

	_, err = env.svc.Waitlist.AddGuestWaitlist(ctx, 2, req)
	assert.ErrorIs(t, err, apperrors.ErrNotFoundOrUnauthorized)
}

func TestReduceAndWithdrawWaitlist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.createSession(t, 1)
	bookingID := env.register(t, 1, session.ID, 0)

	entry, err := env.svc.Waitlist.AddGuestWaitlist(ctx, 1, &models.AddGuestWaitlistRequest{
		SessionID:        session.ID,
		BookingID:        bookingID,
		GuestCount:       3,
		PaymentReference: strPtr("fee-reduce"),
	})
	require.NoError(t, err)

	remaining, err := env.svc.Waitlist.ReduceWaitlist(ctx, 1, entry.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, remaining)
	assert.Equal(t, 2, remaining.GuestCount)

	_, err = env.svc.Waitlist.ReduceWaitlist(ctx, 2, entry.ID, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFoundOrUnauthorized)

	remaining, err = env.svc.Waitlist.ReduceWaitlist(ctx, 1, entry.ID, 5)
	require.NoError(t, err)
	assert.Nil(t, remaining)
	assert.Empty(t, env.queue(t, session.ID))

	rf := env.refund(t, "fee-reduce")
	require.NotNil(t, rf)
	assert.Equal(t, models.RefundSourceWithdrawal, rf.Source)

	spot := env.join(t, 2, session.ID)
	assert.ErrorIs(t, env.svc.Waitlist.Withdraw(ctx, 1, spot.ID), apperrors.ErrNotFoundOrUnauthorized)
	require.NoError(t, env.svc.Waitlist.Withdraw(ctx, 2, spot.ID))
	assert.Empty(t, env.queue(t, session.ID))
}

func TestPromoteOnEmptyQueueIsNoop(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t, 1)

	result, err := env.svc.Waitlist.Promote(context.Background(), session.ID)
	require.NoError(t, err)
	assert.False(t, result.Promoted)

	_, err = env.svc.Waitlist.Promote(context.Background(), 404)
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}
