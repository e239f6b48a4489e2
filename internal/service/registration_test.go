package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/models"
)

func TestRegisterConfirmsAndChargesSeats(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t, 5)

	bookingID := env.register(t, 1, session.ID, 2)

	b := env.booking(t, bookingID)
	assert.Equal(t, models.BookingConfirmed, b.Status)
	assert.Equal(t, 2, b.GuestCount)
	assert.Nil(t, b.PendingPaymentExpiresAt)

	occ := env.occupancy(t, session.ID)
	assert.Equal(t, 3, occ.OccupiedSeats)
	assert.Equal(t, 2, occ.FreeSeats)
	env.requireConsistent(t, session.ID)
}

func TestRegisterIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t, 5)
	first := env.register(t, 1, session.ID, 1)

	resp, err := env.svc.Registrations.Register(context.Background(), 1, &models.RegisterRequest{
		SessionIDs: []int64{session.ID},
		GuestCount: 1,
		Contact:    contactFor(1),
	})
	require.NoError(t, err)
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, models.OutcomeAlreadyConfirmed, resp.Outcomes[0].Status)
	assert.Equal(t, first, resp.Outcomes[0].BookingID)

	assert.Equal(t, 2, env.occupancy(t, session.ID).OccupiedSeats)
	env.requireConsistent(t, session.ID)
}

func TestRegisterRejectsWhenFull(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t, 3)
	env.register(t, 1, session.ID, 0)

	resp, err := env.svc.Registrations.Register(context.Background(), 2, &models.RegisterRequest{
		SessionIDs: []int64{session.ID},
		GuestCount: 4,
		Contact:    contactFor(2),
	})
	require.NoError(t, err)
	outcome := resp.Outcomes[0]
	assert.Equal(t, models.OutcomeFailed, outcome.Status)
	assert.True(t, errors.Is(outcome.Err(), apperrors.ErrSessionFull))

	var capErr *apperrors.CapacityError
	require.True(t, errors.As(outcome.Err(), &capErr))
	assert.Equal(t, 5, capErr.Requested)
	assert.Equal(t, 2, capErr.Available)
	assert.Contains(t, outcome.Error, "only 2 left")

	// no implicit waitlist join
	assert.Empty(t, env.queue(t, session.ID))
	assert.Equal(t, 1, env.occupancy(t, session.ID).OccupiedSeats)
}

func TestRegisterBatchReportsEachSession(t *testing.T) {
	env := newTestEnv(t)
	open := env.createSession(t, 4)
	full := env.createSession(t, 1)
	env.register(t, 9, full.ID, 0)

	resp, err := env.svc.Registrations.Register(context.Background(), 1, &models.RegisterRequest{
		SessionIDs: []int64{open.ID, full.ID, open.ID},
		Contact:    contactFor(1),
	})
	require.NoError(t, err)
	require.Len(t, resp.Outcomes, 2)
	assert.Equal(t, models.OutcomeConfirmed, resp.Outcomes[0].Status)
	assert.Equal(t, models.OutcomeFailed, resp.Outcomes[1].Status)
	assert.True(t, errors.Is(resp.Outcomes[1].Err(), apperrors.ErrSessionFull))

	// one aggregated notification per batch
	assert.Equal(t, 2, env.publisher.Count("notification."+models.NotifyRegistrationBatch))
}

func TestRegisterValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t, 5)

	_, err := env.svc.Registrations.Register(context.Background(), 1, &models.RegisterRequest{
		SessionIDs: []int64{session.ID},
		GuestCount: 11,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidGuestCount)

	resp, err := env.svc.Registrations.Register(context.Background(), 1, &models.RegisterRequest{
		SessionIDs: []int64{999},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, resp.Outcomes[0].Err(), apperrors.ErrSessionNotFound)
}

func TestRegisterRejectsPendingHoldOwner(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t, 1)
	holder := env.register(t, 1, session.ID, 0)
	env.join(t, 2, session.ID)

	_, err := env.svc.Registrations.Cancel(context.Background(), 1, holder)
	require.NoError(t, err)
	require.Equal(t, models.BookingPendingPayment, env.bookingOf(t, session.ID, 2).Status)

	resp, err := env.svc.Registrations.Register(context.Background(), 2, &models.RegisterRequest{
		SessionIDs: []int64{session.ID},
		Contact:    contactFor(2),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, resp.Outcomes[0].Err(), apperrors.ErrAlreadyPending)
}

func TestRegisterReactivatesCancelledBooking(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t, 5)
	bookingID := env.register(t, 1, session.ID, 0, "pay-old")

	_, err := env.svc.Registrations.Cancel(context.Background(), 1, bookingID)
	require.NoError(t, err)
	assert.Equal(t, 0, env.occupancy(t, session.ID).OccupiedSeats)

	again := env.register(t, 1, session.ID, 2, "pay-new")
	assert.Equal(t, bookingID, again)

	b := env.booking(t, again)
	assert.Equal(t, models.BookingConfirmed, b.Status)
	assert.Nil(t, b.CancelledAt)
	require.NotNil(t, b.PaymentReference)
	assert.Equal(t, "pay-new", *b.PaymentReference)
	assert.Equal(t, 3, env.occupancy(t, session.ID).OccupiedSeats)

	rf := env.refund(t, "pay-old")
	require.NotNil(t, rf)
	assert.Equal(t, models.RefundSourceReactivation, rf.Source)
	env.requireConsistent(t, session.ID)
}

func TestReactivationKeepsForfeitedPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.createSession(t, 1)
	bookingID := env.register(t, 1, session.ID, 0, "pay-forfeit")

	// one hour before start is inside the two hour grace window
	env.clock.Advance(session.StartsAt.Sub(env.clock.Now()) - time.Hour)
	_, err := env.svc.Registrations.Cancel(ctx, 1, bookingID)
	require.NoError(t, err)

	again := env.register(t, 1, session.ID, 0, "pay-again")
	assert.Equal(t, bookingID, again)
	assert.Nil(t, env.refund(t, "pay-forfeit"))

	// a promotion reusing the forfeited row does not refund it either
	_, err = env.svc.Registrations.Cancel(ctx, 1, again)
	require.NoError(t, err)
	other := env.register(t, 2, session.ID, 0, "pay-other")
	env.join(t, 1, session.ID)
	resp, err := env.svc.Registrations.Cancel(ctx, 2, other)
	require.NoError(t, err)
	require.NotNil(t, resp.PromotedBookingID)
	assert.Equal(t, again, *resp.PromotedBookingID)

	b := env.booking(t, again)
	assert.Equal(t, models.BookingPendingPayment, b.Status)
	assert.Nil(t, env.refund(t, "pay-again"))
	assert.Nil(t, env.refund(t, "pay-other"))
	env.requireConsistent(t, session.ID)
}

func TestRegisterRemovesOwnersWaitlistEntry(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t, 3)
	holder := env.register(t, 1, session.ID, 2)
	env.join(t, 2, session.ID)
	env.join(t, 3, session.ID)

	// three seats free up but a cancellation promotes only once
	resp, err := env.svc.Registrations.Cancel(context.Background(), 1, holder)
	require.NoError(t, err)
	require.True(t, resp.Promoted)
	require.Len(t, env.queue(t, session.ID), 1)

	bookingID := env.register(t, 3, session.ID, 0)

	assert.Empty(t, env.queue(t, session.ID))
	assert.Equal(t, models.BookingConfirmed, env.booking(t, bookingID).Status)
	occ := env.occupancy(t, session.ID)
	assert.Equal(t, 1, occ.OccupiedSeats)
	assert.Equal(t, 1, occ.PendingHoldSeats)
}

func TestCancelRequiresOwnedConfirmedBooking(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t, 5)
	bookingID := env.register(t, 1, session.ID, 0)

	_, err := env.svc.Registrations.Cancel(context.Background(), 2, bookingID)
	assert.ErrorIs(t, err, apperrors.ErrNotFoundOrUnauthorized)

	_, err = env.svc.Registrations.Cancel(context.Background(), 1, bookingID)
	require.NoError(t, err)

	_, err = env.svc.Registrations.Cancel(context.Background(), 1, bookingID)
	assert.ErrorIs(t, err, apperrors.ErrNotFoundOrUnauthorized)
}
