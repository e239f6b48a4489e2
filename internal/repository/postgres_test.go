package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/internal/database"
	"slotbook/internal/models"
)

// newPostgresStore connects to TEST_DATABASE_URL and applies the schema. Tests create their own
// sessions and never clean up, so they can share a database with earlier runs.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := database.ConnectURL(url, 10)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations())
	return NewPostgresStore(db)
}

func newPostgresSession(t *testing.T, store Store, capacity int) *models.Session {
	t.Helper()
	start := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	s := &models.Session{
		Title:       "Session",
		StartsAt:    start,
		EndsAt:      start.Add(2 * time.Hour),
		MaxCapacity: capacity,
	}
	err := store.InTx(context.Background(), func(ctx context.Context, repos *Repositories) error {
		return repos.Sessions.Create(ctx, s)
	})
	require.NoError(t, err)
	return s
}

func TestPostgresAdjustOccupiedStaysWithinCapacity(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	session := newPostgresSession(t, store, 3)

	err := store.InTx(ctx, func(ctx context.Context, repos *Repositories) error {
		locked, err := repos.Sessions.Lock(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, locked)
		assert.Equal(t, 0, locked.OccupiedSeats)

		ok, err := repos.Sessions.AdjustOccupied(ctx, session.ID, 2)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repos.Sessions.AdjustOccupied(ctx, session.ID, 2)
		require.NoError(t, err)
		assert.False(t, ok, "over capacity")

		ok, err = repos.Sessions.AdjustOccupied(ctx, session.ID, -3)
		require.NoError(t, err)
		assert.False(t, ok, "below zero")

		require.NoError(t, repos.Sessions.ReleaseOccupied(ctx, session.ID, 5))

		missing, err := repos.Sessions.Lock(ctx, -1)
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	})
	require.NoError(t, err)

	err = store.InTx(ctx, func(ctx context.Context, repos *Repositories) error {
		s, err := repos.Sessions.GetByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, s.OccupiedSeats)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresBookingLifecycle(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	session := newPostgresSession(t, store, 10)
	expired := time.Now().Add(-time.Minute).UTC()

	confirmed := &models.Booking{SessionID: session.ID, OwnerID: 1, GuestCount: 2, Status: models.BookingConfirmed,
		Contact: models.Contact{Name: "Ann", Email: "ann@example.com"}}
	held := &models.Booking{SessionID: session.ID, OwnerID: 2, Status: models.BookingPendingPayment, PendingPaymentExpiresAt: &expired}

	err := store.InTx(ctx, func(ctx context.Context, repos *Repositories) error {
		require.NoError(t, repos.Bookings.Create(ctx, confirmed))
		require.NoError(t, repos.Bookings.Create(ctx, held))

		seats, err := repos.Bookings.ConfirmedSeats(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, seats)

		holds, err := repos.Bookings.PendingHoldSeats(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, holds)

		due, err := repos.Bookings.ListExpiredPending(ctx, time.Now(), 10_000)
		require.NoError(t, err)
		var ids []int64
		for _, b := range due {
			ids = append(ids, b.ID)
		}
		assert.Contains(t, ids, held.ID)
		return nil
	})
	require.NoError(t, err)

	ref := "pay-" + uuid.NewString()
	err = store.InTx(ctx, func(ctx context.Context, repos *Repositories) error {
		b, err := repos.Bookings.GetByOwner(ctx, session.ID, 1)
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, "ann@example.com", b.Contact.Email)
		assert.Nil(t, b.PaymentReference)

		cancelledAt := time.Now().UTC()
		b.Status = models.BookingCancelled
		b.CancelledAt = &cancelledAt
		b.PaymentReference = &ref
		require.NoError(t, repos.Bookings.Update(ctx, b))

		refundable, err := repos.Bookings.ListRefundable(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, refundable, 1)
		assert.Equal(t, ref, *refundable[0].PaymentReference)
		assert.NotNil(t, refundable[0].CancelledAt)
		return nil
	})
	require.NoError(t, err)

	// one booking per owner and session
	err = store.InTx(ctx, func(ctx context.Context, repos *Repositories) error {
		return repos.Bookings.Create(ctx, &models.Booking{SessionID: session.ID, OwnerID: 1, Status: models.BookingConfirmed})
	})
	assert.True(t, IsDuplicate(err))
}

func TestPostgresWaitlistQueue(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	session := newPostgresSession(t, store, 1)

	booking := &models.Booking{SessionID: session.ID, OwnerID: 10, Status: models.BookingConfirmed}
	err := store.InTx(ctx, func(ctx context.Context, repos *Repositories) error {
		require.NoError(t, repos.Bookings.Create(ctx, booking))

		ref := "fee-" + uuid.NewString()
		guests := &models.WaitlistEntry{SessionID: session.ID, OwnerID: 10, BookingID: &booking.ID, GuestCount: 2, PaymentReference: &ref}
		require.NoError(t, repos.Waitlist.Create(ctx, guests))
		assert.Equal(t, 1, guests.Position)

		for i, owner := range []int64{11, 12} {
			entry := &models.WaitlistEntry{SessionID: session.ID, OwnerID: owner, GuestCount: 1}
			require.NoError(t, repos.Waitlist.Create(ctx, entry))
			assert.Equal(t, i+2, entry.Position)
		}
		return nil
	})
	require.NoError(t, err)

	err = store.InTx(ctx, func(ctx context.Context, repos *Repositories) error {
		head, err := repos.Waitlist.FirstEligible(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, int64(11), head.OwnerID, "new-spot entries come first")
		assert.Nil(t, head.BookingID)

		entries, err := repos.Waitlist.ListBySession(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, int64(12), entries[1].OwnerID)
		require.NotNil(t, entries[2].BookingID)
		assert.Equal(t, booking.ID, *entries[2].BookingID)

		guests, err := repos.Waitlist.GetAddGuest(ctx, session.ID, booking.ID)
		require.NoError(t, err)
		require.NotNil(t, guests)
		guests.GuestCount = 1
		require.NoError(t, repos.Waitlist.Update(ctx, guests))

		require.NoError(t, repos.Waitlist.Delete(ctx, head.ID))
		n, err := repos.Waitlist.Count(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		spot, err := repos.Waitlist.GetNewSpot(ctx, session.ID, 12)
		require.NoError(t, err)
		require.NotNil(t, spot)
		return nil
	})
	require.NoError(t, err)

	err = store.InTx(ctx, func(ctx context.Context, repos *Repositories) error {
		return repos.Waitlist.Create(ctx, &models.WaitlistEntry{SessionID: session.ID, OwnerID: 12, GuestCount: 1})
	})
	assert.True(t, IsDuplicate(err), "one new-spot entry per owner")
}

func TestPostgresRefundLedgerIgnoresKnownReferences(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	session := newPostgresSession(t, store, 1)
	ref := "pay-" + uuid.NewString()

	err := store.InTx(ctx, func(ctx context.Context, repos *Repositories) error {
		first := &models.Refund{SessionID: session.ID, PaymentReference: ref, Source: models.RefundSourceBooking,
			SourceID: 1, Status: models.RefundStatusPending, IdempotencyKey: uuid.NewString()}
		created, err := repos.Refunds.Create(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)

		again := &models.Refund{SessionID: session.ID, PaymentReference: ref, Source: models.RefundSourceWaitlist,
			SourceID: 2, Status: models.RefundStatusPending, IdempotencyKey: uuid.NewString()}
		created, err = repos.Refunds.Create(ctx, again)
		require.NoError(t, err)
		assert.False(t, created)

		open, err := repos.Refunds.ListOpen(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, models.RefundSourceBooking, open[0].Source)

		open[0].Status = models.RefundStatusSucceeded
		open[0].Attempts = 1
		require.NoError(t, repos.Refunds.Update(ctx, &open[0]))

		open, err = repos.Refunds.ListOpen(ctx, session.ID)
		require.NoError(t, err)
		assert.Empty(t, open)

		stored, err := repos.Refunds.GetByReference(ctx, ref)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, first.IdempotencyKey, stored.IdempotencyKey)
		assert.Equal(t, 1, stored.Attempts)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresOutboxMarksAttempts(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	session := newPostgresSession(t, store, 1)

	sent := &models.Notification{ID: uuid.NewString(), Kind: models.NotifyBookingCancelled, Recipient: "a@example.com",
		SessionID: session.ID, Payload: []byte(`{"seats":2}`)}
	failed := &models.Notification{ID: uuid.NewString(), Kind: models.NotifyHoldExpired, Recipient: "b@example.com",
		SessionID: session.ID, Payload: []byte(`{}`)}

	err := store.InTx(ctx, func(ctx context.Context, repos *Repositories) error {
		require.NoError(t, repos.Outbox.Enqueue(ctx, sent))
		require.NoError(t, repos.Outbox.Enqueue(ctx, failed))
		require.NoError(t, repos.Outbox.MarkDispatched(ctx, sent.ID, time.Now()))
		require.NoError(t, repos.Outbox.MarkFailed(ctx, failed.ID, "nats unavailable"))

		got, err := repos.Outbox.GetByIDs(ctx, []string{sent.ID, failed.ID})
		require.NoError(t, err)
		require.Len(t, got, 2)

		byID := map[string]models.Notification{}
		for _, n := range got {
			byID[n.ID] = n
		}
		assert.NotNil(t, byID[sent.ID].DispatchedAt)
		assert.JSONEq(t, `{"seats":2}`, string(byID[sent.ID].Payload))
		assert.Nil(t, byID[failed.ID].DispatchedAt)
		require.NotNil(t, byID[failed.ID].LastError)
		assert.Equal(t, "nats unavailable", *byID[failed.ID].LastError)
		assert.Equal(t, 1, byID[failed.ID].Attempts)
		return nil
	})
	require.NoError(t, err)
}
