package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/internal/repository"
	"slotbook/internal/service"
)

func newGenerator(fill float64) *SessionGenerator {
	return &SessionGenerator{
		services:  service.NewServices(service.Deps{Store: repository.NewMemoryStore()}, service.Options{}),
		rnd:       rand.New(rand.NewSource(42)),
		fill:      fill,
		waitlist:  2,
		startFrom: time.Now().Add(24 * time.Hour),
	}
}

func TestGenerateFullSessionsGetWaitlists(t *testing.T) {
	g := newGenerator(1)
	ctx := context.Background()

	stats, err := g.Generate(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Sessions)
	assert.Equal(t, 6, stats.Waitlisted)
	assert.Positive(t, stats.Bookings)

	for _, id := range stats.SessionIDs {
		occ, err := g.services.Sessions.Occupancy(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, occ.MaxCapacity, occ.OccupiedSeats)
		assert.Equal(t, 2, occ.WaitlistLength)

		audit, err := g.services.Sessions.Audit(ctx, id)
		require.NoError(t, err)
		assert.True(t, audit.Consistent)
	}
}

func TestGeneratePartialFillSkipsWaitlist(t *testing.T) {
	g := newGenerator(0.5)

	stats, err := g.Generate(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, stats.Waitlisted)

	occ, err := g.services.Sessions.Occupancy(context.Background(), stats.SessionIDs[0])
	require.NoError(t, err)
	assert.Equal(t, occ.MaxCapacity/2, occ.OccupiedSeats)
}
