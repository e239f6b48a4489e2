package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbook/internal/models"
)

func TestOutboxRelayDeliversAfterPublisherRecovers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.createSession(t, 5)
	subject := "notification." + models.NotifyRegistrationBatch

	env.publisher.SetFail(true)
	env.register(t, 1, session.ID, 0)
	assert.Zero(t, env.publisher.Count(subject))

	env.publisher.SetFail(false)
	result, err := env.svc.Outbox.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, env.publisher.Count(subject))

	result, err = env.svc.Outbox.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestOutboxGivesUpAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := NewServices(Deps{Store: env.store, Publisher: env.publisher}, Options{
		OutboxMaxAttempts: 2,
		Now:               env.clock.Now,
	})

	session, err := svc.Sessions.CreateSession(ctx, &models.CreateSessionRequest{
		Title:       "Evening session",
		StartsAt:    env.clock.Now().Add(48 * time.Hour),
		EndsAt:      env.clock.Now().Add(50 * time.Hour),
		MaxCapacity: 3,
	})
	require.NoError(t, err)

	env.publisher.SetFail(true)
	_, err = svc.Registrations.Register(ctx, 1, &models.RegisterRequest{SessionIDs: []int64{session.ID}, Contact: contactFor(1)})
	require.NoError(t, err)

	result, err := svc.Outbox.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Len(t, result.Errors, 1)

	env.publisher.SetFail(false)
	result, err = svc.Outbox.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, env.publisher.Subjects())
}

func TestOutboxWithoutPublisherIsNoop(t *testing.T) {
	env := newTestEnv(t)
	svc := NewServices(Deps{Store: env.store}, Options{Now: env.clock.Now})

	result, err := svc.Outbox.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}
