package service

import (
	"context"
	"fmt"
	"time"

	"slotbook/internal/logger"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/repository"
)

// OutboxService publishes notifications written by committed transactions. A row is retried by the
// relay until it is dispatched or runs out of attempts.
type OutboxService struct {
	store       repository.Store
	publisher   Publisher
	maxAttempts int
	batchSize   int
	now         func() time.Time
}

// Dispatch publishes the given notifications right after the transaction that wrote them.
func (s *OutboxService) Dispatch(ctx context.Context, ids []string) (*models.SweepResult, error) {
	if s.publisher == nil || len(ids) == 0 {
		return &models.SweepResult{}, nil
	}

	var pending []models.Notification
	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		pending, err = repos.Outbox.GetByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	return s.deliver(ctx, pending), nil
}

// DispatchPending is the relay: it retries notifications that were not dispatched yet.
func (s *OutboxService) DispatchPending(ctx context.Context) (*models.SweepResult, error) {
	if s.publisher == nil {
		return &models.SweepResult{}, nil
	}

	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("outbox").Observe(time.Since(start).Seconds())
	}()

	var pending []models.Notification
	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		pending, err = repos.Outbox.ListUndispatched(ctx, s.maxAttempts, s.batchSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list undispatched notifications: %w", err)
	}
	return s.deliver(ctx, pending), nil
}

func (s *OutboxService) deliver(ctx context.Context, pending []models.Notification) *models.SweepResult {
	result := &models.SweepResult{}

	for i := range pending {
		n := &pending[i]
		if n.DispatchedAt != nil {
			continue
		}
		result.Processed++

		pubErr := s.publisher.Publish(n.Subject(), n)
		err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
			if pubErr != nil {
				return repos.Outbox.MarkFailed(ctx, n.ID, pubErr.Error())
			}
			return repos.Outbox.MarkDispatched(ctx, n.ID, s.now())
		})

		switch {
		case pubErr != nil:
			metrics.Notifications.WithLabelValues("failed").Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("notification %s: %v", n.ID, pubErr))
		case err != nil:
			// published but not marked: the relay may publish it again
			metrics.Notifications.WithLabelValues("unmarked").Inc()
			logger.WithContext(ctx).Warn("Failed to mark notification dispatched", "error", err, "id", n.ID)
			result.Succeeded++
		default:
			metrics.Notifications.WithLabelValues("dispatched").Inc()
			result.Succeeded++
		}
	}

	return result
}
