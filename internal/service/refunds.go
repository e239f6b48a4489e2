package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"slotbook/internal/logger"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/repository"
)

// ErrNoPaymentGateway is returned by the refund sweep when no gateway client is configured.
var ErrNoPaymentGateway = errors.New("payment gateway is not configured")

// RefundService pays back references that never turned into a seat once their session has ended.
type RefundService struct {
	*core
}

// SweepRefunds processes every ended session that has not been swept yet. Refund calls are
// independent: one failure is recorded and the others proceed. A session is marked swept only
// when all of its refunds succeeded, so failures are retried on the next run.
func (s *RefundService) SweepRefunds(ctx context.Context) (*models.SweepResult, error) {
	if s.payment == nil {
		return nil, ErrNoPaymentGateway
	}

	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("refund").Observe(time.Since(start).Seconds())
	}()

	now := s.now()
	var sessions []models.Session
	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		sessions, err = repos.Sessions.ListEndedUnswept(ctx, now, s.opts.SweepBatchSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ended sessions: %w", err)
	}

	result := &models.SweepResult{}
	for _, session := range sessions {
		s.sweepSession(ctx, session, now, result)
	}
	return result, nil
}

func (s *RefundService) sweepSession(ctx context.Context, session models.Session, now time.Time, result *models.SweepResult) {
	log := logger.WithContext(ctx).With("session_id", session.ID)

	open, err := s.collect(ctx, session)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("session %d: %v", session.ID, err))
		return
	}

	var (
		mu     sync.Mutex
		failed int
		g      errgroup.Group
	)
	g.SetLimit(s.opts.RefundConcurrency)

	for _, rf := range open {
		g.Go(func() error {
			err := s.refundOne(ctx, rf)

			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			if err != nil {
				failed++
				result.Errors = append(result.Errors, fmt.Sprintf("session %d: %v", session.ID, err))
				return nil
			}
			result.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	if failed > 0 {
		log.Warn("Refund sweep left failures for the next run", "failed", failed, "total", len(open))
		return
	}

	err = s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		return repos.Sessions.MarkRefundSwept(ctx, session.ID, now)
	})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("session %d: failed to mark swept: %v", session.ID, err))
		return
	}
	log.Info("Session refunds completed", "refunds", len(open))
}

// collect writes every refundable reference of the session into the refund ledger and returns the
// rows that still need a gateway call.
func (s *RefundService) collect(ctx context.Context, session models.Session) ([]models.Refund, error) {
	var open []models.Refund

	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		bookings, err := repos.Bookings.ListRefundable(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("failed to list cancelled bookings: %w", err)
		}
		for _, b := range bookings {
			if s.forfeited(&session, &b) {
				continue
			}
			if err := s.queueRefund(ctx, repos, session.ID, b.PaymentReference, models.RefundSourceBooking, b.ID); err != nil {
				return err
			}
		}

		entries, err := repos.Waitlist.ListBySession(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("failed to list waitlist: %w", err)
		}
		for _, e := range entries {
			if err := s.queueRefund(ctx, repos, session.ID, e.PaymentReference, models.RefundSourceWaitlist, e.ID); err != nil {
				return err
			}
		}

		open, err = repos.Refunds.ListOpen(ctx, session.ID)
		return err
	})
	return open, err
}

// refundOne calls the gateway and records the outcome on the refund row.
func (s *RefundService) refundOne(ctx context.Context, rf models.Refund) error {
	callErr := s.payment.Refund(ctx, rf.PaymentReference, "session ended: "+rf.Source, rf.IdempotencyKey)

	err := s.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		current, err := repos.Refunds.GetByReference(ctx, rf.PaymentReference)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("refund row for %s disappeared", rf.PaymentReference)
		}
		current.Attempts++
		if callErr != nil {
			msg := callErr.Error()
			current.Status = models.RefundStatusFailed
			current.LastError = &msg
		} else {
			current.Status = models.RefundStatusSucceeded
			current.LastError = nil
		}
		return repos.Refunds.Update(ctx, current)
	})

	if callErr != nil {
		metrics.Refunds.WithLabelValues("failed").Inc()
		return fmt.Errorf("refund %s: %w", rf.PaymentReference, callErr)
	}
	metrics.Refunds.WithLabelValues("succeeded").Inc()
	if err != nil {
		return fmt.Errorf("refund %s succeeded but was not recorded: %w", rf.PaymentReference, err)
	}
	return nil
}

// forfeited reports a booking cancelled inside the grace window before its session started. The
// payment of a forfeited seat is kept.
func (c *core) forfeited(session *models.Session, b *models.Booking) bool {
	cutoff := session.StartsAt.Add(-c.opts.RefundGraceWindow)
	return b.CancelledAt != nil && !b.CancelledAt.Before(cutoff)
}
