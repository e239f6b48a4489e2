package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/service"
)

// SweepFunc runs one pass of a background sweep.
type SweepFunc func(ctx context.Context) (*models.SweepResult, error)

// PeriodicJob runs a sweep on a ticker. Passes run on one goroutine, so they never overlap; ticks
// missed during a long pass are dropped by the ticker.
type PeriodicJob struct {
	name     string
	interval time.Duration
	sweep    SweepFunc
	ticker   *time.Ticker
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewPeriodicJob creates a job that calls sweep every interval
func NewPeriodicJob(name string, interval time.Duration, sweep SweepFunc) *PeriodicJob {
	return &PeriodicJob{
		name:     name,
		interval: interval,
		sweep:    sweep,
		done:     make(chan struct{}),
	}
}

// Start begins the background job. The first pass runs immediately.
func (j *PeriodicJob) Start(ctx context.Context) {
	slog.Info("Starting background job", "job", j.name, "interval", j.interval.String())

	j.ticker = time.NewTicker(j.interval)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.runOnce(ctx)
		for {
			select {
			case <-j.ticker.C:
				j.runOnce(ctx)
			case <-j.done:
				slog.Info("Background job stopped", "job", j.name)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully stops the background job and waits for a running pass
func (j *PeriodicJob) Stop() {
	if j.ticker != nil {
		j.ticker.Stop()
	}
	close(j.done)
	j.wg.Wait()
}

func (j *PeriodicJob) runOnce(ctx context.Context) {
	result, err := j.sweep(ctx)
	if errors.Is(err, service.ErrNoPaymentGateway) {
		slog.Debug("Sweep skipped", "job", j.name, "reason", err.Error())
		return
	}
	if err != nil {
		metrics.SweepRuns.WithLabelValues(j.name, "error").Inc()
		slog.Error("Sweep failed", "job", j.name, "error", err)
		return
	}

	metrics.SweepRuns.WithLabelValues(j.name, "ok").Inc()
	if result == nil || result.Processed == 0 {
		slog.Debug("Nothing to sweep", "job", j.name)
		return
	}
	slog.Info("Sweep completed",
		"job", j.name,
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"errors", len(result.Errors))
}

// EngineJobs builds the expiry sweep, the refund sweep and the outbox relay.
func EngineJobs(services *service.Services, expiry, refunds, outbox time.Duration) []*PeriodicJob {
	return []*PeriodicJob{
		NewPeriodicJob("expiry", expiry, func(ctx context.Context) (*models.SweepResult, error) {
			res, err := services.Payments.SweepExpired(ctx)
			if err != nil {
				return nil, err
			}
			return &res.SweepResult, nil
		}),
		NewPeriodicJob("refunds", refunds, services.Refunds.SweepRefunds),
		NewPeriodicJob("outbox", outbox, services.Outbox.DispatchPending),
	}
}
