package consumers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nats-io/stan.go"

	"slotbook/internal/app"
	"slotbook/internal/config"
	"slotbook/internal/models"
)

const queueGroup = "consumers"

type ConsumerService struct {
	app      *app.App
	handlers *Handlers
	subs     []stan.Subscription
}

func NewConsumerService(cfg *config.Config) (*ConsumerService, error) {
	if !cfg.NATSEnabled {
		return nil, errors.New("consumers need NATS_ENABLED=true")
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}

	return &ConsumerService{
		app:      a,
		handlers: NewHandlers(a.Services.Payments, cfg.RequestTimeout),
	}, nil
}

// App exposes the wired engine to the background jobs.
func (cs *ConsumerService) App() *app.App {
	return cs.app
}

func (cs *ConsumerService) Start() error {
	slog.Info("Starting NATS consumers...")

	sub, err := cs.app.NATS.SubscribeQueue(models.SubjectPaymentCompleted, queueGroup, cs.handlers.HandlePaymentCompleted)
	if err != nil {
		return err
	}
	cs.subs = append(cs.subs, sub)

	for _, kind := range NotificationKinds {
		sub, err := cs.app.NATS.SubscribeQueue(models.SubjectNotificationPrefix+kind, queueGroup, cs.handlers.HandleNotification)
		if err != nil {
			return err
		}
		cs.subs = append(cs.subs, sub)
	}

	slog.Info("All consumers started successfully", "subscriptions", len(cs.subs))
	return nil
}

func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down consumer service...")

	// Close rather than Unsubscribe keeps the durable position
	for _, sub := range cs.subs {
		if err := sub.Close(); err != nil {
			slog.Error("Error closing subscription", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		cs.app.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
