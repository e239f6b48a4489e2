// Package app connects the configured infrastructure and builds the engine on top of it. Both the
// API server and the consumers process start from here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"slotbook/internal/cache"
	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/external"
	"slotbook/internal/logger"
	"slotbook/internal/messaging"
	"slotbook/internal/repository"
	"slotbook/internal/search"
	"slotbook/internal/service"
)

type App struct {
	Config   *config.Config
	DB       *database.DB
	NATS     *messaging.NATSClient
	Cache    *cache.ValkeyClient
	History  *search.ElasticsearchClient
	Payments *external.PaymentClient
	Services *service.Services
}

// New connects everything cfg enables. Optional collaborators that are disabled stay nil and the
// engine runs without them.
func New(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var store repository.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Get().Warn("Using in-memory store, data is lost on restart")
		store = repository.NewMemoryStore()
	default:
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		if err := db.RunMigrations(); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		store = repository.NewPostgresStore(db)
	}

	deps := service.Deps{Store: store}

	if cfg.NATSEnabled {
		nc, err := messaging.NewNATSClient(cfg.NATS)
		if err != nil {
			return nil, err
		}
		a.NATS = nc
		deps.Publisher = nc
	} else {
		deps.Publisher = messaging.LogPublisher{Logger: logger.WithFields("component", "outbox")}
	}

	if cfg.ValkeyEnabled {
		vc, err := cache.NewValkeyClient(cfg.Valkey)
		if err != nil {
			return nil, err
		}
		a.Cache = vc
		deps.Cache = vc
	}

	if cfg.Elasticsearch.Enabled {
		es, err := search.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		a.History = es
		deps.History = es
	}

	if cfg.Payment.TeamSlug != "" {
		a.Payments = external.NewPaymentClient(cfg.Payment)
		deps.Payments = a.Payments
	} else {
		logger.Get().Warn("Payment gateway is not configured, refunds are disabled")
	}

	a.Services = service.NewServices(deps, service.Options{
		HoldTTL:            cfg.Engine.HoldTTL,
		RefundGraceWindow:  cfg.Engine.RefundGraceWindow,
		PaymentLinkBaseURL: cfg.Engine.PaymentLinkBaseURL,
		RefundConcurrency:  cfg.Engine.RefundConcurrency,
		OutboxMaxAttempts:  cfg.Engine.OutboxMaxAttempts,
		SweepBatchSize:     cfg.Engine.SweepBatchSize,
	})

	ok = true
	return a, nil
}

// EventPublisher returns NATS for events that need a consumer on the other side, or nil when NATS
// is disabled so callers apply the event themselves.
func (a *App) EventPublisher() service.Publisher {
	if a.NATS == nil {
		return nil
	}
	return a.NATS
}

// Health reports the state of every connected dependency.
func (a *App) Health(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status := map[string]string{"store": a.Config.StoreDriver}
	healthy := true

	if a.DB != nil {
		h := a.DB.HealthCheck(ctx)
		status["database"] = h.Status
		if h.Status != "healthy" {
			healthy = false
		}
	}
	if a.Cache != nil {
		status["cache"] = "healthy"
		if err := a.Cache.Ping(ctx); err != nil {
			status["cache"] = "unhealthy"
		}
	}
	if a.History != nil {
		status["history"] = "healthy"
		if err := a.History.HealthCheck(ctx); err != nil {
			status["history"] = "unhealthy"
		}
	}
	if a.NATS != nil {
		status["nats"] = "connected"
	}
	return status, healthy
}

// Close releases every connection. It is safe on a partially built App.
func (a *App) Close() {
	if a.NATS != nil {
		if err := a.NATS.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			slog.Error("Error closing cache connection", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
		}
	}
}
