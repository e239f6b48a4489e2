package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/app"
	"slotbook/internal/config"
	"slotbook/internal/logger"
	"slotbook/internal/models"
	"slotbook/internal/service"
)

var (
	sessionCount = flag.Int("sessions", 5, "Number of sessions to create")
	fillRatio    = flag.Float64("fill", 0.8, "Share of each session's seats to book, 0..1")
	waiters      = flag.Int("waitlist", 3, "Waitlist entries per session that ends up full")
	seed         = flag.Int64("seed", 0, "Random seed (0 = time based)")
	dryRun       = flag.Bool("dry-run", false, "Show what would be generated without making changes")
)

func main() {
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()
	log.Info("Starting session generator...")

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	gen := &SessionGenerator{
		rnd:       rand.New(rand.NewSource(*seed)),
		fill:      *fillRatio,
		waitlist:  *waiters,
		startFrom: time.Now().Add(24 * time.Hour),
	}

	if *dryRun {
		for i := 0; i < *sessionCount; i++ {
			capacity := gen.capacity()
			log.Info("[DRY RUN] Would create session", "capacity", capacity, "booked_seats", int(float64(capacity)*gen.fill))
		}
		return
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.Fatal("Failed to connect", "error", err)
	}
	defer a.Close()
	gen.services = a.Services

	stats, err := gen.Generate(context.Background(), *sessionCount)
	if err != nil {
		logger.Fatal("Failed to generate sessions", "error", err)
	}

	// flush the notifications the seed produced
	if _, err := a.Services.Outbox.DispatchPending(context.Background()); err != nil {
		log.Warn("Outbox dispatch failed", "error", err)
	}

	log.Info("Session generation completed successfully!",
		"sessions", stats.Sessions, "bookings", stats.Bookings, "waitlisted", stats.Waitlisted, "seed", *seed)
}

// SessionGenerator seeds sessions with bookings and waitlist entries through the engine, so every
// capacity rule applies to generated data too.
type SessionGenerator struct {
	services  *service.Services
	rnd       *rand.Rand
	fill      float64
	waitlist  int
	startFrom time.Time
	nextOwner int64
}

// Stats counts what Generate created.
type Stats struct {
	SessionIDs []int64
	Sessions   int
	Bookings   int
	Waitlisted int
}

func (g *SessionGenerator) capacity() int {
	return g.rnd.Intn(51) + 10
}

func (g *SessionGenerator) owner() (int64, models.Contact) {
	g.nextOwner++
	id := g.startFrom.Unix()%100_000*1000 + g.nextOwner
	tag := uuid.NewString()[:8]
	return id, models.Contact{
		Name:  fmt.Sprintf("Generated %d", id),
		Email: fmt.Sprintf("gen-%s@example.com", tag),
	}
}

func (g *SessionGenerator) Generate(ctx context.Context, n int) (*Stats, error) {
	stats := &Stats{}
	log := logger.WithContext(ctx)

	for i := 0; i < n; i++ {
		start := g.startFrom.Add(time.Duration(i) * 24 * time.Hour).Truncate(time.Hour)
		capacity := g.capacity()

		session, err := g.services.Sessions.CreateSession(ctx, &models.CreateSessionRequest{
			Title:       fmt.Sprintf("Generated session %d", i+1),
			StartsAt:    start,
			EndsAt:      start.Add(90 * time.Minute),
			MaxCapacity: capacity,
		})
		if err != nil {
			return stats, fmt.Errorf("failed to create session: %w", err)
		}
		stats.Sessions++
		stats.SessionIDs = append(stats.SessionIDs, session.ID)

		booked, err := g.book(ctx, session, int(float64(capacity)*g.fill))
		if err != nil {
			return stats, err
		}
		stats.Bookings += booked

		queued, err := g.queue(ctx, session)
		if err != nil {
			return stats, err
		}
		stats.Waitlisted += queued

		log.Info("Generated session", "session_id", session.ID, "capacity", capacity, "bookings", booked, "waitlisted", queued)
	}

	return stats, nil
}

// book registers owners with random guest counts until exactly target seats are taken.
func (g *SessionGenerator) book(ctx context.Context, session *models.Session, target int) (int, error) {
	booked, taken := 0, 0
	for taken < target {
		guests := g.rnd.Intn(3)
		if taken+1+guests > target {
			guests = target - taken - 1
		}

		ownerID, contact := g.owner()
		resp, err := g.services.Registrations.Register(ctx, ownerID, &models.RegisterRequest{
			SessionIDs: []int64{session.ID},
			GuestCount: guests,
			Contact:    contact,
		})
		if err != nil {
			return booked, fmt.Errorf("failed to register: %w", err)
		}
		if out := resp.Outcomes[0]; out.Status != models.OutcomeConfirmed {
			return booked, fmt.Errorf("registration for session %d failed: %s", session.ID, out.Error)
		}
		booked++
		taken += 1 + guests
	}
	return booked, nil
}

// queue adds waitlist entries only when the session is full; the engine rejects them otherwise.
func (g *SessionGenerator) queue(ctx context.Context, session *models.Session) (int, error) {
	occ, err := g.services.Sessions.Occupancy(ctx, session.ID)
	if err != nil {
		return 0, err
	}
	if occ.FreeSeats-occ.PendingHoldSeats > 0 {
		return 0, nil
	}

	for i := 0; i < g.waitlist; i++ {
		ownerID, contact := g.owner()
		if _, err := g.services.Waitlist.Join(ctx, ownerID, &models.JoinWaitlistRequest{
			SessionID: session.ID,
			Contact:   contact,
		}); err != nil {
			return i, fmt.Errorf("failed to join waitlist: %w", err)
		}
	}
	return g.waitlist, nil
}
