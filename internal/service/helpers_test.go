package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"slotbook/internal/database"
	"slotbook/internal/models"
	"slotbook/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type published struct {
	subject string
	data    interface{}
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	fail bool
}

func (p *fakePublisher) Publish(subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("nats unavailable")
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func (p *fakePublisher) SetFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

func (p *fakePublisher) Subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.subject
	}
	return out
}

func (p *fakePublisher) Count(subject string) int {
	n := 0
	for _, s := range p.Subjects() {
		if s == subject {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu        sync.Mutex
	refunds   []string
	failing   map[string]bool
	confirmed map[string]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failing: map[string]bool{}, confirmed: map[string]bool{}}
}

func (g *fakeGateway) Refund(_ context.Context, paymentID, _, idempotencyKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if idempotencyKey == "" {
		return errors.New("missing idempotency key")
	}
	if g.failing[paymentID] {
		return fmt.Errorf("gateway rejected %s", paymentID)
	}
	g.refunds = append(g.refunds, paymentID)
	return nil
}

func (g *fakeGateway) IsConfirmed(_ context.Context, paymentID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.confirmed[paymentID], nil
}

func (g *fakeGateway) SetFailing(paymentID string, fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing[paymentID] = fail
}

func (g *fakeGateway) Refunded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refunds...)
}

type fakeHistory struct {
	mu          sync.Mutex
	transitions []models.Transition
}

func (h *fakeHistory) Record(_ context.Context, t models.Transition) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transitions = append(h.transitions, t)
	return nil
}

func (h *fakeHistory) History(_ context.Context, bookingID int64) ([]models.Transition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.Transition
	for _, t := range h.transitions {
		if t.BookingID != nil && *t.BookingID == bookingID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[int64]models.Occupancy
	versions    map[int64]int64
	invalidated []int64
	// onMiss runs after a miss was reported, before the caller reads the store
	onMiss func(sessionID int64)
}

func (c *fakeCache) GetOccupancy(_ context.Context, sessionID int64) (*models.Occupancy, int64, error) {
	c.mu.Lock()
	occ, ok := c.entries[sessionID]
	version := c.versions[sessionID]
	onMiss := c.onMiss
	c.mu.Unlock()

	if ok {
		return &occ, version, nil
	}
	if onMiss != nil {
		onMiss(sessionID)
	}
	return nil, version, nil
}

func (c *fakeCache) SetOccupancy(_ context.Context, occ *models.Occupancy, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[occ.SessionID] != version {
		return nil
	}
	c.entries[occ.SessionID] = *occ
	return nil
}

func (c *fakeCache) InvalidateOccupancy(_ context.Context, sessionIDs ...int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range sessionIDs {
		delete(c.entries, id)
		c.versions[id]++
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

func (c *fakeCache) cached(sessionID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[sessionID]
	return ok
}

type testEnv struct {
	svc       *Services
	store     repository.Store
	clock     *testClock
	publisher *fakePublisher
	gateway   *fakeGateway
	history   *fakeHistory
	cache     *fakeCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryStore()
	store.SetClock(clock.Now)
	return newEnvWithStore(store, clock)
}

// newPostgresEnv runs the engine on the database named by TEST_DATABASE_URL. Every test creates its
// own sessions, so runs may share a database.
func newPostgresEnv(t *testing.T) *testEnv {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := database.ConnectURL(url, 25)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations())

	// rows are stamped by Postgres, so the engine clock has to follow the wall clock
	clock := &testClock{t: time.Now().UTC().Truncate(time.Second)}
	return newEnvWithStore(repository.NewPostgresStore(db), clock)
}

func newEnvWithStore(store repository.Store, clock *testClock) *testEnv {
	env := &testEnv{
		store:     store,
		clock:     clock,
		publisher: &fakePublisher{},
		gateway:   newFakeGateway(),
		history:   &fakeHistory{},
		cache:     &fakeCache{entries: map[int64]models.Occupancy{}, versions: map[int64]int64{}},
	}
	env.svc = NewServices(Deps{
		Store:     store,
		Publisher: env.publisher,
		History:   env.history,
		Cache:     env.cache,
		Payments:  env.gateway,
	}, Options{
		HoldTTL:            24 * time.Hour,
		RefundGraceWindow:  2 * time.Hour,
		PaymentLinkBaseURL: "https://pay.example/checkout",
		RefundConcurrency:  3,
		Now:                clock.Now,
	})
	return env
}

// createSession starts three days after the test clock and lasts two hours.
func (e *testEnv) createSession(t *testing.T, capacity int) *models.Session {
	t.Helper()
	start := e.clock.Now().Add(72 * time.Hour)
	session, err := e.svc.Sessions.CreateSession(context.Background(), &models.CreateSessionRequest{
		Title:       "Morning session",
		StartsAt:    start,
		EndsAt:      start.Add(2 * time.Hour),
		MaxCapacity: capacity,
	})
	require.NoError(t, err)
	return session
}

func contactFor(ownerID int64) models.Contact {
	id := strconv.FormatInt(ownerID, 10)
	return models.Contact{Name: "Owner " + id, Email: "owner" + id + "@example.com"}
}

func (e *testEnv) register(t *testing.T, ownerID, sessionID int64, guests int, paymentRef ...string) int64 {
	t.Helper()
	req := &models.RegisterRequest{
		SessionIDs: []int64{sessionID},
		GuestCount: guests,
		Contact:    contactFor(ownerID),
	}
	if len(paymentRef) > 0 {
		req.PaymentReference = &paymentRef[0]
	}
	resp, err := e.svc.Registrations.Register(context.Background(), ownerID, req)
	require.NoError(t, err)
	require.Len(t, resp.Outcomes, 1)
	require.Equal(t, models.OutcomeConfirmed, resp.Outcomes[0].Status, resp.Outcomes[0].Error)
	return resp.Outcomes[0].BookingID
}

func (e *testEnv) join(t *testing.T, ownerID, sessionID int64) *models.WaitlistEntry {
	t.Helper()
	entry, err := e.svc.Waitlist.Join(context.Background(), ownerID, &models.JoinWaitlistRequest{
		SessionID: sessionID,
		Contact:   contactFor(ownerID),
	})
	require.NoError(t, err)
	return entry
}

func (e *testEnv) occupancy(t *testing.T, sessionID int64) *models.Occupancy {
	t.Helper()
	occ, err := e.svc.Sessions.Occupancy(context.Background(), sessionID)
	require.NoError(t, err)
	return occ
}

// requireConsistent asserts that occupied seats equal the seats of confirmed bookings.
func (e *testEnv) requireConsistent(t *testing.T, sessionID int64) {
	t.Helper()
	audit, err := e.svc.Sessions.Audit(context.Background(), sessionID)
	require.NoError(t, err)
	require.True(t, audit.Consistent, "occupied=%d confirmed=%d max=%d", audit.OccupiedSeats, audit.ConfirmedSeats, audit.MaxCapacity)
}

func (e *testEnv) booking(t *testing.T, bookingID int64) *models.Booking {
	t.Helper()
	var b *models.Booking
	err := e.store.InTx(context.Background(), func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		b, err = repos.Bookings.GetByID(ctx, bookingID)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func (e *testEnv) bookingOf(t *testing.T, sessionID, ownerID int64) *models.Booking {
	t.Helper()
	var b *models.Booking
	err := e.store.InTx(context.Background(), func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		b, err = repos.Bookings.GetByOwner(ctx, sessionID, ownerID)
		return err
	})
	require.NoError(t, err)
	return b
}

func (e *testEnv) queue(t *testing.T, sessionID int64) []models.WaitlistEntry {
	t.Helper()
	var entries []models.WaitlistEntry
	err := e.store.InTx(context.Background(), func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		entries, err = repos.Waitlist.ListBySession(ctx, sessionID)
		return err
	})
	require.NoError(t, err)
	return entries
}

func (e *testEnv) refund(t *testing.T, reference string) *models.Refund {
	t.Helper()
	var rf *models.Refund
	err := e.store.InTx(context.Background(), func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		rf, err = repos.Refunds.GetByReference(ctx, reference)
		return err
	})
	require.NoError(t, err)
	return rf
}

func strPtr(s string) *string {
	return &s
}
