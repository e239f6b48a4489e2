package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"slotbook/internal/database"
	"slotbook/internal/models"
)

// ErrDuplicate is returned by the memory store where Postgres would raise a unique violation.
var ErrDuplicate = errors.New("duplicate key value violates unique constraint")

// IsDuplicate reports a unique-constraint violation from either store.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate) || database.IsUniqueViolation(err)
}

type memState struct {
	sessions map[int64]models.Session
	bookings map[int64]models.Booking
	waitlist map[int64]models.WaitlistEntry
	refunds  map[int64]models.Refund
	outbox   map[string]models.Notification
	seq      int64
}

func (s *memState) clone() *memState {
	c := &memState{
		sessions: make(map[int64]models.Session, len(s.sessions)),
		bookings: make(map[int64]models.Booking, len(s.bookings)),
		waitlist: make(map[int64]models.WaitlistEntry, len(s.waitlist)),
		refunds:  make(map[int64]models.Refund, len(s.refunds)),
		outbox:   make(map[string]models.Notification, len(s.outbox)),
		seq:      s.seq,
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.waitlist {
		c.waitlist[k] = v
	}
	for k, v := range s.refunds {
		c.refunds[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	return c
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

// MemoryStore keeps all tables in process. Transactions are serialized by one lock and run against
// a copy of the state that replaces the committed state only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			sessions: map[int64]models.Session{},
			bookings: map[int64]models.Booking{},
			waitlist: map[int64]models.WaitlistEntry{},
			refunds:  map[int64]models.Refund{},
			outbox:   map[string]models.Notification{},
		},
		now: time.Now,
	}
}

// SetClock replaces the clock used for created_at and updated_at columns.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{state: m.state.clone(), now: m.now}
	repos := &Repositories{
		Sessions: &memSessions{tx},
		Bookings: &memBookings{tx},
		Waitlist: &memWaitlist{tx},
		Refunds:  &memRefunds{tx},
		Outbox:   &memOutbox{tx},
	}
	if err := fn(ctx, repos); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

type memTx struct {
	state *memState
	now   func() time.Time
}

// Sessions

type memSessions struct{ tx *memTx }

func (r *memSessions) Create(_ context.Context, session *models.Session) error {
	now := r.tx.now()
	session.ID = r.tx.state.nextID()
	session.CreatedAt = now
	session.UpdatedAt = now
	r.tx.state.sessions[session.ID] = *session
	return nil
}

func (r *memSessions) GetByID(_ context.Context, id int64) (*models.Session, error) {
	s, ok := r.tx.state.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memSessions) Lock(ctx context.Context, id int64) (*models.Session, error) {
	return r.GetByID(ctx, id)
}

func (r *memSessions) AdjustOccupied(_ context.Context, id int64, delta int) (bool, error) {
	s, ok := r.tx.state.sessions[id]
	if !ok {
		return false, nil
	}
	next := s.OccupiedSeats + delta
	if next < 0 || next > s.MaxCapacity {
		return false, nil
	}
	s.OccupiedSeats = next
	s.UpdatedAt = r.tx.now()
	r.tx.state.sessions[id] = s
	return true, nil
}

func (r *memSessions) ReleaseOccupied(_ context.Context, id int64, seats int) error {
	s, ok := r.tx.state.sessions[id]
	if !ok {
		return nil
	}
	s.OccupiedSeats -= seats
	if s.OccupiedSeats < 0 {
		s.OccupiedSeats = 0
	}
	s.UpdatedAt = r.tx.now()
	r.tx.state.sessions[id] = s
	return nil
}

func (r *memSessions) ListEndedUnswept(_ context.Context, now time.Time, limit int) ([]models.Session, error) {
	var out []models.Session
	for _, s := range r.tx.state.sessions {
		if s.EndsAt.Before(now) && s.RefundSweptAt == nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndsAt.Equal(out[j].EndsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndsAt.Before(out[j].EndsAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSessions) MarkRefundSwept(_ context.Context, id int64, at time.Time) error {
	s, ok := r.tx.state.sessions[id]
	if !ok {
		return nil
	}
	s.RefundSweptAt = &at
	r.tx.state.sessions[id] = s
	return nil
}

// Bookings

type memBookings struct{ tx *memTx }

func (r *memBookings) sorted(keep func(b models.Booking) bool) []models.Booking {
	var out []models.Booking
	for _, b := range r.tx.state.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memBookings) Create(_ context.Context, booking *models.Booking) error {
	for _, b := range r.tx.state.bookings {
		if b.SessionID == booking.SessionID && b.OwnerID == booking.OwnerID {
			return ErrDuplicate
		}
	}
	now := r.tx.now()
	booking.ID = r.tx.state.nextID()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	r.tx.state.bookings[booking.ID] = *booking
	return nil
}

func (r *memBookings) Update(_ context.Context, booking *models.Booking) error {
	if _, ok := r.tx.state.bookings[booking.ID]; !ok {
		return fmt.Errorf("booking %d does not exist", booking.ID)
	}
	booking.UpdatedAt = r.tx.now()
	r.tx.state.bookings[booking.ID] = *booking
	return nil
}

func (r *memBookings) GetByID(_ context.Context, id int64) (*models.Booking, error) {
	b, ok := r.tx.state.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *memBookings) GetByOwner(_ context.Context, sessionID, ownerID int64) (*models.Booking, error) {
	for _, b := range r.tx.state.bookings {
		if b.SessionID == sessionID && b.OwnerID == ownerID {
			return &b, nil
		}
	}
	return nil, nil
}

func (r *memBookings) ListByOwner(_ context.Context, ownerID int64) ([]models.Booking, error) {
	out := r.sorted(func(b models.Booking) bool { return b.OwnerID == ownerID })
	// newest first, matching the Postgres ordering
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *memBookings) PendingHoldSeats(_ context.Context, sessionID int64) (int, error) {
	seats := 0
	for _, b := range r.tx.state.bookings {
		if b.SessionID == sessionID && b.Status == models.BookingPendingPayment {
			seats += b.Seats()
		}
	}
	return seats, nil
}

func (r *memBookings) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]models.Booking, error) {
	out := r.sorted(func(b models.Booking) bool {
		return b.Status == models.BookingPendingPayment &&
			b.PendingPaymentExpiresAt != nil && b.PendingPaymentExpiresAt.Before(now)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memBookings) ListRefundable(_ context.Context, sessionID int64) ([]models.Booking, error) {
	return r.sorted(func(b models.Booking) bool {
		return b.SessionID == sessionID && b.Status == models.BookingCancelled && b.PaymentReference != nil
	}), nil
}

func (r *memBookings) ConfirmedSeats(_ context.Context, sessionID int64) (int, error) {
	seats := 0
	for _, b := range r.tx.state.bookings {
		if b.SessionID == sessionID && b.Status == models.BookingConfirmed {
			seats += b.Seats()
		}
	}
	return seats, nil
}

// Waitlist

type memWaitlist struct{ tx *memTx }

func queueLess(a, b models.WaitlistEntry) bool {
	if a.IsAddGuest() != b.IsAddGuest() {
		return !a.IsAddGuest()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (r *memWaitlist) filter(keep func(e models.WaitlistEntry) bool) []models.WaitlistEntry {
	var out []models.WaitlistEntry
	for _, e := range r.tx.state.waitlist {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (r *memWaitlist) Create(_ context.Context, entry *models.WaitlistEntry) error {
	queued := 0
	for _, e := range r.tx.state.waitlist {
		if e.SessionID != entry.SessionID {
			continue
		}
		queued++
		if entry.BookingID == nil && e.BookingID == nil && e.OwnerID == entry.OwnerID {
			return ErrDuplicate
		}
		if entry.BookingID != nil && e.BookingID != nil && *e.BookingID == *entry.BookingID {
			return ErrDuplicate
		}
	}
	entry.ID = r.tx.state.nextID()
	entry.Position = queued + 1
	entry.CreatedAt = r.tx.now()
	r.tx.state.waitlist[entry.ID] = *entry
	return nil
}

func (r *memWaitlist) Update(_ context.Context, entry *models.WaitlistEntry) error {
	e, ok := r.tx.state.waitlist[entry.ID]
	if !ok {
		return nil
	}
	e.GuestCount = entry.GuestCount
	e.PaymentReference = entry.PaymentReference
	r.tx.state.waitlist[entry.ID] = e
	return nil
}

func (r *memWaitlist) Delete(_ context.Context, id int64) error {
	delete(r.tx.state.waitlist, id)
	return nil
}

func (r *memWaitlist) GetByID(_ context.Context, id int64) (*models.WaitlistEntry, error) {
	e, ok := r.tx.state.waitlist[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *memWaitlist) GetNewSpot(_ context.Context, sessionID, ownerID int64) (*models.WaitlistEntry, error) {
	for _, e := range r.tx.state.waitlist {
		if e.SessionID == sessionID && e.OwnerID == ownerID && e.BookingID == nil {
			return &e, nil
		}
	}
	return nil, nil
}

func (r *memWaitlist) GetAddGuest(_ context.Context, sessionID, bookingID int64) (*models.WaitlistEntry, error) {
	for _, e := range r.tx.state.waitlist {
		if e.SessionID == sessionID && e.BookingID != nil && *e.BookingID == bookingID {
			return &e, nil
		}
	}
	return nil, nil
}

func (r *memWaitlist) FirstEligible(ctx context.Context, sessionID int64) (*models.WaitlistEntry, error) {
	entries, _ := r.ListBySession(ctx, sessionID)
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (r *memWaitlist) Count(_ context.Context, sessionID int64) (int, error) {
	n := 0
	for _, e := range r.tx.state.waitlist {
		if e.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (r *memWaitlist) ListBySession(_ context.Context, sessionID int64) ([]models.WaitlistEntry, error) {
	out := r.filter(func(e models.WaitlistEntry) bool { return e.SessionID == sessionID })
	sort.Slice(out, func(i, j int) bool { return queueLess(out[i], out[j]) })
	return out, nil
}

func (r *memWaitlist) ListByOwner(_ context.Context, ownerID int64) ([]models.WaitlistEntry, error) {
	out := r.filter(func(e models.WaitlistEntry) bool { return e.OwnerID == ownerID })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Refunds

type memRefunds struct{ tx *memTx }

func (r *memRefunds) Create(_ context.Context, refund *models.Refund) (bool, error) {
	for _, rf := range r.tx.state.refunds {
		if rf.PaymentReference == refund.PaymentReference {
			return false, nil
		}
	}
	now := r.tx.now()
	refund.ID = r.tx.state.nextID()
	refund.CreatedAt = now
	refund.UpdatedAt = now
	r.tx.state.refunds[refund.ID] = *refund
	return true, nil
}

func (r *memRefunds) Update(_ context.Context, refund *models.Refund) error {
	if _, ok := r.tx.state.refunds[refund.ID]; !ok {
		return fmt.Errorf("refund %d does not exist", refund.ID)
	}
	refund.UpdatedAt = r.tx.now()
	r.tx.state.refunds[refund.ID] = *refund
	return nil
}

func (r *memRefunds) GetByReference(_ context.Context, reference string) (*models.Refund, error) {
	for _, rf := range r.tx.state.refunds {
		if rf.PaymentReference == reference {
			return &rf, nil
		}
	}
	return nil, nil
}

func (r *memRefunds) ListOpen(_ context.Context, sessionID int64) ([]models.Refund, error) {
	var out []models.Refund
	for _, rf := range r.tx.state.refunds {
		if rf.SessionID == sessionID && rf.Status != models.RefundStatusSucceeded {
			out = append(out, rf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Outbox

type memOutbox struct{ tx *memTx }

func (r *memOutbox) sorted(keep func(n models.Notification) bool) []models.Notification {
	var out []models.Notification
	for _, n := range r.tx.state.outbox {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memOutbox) Enqueue(_ context.Context, n *models.Notification) error {
	if _, ok := r.tx.state.outbox[n.ID]; ok {
		return ErrDuplicate
	}
	n.CreatedAt = r.tx.now()
	r.tx.state.outbox[n.ID] = *n
	return nil
}

func (r *memOutbox) ListUndispatched(_ context.Context, maxAttempts, limit int) ([]models.Notification, error) {
	out := r.sorted(func(n models.Notification) bool {
		return n.DispatchedAt == nil && n.Attempts < maxAttempts
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memOutbox) GetByIDs(_ context.Context, ids []string) ([]models.Notification, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return r.sorted(func(n models.Notification) bool {
		_, ok := want[n.ID]
		return ok
	}), nil
}

func (r *memOutbox) MarkDispatched(_ context.Context, id string, at time.Time) error {
	n, ok := r.tx.state.outbox[id]
	if !ok {
		return nil
	}
	n.DispatchedAt = &at
	n.Attempts++
	n.LastError = nil
	r.tx.state.outbox[id] = n
	return nil
}

func (r *memOutbox) MarkFailed(_ context.Context, id string, reason string) error {
	n, ok := r.tx.state.outbox[id]
	if !ok {
		return nil
	}
	n.Attempts++
	n.LastError = &reason
	r.tx.state.outbox[id] = n
	return nil
}
