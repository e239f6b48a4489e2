package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/logger"
	"slotbook/internal/models"
	"slotbook/internal/repository"
)

// Publisher delivers a message on a subject. messaging.NATSClient satisfies it.
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// HistoryRecorder stores booking transitions. search.ElasticsearchClient satisfies it.
type HistoryRecorder interface {
	Record(ctx context.Context, t models.Transition) error
	History(ctx context.Context, bookingID int64) ([]models.Transition, error)
}

// OccupancyCache caches the occupancy read model. cache.ValkeyClient satisfies it. Every
// invalidation bumps the session's version. GetOccupancy reports the version seen on a miss, and
// SetOccupancy stores the value only while that version is still current.
type OccupancyCache interface {
	GetOccupancy(ctx context.Context, sessionID int64) (*models.Occupancy, int64, error)
	SetOccupancy(ctx context.Context, occ *models.Occupancy, version int64) error
	InvalidateOccupancy(ctx context.Context, sessionIDs ...int64) error
}

// PaymentGateway is the part of external.PaymentClient the engine calls.
type PaymentGateway interface {
	Refund(ctx context.Context, paymentID, reason, idempotencyKey string) error
	IsConfirmed(ctx context.Context, paymentID string) (bool, error)
}

// Options tunes the engine. Zero values fall back to the defaults below.
type Options struct {
	HoldTTL            time.Duration
	RefundGraceWindow  time.Duration
	PaymentLinkBaseURL string
	RefundConcurrency  int
	OutboxMaxAttempts  int
	SweepBatchSize     int
	Now                func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HoldTTL <= 0 {
		o.HoldTTL = 24 * time.Hour
	}
	if o.RefundGraceWindow < 0 {
		o.RefundGraceWindow = 0
	}
	if o.RefundConcurrency < 1 {
		o.RefundConcurrency = 4
	}
	if o.OutboxMaxAttempts < 1 {
		o.OutboxMaxAttempts = 10
	}
	if o.SweepBatchSize < 1 {
		o.SweepBatchSize = 200
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Deps are the collaborators of the engine. Everything except Store may be nil.
type Deps struct {
	Store     repository.Store
	Publisher Publisher
	History   HistoryRecorder
	Cache     OccupancyCache
	Payments  PaymentGateway
}

type Services struct {
	Sessions      *SessionService
	Registrations *RegistrationService
	Waitlist      *WaitlistService
	Guests        *GuestService
	Payments      *PaymentService
	Refunds       *RefundService
	Outbox        *OutboxService
}

func NewServices(deps Deps, opts Options) *Services {
	c := newCore(deps, opts)
	waitlist := &WaitlistService{core: c}

	return &Services{
		Sessions:      &SessionService{core: c},
		Registrations: &RegistrationService{core: c, waitlist: waitlist},
		Waitlist:      waitlist,
		Guests:        &GuestService{core: c, waitlist: waitlist},
		Payments:      &PaymentService{core: c, waitlist: waitlist},
		Refunds:       &RefundService{core: c},
		Outbox:        c.outbox,
	}
}

// core is shared by every service: the store, the collaborators and the post-commit pipeline.
type core struct {
	store   repository.Store
	history HistoryRecorder
	cache   OccupancyCache
	payment PaymentGateway
	outbox  *OutboxService
	ledger  CapacityLedger
	opts    Options
}

func newCore(deps Deps, opts Options) *core {
	opts = opts.withDefaults()
	return &core{
		store:   deps.Store,
		history: deps.History,
		cache:   deps.Cache,
		payment: deps.Payments,
		outbox: &OutboxService{
			store:       deps.Store,
			publisher:   deps.Publisher,
			maxAttempts: opts.OutboxMaxAttempts,
			batchSize:   opts.SweepBatchSize,
			now:         opts.Now,
		},
		opts: opts,
	}
}

func (c *core) now() time.Time {
	return c.opts.Now()
}

// effects collects what a transaction produced that must be acted on after commit.
type effects struct {
	notifications []string
	transitions   []models.Transition
	sessions      map[int64]struct{}
}

func (fx *effects) reset() {
	fx.notifications = fx.notifications[:0]
	fx.transitions = fx.transitions[:0]
	fx.sessions = map[int64]struct{}{}
}

func (fx *effects) touch(sessionID int64) {
	fx.sessions[sessionID] = struct{}{}
}

func (fx *effects) record(t models.Transition) {
	fx.transitions = append(fx.transitions, t)
	fx.touch(t.SessionID)
}

// run executes fn in one transaction and handles its effects once the transaction committed.
// The store may retry fn, so effects are rebuilt on every attempt.
func (c *core) run(ctx context.Context, fn func(ctx context.Context, repos *repository.Repositories, fx *effects) error) error {
	fx := &effects{}
	err := c.store.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		fx.reset()
		return fn(ctx, repos, fx)
	})
	if err != nil {
		return err
	}
	c.afterCommit(ctx, fx)
	return nil
}

// afterCommit never fails: the state change is already durable.
func (c *core) afterCommit(ctx context.Context, fx *effects) {
	log := logger.WithContext(ctx)

	if c.cache != nil && len(fx.sessions) > 0 {
		ids := make([]int64, 0, len(fx.sessions))
		for id := range fx.sessions {
			ids = append(ids, id)
		}
		if err := c.cache.InvalidateOccupancy(ctx, ids...); err != nil {
			log.Warn("Failed to invalidate occupancy cache", "error", err, "sessions", ids)
		}
	}

	if c.history != nil {
		for _, t := range fx.transitions {
			if err := c.history.Record(ctx, t); err != nil {
				log.Warn("Failed to record booking history", "error", err, "action", t.Action, "session_id", t.SessionID)
			}
		}
	}

	if len(fx.notifications) > 0 {
		// the relay job retries whatever is left undispatched
		result, err := c.outbox.Dispatch(ctx, fx.notifications)
		if err != nil {
			log.Warn("Failed to dispatch notifications", "error", err, "count", len(fx.notifications))
		} else if len(result.Errors) > 0 {
			log.Warn("Some notifications were not dispatched", "failed", len(result.Errors), "count", result.Processed)
		}
	}
}

// notify writes a notification to the outbox inside the caller's transaction.
func (c *core) notify(ctx context.Context, repos *repository.Repositories, fx *effects, kind string, contact models.Contact, ownerID, sessionID int64, bookingID *int64, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	n := &models.Notification{
		ID:        uuid.New().String(),
		Kind:      kind,
		Recipient: recipient(contact, ownerID),
		SessionID: sessionID,
		BookingID: bookingID,
		Payload:   raw,
	}
	if err := repos.Outbox.Enqueue(ctx, n); err != nil {
		return fmt.Errorf("failed to enqueue %s notification: %w", kind, err)
	}
	fx.notifications = append(fx.notifications, n.ID)
	return nil
}

func recipient(contact models.Contact, ownerID int64) string {
	if contact.Email != "" {
		return contact.Email
	}
	return "owner:" + strconv.FormatInt(ownerID, 10)
}

func (c *core) transition(action string, b *models.Booking, from models.BookingStatus) models.Transition {
	id := b.ID
	return models.Transition{
		BookingID:  &id,
		SessionID:  b.SessionID,
		OwnerID:    b.OwnerID,
		Action:     action,
		FromStatus: string(from),
		ToStatus:   string(b.Status),
		GuestCount: b.GuestCount,
		Timestamp:  c.now(),
	}
}

func (c *core) entryTransition(action string, e *models.WaitlistEntry) models.Transition {
	id := e.ID
	return models.Transition{
		BookingID:  e.BookingID,
		EntryID:    &id,
		SessionID:  e.SessionID,
		OwnerID:    e.OwnerID,
		Action:     action,
		GuestCount: e.GuestCount,
		Timestamp:  c.now(),
	}
}

// setStatus moves b to next through the booking state machine.
func setStatus(b *models.Booking, next models.BookingStatus) error {
	if !b.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, b.Status, next)
	}
	b.Status = next
	return nil
}

// queueRefund records a payment reference in the refund ledger. The refund sweep pays it out once
// the session has ended. Known references are left untouched.
func (c *core) queueRefund(ctx context.Context, repos *repository.Repositories, sessionID int64, reference *string, source string, sourceID int64) error {
	if reference == nil || *reference == "" {
		return nil
	}
	_, err := repos.Refunds.Create(ctx, &models.Refund{
		SessionID:        sessionID,
		PaymentReference: *reference,
		Source:           source,
		SourceID:         sourceID,
		Status:           models.RefundStatusPending,
		IdempotencyKey:   uuid.New().String(),
	})
	if err != nil {
		return fmt.Errorf("failed to queue refund: %w", err)
	}
	return nil
}
