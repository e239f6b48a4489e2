package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"slotbook/internal/middleware"
	"slotbook/internal/models"
)

// SmokeValidator drives a running API through the booking, waitlist and payment flow and checks
// every response against the documented contract.
type SmokeValidator struct {
	baseURL string
	client  *http.Client
	// base offsets user IDs so repeated runs against one database do not collide
	base int64
}

// NewSmokeValidator создает новый валидатор
func NewSmokeValidator(baseURL string, client *http.Client) *SmokeValidator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SmokeValidator{
		baseURL: baseURL,
		client:  client,
		base:    time.Now().UnixNano() % 1_000_000 * 1000,
	}
}

// ValidateAll runs every check in order and stops at the first failure.
func (v *SmokeValidator) ValidateAll() error {
	slog.Info("Starting API smoke validation", "url", v.baseURL)

	if err := v.validateHealth(); err != nil {
		return fmt.Errorf("health validation failed: %w", err)
	}
	if err := v.validateIdentity(); err != nil {
		return fmt.Errorf("identity validation failed: %w", err)
	}
	if err := v.validateWaitlistPromotion(); err != nil {
		return fmt.Errorf("waitlist validation failed: %w", err)
	}
	if err := v.validateGuests(); err != nil {
		return fmt.Errorf("guests validation failed: %w", err)
	}

	slog.Info("All smoke checks passed")
	return nil
}

func (v *SmokeValidator) user(n int64) int64 {
	return v.base + n
}

func (v *SmokeValidator) validateHealth() error {
	resp, err := v.do(http.MethodGet, "/health", 0, nil)
	if err != nil {
		return err
	}
	return expect(resp, http.StatusOK, nil)
}

func (v *SmokeValidator) validateIdentity() error {
	resp, err := v.do(http.MethodGet, "/api/me/status", 0, nil)
	if err != nil {
		return err
	}
	return expect(resp, http.StatusUnauthorized, nil)
}

// validateWaitlistPromotion fills a one-seat session, queues a second user and cancels the seat.
// The queued user must get a pending payment hold and confirm it through the webhook.
func (v *SmokeValidator) validateWaitlistPromotion() error {
	slog.Info("Checking waitlist promotion")
	seatOwner, waiter := v.user(1), v.user(2)

	sessionID, err := v.createSession(seatOwner, 1)
	if err != nil {
		return err
	}

	outcome, err := v.register(seatOwner, sessionID, 0)
	if err != nil {
		return err
	}
	if outcome.Status != models.OutcomeConfirmed {
		return fmt.Errorf("POST /api/registrations: expected confirmed, got %s (%s)", outcome.Status, outcome.Error)
	}

	full, err := v.register(waiter, sessionID, 0)
	if err != nil {
		return err
	}
	if full.Status != models.OutcomeFailed {
		return fmt.Errorf("POST /api/registrations: full session accepted a booking")
	}

	resp, err := v.do(http.MethodPost, "/api/waitlist", waiter, models.JoinWaitlistRequest{SessionID: sessionID, Contact: contact(waiter)})
	if err != nil {
		return err
	}
	var entry models.WaitlistEntry
	if err := expect(resp, http.StatusCreated, &entry); err != nil {
		return fmt.Errorf("POST /api/waitlist: %w", err)
	}
	if entry.Position != 1 {
		return fmt.Errorf("POST /api/waitlist: expected position 1, got %d", entry.Position)
	}

	resp, err = v.do(http.MethodPost, "/api/bookings/"+itoa(outcome.BookingID)+"/cancel", seatOwner, nil)
	if err != nil {
		return err
	}
	var cancelled models.CancelBookingResponse
	if err := expect(resp, http.StatusOK, &cancelled); err != nil {
		return fmt.Errorf("POST /api/bookings/:id/cancel: %w", err)
	}
	if !cancelled.Promoted || cancelled.PromotedBookingID == nil {
		return fmt.Errorf("POST /api/bookings/:id/cancel: expected a promotion")
	}

	occ, err := v.occupancy(waiter, sessionID)
	if err != nil {
		return err
	}
	if occ.OccupiedSeats != 0 || occ.PendingHoldSeats != 1 {
		return fmt.Errorf("occupancy after promotion: occupied=%d held=%d", occ.OccupiedSeats, occ.PendingHoldSeats)
	}

	resp, err = v.do(http.MethodPost, "/api/payments/notifications", 0, models.PaymentNotificationPayload{
		PaymentID: "smoke-" + itoa(waiter),
		OrderID:   itoa(*cancelled.PromotedBookingID),
		Status:    "CONFIRMED",
	})
	if err != nil {
		return err
	}
	// 202 means the confirmation went through NATS and is applied by the consumers
	if resp.StatusCode == http.StatusAccepted {
		resp.Body.Close()
		return v.waitForOccupied(waiter, sessionID, 1)
	}
	if err := expect(resp, http.StatusOK, nil); err != nil {
		return fmt.Errorf("POST /api/payments/notifications: %w", err)
	}
	return v.waitForOccupied(waiter, sessionID, 1)
}

func (v *SmokeValidator) validateGuests() error {
	slog.Info("Checking guest changes")
	owner := v.user(3)

	sessionID, err := v.createSession(owner, 3)
	if err != nil {
		return err
	}
	outcome, err := v.register(owner, sessionID, 0)
	if err != nil {
		return err
	}

	resp, err := v.do(http.MethodPost, "/api/bookings/"+itoa(outcome.BookingID)+"/guests", owner, models.GuestsRequest{Count: 4})
	if err != nil {
		return err
	}
	var added models.AddGuestsResponse
	if err := expect(resp, http.StatusOK, &added); err != nil {
		return fmt.Errorf("POST /api/bookings/:id/guests: %w", err)
	}
	if added.Added != 2 || added.Waitlisted != 2 {
		return fmt.Errorf("POST /api/bookings/:id/guests: expected 2 added and 2 waitlisted, got %d and %d", added.Added, added.Waitlisted)
	}

	resp, err = v.do(http.MethodGet, "/api/sessions/"+itoa(sessionID)+"/audit", owner, nil)
	if err != nil {
		return err
	}
	var audit models.AuditResult
	if err := expect(resp, http.StatusOK, &audit); err != nil {
		return fmt.Errorf("GET /api/sessions/:id/audit: %w", err)
	}
	if !audit.Consistent {
		return fmt.Errorf("GET /api/sessions/:id/audit: occupied=%d confirmed=%d", audit.OccupiedSeats, audit.ConfirmedSeats)
	}
	return nil
}

func (v *SmokeValidator) waitForOccupied(userID, sessionID int64, want int) error {
	deadline := time.Now().Add(10 * time.Second)
	for {
		occ, err := v.occupancy(userID, sessionID)
		if err != nil {
			return err
		}
		if occ.OccupiedSeats == want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("occupied seats stayed at %d, expected %d", occ.OccupiedSeats, want)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (v *SmokeValidator) createSession(userID int64, capacity int) (int64, error) {
	start := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	resp, err := v.do(http.MethodPost, "/api/sessions", userID, models.CreateSessionRequest{
		Title:       "Smoke session",
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		MaxCapacity: capacity,
	})
	if err != nil {
		return 0, err
	}
	var created models.CreateSessionResponse
	if err := expect(resp, http.StatusCreated, &created); err != nil {
		return 0, fmt.Errorf("POST /api/sessions: %w", err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("POST /api/sessions: expected non-zero ID")
	}
	return created.ID, nil
}

func (v *SmokeValidator) register(userID, sessionID int64, guests int) (*models.RegistrationOutcome, error) {
	resp, err := v.do(http.MethodPost, "/api/registrations", userID, models.RegisterRequest{
		SessionIDs: []int64{sessionID},
		GuestCount: guests,
		Contact:    contact(userID),
	})
	if err != nil {
		return nil, err
	}
	var out models.RegisterResponse
	if err := expect(resp, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("POST /api/registrations: %w", err)
	}
	if len(out.Outcomes) != 1 {
		return nil, fmt.Errorf("POST /api/registrations: expected 1 outcome, got %d", len(out.Outcomes))
	}
	return &out.Outcomes[0], nil
}

func (v *SmokeValidator) occupancy(userID, sessionID int64) (*models.Occupancy, error) {
	resp, err := v.do(http.MethodGet, "/api/sessions/"+itoa(sessionID)+"/occupancy", userID, nil)
	if err != nil {
		return nil, err
	}
	var occ models.Occupancy
	if err := expect(resp, http.StatusOK, &occ); err != nil {
		return nil, fmt.Errorf("GET /api/sessions/:id/occupancy: %w", err)
	}
	return &occ, nil
}

func (v *SmokeValidator) do(method, path string, userID int64, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, v.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID > 0 {
		req.Header.Set(middleware.UserIDHeader, itoa(userID))
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// expect checks the status code and decodes the body into out when out is not nil.
func expect(resp *http.Response, status int, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode != status {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("expected %d, got %d: %s", status, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func contact(userID int64) models.Contact {
	return models.Contact{Name: "Smoke " + itoa(userID), Email: "smoke" + itoa(userID) + "@example.com"}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
