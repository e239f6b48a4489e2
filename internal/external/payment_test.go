package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, handler http.HandlerFunc) *PaymentClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPaymentClient(PaymentConfig{BaseURL: srv.URL, TeamSlug: "slotbook", Password: "secret"})
}

func TestGenerateTokenIsOrderIndependent(t *testing.T) {
	pc := NewPaymentClient(PaymentConfig{TeamSlug: "slotbook", Password: "secret"})

	a := pc.generateToken(map[string]string{"PaymentId": "p1", "Amount": "100"})
	b := pc.generateToken(map[string]string{"Amount": "100", "PaymentId": "p1"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, pc.generateToken(map[string]string{"PaymentId": "p2", "Amount": "100"}))
}

func TestIsConfirmed(t *testing.T) {
	pc := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/PaymentCheck/check", r.URL.Path)
		var req PaymentCheckRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "slotbook", req.TeamSlug)
		assert.NotEmpty(t, req.Token)

		status := "NEW"
		if req.PaymentID == "paid" {
			status = PaymentStatusConfirmed
		}
		_ = json.NewEncoder(w).Encode(PaymentCheckResponse{
			Success:  true,
			Payments: []PaymentDetails{{PaymentID: req.PaymentID, Status: status}},
		})
	})

	ok, err := pc.IsConfirmed(context.Background(), "paid")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pc.IsConfirmed(context.Background(), "unpaid")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefund(t *testing.T) {
	pc := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/PaymentCancel/cancel", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))

		var req PaymentRefundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.PaymentID {
		case "down":
			w.WriteHeader(http.StatusBadGateway)
		case "rejected":
			_ = json.NewEncoder(w).Encode(PaymentRefundResponse{Success: false, Status: "CONFIRMED", Message: "too late"})
		default:
			_ = json.NewEncoder(w).Encode(PaymentRefundResponse{Success: true, PaymentID: req.PaymentID, Status: PaymentStatusRefunded})
		}
	})

	ctx := context.Background()
	assert.NoError(t, pc.Refund(ctx, "ok", "session ended", "key-1"))
	assert.ErrorContains(t, pc.Refund(ctx, "down", "session ended", "key-1"), "unexpected status code: 502")
	assert.ErrorContains(t, pc.Refund(ctx, "rejected", "session ended", "key-1"), "too late")
}
