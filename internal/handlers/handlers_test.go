package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/repository"
	"slotbook/internal/service"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.ErrSessionFull, http.StatusConflict},
		{apperrors.ErrAlreadyPending, http.StatusConflict},
		{apperrors.ErrAlreadyBooked, http.StatusConflict},
		{apperrors.ErrSeatsAvailable, http.StatusConflict},
		{apperrors.ErrSessionEnded, http.StatusConflict},
		{apperrors.ErrPaymentReferenceConflict, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", apperrors.ErrNotFoundOrUnauthorized), http.StatusNotFound},
		{apperrors.ErrSessionNotFound, http.StatusNotFound},
		{apperrors.ErrInvalidGuestCount, http.StatusBadRequest},
		{apperrors.ErrInvalidSession, http.StatusBadRequest},
		{apperrors.ErrUnauthorized, http.StatusUnauthorized},
		{service.ErrPaymentNotConfirmed, http.StatusPaymentRequired},
		{service.ErrNoPaymentGateway, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func errorRecorder(err error) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	respondError(c, err, "Something failed")
	return w
}

func TestRespondErrorAddsCapacityDetails(t *testing.T) {
	err := &apperrors.CapacityError{Requested: 3, Available: 1}
	w := errorRecorder(err)

	assert.Equal(t, http.StatusConflict, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["requested"])
	assert.EqualValues(t, 1, body["available"])
}

func TestRespondErrorHidesInternalErrors(t *testing.T) {
	w := errorRecorder(errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Something failed"}`, w.Body.String())
}

func TestHandlersRejectMissingIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(service.NewServices(service.Deps{Store: repository.NewMemoryStore()}, service.Options{}), nil)

	router := gin.New()
	router.GET("/me/status", h.UserStatus)
	router.POST("/bookings/:id/cancel", h.CancelBooking)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me/status", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	router = gin.New()
	router.Use(func(c *gin.Context) { c.Set("user_id", int64(7)) })
	router.POST("/bookings/:id/cancel", h.CancelBooking)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bookings/-4/cancel", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
