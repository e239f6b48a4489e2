package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "slotbook/internal/errors"
	"slotbook/internal/logger"
	"slotbook/internal/middleware"
	"slotbook/internal/service"
)

type Handlers struct {
	services  *service.Services
	publisher service.Publisher
	now       func() time.Time
}

// NewHandlers wires the HTTP surface to the engine. publisher may be nil, in which case payment
// webhooks are applied synchronously.
func NewHandlers(services *service.Services, publisher service.Publisher) *Handlers {
	return &Handlers{
		services:  services,
		publisher: publisher,
		now:       time.Now,
	}
}

// ownerID returns the caller identity or writes 401.
func ownerID(c *gin.Context) (int64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": apperrors.ErrUnauthorized.Error()})
		return 0, false
	}
	return id, true
}

// pathID parses a positive int64 path parameter or writes 400.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrSessionFull),
		errors.Is(err, apperrors.ErrAlreadyPending),
		errors.Is(err, apperrors.ErrAlreadyBooked),
		errors.Is(err, apperrors.ErrSeatsAvailable),
		errors.Is(err, apperrors.ErrSessionEnded),
		errors.Is(err, apperrors.ErrPaymentReferenceConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrNotFoundOrUnauthorized),
		errors.Is(err, apperrors.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidGuestCount),
		errors.Is(err, apperrors.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrNoPaymentGateway):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Unexpected errors are logged and hidden behind msg.
func respondError(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error(msg, "error", err)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	body := gin.H{"error": err.Error()}
	var capErr *apperrors.CapacityError
	if errors.As(err, &capErr) {
		body["requested"] = capErr.Requested
		body["available"] = capErr.Available
	}
	c.JSON(status, body)
}
