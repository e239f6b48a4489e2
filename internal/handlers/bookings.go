package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slotbook/internal/models"
)

// Register - POST /api/registrations
// Записаться на один или несколько сеансов. Результат возвращается по каждому сеансу.
func (h *Handlers) Register(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}

	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.services.Registrations.Register(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err, "Failed to register")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CancelBooking - POST /api/bookings/:id/cancel
// Отменить бронирование
func (h *Handlers) CancelBooking(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := h.services.Registrations.Cancel(c.Request.Context(), userID, bookingID)
	if err != nil {
		respondError(c, err, "Failed to cancel booking")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// AddGuests - POST /api/bookings/:id/guests
func (h *Handlers) AddGuests(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req models.GuestsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.services.Guests.AddGuests(c.Request.Context(), userID, bookingID, &req)
	if err != nil {
		respondError(c, err, "Failed to add guests")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RemoveGuests - DELETE /api/bookings/:id/guests
func (h *Handlers) RemoveGuests(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req models.GuestsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.services.Guests.RemoveGuests(c.Request.Context(), userID, bookingID, &req)
	if err != nil {
		respondError(c, err, "Failed to remove guests")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// BookingHistory - GET /api/bookings/:id/history
// История переходов бронирования
func (h *Handlers) BookingHistory(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	history, err := h.services.Sessions.History(c.Request.Context(), userID, bookingID)
	if err != nil {
		respondError(c, err, "Failed to load booking history")
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking_id": bookingID, "transitions": history})
}
