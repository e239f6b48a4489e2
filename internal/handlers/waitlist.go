package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slotbook/internal/models"
)

// JoinWaitlist - POST /api/waitlist
// Встать в лист ожидания на новое место
func (h *Handlers) JoinWaitlist(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}

	var req models.JoinWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.services.Waitlist.Join(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err, "Failed to join waitlist")
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// AddGuestWaitlist - POST /api/waitlist/guests
// Встать в лист ожидания за гостевыми местами
func (h *Handlers) AddGuestWaitlist(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}

	var req models.AddGuestWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.services.Waitlist.AddGuestWaitlist(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err, "Failed to join guest waitlist")
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// ReduceWaitlist - PATCH /api/waitlist/:id/reduce
func (h *Handlers) ReduceWaitlist(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}
	entryID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req models.ReduceWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.services.Waitlist.ReduceWaitlist(c.Request.Context(), userID, entryID, req.Count)
	if err != nil {
		respondError(c, err, "Failed to reduce waitlist entry")
		return
	}

	if entry == nil {
		c.JSON(http.StatusOK, gin.H{"entry_id": entryID, "removed": true})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// WithdrawWaitlist - DELETE /api/waitlist/:id
func (h *Handlers) WithdrawWaitlist(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}
	entryID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.services.Waitlist.Withdraw(c.Request.Context(), userID, entryID); err != nil {
		respondError(c, err, "Failed to withdraw waitlist entry")
		return
	}

	c.Status(http.StatusNoContent)
}
