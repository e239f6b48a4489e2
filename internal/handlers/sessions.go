package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slotbook/internal/models"
)

// CreateSession - POST /api/sessions
// Создать сеанс
func (h *Handlers) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.services.Sessions.CreateSession(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err, "Failed to create session")
		return
	}

	c.JSON(http.StatusCreated, models.CreateSessionResponse{ID: session.ID})
}

// GetOccupancy - GET /api/sessions/:id/occupancy
// Получить заполненность сеанса
func (h *Handlers) GetOccupancy(c *gin.Context) {
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	occ, err := h.services.Sessions.Occupancy(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err, "Failed to get occupancy")
		return
	}

	c.JSON(http.StatusOK, occ)
}

// AuditSession - GET /api/sessions/:id/audit
func (h *Handlers) AuditSession(c *gin.Context) {
	sessionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.services.Sessions.Audit(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err, "Failed to audit session")
		return
	}

	c.JSON(http.StatusOK, result)
}

// UserStatus - GET /api/me/status
// Бронирования и записи в листе ожидания текущего пользователя
func (h *Handlers) UserStatus(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}

	status, err := h.services.Sessions.UserStatus(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to get user status")
		return
	}

	c.JSON(http.StatusOK, status)
}
