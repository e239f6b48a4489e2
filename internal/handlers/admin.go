package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunSweep - POST /api/admin/sweeps/:name
// Запустить периодическую задачу вне расписания: expiry, refunds или outbox
func (h *Handlers) RunSweep(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		result any
		err    error
	)
	switch name := c.Param("name"); name {
	case "expiry":
		result, err = h.services.Payments.SweepExpired(ctx)
	case "refunds":
		result, err = h.services.Refunds.SweepRefunds(ctx)
	case "outbox":
		result, err = h.services.Outbox.DispatchPending(ctx)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown sweep " + name})
		return
	}
	if err != nil {
		respondError(c, err, "Sweep failed")
		return
	}

	c.JSON(http.StatusOK, result)
}
