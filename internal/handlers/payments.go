package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slotbook/internal/logger"
	"slotbook/internal/models"
	"slotbook/internal/service"
)

// Payments handlers

// NotifyPaymentCompleted - GET /api/payments/success
// Платежный шлюз перенаправляет сюда после оплаты; платеж проверяется у шлюза синхронно
func (h *Handlers) NotifyPaymentCompleted(c *gin.Context) {
	orderID := c.Query("orderId")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
		return
	}

	resp, err := h.services.Payments.ConfirmVerified(c.Request.Context(), orderID, c.Query("paymentId"))
	if err != nil {
		respondError(c, err, "Failed to confirm payment")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// NotifyPaymentFailed - GET /api/payments/fail
// Неуспешная оплата ничего не меняет: удержание истечет само
func (h *Handlers) NotifyPaymentFailed(c *gin.Context) {
	orderID := c.Query("orderId")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
		return
	}

	logger.WithContext(c.Request.Context()).Info("Payment failed for order", "order_id", orderID)

	c.Status(http.StatusOK)
}

// OnPaymentUpdates - POST /api/payments/notifications
// Принимать уведомления от платежного шлюза. Проведенные платежи уходят в payment.completed;
// если публикация не удалась, платеж подтверждается сразу
func (h *Handlers) OnPaymentUpdates(c *gin.Context) {
	var notification models.PaymentNotificationPayload
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	log := logger.WithContext(ctx).With("order_id", notification.OrderID, "payment_id", notification.PaymentID)

	if h.publisher != nil && service.IsCaptured(notification.Status) {
		event, err := service.CompletedEvent(&notification, h.now())
		if err != nil {
			respondError(c, err, "Failed to handle notification")
			return
		}
		err = h.publisher.Publish(models.SubjectPaymentCompleted, event)
		if err == nil {
			c.Status(http.StatusAccepted)
			return
		}
		log.Warn("Publishing payment.completed failed, confirming directly", "error", err)
	}

	resp, err := h.services.Payments.HandlePaymentNotification(ctx, &notification)
	if err != nil {
		respondError(c, err, "Failed to handle notification")
		return
	}

	c.JSON(http.StatusOK, resp)
}
