package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"slotbook/internal/app"
	"slotbook/internal/config"
	"slotbook/internal/handlers"
	"slotbook/internal/metrics"
	"slotbook/internal/middleware"
)

// HealthFunc reports dependency states for /health.
type HealthFunc func(ctx context.Context) (map[string]string, bool)

// Server представляет HTTP сервер API
type Server struct {
	router *gin.Engine
	config *config.Config
	app    *app.App
}

// NewServer подключает зависимости и настраивает роутер
func NewServer(cfg *config.Config) (*Server, error) {
	gin.SetMode(cfg.GinMode)

	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}

	h := handlers.NewHandlers(a.Services, a.EventPublisher())
	return &Server{
		router: NewRouter(h, a.Health),
		config: cfg,
		app:    a,
	}, nil
}

// NewRouter builds the gin engine with every API route. health may be nil.
func NewRouter(h *handlers.Handlers, health HealthFunc) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())

	api := router.Group("/api")
	{
		// Webhooks come from the payment gateway, not from a signed-in user
		payments := api.Group("/payments")
		{
			payments.GET("/success", h.NotifyPaymentCompleted)
			payments.GET("/fail", h.NotifyPaymentFailed)
			payments.POST("/notifications", h.OnPaymentUpdates)
		}

		user := api.Group("")
		user.Use(middleware.Identity())
		{
			sessions := user.Group("/sessions")
			{
				sessions.POST("", h.CreateSession)
				sessions.GET("/:id/occupancy", h.GetOccupancy)
				sessions.GET("/:id/audit", h.AuditSession)
			}

			user.POST("/registrations", h.Register)

			bookings := user.Group("/bookings")
			{
				bookings.POST("/:id/cancel", h.CancelBooking)
				bookings.POST("/:id/guests", h.AddGuests)
				bookings.DELETE("/:id/guests", h.RemoveGuests)
				bookings.GET("/:id/history", h.BookingHistory)
			}

			waitlist := user.Group("/waitlist")
			{
				waitlist.POST("", h.JoinWaitlist)
				waitlist.POST("/guests", h.AddGuestWaitlist)
				waitlist.PATCH("/:id/reduce", h.ReduceWaitlist)
				waitlist.DELETE("/:id", h.WithdrawWaitlist)
			}

			user.GET("/me/status", h.UserStatus)
			user.POST("/admin/sweeps/:name", h.RunSweep)
		}
	}

	router.GET("/health", healthCheck(health))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// healthCheck обрабатывает health check запросы
func healthCheck(health HealthFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "slotbook-api",
		}
		if health == nil {
			c.JSON(http.StatusOK, body)
			return
		}

		deps, healthy := health(c.Request.Context())
		body["dependencies"] = deps
		if !healthy {
			body["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

// HTTPServer returns the net/http server bound to the configured port.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", s.config.Port),
		Handler:           http.TimeoutHandler(s.router, s.config.RequestTimeout, `{"error":"request timed out"}`),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// GetRouter возвращает роутер для тестирования
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Cleanup закрывает соединения
func (s *Server) Cleanup() {
	s.app.Close()
}
