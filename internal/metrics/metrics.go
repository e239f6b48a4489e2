package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbook",
		Name:      "registrations_total",
		Help:      "Per-session registration outcomes.",
	}, []string{"outcome"})

	Cancellations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "slotbook",
		Name:      "cancellations_total",
		Help:      "Confirmed bookings cancelled by their owners.",
	})

	Promotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbook",
		Name:      "waitlist_promotions_total",
		Help:      "Waitlist promotions by entry kind.",
	}, []string{"kind"})

	WaitlistJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbook",
		Name:      "waitlist_joins_total",
		Help:      "Waitlist joins by entry kind.",
	}, []string{"kind"})

	GuestChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbook",
		Name:      "guest_seats_total",
		Help:      "Guest seats added, waitlisted or removed.",
	}, []string{"change"})

	HoldsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "slotbook",
		Name:      "holds_expired_total",
		Help:      "Pending payment holds cancelled by the expiry sweep.",
	})

	PaymentsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbook",
		Name:      "payments_confirmed_total",
		Help:      "Payment confirmations by result.",
	}, []string{"result"})

	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbook",
		Name:      "refunds_total",
		Help:      "Refund attempts by result.",
	}, []string{"result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbook",
		Name:      "notifications_total",
		Help:      "Outbox dispatch attempts by result.",
	}, []string{"result"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "slotbook",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of periodic sweeps.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sweep"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slotbook",
		Name:      "sweep_runs_total",
		Help:      "Scheduled sweep passes by job and result.",
	}, []string{"job", "result"})

	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "slotbook",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
