package monitoring

import (
	"context"
	"runtime"
	"time"

	"direct-booking/internal/logging"
	"direct-booking/internal/status"
	"direct-booking/internal/store"
	"direct-booking/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	bookingCreates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_creates_total",
			Help: "Booking creation attempts by outcome",
		},
		[]string{"outcome"},
	)

	bookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Committed booking status changes",
		},
		[]string{"from", "to"},
	)

	paymentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Payment events by kind and reconciliation outcome",
		},
		[]string{"kind", "outcome"},
	)

	notificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Notification delivery attempts per sink",
		},
		[]string{"sink", "kind", "outcome"},
	)

	lockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_lock_wait_seconds",
			Help:    "Time spent waiting for a property or booking lock",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"scope"},
	)

	activeBookings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookings_by_status",
			Help: "Current number of bookings per status",
		},
		[]string{"status"},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)

	redisUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redis_up",
			Help: "1 when the last Redis ping succeeded",
		},
	)
)

func TrackBookingCreate(outcome string) {
	bookingCreates.WithLabelValues(outcome).Inc()
}

func TrackTransition(from, to status.Status) {
	bookingTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func TrackPaymentEvent(kind, outcome string) {
	paymentEvents.WithLabelValues(kind, outcome).Inc()
}

func TrackNotification(sink, kind, outcome string) {
	notificationDeliveries.WithLabelValues(sink, kind, outcome).Inc()
}

func TrackLockWait(scope string, d time.Duration) {
	lockWait.WithLabelValues(scope).Observe(d.Seconds())
}

// Monitor samples gauges that are cheaper to poll than to track inline.
type Monitor struct {
	store store.Store
	redis *redis.Client
}

// NewMonitor builds a collector. redisClient may be nil.
func NewMonitor(st store.Store, redisClient *redis.Client) *Monitor {
	return &Monitor{store: st, redis: redisClient}
}

// Run collects every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect(ctx)
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	m.collectBookingMetrics(ctx)
	m.collectRedisMetrics(ctx)
	goroutineCount.Set(float64(runtime.NumGoroutine()))
}

func (m *Monitor) collectBookingMetrics(ctx context.Context) {
	for _, s := range []status.Status{status.Pending, status.Confirmed, status.Cancelled, status.Completed} {
		bookings, err := m.store.ListBookingsByStatus(ctx, s, store.BookingFilter{})
		if err != nil {
			logging.Warn().Err(err).Str("status", s.String()).Msg("failed to sample bookings")
			continue
		}
		activeBookings.WithLabelValues(s.String()).Set(float64(len(bookings)))
	}
}

func (m *Monitor) collectRedisMetrics(ctx context.Context) {
	if m.redis == nil {
		return
	}
	if err := utils.RedisHealthCheck(ctx, m.redis); err != nil {
		redisUp.Set(0)
		return
	}
	redisUp.Set(1)
}
