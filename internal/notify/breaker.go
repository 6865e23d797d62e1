package notify

import (
	"context"

	"direct-booking/config"
	"direct-booking/internal/logging"
	"direct-booking/models"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerSink stops calling a sink after a run of consecutive failures and
// fails fast with gobreaker.ErrOpenState until the breaker half-opens again.
type BreakerSink struct {
	sink Sink
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerSink(sink Sink, cfg config.NotifyConfig) *BreakerSink {
	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	log := logging.WithComponent("notify")

	settings := gobreaker.Settings{
		Name:        sink.Name(),
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("sink", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("notification sink breaker changed state")
		},
	}

	return &BreakerSink{
		sink: sink,
		cb:   gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

func (b *BreakerSink) Name() string { return b.sink.Name() }

func (b *BreakerSink) Deliver(ctx context.Context, n models.Notification) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.sink.Deliver(ctx, n)
	})
	return err
}

func (b *BreakerSink) State() gobreaker.State {
	return b.cb.State()
}
