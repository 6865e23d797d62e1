// Package notify delivers booking notifications off the request path.
//
// Dispatch publishes onto an in-process watermill topic and returns. Each sink
// consumes the topic through its own router handler, so a slow or failing sink
// is retried on its own and never holds up the others. Messages that exhaust
// their retries land on the poison topic, where they are logged and counted.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"direct-booking/config"
	"direct-booking/internal/logging"
	"direct-booking/models"
	"direct-booking/monitoring"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
)

const (
	metaKind          = "kind"
	metaDedupKey      = "dedup_key"
	metaCorrelationID = "correlation_id"
)

var ErrDispatcherClosed = errors.New("notification dispatcher is closed")

// Sink is one delivery channel for notifications.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n models.Notification) error
}

// Stats counts handler outcomes since start.
type Stats struct {
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Poisoned  int64 `json:"poisoned"`
}

type Dispatcher struct {
	cfg    config.NotifyConfig
	pubsub *gochannel.GoChannel
	router *message.Router
	logger watermill.LoggerAdapter

	closed    atomic.Bool
	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	poisoned  atomic.Int64
}

// NewDispatcher builds the router and registers one handler per sink. Sinks
// are wrapped in a circuit breaker. Call Run before the first Dispatch.
func NewDispatcher(cfg config.NotifyConfig, logger watermill.LoggerAdapter, sinks ...Sink) (*Dispatcher, error) {
	if len(sinks) == 0 {
		return nil, errors.New("notify: at least one sink is required")
	}
	if logger == nil {
		logger = logging.NewWatermillAdapter(logging.WithComponent("notify"))
	}

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create notification router: %w", err)
	}

	d := &Dispatcher{
		cfg:    cfg,
		pubsub: pubsub,
		router: router,
		logger: logger,
	}

	poison, err := middleware.PoisonQueue(pubsub, cfg.PoisonTopic)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}

	for _, sink := range sinks {
		guarded := NewBreakerSink(sink, cfg)
		h := router.AddConsumerHandler("notify."+sink.Name(), cfg.Topic, pubsub, d.deliverTo(guarded))
		// first added runs outermost
		h.AddMiddleware(poison, retry.Middleware, middleware.Recoverer)
	}
	router.AddConsumerHandler("notify.poison", cfg.PoisonTopic, pubsub, d.handlePoisoned)

	return d, nil
}

// Run starts the router and blocks until it is running or ctx is done.
// The router keeps running until ctx is cancelled or Close is called.
func (d *Dispatcher) Run(ctx context.Context) error {
	failed := make(chan error, 1)
	go func() {
		if err := d.router.Run(ctx); err != nil {
			d.logger.Error("notification router stopped", err, nil)
			failed <- err
		}
	}()

	select {
	case <-d.router.Running():
		return nil
	case err := <-failed:
		return fmt.Errorf("start notification router: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("start notification router: %w", ctx.Err())
	}
}

// Dispatch queues n for every sink. It returns as soon as the message is
// handed to the topic.
func (d *Dispatcher) Dispatch(ctx context.Context, n models.Notification) error {
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaKind, string(n.Kind))
	msg.Metadata.Set(metaDedupKey, n.DedupKey())
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set(metaCorrelationID, id)
	}

	if err := d.pubsub.Publish(d.cfg.Topic, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	d.published.Add(1)
	return nil
}

func (d *Dispatcher) deliverTo(sink Sink) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		n, err := decodeNotification(msg)
		if err != nil {
			// a payload that cannot be decoded will not decode on retry either
			d.logger.Error("dropping undecodable notification", err, watermill.LogFields{"message_uuid": msg.UUID})
			return nil
		}

		ctx := messageContext(msg)
		if d.cfg.DeliveryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
			defer cancel()
		}

		if err := sink.Deliver(ctx, n); err != nil {
			d.failed.Add(1)
			monitoring.TrackNotification(sink.Name(), string(n.Kind), "failed")
			return fmt.Errorf("deliver %s via %s: %w", n.DedupKey(), sink.Name(), err)
		}
		d.delivered.Add(1)
		monitoring.TrackNotification(sink.Name(), string(n.Kind), "delivered")
		return nil
	}
}

func (d *Dispatcher) handlePoisoned(msg *message.Message) error {
	d.poisoned.Add(1)

	n, err := decodeNotification(msg)
	if err != nil {
		d.logger.Error("undecodable poisoned notification", err, watermill.LogFields{"message_uuid": msg.UUID})
		return nil
	}
	monitoring.TrackNotification(msg.Metadata.Get(middleware.PoisonedHandlerKey), string(n.Kind), "poisoned")

	logging.Ctx(messageContext(msg)).Error().
		Str("kind", string(n.Kind)).
		Str("booking_id", n.BookingID).
		Str("recipient_id", n.RecipientID).
		Str("handler", msg.Metadata.Get(middleware.PoisonedHandlerKey)).
		Str("reason", msg.Metadata.Get(middleware.ReasonForPoisonedKey)).
		Msg("notification gave up after retries")
	return nil
}

func decodeNotification(msg *message.Message) (models.Notification, error) {
	var n models.Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		return models.Notification{}, err
	}
	return n, nil
}

func messageContext(msg *message.Message) context.Context {
	ctx := msg.Context()
	if id := msg.Metadata.Get(metaCorrelationID); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}
	return ctx
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Published: d.published.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Poisoned:  d.poisoned.Load(),
	}
}

// Close stops accepting notifications, waits for in-flight handlers up to the
// configured close timeout and releases the topic.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(d.router.Close(), d.pubsub.Close())
}
