package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"direct-booking/internal/logging"
	"direct-booking/internal/services"
	"direct-booking/models"

	"github.com/goccy/go-json"
	pubnub "github.com/pubnub/go/v7"
)

// Processor applies decoded payment events.
type Processor interface {
	ProcessEvent(ctx context.Context, ev models.PaymentEvent) (services.Outcome, error)
}

// Feed consumes payment notifications the gateway publishes on a PubNub
// channel. PubNub cannot redeliver, so retriable failures are retried here
// with backoff before the message is given up.
type Feed struct {
	pn        *pubnub.PubNub
	listener  *pubnub.Listener
	channel   string
	processor Processor

	maxAttempts int
	backoff     time.Duration
	done        chan struct{}
}

func NewFeed(pn *pubnub.PubNub, channel string, processor Processor) *Feed {
	return &Feed{
		pn:          pn,
		listener:    pubnub.NewListener(),
		channel:     channel,
		processor:   processor,
		maxAttempts: 5,
		backoff:     time.Second,
		done:        make(chan struct{}),
	}
}

// Start subscribes to the channel and consumes messages until ctx is done.
func (f *Feed) Start(ctx context.Context) {
	if f.pn != nil {
		f.pn.AddListener(f.listener)
		f.pn.Subscribe().
			Channels([]string{f.channel}).
			Execute()
	}
	go f.run(ctx)
}

// Done is closed once the consume loop has exited.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	log := logging.WithComponent("gateway").With().Str("channel", f.channel).Logger()

	for {
		select {
		case st := <-f.listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Info().Msg("connected to pubnub")
			case pubnub.PNReconnectedCategory:
				log.Info().Msg("reconnected to pubnub")
			case pubnub.PNDisconnectedCategory:
				log.Warn().Msg("disconnected from pubnub")
			case pubnub.PNAccessDeniedCategory:
				log.Error().Msg("pubnub access denied")
			}

		case msg := <-f.listener.Message:
			f.handle(logging.ContextWithNewCorrelationID(ctx), msg)

		case <-ctx.Done():
			if f.pn != nil {
				f.pn.Unsubscribe().Channels([]string{f.channel}).Execute()
				f.pn.RemoveListener(f.listener)
			}
			log.Info().Msg("payment feed stopped")
			return
		}
	}
}

func (f *Feed) handle(ctx context.Context, msg *pubnub.PNMessage) {
	log := logging.Ctx(ctx)

	body, err := messageBody(msg.Message)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring payment notification")
		return
	}
	ev, err := Decode(body)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring payment notification")
		return
	}

	wait := f.backoff
	for attempt := 1; ; attempt++ {
		_, err := f.processor.ProcessEvent(ctx, ev)
		if err == nil {
			return
		}
		var retriable *services.ReconciliationError
		if !errors.As(err, &retriable) || attempt >= f.maxAttempts {
			log.Error().Err(err).
				Str("event_id", ev.Envelope().ExternalEventID).
				Int("attempts", attempt).
				Msg("payment notification dropped")
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		wait *= 2
	}
}

// messageBody accepts the message as a JSON string or as an already decoded object.
func messageBody(m any) ([]byte, error) {
	switch v := m.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case map[string]any:
		return json.Marshal(v)
	case nil:
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unexpected message type %T", ErrMalformed, m)
	}
}
