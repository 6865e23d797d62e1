package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"direct-booking/internal/logging"
	"direct-booking/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	pubnub "github.com/pubnub/go/v7"
)

// Publisher is the part of a PubNub client the sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

// NewPubNubPublisher adapts a PubNub client to Publisher.
func NewPubNubPublisher(pn *pubnub.PubNub) Publisher {
	return &pubnubPublisher{pn: pn}
}

func (p *pubnubPublisher) Publish(ctx context.Context, channel string, message any) error {
	_, status, err := p.pn.PublishWithContext(ctx).
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		return err
	}
	if status.Error != nil {
		return status.Error
	}
	return nil
}

// PubNubSink pushes notifications to the recipient's personal channel.
type PubNubSink struct {
	pub Publisher
}

func NewPubNubSink(pub Publisher) *PubNubSink {
	return &PubNubSink{pub: pub}
}

func (s *PubNubSink) Name() string { return "pubnub" }

func UserChannel(recipientID string) string {
	return fmt.Sprintf("user-%s", recipientID)
}

func (s *PubNubSink) Deliver(ctx context.Context, n models.Notification) error {
	return s.pub.Publish(ctx, UserChannel(n.RecipientID), map[string]any{
		"type":       string(n.Kind),
		"booking_id": n.BookingID,
		"payload":    n.Payload,
		"created_at": n.CreatedAt.Unix(),
	})
}

const notificationsCollection = "notifications"

// RecordSink stores notifications in the notifications collection so users
// can list them in the app. A notification already stored under the same
// dedup key is not written again.
type RecordSink struct {
	app core.App
}

func NewRecordSink(app core.App) *RecordSink {
	return &RecordSink{app: app}
}

func (s *RecordSink) Name() string { return "record" }

func (s *RecordSink) Deliver(ctx context.Context, n models.Notification) error {
	key := n.DedupKey()
	_, err := s.app.FindFirstRecordByFilter(notificationsCollection, "dedup_key = {:key}", dbx.Params{"key": key})
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup notification %s: %w", key, err)
	}

	collection, err := s.app.FindCollectionByNameOrId(notificationsCollection)
	if err != nil {
		return fmt.Errorf("find notifications collection: %w", err)
	}

	rec := core.NewRecord(collection)
	rec.Set("kind", string(n.Kind))
	rec.Set("recipient_id", n.RecipientID)
	rec.Set("booking_id", n.BookingID)
	rec.Set("payload", n.Payload)
	rec.Set("dedup_key", key)
	rec.Set("read", false)

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("save notification %s: %w", key, err)
	}
	return nil
}

// LogSink writes notifications to the application log. It is the fallback
// when no other sink is configured.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(ctx context.Context, n models.Notification) error {
	logging.Ctx(ctx).Info().
		Str("kind", string(n.Kind)).
		Str("recipient_id", n.RecipientID).
		Str("booking_id", n.BookingID).
		Interface("payload", n.Payload).
		Msg("notification")
	return nil
}
