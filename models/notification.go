package models

import (
	"fmt"
	"time"
)

type NotificationKind string

const (
	NotifyBookingCreated   NotificationKind = "booking_created"
	NotifyBookingConfirmed NotificationKind = "booking_confirmed"
	NotifyBookingCancelled NotificationKind = "booking_cancelled"
	NotifyBookingRefunded  NotificationKind = "booking_refunded"
)

// Notification is one user-facing alert queued for best-effort delivery.
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	RecipientID string           `json:"recipient_id"`
	BookingID   string           `json:"booking_id"`
	Payload     map[string]any   `json:"payload"`
	CreatedAt   time.Time        `json:"created_at"`
}

// DedupKey identifies the notification across delivery retries.
func (n Notification) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s", n.Kind, n.BookingID, n.RecipientID)
}
