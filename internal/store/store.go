// Package store persists properties and bookings.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"direct-booking/internal/status"
	"direct-booking/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrOverlap  = errors.New("stay overlaps an active booking")
)

// OverlapError is returned by InsertBooking when the insert-time re-check
// finds an active booking on the same dates. It matches ErrOverlap.
type OverlapError struct {
	Conflict models.BookingSummary
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s: booking %s (%s to %s)", ErrOverlap, e.Conflict.ID, e.Conflict.CheckIn, e.Conflict.CheckOut)
}

func (e *OverlapError) Is(target error) bool {
	return target == ErrOverlap
}

// BookingUpdate carries the optional fields written together with a status change.
// Nil fields are left as they are.
type BookingUpdate struct {
	CancellationReason *string
	PaymentReference   *string
	RefundedAmount     *decimal.Decimal
}

// BookingFilter narrows ListBookingsByStatus. Zero fields do not filter.
type BookingFilter struct {
	CreatedBefore      time.Time
	CheckOutOnOrBefore *models.Date
	Limit              int
}

type Store interface {
	LoadProperty(ctx context.Context, id string) (*models.Property, error)
	// LoadActiveBookingsForProperty returns the property's pending and confirmed bookings.
	LoadActiveBookingsForProperty(ctx context.Context, propertyID string) ([]*models.Booking, error)
	// InsertBooking assigns ID and timestamps. It fails with *OverlapError
	// when an active booking of the same property overlaps the new stay.
	InsertBooking(ctx context.Context, b *models.Booking) (*models.Booking, error)
	LoadBooking(ctx context.Context, id string) (*models.Booking, error)
	LoadBookingByPaymentReference(ctx context.Context, ref string) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, to status.Status, upd BookingUpdate) (*models.Booking, error)
	ListBookingsByStatus(ctx context.Context, s status.Status, f BookingFilter) ([]*models.Booking, error)
}

func applyUpdate(b *models.Booking, to status.Status, upd BookingUpdate) {
	b.Status = to
	if upd.CancellationReason != nil {
		b.CancellationReason = *upd.CancellationReason
	}
	if upd.PaymentReference != nil {
		ref := *upd.PaymentReference
		b.PaymentReference = &ref
	}
	if upd.RefundedAmount != nil {
		amt := *upd.RefundedAmount
		b.RefundedAmount = &amt
	}
}
