package models

import (
	"time"

	"direct-booking/internal/status"

	"github.com/shopspring/decimal"
)

type Booking struct {
	ID                 string           `json:"id"`
	PropertyID         string           `json:"property_id"`
	GuestID            *string          `json:"guest_id,omitempty"`
	HostID             string           `json:"host_id"`
	CheckIn            Date             `json:"check_in"`
	CheckOut           Date             `json:"check_out"`
	GuestsCount        int              `json:"guests_count"`
	TotalAmount        decimal.Decimal  `json:"total_amount"`
	Status             status.Status    `json:"status"`
	PaymentReference   *string          `json:"payment_reference,omitempty"`
	CancellationReason string           `json:"cancellation_reason,omitempty"`
	RefundedAmount     *decimal.Decimal `json:"refunded_amount,omitempty"`
	GuestName          string           `json:"guest_name"`
	GuestEmail         string           `json:"guest_email"`
	GuestPhone         string           `json:"guest_phone"`
	SpecialRequests    string           `json:"special_requests,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Overlaps reports whether the booking's stay intersects [checkIn, checkOut).
// Touching intervals (same-day turnover) do not overlap.
func (b *Booking) Overlaps(checkIn, checkOut Date) bool {
	return checkIn.Before(b.CheckOut) && checkOut.After(b.CheckIn)
}

// FirstOverlap returns the pending or confirmed booking overlapping
// [checkIn, checkOut) with the earliest check-in, skipping excludeID.
func FirstOverlap(bookings []*Booking, checkIn, checkOut Date, excludeID string) *Booking {
	var found *Booking
	for _, b := range bookings {
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		if !b.Status.HoldsCalendar() || !b.Overlaps(checkIn, checkOut) {
			continue
		}
		if found == nil || b.CheckIn.Before(found.CheckIn) {
			found = b
		}
	}
	return found
}

func (b *Booking) Summary() BookingSummary {
	return BookingSummary{
		ID:       b.ID,
		CheckIn:  b.CheckIn,
		CheckOut: b.CheckOut,
		Status:   b.Status,
	}
}

func (b *Booking) Nights() int {
	return b.CheckIn.NightsUntil(b.CheckOut)
}

// Clone returns a deep copy so stores can hand out bookings without sharing pointers.
func (b *Booking) Clone() *Booking {
	c := *b
	if b.GuestID != nil {
		v := *b.GuestID
		c.GuestID = &v
	}
	if b.PaymentReference != nil {
		v := *b.PaymentReference
		c.PaymentReference = &v
	}
	if b.RefundedAmount != nil {
		v := *b.RefundedAmount
		c.RefundedAmount = &v
	}
	return &c
}

// BookingSummary identifies a booking in conflict diagnostics.
type BookingSummary struct {
	ID       string        `json:"bookingId"`
	CheckIn  Date          `json:"checkIn"`
	CheckOut Date          `json:"checkOut"`
	Status   status.Status `json:"status"`
}

type GuestInfo struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Phone           string `json:"phone" validate:"required"`
	SpecialRequests string `json:"specialRequests,omitempty" validate:"max=2000"`
}

// CreateBookingRequest is the inbound create payload. Dates stay strings
// until validation so that malformed values are reported with every other issue.
type CreateBookingRequest struct {
	PropertyID  string          `json:"propertyId" validate:"required"`
	CheckIn     string          `json:"checkIn" validate:"required"`
	CheckOut    string          `json:"checkOut" validate:"required"`
	GuestsCount int             `json:"guestsCount"`
	Guest       GuestInfo       `json:"guest"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	GuestID     *string         `json:"guestId,omitempty"`
}

// BookingCreatedResponse is the success body of the create endpoint.
type BookingCreatedResponse struct {
	BookingID   string          `json:"bookingId"`
	Status      status.Status   `json:"status"`
	CheckIn     Date            `json:"checkIn"`
	CheckOut    Date            `json:"checkOut"`
	GuestsCount int             `json:"guestsCount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func NewBookingCreatedResponse(b *Booking) BookingCreatedResponse {
	return BookingCreatedResponse{
		BookingID:   b.ID,
		Status:      b.Status,
		CheckIn:     b.CheckIn,
		CheckOut:    b.CheckOut,
		GuestsCount: b.GuestsCount,
		TotalAmount: b.TotalAmount,
		CreatedAt:   b.CreatedAt,
	}
}
