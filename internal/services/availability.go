package services

import (
	"context"
	"time"

	"direct-booking/internal/store"
	"direct-booking/models"
)

type Availability struct {
	Available bool                   `json:"available"`
	Conflict  *models.BookingSummary `json:"conflict,omitempty"`
}

// FindConflict returns the active booking overlapping [checkIn, checkOut)
// with the earliest check-in, or nil. A booking that checks out on the
// requested check-in day does not overlap. excludeID, when set, is skipped.
func FindConflict(existing []*models.Booking, checkIn, checkOut models.Date, excludeID string) *models.BookingSummary {
	found := models.FirstOverlap(existing, checkIn, checkOut, excludeID)
	if found == nil {
		return nil
	}
	summary := found.Summary()
	return &summary
}

// AvailabilityChecker answers availability questions from a snapshot of the
// store. It takes no locks; callers that act on the answer must hold the
// property lock.
type AvailabilityChecker struct {
	store   store.Store
	timeout time.Duration
}

func NewAvailabilityChecker(st store.Store, timeout time.Duration) *AvailabilityChecker {
	return &AvailabilityChecker{store: st, timeout: timeout}
}

func (c *AvailabilityChecker) CheckAvailability(ctx context.Context, propertyID string, checkIn, checkOut models.Date) (Availability, error) {
	if !checkOut.After(checkIn) {
		return Availability{}, &ValidationError{Issues: []FieldIssue{
			{Field: "checkOut", Message: "must be after checkIn"},
		}}
	}
	return c.check(ctx, propertyID, checkIn, checkOut, "")
}

func (c *AvailabilityChecker) check(ctx context.Context, propertyID string, checkIn, checkOut models.Date, excludeID string) (Availability, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	existing, err := c.store.LoadActiveBookingsForProperty(ctx, propertyID)
	if err != nil {
		return Availability{}, &PersistenceError{Op: "load active bookings", Err: err}
	}

	conflict := FindConflict(existing, checkIn, checkOut, excludeID)
	return Availability{Available: conflict == nil, Conflict: conflict}, nil
}
