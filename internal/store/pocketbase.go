package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"direct-booking/internal/status"
	"direct-booking/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

const (
	PropertiesCollection = "properties"
	BookingsCollection   = "bookings"
)

// activeFilter matches the statuses that hold the calendar.
var activeFilter = func() string {
	parts := make([]string, 0, len(status.Active))
	for _, s := range status.Active {
		parts = append(parts, fmt.Sprintf("status = '%s'", s))
	}
	return "(" + strings.Join(parts, " || ") + ")"
}()

// PocketBaseStore keeps properties and bookings as PocketBase records.
// Dates are stored as YYYY-MM-DD text so they compare lexically; amounts
// are stored as decimal text.
type PocketBaseStore struct {
	app core.App
}

var _ Store = (*PocketBaseStore)(nil)

func NewPocketBaseStore(app core.App) *PocketBaseStore {
	return &PocketBaseStore{app: app}
}

func (s *PocketBaseStore) LoadProperty(ctx context.Context, id string) (*models.Property, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.app.FindRecordById(PropertiesCollection, id)
	if err != nil {
		return nil, notFound(err)
	}
	return propertyFromRecord(rec)
}

func (s *PocketBaseStore) LoadActiveBookingsForProperty(ctx context.Context, propertyID string) ([]*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.activeBookings(s.app, propertyID, "", "")
}

// activeBookings lists active bookings of a property, optionally only those
// overlapping [checkIn, checkOut).
func (s *PocketBaseStore) activeBookings(app core.App, propertyID, checkIn, checkOut string) ([]*models.Booking, error) {
	filter := "property_id = {:pid} && " + activeFilter
	params := dbx.Params{"pid": propertyID}
	if checkIn != "" {
		filter += " && check_in < {:out} && check_out > {:in}"
		params["in"] = checkIn
		params["out"] = checkOut
	}

	records, err := app.FindRecordsByFilter(BookingsCollection, filter, "check_in", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("query active bookings: %w", err)
	}
	return bookingsFromRecords(records)
}

func (s *PocketBaseStore) InsertBooking(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	var inserted *models.Booking

	err := s.app.RunInTransaction(func(txApp core.App) error {
		overlapping, err := s.activeBookings(txApp, b.PropertyID, b.CheckIn.String(), b.CheckOut.String())
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return &OverlapError{Conflict: overlapping[0].Summary()}
		}

		collection, err := txApp.FindCollectionByNameOrId(BookingsCollection)
		if err != nil {
			return fmt.Errorf("find bookings collection: %w", err)
		}

		rec := core.NewRecord(collection)
		if b.ID != "" {
			rec.Id = b.ID
		}
		fillBookingRecord(rec, b)

		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return fmt.Errorf("save booking: %w", err)
		}

		inserted, err = bookingFromRecord(rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s *PocketBaseStore) LoadBooking(ctx context.Context, id string) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.app.FindRecordById(BookingsCollection, id)
	if err != nil {
		return nil, notFound(err)
	}
	return bookingFromRecord(rec)
}

func (s *PocketBaseStore) LoadBookingByPaymentReference(ctx context.Context, ref string) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.app.FindFirstRecordByFilter(
		BookingsCollection,
		"payment_reference = {:ref}",
		dbx.Params{"ref": ref},
	)
	if err != nil {
		return nil, notFound(err)
	}
	return bookingFromRecord(rec)
}

func (s *PocketBaseStore) UpdateBookingStatus(ctx context.Context, id string, to status.Status, upd BookingUpdate) (*models.Booking, error) {
	rec, err := s.app.FindRecordById(BookingsCollection, id)
	if err != nil {
		return nil, notFound(err)
	}

	rec.Set("status", to.String())
	if upd.CancellationReason != nil {
		rec.Set("cancellation_reason", *upd.CancellationReason)
	}
	if upd.PaymentReference != nil {
		rec.Set("payment_reference", *upd.PaymentReference)
	}
	if upd.RefundedAmount != nil {
		rec.Set("refunded_amount", upd.RefundedAmount.String())
	}

	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return nil, fmt.Errorf("save booking %s: %w", id, err)
	}
	return bookingFromRecord(rec)
}

func (s *PocketBaseStore) ListBookingsByStatus(ctx context.Context, st status.Status, f BookingFilter) ([]*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter := "status = {:status}"
	params := dbx.Params{"status": st.String()}
	if !f.CreatedBefore.IsZero() {
		filter += " && created < {:before}"
		params["before"] = f.CreatedBefore.UTC().Format("2006-01-02 15:04:05.000Z")
	}
	if f.CheckOutOnOrBefore != nil {
		filter += " && check_out <= {:checkout}"
		params["checkout"] = f.CheckOutOnOrBefore.String()
	}

	records, err := s.app.FindRecordsByFilter(BookingsCollection, filter, "created", f.Limit, 0, params)
	if err != nil {
		return nil, fmt.Errorf("list %s bookings: %w", st, err)
	}
	return bookingsFromRecords(records)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func fillBookingRecord(rec *core.Record, b *models.Booking) {
	rec.Set("property_id", b.PropertyID)
	rec.Set("host_id", b.HostID)
	if b.GuestID != nil {
		rec.Set("guest_id", *b.GuestID)
	}
	rec.Set("check_in", b.CheckIn.String())
	rec.Set("check_out", b.CheckOut.String())
	rec.Set("guests_count", b.GuestsCount)
	rec.Set("total_amount", b.TotalAmount.String())
	rec.Set("status", b.Status.String())
	if b.PaymentReference != nil {
		rec.Set("payment_reference", *b.PaymentReference)
	}
	rec.Set("cancellation_reason", b.CancellationReason)
	if b.RefundedAmount != nil {
		rec.Set("refunded_amount", b.RefundedAmount.String())
	}
	rec.Set("guest_name", b.GuestName)
	rec.Set("guest_email", b.GuestEmail)
	rec.Set("guest_phone", b.GuestPhone)
	rec.Set("special_requests", b.SpecialRequests)
}

func propertyFromRecord(rec *core.Record) (*models.Property, error) {
	price, err := decimalField(rec, "price_per_night")
	if err != nil {
		return nil, err
	}
	return &models.Property{
		ID:            rec.Id,
		HostID:        rec.GetString("host_id"),
		Title:         rec.GetString("title"),
		MaxGuests:     rec.GetInt("max_guests"),
		IsActive:      rec.GetBool("is_active"),
		PricePerNight: price,
	}, nil
}

func bookingsFromRecords(records []*core.Record) ([]*models.Booking, error) {
	out := make([]*models.Booking, 0, len(records))
	for _, rec := range records {
		b, err := bookingFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func bookingFromRecord(rec *core.Record) (*models.Booking, error) {
	checkIn, err := models.ParseDate(rec.GetString("check_in"))
	if err != nil {
		return nil, fmt.Errorf("booking %s check_in: %w", rec.Id, err)
	}
	checkOut, err := models.ParseDate(rec.GetString("check_out"))
	if err != nil {
		return nil, fmt.Errorf("booking %s check_out: %w", rec.Id, err)
	}
	st, err := status.Parse(rec.GetString("status"))
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", rec.Id, err)
	}
	total, err := decimalField(rec, "total_amount")
	if err != nil {
		return nil, err
	}

	b := &models.Booking{
		ID:                 rec.Id,
		PropertyID:         rec.GetString("property_id"),
		HostID:             rec.GetString("host_id"),
		CheckIn:            checkIn,
		CheckOut:           checkOut,
		GuestsCount:        rec.GetInt("guests_count"),
		TotalAmount:        total,
		Status:             st,
		CancellationReason: rec.GetString("cancellation_reason"),
		GuestName:          rec.GetString("guest_name"),
		GuestEmail:         rec.GetString("guest_email"),
		GuestPhone:         rec.GetString("guest_phone"),
		SpecialRequests:    rec.GetString("special_requests"),
		CreatedAt:          rec.GetDateTime("created").Time(),
		UpdatedAt:          rec.GetDateTime("updated").Time(),
	}
	if v := rec.GetString("guest_id"); v != "" {
		b.GuestID = &v
	}
	if v := rec.GetString("payment_reference"); v != "" {
		b.PaymentReference = &v
	}
	if rec.GetString("refunded_amount") != "" {
		amt, err := decimalField(rec, "refunded_amount")
		if err != nil {
			return nil, err
		}
		b.RefundedAmount = &amt
	}
	return b, nil
}

func decimalField(rec *core.Record, field string) (decimal.Decimal, error) {
	raw := rec.GetString(field)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("record %s field %s: %w", rec.Id, field, err)
	}
	return d, nil
}
