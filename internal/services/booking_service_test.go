package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"direct-booking/internal/status"
	"direct-booking/internal/store"
	"direct-booking/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *recordingNotifier) Dispatch(_ context.Context, note models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) all() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.sent...)
}

func (n *recordingNotifier) count(kind models.NotificationKind) int {
	c := 0
	for _, note := range n.all() {
		if note.Kind == kind {
			c++
		}
	}
	return c
}

var testNow = time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.MemoryStore
	notifier *recordingNotifier
	svc      *BookingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore().WithClock(func() time.Time { return testNow })
	st.PutProperty(models.Property{
		ID:            "prop-x",
		HostID:        "host-1",
		Title:         "Lakeside cabin",
		MaxGuests:     4,
		IsActive:      true,
		PricePerNight: decimal.NewFromInt(120),
	})
	st.PutProperty(models.Property{ID: "prop-closed", HostID: "host-1", MaxGuests: 4, IsActive: false})

	n := &recordingNotifier{}
	svc := NewBookingService(st, NewMemoryLocker(), n, BookingConfig{
		MaxStayNights:       30,
		MaxGuestsPerBooking: 16,
		Location:            time.UTC,
		PhoneRegion:         "CA",
		StoreTimeout:        time.Second,
		LockTimeout:         5 * time.Second,
	}).WithClock(func() time.Time { return testNow })

	return &fixture{store: st, notifier: n, svc: svc}
}

func createRequest(in, out string, guests int) models.CreateBookingRequest {
	guestID := "guest-1"
	return models.CreateBookingRequest{
		PropertyID:  "prop-x",
		CheckIn:     in,
		CheckOut:    out,
		GuestsCount: guests,
		Guest: models.GuestInfo{
			Name:  "Ada Lovelace",
			Email: "ada@example.com",
			Phone: "+1 506 234 5678",
		},
		TotalAmount: decimal.NewFromInt(480),
		GuestID:     &guestID,
	}
}

func TestCreateBooking_Scenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateBooking(ctx, createRequest("2025-06-10", "2025-06-14", 2))
	require.NoError(t, err)
	assert.Equal(t, status.Pending, first.Status)
	assert.Equal(t, "host-1", first.HostID)
	assert.Equal(t, "+15062345678", first.GuestPhone)
	assert.Equal(t, testNow, first.CreatedAt)

	_, err = f.svc.CreateBooking(ctx, createRequest("2025-06-12", "2025-06-16", 2))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.Conflict.ID)
	assert.Equal(t, june(10), conflict.Conflict.CheckIn)
	assert.Equal(t, june(14), conflict.Conflict.CheckOut)

	third, err := f.svc.CreateBooking(ctx, createRequest("2025-06-14", "2025-06-18", 2))
	require.NoError(t, err)
	assert.Equal(t, status.Pending, third.Status)

	created := f.notifier.all()
	require.Len(t, created, 2)
	for _, n := range created {
		assert.Equal(t, models.NotifyBookingCreated, n.Kind)
		assert.Equal(t, "host-1", n.RecipientID)
	}
	assert.Equal(t, "Lakeside cabin", created[0].Payload["property_title"])
	assert.Equal(t, 4, created[0].Payload["nights"])
}

func TestCreateBooking_ConcurrentOverlappingRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []*models.Booking
		conflicts []*ConflictError
		others    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every range contains June 15
			in := fmt.Sprintf("2025-06-%02d", 10+i%5)
			out := fmt.Sprintf("2025-06-%02d", 16+i%3)
			b, err := f.svc.CreateBooking(ctx, createRequest(in, out, 2))

			mu.Lock()
			defer mu.Unlock()
			var ce *ConflictError
			switch {
			case err == nil:
				winners = append(winners, b)
			case errors.As(err, &ce):
				conflicts = append(conflicts, ce)
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, others)
	require.Len(t, winners, 1)
	assert.Len(t, conflicts, n-1)
	for _, ce := range conflicts {
		assert.Equal(t, winners[0].ID, ce.Conflict.ID)
	}

	active, err := f.store.LoadActiveBookingsForProperty(ctx, "prop-x")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestCreateBooking_ValidationCollectsAllIssues(t *testing.T) {
	f := newFixture(t)

	req := models.CreateBookingRequest{
		PropertyID:  "prop-x",
		CheckIn:     "06/10/2025",
		CheckOut:    "2025-06-14",
		GuestsCount: 0,
		Guest: models.GuestInfo{
			Name:  "A",
			Email: "not-an-email",
			Phone: "12",
		},
	}
	_, err := f.svc.CreateBooking(context.Background(), req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	fields := map[string]bool{}
	for _, issue := range verr.Issues {
		fields[issue.Field] = true
	}
	for _, want := range []string{"checkIn", "guestsCount", "guest.name", "guest.email", "guest.phone", "totalAmount"} {
		assert.True(t, fields[want], "missing issue for %s in %v", want, verr.Issues)
	}
	assert.Empty(t, f.notifier.all())
}

func TestCreateBooking_DateRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		in, out string
		field   string
		message string
	}{
		{"checkout before checkin", "2025-06-14", "2025-06-10", "checkOut", "must be after checkIn"},
		{"zero nights", "2025-06-14", "2025-06-14", "checkOut", "must be after checkIn"},
		{"in the past", "2025-05-20", "2025-05-25", "checkIn", "must not be in the past"},
		{"too long", "2025-06-10", "2025-07-20", "checkOut", "stay must not exceed 30 nights"},
		{"bad checkout", "2025-06-10", "soon", "checkOut", "must be a date in YYYY-MM-DD format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateBooking(ctx, createRequest(tt.in, tt.out, 2))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Issues, FieldIssue{Field: tt.field, Message: tt.message})
		})
	}

	// today is bookable
	_, err := f.svc.CreateBooking(ctx, createRequest("2025-06-01", "2025-06-03", 1))
	assert.NoError(t, err)
}

func TestCreateBooking_PropertyChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := createRequest("2025-06-10", "2025-06-14", 2)
	req.PropertyID = "missing"
	_, err := f.svc.CreateBooking(ctx, req)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "property", nf.Entity)

	req.PropertyID = "prop-closed"
	_, err = f.svc.CreateBooking(ctx, req)
	var se *StateError
	require.ErrorAs(t, err, &se)

	_, err = f.svc.CreateBooking(ctx, createRequest("2025-06-10", "2025-06-14", 5))
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "at most 4 guests")
}

func TestCreateBooking_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailNextWrite(errors.New("disk full"))

	_, err := f.svc.CreateBooking(context.Background(), createRequest("2025-06-10", "2025-06-14", 2))
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindPersistence, kind)
	assert.Empty(t, f.notifier.all())
}

func TestCreateBooking_NotifierFailureDoesNotFailCreate(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("queue closed")

	b, err := f.svc.CreateBooking(context.Background(), createRequest("2025-06-10", "2025-06-14", 2))
	require.NoError(t, err)
	assert.Equal(t, status.Pending, b.Status)
}

func TestTransitionStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.CreateBooking(ctx, createRequest("2025-06-10", "2025-06-14", 2))
	require.NoError(t, err)

	res, err := f.svc.TransitionStatus(ctx, TransitionRequest{BookingID: b.ID, Target: status.Confirmed, PaymentReference: "cs_1"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, status.Pending, res.From)
	require.NotNil(t, res.Booking.PaymentReference)
	assert.Equal(t, "cs_1", *res.Booking.PaymentReference)

	res, err = f.svc.TransitionStatus(ctx, TransitionRequest{BookingID: b.ID, Target: status.Confirmed, PaymentReference: "cs_other"})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, "cs_1", *res.Booking.PaymentReference)

	_, err = f.svc.TransitionStatus(ctx, TransitionRequest{BookingID: b.ID, Target: status.Pending})
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, status.Confirmed, te.From)
	assert.Equal(t, status.Pending, te.To)

	_, err = f.svc.TransitionStatus(ctx, TransitionRequest{BookingID: b.ID, Target: status.Status("archived")})
	require.ErrorAs(t, err, &te)

	res, err = f.svc.TransitionStatus(ctx, TransitionRequest{BookingID: b.ID, Target: status.Cancelled, Reason: "x", RequireFrom: []status.Status{status.Pending}})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, status.Confirmed, res.Booking.Status)

	_, err = f.svc.TransitionStatus(ctx, TransitionRequest{BookingID: "nope", Target: status.Cancelled})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestAcceptBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.CreateBooking(ctx, createRequest("2025-06-10", "2025-06-14", 2))
	require.NoError(t, err)

	_, err = f.svc.AcceptBooking(ctx, b.ID, "someone-else")
	var fe *ForbiddenError
	require.ErrorAs(t, err, &fe)

	accepted, err := f.svc.AcceptBooking(ctx, b.ID, "host-1")
	require.NoError(t, err)
	assert.Equal(t, status.Confirmed, accepted.Status)
	assert.Equal(t, 2, f.notifier.count(models.NotifyBookingConfirmed))

	_, err = f.svc.AcceptBooking(ctx, b.ID, "host-1")
	var te *TransitionError
	require.ErrorAs(t, err, &te, "accepting twice is refused")
	assert.Equal(t, status.Confirmed, te.From)
	assert.Equal(t, 2, f.notifier.count(models.NotifyBookingConfirmed))
}

func TestAcceptBooking_RecheckFindsSeededOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutBooking(&models.Booking{ID: "a", PropertyID: "prop-x", HostID: "host-1", CheckIn: june(10), CheckOut: june(14), Status: status.Pending})
	f.store.PutBooking(&models.Booking{ID: "b", PropertyID: "prop-x", HostID: "host-1", CheckIn: june(12), CheckOut: june(15), Status: status.Confirmed})

	_, err := f.svc.AcceptBooking(ctx, "a", "host-1")
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "b", ce.Conflict.ID)
}

func TestDeclineBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.CreateBooking(ctx, createRequest("2025-06-10", "2025-06-14", 2))
	require.NoError(t, err)

	declined, err := f.svc.DeclineBooking(ctx, b.ID, "host-1", "")
	require.NoError(t, err)
	assert.Equal(t, status.Cancelled, declined.Status)
	assert.Equal(t, ReasonDeclined, declined.CancellationReason)

	var recipients []string
	for _, n := range f.notifier.all() {
		if n.Kind == models.NotifyBookingCancelled {
			recipients = append(recipients, n.RecipientID)
		}
	}
	assert.ElementsMatch(t, []string{"host-1", "guest-1"}, recipients, "the guest learns about the decline")

	_, err = f.svc.DeclineBooking(ctx, b.ID, "host-1", "")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.CreateBooking(ctx, createRequest("2025-06-10", "2025-06-14", 2))
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(ctx, b.ID, "stranger", "")
	var fe *ForbiddenError
	require.ErrorAs(t, err, &fe)

	cancelled, err := f.svc.CancelBooking(ctx, b.ID, "host-1", "")
	require.NoError(t, err)
	assert.Equal(t, "cancelled_by_host", cancelled.CancellationReason)

	var recipients []string
	for _, n := range f.notifier.all() {
		if n.Kind == models.NotifyBookingCancelled {
			recipients = append(recipients, n.RecipientID)
		}
	}
	assert.ElementsMatch(t, []string{"host-1", "guest-1"}, recipients)

	// the dates are free again
	_, err = f.svc.CreateBooking(ctx, createRequest("2025-06-11", "2025-06-13", 2))
	assert.NoError(t, err)
}

func TestAttachPaymentReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.CreateBooking(ctx, createRequest("2025-06-10", "2025-06-14", 2))
	require.NoError(t, err)

	_, err = f.svc.AttachPaymentReference(ctx, b.ID, " ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	updated, err := f.svc.AttachPaymentReference(ctx, b.ID, "cs_123")
	require.NoError(t, err)
	require.NotNil(t, updated.PaymentReference)
	assert.Equal(t, "cs_123", *updated.PaymentReference)
	assert.Equal(t, status.Pending, updated.Status)

	byRef, err := f.store.LoadBookingByPaymentReference(ctx, "cs_123")
	require.NoError(t, err)
	assert.Equal(t, b.ID, byRef.ID)

	_, err = f.svc.DeclineBooking(ctx, b.ID, "host-1", "")
	require.NoError(t, err)
	_, err = f.svc.AttachPaymentReference(ctx, b.ID, "cs_456")
	var se *StateError
	require.ErrorAs(t, err, &se)
}

func TestExpireAbandoned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutBooking(&models.Booking{ID: "old", PropertyID: "prop-x", HostID: "host-1", CheckIn: june(10), CheckOut: june(12), Status: status.Pending, CreatedAt: testNow.Add(-3 * time.Hour)})
	f.store.PutBooking(&models.Booking{ID: "fresh", PropertyID: "prop-x", HostID: "host-1", CheckIn: june(12), CheckOut: june(14), Status: status.Pending, CreatedAt: testNow.Add(-10 * time.Minute)})
	f.store.PutBooking(&models.Booking{ID: "paid", PropertyID: "prop-x", HostID: "host-1", CheckIn: june(14), CheckOut: june(16), Status: status.Confirmed, CreatedAt: testNow.Add(-5 * time.Hour)})

	res, err := f.svc.ExpireAbandoned(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Examined: 1, Changed: 1}, res)

	old, err := f.svc.GetBooking(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, status.Cancelled, old.Status)
	assert.Equal(t, ReasonAbandoned, old.CancellationReason)

	fresh, err := f.svc.GetBooking(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, status.Pending, fresh.Status)
	assert.Equal(t, 1, f.notifier.count(models.NotifyBookingCancelled))
}

func TestCompleteStays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutBooking(&models.Booking{ID: "done", PropertyID: "prop-x", HostID: "host-1", CheckIn: june(1), CheckOut: june(5), Status: status.Confirmed})
	f.store.PutBooking(&models.Booking{ID: "staying", PropertyID: "prop-x", HostID: "host-1", CheckIn: june(5), CheckOut: june(9), Status: status.Confirmed})
	f.store.PutBooking(&models.Booking{ID: "unpaid", PropertyID: "prop-x", HostID: "host-1", CheckIn: june(1), CheckOut: june(3), Status: status.Pending})

	res, err := f.svc.CompleteStays(ctx, june(5))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Examined: 1, Changed: 1}, res)

	done, err := f.svc.GetBooking(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, status.Completed, done.Status)
	assert.Equal(t, june(1), f.svc.Today())
}
