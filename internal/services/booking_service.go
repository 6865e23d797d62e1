package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"direct-booking/internal/logging"
	"direct-booking/internal/status"
	"direct-booking/internal/store"
	"direct-booking/internal/validation"
	"direct-booking/models"
	"direct-booking/monitoring"

	"github.com/shopspring/decimal"
)

const (
	ReasonDeclined      = "declined"
	ReasonPaymentFailed = "payment_failed"
	ReasonRefund        = "refund"
	ReasonAbandoned     = "abandoned"
)

// Notifier queues a notification for delivery. It must not block on the
// delivery itself.
type Notifier interface {
	Dispatch(ctx context.Context, n models.Notification) error
}

type BookingConfig struct {
	MaxStayNights       int
	MaxGuestsPerBooking int
	Location            *time.Location
	PhoneRegion         string
	StoreTimeout        time.Duration
	LockTimeout         time.Duration
}

type BookingService struct {
	store        store.Store
	locker       Locker
	notifier     Notifier
	availability *AvailabilityChecker
	cfg          BookingConfig
	now          func() time.Time
}

func NewBookingService(st store.Store, locker Locker, notifier Notifier, cfg BookingConfig) *BookingService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &BookingService{
		store:        st,
		locker:       locker,
		notifier:     notifier,
		availability: NewAvailabilityChecker(st, cfg.StoreTimeout),
		cfg:          cfg,
		now:          time.Now,
	}
}

// WithClock replaces the clock used to decide what "today" is.
func (s *BookingService) WithClock(now func() time.Time) *BookingService {
	s.now = now
	return s
}

func (s *BookingService) Availability() *AvailabilityChecker {
	return s.availability
}

func (s *BookingService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *BookingService) lock(ctx context.Context, key string) (func(), error) {
	if s.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LockTimeout)
		defer cancel()
	}
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, &PersistenceError{Op: "acquire " + key, Err: err}
	}
	return unlock, nil
}

// bookingDraft is a create request that passed field validation.
type bookingDraft struct {
	checkIn  models.Date
	checkOut models.Date
	name     string
	email    string
	phone    string
}

// CreateBooking validates req, checks the property and its calendar under the
// property lock, and stores a pending booking.
func (s *BookingService) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.Booking, error) {
	log := logging.Ctx(ctx).With().Str("property_id", req.PropertyID).Logger()

	draft, err := s.validateCreate(req)
	if err != nil {
		monitoring.TrackBookingCreate("invalid")
		return nil, err
	}

	property, err := s.loadProperty(ctx, req.PropertyID)
	if err != nil {
		monitoring.TrackBookingCreate("rejected")
		return nil, err
	}
	if !property.IsActive {
		monitoring.TrackBookingCreate("rejected")
		return nil, &StateError{Reason: "property is not accepting bookings"}
	}
	if req.GuestsCount > property.MaxGuests {
		monitoring.TrackBookingCreate("rejected")
		return nil, &StateError{Reason: fmt.Sprintf("property allows at most %d guests", property.MaxGuests)}
	}

	unlock, err := s.lock(ctx, propertyLockKey(property.ID))
	if err != nil {
		monitoring.TrackBookingCreate("error")
		return nil, err
	}
	booking, err := s.insertIfAvailable(ctx, property, req, draft)
	unlock()
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			monitoring.TrackBookingCreate("conflict")
			log.Info().Str("conflict_id", conflict.Conflict.ID).Msg("booking request conflicts with existing stay")
		} else {
			monitoring.TrackBookingCreate("error")
		}
		return nil, err
	}

	monitoring.TrackBookingCreate("created")
	log.Info().Str("booking_id", booking.ID).Str("check_in", booking.CheckIn.String()).
		Str("check_out", booking.CheckOut.String()).Msg("booking created")

	s.notify(ctx, models.Notification{
		Kind:        models.NotifyBookingCreated,
		RecipientID: property.HostID,
		BookingID:   booking.ID,
		Payload:     bookingPayload(booking, property),
	})
	return booking, nil
}

// insertIfAvailable must run under the property lock.
func (s *BookingService) insertIfAvailable(ctx context.Context, property *models.Property, req models.CreateBookingRequest, d *bookingDraft) (*models.Booking, error) {
	av, err := s.availability.check(ctx, property.ID, d.checkIn, d.checkOut, "")
	if err != nil {
		return nil, err
	}
	if !av.Available {
		return nil, &ConflictError{Conflict: *av.Conflict}
	}

	booking := &models.Booking{
		PropertyID:      property.ID,
		GuestID:         req.GuestID,
		HostID:          property.HostID,
		CheckIn:         d.checkIn,
		CheckOut:        d.checkOut,
		GuestsCount:     req.GuestsCount,
		TotalAmount:     req.TotalAmount,
		Status:          status.Pending,
		GuestName:       d.name,
		GuestEmail:      d.email,
		GuestPhone:      d.phone,
		SpecialRequests: strings.TrimSpace(req.Guest.SpecialRequests),
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	inserted, err := s.store.InsertBooking(sctx, booking)
	if err != nil {
		var overlap *store.OverlapError
		if errors.As(err, &overlap) {
			return nil, &ConflictError{Conflict: overlap.Conflict}
		}
		return nil, &PersistenceError{Op: "insert booking", Err: err}
	}
	return inserted, nil
}

func (s *BookingService) validateCreate(req models.CreateBookingRequest) (*bookingDraft, error) {
	issues := validation.Struct(&req)
	add := func(field, msg string) {
		issues = append(issues, FieldIssue{Field: field, Message: msg})
	}

	d := &bookingDraft{
		name:  strings.TrimSpace(req.Guest.Name),
		email: strings.TrimSpace(req.Guest.Email),
	}
	today := models.DateOf(s.now(), s.cfg.Location)

	if req.Guest.Name != "" && utf8.RuneCountInString(d.name) < 2 {
		add("guest.name", "must be at least 2 characters")
	}

	var inOK, outOK bool
	if req.CheckIn != "" {
		if in, err := models.ParseDate(req.CheckIn); err != nil {
			add("checkIn", "must be a date in YYYY-MM-DD format")
		} else if in.Before(today) {
			add("checkIn", "must not be in the past")
		} else {
			d.checkIn, inOK = in, true
		}
	}
	if req.CheckOut != "" {
		if out, err := models.ParseDate(req.CheckOut); err != nil {
			add("checkOut", "must be a date in YYYY-MM-DD format")
		} else {
			d.checkOut, outOK = out, true
		}
	}
	if inOK && outOK {
		if !d.checkOut.After(d.checkIn) {
			add("checkOut", "must be after checkIn")
		} else if nights := d.checkIn.NightsUntil(d.checkOut); nights > s.cfg.MaxStayNights {
			add("checkOut", fmt.Sprintf("stay must not exceed %d nights", s.cfg.MaxStayNights))
		}
	}

	if req.GuestsCount < 1 || req.GuestsCount > s.cfg.MaxGuestsPerBooking {
		add("guestsCount", fmt.Sprintf("must be between 1 and %d", s.cfg.MaxGuestsPerBooking))
	}

	if req.Guest.Phone != "" {
		phone, err := validation.Phone(req.Guest.Phone, s.cfg.PhoneRegion)
		if err != nil {
			add("guest.phone", err.Error())
		}
		d.phone = phone
	}

	if !req.TotalAmount.IsPositive() {
		add("totalAmount", "must be greater than 0")
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return d, nil
}

func (s *BookingService) loadProperty(ctx context.Context, id string) (*models.Property, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	p, err := s.store.LoadProperty(sctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Entity: "property", ID: id}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load property", Err: err}
	}
	return p, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	b, err := s.store.LoadBooking(sctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Entity: "booking", ID: id}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load booking", Err: err}
	}
	return b, nil
}

// TransitionRequest describes a status change. RequireFrom, when set, turns
// the change into a no-op unless the booking is in one of those states, even
// when it already has the target status.
// PaymentReference and RefundedAmount are only written when not yet recorded,
// unless ReplacePaymentReference is set.
type TransitionRequest struct {
	BookingID               string
	Target                  status.Status
	Reason                  string
	RequireFrom             []status.Status
	PaymentReference        string
	ReplacePaymentReference bool
	RefundedAmount          *decimal.Decimal
}

type TransitionResult struct {
	Booking *models.Booking
	From    status.Status
	// Changed is true when the status moved.
	Changed bool
	// Skipped is true when RequireFrom did not match.
	Skipped bool
	// RefundRecorded is true when this call stored the refunded amount.
	RefundRecorded bool
}

// TransitionStatus is the only path that changes a booking's status. A
// request for the status the booking already has succeeds without a status
// change.
func (s *BookingService) TransitionStatus(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	unlock, err := s.lock(ctx, bookingLockKey(req.BookingID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.transitionLocked(ctx, req)
}

// transitionLocked must run under the booking lock.
func (s *BookingService) transitionLocked(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if !req.Target.IsValid() {
		return nil, &TransitionError{BookingID: req.BookingID, To: req.Target}
	}

	current, err := s.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	res := &TransitionResult{Booking: current, From: current.Status}

	if len(req.RequireFrom) > 0 && !containsStatus(req.RequireFrom, current.Status) {
		res.Skipped = true
		return res, nil
	}
	if current.Status != req.Target && !current.Status.CanTransitionTo(req.Target) {
		return nil, &TransitionError{BookingID: current.ID, From: current.Status, To: req.Target}
	}

	var upd store.BookingUpdate
	dirty := current.Status != req.Target
	if dirty && req.Target == status.Cancelled && req.Reason != "" {
		reason := req.Reason
		upd.CancellationReason = &reason
	}
	if req.PaymentReference != "" && (current.PaymentReference == nil ||
		(req.ReplacePaymentReference && *current.PaymentReference != req.PaymentReference)) {
		ref := req.PaymentReference
		upd.PaymentReference = &ref
		dirty = true
	}
	if req.RefundedAmount != nil && current.RefundedAmount == nil {
		amt := *req.RefundedAmount
		upd.RefundedAmount = &amt
		res.RefundRecorded = true
		dirty = true
	}
	if !dirty {
		return res, nil
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	updated, err := s.store.UpdateBookingStatus(sctx, current.ID, req.Target, upd)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Entity: "booking", ID: current.ID}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "update booking status", Err: err}
	}

	res.Booking = updated
	res.Changed = current.Status != updated.Status
	if res.Changed {
		monitoring.TrackTransition(current.Status, updated.Status)
		logging.Ctx(ctx).Info().
			Str("booking_id", updated.ID).
			Str("from", current.Status.String()).
			Str("to", updated.Status.String()).
			Str("reason", req.Reason).
			Msg("booking status changed")
	}
	return res, nil
}

func containsStatus(list []status.Status, s status.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// AcceptBooking confirms a pending booking on behalf of its host after
// re-checking that no other active stay overlaps it.
func (s *BookingService) AcceptBooking(ctx context.Context, bookingID, hostID string) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.HostID != hostID {
		return nil, &ForbiddenError{Reason: "only the host can accept this booking"}
	}

	unlock, err := s.lock(ctx, propertyLockKey(b.PropertyID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	av, err := s.availability.check(ctx, b.PropertyID, b.CheckIn, b.CheckOut, b.ID)
	if err != nil {
		return nil, err
	}
	if !av.Available {
		return nil, &ConflictError{Conflict: *av.Conflict}
	}

	res, err := s.TransitionStatus(ctx, TransitionRequest{
		BookingID:   bookingID,
		Target:      status.Confirmed,
		RequireFrom: []status.Status{status.Pending},
	})
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		return nil, &TransitionError{BookingID: bookingID, From: res.From, To: status.Confirmed}
	}
	if res.Changed {
		s.notifyConfirmed(ctx, res.Booking)
	}
	return res.Booking, nil
}

// DeclineBooking cancels a pending booking on behalf of its host.
func (s *BookingService) DeclineBooking(ctx context.Context, bookingID, hostID, reason string) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.HostID != hostID {
		return nil, &ForbiddenError{Reason: "only the host can decline this booking"}
	}
	if reason == "" {
		reason = ReasonDeclined
	}

	res, err := s.TransitionStatus(ctx, TransitionRequest{
		BookingID:   bookingID,
		Target:      status.Cancelled,
		Reason:      reason,
		RequireFrom: []status.Status{status.Pending},
	})
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		return nil, &TransitionError{BookingID: bookingID, From: res.From, To: status.Cancelled}
	}
	if res.Changed {
		s.notifyCancelled(ctx, res.Booking, hostID)
	}
	return res.Booking, nil
}

// CancelBooking cancels a pending or confirmed booking for its guest or host.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, actorID, reason string) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	byHost := actorID != "" && actorID == b.HostID
	byGuest := actorID != "" && b.GuestID != nil && *b.GuestID == actorID
	if !byHost && !byGuest {
		return nil, &ForbiddenError{Reason: "only the guest or host can cancel this booking"}
	}
	if reason == "" {
		reason = "cancelled_by_guest"
		if byHost {
			reason = "cancelled_by_host"
		}
	}

	res, err := s.TransitionStatus(ctx, TransitionRequest{
		BookingID: bookingID,
		Target:    status.Cancelled,
		Reason:    reason,
	})
	if err != nil {
		return nil, err
	}
	if res.Changed {
		s.notifyCancelled(ctx, res.Booking, actorID)
	}
	return res.Booking, nil
}

// AttachPaymentReference links a pending booking to the checkout session the
// gateway created for it, so later events can find it by reference.
func (s *BookingService) AttachPaymentReference(ctx context.Context, bookingID, ref string) (*models.Booking, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &ValidationError{Issues: []FieldIssue{{Field: "paymentReference", Message: "is required"}}}
	}

	unlock, err := s.lock(ctx, bookingLockKey(bookingID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != status.Pending {
		return nil, &StateError{Reason: fmt.Sprintf("booking is %s; only pending bookings can start a payment", b.Status)}
	}
	if b.PaymentReference != nil && *b.PaymentReference == ref {
		return b, nil
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	updated, err := s.store.UpdateBookingStatus(sctx, b.ID, b.Status, store.BookingUpdate{PaymentReference: &ref})
	if err != nil {
		return nil, &PersistenceError{Op: "attach payment reference", Err: err}
	}
	return updated, nil
}

type SweepResult struct {
	Examined int `json:"examined"`
	Changed  int `json:"changed"`
}

// ExpireAbandoned cancels pending bookings created more than olderThan ago.
func (s *BookingService) ExpireAbandoned(ctx context.Context, olderThan time.Duration) (SweepResult, error) {
	sctx, cancel := s.storeCtx(ctx)
	stale, err := s.store.ListBookingsByStatus(sctx, status.Pending, store.BookingFilter{
		CreatedBefore: s.now().Add(-olderThan),
	})
	cancel()
	if err != nil {
		return SweepResult{}, &PersistenceError{Op: "list pending bookings", Err: err}
	}

	result := SweepResult{Examined: len(stale)}
	var errs []error
	for _, b := range stale {
		res, err := s.TransitionStatus(ctx, TransitionRequest{
			BookingID:   b.ID,
			Target:      status.Cancelled,
			Reason:      ReasonAbandoned,
			RequireFrom: []status.Status{status.Pending},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", b.ID, err))
			continue
		}
		if res.Changed {
			result.Changed++
			s.notifyCancelled(ctx, res.Booking, "")
		}
	}
	return result, errors.Join(errs...)
}

// CompleteStays marks confirmed bookings whose check-out is on or before today as completed.
func (s *BookingService) CompleteStays(ctx context.Context, today models.Date) (SweepResult, error) {
	sctx, cancel := s.storeCtx(ctx)
	due, err := s.store.ListBookingsByStatus(sctx, status.Confirmed, store.BookingFilter{
		CheckOutOnOrBefore: &today,
	})
	cancel()
	if err != nil {
		return SweepResult{}, &PersistenceError{Op: "list confirmed bookings", Err: err}
	}

	result := SweepResult{Examined: len(due)}
	var errs []error
	for _, b := range due {
		res, err := s.TransitionStatus(ctx, TransitionRequest{
			BookingID:   b.ID,
			Target:      status.Completed,
			RequireFrom: []status.Status{status.Confirmed},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("complete %s: %w", b.ID, err))
			continue
		}
		if res.Changed {
			result.Changed++
		}
	}
	return result, errors.Join(errs...)
}

// Today is the current calendar day in the booking time zone.
func (s *BookingService) Today() models.Date {
	return models.DateOf(s.now(), s.cfg.Location)
}

func (s *BookingService) notify(ctx context.Context, n models.Notification) {
	if s.notifier == nil || n.RecipientID == "" {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if err := s.notifier.Dispatch(ctx, n); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("kind", string(n.Kind)).
			Str("booking_id", n.BookingID).
			Msg("failed to queue notification")
	}
}

func (s *BookingService) notifyConfirmed(ctx context.Context, b *models.Booking) {
	payload := bookingPayload(b, nil)
	if b.GuestID != nil {
		s.notify(ctx, models.Notification{Kind: models.NotifyBookingConfirmed, RecipientID: *b.GuestID, BookingID: b.ID, Payload: payload})
	}
	s.notify(ctx, models.Notification{Kind: models.NotifyBookingConfirmed, RecipientID: b.HostID, BookingID: b.ID, Payload: payload})
}

// notifyCancelled tells the host, and the guest when someone else cancelled.
func (s *BookingService) notifyCancelled(ctx context.Context, b *models.Booking, actorID string) {
	payload := bookingPayload(b, nil)
	payload["reason"] = b.CancellationReason
	s.notify(ctx, models.Notification{Kind: models.NotifyBookingCancelled, RecipientID: b.HostID, BookingID: b.ID, Payload: payload})
	if b.GuestID != nil && *b.GuestID != actorID && actorID != "" {
		s.notify(ctx, models.Notification{Kind: models.NotifyBookingCancelled, RecipientID: *b.GuestID, BookingID: b.ID, Payload: payload})
	}
}

func (s *BookingService) notifyRefunded(ctx context.Context, b *models.Booking) {
	payload := bookingPayload(b, nil)
	if b.RefundedAmount != nil {
		payload["refunded_amount"] = b.RefundedAmount.String()
	}
	s.notify(ctx, models.Notification{Kind: models.NotifyBookingRefunded, RecipientID: b.HostID, BookingID: b.ID, Payload: payload})
}

func bookingPayload(b *models.Booking, p *models.Property) map[string]any {
	payload := map[string]any{
		"booking_id":   b.ID,
		"property_id":  b.PropertyID,
		"check_in":     b.CheckIn.String(),
		"check_out":    b.CheckOut.String(),
		"nights":       b.Nights(),
		"guests_count": b.GuestsCount,
		"total_amount": b.TotalAmount.String(),
		"guest_name":   b.GuestName,
		"status":       b.Status.String(),
	}
	if p != nil {
		payload["property_title"] = p.Title
	}
	return payload
}
