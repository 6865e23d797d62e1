package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"direct-booking/internal/logging"
	"direct-booking/internal/status"
	"direct-booking/internal/store"
	"direct-booking/models"
	"direct-booking/monitoring"
)

// Outcome describes what reconciling one payment event did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnpaid    Outcome = "unpaid"
	OutcomeRejected  Outcome = "rejected"
)

// PaymentEventReconciler applies gateway events to bookings exactly once per
// external event id. Events may arrive in any order and more than once.
type PaymentEventReconciler struct {
	bookings  *BookingService
	processed ProcessedEventStore
	timeout   time.Duration
	now       func() time.Time
}

func NewPaymentEventReconciler(bookings *BookingService, processed ProcessedEventStore, timeout time.Duration) *PaymentEventReconciler {
	return &PaymentEventReconciler{
		bookings:  bookings,
		processed: processed,
		timeout:   timeout,
		now:       time.Now,
	}
}

// ProcessEvent applies ev. A nil error means the event is settled and must
// not be redelivered, including when it was a duplicate or was rejected by
// the state machine. A *ReconciliationError means it should be retried.
func (r *PaymentEventReconciler) ProcessEvent(ctx context.Context, ev models.PaymentEvent) (Outcome, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	env := ev.Envelope()
	kind := string(ev.Kind())
	log := logging.Ctx(ctx).With().
		Str("event_id", env.ExternalEventID).
		Str("event_kind", kind).
		Str("payment_reference", env.PaymentReference).
		Logger()

	outcome, err := r.process(ctx, ev)
	if err != nil {
		monitoring.TrackPaymentEvent(kind, "error")
		log.Warn().Err(err).Msg("payment event not applied")
		return outcome, err
	}
	monitoring.TrackPaymentEvent(kind, string(outcome))
	log.Info().Str("outcome", string(outcome)).Msg("payment event reconciled")
	return outcome, nil
}

func (r *PaymentEventReconciler) process(ctx context.Context, ev models.PaymentEvent) (Outcome, error) {
	env := ev.Envelope()
	if env.ExternalEventID == "" {
		return "", &ValidationError{Issues: []FieldIssue{{Field: "externalEventId", Message: "is required"}}}
	}

	seen, err := r.processed.Seen(ctx, env.ExternalEventID)
	if err != nil {
		return "", r.retriable(env, &PersistenceError{Op: "check processed event", Err: err})
	}
	if seen {
		return OutcomeDuplicate, nil
	}

	if cc, ok := ev.(models.CheckoutCompleted); ok && !cc.Paid {
		if err := r.mark(ctx, ev, "", OutcomeUnpaid); err != nil {
			return "", err
		}
		return OutcomeUnpaid, nil
	}

	booking, err := r.resolve(ctx, env)
	if err != nil {
		return "", r.retriable(env, err)
	}

	outcome, res, err := r.applyLocked(ctx, ev, booking.ID)
	// A committed change is announced even when Mark failed: the redelivery
	// will find the booking already moved and notify no one.
	if outcome == OutcomeApplied {
		r.notify(ctx, ev, res)
	}
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// applyLocked holds the booking lock across the second Seen check, the
// transition and Mark, so concurrent deliveries of one event apply once.
// When Mark fails after a committed change it returns OutcomeApplied, the
// result and the error together.
func (r *PaymentEventReconciler) applyLocked(ctx context.Context, ev models.PaymentEvent, bookingID string) (Outcome, *TransitionResult, error) {
	env := ev.Envelope()

	unlock, err := r.bookings.lock(ctx, bookingLockKey(bookingID))
	if err != nil {
		return "", nil, r.retriable(env, err)
	}
	defer unlock()

	seen, err := r.processed.Seen(ctx, env.ExternalEventID)
	if err != nil {
		return "", nil, r.retriable(env, &PersistenceError{Op: "check processed event", Err: err})
	}
	if seen {
		return OutcomeDuplicate, nil, nil
	}

	req, err := transitionFor(ev, bookingID)
	if err != nil {
		return "", nil, err
	}

	res, err := r.bookings.transitionLocked(ctx, req)
	var terr *TransitionError
	switch {
	case errors.As(err, &terr):
		// A late event for a booking that has already left the state it
		// applies to. Recording it keeps redeliveries from being retried.
		logging.Ctx(ctx).Info().
			Str("event_id", env.ExternalEventID).
			Str("booking_id", bookingID).
			Str("from", terr.From.String()).
			Str("to", terr.To.String()).
			Msg("payment event rejected by booking state")
		if err := r.mark(ctx, ev, bookingID, OutcomeRejected); err != nil {
			return "", nil, err
		}
		return OutcomeRejected, nil, nil
	case err != nil:
		return "", nil, r.retriable(env, err)
	}

	outcome := OutcomeNoop
	if res.Changed || res.RefundRecorded {
		outcome = OutcomeApplied
	}
	if err := r.mark(ctx, ev, bookingID, outcome); err != nil {
		if outcome == OutcomeApplied {
			return outcome, res, err
		}
		return "", nil, err
	}
	return outcome, res, nil
}

func transitionFor(ev models.PaymentEvent, bookingID string) (TransitionRequest, error) {
	env := ev.Envelope()
	switch e := ev.(type) {
	case models.CheckoutCompleted:
		// The completed checkout names the payment that later refunds refer
		// to, so it replaces a session id attached before redirect.
		return TransitionRequest{
			BookingID:               bookingID,
			Target:                  status.Confirmed,
			PaymentReference:        env.PaymentReference,
			ReplacePaymentReference: true,
		}, nil
	case models.PaymentSucceeded:
		return TransitionRequest{
			BookingID:        bookingID,
			Target:           status.Confirmed,
			PaymentReference: env.PaymentReference,
		}, nil
	case models.PaymentFailed:
		return TransitionRequest{
			BookingID:   bookingID,
			Target:      status.Cancelled,
			Reason:      ReasonPaymentFailed,
			RequireFrom: []status.Status{status.Pending},
		}, nil
	case models.Refunded:
		amount := e.RefundedAmount
		return TransitionRequest{
			BookingID:        bookingID,
			Target:           status.Cancelled,
			Reason:           ReasonRefund,
			PaymentReference: env.PaymentReference,
			RefundedAmount:   &amount,
		}, nil
	default:
		return TransitionRequest{}, &ValidationError{Issues: []FieldIssue{
			{Field: "kind", Message: fmt.Sprintf("unsupported payment event %T", ev)},
		}}
	}
}

// resolve finds the booking by its echoed id first, then by payment reference.
func (r *PaymentEventReconciler) resolve(ctx context.Context, env models.EventEnvelope) (*models.Booking, error) {
	if env.BookingReference != "" {
		b, err := r.bookings.GetBooking(ctx, env.BookingReference)
		if err == nil {
			return b, nil
		}
		var nf *NotFoundError
		if !errors.As(err, &nf) || env.PaymentReference == "" {
			return nil, err
		}
	}
	if env.PaymentReference == "" {
		return nil, &NotFoundError{Entity: "booking", ID: "(no reference)"}
	}

	sctx, cancel := r.bookings.storeCtx(ctx)
	defer cancel()

	b, err := r.bookings.store.LoadBookingByPaymentReference(sctx, env.PaymentReference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Entity: "booking", ID: "payment reference " + env.PaymentReference}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load booking by payment reference", Err: err}
	}
	return b, nil
}

func (r *PaymentEventReconciler) mark(ctx context.Context, ev models.PaymentEvent, bookingID string, outcome Outcome) error {
	env := ev.Envelope()
	err := r.processed.Mark(ctx, ProcessedEvent{
		ExternalEventID: env.ExternalEventID,
		Kind:            string(ev.Kind()),
		BookingID:       bookingID,
		Outcome:         string(outcome),
		ProcessedAt:     r.now().UTC(),
	})
	if err != nil {
		return r.retriable(env, &PersistenceError{Op: "mark processed event", Err: err})
	}
	return nil
}

func (r *PaymentEventReconciler) retriable(env models.EventEnvelope, err error) error {
	return &ReconciliationError{EventID: env.ExternalEventID, Err: err}
}

// notify runs after the booking lock is released.
func (r *PaymentEventReconciler) notify(ctx context.Context, ev models.PaymentEvent, res *TransitionResult) {
	if res == nil {
		return
	}
	switch ev.(type) {
	case models.CheckoutCompleted, models.PaymentSucceeded:
		if res.Changed {
			r.bookings.notifyConfirmed(ctx, res.Booking)
		}
	case models.PaymentFailed:
		if res.Changed {
			r.bookings.notifyCancelled(ctx, res.Booking, "")
		}
	case models.Refunded:
		if res.RefundRecorded {
			r.bookings.notifyRefunded(ctx, res.Booking)
		}
	}
}
