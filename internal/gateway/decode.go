// Package gateway turns raw payment gateway payloads into models.PaymentEvent.
//
// Three payload shapes are understood:
//
//   - the normalized event {externalEventId, kind, paymentReference, ...}
//   - a Stripe event envelope {id, type, data: {object}}
//   - the bank notification {payment_id, status} published on PubNub
//
// Everything downstream only sees the closed PaymentEvent variants.
package gateway

import (
	"errors"
	"fmt"
	"strings"

	"direct-booking/models"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

var (
	ErrMalformed        = errors.New("malformed payment event")
	ErrUnrecognizedKind = errors.New("unrecognized payment event kind")
)

// kindAliases maps every accepted kind spelling to its variant.
var kindAliases = map[string]models.PaymentEventKind{
	"checkoutcompleted":             models.KindCheckoutCompleted,
	"checkout_completed":            models.KindCheckoutCompleted,
	"checkout.session.completed":    models.KindCheckoutCompleted,
	"paymentsucceeded":              models.KindPaymentSucceeded,
	"payment_succeeded":             models.KindPaymentSucceeded,
	"payment_intent.succeeded":      models.KindPaymentSucceeded,
	"paymentfailed":                 models.KindPaymentFailed,
	"payment_failed":                models.KindPaymentFailed,
	"payment_intent.payment_failed": models.KindPaymentFailed,
	"refunded":                      models.KindRefunded,
	"charge.refunded":               models.KindRefunded,
}

func ParseKind(raw string) (models.PaymentEventKind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedKind, raw)
	}
	return k, nil
}

type normalizedEvent struct {
	ExternalEventID  string           `json:"externalEventId"`
	Kind             string           `json:"kind"`
	PaymentReference string           `json:"paymentReference"`
	BookingReference string           `json:"bookingReference"`
	Paid             *bool            `json:"paid"`
	RefundedAmount   *decimal.Decimal `json:"refundedAmount"`
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeObject `json:"object"`
	} `json:"data"`
}

type stripeObject struct {
	ID                string            `json:"id"`
	PaymentIntent     string            `json:"payment_intent"`
	PaymentStatus     string            `json:"payment_status"`
	AmountRefunded    int64             `json:"amount_refunded"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// bookingID is metadata.booking_id as set when the checkout session is
// created, else the session's client_reference_id.
func (o stripeObject) bookingID() string {
	if id := strings.TrimSpace(o.Metadata["booking_id"]); id != "" {
		return id
	}
	return strings.TrimSpace(o.ClientReferenceID)
}

type bankNotification struct {
	EventID   string `json:"event_id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	BookingID string `json:"booking_id"`
}

// envelopeShape holds the fields that tell the payload shapes apart.
type envelopeShape struct {
	Kind      string          `json:"kind"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	PaymentID string          `json:"payment_id"`
}

// Decode parses body into a PaymentEvent. Unknown kinds fail with
// ErrUnrecognizedKind, anything else unusable with ErrMalformed.
func Decode(body []byte) (models.PaymentEvent, error) {
	var p envelopeShape
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case p.Type != "" && len(p.Data) > 0:
		return decodeStripe(body)
	case p.PaymentID != "" && p.Kind == "":
		return decodeBank(body)
	default:
		return decodeNormalized(body)
	}
}

func decodeNormalized(body []byte) (models.PaymentEvent, error) {
	var raw normalizedEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Kind == "" {
		return nil, fmt.Errorf("%w: kind is required", ErrMalformed)
	}
	kind, err := ParseKind(raw.Kind)
	if err != nil {
		return nil, err
	}

	env := models.EventEnvelope{
		ExternalEventID:  strings.TrimSpace(raw.ExternalEventID),
		PaymentReference: strings.TrimSpace(raw.PaymentReference),
		BookingReference: strings.TrimSpace(raw.BookingReference),
	}
	if err := checkEnvelope(env); err != nil {
		return nil, err
	}

	switch kind {
	case models.KindCheckoutCompleted:
		if raw.Paid == nil {
			return nil, fmt.Errorf("%w: paid is required for %s", ErrMalformed, kind)
		}
		return models.CheckoutCompleted{EventEnvelope: env, Paid: *raw.Paid}, nil
	case models.KindPaymentSucceeded:
		return models.PaymentSucceeded{EventEnvelope: env}, nil
	case models.KindPaymentFailed:
		return models.PaymentFailed{EventEnvelope: env}, nil
	case models.KindRefunded:
		if raw.RefundedAmount == nil || raw.RefundedAmount.IsNegative() {
			return nil, fmt.Errorf("%w: refundedAmount must be a non-negative amount", ErrMalformed)
		}
		return models.Refunded{EventEnvelope: env, RefundedAmount: *raw.RefundedAmount}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnrecognizedKind, raw.Kind)
}

func decodeStripe(body []byte) (models.PaymentEvent, error) {
	var raw stripeEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kind, err := ParseKind(raw.Type)
	if err != nil {
		return nil, err
	}
	obj := raw.Data.Object

	env := models.EventEnvelope{ExternalEventID: raw.ID}
	switch kind {
	case models.KindCheckoutCompleted:
		// The payment intent id is what charge.refunded later carries. Sessions
		// completed without an intent fall back to the session id.
		env.PaymentReference = obj.PaymentIntent
		if env.PaymentReference == "" {
			env.PaymentReference = obj.ID
		}
		env.BookingReference = obj.bookingID()
		if err := checkEnvelope(env); err != nil {
			return nil, err
		}
		return models.CheckoutCompleted{EventEnvelope: env, Paid: obj.PaymentStatus == "paid"}, nil
	case models.KindPaymentSucceeded, models.KindPaymentFailed:
		env.PaymentReference = obj.ID
		env.BookingReference = obj.bookingID()
		if err := checkEnvelope(env); err != nil {
			return nil, err
		}
		if kind == models.KindPaymentSucceeded {
			return models.PaymentSucceeded{EventEnvelope: env}, nil
		}
		return models.PaymentFailed{EventEnvelope: env}, nil
	case models.KindRefunded:
		env.PaymentReference = obj.PaymentIntent
		env.BookingReference = obj.bookingID()
		if err := checkEnvelope(env); err != nil {
			return nil, err
		}
		// Stripe amounts are in minor units
		return models.Refunded{EventEnvelope: env, RefundedAmount: decimal.New(obj.AmountRefunded, -2)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnrecognizedKind, raw.Type)
}

func decodeBank(body []byte) (models.PaymentEvent, error) {
	var raw bankNotification
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	env := models.EventEnvelope{
		ExternalEventID:  raw.EventID,
		PaymentReference: raw.PaymentID,
		BookingReference: raw.BookingID,
	}
	if env.ExternalEventID == "" {
		// the bank sends one notification per payment and outcome
		env.ExternalEventID = fmt.Sprintf("%s:%s", raw.PaymentID, strings.ToLower(raw.Status))
	}

	switch strings.ToLower(raw.Status) {
	case "success", "succeeded", "paid":
		return models.PaymentSucceeded{EventEnvelope: env}, nil
	case "failed", "failure", "declined":
		return models.PaymentFailed{EventEnvelope: env}, nil
	case "":
		return nil, fmt.Errorf("%w: status is required", ErrMalformed)
	}
	return nil, fmt.Errorf("%w: bank status %q", ErrUnrecognizedKind, raw.Status)
}

func checkEnvelope(env models.EventEnvelope) error {
	if env.ExternalEventID == "" {
		return fmt.Errorf("%w: externalEventId is required", ErrMalformed)
	}
	if env.PaymentReference == "" && env.BookingReference == "" {
		return fmt.Errorf("%w: paymentReference or bookingReference is required", ErrMalformed)
	}
	return nil
}
