package models

import "github.com/shopspring/decimal"

// PaymentEventKind names a PaymentEvent variant.
type PaymentEventKind string

const (
	KindCheckoutCompleted PaymentEventKind = "CheckoutCompleted"
	KindPaymentSucceeded  PaymentEventKind = "PaymentSucceeded"
	KindPaymentFailed     PaymentEventKind = "PaymentFailed"
	KindRefunded          PaymentEventKind = "Refunded"
)

// EventEnvelope carries the fields every payment event has.
type EventEnvelope struct {
	ExternalEventID  string `json:"externalEventId"`
	PaymentReference string `json:"paymentReference"`
	// BookingReference is empty when the gateway did not echo it back;
	// the booking is then resolved through PaymentReference.
	BookingReference string `json:"bookingReference,omitempty"`
}

// PaymentEvent is a trusted, already-normalized gateway notification.
// The set of variants is closed: only this package can implement it.
type PaymentEvent interface {
	Envelope() EventEnvelope
	Kind() PaymentEventKind
	paymentEvent()
}

type CheckoutCompleted struct {
	EventEnvelope
	Paid bool `json:"paid"`
}

type PaymentSucceeded struct {
	EventEnvelope
}

type PaymentFailed struct {
	EventEnvelope
}

type Refunded struct {
	EventEnvelope
	RefundedAmount decimal.Decimal `json:"refundedAmount"`
}

func (e CheckoutCompleted) Envelope() EventEnvelope { return e.EventEnvelope }
func (e PaymentSucceeded) Envelope() EventEnvelope  { return e.EventEnvelope }
func (e PaymentFailed) Envelope() EventEnvelope     { return e.EventEnvelope }
func (e Refunded) Envelope() EventEnvelope          { return e.EventEnvelope }

func (CheckoutCompleted) Kind() PaymentEventKind { return KindCheckoutCompleted }
func (PaymentSucceeded) Kind() PaymentEventKind  { return KindPaymentSucceeded }
func (PaymentFailed) Kind() PaymentEventKind     { return KindPaymentFailed }
func (Refunded) Kind() PaymentEventKind          { return KindRefunded }

func (CheckoutCompleted) paymentEvent() {}
func (PaymentSucceeded) paymentEvent()  {}
func (PaymentFailed) paymentEvent()     {}
func (Refunded) paymentEvent()          {}
