package gateway

import (
	"testing"

	"direct-booking/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Normalized(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.PaymentEvent
	}{
		{
			name: "checkout completed",
			body: `{"externalEventId":"evt_1","kind":"CheckoutCompleted","paymentReference":"cs_1","bookingReference":"b1","paid":true}`,
			want: models.CheckoutCompleted{EventEnvelope: models.EventEnvelope{ExternalEventID: "evt_1", PaymentReference: "cs_1", BookingReference: "b1"}, Paid: true},
		},
		{
			name: "stripe style kind alias",
			body: `{"externalEventId":"evt_2","kind":"payment_intent.succeeded","paymentReference":"pi_1"}`,
			want: models.PaymentSucceeded{EventEnvelope: models.EventEnvelope{ExternalEventID: "evt_2", PaymentReference: "pi_1"}},
		},
		{
			name: "payment failed",
			body: `{"externalEventId":"evt_3","kind":"PaymentFailed","paymentReference":"cs_3"}`,
			want: models.PaymentFailed{EventEnvelope: models.EventEnvelope{ExternalEventID: "evt_3", PaymentReference: "cs_3"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_NormalizedRefund(t *testing.T) {
	got, err := Decode([]byte(`{"externalEventId":"evt_4","kind":"Refunded","paymentReference":"cs_4","refundedAmount":"120.50"}`))
	require.NoError(t, err)

	refund, ok := got.(models.Refunded)
	require.True(t, ok)
	assert.True(t, refund.RefundedAmount.Equal(decimal.RequireFromString("120.5")))
	assert.Equal(t, models.KindRefunded, refund.Kind())
}

func TestDecode_Stripe(t *testing.T) {
	body := `{
		"id": "evt_stripe_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_1", "payment_intent": "pi_1", "payment_status": "paid", "metadata": {"booking_id": "b42"}}}
	}`
	got, err := Decode([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutCompleted{
		EventEnvelope: models.EventEnvelope{ExternalEventID: "evt_stripe_1", PaymentReference: "pi_1", BookingReference: "b42"},
		Paid:          true,
	}, got)

	refund := `{"id":"evt_stripe_2","type":"charge.refunded","data":{"object":{"id":"ch_1","payment_intent":"pi_1","amount_refunded":48000}}}`
	got, err = Decode([]byte(refund))
	require.NoError(t, err)
	r, ok := got.(models.Refunded)
	require.True(t, ok)
	assert.Equal(t, "pi_1", r.PaymentReference, "refund carries the same reference the checkout recorded")
	assert.True(t, r.RefundedAmount.Equal(decimal.NewFromInt(480)))

	_, err = Decode([]byte(`{"id":"evt_stripe_3","type":"invoice.payment_failed","data":{"object":{"id":"in_1"}}}`))
	assert.ErrorIs(t, err, ErrUnrecognizedKind)
}

func TestDecode_StripeBookingReference(t *testing.T) {
	tests := []struct {
		name   string
		object string
		ref    string
		want   string
	}{
		{"metadata booking_id", `{"id":"cs_1","payment_intent":"pi_1","payment_status":"paid","metadata":{"booking_id":"b1"},"client_reference_id":"b-other"}`, "pi_1", "b1"},
		{"client_reference_id fallback", `{"id":"cs_2","payment_intent":"pi_2","payment_status":"paid","client_reference_id":"b2"}`, "pi_2", "b2"},
		{"session without intent", `{"id":"cs_3","payment_status":"unpaid","metadata":{"booking_id":"b3"}}`, "cs_3", "b3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(`{"id":"evt_x","type":"checkout.session.completed","data":{"object":` + tt.object + `}}`))
			require.NoError(t, err)
			assert.Equal(t, tt.ref, got.Envelope().PaymentReference)
			assert.Equal(t, tt.want, got.Envelope().BookingReference)
		})
	}

	got, err := Decode([]byte(`{"id":"evt_pi","type":"payment_intent.succeeded","data":{"object":{"id":"pi_9","metadata":{"booking_id":"b9"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventEnvelope{ExternalEventID: "evt_pi", PaymentReference: "pi_9", BookingReference: "b9"}, got.Envelope())
}

func TestDecode_Bank(t *testing.T) {
	got, err := Decode([]byte(`{"payment_id":"payment_u1_1718000000","status":"success"}`))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded{EventEnvelope: models.EventEnvelope{
		ExternalEventID:  "payment_u1_1718000000:success",
		PaymentReference: "payment_u1_1718000000",
	}}, got)

	got, err = Decode([]byte(`{"event_id":"bank-9","payment_id":"p9","status":"failed","booking_id":"b9"}`))
	require.NoError(t, err)
	assert.Equal(t, models.KindPaymentFailed, got.Kind())
	assert.Equal(t, "bank-9", got.Envelope().ExternalEventID)
	assert.Equal(t, "b9", got.Envelope().BookingReference)

	_, err = Decode([]byte(`{"payment_id":"p9","status":"pending"}`))
	assert.ErrorIs(t, err, ErrUnrecognizedKind)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{nope`, ErrMalformed},
		{"missing kind", `{"externalEventId":"e","paymentReference":"r"}`, ErrMalformed},
		{"unknown kind", `{"externalEventId":"e","kind":"Disputed","paymentReference":"r"}`, ErrUnrecognizedKind},
		{"missing event id", `{"kind":"PaymentSucceeded","paymentReference":"r"}`, ErrMalformed},
		{"no reference", `{"externalEventId":"e","kind":"PaymentSucceeded"}`, ErrMalformed},
		{"checkout without paid", `{"externalEventId":"e","kind":"CheckoutCompleted","paymentReference":"r"}`, ErrMalformed},
		{"refund without amount", `{"externalEventId":"e","kind":"Refunded","paymentReference":"r"}`, ErrMalformed},
		{"negative refund", `{"externalEventId":"e","kind":"Refunded","paymentReference":"r","refundedAmount":"-1"}`, ErrMalformed},
		{"bad amount", `{"externalEventId":"e","kind":"Refunded","paymentReference":"r","refundedAmount":"ten"}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Refunded ")
	require.NoError(t, err)
	assert.Equal(t, models.KindRefunded, k)

	_, err = ParseKind("")
	assert.ErrorIs(t, err, ErrUnrecognizedKind)
}
