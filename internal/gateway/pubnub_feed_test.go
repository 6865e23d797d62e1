package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"direct-booking/internal/services"
	"direct-booking/models"

	pubnub "github.com/pubnub/go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProcessor struct {
	mock.Mock
	mu sync.Mutex
}

func (m *mockProcessor) ProcessEvent(ctx context.Context, ev models.PaymentEvent) (services.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(ev)
	return args.Get(0).(services.Outcome), args.Error(1)
}

func newTestFeed(p Processor) *Feed {
	f := NewFeed(nil, "bank-payment-notifications", p)
	f.backoff = time.Millisecond
	f.maxAttempts = 3
	return f
}

func TestFeed_HandleStringMessage(t *testing.T) {
	p := &mockProcessor{}
	want := models.PaymentSucceeded{EventEnvelope: models.EventEnvelope{ExternalEventID: "p1:success", PaymentReference: "p1"}}
	p.On("ProcessEvent", want).Return(services.OutcomeApplied, nil).Once()

	f := newTestFeed(p)
	f.handle(context.Background(), &pubnub.PNMessage{Message: `{"payment_id":"p1","status":"success"}`})

	p.AssertExpectations(t)
}

func TestFeed_HandleObjectMessage(t *testing.T) {
	p := &mockProcessor{}
	p.On("ProcessEvent", mock.AnythingOfType("models.PaymentFailed")).Return(services.OutcomeApplied, nil).Once()

	f := newTestFeed(p)
	f.handle(context.Background(), &pubnub.PNMessage{Message: map[string]any{
		"externalEventId":  "evt_9",
		"kind":             "PaymentFailed",
		"paymentReference": "cs_9",
	}})

	p.AssertExpectations(t)
}

func TestFeed_RetriesReconciliationErrors(t *testing.T) {
	p := &mockProcessor{}
	retry := &services.ReconciliationError{EventID: "p1:success", Err: &services.NotFoundError{Entity: "booking", ID: "p1"}}
	p.On("ProcessEvent", mock.Anything).Return(services.Outcome(""), retry).Times(2)
	p.On("ProcessEvent", mock.Anything).Return(services.OutcomeApplied, nil).Once()

	f := newTestFeed(p)
	f.handle(context.Background(), &pubnub.PNMessage{Message: `{"payment_id":"p1","status":"success"}`})

	p.AssertNumberOfCalls(t, "ProcessEvent", 3)
}

func TestFeed_GivesUpAfterMaxAttempts(t *testing.T) {
	p := &mockProcessor{}
	retry := &services.ReconciliationError{EventID: "e", Err: errors.New("store down")}
	p.On("ProcessEvent", mock.Anything).Return(services.Outcome(""), retry)

	f := newTestFeed(p)
	f.handle(context.Background(), &pubnub.PNMessage{Message: `{"payment_id":"p1","status":"success"}`})

	p.AssertNumberOfCalls(t, "ProcessEvent", 3)
}

func TestFeed_DoesNotRetryPermanentErrors(t *testing.T) {
	p := &mockProcessor{}
	p.On("ProcessEvent", mock.Anything).Return(services.Outcome(""), &services.ValidationError{})

	f := newTestFeed(p)
	f.handle(context.Background(), &pubnub.PNMessage{Message: `{"payment_id":"p1","status":"success"}`})

	p.AssertNumberOfCalls(t, "ProcessEvent", 1)
}

func TestFeed_IgnoresUndecodableMessages(t *testing.T) {
	p := &mockProcessor{}
	f := newTestFeed(p)

	f.handle(context.Background(), &pubnub.PNMessage{Message: 42})
	f.handle(context.Background(), &pubnub.PNMessage{Message: `{"payment_id":"p1","status":"pending"}`})

	p.AssertNotCalled(t, "ProcessEvent", mock.Anything)
}

func TestFeed_RunStopsWithContext(t *testing.T) {
	p := &mockProcessor{}
	p.On("ProcessEvent", mock.Anything).Return(services.OutcomeApplied, nil)

	f := newTestFeed(p)
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)

	f.listener.Message <- &pubnub.PNMessage{Message: `{"payment_id":"p2","status":"success"}`}
	cancel()

	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "feed did not stop")
	}
	assert.LessOrEqual(t, len(p.Calls), 1)
}
