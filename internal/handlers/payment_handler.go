package handlers

import (
	"errors"
	"io"
	"net/http"

	"direct-booking/internal/gateway"
	"direct-booking/internal/logging"
	"direct-booking/internal/services"

	"github.com/pocketbase/pocketbase/core"
)

const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	processor gateway.Processor
}

func NewPaymentHandler(processor gateway.Processor) *PaymentHandler {
	return &PaymentHandler{processor: processor}
}

// Webhook - POST /api/v1/payments/webhook
//
// 200 tells the gateway the event is settled (applied, duplicate, ignored).
// 503 asks it to redeliver later.
func (h *PaymentHandler) Webhook(e *core.RequestEvent) error {
	ctx := e.Request.Context()
	log := logging.Ctx(ctx)

	body, err := io.ReadAll(io.LimitReader(e.Request.Body, maxWebhookBody))
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]any{"status": "malformed", "error": err.Error()})
	}

	ev, err := gateway.Decode(body)
	switch {
	case errors.Is(err, gateway.ErrUnrecognizedKind):
		log.Info().Err(err).Msg("ignoring payment event")
		return e.JSON(http.StatusOK, map[string]any{"status": "ignored"})
	case err != nil:
		return e.JSON(http.StatusBadRequest, map[string]any{"status": "malformed", "error": err.Error()})
	}

	outcome, err := h.processor.ProcessEvent(ctx, ev)
	if err != nil {
		var rerr *services.ReconciliationError
		if errors.As(err, &rerr) {
			return e.JSON(http.StatusServiceUnavailable, map[string]any{"status": "retry"})
		}
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			return e.JSON(http.StatusBadRequest, map[string]any{"status": "malformed", "error": err.Error()})
		}
		log.Error().Err(err).Msg("payment event failed")
		return e.JSON(http.StatusInternalServerError, map[string]any{"status": "error"})
	}

	return e.JSON(http.StatusOK, map[string]any{
		"status":  "accepted",
		"outcome": outcome,
	})
}
