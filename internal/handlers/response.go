package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"direct-booking/internal/logging"
	"direct-booking/internal/services"
	"direct-booking/models"

	"github.com/pocketbase/pocketbase/core"
)

// ErrorResponse is the body of every failed booking or payment request.
type ErrorResponse struct {
	Kind     string                 `json:"kind"`
	Message  string                 `json:"message"`
	Reasons  []services.FieldIssue  `json:"reasons,omitempty"`
	Conflict *models.BookingSummary `json:"conflict,omitempty"`
}

var kindStatus = map[services.ErrorKind]int{
	services.KindValidation:     http.StatusBadRequest,
	services.KindNotFound:       http.StatusNotFound,
	services.KindState:          http.StatusUnprocessableEntity,
	services.KindConflict:       http.StatusConflict,
	services.KindTransition:     http.StatusConflict,
	services.KindForbidden:      http.StatusForbidden,
	services.KindPersistence:    http.StatusServiceUnavailable,
	services.KindReconciliation: http.StatusServiceUnavailable,
}

// writeError renders a service error. Errors outside the taxonomy become a
// 500 without leaking their text.
func writeError(e *core.RequestEvent, err error) error {
	kind, ok := services.KindOf(err)
	if !ok {
		logging.Ctx(e.Request.Context()).Error().Err(err).
			Str("path", e.Request.URL.Path).
			Msg("unhandled error")
		return e.JSON(http.StatusInternalServerError, ErrorResponse{Kind: "internal", Message: "internal error"})
	}

	resp := ErrorResponse{Kind: string(kind), Message: err.Error()}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		resp.Message = "request validation failed"
		resp.Reasons = verr.Issues
	}
	var cerr *services.ConflictError
	if errors.As(err, &cerr) {
		conflict := cerr.Conflict
		resp.Conflict = &conflict
		resp.Reasons = []services.FieldIssue{{
			Field: "checkIn",
			Message: fmt.Sprintf("dates overlap booking %s from %s to %s",
				conflict.ID, conflict.CheckIn, conflict.CheckOut),
		}}
	}
	if kind == services.KindPersistence {
		logging.Ctx(e.Request.Context()).Warn().Err(err).Str("path", e.Request.URL.Path).Msg("storage failure")
		resp.Message = "temporarily unavailable, please retry"
	}

	return e.JSON(kindStatus[kind], resp)
}

func badBody(e *core.RequestEvent, err error) error {
	return writeError(e, &services.ValidationError{Issues: []services.FieldIssue{
		{Field: "body", Message: "must be valid JSON: " + err.Error()},
	}})
}
