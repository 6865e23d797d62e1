package handlers

import (
	"net/http"
	"strings"

	"direct-booking/internal/services"
	"direct-booking/models"

	"github.com/pocketbase/pocketbase/core"
)

type BookingHandler struct {
	bookings *services.BookingService
}

func NewBookingHandler(bookings *services.BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// CreateBooking - POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(e *core.RequestEvent) error {
	var req models.CreateBookingRequest
	if err := e.BindBody(&req); err != nil {
		return badBody(e, err)
	}
	if e.Auth != nil {
		guestID := e.Auth.Id
		req.GuestID = &guestID
	}

	booking, err := h.bookings.CreateBooking(e.Request.Context(), req)
	if err != nil {
		return writeError(e, err)
	}
	return e.JSON(http.StatusCreated, models.NewBookingCreatedResponse(booking))
}

// GetBooking - GET /api/v1/bookings/{id}
func (h *BookingHandler) GetBooking(e *core.RequestEvent) error {
	booking, err := h.bookings.GetBooking(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return writeError(e, err)
	}
	return e.JSON(http.StatusOK, booking)
}

// CheckAvailability - GET /api/v1/properties/{id}/availability?checkIn=&checkOut=
func (h *BookingHandler) CheckAvailability(e *core.RequestEvent) error {
	q := e.Request.URL.Query()

	var issues []services.FieldIssue
	checkIn, err := models.ParseDate(q.Get("checkIn"))
	if err != nil {
		issues = append(issues, services.FieldIssue{Field: "checkIn", Message: "must be a date in YYYY-MM-DD format"})
	}
	checkOut, err := models.ParseDate(q.Get("checkOut"))
	if err != nil {
		issues = append(issues, services.FieldIssue{Field: "checkOut", Message: "must be a date in YYYY-MM-DD format"})
	}
	if len(issues) > 0 {
		return writeError(e, &services.ValidationError{Issues: issues})
	}

	av, err := h.bookings.Availability().CheckAvailability(e.Request.Context(), e.Request.PathValue("id"), checkIn, checkOut)
	if err != nil {
		return writeError(e, err)
	}
	return e.JSON(http.StatusOK, av)
}

type actionRequest struct {
	ActorID string `json:"actorId"`
	Reason  string `json:"reason"`
}

// bindAction reads the optional action body. An authenticated caller is
// always the actor, whatever the body says.
func bindAction(e *core.RequestEvent) (actionRequest, error) {
	var req actionRequest
	if e.Request.ContentLength != 0 {
		if err := e.BindBody(&req); err != nil {
			return req, err
		}
	}
	if e.Auth != nil {
		req.ActorID = e.Auth.Id
	}
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.Reason = strings.TrimSpace(req.Reason)
	return req, nil
}

func requireActor(req actionRequest) error {
	if req.ActorID == "" {
		return &services.ValidationError{Issues: []services.FieldIssue{{Field: "actorId", Message: "is required"}}}
	}
	return nil
}

// AcceptBooking - POST /api/v1/bookings/{id}/accept
func (h *BookingHandler) AcceptBooking(e *core.RequestEvent) error {
	req, err := bindAction(e)
	if err != nil {
		return badBody(e, err)
	}
	if err := requireActor(req); err != nil {
		return writeError(e, err)
	}

	booking, err := h.bookings.AcceptBooking(e.Request.Context(), e.Request.PathValue("id"), req.ActorID)
	if err != nil {
		return writeError(e, err)
	}
	return e.JSON(http.StatusOK, booking)
}

// DeclineBooking - POST /api/v1/bookings/{id}/decline
func (h *BookingHandler) DeclineBooking(e *core.RequestEvent) error {
	req, err := bindAction(e)
	if err != nil {
		return badBody(e, err)
	}
	if err := requireActor(req); err != nil {
		return writeError(e, err)
	}

	booking, err := h.bookings.DeclineBooking(e.Request.Context(), e.Request.PathValue("id"), req.ActorID, req.Reason)
	if err != nil {
		return writeError(e, err)
	}
	return e.JSON(http.StatusOK, booking)
}

// CancelBooking - POST /api/v1/bookings/{id}/cancel
func (h *BookingHandler) CancelBooking(e *core.RequestEvent) error {
	req, err := bindAction(e)
	if err != nil {
		return badBody(e, err)
	}
	if err := requireActor(req); err != nil {
		return writeError(e, err)
	}

	booking, err := h.bookings.CancelBooking(e.Request.Context(), e.Request.PathValue("id"), req.ActorID, req.Reason)
	if err != nil {
		return writeError(e, err)
	}
	return e.JSON(http.StatusOK, booking)
}

// AttachPaymentReference - POST /api/v1/bookings/{id}/payment-reference
func (h *BookingHandler) AttachPaymentReference(e *core.RequestEvent) error {
	var req struct {
		PaymentReference string `json:"paymentReference"`
	}
	if err := e.BindBody(&req); err != nil {
		return badBody(e, err)
	}

	booking, err := h.bookings.AttachPaymentReference(e.Request.Context(), e.Request.PathValue("id"), req.PaymentReference)
	if err != nil {
		return writeError(e, err)
	}
	return e.JSON(http.StatusOK, booking)
}
