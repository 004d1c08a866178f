package handler

import (
	"net/http"

	"github.com/petmily/walk-engine/internal/domain"
)

// ProposeChange handles POST /bookings/{id}/change-requests.
func (s *Server) ProposeChange(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	var req changeRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err.Error())
		return
	}

	cr, err := s.negotiation.Propose(r.Context(), domain.ChangeRequest{
		BookingID:           id,
		RequestedBy:         actor,
		NewScheduledAt:      req.NewScheduledAt,
		NewDurationMinutes:  req.NewDurationMinutes,
		NewPrice:            req.NewPrice,
		NewPickup:           req.NewPickup,
		NewDropoff:          req.NewDropoff,
		NewNotes:            req.NewNotes,
		NewInsuranceCovered: req.NewInsuranceCovered,
		ChangeReason:        req.ChangeReason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cr)
}

// RespondToChange handles POST /change-requests/{id}/respond.
func (s *Server) RespondToChange(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err.Error())
		return
	}

	cr, err := s.negotiation.Respond(r.Context(), id, actor, req.Accept, req.ResponseNote)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

// ListChangeRequests handles GET /bookings/{id}/change-requests.
func (s *Server) ListChangeRequests(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	requests, err := s.negotiation.ListByBooking(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}
