package handler

import (
	"net/http"

	"github.com/petmily/walk-engine/internal/domain"
	"github.com/petmily/walk-engine/internal/middleware"
)

// ListOpenRequests handles GET /open-requests.
// Supports ?page= and ?limit= query parameters (defaults: page=1, limit=20, max=100).
func (s *Server) ListOpenRequests(w http.ResponseWriter, r *http.Request) {
	params := domain.NewPaginationParams(queryInt(r, "page"), queryInt(r, "limit"))

	bookings, total, err := s.matching.ListOpen(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse[domain.Booking]{
		Data: bookings,
		Pagination: pagination{
			Page:  params.Page,
			Limit: params.Limit,
			Total: int(total),
		},
	})
}

// PublishBooking handles POST /bookings/{id}/publish.
func (s *Server) PublishBooking(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	b, err := s.matching.Publish(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ApplyToOpenRequest handles POST /open-requests/{id}/applications. The
// authenticated caller is the applying walker.
func (s *Server) ApplyToOpenRequest(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	var req applyRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			requestError(w, err.Error())
			return
		}
	}

	app, err := s.matching.Apply(r.Context(), domain.WalkerApplication{
		BookingID:     id,
		WalkerID:      actor,
		Message:       req.Message,
		ProposedPrice: req.ProposedPrice,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// RespondToApplication handles POST /applications/{id}/respond.
func (s *Server) RespondToApplication(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err.Error())
		return
	}

	app, err := s.matching.Respond(r.Context(), id, actor, req.Accept)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// WithdrawApplication handles POST /applications/{id}/withdraw.
func (s *Server) WithdrawApplication(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	app, err := s.matching.Withdraw(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// ListApplications handles GET /bookings/{id}/applications.
func (s *Server) ListApplications(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		requestError(w, "missing actor")
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, "invalid booking id")
		return
	}

	apps, err := s.matching.ListApplications(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}
