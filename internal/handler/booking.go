package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/petmily/walk-engine/internal/domain"
	"github.com/petmily/walk-engine/internal/middleware"
)

// CreateBooking handles POST /bookings. The authenticated caller becomes the
// requester.
func (s *Server) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		requestError(w, "missing actor")
		return
	}

	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err.Error())
		return
	}

	b, err := requestToBooking(actor, req)
	if err != nil {
		requestError(w, err.Error())
		return
	}

	created, err := s.bookings.Create(r.Context(), b)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetBooking handles GET /bookings/{id}.
func (s *Server) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, "invalid booking id")
		return
	}

	b, err := s.bookings.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListBookings handles GET /bookings. The caller's own bookings as requester
// by default; ?role=walker switches to their bookings as the bound walker.
func (s *Server) ListBookings(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		requestError(w, "missing actor")
		return
	}

	var (
		bookings []domain.Booking
		err      error
	)
	if r.URL.Query().Get("role") == "walker" {
		bookings, err = s.bookings.ListByWalker(r.Context(), actor)
	} else {
		bookings, err = s.bookings.ListByRequester(r.Context(), actor)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// ConfirmBooking handles POST /bookings/{id}/confirm.
func (s *Server) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.bookings.Confirm)
}

// StartBooking handles POST /bookings/{id}/start.
func (s *Server) StartBooking(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.bookings.Start)
}

// CompleteBooking handles POST /bookings/{id}/complete.
func (s *Server) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	var req completeBookingRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			requestError(w, err.Error())
			return
		}
	}

	b, err := s.bookings.Complete(r.Context(), id, actor, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CancelBooking handles POST /bookings/{id}/cancel.
func (s *Server) CancelBooking(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	var req cancelBookingRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			requestError(w, err.Error())
			return
		}
	}

	b, err := s.bookings.Cancel(r.Context(), id, actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// transition runs a body-less lifecycle action (confirm, start) and writes
// the updated booking.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error)) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	b, err := fn(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// actionTarget extracts the actor and the {id} path parameter, writing the
// error response itself when either is missing.
func (s *Server) actionTarget(w http.ResponseWriter, r *http.Request) (actor, id uuid.UUID, ok bool) {
	actor, found := middleware.ActorFromContext(r.Context())
	if !found {
		requestError(w, "missing actor")
		return uuid.Nil, uuid.Nil, false
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, "invalid booking id")
		return uuid.Nil, uuid.Nil, false
	}
	return actor, id, true
}

// pathUUID parses a chi URL parameter as a UUID.
func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, key))
}

func errInvalidField(name string) error {
	return fmt.Errorf("invalid %s", name)
}

// requestToBooking maps the create payload onto a domain.Booking owned by actor.
func requestToBooking(actor uuid.UUID, req createBookingRequest) (domain.Booking, error) {
	petID, err := uuid.Parse(req.PetID)
	if err != nil {
		return domain.Booking{}, errInvalidField("pet_id")
	}

	b := domain.Booking{
		RequesterID:      actor,
		PetID:            petID,
		ScheduledAt:      req.ScheduledAt,
		DurationMinutes:  req.DurationMinutes,
		Method:           domain.BookingMethod(req.Method),
		Pickup:           req.Pickup,
		Dropoff:          req.Dropoff,
		Price:            req.Price,
		InsuranceCovered: req.InsuranceCovered,
		Notes:            req.Notes,
		RegularPackage:   req.RegularPackage,
		PackageFrequency: req.PackageFrequency,
	}
	if req.WalkerID != nil {
		walkerID, err := uuid.Parse(*req.WalkerID)
		if err != nil {
			return domain.Booking{}, errInvalidField("walker_id")
		}
		b.WalkerID = &walkerID
	}
	return b, nil
}
