package handler

import (
	"net/http"

	"github.com/petmily/walk-engine/internal/domain"
)

// RaiseEmergency handles POST /bookings/{id}/emergency. The report is
// persisted even when downstream notification fails; the 502 in that case
// tells the client to retry the notification, not to re-raise.
func (s *Server) RaiseEmergency(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	var req emergencyRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err.Error())
		return
	}

	report, err := s.emergencies.Raise(r.Context(), domain.EmergencyReport{
		BookingID:   id,
		RaisedBy:    actor,
		Type:        domain.EmergencyType(req.Type),
		Location:    req.Location,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// ListEmergencies handles GET /bookings/{id}/emergency.
func (s *Server) ListEmergencies(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, "invalid booking id")
		return
	}

	reports, err := s.emergencies.ListByBooking(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}
