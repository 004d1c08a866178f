package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/petmily/walk-engine/internal/domain"
)

// IngestPoints handles POST /sessions/{id}/points. The body carries a batch
// of GPS samples; points are ingested in order and the response reports how
// many were accepted. Stale samples are skipped individually; a batch where
// every point is stale fails with 422.
func (s *Server) IngestPoints(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, "invalid session id")
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err.Error())
		return
	}
	if len(req.Points) == 0 {
		requestError(w, "points must not be empty")
		return
	}

	accepted := 0
	var stale error
	for _, p := range req.Points {
		err := s.tracking.Ingest(r.Context(), id, domain.TrackPoint{
			SessionID: id,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Timestamp: p.Timestamp,
			Accuracy:  p.Accuracy,
			Speed:     p.Speed,
			Altitude:  p.Altitude,
			TrackType: domain.TrackType(p.TrackType),
		})
		if err != nil {
			// A stale point invalidates only itself; keep going so one bad
			// sample cannot shadow the rest of the batch.
			if errors.Is(err, domain.ErrStalePoint) {
				stale = err
				continue
			}
			writeError(w, err)
			return
		}
		accepted++
	}
	if accepted == 0 && stale != nil {
		writeError(w, stale)
		return
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: accepted})
}

// GetPath handles GET /sessions/{id}/path. With ?since=<RFC3339> only points
// newer than the timestamp are returned, which is the polling contract for
// live location updates.
func (s *Server) GetPath(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, "invalid session id")
		return
	}

	if since := r.URL.Query().Get("since"); since != "" {
		after, err := time.Parse(time.RFC3339, since)
		if err != nil {
			requestError(w, "invalid since timestamp, expected RFC3339")
			return
		}
		points, err := s.tracking.PointsSince(r.Context(), id, after)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"points": points})
		return
	}

	points, stats, err := s.tracking.Path(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points, "statistics": stats})
}

// GetStatistics handles GET /sessions/{id}/statistics.
func (s *Server) GetStatistics(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, "invalid session id")
		return
	}

	stats, err := s.tracking.Statistics(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RequestTermination handles POST /sessions/{id}/termination-request.
func (s *Server) RequestTermination(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actionTarget(w, r)
	if !ok {
		return
	}

	var req terminationRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			requestError(w, err.Error())
			return
		}
	}

	if err := s.tracking.RequestTermination(r.Context(), id, actor, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RecordPhoto handles POST /sessions/{id}/photos.
func (s *Server) RecordPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, "invalid session id")
		return
	}

	var req photoRequest
	if err := decodeJSON(r, &req); err != nil {
		requestError(w, err.Error())
		return
	}

	if err := s.tracking.RecordPhoto(r.Context(), id, domain.PhotoSlot(req.Slot), req.URL); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
