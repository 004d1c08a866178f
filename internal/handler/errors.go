package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/petmily/walk-engine/internal/domain"
)

// ErrorDetail is the machine-readable error payload.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps every non-2xx body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// sentinelStatus maps a domain sentinel to its HTTP status and stable error
// code. Ordering matters only for documentation; errors.Is does the matching.
var sentinelStatus = []struct {
	sentinel error
	status   int
	code     string
}{
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_error"},
	{domain.ErrStalePoint, http.StatusUnprocessableEntity, "stale_point"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{domain.ErrNotOpen, http.StatusConflict, "not_open"},
	{domain.ErrDuplicateApplication, http.StatusConflict, "duplicate_application"},
	{domain.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{domain.ErrConflictingRequest, http.StatusConflict, "conflicting_request"},
	{domain.ErrWalkerBusy, http.StatusConflict, "walker_busy"},
	{domain.ErrSlotTaken, http.StatusConflict, "slot_taken"},
	{domain.ErrNotWalker, http.StatusForbidden, "forbidden"},
	{domain.ErrNotCounterparty, http.StatusForbidden, "forbidden"},
	{domain.ErrNoAccess, http.StatusForbidden, "forbidden"},
	{domain.ErrSessionClosed, http.StatusGone, "session_closed"},
	{domain.ErrNotifyFailed, http.StatusBadGateway, "notify_failed"},
}

// writeError maps err to its HTTP status and writes the JSON error body.
// Unrecognized errors become an opaque 500; the message of an internal error
// is never echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	for _, m := range sentinelStatus {
		if errors.Is(err, m.sentinel) {
			writeJSON(w, m.status, ErrorResponse{Error: ErrorDetail{Code: m.code, Message: unwrapMessage(err)}})
			return
		}
	}
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrorDetail{Code: "internal_error", Message: "internal server error"}})
}

// requestError writes a 400 for a request rejected before reaching the
// service layer (malformed body, bad path parameter).
func requestError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{Code: "bad_request", Message: message}})
}

// writeJSON writes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // headers already sent
}

// unwrapMessage strips the "pkg.Type.Method: " call-site prefixes from a
// wrapped sentinel error, leaving the human-readable tail.
// e.g. "service.BookingService.Create: validation error: pet_id is required"
// → "validation error: pet_id is required".
func unwrapMessage(err error) string {
	msg := err.Error()
	for {
		i := strings.Index(msg, ": ")
		if i < 0 {
			return msg
		}
		head := msg[:i]
		// Call-site prefixes look like "service.BookingService.Create".
		if strings.Count(head, ".") < 2 || strings.ContainsAny(head, " ") {
			return msg
		}
		msg = msg[i+2:]
	}
}
