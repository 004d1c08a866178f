package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/petmily/walk-engine/internal/domain"
)

// Request bodies. Domain types carry their own JSON tags and serve as the
// response shapes directly; only the inbound payloads need separate types,
// because they accept a narrower field set than the domain records expose.

type createBookingRequest struct {
	WalkerID         *string          `json:"walker_id,omitempty"`
	PetID            string           `json:"pet_id"`
	ScheduledAt      time.Time        `json:"scheduled_at"`
	DurationMinutes  int              `json:"duration_minutes"`
	Method           string           `json:"method"`
	Pickup           domain.Location  `json:"pickup"`
	Dropoff          *domain.Location `json:"dropoff,omitempty"`
	Price            *float64         `json:"price,omitempty"`
	InsuranceCovered bool             `json:"insurance_covered"`
	Notes            string           `json:"notes,omitempty"`
	RegularPackage   bool             `json:"regular_package"`
	PackageFrequency string           `json:"package_frequency,omitempty"`
}

type completeBookingRequest struct {
	Notes string `json:"notes,omitempty"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason,omitempty"`
}

type applyRequest struct {
	Message       string   `json:"message,omitempty"`
	ProposedPrice *float64 `json:"proposed_price,omitempty"`
}

type respondRequest struct {
	Accept       bool   `json:"accept"`
	ResponseNote string `json:"response_note,omitempty"`
}

type changeRequestRequest struct {
	NewScheduledAt      *time.Time       `json:"new_scheduled_at,omitempty"`
	NewDurationMinutes  *int             `json:"new_duration_minutes,omitempty"`
	NewPrice            *float64         `json:"new_price,omitempty"`
	NewPickup           *domain.Location `json:"new_pickup,omitempty"`
	NewDropoff          *domain.Location `json:"new_dropoff,omitempty"`
	NewNotes            *string          `json:"new_notes,omitempty"`
	NewInsuranceCovered *bool            `json:"new_insurance_covered,omitempty"`
	ChangeReason        string           `json:"change_reason,omitempty"`
}

type pointRequest struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	TrackType string    `json:"track_type,omitempty"`
}

type ingestRequest struct {
	Points []pointRequest `json:"points"`
}

type terminationRequest struct {
	Reason string `json:"reason,omitempty"`
}

type photoRequest struct {
	Slot string `json:"slot"`
	URL  string `json:"url"`
}

type emergencyRequest struct {
	Type        string           `json:"type"`
	Location    *domain.Location `json:"location,omitempty"`
	Description string           `json:"description,omitempty"`
}

// ingestResponse reports how many points a batch landed before the first
// rejection, if any.
type ingestResponse struct {
	Accepted int `json:"accepted"`
}

// listResponse is the standard paginated list envelope.
type listResponse[T any] struct {
	Data       []T        `json:"data"`
	Pagination pagination `json:"pagination"`
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// decodeJSON decodes the request body into v, rejecting unknown fields so
// typos in field names surface as 400s instead of silently dropped input.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// queryInt parses an optional integer query parameter, returning nil when
// absent or malformed.
func queryInt(r *http.Request, key string) *int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}
