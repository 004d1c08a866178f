package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeRequestStatus is the lifecycle state of a ChangeRequest.
// PENDING requests are terminal after a response: ACCEPTED or REJECTED.
type ChangeRequestStatus string

const (
	ChangePending  ChangeRequestStatus = "PENDING"
	ChangeAccepted ChangeRequestStatus = "ACCEPTED"
	ChangeRejected ChangeRequestStatus = "REJECTED"
)

// ChangeRequest is a proposed mutation to an existing booking's terms.
// Only the fields being changed are set; nil fields are left untouched when
// the request is accepted. Acceptance applies the whole diff atomically or
// not at all.
type ChangeRequest struct {
	ID          uuid.UUID `json:"id"`
	BookingID   uuid.UUID `json:"booking_id"`
	RequestedBy uuid.UUID `json:"requested_by"`

	NewScheduledAt      *time.Time `json:"new_scheduled_at,omitempty"`
	NewDurationMinutes  *int       `json:"new_duration_minutes,omitempty"`
	NewPrice            *float64   `json:"new_price,omitempty"`
	NewPickup           *Location  `json:"new_pickup,omitempty"`
	NewDropoff          *Location  `json:"new_dropoff,omitempty"`
	NewNotes            *string    `json:"new_notes,omitempty"`
	NewInsuranceCovered *bool      `json:"new_insurance_covered,omitempty"`

	ChangeReason string              `json:"change_reason,omitempty"`
	Status       ChangeRequestStatus `json:"status"`
	ResponseNote string              `json:"response_note,omitempty"`
	RequestedAt  time.Time           `json:"requested_at"`
	RespondedAt  *time.Time          `json:"responded_at,omitempty"`
}

// Empty reports whether the request proposes no changes at all.
func (c ChangeRequest) Empty() bool {
	return c.NewScheduledAt == nil &&
		c.NewDurationMinutes == nil &&
		c.NewPrice == nil &&
		c.NewPickup == nil &&
		c.NewDropoff == nil &&
		c.NewNotes == nil &&
		c.NewInsuranceCovered == nil
}

// ApplyTo copies every set field of the diff onto b and returns the result.
// It never partially applies: callers validate the merged booking first and
// persist the whole thing in one write.
func (c ChangeRequest) ApplyTo(b Booking) Booking {
	if c.NewScheduledAt != nil {
		b.ScheduledAt = *c.NewScheduledAt
	}
	if c.NewDurationMinutes != nil {
		b.DurationMinutes = *c.NewDurationMinutes
	}
	if c.NewPrice != nil {
		price := *c.NewPrice
		b.Price = &price
	}
	if c.NewPickup != nil {
		b.Pickup = *c.NewPickup
	}
	if c.NewDropoff != nil {
		dropoff := *c.NewDropoff
		b.Dropoff = &dropoff
	}
	if c.NewNotes != nil {
		b.Notes = *c.NewNotes
	}
	if c.NewInsuranceCovered != nil {
		b.InsuranceCovered = *c.NewInsuranceCovered
	}
	return b
}
