package domain

import (
	"time"

	"github.com/google/uuid"
)

// ApplicationStatus is the lifecycle state of a WalkerApplication.
type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "PENDING"
	ApplicationConfirmed ApplicationStatus = "CONFIRMED"
	ApplicationRejected  ApplicationStatus = "REJECTED"
	ApplicationWithdrawn ApplicationStatus = "WITHDRAWN"
)

// WalkerApplication is a walker's bid on an open-request booking.
// At most one application per booking ever reaches CONFIRMED; confirming one
// atomically rejects all other PENDING applications for the same booking.
type WalkerApplication struct {
	ID            uuid.UUID         `json:"id"`
	BookingID     uuid.UUID         `json:"booking_id"`
	WalkerID      uuid.UUID         `json:"walker_id"`
	Message       string            `json:"message,omitempty"`
	ProposedPrice *float64          `json:"proposed_price,omitempty"`
	Status        ApplicationStatus `json:"status"`
	AppliedAt     time.Time         `json:"applied_at"`
	RespondedAt   *time.Time        `json:"responded_at,omitempty"`
}
