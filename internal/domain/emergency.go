package domain

import (
	"time"

	"github.com/google/uuid"
)

// EmergencyType classifies an emergency raised during an active walk.
type EmergencyType string

const (
	EmergencyPolice  EmergencyType = "POLICE"
	EmergencyFire    EmergencyType = "FIRE"
	EmergencyContact EmergencyType = "CONTACT"
)

// ValidEmergencyType reports whether t is one of the known types.
func ValidEmergencyType(t EmergencyType) bool {
	return t == EmergencyPolice || t == EmergencyFire || t == EmergencyContact
}

// EmergencyReport is the local record of an emergency interrupt.
// The report is persisted before any notification is attempted, so a failed
// dispatch never loses the emergency itself. Notified is false until the
// high-priority event has been delivered downstream.
type EmergencyReport struct {
	ID          uuid.UUID     `json:"id"`
	BookingID   uuid.UUID     `json:"booking_id"`
	RaisedBy    uuid.UUID     `json:"raised_by"`
	Type        EmergencyType `json:"type"`
	Location    *Location     `json:"location,omitempty"`
	Description string        `json:"description,omitempty"`
	RaisedAt    time.Time     `json:"raised_at"`
	Notified    bool          `json:"notified"`
}
