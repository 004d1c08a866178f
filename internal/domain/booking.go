// Package domain contains the core data types for the walk-booking engine.
// This package has zero external dependencies beyond uuid and is imported by
// every other internal package (repo, service, handler).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingState is the lifecycle state of a Booking.
// Transitions are enforced by the service layer:
// PENDING → CONFIRMED → IN_PROGRESS → COMPLETED, with CANCELLED reachable
// from every non-terminal state. COMPLETED and CANCELLED are terminal.
type BookingState string

const (
	BookingPending    BookingState = "PENDING"
	BookingConfirmed  BookingState = "CONFIRMED"
	BookingInProgress BookingState = "IN_PROGRESS"
	BookingCompleted  BookingState = "COMPLETED"
	BookingCancelled  BookingState = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s BookingState) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// BookingMethod says how the walker for a booking is determined.
type BookingMethod string

const (
	// MethodWalkerSelection means the requester chose a walker at creation time.
	MethodWalkerSelection BookingMethod = "WALKER_SELECTION"
	// MethodOpenRequest means the walker is determined later through the
	// open-request pool and walker applications.
	MethodOpenRequest BookingMethod = "OPEN_REQUEST"
)

// Location is a geographic point with a human-readable address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Booking represents a single requested or executed walk between a requester
// and a walker. WalkerID is nil until a walker is bound, which happens either
// at creation (WALKER_SELECTION) or when an application is accepted
// (OPEN_REQUEST).
type Booking struct {
	ID               uuid.UUID     `json:"id"`
	RequesterID      uuid.UUID     `json:"requester_id"`
	WalkerID         *uuid.UUID    `json:"walker_id,omitempty"`
	PetID            uuid.UUID     `json:"pet_id"`
	ScheduledAt      time.Time     `json:"scheduled_at"`
	DurationMinutes  int           `json:"duration_minutes"`
	Method           BookingMethod `json:"method"`
	Pickup           Location      `json:"pickup"`
	Dropoff          *Location     `json:"dropoff,omitempty"` // nil means same as pickup
	Price            *float64      `json:"price,omitempty"`
	InsuranceCovered bool          `json:"insurance_covered"`
	Notes            string        `json:"notes,omitempty"`

	// Recurrence metadata only; recurrence execution is out of scope.
	RegularPackage   bool   `json:"regular_package"`
	PackageFrequency string `json:"package_frequency,omitempty"`

	State BookingState `json:"state"`

	// Published marks membership in the open-request pool. Maintained in the
	// same transaction as the state changes that affect eligibility.
	Published bool `json:"published"`

	CancelReason string    `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DropoffOrPickup returns the dropoff location, defaulting to pickup when no
// separate dropoff was given.
func (b Booking) DropoffOrPickup() Location {
	if b.Dropoff != nil {
		return *b.Dropoff
	}
	return b.Pickup
}

// OpenForApplications reports whether the booking is visible to the matching
// pool: an OPEN_REQUEST booking, still PENDING, published, with no walker bound.
func (b Booking) OpenForApplications() bool {
	return b.Method == MethodOpenRequest &&
		b.State == BookingPending &&
		b.Published &&
		b.WalkerID == nil
}
