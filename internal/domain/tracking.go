package domain

import (
	"time"

	"github.com/google/uuid"
)

// TrackType classifies the movement mode of a single GPS sample.
type TrackType string

const (
	TrackWalking    TrackType = "WALKING"
	TrackRunning    TrackType = "RUNNING"
	TrackStationary TrackType = "STATIONARY"
)

// PhotoSlot names one of the three proof-of-service photo slots.
// Each slot may be written exactly once per session.
type PhotoSlot string

const (
	PhotoStart  PhotoSlot = "START"
	PhotoMiddle PhotoSlot = "MIDDLE"
	PhotoEnd    PhotoSlot = "END"
)

// ValidPhotoSlot reports whether s is one of the known slots.
func ValidPhotoSlot(s PhotoSlot) bool {
	return s == PhotoStart || s == PhotoMiddle || s == PhotoEnd
}

// TrackPoint is one timestamped GPS sample within a tracking session.
// Outlier marks a point whose implied instantaneous speed is implausible;
// outliers are kept in the raw history but excluded from statistics.
type TrackPoint struct {
	SessionID uuid.UUID `json:"session_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	TrackType TrackType `json:"track_type"`
	Outlier   bool      `json:"outlier"`
}

// WalkStatistics are the derived aggregates over a session's accepted points.
type WalkStatistics struct {
	TotalDistanceMeters float64       `json:"total_distance_meters"`
	Duration            time.Duration `json:"duration"`
	AverageSpeedMPS     float64       `json:"average_speed_mps"`
	MaxSpeedMPS         float64       `json:"max_speed_mps"`
	PointCount          int           `json:"point_count"`
}

// TerminationRequest is an early-end signal recorded against an open session.
// It does not close the session by itself; completion or cancellation by an
// authorized actor still does that.
type TerminationRequest struct {
	RequestedBy uuid.UUID `json:"requested_by"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// TrackingSession is the live-tracking record for one in-progress booking.
// The ordered point buffer lives in memory while the session is open; the
// summary row and the points are persisted by the tracker.
type TrackingSession struct {
	ID        uuid.UUID  `json:"id"`
	BookingID uuid.UUID  `json:"booking_id"`
	WalkerID  uuid.UUID  `json:"walker_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Aborted   bool       `json:"aborted"`

	Points      []TrackPoint         `json:"points,omitempty"`
	Termination *TerminationRequest  `json:"termination,omitempty"`
	Photos      map[PhotoSlot]string `json:"photos,omitempty"`
	Statistics  *WalkStatistics      `json:"statistics,omitempty"` // set when closed
}

// Open reports whether the session still accepts points.
func (s TrackingSession) Open() bool {
	return s.EndedAt == nil
}
