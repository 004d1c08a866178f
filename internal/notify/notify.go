// Package notify publishes booking lifecycle and emergency events for
// downstream consumers (push notification service, ops dashboards).
// The engine itself never renders notifications; it only emits events.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType names the kind of event being dispatched. The value doubles as
// the AMQP routing key suffix.
type EventType string

const (
	EventBookingCreated    EventType = "booking.created"
	EventBookingConfirmed  EventType = "booking.confirmed"
	EventBookingStarted    EventType = "booking.started"
	EventBookingCompleted  EventType = "booking.completed"
	EventBookingCancelled  EventType = "booking.cancelled"
	EventBookingExpired    EventType = "booking.expired"
	EventApplicationPlaced EventType = "application.placed"
	EventApplicationResult EventType = "application.result"
	EventChangeRequested   EventType = "change.requested"
	EventChangeResolved    EventType = "change.resolved"
	EventTerminationAsked  EventType = "walk.termination_requested"
	EventEmergency         EventType = "walk.emergency"
)

// Event is a single notification payload. Payload carries event-specific
// fields and must be JSON-serializable.
type Event struct {
	Type       EventType `json:"type"`
	BookingID  uuid.UUID `json:"booking_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// Notifier dispatches events to whatever transport is configured.
// Implementations must be safe for concurrent use.
type Notifier interface {
	Dispatch(ctx context.Context, e Event) error
}

// NopNotifier logs events instead of delivering them. Used when no broker
// is configured (local development, most test setups).
type NopNotifier struct {
	Logger *slog.Logger
}

func (n NopNotifier) Dispatch(_ context.Context, e Event) error {
	if n.Logger != nil {
		n.Logger.Debug("event dropped, no broker configured",
			slog.String("type", string(e.Type)),
			slog.String("booking_id", e.BookingID.String()))
	}
	return nil
}
