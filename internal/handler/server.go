// Package handler implements the HTTP handlers for the walk-booking API.
// All handlers are methods on Server. Methods are split into domain-specific
// files (booking.go, matching.go, tracking.go, etc.) but all share the same
// Server struct so they can access its dependencies.
package handler

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/petmily/walk-engine/internal/domain"
)

// BookingServicer defines the booking lifecycle operations the handlers
// depend on. Defining the interface here (in the consumer package) follows
// the Go convention: "accept interfaces, return concrete types". It lets
// handler tests inject a mock without touching the database or service layer.
type BookingServicer interface {
	Create(ctx context.Context, b domain.Booking) (domain.Booking, error)
	Confirm(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error)
	Start(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error)
	Complete(ctx context.Context, bookingID, actor uuid.UUID, closingNotes string) (domain.Booking, error)
	Cancel(ctx context.Context, bookingID, actor uuid.UUID, reason string) (domain.Booking, error)
	GetByID(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]domain.Booking, error)
	ListByWalker(ctx context.Context, walkerID uuid.UUID) ([]domain.Booking, error)
}

// MatchingServicer defines the open-request pool operations.
type MatchingServicer interface {
	Publish(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error)
	ListOpen(ctx context.Context, p domain.PaginationParams) ([]domain.Booking, int64, error)
	Apply(ctx context.Context, app domain.WalkerApplication) (domain.WalkerApplication, error)
	Respond(ctx context.Context, applicationID, actor uuid.UUID, accept bool) (domain.WalkerApplication, error)
	Withdraw(ctx context.Context, applicationID, walkerID uuid.UUID) (domain.WalkerApplication, error)
	ListApplications(ctx context.Context, bookingID, actor uuid.UUID) ([]domain.WalkerApplication, error)
}

// NegotiationServicer defines the change-request operations.
type NegotiationServicer interface {
	Propose(ctx context.Context, cr domain.ChangeRequest) (domain.ChangeRequest, error)
	Respond(ctx context.Context, requestID, actor uuid.UUID, accept bool, responseNote string) (domain.ChangeRequest, error)
	ListByBooking(ctx context.Context, bookingID, actor uuid.UUID) ([]domain.ChangeRequest, error)
}

// TrackingServicer defines the live-tracking operations exposed over HTTP.
type TrackingServicer interface {
	Ingest(ctx context.Context, sessionID uuid.UUID, p domain.TrackPoint) error
	Statistics(ctx context.Context, sessionID uuid.UUID) (domain.WalkStatistics, error)
	Path(ctx context.Context, sessionID uuid.UUID) ([]domain.TrackPoint, domain.WalkStatistics, error)
	PointsSince(ctx context.Context, sessionID uuid.UUID, after time.Time) ([]domain.TrackPoint, error)
	RequestTermination(ctx context.Context, sessionID, requestedBy uuid.UUID, reason string) error
	RecordPhoto(ctx context.Context, sessionID uuid.UUID, slot domain.PhotoSlot, uri string) error
}

// EmergencyServicer defines the emergency interrupt operations.
type EmergencyServicer interface {
	Raise(ctx context.Context, report domain.EmergencyReport) (domain.EmergencyReport, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.EmergencyReport, error)
}

// Server holds the service dependencies for all API endpoints.
// Methods are in domain-specific files but all operate on this struct.
type Server struct {
	bookings    BookingServicer
	matching    MatchingServicer
	negotiation NegotiationServicer
	tracking    TrackingServicer
	emergencies EmergencyServicer
}

// NewServer constructs the Server with all its dependencies.
func NewServer(
	bookings BookingServicer,
	matching MatchingServicer,
	negotiation NegotiationServicer,
	tracking TrackingServicer,
	emergencies EmergencyServicer,
) *Server {
	return &Server{
		bookings:    bookings,
		matching:    matching,
		negotiation: negotiation,
		tracking:    tracking,
		emergencies: emergencies,
	}
}

// Routes mounts every endpoint on a fresh chi router. Identity and the rest
// of the middleware stack are applied by the caller; /healthz is expected to
// be mounted outside the identity-guarded group.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", s.CreateBooking)
		r.Get("/", s.ListBookings)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetBooking)
			r.Post("/confirm", s.ConfirmBooking)
			r.Post("/start", s.StartBooking)
			r.Post("/complete", s.CompleteBooking)
			r.Post("/cancel", s.CancelBooking)
			r.Post("/publish", s.PublishBooking)
			r.Get("/applications", s.ListApplications)
			r.Post("/change-requests", s.ProposeChange)
			r.Get("/change-requests", s.ListChangeRequests)
			r.Post("/emergency", s.RaiseEmergency)
			r.Get("/emergency", s.ListEmergencies)
		})
	})

	r.Get("/open-requests", s.ListOpenRequests)
	r.Post("/open-requests/{id}/applications", s.ApplyToOpenRequest)

	r.Post("/applications/{id}/respond", s.RespondToApplication)
	r.Post("/applications/{id}/withdraw", s.WithdrawApplication)

	r.Post("/change-requests/{id}/respond", s.RespondToChange)

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/points", s.IngestPoints)
		r.Get("/path", s.GetPath)
		r.Get("/statistics", s.GetStatistics)
		r.Post("/termination-request", s.RequestTermination)
		r.Post("/photos", s.RecordPhoto)
	})

	return r
}
