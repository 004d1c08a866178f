package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petmily/walk-engine/internal/domain"
	"github.com/petmily/walk-engine/internal/notify"
	"github.com/petmily/walk-engine/internal/repo"
)

// MatchingService connects open-request bookings with walker applications.
// Selection is always an explicit requester decision; the engine never
// auto-assigns the first applicant.
type MatchingService struct {
	bookings     repo.BookingRepo
	applications repo.ApplicationRepo
	notifier     notify.Notifier
	locks        *KeyLock
	logger       *slog.Logger
}

// NewMatchingService constructs a MatchingService sharing the booking lock
// with the other services.
func NewMatchingService(
	bookings repo.BookingRepo,
	applications repo.ApplicationRepo,
	notifier notify.Notifier,
	locks *KeyLock,
	logger *slog.Logger,
) *MatchingService {
	return &MatchingService{
		bookings:     bookings,
		applications: applications,
		notifier:     notifier,
		locks:        locks,
		logger:       logger,
	}
}

// Publish re-exposes an eligible booking to the open pool. Only the requester
// may publish. Publishing an ineligible or already-published booking is a
// no-op returning the current state.
func (s *MatchingService) Publish(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error) {
	unlock := s.locks.Lock(bookingID)
	defer unlock()

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.MatchingService.Publish: %w", err)
	}
	if b.RequesterID != actor {
		return domain.Booking{}, fmt.Errorf("service.MatchingService.Publish: %w", domain.ErrNoAccess)
	}

	eligible := b.Method == domain.MethodOpenRequest &&
		b.State == domain.BookingPending &&
		b.WalkerID == nil
	if !eligible || b.Published {
		return b, nil
	}

	b.Published = true
	updated, err := s.bookings.Update(ctx, b)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.MatchingService.Publish: %w", err)
	}

	s.logger.Info("booking published to open pool", slog.String("booking_id", b.ID.String()))
	return updated, nil
}

// ListOpen returns the current open pool page for browsing walkers, newest
// first, with the total pool size.
func (s *MatchingService) ListOpen(ctx context.Context, p domain.PaginationParams) ([]domain.Booking, int64, error) {
	bookings, total, err := s.bookings.ListOpen(ctx, p)
	if err != nil {
		return nil, 0, fmt.Errorf("service.MatchingService.ListOpen: %w", err)
	}
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	return bookings, total, nil
}

// Apply places a walker's bid on an open request.
func (s *MatchingService) Apply(ctx context.Context, app domain.WalkerApplication) (domain.WalkerApplication, error) {
	if app.WalkerID == uuid.Nil {
		return domain.WalkerApplication{}, fmt.Errorf("%w: walker_id is required", domain.ErrValidation)
	}
	if app.ProposedPrice != nil && *app.ProposedPrice <= 0 {
		return domain.WalkerApplication{}, fmt.Errorf("%w: proposed_price must be positive", domain.ErrValidation)
	}

	b, err := s.bookings.GetByID(ctx, app.BookingID)
	if err != nil {
		return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Apply: %w", err)
	}
	if b.RequesterID == app.WalkerID {
		return domain.WalkerApplication{}, fmt.Errorf("%w: cannot apply to your own booking", domain.ErrValidation)
	}
	if !b.OpenForApplications() {
		return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Apply: %w", domain.ErrNotOpen)
	}

	created, err := s.applications.Create(ctx, app)
	if err != nil {
		return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Apply: %w", err)
	}

	s.logger.Info("application placed",
		slog.String("application_id", created.ID.String()),
		slog.String("booking_id", created.BookingID.String()))
	s.emit(ctx, notify.EventApplicationPlaced, created.BookingID, created)
	return created, nil
}

// Respond is the requester's decision on an application. Accepting binds the
// walker to the booking, confirms this application, rejects all pending
// siblings, and removes the booking from the open pool as one atomic unit.
// Rejecting touches only this application.
func (s *MatchingService) Respond(ctx context.Context, applicationID, actor uuid.UUID, accept bool) (domain.WalkerApplication, error) {
	app, err := s.applications.GetByID(ctx, applicationID)
	if err != nil {
		return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Respond: %w", err)
	}

	unlock := s.locks.Lock(app.BookingID)
	defer unlock()

	b, err := s.bookings.GetByID(ctx, app.BookingID)
	if err != nil {
		return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Respond: %w", err)
	}
	if b.RequesterID != actor {
		return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Respond: %w", domain.ErrNoAccess)
	}

	if !accept {
		resolved, err := s.applications.Resolve(ctx, applicationID, domain.ApplicationRejected)
		if err != nil {
			return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Respond: %w", err)
		}
		s.emit(ctx, notify.EventApplicationResult, resolved.BookingID, resolved)
		return resolved, nil
	}

	confirmed, bound, err := s.applications.AcceptAndBind(ctx, applicationID)
	if err != nil {
		return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Respond: %w", err)
	}

	s.logger.Info("application accepted",
		slog.String("application_id", confirmed.ID.String()),
		slog.String("booking_id", bound.ID.String()),
		slog.String("walker_id", confirmed.WalkerID.String()))
	s.emit(ctx, notify.EventApplicationResult, confirmed.BookingID, confirmed)
	return confirmed, nil
}

// Withdraw cancels a walker's own pending application.
func (s *MatchingService) Withdraw(ctx context.Context, applicationID, walkerID uuid.UUID) (domain.WalkerApplication, error) {
	app, err := s.applications.GetByID(ctx, applicationID)
	if err != nil {
		return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Withdraw: %w", err)
	}
	if app.WalkerID != walkerID {
		return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Withdraw: %w", domain.ErrNoAccess)
	}

	unlock := s.locks.Lock(app.BookingID)
	defer unlock()

	resolved, err := s.applications.Resolve(ctx, applicationID, domain.ApplicationWithdrawn)
	if err != nil {
		return domain.WalkerApplication{}, fmt.Errorf("service.MatchingService.Withdraw: %w", err)
	}
	return resolved, nil
}

// ListApplications returns a booking's applications for its requester.
// Always returns a non-nil slice so callers can safely range over it.
func (s *MatchingService) ListApplications(ctx context.Context, bookingID, actor uuid.UUID) ([]domain.WalkerApplication, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("service.MatchingService.ListApplications: %w", err)
	}
	if b.RequesterID != actor {
		return nil, fmt.Errorf("service.MatchingService.ListApplications: %w", domain.ErrNoAccess)
	}

	apps, err := s.applications.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("service.MatchingService.ListApplications: %w", err)
	}
	if apps == nil {
		return []domain.WalkerApplication{}, nil
	}
	return apps, nil
}

func (s *MatchingService) emit(ctx context.Context, typ notify.EventType, bookingID uuid.UUID, payload any) {
	err := s.notifier.Dispatch(ctx, notify.Event{
		Type:       typ,
		BookingID:  bookingID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		s.logger.Warn("event dispatch failed",
			slog.String("type", string(typ)),
			slog.String("booking_id", bookingID.String()),
			slog.String("error", err.Error()))
	}
}
