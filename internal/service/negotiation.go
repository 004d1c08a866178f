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

// NegotiationService handles change requests: one party proposes a diff to a
// booking's terms, the counterparty accepts or rejects it. A diff is applied
// whole or not at all.
type NegotiationService struct {
	bookings repo.BookingRepo
	changes  repo.ChangeRequestRepo
	notifier notify.Notifier
	locks    *KeyLock
	logger   *slog.Logger
}

// NewNegotiationService constructs a NegotiationService sharing the booking
// lock with the other services.
func NewNegotiationService(
	bookings repo.BookingRepo,
	changes repo.ChangeRequestRepo,
	notifier notify.Notifier,
	locks *KeyLock,
	logger *slog.Logger,
) *NegotiationService {
	return &NegotiationService{
		bookings: bookings,
		changes:  changes,
		notifier: notifier,
		locks:    locks,
		logger:   logger,
	}
}

// Propose files a change request against a booking. Only a party to the
// booking may propose; the booking must still be PENDING or CONFIRMED; and a
// booking can carry at most one pending request at a time.
func (s *NegotiationService) Propose(ctx context.Context, cr domain.ChangeRequest) (domain.ChangeRequest, error) {
	if cr.Empty() {
		return domain.ChangeRequest{}, fmt.Errorf("%w: change request proposes no changes", domain.ErrValidation)
	}

	unlock := s.locks.Lock(cr.BookingID)
	defer unlock()

	b, err := s.bookings.GetByID(ctx, cr.BookingID)
	if err != nil {
		return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Propose: %w", err)
	}
	if !isParty(b, cr.RequestedBy) {
		return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Propose: %w", domain.ErrNoAccess)
	}
	if b.State != domain.BookingPending && b.State != domain.BookingConfirmed {
		return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Propose: %s: %w", b.State, domain.ErrIllegalTransition)
	}

	created, err := s.changes.Create(ctx, cr)
	if err != nil {
		return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Propose: %w", err)
	}

	s.logger.Info("change request proposed",
		slog.String("request_id", created.ID.String()),
		slog.String("booking_id", created.BookingID.String()))
	s.emit(ctx, notify.EventChangeRequested, created.BookingID, created)
	return created, nil
}

// Respond is the counterparty's decision. Accepting re-validates the merged
// booking and applies the whole diff in one transaction; if the merged terms
// no longer validate, the acceptance fails with ErrValidation and the request
// stays PENDING for the responder to retry or reject. Rejecting leaves the
// booking untouched.
func (s *NegotiationService) Respond(ctx context.Context, requestID, actor uuid.UUID, accept bool, responseNote string) (domain.ChangeRequest, error) {
	cr, err := s.changes.GetByID(ctx, requestID)
	if err != nil {
		return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Respond: %w", err)
	}
	if actor == cr.RequestedBy {
		return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Respond: %w", domain.ErrNotCounterparty)
	}

	unlock := s.locks.Lock(cr.BookingID)
	defer unlock()

	b, err := s.bookings.GetByID(ctx, cr.BookingID)
	if err != nil {
		return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Respond: %w", err)
	}
	if !isParty(b, actor) {
		return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Respond: %w", domain.ErrNoAccess)
	}

	if !accept {
		rejected, err := s.changes.Reject(ctx, requestID, responseNote)
		if err != nil {
			return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Respond: %w", err)
		}
		s.emit(ctx, notify.EventChangeResolved, rejected.BookingID, rejected)
		return rejected, nil
	}

	if b.State != domain.BookingPending && b.State != domain.BookingConfirmed {
		return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Respond: %s: %w", b.State, domain.ErrIllegalTransition)
	}

	merged := cr.ApplyTo(b)
	if err := validateMerged(merged); err != nil {
		return domain.ChangeRequest{}, err
	}

	accepted, _, err := s.changes.Accept(ctx, requestID, responseNote, merged)
	if err != nil {
		return domain.ChangeRequest{}, fmt.Errorf("service.NegotiationService.Respond: %w", err)
	}

	s.logger.Info("change request accepted",
		slog.String("request_id", accepted.ID.String()),
		slog.String("booking_id", accepted.BookingID.String()))
	s.emit(ctx, notify.EventChangeResolved, accepted.BookingID, accepted)
	return accepted, nil
}

// ListByBooking returns a booking's change requests for either party,
// newest first. Always returns a non-nil slice.
func (s *NegotiationService) ListByBooking(ctx context.Context, bookingID, actor uuid.UUID) ([]domain.ChangeRequest, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("service.NegotiationService.ListByBooking: %w", err)
	}
	if !isParty(b, actor) {
		return nil, fmt.Errorf("service.NegotiationService.ListByBooking: %w", domain.ErrNoAccess)
	}

	requests, err := s.changes.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("service.NegotiationService.ListByBooking: %w", err)
	}
	if requests == nil {
		return []domain.ChangeRequest{}, nil
	}
	return requests, nil
}

// validateMerged re-checks the booking after the diff lands on it. Runs at
// accept time: a request that was fine when proposed can have gone stale.
func validateMerged(b domain.Booking) error {
	if !b.ScheduledAt.After(time.Now()) {
		return fmt.Errorf("%w: new scheduled_at is no longer in the future", domain.ErrValidation)
	}
	if b.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration_minutes must be positive", domain.ErrValidation)
	}
	if b.Price != nil && *b.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", domain.ErrValidation)
	}
	if err := validateLocation(b.Pickup, "pickup"); err != nil {
		return err
	}
	if b.Dropoff != nil {
		if err := validateLocation(*b.Dropoff, "dropoff"); err != nil {
			return err
		}
	}
	return nil
}

func (s *NegotiationService) emit(ctx context.Context, typ notify.EventType, bookingID uuid.UUID, payload any) {
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
