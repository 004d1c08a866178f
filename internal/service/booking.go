// Package service implements the business logic of the walk-booking engine:
// the booking state machine, open-request matching, change-request
// negotiation, live tracking, and the emergency side channel. Services
// depend on repo interfaces and are unit-tested with function-field mocks.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petmily/walk-engine/internal/domain"
	"github.com/petmily/walk-engine/internal/notify"
	"github.com/petmily/walk-engine/internal/repo"
)

// PetProfiles is the read-only pet catalog contract. Create only uses it to
// verify the pet exists; Get must return domain.ErrNotFound for unknown IDs.
type PetProfiles interface {
	Get(ctx context.Context, petID uuid.UUID) (domain.PetSummary, error)
}

// BookingService implements the booking lifecycle state machine:
// PENDING → CONFIRMED → IN_PROGRESS → COMPLETED, with CANCELLED reachable
// from every non-terminal state. Every mutation runs under a per-booking
// lock so concurrent transitions on the same booking serialize.
type BookingService struct {
	bookings repo.BookingRepo
	tracker  *Tracker
	pets     PetProfiles
	notifier notify.Notifier
	locks    *KeyLock
	logger   *slog.Logger

	// expiryGrace is how long past its scheduled time a PENDING booking may
	// linger before ExpirePending cancels it.
	expiryGrace time.Duration
}

// NewBookingService constructs a BookingService. The KeyLock is shared with
// the matching and negotiation services so all booking mutations serialize
// on the same mutex.
func NewBookingService(
	bookings repo.BookingRepo,
	tracker *Tracker,
	pets PetProfiles,
	notifier notify.Notifier,
	locks *KeyLock,
	logger *slog.Logger,
	expiryGrace time.Duration,
) *BookingService {
	return &BookingService{
		bookings:    bookings,
		tracker:     tracker,
		pets:        pets,
		notifier:    notifier,
		locks:       locks,
		logger:      logger,
		expiryGrace: expiryGrace,
	}
}

// Create validates the request, verifies the pet exists, and persists the
// booking in PENDING. OPEN_REQUEST bookings enter the open pool immediately.
func (s *BookingService) Create(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if err := validateBooking(b); err != nil {
		return domain.Booking{}, err
	}
	if _, err := s.pets.Get(ctx, b.PetID); err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Create: pet %s: %w", b.PetID, err)
	}

	b.State = domain.BookingPending
	b.Published = b.Method == domain.MethodOpenRequest
	b.CancelReason = ""

	created, err := s.bookings.Create(ctx, b)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Create: %w", err)
	}

	s.logger.Info("booking created",
		slog.String("booking_id", created.ID.String()),
		slog.String("method", string(created.Method)))
	s.emit(ctx, notify.EventBookingCreated, created.ID, created)
	return created, nil
}

// Confirm transitions PENDING → CONFIRMED. Only the bound walker may confirm.
func (s *BookingService) Confirm(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error) {
	unlock := s.locks.Lock(bookingID)
	defer unlock()

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Confirm: %w", err)
	}
	if b.WalkerID == nil || *b.WalkerID != actor {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Confirm: %w", domain.ErrNotWalker)
	}
	if b.State != domain.BookingPending {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Confirm: %s: %w", b.State, domain.ErrIllegalTransition)
	}

	b.State = domain.BookingConfirmed
	b.Published = false

	updated, err := s.bookings.Update(ctx, b)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Confirm: %w", err)
	}

	s.transitionLog(updated, actor)
	s.emit(ctx, notify.EventBookingConfirmed, updated.ID, updated)
	return updated, nil
}

// Start transitions PENDING or CONFIRMED → IN_PROGRESS and opens the
// tracking session. A walker can run only one walk at a time; starting a
// second fails with ErrWalkerBusy. Calling Start again on a booking the same
// walker already started is an idempotent no-op.
func (s *BookingService) Start(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error) {
	unlock := s.locks.Lock(bookingID)
	defer unlock()

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Start: %w", err)
	}
	if b.WalkerID == nil || *b.WalkerID != actor {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Start: %w", domain.ErrNotWalker)
	}
	if b.State == domain.BookingInProgress {
		return b, nil
	}
	if b.State != domain.BookingPending && b.State != domain.BookingConfirmed {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Start: %s: %w", b.State, domain.ErrIllegalTransition)
	}

	busy, err := s.tracker.HasActive(ctx, actor)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Start: %w", err)
	}
	if busy {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Start: %w", domain.ErrWalkerBusy)
	}

	session, err := s.tracker.Open(ctx, b.ID, actor)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Start: %w", err)
	}

	b.State = domain.BookingInProgress
	b.Published = false

	updated, err := s.bookings.Update(ctx, b)
	if err != nil {
		// The booking stayed in its prior state; the session must not
		// outlive this call, or the walker is busy with a walk that never
		// started.
		if _, closeErr := s.tracker.Close(ctx, session.ID, true); closeErr != nil {
			s.logger.Error("session teardown after failed start",
				slog.String("session_id", session.ID.String()),
				slog.String("error", closeErr.Error()))
		}
		return domain.Booking{}, fmt.Errorf("service.BookingService.Start: %w", err)
	}

	s.transitionLog(updated, actor)
	s.emit(ctx, notify.EventBookingStarted, updated.ID, updated)
	return updated, nil
}

// Complete transitions IN_PROGRESS → COMPLETED and closes the tracking
// session, freezing its statistics. Only the bound walker may complete.
// A pending termination request is resolved by the close.
func (s *BookingService) Complete(ctx context.Context, bookingID, actor uuid.UUID, closingNotes string) (domain.Booking, error) {
	unlock := s.locks.Lock(bookingID)
	defer unlock()

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Complete: %w", err)
	}
	if b.WalkerID == nil || *b.WalkerID != actor {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Complete: %w", domain.ErrNotWalker)
	}
	if b.State != domain.BookingInProgress {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Complete: %s: %w", b.State, domain.ErrIllegalTransition)
	}

	if sessionID, err := s.tracker.OpenSessionID(b.ID); err == nil {
		if _, err := s.tracker.Close(ctx, sessionID, false); err != nil {
			return domain.Booking{}, fmt.Errorf("service.BookingService.Complete: %w", err)
		}
	}

	b.State = domain.BookingCompleted
	if notes := strings.TrimSpace(closingNotes); notes != "" {
		if b.Notes != "" {
			b.Notes += "\n"
		}
		b.Notes += notes
	}

	updated, err := s.bookings.Update(ctx, b)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Complete: %w", err)
	}

	s.transitionLog(updated, actor)
	s.emit(ctx, notify.EventBookingCompleted, updated.ID, updated)
	return updated, nil
}

// Cancel transitions any non-terminal state → CANCELLED. Either party may
// cancel. Cancelling closes any open session for the booking as aborted.
func (s *BookingService) Cancel(ctx context.Context, bookingID, actor uuid.UUID, reason string) (domain.Booking, error) {
	unlock := s.locks.Lock(bookingID)
	defer unlock()

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Cancel: %w", err)
	}
	if !isParty(b, actor) {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Cancel: %w", domain.ErrNoAccess)
	}
	if b.State.Terminal() {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Cancel: %s: %w", b.State, domain.ErrIllegalTransition)
	}

	// A session can be registered outside IN_PROGRESS if an earlier start
	// failed midway; cancelling sweeps it regardless of state.
	if sessionID, err := s.tracker.OpenSessionID(b.ID); err == nil {
		if _, err := s.tracker.Close(ctx, sessionID, true); err != nil {
			return domain.Booking{}, fmt.Errorf("service.BookingService.Cancel: %w", err)
		}
	}

	b.State = domain.BookingCancelled
	b.Published = false
	b.CancelReason = reason

	updated, err := s.bookings.Update(ctx, b)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Cancel: %w", err)
	}

	s.transitionLog(updated, actor)
	s.emit(ctx, notify.EventBookingCancelled, updated.ID, updated)
	return updated, nil
}

// GetByID returns a single booking.
func (s *BookingService) GetByID(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.GetByID: %w", err)
	}
	return b, nil
}

// ListByRequester returns the requester's bookings, newest scheduled first.
// Always returns a non-nil slice so callers can safely range over it.
func (s *BookingService) ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]domain.Booking, error) {
	bookings, err := s.bookings.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("service.BookingService.ListByRequester: %w", err)
	}
	if bookings == nil {
		return []domain.Booking{}, nil
	}
	return bookings, nil
}

// ListByWalker returns the walker's bookings, newest scheduled first.
// Always returns a non-nil slice so callers can safely range over it.
func (s *BookingService) ListByWalker(ctx context.Context, walkerID uuid.UUID) ([]domain.Booking, error) {
	bookings, err := s.bookings.ListByWalker(ctx, walkerID)
	if err != nil {
		return nil, fmt.Errorf("service.BookingService.ListByWalker: %w", err)
	}
	if bookings == nil {
		return []domain.Booking{}, nil
	}
	return bookings, nil
}

// ExpirePending cancels every PENDING booking whose scheduled time plus the
// grace window has passed. It is a policy hook: the scheduler may drive it on
// a ticker, or an operator may invoke it on demand. Returns how many bookings
// were expired.
func (s *BookingService) ExpirePending(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.expiryGrace)

	expired, err := s.bookings.ExpirePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("service.BookingService.ExpirePending: %w", err)
	}

	for _, b := range expired {
		s.logger.Info("booking expired",
			slog.String("booking_id", b.ID.String()),
			slog.Time("scheduled_at", b.ScheduledAt))
		s.emit(ctx, notify.EventBookingExpired, b.ID, b)
	}
	return len(expired), nil
}

// emit dispatches a lifecycle event. Dispatch failures are logged and never
// roll back the local state change.
func (s *BookingService) emit(ctx context.Context, typ notify.EventType, bookingID uuid.UUID, payload any) {
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

func (s *BookingService) transitionLog(b domain.Booking, actor uuid.UUID) {
	s.logger.Info("booking state changed",
		slog.String("booking_id", b.ID.String()),
		slog.String("state", string(b.State)),
		slog.String("actor", actor.String()))
}

// isParty reports whether actor is the requester or the bound walker.
func isParty(b domain.Booking, actor uuid.UUID) bool {
	if actor == b.RequesterID {
		return true
	}
	return b.WalkerID != nil && *b.WalkerID == actor
}

// validateBooking enforces the creation rules:
//   - requester, pet, and a plausible pickup location are required
//   - scheduled time must be in the future, duration positive
//   - WALKER_SELECTION requires a walker; OPEN_REQUEST forbids one
//   - price, when given, must be positive
func validateBooking(b domain.Booking) error {
	if b.RequesterID == uuid.Nil {
		return fmt.Errorf("%w: requester_id is required", domain.ErrValidation)
	}
	if b.PetID == uuid.Nil {
		return fmt.Errorf("%w: pet_id is required", domain.ErrValidation)
	}
	if !b.ScheduledAt.After(time.Now()) {
		return fmt.Errorf("%w: scheduled_at must be in the future", domain.ErrValidation)
	}
	if b.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration_minutes must be positive", domain.ErrValidation)
	}
	if err := validateLocation(b.Pickup, "pickup"); err != nil {
		return err
	}
	if b.Dropoff != nil {
		if err := validateLocation(*b.Dropoff, "dropoff"); err != nil {
			return err
		}
	}
	switch b.Method {
	case domain.MethodWalkerSelection:
		if b.WalkerID == nil {
			return fmt.Errorf("%w: walker_id is required for walker selection", domain.ErrValidation)
		}
	case domain.MethodOpenRequest:
		if b.WalkerID != nil {
			return fmt.Errorf("%w: walker_id must not be set for an open request", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown method %q", domain.ErrValidation, b.Method)
	}
	if b.Price != nil && *b.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", domain.ErrValidation)
	}
	return nil
}

// validateLocation checks coordinate ranges and rejects the all-zero value
// that an omitted location decodes to.
func validateLocation(l domain.Location, field string) error {
	if l.Lat == 0 && l.Lng == 0 && l.Address == "" {
		return fmt.Errorf("%w: %s location is required", domain.ErrValidation, field)
	}
	if l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("%w: %s coordinates out of range", domain.ErrValidation, field)
	}
	return nil
}
