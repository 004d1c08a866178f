package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/petmily/walk-engine/internal/domain"
	"github.com/petmily/walk-engine/internal/notify"
	"github.com/petmily/walk-engine/internal/repo"
)

// emergencyRetryBase is the initial backoff between notification attempts;
// emergencyRetryMax caps the total attempts.
const (
	emergencyRetryBase = 200 * time.Millisecond
	emergencyRetryMax  = 5
)

// EmergencyService is the out-of-band interrupt path during an active walk.
// Raising an emergency bypasses every booking-state guard except one: the
// tracking session must be open. The report is persisted before any
// notification attempt, so a broker outage can never lose the emergency.
type EmergencyService struct {
	emergencies repo.EmergencyRepo
	tracker     *Tracker
	notifier    notify.Notifier
	logger      *slog.Logger
}

// NewEmergencyService constructs an EmergencyService.
func NewEmergencyService(
	emergencies repo.EmergencyRepo,
	tracker *Tracker,
	notifier notify.Notifier,
	logger *slog.Logger,
) *EmergencyService {
	return &EmergencyService{
		emergencies: emergencies,
		tracker:     tracker,
		notifier:    notifier,
		logger:      logger,
	}
}

// Raise records an emergency against a booking with an open tracking session
// and dispatches a high-priority event with exponential-backoff retries.
//
// The local record always lands first. If dispatch still fails after all
// retries, the report stays recorded with Notified=false and the caller gets
// ErrNotifyFailed — a retryable signal for the notification step only, never
// a silent success and never a rollback of the report.
func (s *EmergencyService) Raise(ctx context.Context, report domain.EmergencyReport) (domain.EmergencyReport, error) {
	if !domain.ValidEmergencyType(report.Type) {
		return domain.EmergencyReport{}, fmt.Errorf("%w: unknown emergency type %q", domain.ErrValidation, report.Type)
	}
	if report.RaisedBy == uuid.Nil {
		return domain.EmergencyReport{}, fmt.Errorf("%w: raised_by is required", domain.ErrValidation)
	}

	if _, err := s.tracker.OpenSessionID(report.BookingID); err != nil {
		return domain.EmergencyReport{}, fmt.Errorf("service.EmergencyService.Raise: %w", err)
	}

	report.ID = uuid.New()
	report.RaisedAt = time.Now().UTC()
	report.Notified = false

	if err := s.emergencies.Create(ctx, report); err != nil {
		return domain.EmergencyReport{}, fmt.Errorf("service.EmergencyService.Raise: %w", err)
	}

	s.logger.Warn("emergency raised",
		slog.String("emergency_id", report.ID.String()),
		slog.String("booking_id", report.BookingID.String()),
		slog.String("type", string(report.Type)))

	backoff := retry.WithMaxRetries(emergencyRetryMax, retry.NewExponential(emergencyRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.notifier.Dispatch(ctx, notify.Event{
			Type:       notify.EventEmergency,
			BookingID:  report.BookingID,
			OccurredAt: report.RaisedAt,
			Payload:    report,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("emergency notification failed after retries",
			slog.String("emergency_id", report.ID.String()),
			slog.String("error", err.Error()))
		return report, fmt.Errorf("service.EmergencyService.Raise: %w: %w", domain.ErrNotifyFailed, err)
	}

	if err := s.emergencies.MarkNotified(ctx, report.ID); err != nil {
		// The event went out; a failed flag update only affects bookkeeping.
		s.logger.Warn("mark notified failed",
			slog.String("emergency_id", report.ID.String()),
			slog.String("error", err.Error()))
	} else {
		report.Notified = true
	}

	return report, nil
}

// ListByBooking returns all emergencies raised against a booking.
// Always returns a non-nil slice.
func (s *EmergencyService) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.EmergencyReport, error) {
	reports, err := s.emergencies.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("service.EmergencyService.ListByBooking: %w", err)
	}
	if reports == nil {
		return []domain.EmergencyReport{}, nil
	}
	return reports, nil
}
