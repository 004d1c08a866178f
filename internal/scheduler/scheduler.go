// Package scheduler runs the periodic expiry sweep for PENDING bookings that
// sat past their grace window without ever being confirmed.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// bookingExpirer is the one service operation the scheduler needs.
type bookingExpirer interface {
	ExpirePending(ctx context.Context) (int, error)
}

// Scheduler drives ExpirePending on a fixed interval until its context is
// cancelled. It owns no state beyond the ticker; the sweep itself is
// idempotent, so overlapping deployments running it concurrently are safe.
type Scheduler struct {
	bookings bookingExpirer
	interval time.Duration
	logger   *slog.Logger
}

// New constructs a Scheduler sweeping every interval.
func New(bookings bookingExpirer, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		bookings: bookings,
		interval: interval,
		logger:   logger,
	}
}

// Start blocks, sweeping on every tick, until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry scheduler started", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	expired, err := s.bookings.ExpirePending(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", slog.String("error", err.Error()))
		return
	}
	if expired > 0 {
		s.logger.Info("expiry sweep cancelled stale bookings", slog.Int("count", expired))
	}
}
