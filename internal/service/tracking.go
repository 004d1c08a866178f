package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petmily/walk-engine/internal/domain"
	"github.com/petmily/walk-engine/internal/geo"
	"github.com/petmily/walk-engine/internal/repo"
)

const (
	// skewTolerance is how far a point's timestamp may fall behind the last
	// accepted point before it is rejected as stale. Covers device clock
	// jitter and mobile network reordering.
	skewTolerance = 2 * time.Second

	// outlierSpeedMPS is the instantaneous speed above which a point is
	// considered a GPS glitch. Such points are stored but excluded from
	// distance and speed aggregation.
	outlierSpeedMPS = 40.0

	// defaultFlushSize is how many buffered points trigger a background
	// flush to the track_points table.
	defaultFlushSize = 50
)

// Tracker owns all live tracking sessions. The ordered point buffer for an
// open session lives in memory; points are flushed to storage in batches so
// ingest never waits on the database. Sessions are opened by BookingService
// on start and closed on complete or cancel.
type Tracker struct {
	tracks    repo.TrackRepo
	logger    *slog.Logger
	flushSize int

	mu        sync.RWMutex
	sessions  map[uuid.UUID]*liveSession // by session ID
	byBooking map[uuid.UUID]uuid.UUID    // booking ID -> open session ID
}

// liveSession is the in-memory state of one open session. Its mutex guards
// the point buffer; it is independent of the per-booking lock so ingest
// never contends with booking state transitions.
type liveSession struct {
	mu      sync.Mutex
	session domain.TrackingSession
	pending []domain.TrackPoint // accepted but not yet flushed
}

// NewTracker constructs a Tracker backed by the provided track repo.
func NewTracker(tracks repo.TrackRepo, logger *slog.Logger) *Tracker {
	return &Tracker{
		tracks:    tracks,
		logger:    logger,
		flushSize: defaultFlushSize,
		sessions:  make(map[uuid.UUID]*liveSession),
		byBooking: make(map[uuid.UUID]uuid.UUID),
	}
}

// Open starts a tracking session for the booking and registers it in memory.
// The summary row is inserted immediately so the walker's busy state survives
// a process restart.
func (t *Tracker) Open(ctx context.Context, bookingID, walkerID uuid.UUID) (domain.TrackingSession, error) {
	session := domain.TrackingSession{
		ID:        uuid.New(),
		BookingID: bookingID,
		WalkerID:  walkerID,
		StartedAt: time.Now().UTC(),
		Photos:    make(map[domain.PhotoSlot]string),
	}

	if err := t.tracks.CreateSession(ctx, session); err != nil {
		return domain.TrackingSession{}, fmt.Errorf("service.Tracker.Open: %w", err)
	}

	t.mu.Lock()
	t.sessions[session.ID] = &liveSession{session: session}
	t.byBooking[bookingID] = session.ID
	t.mu.Unlock()

	t.logger.Info("tracking session opened",
		slog.String("session_id", session.ID.String()),
		slog.String("booking_id", bookingID.String()))
	return session, nil
}

// HasActive reports whether the walker currently has an open session,
// checking storage so the invariant holds across restarts.
func (t *Tracker) HasActive(ctx context.Context, walkerID uuid.UUID) (bool, error) {
	t.mu.RLock()
	for _, ls := range t.sessions {
		if ls.session.WalkerID == walkerID {
			t.mu.RUnlock()
			return true, nil
		}
	}
	t.mu.RUnlock()

	busy, err := t.tracks.HasOpenSession(ctx, walkerID)
	if err != nil {
		return false, fmt.Errorf("service.Tracker.HasActive: %w", err)
	}
	return busy, nil
}

// OpenSessionID returns the ID of the open session for a booking.
// Returns domain.ErrSessionClosed when the booking has no open session.
func (t *Tracker) OpenSessionID(bookingID uuid.UUID) (uuid.UUID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byBooking[bookingID]
	if !ok {
		return uuid.Nil, domain.ErrSessionClosed
	}
	return id, nil
}

// Ingest accepts one GPS sample into an open session. Points older than the
// last accepted point by more than the skew tolerance are rejected; a point
// with an already-seen timestamp replaces the earlier one; everything else is
// inserted in timestamp order. Points implying an implausible speed are kept
// but flagged so they never distort the statistics.
//
// Ingest performs no inline I/O: accepted points go into the session buffer
// and are flushed to storage in the background once the batch fills.
func (t *Tracker) Ingest(ctx context.Context, sessionID uuid.UUID, p domain.TrackPoint) error {
	ls, err := t.live(sessionID)
	if err != nil {
		return fmt.Errorf("service.Tracker.Ingest: %w", err)
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	p.SessionID = sessionID
	if p.TrackType == "" {
		p.TrackType = domain.TrackWalking
	}

	points := ls.session.Points
	if n := len(points); n > 0 {
		last := points[n-1].Timestamp
		if p.Timestamp.Before(last.Add(-skewTolerance)) {
			return fmt.Errorf("service.Tracker.Ingest: %w", domain.ErrStalePoint)
		}
	}

	// Dedup by timestamp: last write wins.
	idx := sort.Search(len(points), func(i int) bool {
		return !points[i].Timestamp.Before(p.Timestamp)
	})
	if idx < len(points) && points[idx].Timestamp.Equal(p.Timestamp) {
		points[idx] = p
	} else {
		points = append(points, domain.TrackPoint{})
		copy(points[idx+1:], points[idx:])
		points[idx] = p
	}

	// Flags depend only on the final ordered set. A point landing inside the
	// skew window changes both its own segment and the one into its successor,
	// so recompute both; a flipped successor is re-buffered so the stored row
	// catches up on the next flush.
	points[idx].Outlier = outlier(points, idx)
	ls.pending = append(ls.pending, points[idx])
	if next := idx + 1; next < len(points) {
		if was := points[next].Outlier; outlier(points, next) != was {
			points[next].Outlier = !was
			ls.pending = append(ls.pending, points[next])
		}
	}
	ls.session.Points = points
	if len(ls.pending) >= t.flushSize {
		batch := ls.pending
		ls.pending = nil
		go t.flush(batch)
	}

	return nil
}

// outlier reports whether the point at idx moves implausibly fast relative to
// its immediate predecessor in the ordered set.
func outlier(points []domain.TrackPoint, idx int) bool {
	if idx == 0 {
		return false
	}
	prev, p := points[idx-1], points[idx]
	dist := geo.Haversine(prev.Latitude, prev.Longitude, p.Latitude, p.Longitude)
	return geo.SpeedMPS(dist, p.Timestamp.Sub(prev.Timestamp)) > outlierSpeedMPS
}

// flush writes one batch to storage. Runs outside the session lock; the
// upsert makes replays of the same (session, timestamp) harmless.
func (t *Tracker) flush(points []domain.TrackPoint) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.tracks.UpsertPoints(ctx, points); err != nil {
		t.logger.Error("track point flush failed",
			slog.Int("points", len(points)),
			slog.String("error", err.Error()))
	}
}

// Statistics returns the aggregates for a session. For an open session they
// are computed on demand from the in-memory buffer; for a closed one the
// frozen numbers are read from storage.
func (t *Tracker) Statistics(ctx context.Context, sessionID uuid.UUID) (domain.WalkStatistics, error) {
	if ls, err := t.live(sessionID); err == nil {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		return computeStatistics(ls.session.Points, ls.session.StartedAt, time.Now().UTC()), nil
	}

	stored, err := t.tracks.GetSession(ctx, sessionID)
	if err != nil {
		return domain.WalkStatistics{}, fmt.Errorf("service.Tracker.Statistics: %w", err)
	}
	if stored.Statistics == nil {
		return domain.WalkStatistics{}, nil
	}
	return *stored.Statistics, nil
}

// RequestTermination records an early-end request against an open session.
// It does not close the session; complete or cancel still does that.
func (t *Tracker) RequestTermination(ctx context.Context, sessionID, requestedBy uuid.UUID, reason string) error {
	ls, err := t.live(sessionID)
	if err != nil {
		return fmt.Errorf("service.Tracker.RequestTermination: %w", err)
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.session.Termination = &domain.TerminationRequest{
		RequestedBy: requestedBy,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
	t.logger.Info("termination requested",
		slog.String("session_id", sessionID.String()),
		slog.String("requested_by", requestedBy.String()))
	return nil
}

// PendingTermination returns the termination request recorded against an open
// session, or nil when there is none.
func (t *Tracker) PendingTermination(sessionID uuid.UUID) *domain.TerminationRequest {
	ls, err := t.live(sessionID)
	if err != nil {
		return nil
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.session.Termination
}

// RecordPhoto stores a proof-of-service photo URI in one of the three slots.
// Each slot may be written exactly once.
func (t *Tracker) RecordPhoto(ctx context.Context, sessionID uuid.UUID, slot domain.PhotoSlot, uri string) error {
	if !domain.ValidPhotoSlot(slot) {
		return fmt.Errorf("service.Tracker.RecordPhoto: %w: unknown photo slot %q", domain.ErrValidation, slot)
	}
	if uri == "" {
		return fmt.Errorf("service.Tracker.RecordPhoto: %w: uri is required", domain.ErrValidation)
	}

	ls, err := t.live(sessionID)
	if err != nil {
		return fmt.Errorf("service.Tracker.RecordPhoto: %w", err)
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if _, taken := ls.session.Photos[slot]; taken {
		return fmt.Errorf("service.Tracker.RecordPhoto: %w", domain.ErrSlotTaken)
	}
	ls.session.Photos[slot] = uri
	return nil
}

// Path returns the ordered points and current statistics of a session. Open
// sessions answer from memory; closed ones are replayed from storage.
func (t *Tracker) Path(ctx context.Context, sessionID uuid.UUID) ([]domain.TrackPoint, domain.WalkStatistics, error) {
	if ls, err := t.live(sessionID); err == nil {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		points := make([]domain.TrackPoint, len(ls.session.Points))
		copy(points, ls.session.Points)
		return points, computeStatistics(points, ls.session.StartedAt, time.Now().UTC()), nil
	}

	stored, err := t.tracks.GetSession(ctx, sessionID)
	if err != nil {
		return nil, domain.WalkStatistics{}, fmt.Errorf("service.Tracker.Path: %w", err)
	}
	points, err := t.tracks.ListPoints(ctx, sessionID)
	if err != nil {
		return nil, domain.WalkStatistics{}, fmt.Errorf("service.Tracker.Path: %w", err)
	}

	stats := domain.WalkStatistics{}
	if stored.Statistics != nil {
		stats = *stored.Statistics
	}
	return points, stats, nil
}

// PointsSince returns the session's points strictly newer than after,
// the polling primitive behind live map updates.
func (t *Tracker) PointsSince(ctx context.Context, sessionID uuid.UUID, after time.Time) ([]domain.TrackPoint, error) {
	points, _, err := t.Path(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service.Tracker.PointsSince: %w", err)
	}

	idx := sort.Search(len(points), func(i int) bool {
		return points[i].Timestamp.After(after)
	})
	return points[idx:], nil
}

// Close ends a session: the remaining buffer is flushed synchronously, the
// statistics are frozen, and the summary row is finalized. After Close the
// session no longer accepts points.
func (t *Tracker) Close(ctx context.Context, sessionID uuid.UUID, aborted bool) (domain.TrackingSession, error) {
	ls, err := t.live(sessionID)
	if err != nil {
		return domain.TrackingSession{}, fmt.Errorf("service.Tracker.Close: %w", err)
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ended := time.Now().UTC()
	stats := computeStatistics(ls.session.Points, ls.session.StartedAt, ended)

	ls.session.EndedAt = &ended
	ls.session.Aborted = aborted
	ls.session.Statistics = &stats

	if len(ls.pending) > 0 {
		if err := t.tracks.UpsertPoints(ctx, ls.pending); err != nil {
			return domain.TrackingSession{}, fmt.Errorf("service.Tracker.Close: flush: %w", err)
		}
		ls.pending = nil
	}
	if err := t.tracks.FinishSession(ctx, ls.session); err != nil {
		return domain.TrackingSession{}, fmt.Errorf("service.Tracker.Close: %w", err)
	}

	t.mu.Lock()
	delete(t.sessions, sessionID)
	delete(t.byBooking, ls.session.BookingID)
	t.mu.Unlock()

	t.logger.Info("tracking session closed",
		slog.String("session_id", sessionID.String()),
		slog.Bool("aborted", aborted),
		slog.Float64("distance_m", stats.TotalDistanceMeters))
	return ls.session, nil
}

// live returns the in-memory state for an open session.
func (t *Tracker) live(sessionID uuid.UUID) (*liveSession, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ls, ok := t.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionClosed
	}
	return ls, nil
}

// computeStatistics aggregates over the ordered point set, skipping segments
// that touch an outlier. The result depends only on the final point set, not
// on arrival order.
func computeStatistics(points []domain.TrackPoint, startedAt, endedAt time.Time) domain.WalkStatistics {
	stats := domain.WalkStatistics{Duration: endedAt.Sub(startedAt)}

	var prev *domain.TrackPoint
	for i := range points {
		p := &points[i]
		if p.Outlier {
			continue
		}
		stats.PointCount++
		if prev != nil {
			dist := geo.Haversine(prev.Latitude, prev.Longitude, p.Latitude, p.Longitude)
			stats.TotalDistanceMeters += dist
			if v := geo.SpeedMPS(dist, p.Timestamp.Sub(prev.Timestamp)); v > stats.MaxSpeedMPS {
				stats.MaxSpeedMPS = v
			}
		}
		if p.Speed != nil && *p.Speed > stats.MaxSpeedMPS {
			stats.MaxSpeedMPS = *p.Speed
		}
		prev = p
	}

	stats.AverageSpeedMPS = geo.SpeedMPS(stats.TotalDistanceMeters, stats.Duration)
	return stats
}
