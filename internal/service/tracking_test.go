package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petmily/walk-engine/internal/domain"
	"github.com/petmily/walk-engine/internal/repo"
	"github.com/petmily/walk-engine/internal/service"
)

// mockTrackRepo is a hand-written test double for repo.TrackRepo.
// Each method is a function field — set only the ones your test needs;
// unset methods succeed with zero values, which suits the common case of a
// tracker exercised purely in memory.
type mockTrackRepo struct {
	mu sync.Mutex

	createSession       func(ctx context.Context, s domain.TrackingSession) error
	finishSession       func(ctx context.Context, s domain.TrackingSession) error
	getSession          func(ctx context.Context, id uuid.UUID) (domain.TrackingSession, error)
	getSessionByBooking func(ctx context.Context, bookingID uuid.UUID) (domain.TrackingSession, error)
	hasOpenSession      func(ctx context.Context, walkerID uuid.UUID) (bool, error)
	upsertPoints        func(ctx context.Context, points []domain.TrackPoint) error
	listPoints          func(ctx context.Context, sessionID uuid.UUID) ([]domain.TrackPoint, error)
}

func (m *mockTrackRepo) CreateSession(ctx context.Context, s domain.TrackingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createSession != nil {
		return m.createSession(ctx, s)
	}
	return nil
}

func (m *mockTrackRepo) FinishSession(ctx context.Context, s domain.TrackingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishSession != nil {
		return m.finishSession(ctx, s)
	}
	return nil
}

func (m *mockTrackRepo) GetSession(ctx context.Context, id uuid.UUID) (domain.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getSession != nil {
		return m.getSession(ctx, id)
	}
	return domain.TrackingSession{}, domain.ErrNotFound
}

func (m *mockTrackRepo) GetSessionByBooking(ctx context.Context, bookingID uuid.UUID) (domain.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getSessionByBooking != nil {
		return m.getSessionByBooking(ctx, bookingID)
	}
	return domain.TrackingSession{}, domain.ErrNotFound
}

func (m *mockTrackRepo) HasOpenSession(ctx context.Context, walkerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasOpenSession != nil {
		return m.hasOpenSession(ctx, walkerID)
	}
	return false, nil
}

func (m *mockTrackRepo) UpsertPoints(ctx context.Context, points []domain.TrackPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertPoints != nil {
		return m.upsertPoints(ctx, points)
	}
	return nil
}

func (m *mockTrackRepo) ListPoints(ctx context.Context, sessionID uuid.UUID) ([]domain.TrackPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listPoints != nil {
		return m.listPoints(ctx, sessionID)
	}
	return nil, nil
}

// compile-time check: mockTrackRepo must satisfy repo.TrackRepo.
var _ repo.TrackRepo = (*mockTrackRepo)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openSession starts a tracker with a fresh session and returns both.
func openSession(t *testing.T, tracks repo.TrackRepo) (*service.Tracker, domain.TrackingSession) {
	t.Helper()
	tracker := service.NewTracker(tracks, testLogger())
	session, err := tracker.Open(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	return tracker, session
}

func point(sessionID uuid.UUID, at time.Time, lat, lng float64) domain.TrackPoint {
	return domain.TrackPoint{
		SessionID: sessionID,
		Latitude:  lat,
		Longitude: lng,
		Timestamp: at,
		TrackType: domain.TrackWalking,
	}
}

func TestTracker_Ingest_ScenarioDistance(t *testing.T) {
	tracker, session := openSession(t, &mockTrackRepo{})
	ctx := context.Background()

	// Two samples 0.0001° of latitude apart, ten seconds between them.
	t0 := session.StartedAt
	require.NoError(t, tracker.Ingest(ctx, session.ID, point(session.ID, t0, 0, 0)))
	require.NoError(t, tracker.Ingest(ctx, session.ID, point(session.ID, t0.Add(10*time.Second), 0, 0.0001)))

	stats, err := tracker.Statistics(ctx, session.ID)

	require.NoError(t, err)
	assert.InDelta(t, 11.1, stats.TotalDistanceMeters, 0.1)
	assert.Equal(t, 2, stats.PointCount)
}

func TestTracker_Ingest_SessionClosed(t *testing.T) {
	tracker := service.NewTracker(&mockTrackRepo{}, testLogger())

	err := tracker.Ingest(context.Background(), uuid.New(), point(uuid.New(), time.Now(), 0, 0))

	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestTracker_Ingest_StalePointRejected(t *testing.T) {
	tracker, session := openSession(t, &mockTrackRepo{})
	ctx := context.Background()

	t0 := session.StartedAt
	require.NoError(t, tracker.Ingest(ctx, session.ID, point(session.ID, t0.Add(30*time.Second), 0, 0)))

	// Ten seconds behind the last accepted point — far outside the 2s window.
	err := tracker.Ingest(ctx, session.ID, point(session.ID, t0.Add(20*time.Second), 0, 0))

	assert.ErrorIs(t, err, domain.ErrStalePoint)
}

func TestTracker_Ingest_SkewToleranceAccepted(t *testing.T) {
	tracker, session := openSession(t, &mockTrackRepo{})
	ctx := context.Background()

	t0 := session.StartedAt
	require.NoError(t, tracker.Ingest(ctx, session.ID, point(session.ID, t0.Add(10*time.Second), 0, 0)))

	// One second behind the last point: inside the jitter allowance,
	// inserted in sorted position.
	err := tracker.Ingest(ctx, session.ID, point(session.ID, t0.Add(9*time.Second), 0, 0.00001))

	require.NoError(t, err)
	points, _, pathErr := tracker.Path(ctx, session.ID)
	require.NoError(t, pathErr)
	require.Len(t, points, 2)
	assert.True(t, points[0].Timestamp.Before(points[1].Timestamp))
}

func TestTracker_Ingest_DuplicateTimestampLastWriteWins(t *testing.T) {
	tracker, session := openSession(t, &mockTrackRepo{})
	ctx := context.Background()

	t0 := session.StartedAt
	require.NoError(t, tracker.Ingest(ctx, session.ID, point(session.ID, t0, 0, 0)))
	require.NoError(t, tracker.Ingest(ctx, session.ID, point(session.ID, t0, 0.00002, 0)))

	points, _, err := tracker.Path(ctx, session.ID)

	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 0.00002, points[0].Latitude, 1e-12)
}

func TestTracker_Ingest_OutlierFlaggedNotDiscarded(t *testing.T) {
	tracker, session := openSession(t, &mockTrackRepo{})
	ctx := context.Background()

	t0 := session.StartedAt
	require.NoError(t, tracker.Ingest(ctx, session.ID, point(session.ID, t0, 0, 0)))
	// One degree of latitude (~111 km) in one second: a GPS glitch.
	require.NoError(t, tracker.Ingest(ctx, session.ID, point(session.ID, t0.Add(time.Second), 1, 0)))

	points, stats, err := tracker.Path(ctx, session.ID)

	require.NoError(t, err)
	require.Len(t, points, 2, "outliers are stored, not discarded")
	assert.True(t, points[1].Outlier)
	assert.Equal(t, 1, stats.PointCount, "outliers are excluded from aggregation")
	assert.InDelta(t, 0, stats.TotalDistanceMeters, 1e-9)
}

func TestTracker_Statistics_OrderIndependent(t *testing.T) {
	base := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)
	samples := []struct {
		offset time.Duration
		lat    float64
	}{
		{0, 0},
		{time.Second, 0.0001},
		{2 * time.Second, 0.0002},
		{3 * time.Second, 0.0003},
	}

	ingest := func(order []int) domain.WalkStatistics {
		tracker, session := openSession(t, &mockTrackRepo{})
		ctx := context.Background()
		for _, i := range order {
			s := samples[i]
			err := tracker.Ingest(ctx, session.ID, point(session.ID, base.Add(s.offset), s.lat, 0))
			require.NoError(t, err)
		}
		stats, err := tracker.Statistics(ctx, session.ID)
		require.NoError(t, err)
		return stats
	}

	sorted := ingest([]int{0, 1, 2, 3})
	// Adjacent swaps stay inside the reorder window, so the same set arriving
	// shuffled must aggregate identically.
	shuffled := ingest([]int{1, 0, 3, 2})

	assert.InDelta(t, sorted.TotalDistanceMeters, shuffled.TotalDistanceMeters, 1e-9)
	assert.Equal(t, sorted.PointCount, shuffled.PointCount)
	assert.InDelta(t, sorted.MaxSpeedMPS, shuffled.MaxSpeedMPS, 1e-9)
}

func TestTracker_Ingest_LateOutlierReflagsSuccessor(t *testing.T) {
	base := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)
	// The middle sample is a glitch (~111 m in one second); the last one is
	// benign relative to the first but not relative to the glitch.
	samples := []struct {
		offset time.Duration
		lat    float64
	}{
		{0, 0},
		{time.Second, 0.001},
		{2 * time.Second, 0.0004},
	}

	ingest := func(order []int) ([]domain.TrackPoint, domain.WalkStatistics) {
		tracker, session := openSession(t, &mockTrackRepo{})
		ctx := context.Background()
		for _, i := range order {
			s := samples[i]
			require.NoError(t, tracker.Ingest(ctx, session.ID, point(session.ID, base.Add(s.offset), s.lat, 0)))
		}
		points, stats, err := tracker.Path(ctx, session.ID)
		require.NoError(t, err)
		return points, stats
	}

	sorted, sortedStats := ingest([]int{0, 1, 2})
	// The glitch arrives last and lands between the two benign samples; its
	// successor must be re-flagged against its new predecessor.
	shuffled, shuffledStats := ingest([]int{0, 2, 1})

	require.Len(t, shuffled, 3)
	for i := range sorted {
		assert.Equal(t, sorted[i].Outlier, shuffled[i].Outlier, "flag at index %d", i)
	}
	assert.Equal(t, sortedStats.PointCount, shuffledStats.PointCount)
	assert.InDelta(t, sortedStats.TotalDistanceMeters, shuffledStats.TotalDistanceMeters, 1e-9)
}

func TestTracker_ReplayRoundTrip(t *testing.T) {
	// Stateful mock: flushed points land in stored; the finished summary in
	// finished. Closing then re-reading must reproduce the same statistics.
	var (
		stored   []domain.TrackPoint
		finished domain.TrackingSession
	)
	tracks := &mockTrackRepo{}
	tracks.upsertPoints = func(_ context.Context, points []domain.TrackPoint) error {
		stored = append(stored, points...)
		return nil
	}
	tracks.finishSession = func(_ context.Context, s domain.TrackingSession) error {
		finished = s
		return nil
	}
	tracks.getSession = func(_ context.Context, id uuid.UUID) (domain.TrackingSession, error) {
		if finished.ID == id {
			return finished, nil
		}
		return domain.TrackingSession{}, domain.ErrNotFound
	}
	tracks.listPoints = func(_ context.Context, _ uuid.UUID) ([]domain.TrackPoint, error) {
		return stored, nil
	}

	tracker, session := openSession(t, tracks)
	ctx := context.Background()

	t0 := session.StartedAt
	for i := 0; i < 5; i++ {
		p := point(session.ID, t0.Add(time.Duration(i)*10*time.Second), float64(i)*0.0001, 0)
		require.NoError(t, tracker.Ingest(ctx, session.ID, p))
	}

	live, err := tracker.Statistics(ctx, session.ID)
	require.NoError(t, err)

	closed, err := tracker.Close(ctx, session.ID, false)
	require.NoError(t, err)
	require.NotNil(t, closed.Statistics)

	// All five points reached storage on close.
	assert.Len(t, stored, 5)

	// The frozen statistics equal the live computation over the same set.
	assert.InDelta(t, live.TotalDistanceMeters, closed.Statistics.TotalDistanceMeters, 1e-9)
	assert.Equal(t, live.PointCount, closed.Statistics.PointCount)

	// And reading the closed session back returns the same frozen numbers.
	replayed, err := tracker.Statistics(ctx, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, closed.Statistics.TotalDistanceMeters, replayed.TotalDistanceMeters, 1e-9)
	assert.Equal(t, closed.Statistics.PointCount, replayed.PointCount)
}

func TestTracker_Close_RejectsFurtherIngest(t *testing.T) {
	tracker, session := openSession(t, &mockTrackRepo{})
	ctx := context.Background()

	_, err := tracker.Close(ctx, session.ID, false)
	require.NoError(t, err)

	err = tracker.Ingest(ctx, session.ID, point(session.ID, time.Now(), 0, 0))
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestTracker_RecordPhoto_SlotWriteOnce(t *testing.T) {
	tracker, session := openSession(t, &mockTrackRepo{})
	ctx := context.Background()

	require.NoError(t, tracker.RecordPhoto(ctx, session.ID, domain.PhotoStart, "https://cdn.example.com/a.jpg"))

	err := tracker.RecordPhoto(ctx, session.ID, domain.PhotoStart, "https://cdn.example.com/b.jpg")
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	// Other slots are unaffected.
	assert.NoError(t, tracker.RecordPhoto(ctx, session.ID, domain.PhotoEnd, "https://cdn.example.com/c.jpg"))
}

func TestTracker_RecordPhoto_UnknownSlot(t *testing.T) {
	tracker, session := openSession(t, &mockTrackRepo{})

	err := tracker.RecordPhoto(context.Background(), session.ID, "SIDEWAYS", "https://cdn.example.com/a.jpg")

	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTracker_RequestTermination(t *testing.T) {
	tracker, session := openSession(t, &mockTrackRepo{})
	ctx := context.Background()

	walker := uuid.New()
	require.NoError(t, tracker.RequestTermination(ctx, session.ID, walker, "dog exhausted"))

	pending := tracker.PendingTermination(session.ID)
	require.NotNil(t, pending)
	assert.Equal(t, walker, pending.RequestedBy)
	assert.Equal(t, "dog exhausted", pending.Reason)

	// The request does not close the session by itself.
	err := tracker.Ingest(ctx, session.ID, point(session.ID, time.Now(), 0, 0))
	assert.NoError(t, err)
}

func TestTracker_PointsSince(t *testing.T) {
	tracker, session := openSession(t, &mockTrackRepo{})
	ctx := context.Background()

	t0 := session.StartedAt
	for i := 0; i < 4; i++ {
		p := point(session.ID, t0.Add(time.Duration(i)*10*time.Second), 0, float64(i)*0.0001)
		require.NoError(t, tracker.Ingest(ctx, session.ID, p))
	}

	got, err := tracker.PointsSince(ctx, session.ID, t0.Add(15*time.Second))

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.After(t0.Add(15*time.Second)))
}

func TestTracker_HasActive(t *testing.T) {
	tracks := &mockTrackRepo{}
	tracker, session := openSession(t, tracks)
	ctx := context.Background()

	busy, err := tracker.HasActive(ctx, session.WalkerID)
	require.NoError(t, err)
	assert.True(t, busy)

	_, err = tracker.Close(ctx, session.ID, false)
	require.NoError(t, err)

	busy, err = tracker.HasActive(ctx, session.WalkerID)
	require.NoError(t, err)
	assert.False(t, busy)
}
