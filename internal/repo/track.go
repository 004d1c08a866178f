package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/petmily/walk-engine/internal/domain"
)

// TrackRepo defines the persistence operations for tracking sessions and
// their GPS points. The live point buffer is owned by the tracker service;
// this repo only sees batched flushes, never the per-sample hot path.
type TrackRepo interface {
	// CreateSession inserts the session summary row at walk start.
	CreateSession(ctx context.Context, s domain.TrackingSession) error

	// FinishSession writes the frozen statistics, photos, and termination
	// request when the session closes.
	// Returns domain.ErrNotFound if the session row does not exist.
	FinishSession(ctx context.Context, s domain.TrackingSession) error

	// GetSession retrieves a session summary (without points) by session ID.
	// Returns domain.ErrNotFound if no session with that ID exists.
	GetSession(ctx context.Context, id uuid.UUID) (domain.TrackingSession, error)

	// GetSessionByBooking retrieves a session summary by its booking.
	GetSessionByBooking(ctx context.Context, bookingID uuid.UUID) (domain.TrackingSession, error)

	// HasOpenSession reports whether the walker has any session without an
	// ended_at. Backs the one-active-walk-per-walker invariant across restarts.
	HasOpenSession(ctx context.Context, walkerID uuid.UUID) (bool, error)

	// UpsertPoints writes a batch of points. (session_id, ts) conflicts update
	// the existing row, giving last-write-wins dedup in storage to mirror the
	// in-memory buffer.
	UpsertPoints(ctx context.Context, points []domain.TrackPoint) error

	// ListPoints returns all stored points for a session in timestamp order.
	ListPoints(ctx context.Context, sessionID uuid.UUID) ([]domain.TrackPoint, error)
}

// pgTrackRepo is the Postgres implementation of TrackRepo.
type pgTrackRepo struct {
	db db
}

// NewTrackRepo constructs a TrackRepo backed by the provided db connection.
func NewTrackRepo(db db) TrackRepo {
	return &pgTrackRepo{db: db}
}

// CreateSession inserts the summary row for a just-started session.
func (r *pgTrackRepo) CreateSession(ctx context.Context, s domain.TrackingSession) error {
	const q = `
		INSERT INTO track_sessions (id, booking_id, walker_id, started_at)
		VALUES (@id, @booking_id, @walker_id, @started_at)`

	args := pgx.NamedArgs{
		"id":         s.ID,
		"booking_id": s.BookingID,
		"walker_id":  s.WalkerID,
		"started_at": s.StartedAt,
	}
	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return fmt.Errorf("repo.TrackRepo.CreateSession: %w", err)
	}
	return nil
}

// FinishSession freezes the session: end time, aborted flag, statistics,
// photos, and any pending termination request.
func (r *pgTrackRepo) FinishSession(ctx context.Context, s domain.TrackingSession) error {
	const q = `
		UPDATE track_sessions
		SET ended_at           = @ended_at,
		    aborted            = @aborted,
		    total_distance_m   = @total_distance_m,
		    duration_seconds   = @duration_seconds,
		    avg_speed_mps      = @avg_speed_mps,
		    max_speed_mps      = @max_speed_mps,
		    point_count        = @point_count,
		    start_photo_url    = @start_photo_url,
		    middle_photo_url   = @middle_photo_url,
		    end_photo_url      = @end_photo_url,
		    termination_by     = @termination_by,
		    termination_reason = @termination_reason,
		    termination_at     = @termination_at
		WHERE id = @id`

	args := pgx.NamedArgs{
		"id":                 s.ID,
		"ended_at":           s.EndedAt,
		"aborted":            s.Aborted,
		"total_distance_m":   0.0,
		"duration_seconds":   int64(0),
		"avg_speed_mps":      0.0,
		"max_speed_mps":      0.0,
		"point_count":        0,
		"start_photo_url":    nullableSlot(s.Photos, domain.PhotoStart),
		"middle_photo_url":   nullableSlot(s.Photos, domain.PhotoMiddle),
		"end_photo_url":      nullableSlot(s.Photos, domain.PhotoEnd),
		"termination_by":     nil,
		"termination_reason": nil,
		"termination_at":     nil,
	}
	if s.Statistics != nil {
		args["total_distance_m"] = s.Statistics.TotalDistanceMeters
		args["duration_seconds"] = int64(s.Statistics.Duration.Seconds())
		args["avg_speed_mps"] = s.Statistics.AverageSpeedMPS
		args["max_speed_mps"] = s.Statistics.MaxSpeedMPS
		args["point_count"] = s.Statistics.PointCount
	}
	if s.Termination != nil {
		args["termination_by"] = s.Termination.RequestedBy
		args["termination_reason"] = s.Termination.Reason
		args["termination_at"] = s.Termination.RequestedAt
	}

	tag, err := r.db.Exec(ctx, q, args)
	if err != nil {
		return fmt.Errorf("repo.TrackRepo.FinishSession: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.TrackRepo.FinishSession: %w", domain.ErrNotFound)
	}
	return nil
}

const sessionColumns = `id, booking_id, walker_id, started_at, ended_at, aborted,
	total_distance_m, duration_seconds, avg_speed_mps, max_speed_mps, point_count,
	start_photo_url, middle_photo_url, end_photo_url,
	termination_by, termination_reason, termination_at`

// GetSession retrieves a session summary by primary key.
func (r *pgTrackRepo) GetSession(ctx context.Context, id uuid.UUID) (domain.TrackingSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM track_sessions WHERE id = @id`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id})
	result, err := scanSession(row)
	if err != nil {
		return domain.TrackingSession{}, fmt.Errorf("repo.TrackRepo.GetSession: %w", err)
	}
	return result, nil
}

// GetSessionByBooking retrieves a session summary by its booking ID.
func (r *pgTrackRepo) GetSessionByBooking(ctx context.Context, bookingID uuid.UUID) (domain.TrackingSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM track_sessions WHERE booking_id = @booking_id`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"booking_id": bookingID})
	result, err := scanSession(row)
	if err != nil {
		return domain.TrackingSession{}, fmt.Errorf("repo.TrackRepo.GetSessionByBooking: %w", err)
	}
	return result, nil
}

// HasOpenSession reports whether the walker still has a session without an end time.
func (r *pgTrackRepo) HasOpenSession(ctx context.Context, walkerID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM track_sessions WHERE walker_id = @walker_id AND ended_at IS NULL)`

	var exists bool
	if err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"walker_id": walkerID}).Scan(&exists); err != nil {
		return false, fmt.Errorf("repo.TrackRepo.HasOpenSession: %w", err)
	}
	return exists, nil
}

// UpsertPoints writes a flush batch in one round trip via pgx's batch API.
func (r *pgTrackRepo) UpsertPoints(ctx context.Context, points []domain.TrackPoint) error {
	if len(points) == 0 {
		return nil
	}

	const q = `
		INSERT INTO track_points (session_id, ts, latitude, longitude, accuracy, speed, altitude, track_type, outlier)
		VALUES (@session_id, @ts, @latitude, @longitude, @accuracy, @speed, @altitude, @track_type, @outlier)
		ON CONFLICT (session_id, ts) DO UPDATE
		SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
		    accuracy = EXCLUDED.accuracy, speed = EXCLUDED.speed,
		    altitude = EXCLUDED.altitude, track_type = EXCLUDED.track_type,
		    outlier = EXCLUDED.outlier`

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(q, pgx.NamedArgs{
			"session_id": p.SessionID,
			"ts":         p.Timestamp,
			"latitude":   p.Latitude,
			"longitude":  p.Longitude,
			"accuracy":   p.Accuracy,
			"speed":      p.Speed,
			"altitude":   p.Altitude,
			"track_type": string(p.TrackType),
			"outlier":    p.Outlier,
		})
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("repo.TrackRepo.UpsertPoints: %w", err)
	}
	return nil
}

// ListPoints returns all stored points for a session in timestamp order.
func (r *pgTrackRepo) ListPoints(ctx context.Context, sessionID uuid.UUID) ([]domain.TrackPoint, error) {
	const q = `
		SELECT session_id, ts, latitude, longitude, accuracy, speed, altitude, track_type, outlier
		FROM track_points
		WHERE session_id = @session_id
		ORDER BY ts`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("repo.TrackRepo.ListPoints: %w", err)
	}
	defer rows.Close()

	var points []domain.TrackPoint
	for rows.Next() {
		var (
			p         domain.TrackPoint
			sessionID pgtype.UUID
			trackType string
		)
		err := rows.Scan(&sessionID, &p.Timestamp, &p.Latitude, &p.Longitude,
			&p.Accuracy, &p.Speed, &p.Altitude, &trackType, &p.Outlier)
		if err != nil {
			return nil, fmt.Errorf("repo.TrackRepo.ListPoints: scan: %w", err)
		}
		p.SessionID = uuid.UUID(sessionID.Bytes)
		p.TrackType = domain.TrackType(trackType)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TrackRepo.ListPoints: rows: %w", err)
	}

	return points, nil
}

// nullableSlot returns the photo URI for slot or nil for SQL NULL.
func nullableSlot(photos map[domain.PhotoSlot]string, slot domain.PhotoSlot) any {
	if uri, ok := photos[slot]; ok {
		return uri
	}
	return nil
}

// scanSession maps a single database row into a domain.TrackingSession summary.
// Points are not loaded here; use ListPoints.
func scanSession(s scanner) (domain.TrackingSession, error) {
	var (
		sess      domain.TrackingSession
		id        pgtype.UUID
		bookingID pgtype.UUID
		walkerID  pgtype.UUID
		endedAt   pgtype.Timestamptz
		stats     domain.WalkStatistics
		duration  int64
		startURL  pgtype.Text
		middleURL pgtype.Text
		endURL    pgtype.Text
		termBy    pgtype.UUID
		termWhy   pgtype.Text
		termAt    pgtype.Timestamptz
	)

	err := s.Scan(&id, &bookingID, &walkerID, &sess.StartedAt, &endedAt, &sess.Aborted,
		&stats.TotalDistanceMeters, &duration, &stats.AverageSpeedMPS, &stats.MaxSpeedMPS,
		&stats.PointCount, &startURL, &middleURL, &endURL, &termBy, &termWhy, &termAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TrackingSession{}, domain.ErrNotFound
		}
		return domain.TrackingSession{}, err
	}

	sess.ID = uuid.UUID(id.Bytes)
	sess.BookingID = uuid.UUID(bookingID.Bytes)
	sess.WalkerID = uuid.UUID(walkerID.Bytes)
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
		stats.Duration = time.Duration(duration) * time.Second
		sess.Statistics = &stats
	}
	sess.Photos = map[domain.PhotoSlot]string{}
	if startURL.Valid {
		sess.Photos[domain.PhotoStart] = startURL.String
	}
	if middleURL.Valid {
		sess.Photos[domain.PhotoMiddle] = middleURL.String
	}
	if endURL.Valid {
		sess.Photos[domain.PhotoEnd] = endURL.String
	}
	if termBy.Valid {
		sess.Termination = &domain.TerminationRequest{
			RequestedBy: uuid.UUID(termBy.Bytes),
			Reason:      termWhy.String,
			RequestedAt: termAt.Time,
		}
	}

	return sess, nil
}
