// Package repo contains all database access logic for the walk-engine API.
// Each aggregate has its own file with an interface and a Postgres implementation.
// No business logic lives here — only SQL and type mapping. Multi-row mutations
// that must be atomic (sibling rejection, change-request application) run in a
// single transaction inside the repo.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/petmily/walk-engine/internal/domain"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test, giving free
// per-test isolation without any manual cleanup.
//
// Begin is included because some repo operations open their own transaction;
// on a pgx.Tx it transparently becomes a savepoint, so the test isolation
// trick keeps working.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// BookingRepo defines the persistence operations for Bookings.
// The service layer depends on this interface, not the concrete Postgres
// implementation, which allows the service to be unit-tested with a mock.
// All writes happen under the service layer's per-booking lock.
type BookingRepo interface {
	// Create inserts a new booking and returns the persisted record (with
	// DB-generated id, created_at, and updated_at populated).
	Create(ctx context.Context, booking domain.Booking) (domain.Booking, error)

	// GetByID retrieves a single booking by its UUID primary key.
	// Returns domain.ErrNotFound if no booking with that ID exists.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error)

	// Update overwrites the mutable fields of an existing booking and returns
	// the updated record. Returns domain.ErrNotFound if it does not exist.
	Update(ctx context.Context, booking domain.Booking) (domain.Booking, error)

	// ListOpen returns the page of published open-request bookings, newest
	// first, along with the total pool size.
	ListOpen(ctx context.Context, p domain.PaginationParams) ([]domain.Booking, int64, error)

	// ListByRequester returns all bookings created by the given requester,
	// most recently scheduled first.
	ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]domain.Booking, error)

	// ListByWalker returns all bookings bound to the given walker,
	// most recently scheduled first.
	ListByWalker(ctx context.Context, walkerID uuid.UUID) ([]domain.Booking, error)

	// ExpirePending cancels every PENDING booking scheduled before cutoff and
	// returns the cancelled records. Pool membership is cleared in the same
	// statement so expired open requests vanish from listings atomically.
	ExpirePending(ctx context.Context, cutoff time.Time) ([]domain.Booking, error)
}

// pgBookingRepo is the Postgres implementation of BookingRepo.
type pgBookingRepo struct {
	db db
}

// NewBookingRepo constructs a BookingRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewBookingRepo(db db) BookingRepo {
	return &pgBookingRepo{db: db}
}

const bookingColumns = `id, requester_id, walker_id, pet_id, scheduled_at, duration_minutes,
	method, pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng, dropoff_address,
	price, insurance_covered, notes, regular_package, package_frequency, state, published,
	cancel_reason, created_at, updated_at`

// Create inserts a new booking row and returns the full persisted record.
func (r *pgBookingRepo) Create(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	const q = `
		INSERT INTO bookings (requester_id, walker_id, pet_id, scheduled_at, duration_minutes,
			method, pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng,
			dropoff_address, price, insurance_covered, notes, regular_package,
			package_frequency, state, published, cancel_reason)
		VALUES (@requester_id, @walker_id, @pet_id, @scheduled_at, @duration_minutes,
			@method, @pickup_lat, @pickup_lng, @pickup_address, @dropoff_lat, @dropoff_lng,
			@dropoff_address, @price, @insurance_covered, @notes, @regular_package,
			@package_frequency, @state, @published, @cancel_reason)
		RETURNING ` + bookingColumns

	row := r.db.QueryRow(ctx, q, bookingArgs(b))
	result, err := scanBooking(row)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves a booking by primary key.
func (r *pgBookingRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = @id`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id})
	result, err := scanBooking(row)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.GetByID: %w", err)
	}
	return result, nil
}

// Update overwrites the mutable fields of a booking and returns the updated record.
func (r *pgBookingRepo) Update(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	const q = `
		UPDATE bookings
		SET walker_id         = @walker_id,
		    scheduled_at      = @scheduled_at,
		    duration_minutes  = @duration_minutes,
		    pickup_lat        = @pickup_lat,
		    pickup_lng        = @pickup_lng,
		    pickup_address    = @pickup_address,
		    dropoff_lat       = @dropoff_lat,
		    dropoff_lng       = @dropoff_lng,
		    dropoff_address   = @dropoff_address,
		    price             = @price,
		    insurance_covered = @insurance_covered,
		    notes             = @notes,
		    state             = @state,
		    published         = @published,
		    cancel_reason     = @cancel_reason,
		    updated_at        = now()
		WHERE id = @id
		RETURNING ` + bookingColumns

	args := bookingArgs(b)
	args["id"] = b.ID

	row := r.db.QueryRow(ctx, q, args)
	result, err := scanBooking(row)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.Update: %w", err)
	}
	return result, nil
}

// ListOpen returns published open-request bookings, newest first, plus the
// total pool size for pagination.
func (r *pgBookingRepo) ListOpen(ctx context.Context, p domain.PaginationParams) ([]domain.Booking, int64, error) {
	const where = `WHERE published AND state = 'PENDING' AND walker_id IS NULL AND method = 'OPEN_REQUEST'`

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM bookings `+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repo.BookingRepo.ListOpen: count: %w", err)
	}

	q := `SELECT ` + bookingColumns + ` FROM bookings ` + where + `
		ORDER BY created_at DESC
		LIMIT @limit OFFSET @offset`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"limit": p.Limit, "offset": p.Offset()})
	if err != nil {
		return nil, 0, fmt.Errorf("repo.BookingRepo.ListOpen: %w", err)
	}
	defer rows.Close()

	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("repo.BookingRepo.ListOpen: %w", err)
	}
	return bookings, total, nil
}

// ListByRequester returns all bookings created by the requester.
func (r *pgBookingRepo) ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]domain.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE requester_id = @requester_id
		ORDER BY scheduled_at DESC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"requester_id": requesterID})
	if err != nil {
		return nil, fmt.Errorf("repo.BookingRepo.ListByRequester: %w", err)
	}
	defer rows.Close()

	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, fmt.Errorf("repo.BookingRepo.ListByRequester: %w", err)
	}
	return bookings, nil
}

// ListByWalker returns all bookings bound to the walker.
func (r *pgBookingRepo) ListByWalker(ctx context.Context, walkerID uuid.UUID) ([]domain.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE walker_id = @walker_id
		ORDER BY scheduled_at DESC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"walker_id": walkerID})
	if err != nil {
		return nil, fmt.Errorf("repo.BookingRepo.ListByWalker: %w", err)
	}
	defer rows.Close()

	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, fmt.Errorf("repo.BookingRepo.ListByWalker: %w", err)
	}
	return bookings, nil
}

// ExpirePending cancels stale PENDING bookings in one statement.
func (r *pgBookingRepo) ExpirePending(ctx context.Context, cutoff time.Time) ([]domain.Booking, error) {
	q := `
		UPDATE bookings
		SET state = 'CANCELLED',
		    published = FALSE,
		    cancel_reason = 'expired: no walker confirmed before the scheduled time',
		    updated_at = now()
		WHERE state = 'PENDING' AND scheduled_at < @cutoff
		RETURNING ` + bookingColumns

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"cutoff": cutoff})
	if err != nil {
		return nil, fmt.Errorf("repo.BookingRepo.ExpirePending: %w", err)
	}
	defer rows.Close()

	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, fmt.Errorf("repo.BookingRepo.ExpirePending: %w", err)
	}
	return bookings, nil
}

// bookingArgs maps a domain.Booking onto the named insert/update arguments.
func bookingArgs(b domain.Booking) pgx.NamedArgs {
	args := pgx.NamedArgs{
		"requester_id":      b.RequesterID,
		"walker_id":         b.WalkerID, // nil becomes NULL
		"pet_id":            b.PetID,
		"scheduled_at":      b.ScheduledAt,
		"duration_minutes":  b.DurationMinutes,
		"method":            string(b.Method),
		"pickup_lat":        b.Pickup.Lat,
		"pickup_lng":        b.Pickup.Lng,
		"pickup_address":    b.Pickup.Address,
		"dropoff_lat":       nil,
		"dropoff_lng":       nil,
		"dropoff_address":   nil,
		"price":             b.Price,
		"insurance_covered": b.InsuranceCovered,
		"notes":             b.Notes,
		"regular_package":   b.RegularPackage,
		"package_frequency": b.PackageFrequency,
		"state":             string(b.State),
		"published":         b.Published,
		"cancel_reason":     b.CancelReason,
	}
	if b.Dropoff != nil {
		args["dropoff_lat"] = b.Dropoff.Lat
		args["dropoff_lng"] = b.Dropoff.Lng
		args["dropoff_address"] = b.Dropoff.Address
	}
	return args
}

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing the scan helpers
// to be reused for both QueryRow and Query calls.
type scanner interface {
	Scan(dest ...any) error
}

// scanBooking maps a single database row into a domain.Booking.
// It handles the UUID and nullable column conversions.
func scanBooking(s scanner) (domain.Booking, error) {
	var (
		b          domain.Booking
		id, petID  pgtype.UUID
		reqID      pgtype.UUID
		walkerID   pgtype.UUID
		method     string
		state      string
		dropLat    pgtype.Float8
		dropLng    pgtype.Float8
		dropAddr   pgtype.Text
		price      pgtype.Float8
	)

	err := s.Scan(&id, &reqID, &walkerID, &petID, &b.ScheduledAt, &b.DurationMinutes,
		&method, &b.Pickup.Lat, &b.Pickup.Lng, &b.Pickup.Address, &dropLat, &dropLng, &dropAddr,
		&price, &b.InsuranceCovered, &b.Notes, &b.RegularPackage, &b.PackageFrequency,
		&state, &b.Published, &b.CancelReason, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Booking{}, domain.ErrNotFound
		}
		return domain.Booking{}, err
	}

	b.ID = uuid.UUID(id.Bytes)
	b.RequesterID = uuid.UUID(reqID.Bytes)
	b.PetID = uuid.UUID(petID.Bytes)
	b.Method = domain.BookingMethod(method)
	b.State = domain.BookingState(state)
	if walkerID.Valid {
		w := uuid.UUID(walkerID.Bytes)
		b.WalkerID = &w
	}
	if dropLat.Valid && dropLng.Valid {
		b.Dropoff = &domain.Location{Lat: dropLat.Float64, Lng: dropLng.Float64}
		if dropAddr.Valid {
			b.Dropoff.Address = dropAddr.String
		}
	}
	if price.Valid {
		p := price.Float64
		b.Price = &p
	}

	return b, nil
}

// collectBookings drains rows into a slice, checking rows.Err at the end.
func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return bookings, nil
}
