package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/petmily/walk-engine/internal/domain"
)

// ChangeRequestRepo defines the persistence operations for ChangeRequests.
type ChangeRequestRepo interface {
	// Create inserts a new pending change request and returns the persisted
	// record. Returns domain.ErrConflictingRequest if the booking already has
	// a pending request.
	Create(ctx context.Context, cr domain.ChangeRequest) (domain.ChangeRequest, error)

	// GetByID retrieves a single change request by its UUID primary key.
	// Returns domain.ErrNotFound if no request with that ID exists.
	GetByID(ctx context.Context, id uuid.UUID) (domain.ChangeRequest, error)

	// ListByBooking returns all change requests for a booking, newest first.
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.ChangeRequest, error)

	// Accept marks the request ACCEPTED and writes the already-merged booking
	// in the same transaction, so the diff is applied fully or not at all.
	// Returns domain.ErrAlreadyResolved if the request is no longer pending.
	Accept(ctx context.Context, requestID uuid.UUID, responseNote string, merged domain.Booking) (domain.ChangeRequest, domain.Booking, error)

	// Reject marks a pending request REJECTED, leaving the booking untouched.
	// Returns domain.ErrNotFound or domain.ErrAlreadyResolved accordingly.
	Reject(ctx context.Context, requestID uuid.UUID, responseNote string) (domain.ChangeRequest, error)
}

// pgChangeRequestRepo is the Postgres implementation of ChangeRequestRepo.
type pgChangeRequestRepo struct {
	db db
}

// NewChangeRequestRepo constructs a ChangeRequestRepo backed by the provided
// db connection.
func NewChangeRequestRepo(db db) ChangeRequestRepo {
	return &pgChangeRequestRepo{db: db}
}

const changeRequestColumns = `id, booking_id, requested_by, new_scheduled_at, new_duration_minutes,
	new_price, new_pickup_lat, new_pickup_lng, new_pickup_address, new_dropoff_lat,
	new_dropoff_lng, new_dropoff_address, new_notes, new_insurance_covered,
	change_reason, status, response_note, requested_at, responded_at`

// Create inserts a pending change request. The partial unique index on
// booking_id WHERE status = 'PENDING' turns a concurrent second proposal into
// domain.ErrConflictingRequest.
func (r *pgChangeRequestRepo) Create(ctx context.Context, cr domain.ChangeRequest) (domain.ChangeRequest, error) {
	const q = `
		INSERT INTO change_requests (booking_id, requested_by, new_scheduled_at,
			new_duration_minutes, new_price, new_pickup_lat, new_pickup_lng,
			new_pickup_address, new_dropoff_lat, new_dropoff_lng, new_dropoff_address,
			new_notes, new_insurance_covered, change_reason, status)
		VALUES (@booking_id, @requested_by, @new_scheduled_at, @new_duration_minutes,
			@new_price, @new_pickup_lat, @new_pickup_lng, @new_pickup_address,
			@new_dropoff_lat, @new_dropoff_lng, @new_dropoff_address, @new_notes,
			@new_insurance_covered, @change_reason, 'PENDING')
		RETURNING ` + changeRequestColumns

	args := pgx.NamedArgs{
		"booking_id":            cr.BookingID,
		"requested_by":          cr.RequestedBy,
		"new_scheduled_at":      cr.NewScheduledAt,
		"new_duration_minutes":  cr.NewDurationMinutes,
		"new_price":             cr.NewPrice,
		"new_pickup_lat":        nil,
		"new_pickup_lng":        nil,
		"new_pickup_address":    nil,
		"new_dropoff_lat":       nil,
		"new_dropoff_lng":       nil,
		"new_dropoff_address":   nil,
		"new_notes":             cr.NewNotes,
		"new_insurance_covered": cr.NewInsuranceCovered,
		"change_reason":         cr.ChangeReason,
	}
	if cr.NewPickup != nil {
		args["new_pickup_lat"] = cr.NewPickup.Lat
		args["new_pickup_lng"] = cr.NewPickup.Lng
		args["new_pickup_address"] = cr.NewPickup.Address
	}
	if cr.NewDropoff != nil {
		args["new_dropoff_lat"] = cr.NewDropoff.Lat
		args["new_dropoff_lng"] = cr.NewDropoff.Lng
		args["new_dropoff_address"] = cr.NewDropoff.Address
	}

	row := r.db.QueryRow(ctx, q, args)
	result, err := scanChangeRequest(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ChangeRequest{}, fmt.Errorf("repo.ChangeRequestRepo.Create: %w", domain.ErrConflictingRequest)
		}
		return domain.ChangeRequest{}, fmt.Errorf("repo.ChangeRequestRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves a change request by primary key.
func (r *pgChangeRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.ChangeRequest, error) {
	q := `SELECT ` + changeRequestColumns + ` FROM change_requests WHERE id = @id`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id})
	result, err := scanChangeRequest(row)
	if err != nil {
		return domain.ChangeRequest{}, fmt.Errorf("repo.ChangeRequestRepo.GetByID: %w", err)
	}
	return result, nil
}

// ListByBooking returns all change requests for a booking, newest first.
func (r *pgChangeRequestRepo) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.ChangeRequest, error) {
	q := `SELECT ` + changeRequestColumns + ` FROM change_requests
		WHERE booking_id = @booking_id
		ORDER BY requested_at DESC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"booking_id": bookingID})
	if err != nil {
		return nil, fmt.Errorf("repo.ChangeRequestRepo.ListByBooking: %w", err)
	}
	defer rows.Close()

	var requests []domain.ChangeRequest
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.ChangeRequestRepo.ListByBooking: scan: %w", err)
		}
		requests = append(requests, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.ChangeRequestRepo.ListByBooking: rows: %w", err)
	}

	return requests, nil
}

// Accept writes the merged booking and the request's terminal status in one
// transaction. The service layer has already validated the merged booking; if
// anything fails here, both writes roll back and the request stays PENDING.
func (r *pgChangeRequestRepo) Accept(ctx context.Context, requestID uuid.UUID, responseNote string, merged domain.Booking) (domain.ChangeRequest, domain.Booking, error) {
	fail := func(err error) (domain.ChangeRequest, domain.Booking, error) {
		return domain.ChangeRequest{}, domain.Booking{}, fmt.Errorf("repo.ChangeRequestRepo.Accept: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	row := tx.QueryRow(ctx, `
		UPDATE change_requests
		SET status = 'ACCEPTED', response_note = @note, responded_at = now()
		WHERE id = @id AND status = 'PENDING'
		RETURNING `+changeRequestColumns,
		pgx.NamedArgs{"id": requestID, "note": responseNote})
	cr, err := scanChangeRequest(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fail(domain.ErrAlreadyResolved)
		}
		return fail(err)
	}

	args := bookingArgs(merged)
	args["id"] = merged.ID
	row = tx.QueryRow(ctx, `
		UPDATE bookings
		SET scheduled_at      = @scheduled_at,
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
		    updated_at        = now()
		WHERE id = @id
		RETURNING `+bookingColumns, args)
	booking, err := scanBooking(row)
	if err != nil {
		return fail(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fail(err)
	}
	return cr, booking, nil
}

// Reject marks a pending request REJECTED.
func (r *pgChangeRequestRepo) Reject(ctx context.Context, requestID uuid.UUID, responseNote string) (domain.ChangeRequest, error) {
	const q = `
		UPDATE change_requests
		SET status = 'REJECTED', response_note = @note, responded_at = now()
		WHERE id = @id AND status = 'PENDING'
		RETURNING ` + changeRequestColumns

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": requestID, "note": responseNote})
	result, err := scanChangeRequest(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if _, getErr := r.GetByID(ctx, requestID); getErr == nil {
				return domain.ChangeRequest{}, fmt.Errorf("repo.ChangeRequestRepo.Reject: %w", domain.ErrAlreadyResolved)
			}
			return domain.ChangeRequest{}, fmt.Errorf("repo.ChangeRequestRepo.Reject: %w", domain.ErrNotFound)
		}
		return domain.ChangeRequest{}, fmt.Errorf("repo.ChangeRequestRepo.Reject: %w", err)
	}
	return result, nil
}

// scanChangeRequest maps a single database row into a domain.ChangeRequest.
func scanChangeRequest(s scanner) (domain.ChangeRequest, error) {
	var (
		cr          domain.ChangeRequest
		id          pgtype.UUID
		bookingID   pgtype.UUID
		requestedBy pgtype.UUID
		newSchedule pgtype.Timestamptz
		newDuration pgtype.Int4
		newPrice    pgtype.Float8
		pLat, pLng  pgtype.Float8
		pAddr       pgtype.Text
		dLat, dLng  pgtype.Float8
		dAddr       pgtype.Text
		newNotes    pgtype.Text
		newInsured  pgtype.Bool
		status      string
		respondedAt pgtype.Timestamptz
	)

	err := s.Scan(&id, &bookingID, &requestedBy, &newSchedule, &newDuration, &newPrice,
		&pLat, &pLng, &pAddr, &dLat, &dLng, &dAddr, &newNotes, &newInsured,
		&cr.ChangeReason, &status, &cr.ResponseNote, &cr.RequestedAt, &respondedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ChangeRequest{}, domain.ErrNotFound
		}
		return domain.ChangeRequest{}, err
	}

	cr.ID = uuid.UUID(id.Bytes)
	cr.BookingID = uuid.UUID(bookingID.Bytes)
	cr.RequestedBy = uuid.UUID(requestedBy.Bytes)
	cr.Status = domain.ChangeRequestStatus(status)
	if newSchedule.Valid {
		t := newSchedule.Time
		cr.NewScheduledAt = &t
	}
	if newDuration.Valid {
		d := int(newDuration.Int32)
		cr.NewDurationMinutes = &d
	}
	if newPrice.Valid {
		p := newPrice.Float64
		cr.NewPrice = &p
	}
	if pLat.Valid && pLng.Valid {
		cr.NewPickup = &domain.Location{Lat: pLat.Float64, Lng: pLng.Float64}
		if pAddr.Valid {
			cr.NewPickup.Address = pAddr.String
		}
	}
	if dLat.Valid && dLng.Valid {
		cr.NewDropoff = &domain.Location{Lat: dLat.Float64, Lng: dLng.Float64}
		if dAddr.Valid {
			cr.NewDropoff.Address = dAddr.String
		}
	}
	if newNotes.Valid {
		n := newNotes.String
		cr.NewNotes = &n
	}
	if newInsured.Valid {
		v := newInsured.Bool
		cr.NewInsuranceCovered = &v
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		cr.RespondedAt = &t
	}

	return cr, nil
}
