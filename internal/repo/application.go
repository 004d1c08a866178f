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

// ApplicationRepo defines the persistence operations for WalkerApplications.
type ApplicationRepo interface {
	// Create inserts a new pending application and returns the persisted
	// record. Returns domain.ErrDuplicateApplication if the walker already has
	// a pending application for the same booking.
	Create(ctx context.Context, app domain.WalkerApplication) (domain.WalkerApplication, error)

	// GetByID retrieves a single application by its UUID primary key.
	// Returns domain.ErrNotFound if no application with that ID exists.
	GetByID(ctx context.Context, id uuid.UUID) (domain.WalkerApplication, error)

	// ListByBooking returns all applications for a booking ordered by
	// applied_at ascending.
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.WalkerApplication, error)

	// AcceptAndBind runs the whole acceptance in one transaction: confirm the
	// application, reject all pending siblings, bind the walker to the booking,
	// and remove the booking from the open pool. Returns the confirmed
	// application and the updated booking.
	// Returns domain.ErrNotFound if the application does not exist,
	// domain.ErrAlreadyResolved if it is no longer pending, and
	// domain.ErrNotOpen if the booking can no longer accept a walker.
	AcceptAndBind(ctx context.Context, applicationID uuid.UUID) (domain.WalkerApplication, domain.Booking, error)

	// Resolve moves a pending application to the given terminal status
	// (REJECTED or WITHDRAWN) and returns the updated record.
	// Returns domain.ErrNotFound if it does not exist and
	// domain.ErrAlreadyResolved if it is no longer pending.
	Resolve(ctx context.Context, applicationID uuid.UUID, status domain.ApplicationStatus) (domain.WalkerApplication, error)
}

// pgApplicationRepo is the Postgres implementation of ApplicationRepo.
type pgApplicationRepo struct {
	db db
}

// NewApplicationRepo constructs an ApplicationRepo backed by the provided db
// connection. In production pass *pgxpool.Pool; in tests pass a pgx.Tx —
// AcceptAndBind's inner Begin then becomes a savepoint, so rollback isolation
// still works.
func NewApplicationRepo(db db) ApplicationRepo {
	return &pgApplicationRepo{db: db}
}

const applicationColumns = `id, booking_id, walker_id, message, proposed_price, status, applied_at, responded_at`

// Create inserts a pending application. The partial unique index on
// (booking_id, walker_id) WHERE status = 'PENDING' turns a duplicate apply
// into domain.ErrDuplicateApplication.
func (r *pgApplicationRepo) Create(ctx context.Context, app domain.WalkerApplication) (domain.WalkerApplication, error) {
	const q = `
		INSERT INTO walker_applications (booking_id, walker_id, message, proposed_price, status)
		VALUES (@booking_id, @walker_id, @message, @proposed_price, 'PENDING')
		RETURNING ` + applicationColumns

	args := pgx.NamedArgs{
		"booking_id":     app.BookingID,
		"walker_id":      app.WalkerID,
		"message":        app.Message,
		"proposed_price": app.ProposedPrice,
	}

	row := r.db.QueryRow(ctx, q, args)
	result, err := scanApplication(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WalkerApplication{}, fmt.Errorf("repo.ApplicationRepo.Create: %w", domain.ErrDuplicateApplication)
		}
		return domain.WalkerApplication{}, fmt.Errorf("repo.ApplicationRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves an application by primary key.
func (r *pgApplicationRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.WalkerApplication, error) {
	q := `SELECT ` + applicationColumns + ` FROM walker_applications WHERE id = @id`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id})
	result, err := scanApplication(row)
	if err != nil {
		return domain.WalkerApplication{}, fmt.Errorf("repo.ApplicationRepo.GetByID: %w", err)
	}
	return result, nil
}

// ListByBooking returns all applications for a booking, oldest first.
func (r *pgApplicationRepo) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.WalkerApplication, error) {
	q := `SELECT ` + applicationColumns + ` FROM walker_applications
		WHERE booking_id = @booking_id
		ORDER BY applied_at`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"booking_id": bookingID})
	if err != nil {
		return nil, fmt.Errorf("repo.ApplicationRepo.ListByBooking: %w", err)
	}
	defer rows.Close()

	var apps []domain.WalkerApplication
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.ApplicationRepo.ListByBooking: scan: %w", err)
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.ApplicationRepo.ListByBooking: rows: %w", err)
	}

	return apps, nil
}

// AcceptAndBind confirms one application and settles everything that hangs off
// that decision in a single transaction. Row locks on the application and the
// booking serialize concurrent Respond calls: the second caller blocks on
// FOR UPDATE and then sees a non-pending application.
func (r *pgApplicationRepo) AcceptAndBind(ctx context.Context, applicationID uuid.UUID) (domain.WalkerApplication, domain.Booking, error) {
	fail := func(err error) (domain.WalkerApplication, domain.Booking, error) {
		return domain.WalkerApplication{}, domain.Booking{}, fmt.Errorf("repo.ApplicationRepo.AcceptAndBind: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	row := tx.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM walker_applications WHERE id = @id FOR UPDATE`,
		pgx.NamedArgs{"id": applicationID})
	app, err := scanApplication(row)
	if err != nil {
		return fail(err)
	}
	if app.Status != domain.ApplicationPending {
		return fail(domain.ErrAlreadyResolved)
	}

	row = tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = @id FOR UPDATE`,
		pgx.NamedArgs{"id": app.BookingID})
	booking, err := scanBooking(row)
	if err != nil {
		return fail(err)
	}
	if booking.State != domain.BookingPending || booking.WalkerID != nil {
		return fail(domain.ErrNotOpen)
	}

	row = tx.QueryRow(ctx, `
		UPDATE walker_applications
		SET status = 'CONFIRMED', responded_at = now()
		WHERE id = @id
		RETURNING `+applicationColumns,
		pgx.NamedArgs{"id": applicationID})
	if app, err = scanApplication(row); err != nil {
		return fail(err)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE walker_applications
		SET status = 'REJECTED', responded_at = now()
		WHERE booking_id = @booking_id AND status = 'PENDING'`,
		pgx.NamedArgs{"booking_id": app.BookingID}); err != nil {
		return fail(err)
	}

	// Binding removes the booking from the open pool; an accepted application
	// may carry a negotiated price.
	price := booking.Price
	if app.ProposedPrice != nil {
		price = app.ProposedPrice
	}
	row = tx.QueryRow(ctx, `
		UPDATE bookings
		SET walker_id = @walker_id, price = @price, published = FALSE, updated_at = now()
		WHERE id = @id
		RETURNING `+bookingColumns,
		pgx.NamedArgs{"id": app.BookingID, "walker_id": app.WalkerID, "price": price})
	if booking, err = scanBooking(row); err != nil {
		return fail(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fail(err)
	}
	return app, booking, nil
}

// Resolve moves a pending application to REJECTED or WITHDRAWN.
func (r *pgApplicationRepo) Resolve(ctx context.Context, applicationID uuid.UUID, status domain.ApplicationStatus) (domain.WalkerApplication, error) {
	const q = `
		UPDATE walker_applications
		SET status = @status, responded_at = now()
		WHERE id = @id AND status = 'PENDING'
		RETURNING ` + applicationColumns

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": applicationID, "status": string(status)})
	result, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Distinguish "no such application" from "already resolved".
			if _, getErr := r.GetByID(ctx, applicationID); getErr == nil {
				return domain.WalkerApplication{}, fmt.Errorf("repo.ApplicationRepo.Resolve: %w", domain.ErrAlreadyResolved)
			}
			return domain.WalkerApplication{}, fmt.Errorf("repo.ApplicationRepo.Resolve: %w", domain.ErrNotFound)
		}
		return domain.WalkerApplication{}, fmt.Errorf("repo.ApplicationRepo.Resolve: %w", err)
	}
	return result, nil
}

// scanApplication maps a single database row into a domain.WalkerApplication.
func scanApplication(s scanner) (domain.WalkerApplication, error) {
	var (
		a           domain.WalkerApplication
		id          pgtype.UUID
		bookingID   pgtype.UUID
		walkerID    pgtype.UUID
		price       pgtype.Float8
		status      string
		respondedAt pgtype.Timestamptz
	)

	err := s.Scan(&id, &bookingID, &walkerID, &a.Message, &price, &status, &a.AppliedAt, &respondedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WalkerApplication{}, domain.ErrNotFound
		}
		return domain.WalkerApplication{}, err
	}

	a.ID = uuid.UUID(id.Bytes)
	a.BookingID = uuid.UUID(bookingID.Bytes)
	a.WalkerID = uuid.UUID(walkerID.Bytes)
	a.Status = domain.ApplicationStatus(status)
	if price.Valid {
		p := price.Float64
		a.ProposedPrice = &p
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		a.RespondedAt = &t
	}

	return a, nil
}
