package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/petmily/walk-engine/internal/domain"
)

// EmergencyRepo defines the persistence operations for emergency reports.
// A report is always written before notification is attempted.
type EmergencyRepo interface {
	// Create inserts a new emergency report.
	Create(ctx context.Context, r domain.EmergencyReport) error

	// MarkNotified flips the notified flag once downstream delivery succeeds.
	// Returns domain.ErrNotFound if no report with that ID exists.
	MarkNotified(ctx context.Context, id uuid.UUID) error

	// ListByBooking returns all reports raised against a booking, oldest first.
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.EmergencyReport, error)
}

// pgEmergencyRepo is the Postgres implementation of EmergencyRepo.
type pgEmergencyRepo struct {
	db db
}

// NewEmergencyRepo constructs an EmergencyRepo backed by the provided db connection.
func NewEmergencyRepo(db db) EmergencyRepo {
	return &pgEmergencyRepo{db: db}
}

// Create inserts a new emergency report row.
func (r *pgEmergencyRepo) Create(ctx context.Context, report domain.EmergencyReport) error {
	const q = `
		INSERT INTO emergencies (id, booking_id, raised_by, type, lat, lng, address, description, raised_at, notified)
		VALUES (@id, @booking_id, @raised_by, @type, @lat, @lng, @address, @description, @raised_at, @notified)`

	args := pgx.NamedArgs{
		"id":          report.ID,
		"booking_id":  report.BookingID,
		"raised_by":   report.RaisedBy,
		"type":        string(report.Type),
		"lat":         nil,
		"lng":         nil,
		"address":     nil,
		"description": report.Description,
		"raised_at":   report.RaisedAt,
		"notified":    report.Notified,
	}
	if report.Location != nil {
		args["lat"] = report.Location.Lat
		args["lng"] = report.Location.Lng
		args["address"] = report.Location.Address
	}
	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return fmt.Errorf("repo.EmergencyRepo.Create: %w", err)
	}
	return nil
}

// MarkNotified records that the downstream notification went out.
func (r *pgEmergencyRepo) MarkNotified(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE emergencies SET notified = TRUE WHERE id = @id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("repo.EmergencyRepo.MarkNotified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.EmergencyRepo.MarkNotified: %w", domain.ErrNotFound)
	}
	return nil
}

// ListByBooking returns all emergency reports for a booking in raise order.
func (r *pgEmergencyRepo) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.EmergencyReport, error) {
	const q = `
		SELECT id, booking_id, raised_by, type, lat, lng, address, description, raised_at, notified
		FROM emergencies
		WHERE booking_id = @booking_id
		ORDER BY raised_at`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"booking_id": bookingID})
	if err != nil {
		return nil, fmt.Errorf("repo.EmergencyRepo.ListByBooking: %w", err)
	}
	defer rows.Close()

	var reports []domain.EmergencyReport
	for rows.Next() {
		var (
			report    domain.EmergencyReport
			id        pgtype.UUID
			booking   pgtype.UUID
			raisedBy  pgtype.UUID
			typ       string
			latitude  pgtype.Float8
			longitude pgtype.Float8
			address   pgtype.Text
		)
		err := rows.Scan(&id, &booking, &raisedBy, &typ, &latitude, &longitude,
			&address, &report.Description, &report.RaisedAt, &report.Notified)
		if err != nil {
			return nil, fmt.Errorf("repo.EmergencyRepo.ListByBooking: scan: %w", err)
		}
		report.ID = uuid.UUID(id.Bytes)
		report.BookingID = uuid.UUID(booking.Bytes)
		report.RaisedBy = uuid.UUID(raisedBy.Bytes)
		report.Type = domain.EmergencyType(typ)
		if latitude.Valid && longitude.Valid {
			report.Location = &domain.Location{
				Lat:     latitude.Float64,
				Lng:     longitude.Float64,
				Address: address.String,
			}
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.EmergencyRepo.ListByBooking: rows: %w", err)
	}

	return reports, nil
}
