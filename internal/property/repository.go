package property

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nekogravitycat/rental-booking-backend/internal/db"
)

// Repository is read-only: listings are managed outside the booking core.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Property, error)
}

type pgxRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRepository(pool *pgxpool.Pool) Repository {
	return &pgxRepository{pool: pool}
}

func (r *pgxRepository) GetByID(ctx context.Context, id string) (*Property, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Select(
		"id", "host_id", "title", "is_active", "max_guests", "minimum_stay", "maximum_stay",
		"nightly_rate", "cleaning_fee", "service_fee", "security_deposit", "currency",
		"cancellation_policy", "same_day_check_in", "booking_mode", "created_at", "updated_at",
	).
		From("public.properties").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get property query failed: %w", err)
	}

	var p Property
	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.HostID, &p.Title, &p.IsActive, &p.MaxGuests, &p.MinimumStay, &p.MaximumStay,
		&p.NightlyRate, &p.CleaningFee, &p.ServiceFee, &p.SecurityDeposit, &p.Currency,
		&p.CancellationPolicy, &p.SameDayCheckIn, &p.BookingMode, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get property failed: %w", err)
	}
	return &p, nil
}
