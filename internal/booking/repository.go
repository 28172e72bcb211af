package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nekogravitycat/rental-booking-backend/internal/availability"
	"github.com/nekogravitycat/rental-booking-backend/internal/db"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
)

const noOverlapConstraint = "bookings_no_overlap"

var errReferenceTaken = errors.New("booking reference already taken")

type Repository interface {
	// LockProperty serializes admissions for one property until the surrounding transaction ends.
	LockProperty(ctx context.Context, propertyID string) error
	OccupiedRanges(ctx context.Context, propertyID string, within dates.Range) ([]dates.Range, error)
	Create(ctx context.Context, b *Booking) error
	GetByReference(ctx context.Context, reference string) (*Booking, error)
	GetByID(ctx context.Context, id string) (*Booking, error)
	// LockByReference and LockByID read the booking with a row lock held until the transaction ends.
	LockByReference(ctx context.Context, reference string) (*Booking, error)
	LockByID(ctx context.Context, id string) (*Booking, error)
	UpdateStatus(ctx context.Context, b *Booking) error
	List(ctx context.Context, filter Filter) ([]*Booking, int, error)
	ListStale(ctx context.Context, filter StaleFilter) ([]string, error)
}

type pgxRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRepository(pool *pgxpool.Pool) Repository {
	return &pgxRepository{pool: pool}
}

var bookingColumns = []string{
	"b.id", "b.reference", "b.property_id", "p.title", "b.guest_id",
	"b.check_in", "b.check_out", "b.guest_count",
	"b.nightly_rate", "b.cleaning_fee", "b.service_fee", "b.security_deposit",
	"b.total_amount", "b.currency", "b.status", "b.cancellation_reason",
	"b.created_at", "b.updated_at",
}

func selectBookings() squirrel.SelectBuilder {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	return psql.Select(bookingColumns...).
		From("public.bookings b").
		Join("public.properties p ON b.property_id = p.id")
}

func scanBooking(row pgx.Row, extra ...any) (*Booking, error) {
	var b Booking
	dest := []any{
		&b.ID, &b.Reference, &b.PropertyID, &b.PropertyTitle, &b.GuestID,
		&b.CheckIn, &b.CheckOut, &b.GuestCount,
		&b.NightlyRate, &b.CleaningFee, &b.ServiceFee, &b.SecurityDeposit,
		&b.TotalAmount, &b.Currency, &b.Status, &b.CancellationReason,
		&b.CreatedAt, &b.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *pgxRepository) LockProperty(ctx context.Context, propertyID string) error {
	if !db.InTx(ctx) {
		return errors.New("LockProperty requires a transaction")
	}
	const query = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, query, "property:"+propertyID); err != nil {
		return fmt.Errorf("lock property failed: %w", err)
	}
	return nil
}

func (r *pgxRepository) OccupiedRanges(ctx context.Context, propertyID string, within dates.Range) ([]dates.Range, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Select("check_in", "check_out").
		From("public.bookings").
		Where(squirrel.Eq{"property_id": propertyID}).
		Where(squirrel.Eq{"status": OccupyingStatuses}).
		Where(squirrel.Lt{"check_in": within.CheckOut}).
		Where(squirrel.Gt{"check_out": within.CheckIn}).
		OrderBy("check_in").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build occupied ranges query failed: %w", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("occupied ranges failed: %w", err)
	}
	defer rows.Close()

	var out []dates.Range
	for rows.Next() {
		var rg dates.Range
		if err := rows.Scan(&rg.CheckIn, &rg.CheckOut); err != nil {
			return nil, fmt.Errorf("scan occupied range failed: %w", err)
		}
		out = append(out, dates.NewRange(rg.CheckIn, rg.CheckOut))
	}
	return out, rows.Err()
}

func (r *pgxRepository) Create(ctx context.Context, b *Booking) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Insert("public.bookings").
		Columns(
			"reference", "property_id", "guest_id", "check_in", "check_out", "guest_count",
			"nightly_rate", "cleaning_fee", "service_fee", "security_deposit",
			"total_amount", "currency", "status",
		).
		Values(
			b.Reference, b.PropertyID, b.GuestID, b.CheckIn, b.CheckOut, b.GuestCount,
			b.NightlyRate, b.CleaningFee, b.ServiceFee, b.SecurityDeposit,
			b.TotalAmount, b.Currency, b.Status,
		).
		Suffix("ON CONFLICT (reference) DO NOTHING RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create booking query failed: %w", err)
	}

	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return errReferenceTaken
	case db.IsExclusionViolation(err, noOverlapConstraint):
		return availability.ErrRangeUnavailable
	default:
		return fmt.Errorf("create booking failed: %w", err)
	}
}

func (r *pgxRepository) get(ctx context.Context, where squirrel.Eq, lock bool) (*Booking, error) {
	q := selectBookings().Where(where)
	if lock {
		q = q.Suffix("FOR UPDATE OF b")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get booking query failed: %w", err)
	}

	b, err := scanBooking(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking failed: %w", err)
	}
	return b, nil
}

func (r *pgxRepository) GetByReference(ctx context.Context, reference string) (*Booking, error) {
	return r.get(ctx, squirrel.Eq{"b.reference": reference}, false)
}

func (r *pgxRepository) GetByID(ctx context.Context, id string) (*Booking, error) {
	return r.get(ctx, squirrel.Eq{"b.id": id}, false)
}

func (r *pgxRepository) LockByReference(ctx context.Context, reference string) (*Booking, error) {
	return r.get(ctx, squirrel.Eq{"b.reference": reference}, true)
}

func (r *pgxRepository) LockByID(ctx context.Context, id string) (*Booking, error) {
	return r.get(ctx, squirrel.Eq{"b.id": id}, true)
}

func (r *pgxRepository) UpdateStatus(ctx context.Context, b *Booking) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Update("public.bookings").
		Set("status", b.Status).
		Set("cancellation_reason", b.CancellationReason).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": b.ID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build update booking query failed: %w", err)
	}

	if err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update booking failed: %w", err)
	}
	return nil
}

func (r *pgxRepository) List(ctx context.Context, filter Filter) ([]*Booking, int, error) {
	query := selectBookings().Column("count(*) OVER() as total_count")

	if filter.GuestID != "" {
		query = query.Where(squirrel.Eq{"b.guest_id": filter.GuestID})
	}
	if filter.PropertyID != "" {
		query = query.Where(squirrel.Eq{"b.property_id": filter.PropertyID})
	}
	if filter.Status != "" {
		query = query.Where(squirrel.Eq{"b.status": filter.Status})
	}
	if filter.VisibleTo != "" {
		query = query.Where(squirrel.Or{
			squirrel.Eq{"b.guest_id": filter.VisibleTo},
			squirrel.Eq{"p.host_id": filter.VisibleTo},
		})
	}

	// Pagination
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	offset := (filter.Page - 1) * filter.PageSize

	query = query.OrderBy("b.check_in DESC", "b.created_at DESC").
		Limit(uint64(filter.PageSize)).
		Offset(uint64(offset))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list bookings query failed: %w", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings failed: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	var total int

	for rows.Next() {
		b, err := scanBooking(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan booking failed: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, total, rows.Err()
}

func (r *pgxRepository) ListStale(ctx context.Context, filter StaleFilter) ([]string, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query := psql.Select("reference").
		From("public.bookings").
		Where(squirrel.Eq{"status": filter.Status})

	if filter.CreatedBefore != nil {
		query = query.Where(squirrel.Lt{"created_at": *filter.CreatedBefore})
	}
	if filter.CheckOutBefore != nil {
		query = query.Where(squirrel.LtOrEq{"check_out": *filter.CheckOutBefore})
	}
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	sql, args, err := query.OrderBy("created_at", "reference").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stale bookings query failed: %w", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale bookings failed: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan reference failed: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
