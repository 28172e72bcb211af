package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nekogravitycat/rental-booking-backend/internal/db"
)

type Repository interface {
	Create(ctx context.Context, r *Record) error
	Update(ctx context.Context, r *Record) error
	// SetOrderID stores the processor id on a record that has none yet.
	SetOrderID(ctx context.Context, id, orderID string) error
	GetByID(ctx context.Context, id string) (*Record, error)
	GetByProviderTxID(ctx context.Context, txID string) (*Record, error)
	GetByOrderID(ctx context.Context, orderID string) (*Record, error)
	// GetInitiated returns the latest INITIATED record of a direction for the booking.
	GetInitiated(ctx context.Context, bookingID string, dir Direction) (*Record, error)
	// GetInitiatedRefund returns the oldest INITIATED refund of the charge for exactly amount.
	GetInitiatedRefund(ctx context.Context, chargeID string, amount int64) (*Record, error)
	// GetCompletedCharge returns the booking's settled charge (COMPLETED or REFUNDED).
	GetCompletedCharge(ctx context.Context, bookingID string) (*Record, error)
	RefundTotals(ctx context.Context, bookingID string) (completed, pending int64, err error)
	ListByBooking(ctx context.Context, bookingID string) ([]*Record, error)
	// ListUndispatchedRefunds returns INITIATED refunds not yet sent to the processor.
	ListUndispatchedRefunds(ctx context.Context, limit int) ([]*Record, error)

	// CreateException is idempotent per (provider tx id, kind). It reports whether a row was written.
	CreateException(ctx context.Context, e *Exception) (bool, error)
	ListExceptions(ctx context.Context, filter ExceptionFilter) ([]*Exception, int, error)
	ResolveException(ctx context.Context, id, note string) (*Exception, error)
	CountOpenExceptions(ctx context.Context, bookingID string) (int, error)
}

type pgxRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRepository(pool *pgxpool.Pool) Repository {
	return &pgxRepository{pool: pool}
}

var recordColumns = []string{
	"id", "booking_id", "direction", "status", "amount", "currency",
	"provider_tx_id", "provider_order_id", "parent_id", "note", "created_at", "updated_at",
}

func selectRecords() squirrel.SelectBuilder {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	return psql.Select(recordColumns...).From("public.payment_records")
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	if err := row.Scan(
		&r.ID, &r.BookingID, &r.Direction, &r.Status, &r.Amount, &r.Currency,
		&r.ProviderTxID, &r.ProviderOrderID, &r.ParentID, &r.Note, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *pgxRepository) getOne(ctx context.Context, q squirrel.SelectBuilder) (*Record, error) {
	query, args, err := q.Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build payment query failed: %w", err)
	}
	rec, err := scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment record failed: %w", err)
	}
	return rec, nil
}

func (r *pgxRepository) Create(ctx context.Context, rec *Record) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Insert("public.payment_records").
		Columns("booking_id", "direction", "status", "amount", "currency",
			"provider_tx_id", "provider_order_id", "parent_id", "note").
		Values(rec.BookingID, rec.Direction, rec.Status, rec.Amount, rec.Currency,
			rec.ProviderTxID, rec.ProviderOrderID, rec.ParentID, rec.Note).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create payment query failed: %w", err)
	}

	if err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return fmt.Errorf("create payment record failed: %w", err)
	}
	return nil
}

func (r *pgxRepository) Update(ctx context.Context, rec *Record) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Update("public.payment_records").
		Set("status", rec.Status).
		Set("amount", rec.Amount).
		Set("currency", rec.Currency).
		Set("provider_tx_id", rec.ProviderTxID).
		Set("provider_order_id", rec.ProviderOrderID).
		Set("note", rec.Note).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": rec.ID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build update payment query failed: %w", err)
	}

	if err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update payment record failed: %w", err)
	}
	return nil
}

func (r *pgxRepository) SetOrderID(ctx context.Context, id, orderID string) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Update("public.payment_records").
		Set("provider_order_id", orderID).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "provider_order_id": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set order id query failed: %w", err)
	}

	if _, err := db.Conn(ctx, r.pool).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("set order id failed: %w", err)
	}
	return nil
}

func (r *pgxRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	return r.getOne(ctx, selectRecords().Where(squirrel.Eq{"id": id}))
}

func (r *pgxRepository) GetByProviderTxID(ctx context.Context, txID string) (*Record, error) {
	return r.getOne(ctx, selectRecords().Where(squirrel.Eq{"provider_tx_id": txID}))
}

func (r *pgxRepository) GetByOrderID(ctx context.Context, orderID string) (*Record, error) {
	return r.getOne(ctx, selectRecords().
		Where(squirrel.Eq{"provider_order_id": orderID}).
		OrderBy("created_at DESC"))
}

func (r *pgxRepository) GetInitiated(ctx context.Context, bookingID string, dir Direction) (*Record, error) {
	return r.getOne(ctx, selectRecords().
		Where(squirrel.Eq{"booking_id": bookingID, "direction": dir, "status": StatusInitiated}).
		OrderBy("created_at DESC"))
}

func (r *pgxRepository) GetInitiatedRefund(ctx context.Context, chargeID string, amount int64) (*Record, error) {
	return r.getOne(ctx, selectRecords().
		Where(squirrel.Eq{
			"parent_id": chargeID,
			"direction": DirectionRefund,
			"status":    StatusInitiated,
			"amount":    amount,
		}).
		OrderBy("created_at"))
}

func (r *pgxRepository) GetCompletedCharge(ctx context.Context, bookingID string) (*Record, error) {
	return r.getOne(ctx, selectRecords().
		Where(squirrel.Eq{
			"booking_id": bookingID,
			"direction":  DirectionCharge,
			"status":     []Status{StatusCompleted, StatusRefunded},
		}))
}

func (r *pgxRepository) RefundTotals(ctx context.Context, bookingID string) (int64, int64, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Select(
		"COALESCE(SUM(amount) FILTER (WHERE status = 'COMPLETED'), 0)",
		"COALESCE(SUM(amount) FILTER (WHERE status = 'INITIATED'), 0)",
	).
		From("public.payment_records").
		Where(squirrel.Eq{"booking_id": bookingID, "direction": DirectionRefund}).
		ToSql()
	if err != nil {
		return 0, 0, fmt.Errorf("build refund totals query failed: %w", err)
	}

	var completed, pending int64
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&completed, &pending); err != nil {
		return 0, 0, fmt.Errorf("refund totals failed: %w", err)
	}
	return completed, pending, nil
}

func (r *pgxRepository) list(ctx context.Context, q squirrel.SelectBuilder) ([]*Record, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list payments query failed: %w", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments failed: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment record failed: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *pgxRepository) ListByBooking(ctx context.Context, bookingID string) ([]*Record, error) {
	return r.list(ctx, selectRecords().
		Where(squirrel.Eq{"booking_id": bookingID}).
		OrderBy("created_at"))
}

func (r *pgxRepository) ListUndispatchedRefunds(ctx context.Context, limit int) ([]*Record, error) {
	return r.list(ctx, selectRecords().
		Where(squirrel.Eq{"direction": DirectionRefund, "status": StatusInitiated, "provider_order_id": nil}).
		OrderBy("created_at").
		Limit(uint64(limit)))
}

var exceptionColumns = []string{
	"id", "booking_id", "provider_tx_id", "event_type", "kind", "detail", "amount", "currency",
	"resolved", "resolution_note", "created_at", "resolved_at",
}

func scanException(row pgx.Row, extra ...any) (*Exception, error) {
	var e Exception
	dest := []any{
		&e.ID, &e.BookingID, &e.ProviderTxID, &e.EventType, &e.Kind, &e.Detail, &e.Amount, &e.Currency,
		&e.Resolved, &e.ResolutionNote, &e.CreatedAt, &e.ResolvedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *pgxRepository) CreateException(ctx context.Context, e *Exception) (bool, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Insert("public.reconciliation_exceptions").
		Columns("booking_id", "provider_tx_id", "event_type", "kind", "detail", "amount", "currency").
		Values(e.BookingID, e.ProviderTxID, e.EventType, e.Kind, e.Detail, e.Amount, e.Currency).
		Suffix("ON CONFLICT (provider_tx_id, kind) DO NOTHING RETURNING id, created_at").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build create exception query failed: %w", err)
	}

	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&e.ID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create exception failed: %w", err)
	}
	return true, nil
}

func (r *pgxRepository) ListExceptions(ctx context.Context, filter ExceptionFilter) ([]*Exception, int, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query := psql.Select(append(exceptionColumns, "count(*) OVER() as total_count")...).
		From("public.reconciliation_exceptions")

	if filter.BookingID != "" {
		query = query.Where(squirrel.Eq{"booking_id": filter.BookingID})
	}
	if filter.Kind != "" {
		query = query.Where(squirrel.Eq{"kind": filter.Kind})
	}
	if filter.Resolved != nil {
		query = query.Where(squirrel.Eq{"resolved": *filter.Resolved})
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	offset := (filter.Page - 1) * filter.PageSize
	query = query.OrderBy("created_at DESC").Limit(uint64(filter.PageSize)).Offset(uint64(offset))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list exceptions query failed: %w", err)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list exceptions failed: %w", err)
	}
	defer rows.Close()

	var out []*Exception
	var total int
	for rows.Next() {
		e, err := scanException(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan exception failed: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *pgxRepository) ResolveException(ctx context.Context, id, note string) (*Exception, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Update("public.reconciliation_exceptions").
		Set("resolved", true).
		Set("resolution_note", note).
		Set("resolved_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(exceptionColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build resolve exception query failed: %w", err)
	}

	e, err := scanException(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExceptionNotFound
		}
		return nil, fmt.Errorf("resolve exception failed: %w", err)
	}
	return e, nil
}

func (r *pgxRepository) CountOpenExceptions(ctx context.Context, bookingID string) (int, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Select("count(*)").
		From("public.reconciliation_exceptions").
		Where(squirrel.Eq{"booking_id": bookingID, "resolved": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count exceptions query failed: %w", err)
	}

	var n int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count exceptions failed: %w", err)
	}
	return n, nil
}
