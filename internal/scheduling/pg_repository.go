package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var blockingStatuses = []string{string(StatusPending), string(StatusConfirmed)}

var serviceColumns = []string{
	"id", "code", "name", "duration_minutes", "buffer_minutes",
	"is_active", "display_order", "created_at", "updated_at",
}

var reservationColumns = []string{
	"id", "service_code", "reservation_date", "slot_start_minute", "slot_end_minute",
	"buffer_minutes", "period", "status", "patient_name", "patient_phone", "patient_email",
	"notes", "admin_notes", "cancel_reason", "created_at", "updated_at", "status_changed_at",
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// Helpers

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	err := row.Scan(
		&s.ID,
		&s.Code,
		&s.Name,
		&s.DurationMinutes,
		&s.BufferMinutes,
		&s.IsActive,
		&s.DisplayOrder,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var (
		r               Reservation
		start, end      int
		period, status  string
		email           *string
		statusChangedAt *time.Time
	)

	err := row.Scan(
		&r.ID,
		&r.ServiceCode,
		&r.Date,
		&start,
		&end,
		&r.BufferMinutes,
		&period,
		&status,
		&r.Patient.Name,
		&r.Patient.Phone,
		&email,
		&r.Notes,
		&r.AdminNotes,
		&r.CancelReason,
		&r.CreatedAt,
		&r.UpdatedAt,
		&statusChangedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	r.SlotStart = TimeOfDay(start)
	r.SlotEnd = TimeOfDay(end)
	r.Period = Period(period)
	r.Status = Status(status)
	r.Patient.Email = email
	r.StatusChangedAt = statusChangedAt
	return &r, nil
}

func (r *PgRepository) queryReservations(ctx context.Context, b sq.SelectBuilder) ([]Reservation, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reservations query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) queryReservation(ctx context.Context, query string, args []any, buildErr error) (*Reservation, error) {
	if buildErr != nil {
		return nil, fmt.Errorf("build reservation query: %w", buildErr)
	}
	return scanReservation(r.q.QueryRow(ctx, query, args...))
}

// Interface methods

func (r *PgRepository) GetServiceByCode(ctx context.Context, code string) (*Service, error) {
	query, args, err := psql.Select(serviceColumns...).
		From("services").
		Where(sq.Eq{"code": code}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build service query: %w", err)
	}
	return scanService(r.q.QueryRow(ctx, query, args...))
}

func (r *PgRepository) GetCapacityLimit(ctx context.Context, serviceID int64) (*CapacityLimit, error) {
	query, args, err := psql.Select("service_id", "daily_limit_minutes", "is_active").
		From("capacity_limits").
		Where(sq.Eq{"service_id": serviceID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build capacity limit query: %w", err)
	}

	var l CapacityLimit
	err = r.q.QueryRow(ctx, query, args...).Scan(&l.ServiceID, &l.DailyLimitMinutes, &l.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PgRepository) ListActiveServices(ctx context.Context) ([]Service, error) {
	query, args, err := psql.Select(serviceColumns...).
		From("services").
		Where(sq.Eq{"is_active": true}).
		OrderBy("display_order", "code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build services query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateServiceDuration(ctx context.Context, code string, durationMinutes int) (*Service, error) {
	query, args, err := psql.Update("services").
		Set("duration_minutes", durationMinutes).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"code": code}).
		Suffix("RETURNING " + joinColumns(serviceColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build service update: %w", err)
	}
	return scanService(r.q.QueryRow(ctx, query, args...))
}

func (r *PgRepository) ListBlockingReservations(ctx context.Context, serviceCode string, date time.Time) ([]Reservation, error) {
	b := psql.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"service_code": serviceCode, "reservation_date": date, "status": blockingStatuses}).
		OrderBy("slot_start_minute")
	return r.queryReservations(ctx, b)
}

func (r *PgRepository) ListReservationsByDay(ctx context.Context, serviceCode string, date time.Time) ([]Reservation, error) {
	b := psql.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"service_code": serviceCode, "reservation_date": date}).
		OrderBy("slot_start_minute", "created_at")
	return r.queryReservations(ctx, b)
}

func (r *PgRepository) CountFutureReservations(ctx context.Context, serviceCode string, from time.Time) (int, error) {
	query, args, err := psql.Select("count(*)").
		From("reservations").
		Where(sq.Eq{"service_code": serviceCode, "status": blockingStatuses}).
		Where(sq.GtOrEq{"reservation_date": from}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var n int
	if err := r.q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// IDs are bound as strings below: uuid.UUID is an array and squirrel would
// expand it into an IN list.
func (r *PgRepository) GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	b := psql.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"id": id.String()})
	if r.inTx {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	return r.queryReservation(ctx, query, args, err)
}

func (r *PgRepository) CreateReservation(ctx context.Context, res *Reservation) (*Reservation, error) {
	query, args, err := psql.Insert("reservations").
		Columns(reservationColumns...).
		Values(
			res.ID,
			res.ServiceCode,
			res.Date,
			int(res.SlotStart),
			int(res.SlotEnd),
			res.BufferMinutes,
			string(res.Period),
			string(res.Status),
			res.Patient.Name,
			res.Patient.Phone,
			res.Patient.Email,
			res.Notes,
			res.AdminNotes,
			res.CancelReason,
			res.CreatedAt,
			res.UpdatedAt,
			res.StatusChangedAt,
		).
		Suffix("RETURNING " + joinColumns(reservationColumns)).
		ToSql()
	return r.queryReservation(ctx, query, args, err)
}

func (r *PgRepository) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to Status, cancelReason *string, at time.Time) (*Reservation, error) {
	query, args, err := psql.Update("reservations").
		Set("status", string(to)).
		Set("cancel_reason", cancelReason).
		Set("status_changed_at", at).
		Set("updated_at", at).
		Where(sq.Eq{"id": id.String(), "status": string(from)}).
		Suffix("RETURNING " + joinColumns(reservationColumns)).
		ToSql()
	return r.queryReservation(ctx, query, args, err)
}

func (r *PgRepository) UpdateReservationDetails(ctx context.Context, res *Reservation) (*Reservation, error) {
	query, args, err := psql.Update("reservations").
		Set("patient_name", res.Patient.Name).
		Set("patient_phone", res.Patient.Phone).
		Set("patient_email", res.Patient.Email).
		Set("notes", res.Notes).
		Set("admin_notes", res.AdminNotes).
		Set("updated_at", res.UpdatedAt).
		Where(sq.Eq{"id": res.ID.String(), "status": blockingStatuses}).
		Suffix("RETURNING " + joinColumns(reservationColumns)).
		ToSql()
	return r.queryReservation(ctx, query, args, err)
}

func (r *PgRepository) MoveReservation(ctx context.Context, res *Reservation) (*Reservation, error) {
	query, args, err := psql.Update("reservations").
		Set("reservation_date", res.Date).
		Set("slot_start_minute", int(res.SlotStart)).
		Set("slot_end_minute", int(res.SlotEnd)).
		Set("buffer_minutes", res.BufferMinutes).
		Set("period", string(res.Period)).
		Set("updated_at", res.UpdatedAt).
		Where(sq.Eq{"id": res.ID.String(), "status": blockingStatuses}).
		Suffix("RETURNING " + joinColumns(reservationColumns)).
		ToSql()
	return r.queryReservation(ctx, query, args, err)
}

// WithAdmissionTx opens a read-committed transaction and takes a
// transaction-scoped advisory lock on the key before running fn, so the
// count-then-insert sequence is serialized per {service, date} even across
// processes that bypass the distributed lock.
func (r *PgRepository) WithAdmissionTx(ctx context.Context, key AdmissionKey, fn func(ctx context.Context, tx Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin admission tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(ctx, &PgRepository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit admission tx: %w", err)
	}
	return nil
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
