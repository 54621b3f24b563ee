package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type AdmissionRequest struct {
	ServiceCode string
	Date        time.Time
	SlotStart   TimeOfDay
	Patient     PatientInfo
	Notes       *string
}

// AdmissionController turns a selected slot into a PENDING reservation. The
// recheck and the insert run under a per {service, date} lock inside one
// store transaction, so concurrent callers observe each other's writes.
type AdmissionController struct {
	repo       Repository
	locker     Locker
	cal        Calendar
	metrics    *metrics.Metrics
	log        zerolog.Logger
	newBackOff func() backoff.BackOff
}

func NewAdmissionController(repo Repository, locker Locker, cal Calendar, m *metrics.Metrics, log zerolog.Logger) *AdmissionController {
	return &AdmissionController{
		repo:       repo,
		locker:     locker,
		cal:        cal,
		metrics:    m,
		log:        log.With().Str("component", "admission").Logger(),
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	b.Reset()
	return b
}

// Admit validates the slot at commit time and inserts the reservation.
// Nothing is written when an error is returned.
func (a *AdmissionController) Admit(ctx context.Context, req AdmissionRequest) (*Reservation, error) {
	started := time.Now()
	res, err := a.admit(ctx, req)
	a.metrics.ObserveAdmission(ReasonCodeOrOK(err), time.Since(started))

	logEvent := a.log.Info()
	if err != nil {
		logEvent = a.log.Warn().Err(err).Str("reason", ReasonCode(err))
		if !isDomainError(err) {
			logEvent = a.log.Error().Err(err)
		}
	}
	logEvent.
		Str("service", req.ServiceCode).
		Str("date", req.Date.Format(DateFormat)).
		Str("slot_start", req.SlotStart.String()).
		Dur("elapsed", time.Since(started)).
		Msg("admission")

	return res, err
}

func (a *AdmissionController) admit(ctx context.Context, req AdmissionRequest) (*Reservation, error) {
	if strings.TrimSpace(req.Patient.Name) == "" || strings.TrimSpace(req.Patient.Phone) == "" {
		return nil, ErrInvalidPatient
	}
	if err := a.checkCalendar(req.Date, req.SlotStart); err != nil {
		return nil, err
	}

	key := AdmissionKey{ServiceCode: req.ServiceCode, Date: req.Date}

	var created *Reservation
	err := a.serialized(ctx, key, func(ctx context.Context, tx Repository) error {
		svc, err := tx.GetServiceByCode(ctx, req.ServiceCode)
		if err != nil {
			return err
		}

		c, err := a.checkSlot(ctx, tx, svc, req.Date, req.SlotStart, uuid.Nil)
		if err != nil {
			return err
		}

		now := a.cal.now()
		r := &Reservation{
			ID:            uuid.New(),
			ServiceCode:   svc.Code,
			Date:          req.Date,
			SlotStart:     c.start,
			SlotEnd:       c.end,
			BufferMinutes: svc.BufferMinutes,
			Period:        c.period,
			Status:        StatusPending,
			Patient:       req.Patient,
			Notes:         req.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		created, err = tx.CreateReservation(ctx, r)
		if err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Reschedule moves a PENDING or CONFIRMED reservation to another slot of the
// same service, admitting the target slot under its own key as if new.
func (a *AdmissionController) Reschedule(ctx context.Context, id uuid.UUID, date time.Time, start TimeOfDay) (*Reservation, error) {
	current, err := a.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.Blocking() {
		return nil, ErrImmutableField
	}
	if err := a.checkCalendar(date, start); err != nil {
		return nil, err
	}

	key := AdmissionKey{ServiceCode: current.ServiceCode, Date: date}

	var updated *Reservation
	err = a.serialized(ctx, key, func(ctx context.Context, tx Repository) error {
		r, err := tx.GetReservationByID(ctx, id)
		if err != nil {
			return err
		}
		if !r.Status.Blocking() {
			return ErrImmutableField
		}

		svc, err := tx.GetServiceByCode(ctx, r.ServiceCode)
		if err != nil {
			return err
		}

		c, err := a.checkSlot(ctx, tx, svc, date, start, r.ID)
		if err != nil {
			return err
		}

		moved := *r
		moved.Date = date
		moved.SlotStart = c.start
		moved.SlotEnd = c.end
		moved.BufferMinutes = svc.BufferMinutes
		moved.Period = c.period
		moved.UpdatedAt = a.cal.now()

		updated, err = tx.MoveReservation(ctx, &moved)
		return err
	})
	// The reservation left PENDING/CONFIRMED while the move was in flight.
	if errors.Is(err, ErrReservationNotFound) {
		err = ErrImmutableField
	}
	if err != nil {
		a.log.Warn().Err(err).Str("reservation_id", id.String()).Msg("reschedule rejected")
		return nil, err
	}

	a.log.Info().
		Str("reservation_id", id.String()).
		Str("date", date.Format(DateFormat)).
		Str("slot_start", start.String()).
		Msg("reservation rescheduled")
	return updated, nil
}

// checkCalendar rejects requests that need no store read to refuse.
func (a *AdmissionController) checkCalendar(date time.Time, start TimeOfDay) error {
	if !start.Valid() {
		return ErrInvalidSlotGranularity
	}
	if a.cal.isPast(date, start) {
		return ErrPastDate
	}
	if a.cal.Hours.IsClosed(date) {
		return ErrClosedDay
	}
	return nil
}

// checkSlot re-applies every availability rule to one slot using the
// transaction's view of the store.
func (a *AdmissionController) checkSlot(ctx context.Context, tx Repository, svc *Service, date time.Time, start TimeOfDay, exclude uuid.UUID) (candidate, error) {
	if !svc.IsActive {
		return candidate{}, ErrServiceInactive
	}

	c, ok := a.cal.Hours.candidateAt(svc, start)
	if !ok {
		return candidate{}, ErrInvalidSlotGranularity
	}

	ledger, err := loadLedger(ctx, tx, svc, date, exclude)
	if err != nil {
		return candidate{}, err
	}

	if reason := ledger.verdict(a.cal, svc, date, start); reason != nil {
		return candidate{}, reasonErrors[*reason]
	}
	return c, nil
}

// serialized runs fn under the key lock and an admission transaction. A
// store fault is retried once with backoff; business rejections and lock
// contention are returned as they are. When the lock backend itself fails,
// the admission transaction's own key lock is the only serialization.
func (a *AdmissionController) serialized(ctx context.Context, key AdmissionKey, fn func(ctx context.Context, tx Repository) error) error {
	op := func() error {
		entered := false
		err := a.locker.WithKeyLock(ctx, key.String(), func(lockCtx context.Context) error {
			entered = true
			return a.repo.WithAdmissionTx(lockCtx, key, fn)
		})
		if err != nil && !entered && ctx.Err() == nil && !errors.Is(err, redisclient.ErrLockNotAcquired) {
			a.log.Warn().Err(err).Str("key", key.String()).Msg("key lock unavailable, admitting under store lock only")
			entered = true
			err = a.repo.WithAdmissionTx(ctx, key, fn)
		}
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case !entered:
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrAdmissionBusy, err))
		case isDomainError(err):
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		a.metrics.IncAdmissionRetry()
		a.log.Warn().Err(err).Str("key", key.String()).Dur("wait", wait).Msg("retrying admission after store fault")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(a.newBackOff(), 1), ctx)
	return backoff.RetryNotify(op, b, notify)
}
