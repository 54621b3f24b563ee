package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type reservationReader interface {
	Catalog
	ListBlockingReservations(ctx context.Context, serviceCode string, date time.Time) ([]Reservation, error)
}

// Engine computes slot availability. It only reads, so it is safe to call
// concurrently and as often as needed.
type Engine struct {
	store   reservationReader
	cal     Calendar
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewEngine(store reservationReader, cal Calendar, m *metrics.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		cal:     cal,
		metrics: m,
		log:     log.With().Str("component", "availability").Logger(),
	}
}

// ComputeSlots lists every candidate slot of the service on date with its
// availability verdict, in chronological order.
func (e *Engine) ComputeSlots(ctx context.Context, serviceCode string, date time.Time) (*SlotsResult, error) {
	start := time.Now()
	res, err := e.computeSlots(ctx, serviceCode, date)
	e.metrics.ObserveSlotQuery(ReasonCodeOrOK(err), time.Since(start))
	return res, err
}

func (e *Engine) computeSlots(ctx context.Context, serviceCode string, date time.Time) (*SlotsResult, error) {
	svc, err := e.store.GetServiceByCode(ctx, serviceCode)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !svc.IsActive {
		return nil, ErrServiceInactive
	}

	ledger, err := loadLedger(ctx, e.store, svc, date, uuid.Nil)
	if err != nil {
		return nil, err
	}

	candidates := e.cal.Hours.candidates(svc)
	slots := make([]Slot, 0, len(candidates))
	for _, c := range candidates {
		reason := ledger.verdict(e.cal, svc, date, c.start)
		slots = append(slots, Slot{
			Date:              date,
			ServiceCode:       svc.Code,
			Period:            c.period,
			Start:             c.start,
			End:               c.end,
			Available:         reason == nil,
			UnavailableReason: reason,
		})
	}

	meta := SlotsMetadata{
		ServiceName:      svc.Name,
		DurationMinutes:  svc.DurationMinutes,
		TotalMinutes:     svc.TotalMinutes(),
		CommittedMinutes: ledger.committedMinutes,
	}
	if ledger.limit != nil {
		limit := ledger.limit.DailyLimitMinutes
		meta.DailyLimitMinutes = &limit
	}

	e.log.Debug().
		Str("service", svc.Code).
		Str("date", date.Format(DateFormat)).
		Int("candidates", len(slots)).
		Int("committed_minutes", ledger.committedMinutes).
		Msg("slots computed")

	return &SlotsResult{Slots: slots, Metadata: meta}, nil
}

// loadLedger reads the capacity limit and blocking reservations of svc on date.
func loadLedger(ctx context.Context, store reservationReader, svc *Service, date time.Time, exclude uuid.UUID) (dayLedger, error) {
	limit, err := store.GetCapacityLimit(ctx, svc.ID)
	if err != nil {
		return dayLedger{}, fmt.Errorf("load capacity limit: %w", err)
	}
	rows, err := store.ListBlockingReservations(ctx, svc.Code, date)
	if err != nil {
		return dayLedger{}, fmt.Errorf("list reservations: %w", err)
	}
	return newDayLedger(rows, limit, exclude), nil
}

// ReasonCodeOrOK is ReasonCode with "OK" for a nil error.
func ReasonCodeOrOK(err error) string {
	if err == nil {
		return "OK"
	}
	return ReasonCode(err)
}
