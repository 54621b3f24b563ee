package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type CapacityChange string

const (
	CapacityIncrease  CapacityChange = "INCREASE"
	CapacityDecrease  CapacityChange = "DECREASE"
	CapacityUnchanged CapacityChange = "UNCHANGED"
	// CapacityUnlimited means the service has no active daily limit.
	CapacityUnlimited CapacityChange = "UNLIMITED"
)

const (
	WarningMaxBookingsChanged = "MAX_BOOKINGS_CHANGED"
	WarningFutureReservations = "FUTURE_RESERVATIONS_EXIST"
	WarningLimitBelowDuration = "LIMIT_BELOW_DURATION"
)

type CascadeWarning struct {
	Code    string
	Message string
}

// CascadeEffect is the advisory outcome of a duration edit. Warnings is
// empty, not nil, when there is no effect.
type CascadeEffect struct {
	ServiceCode             string
	OldDurationMinutes      int
	NewDurationMinutes      int
	DailyLimitMinutes       *int
	MaxBookingsBefore       *int
	MaxBookingsAfter        *int
	Change                  CapacityChange
	FutureReservationsCount int
	Warnings                []CascadeWarning
}

type CascadeCalculator struct {
	repo    Repository
	cal     Calendar
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewCascadeCalculator(repo Repository, cal Calendar, m *metrics.Metrics, log zerolog.Logger) *CascadeCalculator {
	return &CascadeCalculator{
		repo:    repo,
		cal:     cal,
		metrics: m,
		log:     log.With().Str("component", "cascade").Logger(),
	}
}

func validDuration(minutes int) bool {
	return minutes >= MinDurationMinutes && minutes <= MaxDurationMinutes
}

// Calculate reports how a duration edit from oldMinutes to newMinutes changes
// the daily booking ceiling. Existing reservations are never touched.
func (c *CascadeCalculator) Calculate(ctx context.Context, serviceCode string, oldMinutes, newMinutes int) (*CascadeEffect, error) {
	if !validDuration(oldMinutes) || !validDuration(newMinutes) {
		return nil, ErrInvalidDuration
	}

	svc, err := c.repo.GetServiceByCode(ctx, serviceCode)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load service: %w", err)
	}

	limit, err := c.repo.GetCapacityLimit(ctx, svc.ID)
	if err != nil {
		return nil, fmt.Errorf("load capacity limit: %w", err)
	}

	effect := &CascadeEffect{
		ServiceCode:        svc.Code,
		OldDurationMinutes: oldMinutes,
		NewDurationMinutes: newMinutes,
		Change:             CapacityUnlimited,
		Warnings:           []CascadeWarning{},
	}

	if limit != nil && limit.IsActive {
		daily := limit.DailyLimitMinutes
		before := daily / oldMinutes
		after := daily / newMinutes
		effect.DailyLimitMinutes = &daily
		effect.MaxBookingsBefore = &before
		effect.MaxBookingsAfter = &after

		switch {
		case after < before:
			effect.Change = CapacityDecrease
		case after > before:
			effect.Change = CapacityIncrease
		default:
			effect.Change = CapacityUnchanged
		}

		if before != after {
			effect.Warnings = append(effect.Warnings, CascadeWarning{
				Code:    WarningMaxBookingsChanged,
				Message: fmt.Sprintf("max bookings per day changes from %d to %d", before, after),
			})
		}
		if after == 0 {
			effect.Warnings = append(effect.Warnings, CascadeWarning{
				Code:    WarningLimitBelowDuration,
				Message: fmt.Sprintf("daily limit of %d minutes is shorter than one %d minute appointment", daily, newMinutes),
			})
		}
	}

	today, _ := c.cal.Today()
	count, err := c.repo.CountFutureReservations(ctx, svc.Code, today)
	if err != nil {
		return nil, fmt.Errorf("count future reservations: %w", err)
	}
	effect.FutureReservationsCount = count
	if count > 0 {
		effect.Warnings = append(effect.Warnings, CascadeWarning{
			Code:    WarningFutureReservations,
			Message: fmt.Sprintf("%d upcoming reservations keep their current duration", count),
		})
	}

	c.metrics.IncCascade(string(effect.Change))
	return effect, nil
}

// Preview computes the effect of changing the service's current duration to
// newMinutes.
func (c *CascadeCalculator) Preview(ctx context.Context, serviceCode string, newMinutes int) (*CascadeEffect, error) {
	svc, err := c.repo.GetServiceByCode(ctx, serviceCode)
	if err != nil {
		return nil, err
	}
	return c.Calculate(ctx, serviceCode, svc.DurationMinutes, newMinutes)
}

// ApplyDuration persists a new duration and returns its effect computed
// against the previous value. Only future slot generation is affected.
func (c *CascadeCalculator) ApplyDuration(ctx context.Context, serviceCode string, newMinutes int, canManage bool) (*CascadeEffect, *Service, error) {
	if !canManage {
		return nil, nil, ErrForbidden
	}

	effect, err := c.Preview(ctx, serviceCode, newMinutes)
	if err != nil {
		return nil, nil, err
	}

	svc, err := c.repo.UpdateServiceDuration(ctx, serviceCode, newMinutes)
	if err != nil {
		return nil, nil, err
	}

	c.log.Info().
		Str("service", serviceCode).
		Int("old_duration", effect.OldDurationMinutes).
		Int("new_duration", newMinutes).
		Str("change", string(effect.Change)).
		Int("future_reservations", effect.FutureReservationsCount).
		Msg("service duration updated")
	return effect, svc, nil
}
