package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// Scheduler is the call surface of the scheduling core. Transport layers talk
// to it and never to the components directly.
type Scheduler struct {
	repo      Repository
	engine    *Engine
	admission *AdmissionController
	states    *StateMachine
	cascade   *CascadeCalculator
}

func NewScheduler(repo Repository, locker Locker, cal Calendar, m *metrics.Metrics, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		repo:      repo,
		engine:    NewEngine(repo, cal, m, log),
		admission: NewAdmissionController(repo, locker, cal, m, log),
		states:    NewStateMachine(repo, cal, m, log),
		cascade:   NewCascadeCalculator(repo, cal, m, log),
	}
}

func (s *Scheduler) ComputeSlots(ctx context.Context, serviceCode string, date time.Time) (*SlotsResult, error) {
	return s.engine.ComputeSlots(ctx, serviceCode, date)
}

func (s *Scheduler) Admit(ctx context.Context, req AdmissionRequest) (*Reservation, error) {
	return s.admission.Admit(ctx, req)
}

func (s *Scheduler) Reschedule(ctx context.Context, id uuid.UUID, date time.Time, start TimeOfDay) (*Reservation, error) {
	return s.admission.Reschedule(ctx, id, date, start)
}

func (s *Scheduler) Transition(ctx context.Context, id uuid.UUID, to Status, cancelReason string, canManage bool) (*Reservation, error) {
	return s.states.Transition(ctx, id, to, cancelReason, canManage)
}

func (s *Scheduler) UpdateDetails(ctx context.Context, id uuid.UUID, patch DetailsPatch, canManage bool) (*Reservation, error) {
	return s.states.UpdateDetails(ctx, id, patch, canManage)
}

func (s *Scheduler) CalculateCascade(ctx context.Context, serviceCode string, oldMinutes, newMinutes int) (*CascadeEffect, error) {
	return s.cascade.Calculate(ctx, serviceCode, oldMinutes, newMinutes)
}

func (s *Scheduler) PreviewCascade(ctx context.Context, serviceCode string, newMinutes int) (*CascadeEffect, error) {
	return s.cascade.Preview(ctx, serviceCode, newMinutes)
}

func (s *Scheduler) UpdateServiceDuration(ctx context.Context, serviceCode string, newMinutes int, canManage bool) (*CascadeEffect, *Service, error) {
	return s.cascade.ApplyDuration(ctx, serviceCode, newMinutes, canManage)
}

// GetReservation retrieves a reservation by ID.
func (s *Scheduler) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := s.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// ListReservations returns the day sheet of a service in every status.
func (s *Scheduler) ListReservations(ctx context.Context, serviceCode string, date time.Time) ([]Reservation, error) {
	rs, err := s.repo.ListReservationsByDay(ctx, serviceCode, date)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return rs, nil
}

func (s *Scheduler) ListServices(ctx context.Context) ([]Service, error) {
	svcs, err := s.repo.ListActiveServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return svcs, nil
}
