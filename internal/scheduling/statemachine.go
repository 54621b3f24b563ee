package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition checks from -> to against the lifecycle table.
func CanTransition(from, to Status) error {
	if from.IsTerminal() {
		return ErrTerminalState
	}
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// requiresManage reports whether moving to status is reserved for the clinic.
// Cancellation is open to the patient as well.
func requiresManage(to Status) bool {
	return to != StatusCancelled
}

// DetailsPatch holds the editable reservation fields. Nil means unchanged.
type DetailsPatch struct {
	PatientName  *string
	PatientPhone *string
	PatientEmail *string
	Notes        *string
	AdminNotes   *string
	// ServiceCode is never editable; setting it always fails.
	ServiceCode *string
}

type StateMachine struct {
	repo    Repository
	cal     Calendar
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewStateMachine(repo Repository, cal Calendar, m *metrics.Metrics, log zerolog.Logger) *StateMachine {
	return &StateMachine{
		repo:    repo,
		cal:     cal,
		metrics: m,
		log:     log.With().Str("component", "state_machine").Logger(),
	}
}

// Transition moves a reservation to status to. The write is conditional on the
// status read, so a concurrent transition cannot be overwritten.
func (m *StateMachine) Transition(ctx context.Context, id uuid.UUID, to Status, cancelReason string, canManage bool) (*Reservation, error) {
	r, err := m.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := r.Status
	updated, err := m.transition(ctx, r, to, cancelReason, canManage)
	m.metrics.IncTransition(string(from), string(to), ReasonCodeOrOK(err))
	if err != nil {
		m.log.Warn().Err(err).
			Str("reservation_id", id.String()).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("transition rejected")
		return nil, err
	}

	m.log.Info().
		Str("reservation_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("reservation status changed")
	return updated, nil
}

func (m *StateMachine) transition(ctx context.Context, r *Reservation, to Status, cancelReason string, canManage bool) (*Reservation, error) {
	if !to.Valid() {
		return nil, ErrInvalidTransition
	}
	if err := CanTransition(r.Status, to); err != nil {
		return nil, err
	}
	if requiresManage(to) && !canManage {
		return nil, ErrForbidden
	}

	var reason *string
	if to == StatusCancelled {
		trimmed := strings.TrimSpace(cancelReason)
		if trimmed == "" {
			return nil, ErrCancelReasonRequired
		}
		reason = &trimmed
	}

	updated, err := m.repo.UpdateReservationStatus(ctx, r.ID, r.Status, to, reason, m.cal.now())
	if errors.Is(err, ErrReservationNotFound) {
		// The row moved on between read and write; report against its new state.
		latest, getErr := m.repo.GetReservationByID(ctx, r.ID)
		if getErr != nil {
			return nil, getErr
		}
		if err := CanTransition(latest.Status, to); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("update reservation status: %w", err)
	}
	return updated, nil
}

// UpdateDetails edits patient and note fields of a PENDING or CONFIRMED
// reservation.
func (m *StateMachine) UpdateDetails(ctx context.Context, id uuid.UUID, patch DetailsPatch, canManage bool) (*Reservation, error) {
	r, err := m.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Status.Blocking() || patch.ServiceCode != nil {
		return nil, ErrImmutableField
	}
	if patch.AdminNotes != nil && !canManage {
		return nil, ErrForbidden
	}

	edited := *r
	if patch.PatientName != nil {
		edited.Patient.Name = strings.TrimSpace(*patch.PatientName)
	}
	if patch.PatientPhone != nil {
		edited.Patient.Phone = strings.TrimSpace(*patch.PatientPhone)
	}
	if patch.PatientEmail != nil {
		edited.Patient.Email = patch.PatientEmail
	}
	if patch.Notes != nil {
		edited.Notes = patch.Notes
	}
	if patch.AdminNotes != nil {
		edited.AdminNotes = patch.AdminNotes
	}
	if edited.Patient.Name == "" || edited.Patient.Phone == "" {
		return nil, ErrInvalidPatient
	}
	edited.UpdatedAt = m.cal.now()

	updated, err := m.repo.UpdateReservationDetails(ctx, &edited)
	if errors.Is(err, ErrReservationNotFound) {
		return nil, ErrImmutableField
	}
	if err != nil {
		return nil, fmt.Errorf("update reservation details: %w", err)
	}

	m.log.Info().Str("reservation_id", id.String()).Msg("reservation details updated")
	return updated, nil
}
