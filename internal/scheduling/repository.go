package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AdmissionKey scopes admission serialization to one service on one day.
type AdmissionKey struct {
	ServiceCode string
	Date        time.Time
}

func (k AdmissionKey) String() string {
	return fmt.Sprintf("admission:%s:%s", k.ServiceCode, k.Date.Format(DateFormat))
}

// Catalog is the read side of the service catalog.
type Catalog interface {
	GetServiceByCode(ctx context.Context, code string) (*Service, error)
	// GetCapacityLimit returns nil without error when the service has no limit row.
	GetCapacityLimit(ctx context.Context, serviceID int64) (*CapacityLimit, error)
}

// Repository contains all store interactions needed by the engine.
type Repository interface {
	Catalog

	ListActiveServices(ctx context.Context) ([]Service, error)
	UpdateServiceDuration(ctx context.Context, code string, durationMinutes int) (*Service, error)

	// For overlap and capacity checks: PENDING and CONFIRMED only.
	ListBlockingReservations(ctx context.Context, serviceCode string, date time.Time) ([]Reservation, error)
	ListReservationsByDay(ctx context.Context, serviceCode string, date time.Time) ([]Reservation, error)
	CountFutureReservations(ctx context.Context, serviceCode string, from time.Time) (int, error)
	GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error)

	CreateReservation(ctx context.Context, r *Reservation) (*Reservation, error)
	// UpdateReservationStatus applies the transition only while the row is
	// still in status from; otherwise it returns ErrReservationNotFound.
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to Status, cancelReason *string, at time.Time) (*Reservation, error)
	// UpdateReservationDetails rewrites patient and note fields of r while the
	// row is PENDING or CONFIRMED; otherwise it returns ErrReservationNotFound.
	UpdateReservationDetails(ctx context.Context, r *Reservation) (*Reservation, error)
	// MoveReservation rewrites date, slot bounds, buffer and period of r under
	// the same status guard as UpdateReservationDetails.
	MoveReservation(ctx context.Context, r *Reservation) (*Reservation, error)

	// WithAdmissionTx runs fn inside one all-or-nothing unit serialized per key.
	// fn must use the Repository it is handed.
	WithAdmissionTx(ctx context.Context, key AdmissionKey, fn func(ctx context.Context, tx Repository) error) error
}

// Locker guards critical sections per key across processes.
type Locker interface {
	WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
