package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

// IsTerminal reports whether no further transition or edit is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Blocking reports whether a reservation in this status holds its overlap
// window and counts against daily capacity.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type Period string

const (
	PeriodMorning   Period = "MORNING"
	PeriodAfternoon Period = "AFTERNOON"
	PeriodEvening   Period = "EVENING"
)

// Periods in chronological order.
var Periods = []Period{PeriodMorning, PeriodAfternoon, PeriodEvening}

type UnavailableReason string

const (
	ReasonOverlap          UnavailableReason = "OVERLAP"
	ReasonCapacityExceeded UnavailableReason = "CAPACITY_EXCEEDED"
	ReasonPast             UnavailableReason = "PAST"
	ReasonClosedDay        UnavailableReason = "CLOSED_DAY"
)

const (
	MinDurationMinutes   = 10
	MaxDurationMinutes   = 480
	MinBufferMinutes     = 0
	MaxBufferMinutes     = 60
	DefaultBufferMinutes = 10
)

const DateFormat = "2006-01-02"

type Service struct {
	ID              int64
	Code            string
	Name            string
	DurationMinutes int
	BufferMinutes   int
	IsActive        bool
	DisplayOrder    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s *Service) TotalMinutes() int {
	return s.DurationMinutes + s.BufferMinutes
}

// CapacityLimit caps the committed appointment minutes of a service per day.
type CapacityLimit struct {
	ServiceID         int64
	DailyLimitMinutes int
	IsActive          bool
}

type PatientInfo struct {
	Name  string
	Phone string
	Email *string
}

type Reservation struct {
	ID          uuid.UUID
	ServiceCode string
	Date        time.Time
	SlotStart   TimeOfDay
	SlotEnd     TimeOfDay
	// BufferMinutes is the service buffer at admission time. It extends the
	// occupied window past SlotEnd but is never billed against capacity.
	BufferMinutes   int
	Period          Period
	Status          Status
	Patient         PatientInfo
	Notes           *string
	AdminNotes      *string
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusChangedAt *time.Time
}

func (r *Reservation) DurationMinutes() int {
	return int(r.SlotEnd - r.SlotStart)
}

// OccupiedUntil is the exclusive end of the window this reservation blocks.
func (r *Reservation) OccupiedUntil() TimeOfDay {
	return r.SlotEnd.Add(r.BufferMinutes)
}

type Slot struct {
	Date              time.Time
	ServiceCode       string
	Period            Period
	Start             TimeOfDay
	End               TimeOfDay
	Available         bool
	UnavailableReason *UnavailableReason
}

type SlotsMetadata struct {
	ServiceName       string
	DurationMinutes   int
	TotalMinutes      int
	DailyLimitMinutes *int
	CommittedMinutes  int
}

type SlotsResult struct {
	Slots    []Slot
	Metadata SlotsMetadata
}

// ByPeriod groups the already ordered slots by period.
func (r *SlotsResult) ByPeriod() map[Period][]Slot {
	grouped := make(map[Period][]Slot, len(Periods))
	for _, s := range r.Slots {
		grouped[s.Period] = append(grouped[s.Period], s)
	}
	return grouped
}
