package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// dayLedger is the committed-bookings view of one service on one day. It is
// rebuilt from rows on every read; there is no stored counter to drift.
type dayLedger struct {
	reservations     []Reservation
	committedMinutes int
	limit            *CapacityLimit
}

// newDayLedger keeps only blocking reservations and skips exclude, which lets
// a reschedule ignore the reservation being moved.
func newDayLedger(rows []Reservation, limit *CapacityLimit, exclude uuid.UUID) dayLedger {
	l := dayLedger{limit: limit}
	for _, r := range rows {
		if !r.Status.Blocking() || r.ID == exclude {
			continue
		}
		l.reservations = append(l.reservations, r)
		l.committedMinutes += r.DurationMinutes()
	}
	if limit != nil && !limit.IsActive {
		l.limit = nil
	}
	return l
}

func (l dayLedger) overlaps(svc *Service, start TimeOfDay) bool {
	end := start.Add(svc.TotalMinutes())
	for i := range l.reservations {
		r := &l.reservations[i]
		if intersects(start, end, r.SlotStart, r.OccupiedUntil()) {
			return true
		}
	}
	return false
}

func (l dayLedger) exceedsCapacity(svc *Service) bool {
	if l.limit == nil {
		return false
	}
	return l.committedMinutes+svc.DurationMinutes > l.limit.DailyLimitMinutes
}

// verdict applies the availability rules to one candidate. Precedence is
// PAST, CLOSED_DAY, OVERLAP, CAPACITY_EXCEEDED.
func (l dayLedger) verdict(cal Calendar, svc *Service, date time.Time, start TimeOfDay) *UnavailableReason {
	var r UnavailableReason
	switch {
	case cal.isPast(date, start):
		r = ReasonPast
	case cal.Hours.IsClosed(date):
		r = ReasonClosedDay
	case l.overlaps(svc, start):
		r = ReasonOverlap
	case l.exceedsCapacity(svc):
		r = ReasonCapacityExceeded
	default:
		return nil
	}
	return &r
}

var reasonErrors = map[UnavailableReason]error{
	ReasonClosedDay:        ErrClosedDay,
	ReasonPast:             ErrPastDate,
	ReasonOverlap:          ErrSlotOverlap,
	ReasonCapacityExceeded: ErrCapacityExceeded,
}
