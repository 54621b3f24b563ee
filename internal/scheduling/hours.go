package scheduling

import (
	"errors"
	"fmt"
	"time"
)

// Window is the opening interval [Open, Close) of one period.
type Window struct {
	Open  TimeOfDay
	Close TimeOfDay
}

// OperatingHours is the clinic opening configuration the engine generates
// candidate slots from.
type OperatingHours struct {
	Periods        map[Period]Window
	ClosedWeekdays []time.Weekday
	Holidays       []time.Time
	// StepMinutes is the candidate granularity. Zero steps by the service's
	// total minutes (duration plus buffer).
	StepMinutes int
}

func DefaultOperatingHours() OperatingHours {
	return OperatingHours{
		Periods: map[Period]Window{
			PeriodMorning:   {Open: NewTimeOfDay(9, 0), Close: NewTimeOfDay(12, 0)},
			PeriodAfternoon: {Open: NewTimeOfDay(13, 0), Close: NewTimeOfDay(18, 0)},
			PeriodEvening:   {Open: NewTimeOfDay(18, 0), Close: NewTimeOfDay(20, 0)},
		},
		ClosedWeekdays: []time.Weekday{time.Sunday},
	}
}

func (h OperatingHours) Validate() error {
	if len(h.Periods) == 0 {
		return errors.New("operating hours: no periods configured")
	}
	if h.StepMinutes < 0 {
		return fmt.Errorf("operating hours: negative step %d", h.StepMinutes)
	}

	var prevClose TimeOfDay
	for _, p := range Periods {
		w, ok := h.Periods[p]
		if !ok {
			continue
		}
		if !w.Open.Valid() || !w.Close.Valid() || w.Open >= w.Close {
			return fmt.Errorf("operating hours: invalid window for %s: %s-%s", p, w.Open, w.Close)
		}
		if w.Open < prevClose {
			return fmt.Errorf("operating hours: %s opens before the previous period closes", p)
		}
		prevClose = w.Close
	}
	for p := range h.Periods {
		if p != PeriodMorning && p != PeriodAfternoon && p != PeriodEvening {
			return fmt.Errorf("operating hours: unknown period %q", p)
		}
	}
	return nil
}

// IsClosed reports whether the clinic takes no bookings on date.
func (h OperatingHours) IsClosed(date time.Time) bool {
	for _, wd := range h.ClosedWeekdays {
		if date.Weekday() == wd {
			return true
		}
	}
	for _, hol := range h.Holidays {
		if hol.Equal(date) {
			return true
		}
	}
	return false
}

// PeriodOf returns the configured period containing t, falling back to
// noon/18:00 thresholds when t lies outside every window.
func (h OperatingHours) PeriodOf(t TimeOfDay) Period {
	for _, p := range Periods {
		if w, ok := h.Periods[p]; ok && t >= w.Open && t < w.Close {
			return p
		}
	}
	switch {
	case t < NewTimeOfDay(12, 0):
		return PeriodMorning
	case t < NewTimeOfDay(18, 0):
		return PeriodAfternoon
	default:
		return PeriodEvening
	}
}

func (h OperatingHours) step(svc *Service) int {
	if h.StepMinutes > 0 {
		return h.StepMinutes
	}
	return svc.TotalMinutes()
}

type candidate struct {
	period Period
	start  TimeOfDay
	end    TimeOfDay
}

// candidates lists every start time for svc in chronological order. A
// candidate is dropped when its appointment would run past the period close;
// the trailing buffer may spill over.
func (h OperatingHours) candidates(svc *Service) []candidate {
	step := h.step(svc)
	if step <= 0 {
		return nil
	}

	var out []candidate
	for _, p := range Periods {
		w, ok := h.Periods[p]
		if !ok {
			continue
		}
		for start := w.Open; start.Add(svc.DurationMinutes) <= w.Close; start = start.Add(step) {
			out = append(out, candidate{period: p, start: start, end: start.Add(svc.DurationMinutes)})
		}
	}
	return out
}

func (h OperatingHours) candidateAt(svc *Service, start TimeOfDay) (candidate, bool) {
	for _, c := range h.candidates(svc) {
		if c.start == start {
			return c, true
		}
	}
	return candidate{}, false
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the system clock.
func RealClock() Clock { return realClock{} }

// Calendar binds the operating hours to the clinic's time zone and clock.
type Calendar struct {
	Hours    OperatingHours
	Location *time.Location
	Clock    Clock
}

func (c Calendar) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Calendar) now() time.Time {
	if c.Clock == nil {
		return time.Now().In(c.location())
	}
	return c.Clock.Now().In(c.location())
}

// Today returns the clinic's current calendar date and wall-clock time.
func (c Calendar) Today() (time.Time, TimeOfDay) {
	now := c.now()
	return DateOf(now, c.location()), TimeOfDayOf(now)
}

// isPast reports whether a slot starting at start on date has already begun.
func (c Calendar) isPast(date time.Time, start TimeOfDay) bool {
	today, nowTOD := c.Today()
	if date.Before(today) {
		return true
	}
	return date.Equal(today) && start <= nowTOD
}
