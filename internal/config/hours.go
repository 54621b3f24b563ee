package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// hoursFile is the on-disk layout of the operating-hours TOML file:
//
//	step_minutes = 30
//	closed_weekdays = ["sunday"]
//	holidays = ["2025-01-29"]
//
//	[periods.MORNING]
//	open = "09:00"
//	close = "12:00"
type hoursFile struct {
	StepMinutes    int                    `toml:"step_minutes"`
	ClosedWeekdays []string               `toml:"closed_weekdays"`
	Holidays       []string               `toml:"holidays"`
	Periods        map[string]periodEntry `toml:"periods"`
}

type periodEntry struct {
	Open  scheduling.TimeOfDay `toml:"open"`
	Close scheduling.TimeOfDay `toml:"close"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// LoadHours reads operating hours from a TOML file.
func LoadHours(path string) (scheduling.OperatingHours, error) {
	var f hoursFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return scheduling.OperatingHours{}, fmt.Errorf("decode hours file %s: %w", path, err)
	}
	return f.toOperatingHours()
}

// ParseHours reads operating hours from TOML text.
func ParseHours(data string) (scheduling.OperatingHours, error) {
	var f hoursFile
	if _, err := toml.Decode(data, &f); err != nil {
		return scheduling.OperatingHours{}, fmt.Errorf("decode hours: %w", err)
	}
	return f.toOperatingHours()
}

func (f hoursFile) toOperatingHours() (scheduling.OperatingHours, error) {
	h := scheduling.OperatingHours{
		Periods:     make(map[scheduling.Period]scheduling.Window, len(f.Periods)),
		StepMinutes: f.StepMinutes,
	}

	for name, p := range f.Periods {
		period := scheduling.Period(strings.ToUpper(name))
		h.Periods[period] = scheduling.Window{Open: p.Open, Close: p.Close}
	}

	for _, name := range f.ClosedWeekdays {
		wd, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return scheduling.OperatingHours{}, fmt.Errorf("unknown weekday %q", name)
		}
		h.ClosedWeekdays = append(h.ClosedWeekdays, wd)
	}

	for _, s := range f.Holidays {
		d, err := scheduling.ParseDate(s)
		if err != nil {
			return scheduling.OperatingHours{}, err
		}
		h.Holidays = append(h.Holidays, d)
	}

	if err := h.Validate(); err != nil {
		return scheduling.OperatingHours{}, err
	}
	return h, nil
}
