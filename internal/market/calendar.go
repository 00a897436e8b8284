package market

import (
	"fmt"
	"time"
)

// Calendar decides whether the exchange is trading at a given instant.
// Open and close are wall-clock times in the exchange's own timezone;
// weekends are always closed.
type Calendar struct {
	loc       *time.Location
	openHour  int
	openMin   int
	closeHour int
	closeMin  int
}

// NewCalendar builds a calendar for the named timezone with "HH:MM" open and
// close times (e.g. "09:15", "15:30").
func NewCalendar(timezone, open, close string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	oh, om, err := parseClock(open)
	if err != nil {
		return nil, fmt.Errorf("open time: %w", err)
	}
	ch, cm, err := parseClock(close)
	if err != nil {
		return nil, fmt.Errorf("close time: %w", err)
	}
	return &Calendar{loc: loc, openHour: oh, openMin: om, closeHour: ch, closeMin: cm}, nil
}

func parseClock(s string) (hour, min int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &min); err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("clock time %q out of range", s)
	}
	return hour, min, nil
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsOpen reports whether t falls within trading hours on a weekday.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	wd := local.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	openAt := time.Date(local.Year(), local.Month(), local.Day(), c.openHour, c.openMin, 0, 0, c.loc)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), c.closeHour, c.closeMin, 0, 0, c.loc)
	return !local.Before(openAt) && !local.After(closeAt)
}

// NextOpen returns the next market-open instant strictly relevant to t: today's
// open if t precedes it on a weekday, otherwise the open of the next weekday.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), c.openHour, c.openMin, 0, 0, c.loc)
	if !local.Before(day) {
		day = day.AddDate(0, 0, 1)
	}
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	return day
}
