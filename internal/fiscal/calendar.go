// Package fiscal computes the institution's fiscal-year windows.
package fiscal

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Calendar describes a fiscal year that starts on day 1 of StartMonth.
type Calendar struct {
	StartMonth time.Month
	FloorYear  int
	Location   *time.Location
}

// Window is an inclusive fiscal-year range.
type Window struct {
	StartYear int
	Start     time.Time
	End       time.Time
}

// Contains reports whether t falls inside the window, both ends included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (c Calendar) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

func (c Calendar) startMonth() time.Month {
	if c.StartMonth < time.January || c.StartMonth > time.December {
		return time.November
	}
	return c.StartMonth
}

// DefaultStartYear returns the year in which the fiscal year containing now began.
func (c Calendar) DefaultStartYear(now time.Time) int {
	now = now.In(c.location())
	if now.Month() < c.startMonth() {
		return now.Year() - 1
	}
	return now.Year()
}

// Window returns the fiscal year that starts in startYear.
func (c Calendar) Window(startYear int) Window {
	loc := c.location()
	start := time.Date(startYear, c.startMonth(), 1, 0, 0, 0, 0, loc)
	next := time.Date(startYear+1, c.startMonth(), 1, 0, 0, 0, 0, loc)
	return Window{StartYear: startYear, Start: start, End: next.Add(-time.Millisecond)}
}

// InPeriod reports whether the calendar date in raw falls inside the fiscal
// year starting in startYear. Malformed dates are never in period.
func (c Calendar) InPeriod(startYear int, raw string) bool {
	date, ok := c.ParseDate(raw)
	if !ok {
		return false
	}
	return c.Window(startYear).Contains(date)
}

// ParseDate reads a YYYY-MM-DD date, or the date part of a timestamp, at
// local midnight.
func (c Calendar) ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) > len(dateLayout) && raw[len(dateLayout)] == 'T' {
		raw = raw[:len(dateLayout)]
	}
	if len(raw) != len(dateLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout, raw, c.location())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Choices lists selectable start years from FloorYear through now+2, most
// recent first.
func (c Calendar) Choices(now time.Time) []int {
	last := now.In(c.location()).Year() + 2
	first := c.FloorYear
	if first <= 0 || first > last {
		first = last
	}
	years := make([]int, 0, last-first+1)
	for y := last; y >= first; y-- {
		years = append(years, y)
	}
	return years
}
