// Package calendar maps dates onto event weeks and resolves the effective
// tracked window for a project, including manual time overrides.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for all date strings handled by the calendar.
const DateLayout = "2006-01-02"

// Calendar performs week arithmetic relative to a fixed event start date.
// All methods are pure; the zero value is an unconfigured calendar.
type Calendar struct {
	start      time.Time
	configured bool
}

// New parses the event start date. An empty start date yields an
// unconfigured calendar whose range lookups report ok=false.
func New(startDate string) (*Calendar, error) {
	if startDate == "" {
		return &Calendar{}, nil
	}
	start, err := time.ParseInLocation(DateLayout, startDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("calendar: invalid event start date %q: %w", startDate, err)
	}
	return &Calendar{start: start, configured: true}, nil
}

// Configured reports whether an event start date is set.
func (c *Calendar) Configured() bool { return c != nil && c.configured }

// WeekNumber returns the event week containing d. Dates before the event
// start yield week numbers of zero or below; this never fails.
func (c *Calendar) WeekNumber(d time.Time) int {
	if !c.Configured() {
		return 0
	}
	days := daysBetween(c.start, d)
	return floorDiv(days, 7) + 1
}

// WeekRange returns the inclusive [start, end] date strings for a week
// number. ok is false when no event start date is configured.
func (c *Calendar) WeekRange(week int) (start, end string, ok bool) {
	if !c.Configured() {
		return "", "", false
	}
	weekStart := c.start.AddDate(0, 0, (week-1)*7)
	weekEnd := weekStart.AddDate(0, 0, 6)
	return weekStart.Format(DateLayout), weekEnd.Format(DateLayout), true
}

// EffectiveRange resolves the tracked window for a project created at
// createdAt. With no override the window is the calendar week. An override
// of up to 7 days shrinks the window, anchored at the week start; a larger
// override extends the window backward past the week start while keeping
// the normal week end. Non-positive overrides are rejected at the data
// layer and treated here as absent.
func (c *Calendar) EffectiveRange(createdAt time.Time, overrideDays *int) (start, end string, ok bool) {
	weekStart, weekEnd, ok := c.WeekRange(c.WeekNumber(createdAt))
	if !ok {
		return "", "", false
	}
	if overrideDays == nil || *overrideDays <= 0 {
		return weekStart, weekEnd, true
	}
	days := *overrideDays
	startDate, _ := time.ParseInLocation(DateLayout, weekStart, time.UTC)
	if days <= 7 {
		return weekStart, startDate.AddDate(0, 0, days-1).Format(DateLayout), true
	}
	extra := days - 7
	return startDate.AddDate(0, 0, -extra).Format(DateLayout), weekEnd, true
}

// WeekBounds returns the week's range as UTC day boundaries, with the end
// exclusive, for created_at queries against timestamp columns.
func (c *Calendar) WeekBounds(week int) (from, to time.Time, ok bool) {
	startStr, endStr, ok := c.WeekRange(week)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	from, _ = time.ParseInLocation(DateLayout, startStr, time.UTC)
	endDay, _ := time.ParseInLocation(DateLayout, endStr, time.UTC)
	return from, endDay.AddDate(0, 0, 1), true
}

func daysBetween(start, d time.Time) int {
	sy, sm, sd := start.Date()
	dy, dm, dd := d.Date()
	a := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	b := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}

// floorDiv divides rounding toward negative infinity, so dates before the
// event start land in week zero and below rather than clustering at one.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
