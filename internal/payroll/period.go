package payroll

import (
	"fmt"
	"time"
)

// Period names a reporting window.
type Period string

const (
	Today Period = "today"
	Week  Period = "week"
	Month Period = "month"
	All   Period = "all"
)

// Window is a half-open interval [From, To). Zero bounds are open.
type Window struct {
	From time.Time
	To   time.Time
}

// Periods returns the dashboard windows relative to now: today from local
// midnight, week and month as the trailing 7 and 30 days from that midnight.
func Periods(now time.Time, loc *time.Location) map[Period]Window {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return map[Period]Window{
		Today: {From: midnight},
		Week:  {From: midnight.AddDate(0, 0, -7)},
		Month: {From: midnight.AddDate(0, 0, -30)},
		All:   {},
	}
}

// ParsePeriod validates a period name; empty means month.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "":
		return Month, nil
	case Today, Week, Month, All:
		return Period(s), nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}
