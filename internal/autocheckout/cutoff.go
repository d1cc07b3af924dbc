// Package autocheckout closes open arrivals at the daily cutoff.
package autocheckout

import (
	"fmt"
	"time"
)

// Cutoff is a daily wall-clock instant in a location.
type Cutoff struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// ParseCutoff parses "HH:MM".
func ParseCutoff(s string, loc *time.Location) (Cutoff, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Cutoff{}, fmt.Errorf("invalid cutoff %q: %w", s, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Cutoff{Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}

func (c Cutoff) String() string {
	return fmt.Sprintf("%02d:%02d %s", c.Hour, c.Minute, c.loc())
}

func (c Cutoff) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Cutoff) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, c.loc())
}

// Latest returns the most recent cutoff at or before now.
func (c Cutoff) Latest(now time.Time) time.Time {
	local := now.In(c.loc())
	at := c.on(local)
	if at.After(now) {
		at = c.on(local.AddDate(0, 0, -1))
	}
	return at
}

// Next returns the first cutoff strictly after now.
func (c Cutoff) Next(now time.Time) time.Time {
	local := now.In(c.loc())
	at := c.on(local)
	if !at.After(now) {
		at = c.on(local.AddDate(0, 0, 1))
	}
	return at
}
