// Package payroll pairs arrivals with departures and turns worked time into pay.
package payroll

import (
	"math"
	"sort"
	"time"

	"github.com/xiello/qrchek/internal/model"
)

// Stats is worked time and pay, both rounded to 2 decimals.
type Stats struct {
	Hours   float64 `json:"hours"`
	Payment float64 `json:"payment"`
}

// Shift is an arrival and the departure paired with it. Departure is nil
// while the shift is open or when no departure remains for the arrival.
type Shift struct {
	Arrival   model.Record
	Departure *model.Record
}

// Duration returns the worked time, zero for an open shift.
func (s Shift) Duration() time.Duration {
	if s.Departure == nil {
		return 0
	}
	return s.Departure.Timestamp.Sub(s.Arrival.Timestamp)
}

// Round2 rounds half away from zero to 2 decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Pair walks records (ascending by timestamp) and pairs each arrival with the
// first later departure not already taken by an earlier arrival. Arrivals
// without such a departure produce an open shift; orphan departures are
// skipped.
//
// The forward search tolerates same-type runs left behind by manual edits.
// [a09, a10, d17] yields a09-d17 and an open a10.
func Pair(records []model.Record) []Shift {
	used := make([]bool, len(records))
	var shifts []Shift
	for i, rec := range records {
		if rec.Type != model.Arrival {
			continue
		}
		shift := Shift{Arrival: rec}
		for j := i + 1; j < len(records); j++ {
			if used[j] || records[j].Type != model.Departure {
				continue
			}
			used[j] = true
			dep := records[j]
			shift.Departure = &dep
			break
		}
		shifts = append(shifts, shift)
	}
	return shifts
}

// ComputeStats returns hours and payment for one employee's records.
func ComputeStats(records []model.Record, rate float64) Stats {
	var minutes float64
	for _, s := range Pair(records) {
		minutes += s.Duration().Minutes()
	}
	hours := Round2(minutes / 60)
	return Stats{Hours: hours, Payment: Round2(hours * rate)}
}

// ComputeByEmployee buckets records by employee and computes stats for each.
// Employees missing from rates are paid model.DefaultHourlyRate.
func ComputeByEmployee(records []model.Record, rates map[string]float64) map[string]Stats {
	buckets := GroupByEmployee(records)
	out := make(map[string]Stats, len(buckets))
	for id, recs := range buckets {
		rate, ok := rates[id]
		if !ok || rate < 0 {
			rate = model.DefaultHourlyRate
		}
		out[id] = ComputeStats(recs, rate)
	}
	return out
}

// GroupByEmployee splits records per employee, each bucket sorted ascending.
func GroupByEmployee(records []model.Record) map[string][]model.Record {
	buckets := make(map[string][]model.Record)
	for _, r := range records {
		buckets[r.EmployeeID] = append(buckets[r.EmployeeID], r)
	}
	for _, recs := range buckets {
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		})
	}
	return buckets
}

// Sum adds per-employee stats into a total.
func Sum(stats map[string]Stats) Stats {
	var total Stats
	for _, s := range stats {
		total.Hours += s.Hours
		total.Payment += s.Payment
	}
	return Stats{Hours: Round2(total.Hours), Payment: Round2(total.Payment)}
}
