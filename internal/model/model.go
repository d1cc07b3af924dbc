package model

import (
	"fmt"
	"time"
)

// DefaultHourlyRate is applied to employees without an explicit rate.
const DefaultHourlyRate = 5.00

// Type is the direction of an attendance record.
type Type string

const (
	Arrival   Type = "arrival"
	Departure Type = "departure"
)

// ParseType validates a record type coming from a client.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Arrival, Departure:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown record type %q", s)
}

// Employee represents a registered employee.
type Employee struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	HourlyRate   float64   `json:"hourlyRate" db:"hourly_rate"`
	IsAdmin      bool      `json:"isAdmin" db:"is_admin"`
	Verified     bool      `json:"emailVerified" db:"email_verified"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Rate returns the hourly rate, falling back to DefaultHourlyRate when unset.
func (e Employee) Rate() float64 {
	if e.HourlyRate <= 0 {
		return DefaultHourlyRate
	}
	return e.HourlyRate
}

// EmployeeUpdate carries the admin-editable employee fields; nil means unchanged.
type EmployeeUpdate struct {
	HourlyRate *float64
	IsAdmin    *bool
	Verified   *bool
}

// Record is a single attendance event.
type Record struct {
	ID            string    `json:"id" db:"id"`
	EmployeeID    string    `json:"employeeId" db:"employee_id"`
	EmployeeName  string    `json:"employeeName" db:"employee_name"`
	Type          Type      `json:"type" db:"type"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	AutoGenerated bool      `json:"autoGenerated" db:"auto_generated"`
	Confirmed     bool      `json:"confirmed" db:"confirmed"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// PendingConfirmation reports whether the record is a synthetic departure the
// employee has not confirmed yet.
func (r Record) PendingConfirmation() bool {
	return r.AutoGenerated && !r.Confirmed
}

// OpenArrival describes an employee currently clocked in.
type OpenArrival struct {
	EmployeeID  string    `json:"id" db:"employee_id"`
	Name        string    `json:"name" db:"name"`
	Email       string    `json:"email" db:"email"`
	HourlyRate  float64   `json:"hourlyRate" db:"hourly_rate"`
	LastArrival time.Time `json:"lastArrival" db:"last_arrival"`
}

// Counts is a coarse snapshot of the store used by health checks.
type Counts struct {
	Employees  int        `json:"employeeCount"`
	Records    int        `json:"attendanceCount"`
	LastRecord *time.Time `json:"lastAttendance,omitempty"`
}
