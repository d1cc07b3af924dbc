package queue

import "time"

// TypeAutoCheckout is published for every synthetic departure.
const TypeAutoCheckout = "auto_checkout"

// AutoCheckoutEvent tells the worker an employee was checked out automatically.
type AutoCheckoutEvent struct {
	EmployeeID string    `json:"employeeId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	RecordID   string    `json:"recordId"`
	Departure  time.Time `json:"departure"`
}
