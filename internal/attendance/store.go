package attendance

import (
	"context"
	"time"

	"github.com/xiello/qrchek/internal/model"
)

// RecordStore is the attendance record side of the store. Implementations
// return records ordered by timestamp as documented per method.
type RecordStore interface {
	// LastRecord returns the employee's most recent record, or nil.
	LastRecord(ctx context.Context, employeeID string) (*model.Record, error)
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	// RecordsInRange returns records in [from, to) ascending. An empty
	// employeeID selects all employees; zero bounds are open.
	RecordsInRange(ctx context.Context, employeeID string, from, to time.Time) ([]model.Record, error)
	// RecordsByEmployee returns the employee's history, newest first.
	RecordsByEmployee(ctx context.Context, employeeID string) ([]model.Record, error)
	RecentRecords(ctx context.Context, limit int) ([]model.Record, error)
	InsertRecord(ctx context.Context, employeeID string, typ model.Type, at time.Time, autoGenerated, confirmed bool) (model.Record, error)
	UpdateRecordType(ctx context.Context, id string, typ model.Type) (*model.Record, error)
	UpdateRecordConfirmed(ctx context.Context, id string, confirmed bool) (*model.Record, error)
	DeleteRecord(ctx context.Context, id string) (bool, error)
	// EmployeesWithOpenArrival lists employees whose latest record is an
	// arrival timestamped strictly before asOf.
	EmployeesWithOpenArrival(ctx context.Context, asOf time.Time) ([]model.OpenArrival, error)
	PendingConfirmations(ctx context.Context) ([]model.Record, error)
	// PendingDeparture returns the employee's latest unconfirmed synthetic record, or nil.
	PendingDeparture(ctx context.Context, employeeID string) (*model.Record, error)
}

// EmployeeStore manages employee profiles.
type EmployeeStore interface {
	CreateEmployee(ctx context.Context, e model.Employee) (model.Employee, error)
	GetEmployee(ctx context.Context, id string) (*model.Employee, error)
	GetEmployeeByEmail(ctx context.Context, email string) (*model.Employee, error)
	ListEmployees(ctx context.Context) ([]model.Employee, error)
	UpdateEmployee(ctx context.Context, id string, u model.EmployeeUpdate) (*model.Employee, error)
	UpdatePassword(ctx context.Context, id, hash string) error
}

// Store is the single source of truth for employees and attendance.
type Store interface {
	RecordStore
	EmployeeStore

	// WithEmployeeLock runs fn with exclusive access to one employee's
	// read-decide-write sequence. Writes made through rs commit together.
	WithEmployeeLock(ctx context.Context, employeeID string, fn func(ctx context.Context, rs RecordStore) error) error
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (model.Counts, error)
}
