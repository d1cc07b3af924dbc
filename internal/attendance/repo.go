package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/xiello/qrchek/internal/model"
)

const (
	recordColumns   = `id, employee_id, employee_name, type, timestamp, auto_generated, confirmed, created_at`
	employeeColumns = `id, name, email, password_hash, hourly_rate::float8 AS hourly_rate, is_admin, email_verified, created_at`
)

// PostgresStore persists employees and attendance in Postgres.
type PostgresStore struct {
	db *sqlx.DB // nil when bound to a transaction
	q  sqlx.ExtContext
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// storeErr classifies driver errors into the package's error taxonomy.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case "22P02":
			// malformed uuid in a lookup
			return ErrNotFound
		}
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// WithEmployeeLock runs fn in a transaction holding a per-employee advisory lock.
func (r *PostgresStore) WithEmployeeLock(ctx context.Context, employeeID string, fn func(ctx context.Context, rs RecordStore) error) (err error) {
	if r.db == nil {
		return fn(ctx, r)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = storeErr(tx.Commit())
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, employeeID); err != nil {
		return storeErr(err)
	}
	return fn(ctx, &PostgresStore{q: tx})
}

// Ping checks connectivity.
func (r *PostgresStore) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return storeErr(r.db.PingContext(ctx))
}

// Counts returns employee and record totals.
func (r *PostgresStore) Counts(ctx context.Context) (model.Counts, error) {
	var c model.Counts
	row := r.q.QueryRowxContext(ctx, `
		SELECT (SELECT COUNT(*) FROM employees),
		       (SELECT COUNT(*) FROM attendance),
		       (SELECT MAX(timestamp) FROM attendance)
	`)
	var last sql.NullTime
	if err := row.Scan(&c.Employees, &c.Records, &last); err != nil {
		return model.Counts{}, storeErr(err)
	}
	if last.Valid {
		c.LastRecord = &last.Time
	}
	return c, nil
}

// LastRecord returns the most recent record for an employee.
func (r *PostgresStore) LastRecord(ctx context.Context, employeeID string) (*model.Record, error) {
	return r.optionalRecord(ctx, `
		SELECT `+recordColumns+`
		FROM attendance
		WHERE employee_id = $1
		ORDER BY timestamp DESC, created_at DESC
		LIMIT 1
	`, employeeID)
}

// GetRecord returns a single record by id.
func (r *PostgresStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	rec, err := r.optionalRecord(ctx, `SELECT `+recordColumns+` FROM attendance WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// RecordsInRange returns records ordered by timestamp ascending.
func (r *PostgresStore) RecordsInRange(ctx context.Context, employeeID string, from, to time.Time) ([]model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance`
	args := []any{}
	clauses := []string{}
	if employeeID != "" {
		args = append(args, employeeID)
		clauses = append(clauses, "employee_id = $"+strconv.Itoa(len(args)))
	}
	if !from.IsZero() {
		args = append(args, from)
		clauses = append(clauses, "timestamp >= $"+strconv.Itoa(len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		clauses = append(clauses, "timestamp < $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp ASC, created_at ASC"
	return r.records(ctx, query, args...)
}

// RecordsByEmployee returns the employee's records, newest first.
func (r *PostgresStore) RecordsByEmployee(ctx context.Context, employeeID string) ([]model.Record, error) {
	return r.records(ctx, `
		SELECT `+recordColumns+`
		FROM attendance
		WHERE employee_id = $1
		ORDER BY timestamp DESC, created_at DESC
	`, employeeID)
}

// RecentRecords returns the latest records across all employees.
func (r *PostgresStore) RecentRecords(ctx context.Context, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.records(ctx, `
		SELECT `+recordColumns+`
		FROM attendance
		ORDER BY timestamp DESC, created_at DESC
		LIMIT $1
	`, limit)
}

// InsertRecord writes a new record, copying the employee's name.
func (r *PostgresStore) InsertRecord(ctx context.Context, employeeID string, typ model.Type, at time.Time, autoGenerated, confirmed bool) (model.Record, error) {
	rec, err := r.optionalRecord(ctx, `
		INSERT INTO attendance (id, employee_id, employee_name, type, timestamp, auto_generated, confirmed)
		SELECT $1::uuid, e.id, e.name, $3::varchar, $4::timestamptz, $5::boolean, $6::boolean
		FROM employees e
		WHERE e.id = $2
		RETURNING `+recordColumns,
		uuid.NewString(), employeeID, string(typ), at, autoGenerated, confirmed)
	if err != nil {
		return model.Record{}, err
	}
	if rec == nil {
		return model.Record{}, ErrNotFound
	}
	return *rec, nil
}

// UpdateRecordType flips the record type.
func (r *PostgresStore) UpdateRecordType(ctx context.Context, id string, typ model.Type) (*model.Record, error) {
	return r.updateRecord(ctx, `UPDATE attendance SET type = $2 WHERE id = $1 RETURNING `+recordColumns, id, string(typ))
}

// UpdateRecordConfirmed sets the confirmed flag.
func (r *PostgresStore) UpdateRecordConfirmed(ctx context.Context, id string, confirmed bool) (*model.Record, error) {
	return r.updateRecord(ctx, `UPDATE attendance SET confirmed = $2 WHERE id = $1 RETURNING `+recordColumns, id, confirmed)
}

// DeleteRecord removes a record and reports whether it existed.
func (r *PostgresStore) DeleteRecord(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM attendance WHERE id = $1`, id)
	if err != nil {
		if errors.Is(storeErr(err), ErrNotFound) {
			return false, nil
		}
		return false, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err)
	}
	return n > 0, nil
}

// EmployeesWithOpenArrival lists employees whose latest record is an arrival before asOf.
func (r *PostgresStore) EmployeesWithOpenArrival(ctx context.Context, asOf time.Time) ([]model.OpenArrival, error) {
	var out []model.OpenArrival
	err := sqlx.SelectContext(ctx, r.q, &out, `
		SELECT e.id AS employee_id, e.name, e.email, e.hourly_rate::float8 AS hourly_rate, l.timestamp AS last_arrival
		FROM employees e
		JOIN LATERAL (
			SELECT a.type, a.timestamp
			FROM attendance a
			WHERE a.employee_id = e.id
			ORDER BY a.timestamp DESC, a.created_at DESC
			LIMIT 1
		) l ON TRUE
		WHERE l.type = 'arrival' AND l.timestamp < $1
		ORDER BY e.name
	`, asOf)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// PendingConfirmations lists synthetic records awaiting confirmation.
func (r *PostgresStore) PendingConfirmations(ctx context.Context) ([]model.Record, error) {
	return r.records(ctx, `
		SELECT `+recordColumns+`
		FROM attendance
		WHERE auto_generated AND NOT confirmed
		ORDER BY timestamp DESC
	`)
}

// PendingDeparture returns the employee's latest unconfirmed synthetic record.
func (r *PostgresStore) PendingDeparture(ctx context.Context, employeeID string) (*model.Record, error) {
	return r.optionalRecord(ctx, `
		SELECT `+recordColumns+`
		FROM attendance
		WHERE employee_id = $1 AND auto_generated AND NOT confirmed
		ORDER BY timestamp DESC
		LIMIT 1
	`, employeeID)
}

// CreateEmployee inserts a new employee. Emails are stored lower-cased.
func (r *PostgresStore) CreateEmployee(ctx context.Context, e model.Employee) (model.Employee, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	if e.HourlyRate <= 0 {
		e.HourlyRate = model.DefaultHourlyRate
	}
	row := r.q.QueryRowxContext(ctx, `
		INSERT INTO employees (id, name, email, password_hash, hourly_rate, is_admin, email_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.Name, e.Email, e.PasswordHash, e.HourlyRate, e.IsAdmin, e.Verified)
	if err := row.Scan(&e.CreatedAt); err != nil {
		return model.Employee{}, storeErr(err)
	}
	return e, nil
}

// GetEmployee returns an employee by id.
func (r *PostgresStore) GetEmployee(ctx context.Context, id string) (*model.Employee, error) {
	return r.employee(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id)
}

// GetEmployeeByEmail looks an employee up case-insensitively.
func (r *PostgresStore) GetEmployeeByEmail(ctx context.Context, email string) (*model.Employee, error) {
	return r.employee(ctx, `SELECT `+employeeColumns+` FROM employees WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
}

// ListEmployees returns all employees in registration order.
func (r *PostgresStore) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	var out []model.Employee
	if err := sqlx.SelectContext(ctx, r.q, &out, `SELECT `+employeeColumns+` FROM employees ORDER BY created_at, email`); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// UpdateEmployee applies the non-nil fields of u.
func (r *PostgresStore) UpdateEmployee(ctx context.Context, id string, u model.EmployeeUpdate) (*model.Employee, error) {
	sets := []string{}
	args := []any{id}
	if u.HourlyRate != nil {
		args = append(args, *u.HourlyRate)
		sets = append(sets, "hourly_rate = $"+strconv.Itoa(len(args)))
	}
	if u.IsAdmin != nil {
		args = append(args, *u.IsAdmin)
		sets = append(sets, "is_admin = $"+strconv.Itoa(len(args)))
	}
	if u.Verified != nil {
		args = append(args, *u.Verified)
		sets = append(sets, "email_verified = $"+strconv.Itoa(len(args)))
	}
	if len(sets) == 0 {
		return r.GetEmployee(ctx, id)
	}
	return r.employee(ctx, `UPDATE employees SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+employeeColumns, args...)
}

// UpdatePassword replaces the stored password hash.
func (r *PostgresStore) UpdatePassword(ctx context.Context, id, hash string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE employees SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) optionalRecord(ctx context.Context, query string, args ...any) (*model.Record, error) {
	var rec model.Record
	if err := sqlx.GetContext(ctx, r.q, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		err = storeErr(err)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *PostgresStore) updateRecord(ctx context.Context, query string, args ...any) (*model.Record, error) {
	rec, err := r.optionalRecord(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *PostgresStore) records(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	var out []model.Record
	if err := sqlx.SelectContext(ctx, r.q, &out, query, args...); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (r *PostgresStore) employee(ctx context.Context, query string, args ...any) (*model.Employee, error) {
	var e model.Employee
	if err := sqlx.GetContext(ctx, r.q, &e, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	return &e, nil
}
