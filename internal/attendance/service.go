package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xiello/qrchek/internal/auth"
	"github.com/xiello/qrchek/internal/cooldown"
	"github.com/xiello/qrchek/internal/metrics"
	"github.com/xiello/qrchek/internal/model"
	"github.com/xiello/qrchek/internal/payroll"
)

// Options configures a Service. Only Store is required.
type Options struct {
	Store    Store
	Governor cooldown.Governor
	Clock    clockwork.Clock
	// ValidQRCodes lists accepted QR payloads; empty accepts any non-empty code.
	ValidQRCodes []string
	Location     *time.Location
	// DefaultRate is assigned to self-registered employees.
	DefaultRate float64
	Logger      *zap.SugaredLogger
	Metrics     *metrics.Metrics
}

// Service coordinates scans, confirmations and reporting over the store.
type Service struct {
	store    Store
	governor cooldown.Governor
	clock    clockwork.Clock
	validQR  map[string]struct{}
	loc      *time.Location
	rate     float64
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// NewService creates a service backed by opts.Store.
func NewService(opts Options) *Service {
	s := &Service{
		store:    opts.Store,
		governor: opts.Governor,
		clock:    opts.Clock,
		validQR:  make(map[string]struct{}, len(opts.ValidQRCodes)),
		loc:      opts.Location,
		rate:     opts.DefaultRate,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
	if s.governor == nil {
		s.governor = cooldown.NewMemory(cooldown.DefaultWindow)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.rate <= 0 {
		s.rate = model.DefaultHourlyRate
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	for _, code := range opts.ValidQRCodes {
		if code = strings.TrimSpace(code); code != "" {
			s.validQR[code] = struct{}{}
		}
	}
	return s
}

// Store exposes the underlying store to collaborators such as the sweep.
func (s *Service) Store() Store { return s.store }

// Location is the zone used for day boundaries.
func (s *Service) Location() *time.Location { return s.loc }

// Now returns the service clock's current time in UTC.
func (s *Service) Now() time.Time { return s.clock.Now().UTC() }

func (s *Service) validCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	if len(s.validQR) == 0 {
		return true
	}
	_, ok := s.validQR[code]
	return ok
}

// ScanResult is the outcome of an accepted scan.
type ScanResult struct {
	Record model.Record `json:"record"`
	// CooldownSeconds is the window the employee now has to wait.
	CooldownSeconds int `json:"cooldownSeconds"`
}

// SubmitScan records an arrival or departure for the employee. The cooldown
// check, type decision and insert run under the employee lock so concurrent
// scans never resolve to the same type.
func (s *Service) SubmitScan(ctx context.Context, employeeID, qrCode string) (ScanResult, error) {
	if strings.TrimSpace(employeeID) == "" {
		return ScanResult{}, fmt.Errorf("%w: employee id required", ErrValidation)
	}
	if !s.validCode(qrCode) {
		return ScanResult{}, ErrInvalidQR
	}

	var res ScanResult
	err := s.store.WithEmployeeLock(ctx, employeeID, func(ctx context.Context, rs RecordStore) error {
		now := s.Now()
		left, err := s.governor.Remaining(ctx, employeeID, now)
		if err != nil {
			s.log.Warnw("cooldown lookup failed, accepting scan", "employee_id", employeeID, "error", err)
			left = 0
		}
		if left > 0 {
			return &CooldownError{Remaining: left, Window: s.governor.Window()}
		}

		last, err := rs.LastRecord(ctx, employeeID)
		if err != nil {
			return err
		}
		rec, err := rs.InsertRecord(ctx, employeeID, ResolveType(last), now, false, false)
		if err != nil {
			return err
		}
		res.Record = rec

		if err := s.governor.Mark(ctx, employeeID, now); err != nil {
			s.log.Warnw("cooldown mark failed", "employee_id", employeeID, "error", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCooldown) {
			s.metrics.CooldownRejected()
		}
		return ScanResult{}, err
	}

	s.metrics.ScanAccepted(string(res.Record.Type))
	res.CooldownSeconds = int(s.governor.Window().Seconds())
	s.log.Infow("scan accepted",
		"employee_id", employeeID,
		"record_id", res.Record.ID,
		"type", res.Record.Type,
	)
	return res, nil
}

// PendingDeparture returns the employee's unconfirmed synthetic departure, or nil.
func (s *Service) PendingDeparture(ctx context.Context, employeeID string) (*model.Record, error) {
	return s.store.PendingDeparture(ctx, employeeID)
}

// ConfirmDeparture marks the employee's synthetic departure as confirmed.
// Confirming an already confirmed record is a no-op.
func (s *Service) ConfirmDeparture(ctx context.Context, employeeID, recordID string) (*model.Record, error) {
	var out *model.Record
	err := s.store.WithEmployeeLock(ctx, employeeID, func(ctx context.Context, rs RecordStore) error {
		rec, err := rs.GetRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.EmployeeID != employeeID {
			return ErrNotFound
		}
		if !rec.AutoGenerated || rec.Type != model.Departure {
			return fmt.Errorf("%w: record is not an automatic departure", ErrValidation)
		}
		if rec.Confirmed {
			out = rec
			return nil
		}
		out, err = rs.UpdateRecordConfirmed(ctx, recordID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.DepartureConfirmed()
	return out, nil
}

// History returns the employee's records, newest first.
func (s *Service) History(ctx context.Context, employeeID string) ([]model.Record, error) {
	return s.store.RecordsByEmployee(ctx, employeeID)
}

// UpdateType lets an employee correct the type of one of their records.
// Retyping a synthetic record counts as confirming it.
func (s *Service) UpdateType(ctx context.Context, employeeID, recordID string, typ model.Type) (*model.Record, error) {
	var out *model.Record
	err := s.store.WithEmployeeLock(ctx, employeeID, func(ctx context.Context, rs RecordStore) error {
		rec, err := rs.GetRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.EmployeeID != employeeID {
			return ErrForbidden
		}
		if out, err = rs.UpdateRecordType(ctx, recordID, typ); err != nil {
			return err
		}
		if out.PendingConfirmation() {
			out, err = rs.UpdateRecordConfirmed(ctx, recordID, true)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRecord removes one of the employee's own records.
func (s *Service) DeleteRecord(ctx context.Context, employeeID, recordID string) error {
	return s.store.WithEmployeeLock(ctx, employeeID, func(ctx context.Context, rs RecordStore) error {
		rec, err := rs.GetRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.EmployeeID != employeeID {
			return ErrForbidden
		}
		ok, err := rs.DeleteRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
}

// AdminDeleteRecord removes any record.
func (s *Service) AdminDeleteRecord(ctx context.Context, recordID string) error {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	return s.store.WithEmployeeLock(ctx, rec.EmployeeID, func(ctx context.Context, rs RecordStore) error {
		ok, err := rs.DeleteRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
}

// EmployeeStats returns worked hours and pay for one employee over [from, to).
func (s *Service) EmployeeStats(ctx context.Context, employeeID string, from, to time.Time) (payroll.Stats, error) {
	emp, err := s.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return payroll.Stats{}, err
	}
	records, err := s.store.RecordsInRange(ctx, employeeID, from, to)
	if err != nil {
		return payroll.Stats{}, err
	}
	return payroll.ComputeStats(records, emp.Rate()), nil
}

// EmployeeTotals is one employee's line in an aggregate.
type EmployeeTotals struct {
	EmployeeID string  `json:"employeeId"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	HourlyRate float64 `json:"hourlyRate"`
	payroll.Stats
}

// Aggregate holds per-employee stats and their sum.
type Aggregate struct {
	Employees []EmployeeTotals `json:"employees"`
	Total     payroll.Stats    `json:"total"`
}

// AggregateStats computes stats for every employee over [from, to).
func (s *Service) AggregateStats(ctx context.Context, from, to time.Time) (Aggregate, error) {
	employees, err := s.store.ListEmployees(ctx)
	if err != nil {
		return Aggregate{}, err
	}
	records, err := s.store.RecordsInRange(ctx, "", from, to)
	if err != nil {
		return Aggregate{}, err
	}
	stats := payroll.ComputeByEmployee(records, rates(employees))

	agg := Aggregate{Employees: make([]EmployeeTotals, 0, len(employees)), Total: payroll.Sum(stats)}
	for _, e := range employees {
		agg.Employees = append(agg.Employees, EmployeeTotals{
			EmployeeID: e.ID,
			Name:       e.Name,
			Email:      e.Email,
			HourlyRate: e.Rate(),
			Stats:      stats[e.ID],
		})
	}
	return agg, nil
}

func rates(employees []model.Employee) map[string]float64 {
	out := make(map[string]float64, len(employees))
	for _, e := range employees {
		out[e.ID] = e.Rate()
	}
	return out
}

// PeriodSummary is the dashboard tile for one period.
type PeriodSummary struct {
	Scans   int     `json:"scans"`
	Hours   float64 `json:"hours"`
	Payment float64 `json:"payment"`
}

// EmployeeCounts splits employees by verification status.
type EmployeeCounts struct {
	Total    int `json:"total"`
	Verified int `json:"verified"`
	Pending  int `json:"pending"`
}

// Overview is the admin dashboard summary.
type Overview struct {
	Employees      EmployeeCounts `json:"employees"`
	Today          PeriodSummary  `json:"today"`
	Week           PeriodSummary  `json:"week"`
	Month          PeriodSummary  `json:"month"`
	RecentActivity []model.Record `json:"recentActivity"`
}

// Overview builds the admin dashboard summary.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	employees, err := s.store.ListEmployees(ctx)
	if err != nil {
		return Overview{}, err
	}
	periods := payroll.Periods(s.Now(), s.loc)
	records, err := s.store.RecordsInRange(ctx, "", periods[payroll.Month].From, time.Time{})
	if err != nil {
		return Overview{}, err
	}
	recent, err := s.store.RecentRecords(ctx, 10)
	if err != nil {
		return Overview{}, err
	}

	var ov Overview
	for _, e := range employees {
		ov.Employees.Total++
		if e.Verified {
			ov.Employees.Verified++
		} else if !e.IsAdmin {
			ov.Employees.Pending++
		}
	}
	r := rates(employees)
	summarize := func(p payroll.Period) PeriodSummary {
		in := since(records, periods[p].From)
		total := payroll.Sum(payroll.ComputeByEmployee(in, r))
		return PeriodSummary{Scans: len(in), Hours: total.Hours, Payment: total.Payment}
	}
	ov.Today = summarize(payroll.Today)
	ov.Week = summarize(payroll.Week)
	ov.Month = summarize(payroll.Month)
	ov.RecentActivity = recent
	return ov, nil
}

func since(records []model.Record, from time.Time) []model.Record {
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if !r.Timestamp.Before(from) {
			out = append(out, r)
		}
	}
	return out
}

// EmployeeSummary is an employee with stats for the dashboard periods.
type EmployeeSummary struct {
	model.Employee
	Today payroll.Stats `json:"today"`
	Week  payroll.Stats `json:"week"`
	Month payroll.Stats `json:"month"`
}

// EmployeeSummaries lists all employees with today/week/month stats.
func (s *Service) EmployeeSummaries(ctx context.Context) ([]EmployeeSummary, error) {
	employees, err := s.store.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	periods := payroll.Periods(s.Now(), s.loc)
	records, err := s.store.RecordsInRange(ctx, "", periods[payroll.Month].From, time.Time{})
	if err != nil {
		return nil, err
	}
	r := rates(employees)
	today := payroll.ComputeByEmployee(since(records, periods[payroll.Today].From), r)
	week := payroll.ComputeByEmployee(since(records, periods[payroll.Week].From), r)
	month := payroll.ComputeByEmployee(records, r)

	out := make([]EmployeeSummary, 0, len(employees))
	for _, e := range employees {
		e.HourlyRate = e.Rate()
		out = append(out, EmployeeSummary{Employee: e, Today: today[e.ID], Week: week[e.ID], Month: month[e.ID]})
	}
	return out, nil
}

// RecordsForExport returns records for a period, optionally for one employee,
// ascending by timestamp.
func (s *Service) RecordsForExport(ctx context.Context, period payroll.Period, employeeID string) ([]model.Record, error) {
	w := payroll.Periods(s.Now(), s.loc)[period]
	return s.store.RecordsInRange(ctx, employeeID, w.From, w.To)
}

// MissingDepartures lists employees currently clocked in.
func (s *Service) MissingDepartures(ctx context.Context) ([]model.OpenArrival, error) {
	open, err := s.store.EmployeesWithOpenArrival(ctx, s.Now().Add(time.Second))
	if err != nil {
		return nil, err
	}
	for i := range open {
		if open[i].HourlyRate <= 0 {
			open[i].HourlyRate = model.DefaultHourlyRate
		}
	}
	return open, nil
}

// PendingConfirmations lists all synthetic departures awaiting confirmation.
func (s *Service) PendingConfirmations(ctx context.Context) ([]model.Record, error) {
	return s.store.PendingConfirmations(ctx)
}

// Register creates an unverified employee.
func (s *Service) Register(ctx context.Context, name, email, password string) (model.Employee, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || !strings.Contains(email, "@") {
		return model.Employee{}, fmt.Errorf("%w: name and a valid email are required", ErrValidation)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return model.Employee{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return model.Employee{}, err
	}
	emp, err := s.store.CreateEmployee(ctx, model.Employee{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		HourlyRate:   s.rate,
	})
	if err != nil {
		return model.Employee{}, err
	}
	s.log.Infow("employee registered", "employee_id", emp.ID, "email", emp.Email)
	return emp, nil
}

// Authenticate checks credentials. Unverified non-admin employees get ErrNotVerified.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.Employee, error) {
	emp, err := s.store.GetEmployeeByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(emp.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !emp.Verified && !emp.IsAdmin {
		return emp, ErrNotVerified
	}
	return emp, nil
}

// Employee returns one employee.
func (s *Service) Employee(ctx context.Context, id string) (*model.Employee, error) {
	return s.store.GetEmployee(ctx, id)
}

// IsAdmin reports whether the employee currently holds the admin flag.
func (s *Service) IsAdmin(ctx context.Context, id string) (bool, error) {
	emp, err := s.store.GetEmployee(ctx, id)
	if err != nil {
		return false, err
	}
	return emp.IsAdmin, nil
}

// UpdateEmployee applies an admin edit. Rates must stay positive after
// rounding to cents; a zero rate would read back as the default rate.
func (s *Service) UpdateEmployee(ctx context.Context, id string, u model.EmployeeUpdate) (*model.Employee, error) {
	if u.HourlyRate != nil {
		r := payroll.Round2(*u.HourlyRate)
		if r <= 0 {
			return nil, fmt.Errorf("%w: hourly rate must be > 0", ErrValidation)
		}
		u.HourlyRate = &r
	}
	emp, err := s.store.UpdateEmployee(ctx, id, u)
	if err != nil {
		return nil, err
	}
	s.log.Infow("employee updated", "employee_id", id)
	return emp, nil
}

// VerifyEmployee approves an employee's account.
func (s *Service) VerifyEmployee(ctx context.Context, id string) (*model.Employee, error) {
	verified := true
	return s.UpdateEmployee(ctx, id, model.EmployeeUpdate{Verified: &verified})
}

// ResetPassword sets a new password for an employee.
func (s *Service) ResetPassword(ctx context.Context, id, password string) error {
	if _, err := s.store.GetEmployee(ctx, id); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return err
	}
	return s.store.UpdatePassword(ctx, id, hash)
}

// Health reports store latency and counts.
func (s *Service) Health(ctx context.Context) (model.Counts, time.Duration, error) {
	start := s.clock.Now()
	if err := s.store.Ping(ctx); err != nil {
		return model.Counts{}, 0, err
	}
	counts, err := s.store.Counts(ctx)
	return counts, s.clock.Since(start), err
}
