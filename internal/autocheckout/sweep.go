package autocheckout

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xiello/qrchek/internal/attendance"
	"github.com/xiello/qrchek/internal/metrics"
	"github.com/xiello/qrchek/internal/model"
	"github.com/xiello/qrchek/internal/queue"
)

// ErrSweepRunning is returned when a sweep is requested while one is in progress.
var ErrSweepRunning = errors.New("auto-checkout already running")

// errNoLongerOpen marks an employee whose arrival was closed between the
// listing and the lock.
var errNoLongerOpen = errors.New("arrival no longer open")

// Result summarizes one sweep.
type Result struct {
	Processed int       `json:"processed"`
	Employees []string  `json:"employees"`
	Cutoff    time.Time `json:"cutoff"`
}

// Sweeper writes synthetic departures for open arrivals.
type Sweeper struct {
	store   attendance.Store
	cutoff  Cutoff
	clock   clockwork.Clock
	events  queue.Queue
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	running atomic.Bool
}

// NewSweeper builds a Sweeper. events may be nil.
func NewSweeper(store attendance.Store, cutoff Cutoff, clock clockwork.Clock, events queue.Queue, log *zap.SugaredLogger, m *metrics.Metrics) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sweeper{store: store, cutoff: cutoff, clock: clock, events: events, log: log, metrics: m}
}

// Cutoff returns the configured daily cutoff.
func (s *Sweeper) Cutoff() Cutoff { return s.cutoff }

// Run closes every arrival still open at the latest cutoff. Failures for one
// employee are logged and do not stop the others.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Result{}, ErrSweepRunning
	}
	defer s.running.Store(false)

	at := s.cutoff.Latest(s.clock.Now()).UTC()
	res := Result{Employees: []string{}, Cutoff: at}

	open, err := s.store.EmployeesWithOpenArrival(ctx, at)
	if err != nil {
		s.log.Errorw("auto-checkout: list open arrivals", "error", err)
		return res, err
	}
	s.log.Infow("auto-checkout: started", "cutoff", at, "open", len(open))

	failed := 0
	for _, emp := range open {
		rec, err := s.close(ctx, emp.EmployeeID, at)
		if errors.Is(err, errNoLongerOpen) {
			continue
		}
		if err != nil {
			failed++
			s.log.Errorw("auto-checkout: failed",
				"employee_id", emp.EmployeeID,
				"name", emp.Name,
				"error", err,
			)
			continue
		}
		res.Processed++
		res.Employees = append(res.Employees, emp.Name)
		s.log.Infow("auto-checkout: departure created",
			"employee_id", emp.EmployeeID,
			"email", emp.Email,
			"record_id", rec.ID,
		)
		s.publish(ctx, emp, rec)
	}

	s.metrics.SweepCompleted(res.Processed, failed)
	s.log.Infow("auto-checkout: completed", "processed", res.Processed, "failed", failed)
	return res, nil
}

func (s *Sweeper) close(ctx context.Context, employeeID string, at time.Time) (model.Record, error) {
	var rec model.Record
	err := s.store.WithEmployeeLock(ctx, employeeID, func(ctx context.Context, rs attendance.RecordStore) error {
		last, err := rs.LastRecord(ctx, employeeID)
		if err != nil {
			return err
		}
		if attendance.StateOf(last) != attendance.AwaitingDeparture || !last.Timestamp.Before(at) {
			return errNoLongerOpen
		}
		rec, err = rs.InsertRecord(ctx, employeeID, model.Departure, at, true, false)
		return err
	})
	return rec, err
}

func (s *Sweeper) publish(ctx context.Context, emp model.OpenArrival, rec model.Record) {
	if s.events == nil {
		return
	}
	msg, err := queue.NewMessage(queue.TypeAutoCheckout, queue.AutoCheckoutEvent{
		EmployeeID: emp.EmployeeID,
		Name:       emp.Name,
		Email:      emp.Email,
		RecordID:   rec.ID,
		Departure:  rec.Timestamp,
	})
	if err == nil {
		err = s.events.Publish(ctx, msg)
	}
	if err != nil {
		s.log.Warnw("auto-checkout: publish event", "employee_id", emp.EmployeeID, "error", err)
	}
}
