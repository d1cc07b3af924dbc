package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiello/qrchek/internal/cooldown"
	"github.com/xiello/qrchek/internal/model"
)

const validCode = "QRCHEK-2024-COMPANY"

var t0 = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store *MemoryStore
	clock *clockwork.FakeClock
	svc   *Service
}

func newFixture(t *testing.T, window time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryStore(),
		clock: clockwork.NewFakeClockAt(t0),
	}
	f.svc = NewService(Options{
		Store:        f.store,
		Governor:     cooldown.NewMemory(window),
		Clock:        f.clock,
		ValidQRCodes: []string{validCode},
	})
	return f
}

func (f *fixture) employee(t *testing.T, name string, rate float64) model.Employee {
	t.Helper()
	e, err := f.store.CreateEmployee(context.Background(), model.Employee{
		Name:       name,
		Email:      name + "@example.com",
		HourlyRate: rate,
		Verified:   true,
	})
	require.NoError(t, err)
	return e
}

func TestSubmitScan_Alternates(t *testing.T) {
	f := newFixture(t, time.Minute)
	emp := f.employee(t, "anna", 10)
	ctx := context.Background()

	want := []model.Type{model.Arrival, model.Departure, model.Arrival, model.Departure}
	for i, typ := range want {
		res, err := f.svc.SubmitScan(ctx, emp.ID, validCode)
		require.NoError(t, err, "scan %d", i)
		assert.Equal(t, typ, res.Record.Type, "scan %d", i)
		assert.False(t, res.Record.AutoGenerated)
		assert.Equal(t, "anna", res.Record.EmployeeName)
		assert.Equal(t, 60, res.CooldownSeconds)
		f.clock.Advance(61 * time.Second)
	}
}

func TestSubmitScan_Cooldown(t *testing.T) {
	f := newFixture(t, time.Minute)
	emp := f.employee(t, "anna", 10)
	ctx := context.Background()

	_, err := f.svc.SubmitScan(ctx, emp.ID, validCode)
	require.NoError(t, err)

	f.clock.Advance(10*time.Second + 200*time.Millisecond)
	_, err = f.svc.SubmitScan(ctx, emp.ID, validCode)
	require.ErrorIs(t, err, ErrCooldown)

	var cerr *CooldownError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 50, cerr.Seconds())
	assert.Positive(t, cerr.Seconds())
	assert.LessOrEqual(t, cerr.Seconds(), 60)

	records, err := f.store.RecordsByEmployee(ctx, emp.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1, "rejected scan writes nothing")

	f.clock.Advance(50 * time.Second)
	res, err := f.svc.SubmitScan(ctx, emp.ID, validCode)
	require.NoError(t, err)
	assert.Equal(t, model.Departure, res.Record.Type)
}

func TestSubmitScan_CooldownSecondsWithinFractionalWindow(t *testing.T) {
	f := newFixture(t, 1500*time.Millisecond)
	emp := f.employee(t, "anna", 10)
	ctx := context.Background()

	_, err := f.svc.SubmitScan(ctx, emp.ID, validCode)
	require.NoError(t, err)

	f.clock.Advance(100 * time.Millisecond)
	_, err = f.svc.SubmitScan(ctx, emp.ID, validCode)

	var cerr *CooldownError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 1, cerr.Seconds())
	assert.LessOrEqual(t, float64(cerr.Seconds()), (1500 * time.Millisecond).Seconds())
}

func TestCooldownError_Seconds(t *testing.T) {
	tests := []struct {
		name string
		err  CooldownError
		want int
	}{
		{"rounds up", CooldownError{Remaining: 49200 * time.Millisecond, Window: time.Minute}, 50},
		{"capped by window", CooldownError{Remaining: 1400 * time.Millisecond, Window: 1500 * time.Millisecond}, 1},
		{"no window", CooldownError{Remaining: 2100 * time.Millisecond}, 3},
		{"at least one", CooldownError{Remaining: time.Millisecond, Window: time.Minute}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Seconds())
		})
	}
}

func TestSubmitScan_Validation(t *testing.T) {
	f := newFixture(t, time.Minute)
	emp := f.employee(t, "anna", 10)
	ctx := context.Background()

	_, err := f.svc.SubmitScan(ctx, emp.ID, "SOMETHING-ELSE")
	assert.ErrorIs(t, err, ErrInvalidQR)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.SubmitScan(ctx, "", validCode)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.SubmitScan(ctx, "missing", validCode)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitScan_ConcurrentNeverDoubleArrival(t *testing.T) {
	f := newFixture(t, 0)
	emp := f.employee(t, "anna", 10)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitScan(ctx, emp.ID, validCode)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records, err := f.store.RecordsInRange(ctx, emp.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, n)
	for i, r := range records {
		if i%2 == 0 {
			assert.Equal(t, model.Arrival, r.Type, "record %d", i)
		} else {
			assert.Equal(t, model.Departure, r.Type, "record %d", i)
		}
	}
}

func TestSubmitScan_ConcurrentWithinCooldown(t *testing.T) {
	f := newFixture(t, time.Minute)
	emp := f.employee(t, "anna", 10)
	ctx := context.Background()

	const n = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		cooled   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitScan(ctx, emp.ID, validCode)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrCooldown):
				cooled++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, cooled)
}

func TestConfirmDeparture_ClearsPending(t *testing.T) {
	f := newFixture(t, time.Minute)
	emp := f.employee(t, "anna", 10)
	ctx := context.Background()

	_, err := f.store.InsertRecord(ctx, emp.ID, model.Arrival, t0, false, false)
	require.NoError(t, err)
	synthetic, err := f.store.InsertRecord(ctx, emp.ID, model.Departure, t0.Add(12*time.Hour), true, false)
	require.NoError(t, err)

	pending, err := f.svc.PendingDeparture(ctx, emp.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, synthetic.ID, pending.ID)

	confirmed, err := f.svc.ConfirmDeparture(ctx, emp.ID, synthetic.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.Confirmed)
	assert.True(t, confirmed.AutoGenerated)

	pending, err = f.svc.PendingDeparture(ctx, emp.ID)
	require.NoError(t, err)
	assert.Nil(t, pending)

	_, err = f.svc.ConfirmDeparture(ctx, emp.ID, synthetic.ID)
	assert.NoError(t, err, "confirming twice is a no-op")
}

func TestConfirmDeparture_Rejects(t *testing.T) {
	f := newFixture(t, time.Minute)
	anna := f.employee(t, "anna", 10)
	ben := f.employee(t, "ben", 10)
	ctx := context.Background()

	synthetic, err := f.store.InsertRecord(ctx, anna.ID, model.Departure, t0, true, false)
	require.NoError(t, err)
	manual, err := f.store.InsertRecord(ctx, ben.ID, model.Arrival, t0, false, false)
	require.NoError(t, err)

	_, err = f.svc.ConfirmDeparture(ctx, ben.ID, synthetic.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.ConfirmDeparture(ctx, ben.ID, manual.ID)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ConfirmDeparture(ctx, ben.ID, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateType_ConfirmsSynthetic(t *testing.T) {
	f := newFixture(t, time.Minute)
	emp := f.employee(t, "anna", 10)
	other := f.employee(t, "ben", 10)
	ctx := context.Background()

	synthetic, err := f.store.InsertRecord(ctx, emp.ID, model.Departure, t0, true, false)
	require.NoError(t, err)

	_, err = f.svc.UpdateType(ctx, other.ID, synthetic.ID, model.Arrival)
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := f.svc.UpdateType(ctx, emp.ID, synthetic.ID, model.Arrival)
	require.NoError(t, err)
	assert.Equal(t, model.Arrival, updated.Type)
	assert.True(t, updated.Confirmed)

	pending, err := f.svc.PendingDeparture(ctx, emp.ID)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestService_DeleteRecord(t *testing.T) {
	f := newFixture(t, time.Minute)
	emp := f.employee(t, "anna", 10)
	other := f.employee(t, "ben", 10)
	ctx := context.Background()

	rec, err := f.store.InsertRecord(ctx, emp.ID, model.Arrival, t0, false, false)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteRecord(ctx, other.ID, rec.ID), ErrForbidden)
	require.NoError(t, f.svc.DeleteRecord(ctx, emp.ID, rec.ID))
	assert.ErrorIs(t, f.svc.DeleteRecord(ctx, emp.ID, rec.ID), ErrNotFound)

	rec, err = f.store.InsertRecord(ctx, emp.ID, model.Arrival, t0, false, false)
	require.NoError(t, err)
	require.NoError(t, f.svc.AdminDeleteRecord(ctx, rec.ID))

	last, err := f.store.LastRecord(ctx, emp.ID)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestEmployeeAndAggregateStats(t *testing.T) {
	f := newFixture(t, time.Minute)
	anna := f.employee(t, "anna", 10)
	ben := f.employee(t, "ben", 0)
	ctx := context.Background()

	insert := func(id string, typ model.Type, at time.Time) {
		_, err := f.store.InsertRecord(ctx, id, typ, at, false, false)
		require.NoError(t, err)
	}
	insert(anna.ID, model.Arrival, t0.Add(time.Hour))      // 09:00
	insert(anna.ID, model.Departure, t0.Add(9*time.Hour))  // 17:00
	insert(ben.ID, model.Arrival, t0)                      // 08:00
	insert(ben.ID, model.Departure, t0.Add(4*time.Hour))   // 12:00
	insert(ben.ID, model.Arrival, t0.Add(30*time.Hour))    // next day, open

	stats, err := f.svc.EmployeeStats(ctx, anna.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 8.0, stats.Hours)
	assert.Equal(t, 80.0, stats.Payment)

	_, err = f.svc.EmployeeStats(ctx, "missing", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)

	agg, err := f.svc.AggregateStats(ctx, t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, agg.Employees, 2)
	byID := map[string]EmployeeTotals{}
	for _, e := range agg.Employees {
		byID[e.EmployeeID] = e
	}
	assert.Equal(t, 80.0, byID[anna.ID].Payment)
	assert.Equal(t, 4.0, byID[ben.ID].Hours)
	assert.Equal(t, 20.0, byID[ben.ID].Payment, "default rate")
	assert.Equal(t, 12.0, agg.Total.Hours)
	assert.Equal(t, 100.0, agg.Total.Payment)
}

func TestOverview(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	anna := f.employee(t, "anna", 10)
	_, err := f.store.CreateEmployee(ctx, model.Employee{Name: "new", Email: "new@example.com"})
	require.NoError(t, err)
	_, err = f.store.CreateEmployee(ctx, model.Employee{Name: "boss", Email: "boss@example.com", IsAdmin: true})
	require.NoError(t, err)

	f.clock.Advance(10 * time.Hour) // 18:00
	_, err = f.store.InsertRecord(ctx, anna.ID, model.Arrival, t0, false, false)
	require.NoError(t, err)
	_, err = f.store.InsertRecord(ctx, anna.ID, model.Departure, t0.Add(2*time.Hour), false, false)
	require.NoError(t, err)
	_, err = f.store.InsertRecord(ctx, anna.ID, model.Arrival, t0.Add(-72*time.Hour), false, false)
	require.NoError(t, err)

	ov, err := f.svc.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, EmployeeCounts{Total: 3, Verified: 1, Pending: 1}, ov.Employees)
	assert.Equal(t, PeriodSummary{Scans: 2, Hours: 2, Payment: 20}, ov.Today)
	assert.Equal(t, 3, ov.Week.Scans)
	assert.Len(t, ov.RecentActivity, 3)
	assert.Equal(t, model.Departure, ov.RecentActivity[0].Type)
}

func TestMissingDepartures(t *testing.T) {
	f := newFixture(t, time.Minute)
	anna := f.employee(t, "anna", 10)
	ben := f.employee(t, "ben", 10)
	ctx := context.Background()

	_, err := f.svc.SubmitScan(ctx, anna.ID, validCode)
	require.NoError(t, err)
	_, err = f.svc.SubmitScan(ctx, ben.ID, validCode)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.SubmitScan(ctx, ben.ID, validCode)
	require.NoError(t, err)

	open, err := f.svc.MissingDepartures(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, anna.ID, open[0].EmployeeID)
	assert.Equal(t, t0, open[0].LastArrival)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "Anna", "anna@example.com", "123")
	assert.ErrorIs(t, err, ErrValidation)

	emp, err := f.svc.Register(ctx, "Anna", " Anna@Example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "anna@example.com", emp.Email)
	assert.False(t, emp.Verified)
	assert.Equal(t, model.DefaultHourlyRate, emp.HourlyRate)

	_, err = f.svc.Register(ctx, "Anna 2", "ANNA@example.com", "secret1")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Authenticate(ctx, "anna@example.com", "secret1")
	assert.ErrorIs(t, err, ErrNotVerified)

	_, err = f.svc.VerifyEmployee(ctx, emp.ID)
	require.NoError(t, err)

	got, err := f.svc.Authenticate(ctx, "ANNA@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, emp.ID, got.ID)

	_, err = f.svc.Authenticate(ctx, "anna@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Authenticate(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, f.svc.ResetPassword(ctx, emp.ID, "another"))
	_, err = f.svc.Authenticate(ctx, "anna@example.com", "another")
	assert.NoError(t, err)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, emp.ID, "abc"), ErrValidation)
}

func TestUpdateEmployee(t *testing.T) {
	f := newFixture(t, time.Minute)
	emp := f.employee(t, "anna", 10)
	ctx := context.Background()

	for _, bad := range []float64{-1, 0, 0.004} {
		_, err := f.svc.UpdateEmployee(ctx, emp.ID, model.EmployeeUpdate{HourlyRate: &bad})
		assert.ErrorIs(t, err, ErrValidation, "rate %v", bad)
	}
	stored, err := f.store.GetEmployee(ctx, emp.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, stored.HourlyRate)

	rate, admin := 12.3456, true
	updated, err := f.svc.UpdateEmployee(ctx, emp.ID, model.EmployeeUpdate{HourlyRate: &rate, IsAdmin: &admin})
	require.NoError(t, err)
	assert.Equal(t, 12.35, updated.HourlyRate)
	assert.True(t, updated.IsAdmin)

	isAdmin, err := f.svc.IsAdmin(ctx, emp.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)
}
