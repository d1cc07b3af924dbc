package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiello/qrchek/internal/model"
)

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	employees map[string]model.Employee
	records   map[string]memRecord
	seq       int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type memRecord struct {
	model.Record
	seq int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		employees: map[string]model.Employee{},
		records:   map[string]memRecord{},
		locks:     map[string]*sync.Mutex{},
	}
}

func (m *MemoryStore) WithEmployeeLock(ctx context.Context, employeeID string, fn func(ctx context.Context, rs RecordStore) error) error {
	m.locksMu.Lock()
	l, ok := m.locks[employeeID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[employeeID] = l
	}
	m.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, m)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Counts(context.Context) (model.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := model.Counts{Employees: len(m.employees), Records: len(m.records)}
	for _, r := range m.records {
		if c.LastRecord == nil || r.Timestamp.After(*c.LastRecord) {
			ts := r.Timestamp
			c.LastRecord = &ts
		}
	}
	return c, nil
}

// before orders records by timestamp, then insertion order.
func before(a, b memRecord) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.seq < b.seq
}

func (m *MemoryStore) sorted(filter func(memRecord) bool, desc bool) []model.Record {
	list := make([]memRecord, 0, len(m.records))
	for _, r := range m.records {
		if filter == nil || filter(r) {
			list = append(list, r)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if desc {
			return before(list[j], list[i])
		}
		return before(list[i], list[j])
	})
	out := make([]model.Record, len(list))
	for i, r := range list {
		out[i] = r.Record
	}
	return out
}

func (m *MemoryStore) LastRecord(_ context.Context, employeeID string) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastLocked(employeeID), nil
}

func (m *MemoryStore) lastLocked(employeeID string) *model.Record {
	var last *memRecord
	for _, r := range m.records {
		if r.EmployeeID != employeeID {
			continue
		}
		if last == nil || before(*last, r) {
			r := r
			last = &r
		}
	}
	if last == nil {
		return nil
	}
	rec := last.Record
	return &rec
}

func (m *MemoryStore) GetRecord(_ context.Context, id string) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec := r.Record
	return &rec, nil
}

func (m *MemoryStore) RecordsInRange(_ context.Context, employeeID string, from, to time.Time) ([]model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(func(r memRecord) bool {
		if employeeID != "" && r.EmployeeID != employeeID {
			return false
		}
		if !from.IsZero() && r.Timestamp.Before(from) {
			return false
		}
		if !to.IsZero() && !r.Timestamp.Before(to) {
			return false
		}
		return true
	}, false), nil
}

func (m *MemoryStore) RecordsByEmployee(_ context.Context, employeeID string) ([]model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(func(r memRecord) bool { return r.EmployeeID == employeeID }, true), nil
}

func (m *MemoryStore) RecentRecords(_ context.Context, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.sorted(nil, true)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertRecord(_ context.Context, employeeID string, typ model.Type, at time.Time, autoGenerated, confirmed bool) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.employees[employeeID]
	if !ok {
		return model.Record{}, ErrNotFound
	}
	m.seq++
	rec := model.Record{
		ID:            uuid.NewString(),
		EmployeeID:    employeeID,
		EmployeeName:  e.Name,
		Type:          typ,
		Timestamp:     at,
		AutoGenerated: autoGenerated,
		Confirmed:     confirmed,
		CreatedAt:     time.Now().UTC(),
	}
	m.records[rec.ID] = memRecord{Record: rec, seq: m.seq}
	return rec, nil
}

func (m *MemoryStore) update(id string, apply func(*model.Record)) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	apply(&r.Record)
	m.records[id] = r
	rec := r.Record
	return &rec, nil
}

func (m *MemoryStore) UpdateRecordType(_ context.Context, id string, typ model.Type) (*model.Record, error) {
	return m.update(id, func(r *model.Record) { r.Type = typ })
}

func (m *MemoryStore) UpdateRecordConfirmed(_ context.Context, id string, confirmed bool) (*model.Record, error) {
	return m.update(id, func(r *model.Record) { r.Confirmed = confirmed })
}

func (m *MemoryStore) DeleteRecord(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

func (m *MemoryStore) EmployeesWithOpenArrival(_ context.Context, asOf time.Time) ([]model.OpenArrival, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.OpenArrival
	for id, e := range m.employees {
		last := m.lastLocked(id)
		if last == nil || last.Type != model.Arrival || !last.Timestamp.Before(asOf) {
			continue
		}
		out = append(out, model.OpenArrival{
			EmployeeID:  id,
			Name:        e.Name,
			Email:       e.Email,
			HourlyRate:  e.HourlyRate,
			LastArrival: last.Timestamp,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) PendingConfirmations(context.Context) ([]model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(func(r memRecord) bool { return r.PendingConfirmation() }, true), nil
}

func (m *MemoryStore) PendingDeparture(_ context.Context, employeeID string) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.sorted(func(r memRecord) bool {
		return r.EmployeeID == employeeID && r.PendingConfirmation()
	}, true)
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (m *MemoryStore) CreateEmployee(_ context.Context, e model.Employee) (model.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	for _, other := range m.employees {
		if other.Email == e.Email {
			return model.Employee{}, ErrConflict
		}
	}
	if e.HourlyRate <= 0 {
		e.HourlyRate = model.DefaultHourlyRate
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.employees[e.ID] = e
	return e, nil
}

func (m *MemoryStore) GetEmployee(_ context.Context, id string) (*model.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryStore) GetEmployeeByEmail(_ context.Context, email string) (*model.Employee, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.employees {
		if e.Email == email {
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListEmployees(context.Context) ([]model.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Email < out[j].Email
	})
	return out, nil
}

func (m *MemoryStore) UpdateEmployee(_ context.Context, id string, u model.EmployeeUpdate) (*model.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.HourlyRate != nil {
		e.HourlyRate = *u.HourlyRate
	}
	if u.IsAdmin != nil {
		e.IsAdmin = *u.IsAdmin
	}
	if u.Verified != nil {
		e.Verified = *u.Verified
	}
	m.employees[id] = e
	return &e, nil
}

func (m *MemoryStore) UpdatePassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.employees[id]
	if !ok {
		return ErrNotFound
	}
	e.PasswordHash = hash
	m.employees[id] = e
	return nil
}
