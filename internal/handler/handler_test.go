package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiello/qrchek/internal/attendance"
	"github.com/xiello/qrchek/internal/auth"
	"github.com/xiello/qrchek/internal/autocheckout"
	"github.com/xiello/qrchek/internal/cooldown"
	"github.com/xiello/qrchek/internal/model"
)

const validCode = "QRCHEK-2024-COMPANY"

var testTokens = Tokens{
	Issuer:     "qrchek-test",
	SigningKey: "test-secret",
	AccessTTL:  time.Hour,
	RefreshTTL: 2 * time.Hour,
}

type fixture struct {
	store  *attendance.MemoryStore
	clock  *clockwork.FakeClock
	svc    *attendance.Service
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store: attendance.NewMemoryStore(),
		clock: clockwork.NewFakeClockAt(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)),
	}
	f.svc = attendance.NewService(attendance.Options{
		Store:        f.store,
		Governor:     cooldown.NewMemory(time.Minute),
		Clock:        f.clock,
		ValidQRCodes: []string{validCode},
	})
	cutoff, err := autocheckout.ParseCutoff("20:00", time.UTC)
	require.NoError(t, err)
	sweeper := autocheckout.NewSweeper(f.store, cutoff, f.clock, nil, nil, nil)

	f.router = gin.New()
	New(f.svc, sweeper, testTokens, nil, nil).Routes(f.router, nil)
	return f
}

func (f *fixture) employee(t *testing.T, name string, admin bool) (model.Employee, string) {
	t.Helper()
	emp, err := f.store.CreateEmployee(context.Background(), model.Employee{
		Name:       name,
		Email:      name + "@example.com",
		HourlyRate: 10,
		IsAdmin:    admin,
		Verified:   true,
	})
	require.NoError(t, err)
	pair, err := auth.Issue(auth.Identity{EmployeeID: emp.ID, Name: emp.Name, Admin: admin},
		testTokens.Issuer, testTokens.SigningKey, testTokens.AccessTTL, testTokens.RefreshTTL)
	require.NoError(t, err)
	return emp, pair.AccessToken
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	_, adminToken := f.employee(t, "boss", true)

	w := f.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": "Anna", "email": "Anna@Example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["employee"].(map[string]any)["id"].(string)

	login := gin.H{"email": "anna@example.com", "password": "secret1"}
	w = f.do(t, http.MethodPost, "/api/auth/login", "", login)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, true, decode(t, w)["needsVerification"])

	w = f.do(t, http.MethodPost, "/api/admin/employees/"+id+"/verify", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "anna@example.com", "password": "wrong!"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/auth/login", "", login)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.NotEmpty(t, body["token"])
	assert.Nil(t, body["pendingDeparture"])

	w = f.do(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refreshToken": body["refreshToken"]})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// an access token is not a refresh token
	w = f.do(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refreshToken": body["token"]})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegister_ShortPassword(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": "A", "email": "a@example.com", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitScan(t *testing.T) {
	f := newFixture(t)
	_, token := f.employee(t, "anna", false)

	w := f.do(t, http.MethodPost, "/api/attendance", "", gin.H{"qrCode": validCode})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/attendance", token, gin.H{"qrCode": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, true, decode(t, w)["invalidQR"])

	w = f.do(t, http.MethodPost, "/api/attendance", token, gin.H{"qrCode": validCode})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "arrival", body["record"].(map[string]any)["type"])
	assert.EqualValues(t, 60, body["cooldownSeconds"])

	f.clock.Advance(15 * time.Second)
	w = f.do(t, http.MethodPost, "/api/attendance", token, gin.H{"qrCode": validCode})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["cooldown"])
	assert.EqualValues(t, 45, body["remainingSeconds"])

	f.clock.Advance(45 * time.Second)
	w = f.do(t, http.MethodPost, "/api/attendance", token, gin.H{"qrCode": validCode})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "departure", decode(t, w)["record"].(map[string]any)["type"])

	w = f.do(t, http.MethodGet, "/api/attendance/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["records"], 2)
}

func TestEditAndDeleteOwnership(t *testing.T) {
	f := newFixture(t)
	_, anna := f.employee(t, "anna", false)
	_, ben := f.employee(t, "ben", false)

	w := f.do(t, http.MethodPost, "/api/attendance", anna, gin.H{"qrCode": validCode})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["record"].(map[string]any)["id"].(string)

	w = f.do(t, http.MethodPut, "/api/attendance/"+id, ben, gin.H{"type": "departure"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPut, "/api/attendance/"+id, anna, gin.H{"type": "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/attendance/"+id, anna, gin.H{"type": "departure"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "departure", decode(t, w)["record"].(map[string]any)["type"])

	w = f.do(t, http.MethodDelete, "/api/attendance/"+id, ben, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(t, http.MethodDelete, "/api/attendance/"+id, anna, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodDelete, "/api/attendance/"+id, anna, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutoCheckoutAndConfirm(t *testing.T) {
	f := newFixture(t)
	_, token := f.employee(t, "anna", false)
	_, adminToken := f.employee(t, "boss", true)

	w := f.do(t, http.MethodPost, "/api/attendance", token, gin.H{"qrCode": validCode})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/admin/missing-departures", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	f.clock.Advance(13 * time.Hour) // 21:00
	w = f.do(t, http.MethodPost, "/api/admin/auto-checkout", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/api/admin/auto-checkout", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 1, body["processed"])
	assert.Equal(t, []any{"anna"}, body["employees"])
	assert.Equal(t, "Auto-checkout completed. Processed 1 employees.", body["message"])

	w = f.do(t, http.MethodGet, "/api/admin/pending-confirmations", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = f.do(t, http.MethodGet, "/api/attendance/pending-departure", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode(t, w)["pendingDeparture"].(map[string]any)
	assert.Equal(t, true, pending["autoGenerated"])
	assert.Equal(t, "2024-03-04T20:00:00Z", pending["timestamp"])

	w = f.do(t, http.MethodPost, "/api/attendance/confirm-departure/"+pending["id"].(string), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/attendance/pending-departure", token, nil)
	assert.Nil(t, decode(t, w)["pendingDeparture"])

	w = f.do(t, http.MethodGet, "/api/attendance/stats?from=2024-03-04&to=2024-03-04", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decode(t, w)["stats"].(map[string]any)
	assert.EqualValues(t, 12, stats["hours"])
	assert.EqualValues(t, 120, stats["payment"])
}

func TestAdminUpdateEmployee(t *testing.T) {
	f := newFixture(t)
	emp, _ := f.employee(t, "anna", false)
	_, adminToken := f.employee(t, "boss", true)

	w := f.do(t, http.MethodPut, "/api/admin/employees/"+emp.ID, adminToken, gin.H{"hourlyRate": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/admin/employees/"+emp.ID, adminToken, gin.H{"hourlyRate": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/admin/employees/"+emp.ID, adminToken, gin.H{"hourlyRate": "ten"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/admin/employees/"+emp.ID, adminToken, gin.H{"hourlyRate": 12.5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 12.5, decode(t, w)["employee"].(map[string]any)["hourlyRate"])

	w = f.do(t, http.MethodPost, "/api/admin/employees/"+emp.ID+"/reset-password", adminToken, gin.H{"newPassword": "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPost, "/api/admin/employees/missing/reset-password", adminToken, gin.H{"newPassword": "123456"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodPost, "/api/admin/employees/"+emp.ID+"/reset-password", adminToken, gin.H{"newPassword": "123456"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRevokedLosesAccess(t *testing.T) {
	f := newFixture(t)
	admin, token := f.employee(t, "boss", true)

	w := f.do(t, http.MethodGet, "/api/admin/stats", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	no := false
	_, err := f.store.UpdateEmployee(context.Background(), admin.ID, model.EmployeeUpdate{IsAdmin: &no})
	require.NoError(t, err)

	w = f.do(t, http.MethodGet, "/api/admin/stats", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	_, token := f.employee(t, "anna", false)
	_, adminToken := f.employee(t, "boss", true)

	f.do(t, http.MethodPost, "/api/attendance", token, gin.H{"qrCode": validCode})
	f.clock.Advance(8 * time.Hour)
	f.do(t, http.MethodPost, "/api/attendance", token, gin.H{"qrCode": validCode})

	w := f.do(t, http.MethodGet, "/api/admin/export", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `attachment; filename="attendance-all.csv"`, w.Header().Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Employee,Date,Arrival,Departure,Duration (hours),Payment (EUR)", lines[0])
	assert.Equal(t, "anna,2024-03-04,08:00:00,16:00:00,8.00,80.00", lines[1])

	w = f.do(t, http.MethodGet, "/api/admin/export?type=summary&format=xlsx", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "employee-summary.xlsx")

	w = f.do(t, http.MethodGet, "/api/admin/export?period=decade", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/health", "/api/health/ping", "/api/health/ready", "/api/health/live"} {
		w := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	body := decode(t, f.do(t, http.MethodGet, "/api/health", "", nil))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "20:00 UTC", body["autoCheckout"].(map[string]any)["cutoff"])
}
