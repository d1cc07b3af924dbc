// Package client is a Go client for the attendance API, used by kiosks and
// command line tools that submit scans on behalf of a signed-in employee.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xiello/qrchek/internal/attendance"
	"github.com/xiello/qrchek/internal/cooldown"
	"github.com/xiello/qrchek/internal/model"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client calls the attendance API with a bearer token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	clock  clockwork.Clock
	window time.Duration

	mu       sync.Mutex
	lastScan time.Time
}

// New creates a client with the default timeout and cooldown window.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		clock:   clockwork.NewRealClock(),
		window:  cooldown.DefaultWindow,
	}
}

// WithClock replaces the clock used by the local cooldown mirror.
func (c *Client) WithClock(clock clockwork.Clock) *Client {
	c.clock = clock
	return c
}

// WithCooldown sets the local cooldown window; zero disables the mirror.
func (c *Client) WithCooldown(window time.Duration) *Client {
	c.window = window
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("attendance api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error            string `json:"error"`
			Cooldown         bool   `json:"cooldown"`
			RemainingSeconds int    `json:"remainingSeconds"`
		}
		raw, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(raw, &e)
		if resp.StatusCode == http.StatusTooManyRequests && e.Cooldown {
			return &attendance.CooldownError{Remaining: time.Duration(e.RemainingSeconds) * time.Second}
		}
		msg := e.Error
		if msg == "" {
			msg = string(raw)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Remaining reports the locally known cooldown left before the next scan.
func (c *Client) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window <= 0 || c.lastScan.IsZero() {
		return 0
	}
	left := c.lastScan.Add(c.window).Sub(c.clock.Now())
	if left <= 0 {
		return 0
	}
	return left
}

// Scan submits a QR code. A scan inside the local cooldown window is refused
// with *attendance.CooldownError without contacting the server.
func (c *Client) Scan(ctx context.Context, qrCode string) (*model.Record, error) {
	if left := c.Remaining(); left > 0 {
		return nil, &attendance.CooldownError{Remaining: left}
	}

	var out struct {
		Record model.Record `json:"record"`
	}
	err := c.do(ctx, http.MethodPost, "/api/attendance", map[string]string{"qrCode": qrCode}, &out)
	var cerr *attendance.CooldownError
	if errors.As(err, &cerr) {
		// align the mirror with the server
		c.mu.Lock()
		c.lastScan = c.clock.Now().Add(cerr.Remaining - c.window)
		c.mu.Unlock()
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastScan = c.clock.Now()
	c.mu.Unlock()
	return &out.Record, nil
}

// PendingDeparture returns the employee's unconfirmed synthetic departure, if any.
func (c *Client) PendingDeparture(ctx context.Context) (*model.Record, error) {
	var out struct {
		PendingDeparture *model.Record `json:"pendingDeparture"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/attendance/pending-departure", nil, &out); err != nil {
		return nil, err
	}
	return out.PendingDeparture, nil
}

// ConfirmDeparture acknowledges a synthetic departure.
func (c *Client) ConfirmDeparture(ctx context.Context, recordID string) (*model.Record, error) {
	var out struct {
		Record model.Record `json:"record"`
	}
	path := "/api/attendance/confirm-departure/" + url.PathEscape(recordID)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Record, nil
}

// History lists the employee's own records, newest first.
func (c *Client) History(ctx context.Context) ([]model.Record, error) {
	var out struct {
		Records []model.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/attendance/me", nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}
