package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xiello/qrchek/internal/model"
)

// PendingAPI is the subset of Client the gate needs.
type PendingAPI interface {
	PendingDeparture(ctx context.Context) (*model.Record, error)
	ConfirmDeparture(ctx context.Context, recordID string) (*model.Record, error)
}

// Gate blocks a session while the employee has an unconfirmed synthetic
// departure. Confirmation fails open: if the server cannot be reached the
// session is released but the record stays unconfirmed server side.
type Gate struct {
	api PendingAPI
	log *zap.SugaredLogger

	mu       sync.Mutex
	pending  *model.Record
	released map[string]bool
}

// NewGate returns a gate over api.
func NewGate(api PendingAPI, log *zap.SugaredLogger) *Gate {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Gate{api: api, log: log, released: make(map[string]bool)}
}

// Check fetches the pending departure and returns it when the session must
// block. Records already confirmed or dismissed in this session are skipped.
func (g *Gate) Check(ctx context.Context) (*model.Record, error) {
	rec, err := g.api.PendingDeparture(ctx)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec == nil || g.released[rec.ID] {
		g.pending = nil
		return nil, nil
	}
	g.pending = rec
	return rec, nil
}

// Blocked reports whether a pending departure awaits the employee.
func (g *Gate) Blocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// Confirm acknowledges the pending departure. The gate is released whatever
// the outcome; the returned error only reports that the server did not
// record the confirmation.
func (g *Gate) Confirm(ctx context.Context) error {
	g.mu.Lock()
	rec := g.pending
	g.mu.Unlock()
	if rec == nil {
		return nil
	}

	_, err := g.api.ConfirmDeparture(ctx, rec.ID)
	if err != nil {
		g.log.Warnw("confirm departure failed, releasing gate", "record_id", rec.ID, "error", err)
	}
	g.release(rec.ID)
	return err
}

// Dismiss releases the gate for this session without confirming.
func (g *Gate) Dismiss() {
	g.mu.Lock()
	rec := g.pending
	g.mu.Unlock()
	if rec != nil {
		g.release(rec.ID)
	}
}

func (g *Gate) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released[id] = true
	if g.pending != nil && g.pending.ID == id {
		g.pending = nil
	}
}
