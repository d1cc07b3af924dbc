// Package notify consumes attendance events and turns them into employee
// notifications. Delivery is logged; no mail transport is configured.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiello/qrchek/internal/queue"
)

// Notifier drains the events queue.
type Notifier struct {
	q   queue.Queue
	log *zap.SugaredLogger
	// handled is called after each message; used by tests.
	handled func(queue.Message)
}

// New builds a notifier over q.
func New(q queue.Queue, log *zap.SugaredLogger) *Notifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Notifier{q: q, log: log}
}

// Run processes messages until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	messages, err := n.q.Consume(ctx)
	if err != nil {
		return err
	}
	n.log.Infow("notifier started, waiting for events")
	for msg := range messages {
		n.handle(msg)
		if n.handled != nil {
			n.handled(msg)
		}
	}
	n.log.Infow("notifier stopped")
	return nil
}

func (n *Notifier) handle(msg queue.Message) {
	switch msg.Type {
	case queue.TypeAutoCheckout:
		var evt queue.AutoCheckoutEvent
		if err := msg.Decode(&evt); err != nil {
			n.log.Warnw("undecodable auto-checkout event", "error", err)
			return
		}
		n.log.Infow("notify employee of automatic departure",
			"employee_id", evt.EmployeeID,
			"name", evt.Name,
			"email", evt.Email,
			"record_id", evt.RecordID,
			"departure", evt.Departure,
		)
	default:
		n.log.Debugw("ignoring event", "type", msg.Type)
	}
}
