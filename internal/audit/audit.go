// Package audit captures the append-only trail of approval lifecycle events.
// Losing an audit write never alters approval state: the publisher hands
// events to a buffered channel and the worker persists them out of band.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Actions recorded on the trail.
const (
	ActionCreated      = "approval.created"
	ActionAutoApproved = "approval.auto_approved"
	ActionDecided      = "approval.decided"
	ActionExpired      = "approval.expired"
	ActionRuleRevoked  = "allow_rule.revoked"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp  time.Time
	ClientID   string
	ApprovalID string
	Action     string
	ActionType string
	Decision   string
	RuleID     string
}

// Store persists events. Append-only by contract.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByClient(ctx context.Context, clientID string) ([]Event, error)
}

// Publisher queues events for the worker. Emit never blocks the caller: when
// the buffer is full the event is dropped and counted against the logger,
// because approval state is authoritative and the trail is advisory.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{inbox: make(chan Event, buffer), logger: logger}
}

func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.WarnContext(ctx, "audit buffer full, event dropped",
			"action", event.Action,
			"approval_id", event.ApprovalID,
		)
	}
}

// Inbox exposes the queue for the worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }

// Worker consumes audit events from a channel and persists them. It keeps
// background processing testable without wiring queue implementations.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "audit append failed",
					"action", event.Action,
					"approval_id", event.ApprovalID,
					"error", err.Error(),
				)
			}
		}
	}
}
