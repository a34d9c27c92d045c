// Package events delivers compliance notifications to registered handlers.
// Delivery is asynchronous and at-least-once within the process; handlers
// must tolerate duplicates.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType identifies a notification kind
type EventType string

const (
	EventGapDetected              EventType = "GAP_DETECTED"
	EventIntegrityFailure         EventType = "INTEGRITY_FAILURE"
	EventLegalHoldBlockedDisposal EventType = "LEGAL_HOLD_BLOCKED_DISPOSAL"
	EventRetentionDue             EventType = "RETENTION_DUE"
)

// Event is a compliance notification
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       EventType         `json:"type"`
	EvidenceID string            `json:"evidence_id,omitempty"`
	Partition  string            `json:"partition,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, evidenceID string, detail map[string]string) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		EvidenceID: evidenceID,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
}

// Handler consumes events. Handlers run on the notifier's dispatch goroutine
// and must not block indefinitely.
type Handler func(ctx context.Context, event Event)

// Notifier publishes compliance events
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// AsyncNotifier buffers events and dispatches them to every subscribed
// handler off the caller's goroutine. A full buffer falls back to logging
// the event rather than blocking a lifecycle operation.
type AsyncNotifier struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers []Handler

	queue  chan Event
	done   chan struct{}
	closed sync.Once
}

// NewAsyncNotifier creates a notifier with the given buffer size and starts
// its dispatch goroutine.
func NewAsyncNotifier(logger *zap.Logger, bufferSize int) *AsyncNotifier {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	n := &AsyncNotifier{
		logger: logger,
		queue:  make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	go n.dispatch()
	return n
}

// Subscribe registers a handler for all subsequent events
func (n *AsyncNotifier) Subscribe(handler Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, handler)
}

// Notify enqueues an event for delivery. Never blocks the caller.
func (n *AsyncNotifier) Notify(ctx context.Context, event Event) {
	select {
	case n.queue <- event:
	default:
		// Dropped from the queue but never silent
		n.logger.Warn("event buffer full, delivering via log only",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID.String()),
			zap.String("evidence_id", event.EvidenceID),
			zap.Any("detail", event.Detail))
	}
}

func (n *AsyncNotifier) dispatch() {
	for {
		select {
		case event := <-n.queue:
			n.deliver(event)
		case <-n.done:
			// Drain what is already queued before stopping
			for {
				select {
				case event := <-n.queue:
					n.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (n *AsyncNotifier) deliver(event Event) {
	n.logger.Info("compliance event",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID.String()),
		zap.String("evidence_id", event.EvidenceID),
		zap.Time("occurred_at", event.OccurredAt))

	n.mu.RLock()
	handlers := make([]Handler, len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.RUnlock()

	ctx := context.Background()
	for _, handler := range handlers {
		handler(ctx, event)
	}
}

// Close stops the dispatcher after draining queued events
func (n *AsyncNotifier) Close() {
	n.closed.Do(func() { close(n.done) })
}

// NopNotifier discards all events; used in tests that do not assert on
// notifications.
type NopNotifier struct{}

// Notify discards the event
func (NopNotifier) Notify(ctx context.Context, event Event) {}
