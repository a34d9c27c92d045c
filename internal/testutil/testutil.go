// Package testutil provides shared helpers for service tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/events"
)

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// CaptureNotifier records events synchronously for assertions
type CaptureNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

// NewCaptureNotifier creates an empty capture notifier
func NewCaptureNotifier() *CaptureNotifier {
	return &CaptureNotifier{}
}

// Notify records the event
func (n *CaptureNotifier) Notify(ctx context.Context, event events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

// Events returns a copy of all recorded events
func (n *CaptureNotifier) Events() []events.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.Event, len(n.events))
	copy(out, n.events)
	return out
}

// OfType returns the recorded events of one type
func (n *CaptureNotifier) OfType(eventType events.EventType) []events.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []events.Event
	for _, event := range n.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}
