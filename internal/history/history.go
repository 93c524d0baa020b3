package history

import (
	"context"
	"time"
)

// EventType defines the kind of watchdog event.
type EventType string

const (
	EventRestart        EventType = "restart"
	EventRedeploy       EventType = "redeploy"
	EventLaunchFailed   EventType = "launch_failed"
	EventRedeployFailed EventType = "redeploy_failed"
)

// Record describes what a watchdog observed and did about its peer.
type Record struct {
	Watchdog string `json:"watchdog"`
	Slot     int    `json:"slot"`
	OwnPID   int    `json:"own_pid"`
	PeerPath string `json:"peer_path"`
	OldPID   int    `json:"old_pid"`
	NewPID   int    `json:"new_pid"`
	Error    string `json:"error,omitempty"`
}

// Event represents a watchdog event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to several sinks. Every sink is tried; the first
// error is returned.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every sink that supports it.
func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
