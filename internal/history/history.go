package history

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of supervision event.
type EventType string

const (
	// EventLaunch is the first start of a target in a supervisor run.
	EventLaunch EventType = "launch"
	// EventRestart is a replacement of an unhealthy or exited target.
	EventRestart EventType = "restart"
	// EventAdopt is a probe re-binding to a process that outlived a
	// previous supervisor run.
	EventAdopt EventType = "adopt"
	// EventTerminate is an explicit termination of a target.
	EventTerminate EventType = "terminate"
	// EventGateHold is a tick suspended because host resources ran short.
	EventGateHold EventType = "gate_hold"
	// EventZombieSweep is a tick that signaled zombie processes.
	EventZombieSweep EventType = "zombie_sweep"
	// EventShutdown is the supervisor exiting after cleanup.
	EventShutdown EventType = "shutdown"
)

// Event represents one supervision action to be exported to external
// systems for audit and statistics.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Target     string    `json:"target,omitempty"`
	PID        int       `json:"pid,omitempty"`
	Restarts   int       `json:"restarts,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for supervision events (audit/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder fans events out to its sinks, best effort: sink failures are
// logged and dropped so journaling can never stall or fail supervision.
// A nil Recorder records nothing.
type Recorder struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sinks:   append([]Sink(nil), sinks...),
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Record sends the event to every sink. OccurredAt defaults to now.
func (r *Recorder) Record(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.logger.Debug("Journal sink send failed", "type", e.Type, "target", e.Target, "error", err)
		}
	}
}

// Close closes every sink that is closeable.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var firstErr error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
