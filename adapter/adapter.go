// Package adapter notifies downstream systems when a bitwire session ends.
//
// The session command owns adapter lifecycle; users provide configuration
// only. Adapters are best effort: a failed publish is logged, it never
// changes the session's exit status.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// EventTypeSessionEnded is the EventType of every SessionEndedEvent.
const EventTypeSessionEnded = "session_ended"

// Session outcomes.
const (
	// OutcomeCompleted means the session ran until its duration or the peer hung up.
	OutcomeCompleted = "completed"
	// OutcomeInterrupted means the session was stopped by a signal.
	OutcomeInterrupted = "interrupted"
	// OutcomeFailed means the link failed.
	OutcomeFailed = "failed"
)

// SessionEndedEvent is the payload published when a session ends.
type SessionEndedEvent struct {
	FormatVersion  string `json:"format_version"`
	EventType      string `json:"event_type"`
	SessionID      string `json:"session_id"`
	Schema         string `json:"schema"`
	Protocol       string `json:"protocol"`
	Transport      string `json:"transport"`
	Framing        string `json:"framing"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error,omitempty"`
	CapturePath    string `json:"capture_path,omitempty"`
	Timestamp      string `json:"timestamp"` // RFC 3339
	FramesSent     int64  `json:"frames_sent"`
	FramesReceived int64  `json:"frames_received"`
	DecodeErrors   int64  `json:"decode_errors"`
	DurationMs     int64  `json:"duration_ms"`
}

// Adapter publishes session events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionEndedEvent) error

	// Close releases adapter resources.
	Close() error
}

// DefaultBackoff is the delay before the first retry; it doubles per retry.
const DefaultBackoff = 500 * time.Millisecond

// Retry calls attempt up to 1+retries times, sleeping base, 2*base, ...
// between calls. A nil error or an error for which permanent reports true
// ends the loop.
func Retry(ctx context.Context, retries int, base time.Duration, attempt func(context.Context) error, permanent func(error) bool) error {
	if base <= 0 {
		base = DefaultBackoff
	}
	attempts := 1 + retries

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			t := time.NewTimer(time.Duration(1<<uint(i-1)) * base)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-t.C:
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
