// Package bus provides the event fan-out backbone between the orchestrator
// layer and the gateway. The in-memory implementation is the default; the
// NATS implementation serves multi-instance deployments.
package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one fan-out message. Payload is an encoded canonical event or
// gateway frame; the bus does not inspect it.
type Event struct {
	Subject   string          `json:"subject"`
	UserID    string          `json:"user_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, ev *Event) error

// Subscription is a live subscription handle.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the publish/subscribe contract. Subjects are dot-separated; a
// trailing ".*" in a subscription matches any suffix.
type Bus interface {
	Publish(ctx context.Context, subject string, ev *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close() error
}

// SessionSubject returns the subject carrying one user's session events.
func SessionSubject(userID string) string {
	return "session." + userID + ".events"
}
