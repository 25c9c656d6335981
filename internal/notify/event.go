// Package notify pushes stream progress to live subscribers.
//
// One stream invocation produces either a single credential-missing event, or
// zero or more content deltas followed by exactly one done delta and one
// stream-complete marker, in that order.
package notify

import "context"

type EventType string

const (
	EventContentDelta      EventType = "ai-response"
	EventStreamComplete    EventType = "ai-response-complete"
	EventCredentialMissing EventType = "need-api-key"
)

// DeltaPayload is the body of a content delta event.
type DeltaPayload struct {
	Chunk string `json:"chunk"`
	Done  bool   `json:"done"`
}

type Event struct {
	Type      EventType     `json:"type"`
	SessionID string        `json:"session_id"`
	Payload   *DeltaPayload `json:"payload,omitempty"`
	Message   string        `json:"message,omitempty"`
}

func Delta(sessionID, chunk string) Event {
	return Event{Type: EventContentDelta, SessionID: sessionID, Payload: &DeltaPayload{Chunk: chunk}}
}

func DeltaDone(sessionID string) Event {
	return Event{Type: EventContentDelta, SessionID: sessionID, Payload: &DeltaPayload{Done: true}}
}

func Complete(sessionID string) Event {
	return Event{Type: EventStreamComplete, SessionID: sessionID}
}

func CredentialMissing(sessionID string) Event {
	return Event{Type: EventCredentialMissing, SessionID: sessionID, Message: "api key is not configured"}
}

// Terminal reports whether no further events follow for this invocation.
func (e Event) Terminal() bool {
	return e.Type == EventStreamComplete || e.Type == EventCredentialMissing
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Multi fans an event out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
