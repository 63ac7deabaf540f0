// Package trace records the bounded transition history consulted by
// internal/transition's Manager.
//
// Events are serialized with a fixed field order so two processes produce
// byte-identical JSON for the same Event.
package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind enumerates the transition-related events a handler may record.
type EventKind string

const (
	EventTransition      EventKind = "transition"
	EventRejected        EventKind = "rejected"
	EventRetryScheduled  EventKind = "retry_scheduled"
	EventReplanTriggered EventKind = "replan_triggered"
	EventDeadlockAction  EventKind = "deadlock_action"
	EventHITLDecision    EventKind = "hitl_decision"
)

// Event is one entry in a node's bounded transition history.
type Event struct {
	Kind      EventKind
	TaskID    string
	From      string
	To        string
	Reason    string
	Timestamp time.Time
}

// Canonicalize returns a copy with a stable wire shape (UTC timestamp),
// keeping Timestamp since transition history is consulted for human
// debugging, not content-addressed caching.
func (e Event) Canonicalize() Event {
	cp := e
	cp.Timestamp = cp.Timestamp.UTC()
	return cp
}

// MarshalJSON fixes field order so two processes serialize an identical
// Event identically.
func (e Event) MarshalJSON() ([]byte, error) {
	c := e.Canonicalize()
	var buf bytes.Buffer
	buf.WriteByte('{')
	fmt.Fprintf(&buf, "%q:%q,", "kind", string(c.Kind))
	fmt.Fprintf(&buf, "%q:%q,", "task_id", c.TaskID)
	fmt.Fprintf(&buf, "%q:%q,", "from", c.From)
	fmt.Fprintf(&buf, "%q:%q,", "to", c.To)
	fmt.Fprintf(&buf, "%q:%q,", "reason", c.Reason)
	ts, err := c.Timestamp.MarshalJSON()
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"timestamp":`)
	buf.Write(ts)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Marshal canonicalizes and JSON-encodes a full event slice, e.g. for
// hashing or persisting a node's transition history.
func Marshal(events []Event) ([]byte, error) {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Canonicalize()
	}
	return json.Marshal(out)
}
