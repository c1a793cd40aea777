// killswitch/event.go
package killswitch

import (
	"time"

	"github.com/google/uuid"
)

// Event is the immutable record of a single state transition. One is created
// on every transition, appended to the in-memory history and handed to the
// audit trail; it is never mutated afterwards.
type Event struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	PreviousState State             `json:"previous_state"`
	NewState      State             `json:"new_state"`
	Reason        string            `json:"reason"`
	TriggeredBy   string            `json:"triggered_by"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent builds a transition event. The metadata map is copied so later
// mutation by the caller cannot reach into the recorded event.
func NewEvent(prev, next State, reason, triggeredBy string, metadata map[string]string) Event {
	var md map[string]string
	if len(metadata) > 0 {
		md = make(map[string]string, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
	}
	return Event{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		PreviousState: prev,
		NewState:      next,
		Reason:        reason,
		TriggeredBy:   triggeredBy,
		Metadata:      md,
	}
}
