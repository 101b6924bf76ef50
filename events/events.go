// Package events defines the structured records emitted while a batch tool
// walks a descriptor directory.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of event emitted by a batch run.
type Kind string

const (
	// RunStarted is emitted once the source directory has been listed.
	RunStarted Kind = "run.started"

	// FileProcessed is emitted when a descriptor was handled successfully.
	FileProcessed Kind = "file.processed"

	// FileFailed is emitted when a descriptor could not be read, parsed or
	// did not pass its checks.
	FileFailed Kind = "file.failed"

	// RunFinished is emitted when the batch completes.
	RunFinished Kind = "run.finished"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// Event is a record of what happened during a batch run.
type Event struct {
	// Kind identifies the event type.
	Kind Kind

	// RunID is the unique identifier for this run.
	RunID string

	// Tool names the batch tool ("validate" or "convert").
	Tool string

	// File is the descriptor path (empty for run-level events).
	File string

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run or file started.
	Elapsed time.Duration

	// Payload contains event-specific data: "files", "rows", "error",
	// "missing", "valid".
	Payload map[string]any
}

// New creates an event with the current timestamp.
func New(kind Kind, runID, tool string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Tool:    tool,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// Emitter receives events. A nil Emitter drops them.
type Emitter func(Event)

// Emit forwards e when the emitter is set.
func (emit Emitter) Emit(e Event) {
	if emit != nil {
		emit(e)
	}
}

// Multi fans an event out to every non-nil emitter in order.
func Multi(emitters ...Emitter) Emitter {
	return func(e Event) {
		for _, emit := range emitters {
			emit.Emit(e)
		}
	}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// PayloadInt reads an integer payload value, returning 0 when absent.
func (e Event) PayloadInt(key string) int {
	switch v := e.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// PayloadString reads a string payload value, returning "" when absent.
func (e Event) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}
