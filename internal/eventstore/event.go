// Package eventstore implements the append-only, per-stream versioned
// event log. Two Store implementations are provided: Memory (an in-process
// map with an LRU stream cache and oldest-stream eviction) and Postgres (a
// durable variant with batched writes and scheduled archival).
package eventstore

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record appended to a stream. Once constructed it
// must not be mutated; archival copies rows into archived_events and
// flags the originals archived (it does not delete them), and it never
// edits payloads in place.
type Event struct {
	EventID       string
	StreamID      string
	EventType     string
	Payload       map[string]any
	Timestamp     time.Time
	Version       int
	CorrelationID string
	Archived      bool
}

// New builds an Event ready for Append, stamping a fresh id and timestamp.
func New(streamID, eventType string, payload map[string]any, version int, correlationID string) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		EventID:       uuid.NewString(),
		StreamID:      streamID,
		EventType:     eventType,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		Version:       version,
		CorrelationID: correlationID,
	}
}

// ConcurrencyError is raised when the expected version of an append does
// not match the stream's current head. It is recoverable: the caller
// re-reads the last version and retries with it incremented.
type ConcurrencyError struct {
	StreamID        string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConcurrencyError) Error() string {
	return "eventstore: version conflict on stream " + e.StreamID
}
