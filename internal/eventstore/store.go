package eventstore

import "context"

// Metrics mirrors the counters the cooperative-scheduling original exposes
// for operational dashboards; both Store implementations fill it in.
type Metrics struct {
	TotalEvents      int
	TotalAppends     int64
	TotalReads       int64
	CacheHits        int64
	CacheMisses      int64
	CacheHitRate     float64
	VersionConflicts int64
	TotalCleanups    int64
	StreamCount      int
	IndexSize        int
}

// Store is the append-only event log contract shared by the memory and
// Postgres variants.
type Store interface {
	// Append persists ev, whose Version must equal the stream's current
	// length (0 for a brand-new stream). Memory checks the version here
	// and returns *ConcurrencyError on a mismatch; Postgres buffers ev and
	// checks the version only when the batch is flushed.
	Append(ctx context.Context, ev Event) error

	// GetStream returns events for streamID starting at fromVersion,
	// ordered by version, skipping archived rows.
	GetStream(ctx context.Context, streamID string, fromVersion int) ([]Event, error)

	// GetEventsAfter returns events with Timestamp >= ts, optionally
	// restricted to eventTypes, in ascending timestamp order.
	GetEventsAfter(ctx context.Context, ts int64, eventTypes []string) ([]Event, error)

	// GetLastEvent returns the highest-version non-archived event for the
	// stream, or ok=false if the stream is empty or unknown.
	GetLastEvent(ctx context.Context, streamID string) (Event, bool, error)

	StreamExists(ctx context.Context, streamID string) (bool, error)

	Metrics() Metrics

	Close() error
}
