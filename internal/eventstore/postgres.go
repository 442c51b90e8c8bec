package eventstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/google/uuid"
)

// PostgresConfig configures the durable event store: batching, the stream
// cache, and the schema-version guard described in the persistence schema.
type PostgresConfig struct {
	BatchSize       int
	FlushInterval   time.Duration
	MaxBufferSize   int // hard cap; forces a flush and logs an overflow metric
	StreamCacheSize int
	SchemaVersion   int
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = 1000
	}
	if c.StreamCacheSize <= 0 {
		c.StreamCacheSize = 256
	}
	if c.SchemaVersion <= 0 {
		c.SchemaVersion = 1
	}
	return c
}

// Postgres is the durable Store. Appends are buffered in memory and
// flushed in batches grouped by stream, each stream's batch committed in
// its own transaction guarded by a per-stream advisory lock derived from a
// hash of the stream id, split into two 32-bit keys for pg_advisory_xact_lock.
type Postgres struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig

	mu     sync.Mutex
	buffer []Event
	cache  *lruCache

	stopCh chan struct{}
	wg     sync.WaitGroup

	versionConflicts int64
	totalAppends     int64
	totalReads       int64
	cacheHits        int64
	cacheMisses      int64
	bufferOverflows  int64
}

// NewPostgres verifies the schema_version singleton and returns a store
// with its background flush loop running. Call Close to drain the buffer
// and stop the loop.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, cfg PostgresConfig) (*Postgres, error) {
	cfg = cfg.withDefaults()
	if err := ensureSchema(ctx, pool, cfg.SchemaVersion); err != nil {
		return nil, err
	}
	p := &Postgres{
		pool:   pool,
		cfg:    cfg,
		cache:  newLRUCache(cfg.StreamCacheSize),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.flushLoop()
	return p, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool, wantVersion int) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS events (
    event_id UUID PRIMARY KEY,
    stream_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    data JSONB NOT NULL DEFAULT '{}'::jsonb,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    version INT NOT NULL,
    correlation_id UUID,
    archived BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE (stream_id, version)
);
CREATE INDEX IF NOT EXISTS events_stream_timestamp_idx ON events(stream_id, timestamp);
CREATE INDEX IF NOT EXISTS events_type_timestamp_idx ON events(event_type, timestamp);
CREATE INDEX IF NOT EXISTS events_unarchived_timestamp_idx ON events(timestamp) WHERE NOT archived;

CREATE TABLE IF NOT EXISTS archived_events (
    original_event_id UUID PRIMARY KEY,
    stream_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    compressed_data TEXT NOT NULL,
    original_timestamp TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS event_store_metadata (
    id BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
    schema_version INT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("ensure event store schema: %w", err)
	}

	var version int
	err = pool.QueryRow(ctx, `SELECT schema_version FROM event_store_metadata WHERE id = TRUE`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := pool.Exec(ctx, `INSERT INTO event_store_metadata (id, schema_version) VALUES (TRUE, $1)`, wantVersion); err != nil {
			return fmt.Errorf("seed event store schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read event store schema version: %w", err)
	}
	if version != wantVersion {
		return fmt.Errorf("event store schema version mismatch: have %d, want %d", version, wantVersion)
	}
	return nil
}

// streamAdvisoryKeys splits a 64-bit FNV hash of streamID into two 32-bit
// keys for pg_advisory_xact_lock(int, int), the two-key portability shim
// noted for the per-stream mutual exclusion requirement.
func streamAdvisoryKeys(streamID string) (int32, int32) {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(streamID); i++ {
		h ^= uint64(streamID[i])
		h *= 1099511628211
	}
	return int32(h >> 32), int32(h & 0xffffffff)
}

// Append buffers ev for the next batched flush. The buffer is flushed
// immediately if it has reached the hard cap. The version is not checked
// here: a conflict found at flush time requeues the stream's events and
// is not returned to the caller as *ConcurrencyError.
func (p *Postgres) Append(ctx context.Context, ev Event) error {
	p.mu.Lock()
	p.buffer = append(p.buffer, ev)
	p.cache.invalidate(ev.StreamID)
	overflow := len(p.buffer) >= p.cfg.MaxBufferSize
	if overflow {
		p.bufferOverflows++
	}
	p.mu.Unlock()

	if overflow {
		log.Warn().Int("buffer_size", p.cfg.MaxBufferSize).Msg("eventstore: write buffer hard cap reached, forcing flush")
		return p.flush(ctx)
	}
	return nil
}

func (p *Postgres) flushLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			_ = p.flush(context.Background())
			return
		case <-ticker.C:
			p.mu.Lock()
			due := len(p.buffer) >= p.cfg.BatchSize || len(p.buffer) > 0
			p.mu.Unlock()
			if due {
				if err := p.flush(context.Background()); err != nil {
					log.Error().Err(err).Msg("eventstore: periodic flush failed")
				}
			}
		}
	}
}

// flush groups buffered events by stream and commits each stream's batch
// in its own transaction with its own version check. On conflict or I/O
// failure that stream's events are pushed back to the front of the buffer
// preserving order, matching the source's recovery behavior.
func (p *Postgres) flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	byStream := make(map[string][]Event)
	order := make([]string, 0)
	for _, ev := range batch {
		if _, ok := byStream[ev.StreamID]; !ok {
			order = append(order, ev.StreamID)
		}
		byStream[ev.StreamID] = append(byStream[ev.StreamID], ev)
	}

	var failed []Event
	for _, streamID := range order {
		if err := p.flushStream(ctx, streamID, byStream[streamID]); err != nil {
			log.Error().Err(err).Str("stream_id", streamID).Msg("eventstore: stream flush failed, requeuing")
			failed = append(failed, byStream[streamID]...)
		}
	}

	if len(failed) > 0 {
		p.mu.Lock()
		p.buffer = append(failed, p.buffer...)
		p.mu.Unlock()
	}
	return nil
}

func (p *Postgres) flushStream(ctx context.Context, streamID string, events []Event) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	k1, k2 := streamAdvisoryKeys(streamID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, k1, k2); err != nil {
		return err
	}

	var last int
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), -1) FROM events WHERE stream_id = $1`, streamID).Scan(&last)
	if err != nil {
		return err
	}

	for _, ev := range events {
		expected := last + 1
		if ev.Version != expected {
			p.mu.Lock()
			p.versionConflicts++
			p.mu.Unlock()
			return &ConcurrencyError{StreamID: streamID, ExpectedVersion: ev.Version, ActualVersion: last}
		}
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
		var corr any
		if ev.CorrelationID != "" {
			corr = ev.CorrelationID
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO events (event_id, stream_id, event_type, data, timestamp, version, correlation_id, archived)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`,
			ev.EventID, streamID, ev.EventType, payload, ev.Timestamp, ev.Version, corr); err != nil {
			return err
		}
		last = ev.Version
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.totalAppends += int64(len(events))
	p.mu.Unlock()
	return nil
}

func (p *Postgres) GetStream(ctx context.Context, streamID string, fromVersion int) ([]Event, error) {
	p.mu.Lock()
	p.totalReads++
	if fromVersion == 0 {
		if cached, ok := p.cache.get(streamID); ok {
			p.cacheHits++
			p.mu.Unlock()
			out := make([]Event, len(cached))
			copy(out, cached)
			return out, nil
		}
		p.cacheMisses++
	}
	p.mu.Unlock()

	rows, err := p.pool.Query(ctx, `
SELECT event_id, event_type, data, timestamp, version, COALESCE(correlation_id::text, '')
FROM events
WHERE stream_id = $1 AND version >= $2 AND NOT archived
ORDER BY version ASC`, streamID, fromVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows, streamID)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Event{}
	}

	if fromVersion == 0 && len(out) > 0 {
		p.mu.Lock()
		cached := make([]Event, len(out))
		copy(cached, out)
		p.cache.put(streamID, cached)
		p.mu.Unlock()
	}
	return out, nil
}

// rowScanner is satisfied by pgx.Rows; kept as an interface so scanEvent
// can be reused by both GetStream and GetEventsAfter.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(rs rowScanner, fallbackStreamID string) (Event, error) {
	var (
		eventID   uuid.UUID
		eventType string
		data      []byte
		ts        time.Time
		version   int
		corrID    string
	)
	if err := rs.Scan(&eventID, &eventType, &data, &ts, &version, &corrID); err != nil {
		return Event{}, err
	}
	var payload map[string]any
	_ = json.Unmarshal(data, &payload)
	return Event{
		EventID:       eventID.String(),
		StreamID:      fallbackStreamID,
		EventType:     eventType,
		Payload:       payload,
		Timestamp:     ts,
		Version:       version,
		CorrelationID: corrID,
	}, nil
}

// GetEventsAfter returns events at or after ts, capped at 1000 rows.
func (p *Postgres) GetEventsAfter(ctx context.Context, ts int64, eventTypes []string) ([]Event, error) {
	p.mu.Lock()
	p.totalReads++
	p.mu.Unlock()

	cutoff := time.Unix(0, ts)
	var rows pgx.Rows
	var err error
	if len(eventTypes) > 0 {
		rows, err = p.pool.Query(ctx, `
SELECT event_id, stream_id, event_type, data, timestamp, version, COALESCE(correlation_id::text, '')
FROM events
WHERE timestamp >= $1 AND event_type = ANY($2) AND NOT archived
ORDER BY timestamp ASC
LIMIT 1000`, cutoff, eventTypes)
	} else {
		rows, err = p.pool.Query(ctx, `
SELECT event_id, stream_id, event_type, data, timestamp, version, COALESCE(correlation_id::text, '')
FROM events
WHERE timestamp >= $1 AND NOT archived
ORDER BY timestamp ASC
LIMIT 1000`, cutoff)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			eventID   uuid.UUID
			streamID  string
			eventType string
			data      []byte
			evts      time.Time
			version   int
			corrID    string
		)
		if err := rows.Scan(&eventID, &streamID, &eventType, &data, &evts, &version, &corrID); err != nil {
			return nil, err
		}
		var payload map[string]any
		_ = json.Unmarshal(data, &payload)
		out = append(out, Event{
			EventID: eventID.String(), StreamID: streamID, EventType: eventType,
			Payload: payload, Timestamp: evts, Version: version, CorrelationID: corrID,
		})
	}
	return out, rows.Err()
}

func (p *Postgres) GetLastEvent(ctx context.Context, streamID string) (Event, bool, error) {
	row := p.pool.QueryRow(ctx, `
SELECT event_id, event_type, data, timestamp, version, COALESCE(correlation_id::text, '')
FROM events
WHERE stream_id = $1 AND NOT archived
ORDER BY version DESC
LIMIT 1`, streamID)
	ev, err := scanEvent(row, streamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

func (p *Postgres) StreamExists(ctx context.Context, streamID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE stream_id = $1)`, streamID).Scan(&exists)
	return exists, err
}

func (p *Postgres) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	var rate float64
	if total := p.cacheHits + p.cacheMisses; total > 0 {
		rate = float64(p.cacheHits) / float64(total) * 100
	}
	return Metrics{
		TotalAppends:     p.totalAppends,
		TotalReads:       p.totalReads,
		CacheHits:        p.cacheHits,
		CacheMisses:      p.cacheMisses,
		CacheHitRate:     rate,
		VersionConflicts: p.versionConflicts,
	}
}

// Close stops the flush loop, draining any buffered events first.
func (p *Postgres) Close() error {
	close(p.stopCh)
	p.wg.Wait()
	return nil
}

// ArchiveConfig governs the scheduled archival job.
type ArchiveConfig struct {
	OlderThan time.Duration
	BatchSize int
	DryRun    bool
}

func (c ArchiveConfig) withDefaults() ArchiveConfig {
	if c.OlderThan <= 0 {
		c.OlderThan = 30 * 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// RunArchival performs one archival pass: (1) select unarchived events
// older than the cutoff, (2) gzip+base64 the payload of each into
// archived_events, (3) mark the originals archived. Each batch commits in
// a single transaction, so a retry after a mid-batch failure only
// re-archives rows still marked unarchived — the insert into
// archived_events uses the original event id as primary key, so retrying
// an already-archived row is a harmless conflict, making the whole pass
// idempotent on retry. In dry-run mode rows are selected and logged but
// neither archived table nor the archived flag is touched.
func (p *Postgres) RunArchival(ctx context.Context, cfg ArchiveConfig) (int, error) {
	cfg = cfg.withDefaults()
	cutoff := time.Now().UTC().Add(-cfg.OlderThan)

	rows, err := p.pool.Query(ctx, `
SELECT event_id, stream_id, event_type, data, timestamp
FROM events
WHERE NOT archived AND timestamp < $1
ORDER BY timestamp ASC
LIMIT $2`, cutoff, cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	type candidate struct {
		id        uuid.UUID
		streamID  string
		eventType string
		data      []byte
		ts        time.Time
	}
	var batch []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.streamID, &c.eventType, &c.data, &c.ts); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if cfg.DryRun {
		log.Info().Int("candidates", len(batch)).Msg("eventstore: archival dry run")
		return len(batch), nil
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range batch {
		compressed, err := gzipBase64(c.data)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO archived_events (original_event_id, stream_id, event_type, compressed_data, original_timestamp)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (original_event_id) DO NOTHING`, c.id, c.streamID, c.eventType, compressed, c.ts); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, `UPDATE events SET archived = TRUE WHERE event_id = $1`, c.id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// RunArchivalLoop runs RunArchival on the given interval until ctx is
// canceled. A failed pass backs off one hour before retrying rather than
// spinning, matching the scheduled-job recovery behavior.
func (p *Postgres) RunArchivalLoop(ctx context.Context, cfg ArchiveConfig, interval time.Duration) {
	const errorBackoff = time.Hour
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			n, err := p.RunArchival(ctx, cfg)
			if err != nil {
				log.Error().Err(err).Msg("eventstore: archival pass failed, backing off")
				timer.Reset(errorBackoff)
				continue
			}
			if n > 0 {
				log.Info().Int("archived", n).Msg("eventstore: archival pass complete")
			}
			timer.Reset(interval)
		}
	}
}

func gzipBase64(data []byte) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decompressArchived(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
