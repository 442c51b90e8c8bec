package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// timestampEntry is one row of the binary-searchable timestamp index; it
// never needs the full event, only enough to locate it.
type timestampEntry struct {
	ts       time.Time
	streamID string
	position int
}

// MemoryConfig bounds the in-process event store.
type MemoryConfig struct {
	StreamCacheSize int
	MaxMemoryEvents int // eviction fires once TotalEvents exceeds this
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.StreamCacheSize <= 0 {
		c.StreamCacheSize = 256
	}
	if c.MaxMemoryEvents <= 0 {
		c.MaxMemoryEvents = 100_000
	}
	return c
}

// Memory is the in-process Store: an append-only map of streams guarded by
// per-stream locks, a binary-searchable timestamp index for
// GetEventsAfter, and an LRU cache of full-stream snapshots. When
// TotalEvents exceeds MaxMemoryEvents, whole streams are evicted
// oldest-first (by their most recent event's timestamp) and the timestamp
// index is rebuilt from the surviving streams.
type Memory struct {
	cfg MemoryConfig

	mu      sync.Mutex // guards streams, locks, index, metrics, cache
	streams map[string][]Event
	locks   map[string]*sync.Mutex
	index   []timestampEntry
	cache   *lruCache

	totalEvents      int
	totalAppends     int64
	totalReads       int64
	cacheHits        int64
	cacheMisses      int64
	versionConflicts int64
	totalCleanups    int64
}

func NewMemory(cfg MemoryConfig) *Memory {
	cfg = cfg.withDefaults()
	return &Memory{
		cfg:     cfg,
		streams: make(map[string][]Event),
		locks:   make(map[string]*sync.Mutex),
		cache:   newLRUCache(cfg.StreamCacheSize),
	}
}

func (m *Memory) streamLock(streamID string) *sync.Mutex {
	m.mu.Lock()
	l, ok := m.locks[streamID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[streamID] = l
	}
	m.mu.Unlock()
	return l
}

func (m *Memory) Append(_ context.Context, ev Event) error {
	lock := m.streamLock(ev.StreamID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	current := len(m.streams[ev.StreamID])
	if current > 0 && ev.Version != current {
		m.versionConflicts++
		actual := current - 1
		m.mu.Unlock()
		return &ConcurrencyError{StreamID: ev.StreamID, ExpectedVersion: ev.Version, ActualVersion: actual}
	}
	if current == 0 && ev.Version != 0 {
		m.versionConflicts++
		m.mu.Unlock()
		return &ConcurrencyError{StreamID: ev.StreamID, ExpectedVersion: ev.Version, ActualVersion: -1}
	}

	m.streams[ev.StreamID] = append(m.streams[ev.StreamID], ev)
	position := len(m.streams[ev.StreamID]) - 1
	m.insertIndex(timestampEntry{ts: ev.Timestamp, streamID: ev.StreamID, position: position})
	m.cache.invalidate(ev.StreamID)
	m.totalEvents++
	m.totalAppends++
	needsCleanup := m.totalEvents > m.cfg.MaxMemoryEvents
	m.mu.Unlock()

	if needsCleanup {
		m.cleanupOldEvents()
	}
	return nil
}

func (m *Memory) insertIndex(e timestampEntry) {
	i := sort.Search(len(m.index), func(i int) bool { return !m.index[i].ts.Before(e.ts) })
	m.index = append(m.index, timestampEntry{})
	copy(m.index[i+1:], m.index[i:])
	m.index[i] = e
}

func (m *Memory) GetStream(_ context.Context, streamID string, fromVersion int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalReads++

	if fromVersion == 0 {
		if cached, ok := m.cache.get(streamID); ok {
			m.cacheHits++
			out := make([]Event, len(cached))
			copy(out, cached)
			return out, nil
		}
		m.cacheMisses++
	}

	all := m.streams[streamID]
	if fromVersion >= len(all) {
		return []Event{}, nil
	}
	out := make([]Event, len(all)-fromVersion)
	copy(out, all[fromVersion:])

	if fromVersion == 0 && len(out) > 0 {
		cached := make([]Event, len(out))
		copy(cached, out)
		m.cache.put(streamID, cached)
	}
	return out, nil
}

func (m *Memory) GetEventsAfter(_ context.Context, ts int64, eventTypes []string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalReads++

	cutoff := time.Unix(0, ts)
	start := sort.Search(len(m.index), func(i int) bool { return !m.index[i].ts.Before(cutoff) })

	var typeSet map[string]bool
	if len(eventTypes) > 0 {
		typeSet = make(map[string]bool, len(eventTypes))
		for _, t := range eventTypes {
			typeSet[t] = true
		}
	}

	var out []Event
	for _, entry := range m.index[start:] {
		rows := m.streams[entry.streamID]
		if entry.position >= len(rows) {
			continue
		}
		ev := rows[entry.position]
		if typeSet != nil && !typeSet[ev.EventType] {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *Memory) GetLastEvent(_ context.Context, streamID string) (Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.streams[streamID]
	if len(rows) == 0 {
		return Event{}, false, nil
	}
	return rows[len(rows)-1], true, nil
}

func (m *Memory) StreamExists(_ context.Context, streamID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[streamID]
	return ok, nil
}

func (m *Memory) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rate float64
	if total := m.cacheHits + m.cacheMisses; total > 0 {
		rate = float64(m.cacheHits) / float64(total) * 100
	}
	return Metrics{
		TotalEvents:      m.totalEvents,
		TotalAppends:     m.totalAppends,
		TotalReads:       m.totalReads,
		CacheHits:        m.cacheHits,
		CacheMisses:      m.cacheMisses,
		CacheHitRate:     rate,
		VersionConflicts: m.versionConflicts,
		TotalCleanups:    m.totalCleanups,
		StreamCount:      len(m.streams),
		IndexSize:        len(m.index),
	}
}

func (m *Memory) Close() error { return nil }

// cleanupOldEvents evicts whole streams oldest-first (ranked by each
// stream's most recent event timestamp) until TotalEvents drops back to
// the configured maximum, then rebuilds the timestamp index and resets
// the stream cache from scratch.
func (m *Memory) cleanupOldEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()

	toRemove := m.totalEvents - m.cfg.MaxMemoryEvents
	if toRemove <= 0 {
		return
	}

	type streamAge struct {
		streamID string
		lastTS   time.Time
		size     int
	}
	ages := make([]streamAge, 0, len(m.streams))
	for id, rows := range m.streams {
		if len(rows) == 0 {
			continue
		}
		ages = append(ages, streamAge{streamID: id, lastTS: rows[len(rows)-1].Timestamp, size: len(rows)})
	}
	sort.Slice(ages, func(i, j int) bool { return ages[i].lastTS.Before(ages[j].lastTS) })

	removed := 0
	for _, a := range ages {
		if removed >= toRemove {
			break
		}
		delete(m.streams, a.streamID)
		delete(m.locks, a.streamID)
		m.totalEvents -= a.size
		removed += a.size
	}

	m.index = m.index[:0]
	for id, rows := range m.streams {
		for pos, ev := range rows {
			m.index = append(m.index, timestampEntry{ts: ev.Timestamp, streamID: id, position: pos})
		}
	}
	sort.Slice(m.index, func(i, j int) bool { return m.index[i].ts.Before(m.index[j].ts) })

	m.cache = newLRUCache(m.cfg.StreamCacheSize)
	m.totalCleanups++
	log.Warn().Int("removed_events", removed).Int("remaining_streams", len(m.streams)).
		Msg("eventstore: evicted oldest streams under memory pressure")
}
