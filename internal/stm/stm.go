// Package stm implements the bounded per-user short-term memory ring
// buffer: store/retrieve recent turns with content truncation, chronology
// restoring context formatting, and degraded-mode fallback when the
// backing store is unavailable at init.
package stm

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MessageKind is one of the two STM row roles.
type MessageKind string

const (
	User MessageKind = "user"
	Bot  MessageKind = "bot"
)

// Row is one stored turn.
type Row struct {
	UserID         string
	MessageType    MessageKind
	Content        string
	Metadata       map[string]any
	SequenceNumber int64
	Timestamp      time.Time
}

// Format selects the shape GetContext returns.
type Format string

const (
	FormatStructured Format = "structured"
	FormatText       Format = "text"
)

// Config bounds the ring buffer and content length.
type Config struct {
	BufferSize        int
	MessageMaxLength   int
	DefaultFormat      Format
	RoleMapping        map[MessageKind]string // message_type -> LLM role, structured format
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 50
	}
	if c.MessageMaxLength <= 0 {
		c.MessageMaxLength = 4000
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = FormatStructured
	}
	if c.RoleMapping == nil {
		c.RoleMapping = map[MessageKind]string{User: "user", Bot: "assistant"}
	}
	return c
}

// ContextMessage is one entry of a GetContext response.
type ContextMessage struct {
	Role      string // structured format only
	Type      string // text format only
	Content   string
	Timestamp time.Time
}

// ContextResponse is the GetContext reply shape.
type ContextResponse struct {
	Messages      []ContextMessage
	TotalMessages int
	Format        Format
}

// Store is the C4 short-term memory actor's backing state: a bounded
// ring buffer per user. degraded is set when the schema check at
// construction fails; in that mode stores acknowledge without
// persisting and reads always return an empty context.
type Store struct {
	cfg Config

	mu       sync.Mutex
	buffers  map[string][]Row
	sequence int64

	degraded bool
}

// New builds a Store. schemaOK should reflect whether the backing
// storage's schema check succeeded; false puts the store in degraded
// mode for its whole lifetime.
func New(cfg Config, schemaOK bool) *Store {
	return &Store{
		cfg:      cfg.withDefaults(),
		buffers:  make(map[string][]Row),
		degraded: !schemaOK,
	}
}

// StoreMemory appends a row for userID, truncating content over the
// configured max length and marking metadata.truncated accordingly, then
// evicts the oldest row(s) if the per-user cap is exceeded.
func (s *Store) StoreMemory(_ context.Context, userID string, kind MessageKind, content string, metadata map[string]any) error {
	if s.degraded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	truncated := false
	if len(content) > s.cfg.MessageMaxLength {
		content = content[:s.cfg.MessageMaxLength]
		truncated = true
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if truncated {
		metadata["truncated"] = true
	}

	s.sequence++
	row := Row{
		UserID:         userID,
		MessageType:    kind,
		Content:        content,
		Metadata:       metadata,
		SequenceNumber: s.sequence,
		Timestamp:      time.Now().UTC(),
	}

	rows := append(s.buffers[userID], row)
	if len(rows) > s.cfg.BufferSize {
		sort.Slice(rows, func(i, j int) bool { return rows[i].SequenceNumber < rows[j].SequenceNumber })
		rows = rows[len(rows)-s.cfg.BufferSize:]
	}
	s.buffers[userID] = rows
	return nil
}

// GetContext returns up to limit of the user's most recent rows restored
// to chronological order (internally fetched newest-first, then
// reversed), in the requested format. On degraded mode returns an empty
// context rather than erroring.
func (s *Store) GetContext(_ context.Context, userID string, limit int, format Format) ContextResponse {
	if format == "" {
		format = s.cfg.DefaultFormat
	}
	if s.degraded {
		return ContextResponse{Messages: []ContextMessage{}, Format: format}
	}

	s.mu.Lock()
	rows := append([]Row{}, s.buffers[userID]...)
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].SequenceNumber > rows[j].SequenceNumber })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	// restore chronological order
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	messages := make([]ContextMessage, 0, len(rows))
	for _, r := range rows {
		switch format {
		case FormatText:
			messages = append(messages, ContextMessage{Type: string(r.MessageType), Content: r.Content, Timestamp: r.Timestamp})
		default:
			role := s.cfg.RoleMapping[r.MessageType]
			if role == "" {
				role = string(r.MessageType)
			}
			messages = append(messages, ContextMessage{Role: role, Content: r.Content, Timestamp: r.Timestamp})
		}
	}

	return ContextResponse{Messages: messages, TotalMessages: len(messages), Format: format}
}

// ClearUserMemory discards all rows for userID.
func (s *Store) ClearUserMemory(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, userID)
	return nil
}

// Count returns the current row count for userID, for tests and metrics.
func (s *Store) Count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers[userID])
}

// Rows returns a copy of userID's raw rows, newest-last, for C8 analyzers
// and C3's personality-analysis task to scan without going through
// GetContext's role/type projection.
func (s *Store) Rows(userID string, limit int) []Row {
	s.mu.Lock()
	rows := append([]Row{}, s.buffers[userID]...)
	s.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].SequenceNumber < rows[j].SequenceNumber })
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows
}
