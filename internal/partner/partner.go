// Package partner maintains a versioned model of the human partner: their
// observed communication style, inferred preferences, and a manifestation
// history, bumping a version counter only when the largest single-component
// change introduced by one update reaches a configured threshold.
package partner

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Model is one user's partner persona at its current version.
type Model struct {
	UserID          string
	Version         int
	Style           map[string]float64 // mirrors analyzers.StyleVector fields by name
	Preferences     map[string]float64
	Manifestations  map[string]float64 // trait -> smoothed score, fed by analyzers.Traits
	Confidence      float64
	LastUpdated     time.Time
	PreferredMode   string
	ModeConfidence  float64
}

// Config tunes versioning and smoothing.
type Config struct {
	ChangeThreshold float64 // max component delta required to bump Version
	SmoothingAlpha  float64 // EWMA weight given to new observations
}

func (c Config) withDefaults() Config {
	if c.ChangeThreshold <= 0 {
		c.ChangeThreshold = 0.15
	}
	if c.SmoothingAlpha <= 0 {
		c.SmoothingAlpha = 0.3
	}
	return c
}

// Store holds per-user partner models in memory, guarded by mu. A durable
// implementation would back this with the same Postgres pool as the
// event store; this in-process store is what C3 talks to today.
type Store struct {
	cfg   Config
	mu    sync.Mutex
	model map[string]*Model
}

func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg.withDefaults(), model: make(map[string]*Model)}
}

func (s *Store) getOrInit(userID string) *Model {
	m, ok := s.model[userID]
	if !ok {
		m = &Model{
			UserID:         userID,
			Version:        1,
			Style:          map[string]float64{},
			Preferences:    map[string]float64{},
			Manifestations: map[string]float64{},
			LastUpdated:    time.Now().UTC(),
		}
		s.model[userID] = m
	}
	return m
}

// GetPartnerModel returns a copy of the current model for userID,
// creating a fresh version-1 model on first contact.
func (s *Store) GetPartnerModel(_ context.Context, userID string) Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyModel(s.getOrInit(userID))
}

// Observation is one turn's worth of signal feeding the partner model:
// the style vector (as a name->value map, e.g. from analyzers.StyleVector),
// trait manifestation scores, detected mode and its confidence.
type Observation struct {
	Style          map[string]float64
	Manifestations map[string]float64
	Mode           string
	ModeConfidence float64
}

// UpdatePartnerModel folds obs into the model via exponential smoothing,
// then bumps Version when the maximum single-component delta introduced
// by this update clears ChangeThreshold -- a deliberately coarse trigger
// so small per-turn noise doesn't churn the version on every message. A
// component seen for the first time is seeded with its observed value and
// counts that whole value as its delta.
func (s *Store) UpdatePartnerModel(_ context.Context, userID string, obs Observation) Model {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.getOrInit(userID)
	maxDelta := 0.0

	for k, v := range obs.Style {
		prev, ok := m.Style[k]
		if !ok {
			prev = v
		}
		next := smooth(prev, v, s.cfg.SmoothingAlpha)
		maxDelta = math.Max(maxDelta, math.Abs(next-m.Style[k]))
		m.Style[k] = next
	}
	for k, v := range obs.Manifestations {
		prev, ok := m.Manifestations[k]
		if !ok {
			prev = v
		}
		next := smooth(prev, v, s.cfg.SmoothingAlpha)
		maxDelta = math.Max(maxDelta, math.Abs(next-m.Manifestations[k]))
		m.Manifestations[k] = next
	}

	if obs.Mode != "" && obs.ModeConfidence >= m.ModeConfidence {
		if m.PreferredMode != obs.Mode {
			maxDelta = math.Max(maxDelta, obs.ModeConfidence)
		}
		m.PreferredMode = obs.Mode
		m.ModeConfidence = obs.ModeConfidence
	}

	if maxDelta >= s.cfg.ChangeThreshold {
		m.Version++
	}

	m.Confidence = confidenceFromSampleSize(len(m.Style) + len(m.Manifestations))
	m.LastUpdated = time.Now().UTC()
	return copyModel(m)
}

// TopManifestations returns up to n trait names ranked by smoothed score,
// descending, for use in response-shaping prompts.
func (m Model) TopManifestations(n int) []string {
	type kv struct {
		k string
		v float64
	}
	pairs := make([]kv, 0, len(m.Manifestations))
	for k, v := range m.Manifestations {
		pairs = append(pairs, kv{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].v > pairs[j].v })
	if n > len(pairs) {
		n = len(pairs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].k
	}
	return out
}

func smooth(prev, next, alpha float64) float64 {
	return prev + alpha*(next-prev)
}

func confidenceFromSampleSize(n int) float64 {
	return 1 - math.Exp(-float64(n)/10.0)
}

func copyModel(m *Model) Model {
	out := *m
	out.Style = cloneMap(m.Style)
	out.Preferences = cloneMap(m.Preferences)
	out.Manifestations = cloneMap(m.Manifestations)
	return out
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
