// Package ltm implements long-term memory: a novelty-gated store atop a
// vector-similarity backend, with a per-user dynamic novelty threshold
// that calibrates during a cold-start period, and a maturity-weighted
// retrieval score that favors settled memories over very recent ones.
package ltm

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"agentcore/internal/persistence/databases"
)

// Memory is one stored long-term-memory record.
type Memory struct {
	ID               string
	UserID           string
	Content          string
	Embedding        []float32
	EmotionalValence float64 // [-1,1]
	Importance       float64
	CreatedAt        time.Time
}

// Candidate is what StoreMemory evaluates: the new observation's
// semantic, emotional, and contextual signal.
type Candidate struct {
	Content          string
	Embedding        []float32
	EmotionalValence float64
	ContextVector    []float32
}

// Config tunes cold-start calibration, the novelty blend, and maturity.
type Config struct {
	ColdStartMinThreshold float64
	PercentileFactor      float64 // applied to p90 once calibrated
	MinSamplesForCalib    int     // samples needed before switching off cold-start floor
	SemanticWeight        float64
	EmotionalWeight       float64
	ContextualWeight      float64
	SigmoidK              float64
	MaturityMidpointDays  float64
	HistoryWindow         int // novelty samples retained per user for percentile calc
}

func (c Config) withDefaults() Config {
	if c.ColdStartMinThreshold <= 0 {
		c.ColdStartMinThreshold = 0.3
	}
	if c.PercentileFactor <= 0 {
		c.PercentileFactor = 0.9
	}
	if c.MinSamplesForCalib <= 0 {
		c.MinSamplesForCalib = 20
	}
	if c.SemanticWeight <= 0 {
		c.SemanticWeight = 0.5
	}
	if c.EmotionalWeight <= 0 {
		c.EmotionalWeight = 0.2
	}
	if c.ContextualWeight <= 0 {
		c.ContextualWeight = 0.3
	}
	if c.SigmoidK <= 0 {
		c.SigmoidK = 0.15
	}
	if c.MaturityMidpointDays <= 0 {
		c.MaturityMidpointDays = 30
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 200
	}
	return c
}

type userState struct {
	noveltyHistory []float64 // ring buffer, oldest evicted first
}

// Store is C5: gates writes by novelty against a per-user dynamic
// threshold and ranks reads by similarity blended with memory maturity.
type Store struct {
	cfg Config
	vs  databases.VectorStore

	mu    sync.Mutex
	users map[string]*userState
	idSeq int64
}

func New(cfg Config, vs databases.VectorStore) *Store {
	return &Store{cfg: cfg.withDefaults(), vs: vs, users: make(map[string]*userState)}
}

func (s *Store) state(userID string) *userState {
	st, ok := s.users[userID]
	if !ok {
		st = &userState{}
		s.users[userID] = st
	}
	return st
}

// threshold returns the current dynamic novelty threshold for userID: the
// cold-start floor until MinSamplesForCalib observations have accrued,
// then max(PercentileFactor * p90(history), floor).
func (s *Store) threshold(st *userState) float64 {
	if len(st.noveltyHistory) < s.cfg.MinSamplesForCalib {
		return s.cfg.ColdStartMinThreshold
	}
	p90 := percentile(st.noveltyHistory, 0.9)
	calibrated := s.cfg.PercentileFactor * p90
	if calibrated < s.cfg.ColdStartMinThreshold {
		return s.cfg.ColdStartMinThreshold
	}
	return calibrated
}

func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// novelty blends semantic distance (1 - nearest-neighbor cosine
// similarity), emotional distance (scaled absolute valence gap against
// the nearest neighbor), and contextual distance (1 - cosine similarity
// between the candidate's context vector and its own embedding, or the
// semantic distance when no context vector is given), falling back to
// maximum novelty (1.0) when there are no neighbors yet.
func (s *Store) novelty(ctx context.Context, userID string, cand Candidate) (float64, []databases.VectorResult, error) {
	neighbors, err := s.vs.SimilaritySearch(ctx, cand.Embedding, 1, map[string]string{"user_id": userID})
	if err != nil {
		return 0, nil, err
	}
	if len(neighbors) == 0 {
		return 1.0, neighbors, nil
	}
	semanticDist := clamp01(1 - neighbors[0].Score)

	emotionalDist := 0.0
	if v, ok := neighbors[0].Metadata["valence"]; ok {
		prev := parseFloat(v)
		emotionalDist = clamp01(math.Abs(cand.EmotionalValence-prev) / 2)
	}

	contextualDist := semanticDist // no separate context backend; reuse semantic signal as proxy
	if len(cand.ContextVector) > 0 {
		contextualDist = clamp01(1 - cosine(cand.ContextVector, cand.Embedding))
	}

	blended := s.cfg.SemanticWeight*semanticDist + s.cfg.EmotionalWeight*emotionalDist + s.cfg.ContextualWeight*contextualDist
	return clamp01(blended), neighbors, nil
}

// StoreMemory evaluates cand's novelty against userID's dynamic threshold
// and writes it to the vector store only if it clears the bar, returning
// whether it was stored and the importance score assigned.
func (s *Store) StoreMemory(ctx context.Context, userID string, cand Candidate, now time.Time) (stored bool, importance float64, err error) {
	s.mu.Lock()
	st := s.state(userID)
	threshold := s.threshold(st)
	s.mu.Unlock()

	nov, _, err := s.novelty(ctx, userID, cand)
	if err != nil {
		return false, 0, err
	}

	s.mu.Lock()
	st.noveltyHistory = append(st.noveltyHistory, nov)
	if len(st.noveltyHistory) > s.cfg.HistoryWindow {
		st.noveltyHistory = st.noveltyHistory[len(st.noveltyHistory)-s.cfg.HistoryWindow:]
	}
	s.mu.Unlock()

	if nov < threshold {
		return false, 0, nil
	}

	importance = importanceScore(nov, cand.EmotionalValence)
	s.mu.Lock()
	s.idSeq++
	id := memoryID(userID, s.idSeq)
	s.mu.Unlock()

	metadata := map[string]string{
		"user_id":    userID,
		"content":    cand.Content,
		"valence":    formatFloat(cand.EmotionalValence),
		"importance": formatFloat(importance),
		"created_at": now.UTC().Format(time.RFC3339Nano),
	}
	if err := s.vs.Upsert(ctx, id, cand.Embedding, metadata); err != nil {
		return false, 0, err
	}
	return true, importance, nil
}

// importanceScore rewards high novelty and strong emotional charge
// (either valence direction) as the linear blend 0.7*novelty +
// 0.3*|valence|, clamped to [0,1].
func importanceScore(novelty, valence float64) float64 {
	charge := math.Abs(valence)
	raw := 0.7*novelty + 0.3*charge
	return clamp01(raw)
}

// Recall searches for the k memories most relevant to queryEmbedding,
// reweighting raw similarity by maturity: very fresh memories (under the
// sigmoid midpoint) are discounted relative to settled ones, so a memory
// has to earn trust by surviving rather than by being newest.
func (s *Store) Recall(ctx context.Context, userID string, queryEmbedding []float32, k int, now time.Time) ([]Memory, error) {
	hits, err := s.vs.SimilaritySearch(ctx, queryEmbedding, k*2, map[string]string{"user_id": userID})
	if err != nil {
		return nil, err
	}

	out := make([]Memory, 0, len(hits))
	for _, h := range hits {
		createdAt, _ := time.Parse(time.RFC3339Nano, h.Metadata["created_at"])
		ageDays := now.UTC().Sub(createdAt).Hours() / 24
		weighted := h.Score * s.maturity(ageDays)
		out = append(out, Memory{
			ID:               h.ID,
			UserID:           userID,
			Content:          h.Metadata["content"],
			EmotionalValence: parseFloat(h.Metadata["valence"]),
			Importance:       weighted,
			CreatedAt:        createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// maturity is the logistic curve 1/(1+exp(-k*(ageDays-midpoint))),
// approaching 1 as a memory survives past the midpoint and approaching 0
// for brand-new memories.
func (s *Store) maturity(ageDays float64) float64 {
	return 1 / (1 + math.Exp(-s.cfg.SigmoidK*(ageDays-s.cfg.MaturityMidpointDays)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
