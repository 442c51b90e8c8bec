// Package modedetect scores free text against a small set of generation
// modes using tiered pattern matching: exact phrases, then enhancer/
// suppressor-weighted contextual words, then logarithmically-scaled
// domain markers, falling back to flat pattern lists if every tier scores
// zero on every candidate mode.
package modedetect

import (
	"math"
	"strings"
)

// Mode is one of the fixed generation modes. "base" is never a detector
// output — it is the session's initial default before any text arrives.
type Mode string

const (
	ModeTalk     Mode = "talk"
	ModeExpert   Mode = "expert"
	ModeCreative Mode = "creative"
	ModeBase     Mode = "base"
)

// candidateModes are the modes this detector actually scores; ModeBase is
// never a detector output.
var candidateModes = []Mode{ModeTalk, ModeExpert, ModeCreative}

// wordPattern is one contextual-word scoring rule: score is added when
// word appears, multiplied by the enhancer factor if any enhancer word is
// also present, or zeroed (or scaled) if any suppressor word is present.
type wordPattern struct {
	word       string
	score      float64
	enhancers  []string
	suppressor []string
	suppressFactor float64 // 0 means full suppression
}

type modeRules struct {
	exactPhrases  map[string]float64
	contextWords  []wordPattern
	domainMarkers map[string]float64
	fallback      []string
}

// Config tunes detection thresholds and the stability multiplier applied
// when recent mode history agrees with a new candidate.
type Config struct {
	ConfidenceThreshold     float64 // partner-model override applies above this
	ScoreNormalizationFactor float64
	StableHistoryMultiplier float64
	QuestionWordBonus       float64
}

func (c Config) withDefaults() Config {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.ScoreNormalizationFactor <= 0 {
		c.ScoreNormalizationFactor = 10.0
	}
	if c.StableHistoryMultiplier <= 0 {
		c.StableHistoryMultiplier = 1.15
	}
	if c.QuestionWordBonus <= 0 {
		c.QuestionWordBonus = 0.1
	}
	return c
}

var rules = map[Mode]modeRules{
	ModeExpert: {
		exactPhrases: map[string]float64{
			"explain in detail": 5, "how does": 4, "what is the difference": 4,
			"can you analyze": 4, "step by step": 3,
		},
		contextWords: []wordPattern{
			{word: "explain", score: 1.5, enhancers: []string{"technical", "detail"}},
			{word: "why", score: 1.0, suppressor: []string{"joke", "kidding"}, suppressFactor: 0},
			{word: "algorithm", score: 2.0},
			{word: "compare", score: 1.2, enhancers: []string{"versus", "vs"}},
		},
		domainMarkers: map[string]float64{
			"code": 0.8, "function": 0.8, "database": 0.8, "architecture": 0.9,
			"equation": 0.9, "theorem": 0.9, "protocol": 0.8,
		},
		fallback: []string{"what", "why", "how", "explain"},
	},
	ModeCreative: {
		exactPhrases: map[string]float64{
			"write me a story": 5, "make up a": 4, "imagine if": 4, "write a poem": 5,
		},
		contextWords: []wordPattern{
			{word: "story", score: 1.8, enhancers: []string{"write", "tell"}},
			{word: "imagine", score: 1.5},
			{word: "poem", score: 2.0},
			{word: "pretend", score: 1.3, suppressor: []string{"explain"}, suppressFactor: 0.3},
		},
		domainMarkers: map[string]float64{
			"character": 0.8, "plot": 0.8, "fantasy": 0.9, "metaphor": 0.9, "verse": 0.8,
		},
		fallback: []string{"story", "poem", "imagine", "creative"},
	},
	ModeTalk: {
		exactPhrases: map[string]float64{
			"how are you": 5, "good morning": 4, "what's up": 4,
		},
		contextWords: []wordPattern{
			{word: "feel", score: 1.2},
			{word: "chat", score: 1.0},
			{word: "hi", score: 0.8, enhancers: []string{"hello", "hey"}},
		},
		domainMarkers: map[string]float64{
			"weather": 0.5, "weekend": 0.5, "friend": 0.6,
		},
		fallback: []string{"hi", "hello", "hey", "thanks"},
	},
}

var questionWords = []string{"what", "why", "how", "when", "where", "who", "which"}

// Score produces (mode, confidence) for text given the last up-to-three
// modes in history (oldest first) and, when above threshold, a
// partner-model recommendation that overrides text-based scoring.
func Score(cfg Config, text string, history []Mode, partnerMode Mode, partnerConfidence float64) (Mode, float64) {
	cfg = cfg.withDefaults()

	if partnerMode != "" && partnerConfidence > cfg.ConfidenceThreshold {
		return partnerMode, partnerConfidence
	}

	lower := strings.ToLower(text)
	scores := make(map[Mode]float64, len(candidateModes))
	for _, m := range candidateModes {
		scores[m] = scoreMode(rules[m], lower)
	}

	best, bestScore := pickBest(scores)
	if bestScore == 0 {
		best, bestScore = fallbackScore(lower)
	}

	if containsQuestionWord(lower) {
		scores[ModeExpert] += cfg.QuestionWordBonus * cfg.ScoreNormalizationFactor
		if b, s := pickBest(scores); s > bestScore {
			best, bestScore = b, s
		}
	}

	confidence := bestScore / cfg.ScoreNormalizationFactor
	if confidence > 1 {
		confidence = 1
	}
	if confidence == 0 {
		best, confidence = ModeTalk, 0.5
	}

	if stableHistory(history, best) {
		confidence *= cfg.StableHistoryMultiplier
		if confidence > 1 {
			confidence = 1
		}
	}
	return best, confidence
}

func scoreMode(r modeRules, lower string) float64 {
	var total float64
	for phrase, weight := range r.exactPhrases {
		if strings.Contains(lower, phrase) {
			total += weight
		}
	}
	for _, wp := range r.contextWords {
		if !strings.Contains(lower, wp.word) {
			continue
		}
		score := wp.score
		for _, e := range wp.enhancers {
			if strings.Contains(lower, e) {
				score *= 1.5
				break
			}
		}
		suppressed := false
		for _, s := range wp.suppressor {
			if strings.Contains(lower, s) {
				suppressed = true
				break
			}
		}
		if suppressed {
			score *= wp.suppressFactor
		}
		total += score
	}
	for marker, weight := range r.domainMarkers {
		count := strings.Count(lower, marker)
		if count > 0 {
			total += weight * (1 + math.Log(float64(count)))
		}
	}
	return total
}

func fallbackScore(lower string) (Mode, float64) {
	for _, m := range candidateModes {
		for _, w := range rules[m].fallback {
			if strings.Contains(lower, w) {
				return m, 1.0
			}
		}
	}
	return ModeTalk, 0
}

func pickBest(scores map[Mode]float64) (Mode, float64) {
	var best Mode
	var bestScore float64
	first := true
	for _, m := range candidateModes {
		s := scores[m]
		if first || s > bestScore {
			best, bestScore, first = m, s, false
		}
	}
	return best, bestScore
}

func containsQuestionWord(lower string) bool {
	for _, w := range questionWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func stableHistory(history []Mode, candidate Mode) bool {
	if len(history) < 3 {
		return false
	}
	last3 := history[len(history)-3:]
	for _, m := range last3 {
		if m != candidate {
			return false
		}
	}
	return true
}
