// Package analyzers implements the two pure batch analyzers run
// periodically over a user's recent short-term-memory history: a style
// analyzer producing a 4-D style vector, and a trait detector scanning
// bot-side messages for linguistic markers of personality traits.
package analyzers

import (
	"math"
	"strings"

	"agentcore/internal/stm"
)

// StyleVector is playfulness, seriousness, emotionality, creativity, each
// in [0,1].
type StyleVector struct {
	Playfulness  float64
	Seriousness  float64
	Emotionality float64
	Creativity   float64
}

// StyleResult is the style analyzer's output.
type StyleResult struct {
	Vector     StyleVector
	Confidence float64
}

// MinMessages below which the analyzer returns a neutral vector with low
// confidence rather than attempting to score a thin sample.
const MinMessages = 5

var (
	playfulMarkers = []string{"haha", "lol", "lmao", ":)", "!", "fun", "joke"}
	seriousMarkers = []string{"however", "therefore", "regarding", "concern", "important"}
	emotionMarkers = []string{"feel", "love", "hate", "excited", "sad", "worried", "happy"}
	creativeMarkers = []string{"imagine", "story", "what if", "dream", "create"}
)

// Style computes a time-decayed 4-D style vector plus a confidence from
// sample size and lexical diversity, over rows (oldest first).
func Style(rows []stm.Row) StyleResult {
	if len(rows) < MinMessages {
		return StyleResult{Vector: StyleVector{0.5, 0.5, 0.5, 0.5}, Confidence: 0.1}
	}

	var playful, serious, emotion, creative, weightSum float64
	vocab := make(map[string]struct{})
	totalWords := 0

	n := len(rows)
	for i, row := range rows {
		// time decay: most recent message weighted most heavily
		weight := float64(i+1) / float64(n)
		lower := strings.ToLower(row.Content)
		words := strings.Fields(lower)
		totalWords += len(words)
		for _, w := range words {
			vocab[w] = struct{}{}
		}

		playful += weight * markerDensity(lower, playfulMarkers)
		serious += weight * markerDensity(lower, seriousMarkers)
		emotion += weight * markerDensity(lower, emotionMarkers)
		creative += weight * markerDensity(lower, creativeMarkers)
		weightSum += weight
	}

	if weightSum == 0 {
		weightSum = 1
	}
	vec := StyleVector{
		Playfulness:  clamp01(playful / weightSum),
		Seriousness:  clamp01(serious / weightSum),
		Emotionality: clamp01(emotion / weightSum),
		Creativity:   clamp01(creative / weightSum),
	}

	lexicalDiversity := 0.0
	if totalWords > 0 {
		lexicalDiversity = float64(len(vocab)) / float64(totalWords)
	}
	sampleFactor := math.Min(1, float64(n)/float64(MinMessages*4))
	confidence := clamp01(0.5*sampleFactor + 0.5*lexicalDiversity)

	return StyleResult{Vector: vec, Confidence: confidence}
}

func markerDensity(lower string, markers []string) float64 {
	hits := 0
	for _, m := range markers {
		hits += strings.Count(lower, m)
	}
	if hits == 0 {
		return 0
	}
	return math.Min(1, float64(hits)*0.2)
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
