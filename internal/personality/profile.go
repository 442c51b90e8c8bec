package personality

import (
	"context"
	"math"
	"sort"
	"time"
)

// Profile is the assembled per-user personality snapshot C3 attaches to a
// response: active trait values plus diagnostic metrics.
type Profile struct {
	UserID     string
	Traits     map[string]float64
	Stability  float64
	Dominance  float64
	Balance    float64
	Protection Metrics
}

// StyleEmotionInput carries the per-trait style and emotion modifiers the
// orchestrator derives from the style analyzer and sentiment signal for
// this turn. Traits absent from either map default to a neutral 1.0
// modifier.
type StyleEmotionInput struct {
	StyleMod   map[string]float64
	EmotionMod map[string]float64
}

func (e *Engine) modFor(m map[string]float64, trait string) float64 {
	if v, ok := m[trait]; ok {
		return v
	}
	return 1.0
}

// GetPersonalityProfile computes the active value of every base trait for
// userID and derives the three diagnostic metrics over that vector.
func (e *Engine) GetPersonalityProfile(_ context.Context, userID string, in StyleEmotionInput, now time.Time) Profile {
	traits := make(map[string]float64, len(e.order))
	for _, name := range e.order {
		styleMod := e.modFor(in.StyleMod, name)
		emotionMod := e.modFor(in.EmotionMod, name)
		value, _ := e.ActiveValue(userID, name, styleMod, emotionMod, now)
		traits[name] = value
	}

	return Profile{
		UserID:     userID,
		Traits:     traits,
		Stability:  stability(traits),
		Dominance:  dominance(traits),
		Balance:    balance(traits),
		Protection: e.Metrics(),
	}
}

// stability is 1 minus the normalized standard deviation of the trait
// vector: a perfectly flat vector (all traits equal) is maximally stable.
func stability(traits map[string]float64) float64 {
	if len(traits) == 0 {
		return 1
	}
	var sum float64
	for _, v := range traits {
		sum += v
	}
	mean := sum / float64(len(traits))

	var variance float64
	for _, v := range traits {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(traits))
	stddev := math.Sqrt(variance)

	// normalize against the maximum possible stddev for values in [0,1],
	// which is 0.5 (half mass at 0, half at 1).
	return clamp01(1 - stddev/0.5)
}

// dominance is the gap between the top trait and the mean of the next
// two, signaling how much one trait leads the profile.
func dominance(traits map[string]float64) float64 {
	if len(traits) == 0 {
		return 0
	}
	values := make([]float64, 0, len(traits))
	for _, v := range traits {
		values = append(values, v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	if len(values) == 1 {
		return values[0]
	}
	runnerUpCount := 2
	if len(values)-1 < runnerUpCount {
		runnerUpCount = len(values) - 1
	}
	var runnerUpSum float64
	for _, v := range values[1 : 1+runnerUpCount] {
		runnerUpSum += v
	}
	runnerUpMean := runnerUpSum / float64(runnerUpCount)
	return clamp01(values[0] - runnerUpMean)
}

// balance is normalized Shannon entropy of the trait vector treated as a
// distribution: 1.0 when all traits carry equal weight, 0 when one trait
// holds all the mass.
func balance(traits map[string]float64) float64 {
	var total float64
	for _, v := range traits {
		total += v
	}
	if total <= 0 || len(traits) <= 1 {
		return 1
	}
	var entropy float64
	for _, v := range traits {
		if v <= 0 {
			continue
		}
		p := v / total
		entropy -= p * math.Log(p)
	}
	maxEntropy := math.Log(float64(len(traits)))
	if maxEntropy == 0 {
		return 1
	}
	return clamp01(entropy / maxEntropy)
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
