package analyzers

import (
	"math"
	"strings"

	"agentcore/internal/stm"
)

// TraitManifestation is one detected trait signal above the detection
// threshold, ready for C7's partner-persona manifestations batch.
type TraitManifestation struct {
	Trait      string
	Score      float64 // [0,1]
	MarkerHits int
}

// traitMarkers maps a trait name to the linguistic markers that signal
// it in bot-side text.
var traitMarkers = map[string][]string{
	"curiosity":  {"wonder", "curious", "interesting", "i wonder", "what if"},
	"empathy":    {"understand", "feel for you", "sorry to hear", "that must be"},
	"humor":      {"haha", "joke", "funny", "lol"},
	"confidence": {"definitely", "certainly", "i'm sure", "without doubt"},
	"caution":    {"might", "perhaps", "not sure", "could be"},
}

// DetectionThreshold is the minimum score for a trait to be reported.
const DetectionThreshold = 0.15

// Traits scans bot-side rows for per-trait markers, scales by a
// logarithmic curve of marker count to avoid linear explosion with long
// histories, and returns manifestations clearing DetectionThreshold.
func Traits(rows []stm.Row) []TraitManifestation {
	counts := make(map[string]int, len(traitMarkers))
	for _, row := range rows {
		if row.MessageType != stm.Bot {
			continue
		}
		lower := strings.ToLower(row.Content)
		for trait, markers := range traitMarkers {
			for _, m := range markers {
				counts[trait] += strings.Count(lower, m)
			}
		}
	}

	var out []TraitManifestation
	for trait, count := range counts {
		if count == 0 {
			continue
		}
		score := clamp01(math.Log(float64(count)+1) / math.Log(10))
		if score >= DetectionThreshold {
			out = append(out, TraitManifestation{Trait: trait, Score: score, MarkerHits: count})
		}
	}
	return out
}
