package analyzers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"agentcore/internal/stm"
)

func rowsOf(contents []string, kind stm.MessageKind) []stm.Row {
	rows := make([]stm.Row, len(contents))
	for i, c := range contents {
		rows[i] = stm.Row{Content: c, MessageType: kind, SequenceNumber: int64(i), Timestamp: time.Now()}
	}
	return rows
}

func TestStyleReturnsNeutralBelowMinMessages(t *testing.T) {
	result := Style(rowsOf([]string{"hi", "there"}, stm.User))
	assert.Equal(t, StyleVector{0.5, 0.5, 0.5, 0.5}, result.Vector)
	assert.Equal(t, 0.1, result.Confidence)
}

func TestStyleDetectsPlayfulness(t *testing.T) {
	contents := []string{"haha nice", "lol that's fun", "haha again", "lol!", "fun times haha"}
	result := Style(rowsOf(contents, stm.User))
	assert.Greater(t, result.Vector.Playfulness, 0.0)
}

func TestStyleVectorComponentsClamped(t *testing.T) {
	contents := make([]string, 20)
	for i := range contents {
		contents[i] = "haha lol haha lol fun joke haha lol fun joke"
	}
	result := Style(rowsOf(contents, stm.User))
	assert.LessOrEqual(t, result.Vector.Playfulness, 1.0)
	assert.GreaterOrEqual(t, result.Vector.Playfulness, 0.0)
}

func TestTraitsOnlyScansBotMessages(t *testing.T) {
	rows := rowsOf([]string{"i wonder what that means", "curious indeed", "interesting point"}, stm.User)
	manifestations := Traits(rows)
	assert.Empty(t, manifestations)
}

func TestTraitsDetectsAboveThreshold(t *testing.T) {
	rows := rowsOf([]string{
		"i wonder what that means", "how curious, that's interesting",
		"i wonder if that's true", "curious and interesting again",
	}, stm.Bot)
	manifestations := Traits(rows)
	found := false
	for _, m := range manifestations {
		if m.Trait == "curiosity" {
			found = true
			assert.GreaterOrEqual(t, m.Score, DetectionThreshold)
		}
	}
	assert.True(t, found)
}
