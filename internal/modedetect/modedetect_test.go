package modedetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreFallsBackToTalkOnNoSignal(t *testing.T) {
	mode, confidence := Score(Config{}, "xyz qux zork", nil, "", 0)
	assert.Equal(t, ModeTalk, mode)
	assert.Equal(t, 0.5, confidence)
}

func TestScoreExactPhraseWinsExpert(t *testing.T) {
	mode, confidence := Score(Config{}, "Can you explain in detail how does this algorithm work?", nil, "", 0)
	assert.Equal(t, ModeExpert, mode)
	assert.Greater(t, confidence, 0.0)
}

func TestScoreCreativePhrase(t *testing.T) {
	mode, _ := Score(Config{}, "Write me a story about a dragon", nil, "", 0)
	assert.Equal(t, ModeCreative, mode)
}

func TestPartnerModelOverridesAboveThreshold(t *testing.T) {
	mode, confidence := Score(Config{ConfidenceThreshold: 0.6}, "anything at all", nil, ModeCreative, 0.9)
	assert.Equal(t, ModeCreative, mode)
	assert.Equal(t, 0.9, confidence)
}

func TestPartnerModelIgnoredBelowThreshold(t *testing.T) {
	mode, _ := Score(Config{ConfidenceThreshold: 0.95}, "how does this work", nil, ModeCreative, 0.5)
	assert.Equal(t, ModeExpert, mode)
}

func TestStableHistoryBoostsConfidence(t *testing.T) {
	history := []Mode{ModeExpert, ModeExpert, ModeExpert}
	_, withHistory := Score(Config{}, "explain it step by step", history, "", 0)
	_, withoutHistory := Score(Config{}, "explain it step by step", nil, "", 0)
	assert.Greater(t, withHistory, withoutHistory)
}

func TestQuestionWordBoostsExpert(t *testing.T) {
	mode, _ := Score(Config{}, "why is the sky blue", nil, "", 0)
	assert.Equal(t, ModeExpert, mode)
}
