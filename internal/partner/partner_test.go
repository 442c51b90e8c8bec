package partner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPartnerModelCreatesVersionOneOnFirstContact(t *testing.T) {
	s := NewStore(Config{})
	m := s.GetPartnerModel(nil, "u1")
	assert.Equal(t, 1, m.Version)
	assert.Empty(t, m.Style)
}

func TestUpdatePartnerModelSmoothsRepeatedObservations(t *testing.T) {
	s := NewStore(Config{SmoothingAlpha: 0.5})
	s.UpdatePartnerModel(nil, "u1", Observation{Style: map[string]float64{"playfulness": 1.0}})
	m := s.UpdatePartnerModel(nil, "u1", Observation{Style: map[string]float64{"playfulness": 1.0}})
	require.Contains(t, m.Style, "playfulness")
	assert.Greater(t, m.Style["playfulness"], 0.5)
	assert.LessOrEqual(t, m.Style["playfulness"], 1.0)
}

func TestUpdatePartnerModelBumpsVersionOnLargeDelta(t *testing.T) {
	s := NewStore(Config{ChangeThreshold: 0.1, SmoothingAlpha: 1.0})
	m := s.UpdatePartnerModel(nil, "u1", Observation{Style: map[string]float64{"playfulness": 0.9}})
	assert.Equal(t, 2, m.Version)
}

func TestUpdatePartnerModelDoesNotBumpOnSmallDelta(t *testing.T) {
	s := NewStore(Config{ChangeThreshold: 0.9, SmoothingAlpha: 0.1})
	m := s.UpdatePartnerModel(nil, "u1", Observation{Style: map[string]float64{"playfulness": 0.5}})
	assert.Equal(t, 1, m.Version)
}

func TestUpdatePartnerModelTracksPreferredModeOnHigherConfidence(t *testing.T) {
	s := NewStore(Config{})
	s.UpdatePartnerModel(nil, "u1", Observation{Mode: "talk", ModeConfidence: 0.4})
	m := s.UpdatePartnerModel(nil, "u1", Observation{Mode: "expert", ModeConfidence: 0.9})
	assert.Equal(t, "expert", m.PreferredMode)
	assert.Equal(t, 0.9, m.ModeConfidence)
}

func TestUpdatePartnerModelIgnoresLowerConfidenceModeObservation(t *testing.T) {
	s := NewStore(Config{})
	s.UpdatePartnerModel(nil, "u1", Observation{Mode: "expert", ModeConfidence: 0.9})
	m := s.UpdatePartnerModel(nil, "u1", Observation{Mode: "talk", ModeConfidence: 0.2})
	assert.Equal(t, "expert", m.PreferredMode)
}

func TestTopManifestationsRanksDescending(t *testing.T) {
	m := Model{Manifestations: map[string]float64{"humor": 0.2, "curiosity": 0.8, "empathy": 0.5}}
	top := m.TopManifestations(2)
	assert.Equal(t, []string{"curiosity", "empathy"}, top)
}

func TestGetPartnerModelReturnsIndependentCopies(t *testing.T) {
	s := NewStore(Config{})
	m1 := s.GetPartnerModel(nil, "u1")
	m1.Style["x"] = 1
	m2 := s.GetPartnerModel(nil, "u1")
	assert.NotContains(t, m2.Style, "x")
}
