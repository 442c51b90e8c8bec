package personality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTraits() []BaseTrait {
	return []BaseTrait{
		{Name: "warmth", BaseValue: 0.7, IsCore: true},
		{Name: "humor", BaseValue: 0.5, IsCore: false},
		{Name: "directness", BaseValue: 0.6, IsCore: false},
	}
}

func TestActiveValueNeutralResonanceMatchesBaseAtNoon(t *testing.T) {
	e := NewEngine(Config{}, baseTraits())
	noon := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	value, applied := e.ActiveValue("u1", "humor", 1.0, 1.0, noon)
	require.Empty(t, applied)
	assert.InDelta(t, 0.5, value, 1e-9)
}

func TestActiveValueUnknownTraitReturnsZero(t *testing.T) {
	e := NewEngine(Config{}, baseTraits())
	value, applied := e.ActiveValue("u1", "nonexistent", 1.0, 1.0, time.Now())
	assert.Equal(t, 0.0, value)
	assert.Nil(t, applied)
}

func TestCoreFloorProtectsWarmth(t *testing.T) {
	e := NewEngine(Config{}, baseTraits())
	noon := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	// crush style/emotion modifiers so raw value falls below the core floor
	value, applied := e.ActiveValue("u1", "warmth", 0.1, 0.1, noon)
	floor := coreFloorFactor * 0.7
	assert.InDelta(t, floor, value, 1e-9)
	assert.Contains(t, applied, "core_constraints")
	assert.Equal(t, int64(1), e.Metrics().CoreConstraintsApplied)
}

func TestSessionLimitCapsChangeFromSessionStart(t *testing.T) {
	e := NewEngine(Config{}, baseTraits())
	noon := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	e.BeginSession("u1")
	// push resonance far via adaptation so the raw active value would move
	// more than the session cap allows
	for i := 0; i < 200; i++ {
		e.Adapt("u1", map[string]float64{"directness": 1.0}, func() float64 { return 0 })
	}
	value, applied := e.ActiveValue("u1", "directness", 1.0, 1.0, noon)
	maxChange := sessionCapFactor * 0.6
	assert.LessOrEqual(t, value, 0.6+maxChange+1e-9)
	if value != 0.6 {
		assert.Contains(t, applied, "session_limits")
	}
}

func TestAdaptOnlyRunsOnIntervalBoundary(t *testing.T) {
	e := NewEngine(Config{AdaptationInterval: 5}, baseTraits())
	for i := 0; i < 4; i++ {
		e.Adapt("u1", map[string]float64{"humor": 1.0}, func() float64 { return 0 })
	}
	assert.Equal(t, resonanceDefault, e.Coefficient("u1", "humor"))
	e.Adapt("u1", map[string]float64{"humor": 1.0}, func() float64 { return 0 })
	assert.Greater(t, e.Coefficient("u1", "humor"), resonanceDefault)
}

func TestAdaptClampsToResonanceBounds(t *testing.T) {
	e := NewEngine(Config{AdaptationInterval: 1, LearningRate: 1.0}, baseTraits())
	for i := 0; i < 20; i++ {
		e.Adapt("u1", map[string]float64{"humor": 1.0}, func() float64 { return 0 })
	}
	assert.LessOrEqual(t, e.Coefficient("u1", "humor"), resonanceMax)
	assert.GreaterOrEqual(t, e.Coefficient("u1", "humor"), resonanceMin)
}

func TestRecoveryDriftsResonanceTowardNeutralAfterInactivity(t *testing.T) {
	e := NewEngine(Config{AdaptationInterval: 1, LearningRate: 0.5, RecoveryDays: 7, RecoveryRatePerDay: 0.5}, baseTraits())
	e.Adapt("u1", map[string]float64{"humor": 1.0}, func() float64 { return 0 })
	before := e.Coefficient("u1", "humor")
	require.NotEqual(t, resonanceDefault, before)

	future := time.Now().UTC().Add(10 * 24 * time.Hour)
	e.ActiveValue("u1", "humor", 1.0, 1.0, future)
	after := e.Coefficient("u1", "humor")
	assert.Less(t, after, before)
	assert.Equal(t, int64(1), e.Metrics().RecoveriesTriggered)
}

func TestGetPersonalityProfileComputesMetrics(t *testing.T) {
	e := NewEngine(Config{}, baseTraits())
	profile := e.GetPersonalityProfile(nil, "u1", StyleEmotionInput{}, time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC))
	assert.Len(t, profile.Traits, 3)
	assert.GreaterOrEqual(t, profile.Stability, 0.0)
	assert.LessOrEqual(t, profile.Stability, 1.0)
	assert.GreaterOrEqual(t, profile.Balance, 0.0)
	assert.LessOrEqual(t, profile.Balance, 1.0)
}

func TestBalanceIsMaximalWhenTraitsEqual(t *testing.T) {
	assert.InDelta(t, 1.0, balance(map[string]float64{"a": 0.5, "b": 0.5, "c": 0.5}), 1e-9)
}

func TestDominanceHighWhenOneTraitLeads(t *testing.T) {
	d := dominance(map[string]float64{"a": 0.9, "b": 0.1, "c": 0.1})
	assert.Greater(t, d, 0.5)
}
