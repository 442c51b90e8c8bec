// Package personality implements the multiplicative trait model: a
// per-user resonance vector with bounded, protected adaptation toward
// observed conversational style and emotion, decaying geometrically
// toward neutral during inactivity.
package personality

import (
	"math"
	"sync"
	"time"
)

// BaseTrait is a row of the base traits table: a fixed baseline value and
// whether the trait is core (subject to the stronger floor protection).
type BaseTrait struct {
	Name      string
	BaseValue float64
	IsCore    bool
}

// Config tunes resonance bounds, adaptation cadence, and protection.
type Config struct {
	RecoveryDays       int
	RecoveryRatePerDay float64 // fraction of remaining deviation closed per inactive day
	AdaptationInterval int     // interactions between adaptation passes
	MaxDeviation       float64 // global sum(|c-1|) budget
	NoiseLevel         float64
	LearningRate       float64
	CoreLearningFactor float64 // multiplier < 1 applied to LearningRate for core traits
	CacheTTL           time.Duration
	ChangeThreshold    float64
}

func (c Config) withDefaults() Config {
	if c.RecoveryDays <= 0 {
		c.RecoveryDays = 7
	}
	if c.RecoveryRatePerDay <= 0 {
		c.RecoveryRatePerDay = 0.15
	}
	if c.AdaptationInterval <= 0 {
		c.AdaptationInterval = 10
	}
	if c.MaxDeviation <= 0 {
		c.MaxDeviation = 1.5
	}
	if c.NoiseLevel <= 0 {
		c.NoiseLevel = 0.01
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.05
	}
	if c.CoreLearningFactor <= 0 {
		c.CoreLearningFactor = 0.4
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.ChangeThreshold <= 0 {
		c.ChangeThreshold = 0.1
	}
	return c
}

const (
	resonanceMin     = 0.7
	resonanceMax     = 1.3
	resonanceDefault = 1.0
	coreFloorFactor  = 0.4
	sessionCapFactor = 0.2
)

// Metrics counts protection events, the audit trail required of C6.
type Metrics struct {
	CoreConstraintsApplied int64
	SessionLimitsApplied   int64
	RecoveriesTriggered    int64
}

// resonanceState is one user's adaptable personality state.
type resonanceState struct {
	coefficients   map[string]float64
	sessionStart   map[string]float64
	interactionCnt int
	lastAdaptation time.Time
	lastActivity   time.Time
}

// Engine holds per-user resonance state and the base traits table.
// interaction_count and adaptation are protected by mu; base traits are
// read-only after construction.
type Engine struct {
	cfg   Config
	base  map[string]BaseTrait
	order []string // deterministic iteration order for tests/metrics

	mu      sync.Mutex
	users   map[string]*resonanceState
	metrics Metrics
}

func NewEngine(cfg Config, baseTraits []BaseTrait) *Engine {
	e := &Engine{
		cfg:   cfg.withDefaults(),
		base:  make(map[string]BaseTrait, len(baseTraits)),
		users: make(map[string]*resonanceState),
	}
	for _, t := range baseTraits {
		e.base[t.Name] = t
		e.order = append(e.order, t.Name)
	}
	return e
}

func (e *Engine) userState(userID string) *resonanceState {
	st, ok := e.users[userID]
	if !ok {
		now := time.Now().UTC()
		st = &resonanceState{
			coefficients: make(map[string]float64, len(e.base)),
			sessionStart: make(map[string]float64, len(e.base)),
			lastActivity: now,
		}
		for name := range e.base {
			st.coefficients[name] = resonanceDefault
			st.sessionStart[name] = resonanceDefault
		}
		e.users[userID] = st
	}
	return st
}

// temporalModifier returns the wall-clock modifier: morning 0.9, day 1.0,
// evening 0.95, night 0.85.
func temporalModifier(t time.Time) float64 {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return 0.9
	case h >= 12 && h < 18:
		return 1.0
	case h >= 18 && h < 22:
		return 0.95
	default:
		return 0.85
	}
}

// ActiveValue computes the active value for one trait given the most
// recent style/emotion modifiers from the orchestrator (each expected in
// [0.5, 1.5]), applying recovery-then-protection in the order the
// protection design mandates: recovery happens continuously as state
// decays, then core floor and session limit clamp the freshly computed
// value.
func (e *Engine) ActiveValue(userID, trait string, styleMod, emotionMod float64, now time.Time) (float64, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base, ok := e.base[trait]
	if !ok {
		return 0, nil
	}
	st := e.userState(userID)
	e.applyRecoveryLocked(st, now)

	resonance := st.coefficients[trait]
	raw := base.BaseValue * resonance * styleMod * emotionMod * temporalModifier(now)
	value := clamp(raw, 0, 1)

	var applied []string
	if base.IsCore {
		floor := coreFloorFactor * base.BaseValue
		if value < floor {
			value = floor
			e.metrics.CoreConstraintsApplied++
			applied = append(applied, "core_constraints")
		}
	}

	// The session-start value is the trait computed from the coefficients
	// BeginSession snapshotted, under the same modifiers and core floor.
	start := clamp(base.BaseValue*st.sessionStart[trait]*styleMod*emotionMod*temporalModifier(now), 0, 1)
	if base.IsCore && start < coreFloorFactor*base.BaseValue {
		start = coreFloorFactor * base.BaseValue
	}
	maxChange := sessionCapFactor * base.BaseValue
	if math.Abs(value-start) > maxChange {
		if value > start {
			value = start + maxChange
		} else {
			value = start - maxChange
		}
		e.metrics.SessionLimitsApplied++
		applied = append(applied, "session_limits")
	}

	st.lastActivity = now
	return value, applied
}

// applyRecoveryLocked drifts resonance coefficients geometrically toward
// neutral once RecoveryDays of inactivity have elapsed, at
// RecoveryRatePerDay per inactive day, treating a partial reset as linear
// interpolation c' = c + factor*(1-c).
func (e *Engine) applyRecoveryLocked(st *resonanceState, now time.Time) {
	daysInactive := now.Sub(st.lastActivity).Hours() / 24
	if daysInactive < float64(e.cfg.RecoveryDays) {
		return
	}
	inactiveDays := daysInactive - float64(e.cfg.RecoveryDays)
	factor := 1 - math.Pow(1-e.cfg.RecoveryRatePerDay, inactiveDays)
	if factor <= 0 {
		return
	}
	triggered := false
	for name, c := range st.coefficients {
		if c == resonanceDefault {
			continue
		}
		st.coefficients[name] = c + factor*(resonanceDefault-c)
		triggered = true
	}
	if triggered {
		e.metrics.RecoveriesTriggered++
	}
}

// Adapt nudges resonance coefficients toward the observed style/emotion
// preference vectors (trait -> observed value in [0,1]) by LearningRate
// (CoreLearningFactor-scaled for core traits), then clamps to
// [0.7,1.3], scales down proportionally if the global deviation budget
// is exceeded, and adds small bounded noise. Call once per interaction:
// Adapt counts calls and runs the pass only on every AdaptationInterval-th.
func (e *Engine) Adapt(userID string, observed map[string]float64, noise func() float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.userState(userID)
	st.interactionCnt++
	if st.interactionCnt%e.cfg.AdaptationInterval != 0 {
		return
	}

	for trait, target := range observed {
		base, ok := e.base[trait]
		if !ok {
			continue
		}
		lr := e.cfg.LearningRate
		if base.IsCore {
			lr *= e.cfg.CoreLearningFactor
		}
		// observed target is a [0,1] preference; map to a resonance nudge
		// by comparing against neutral (0.5 == no preference shift).
		delta := (target - 0.5) * 2 * lr
		st.coefficients[trait] = clamp(st.coefficients[trait]+delta, resonanceMin, resonanceMax)
	}

	var totalDeviation float64
	for _, c := range st.coefficients {
		totalDeviation += math.Abs(c - resonanceDefault)
	}
	if totalDeviation > e.cfg.MaxDeviation {
		scale := e.cfg.MaxDeviation / totalDeviation
		for name, c := range st.coefficients {
			st.coefficients[name] = resonanceDefault + (c-resonanceDefault)*scale
		}
	}

	if noise == nil {
		noise = defaultNoise
	}
	for name, c := range st.coefficients {
		n := noise() * e.cfg.NoiseLevel
		st.coefficients[name] = clamp(c+n, resonanceMin, resonanceMax)
	}

	st.lastAdaptation = time.Now().UTC()
}

func defaultNoise() float64 { return 0 } // deterministic by default; callers may inject real jitter

// Coefficient returns the current raw resonance coefficient for a trait,
// for metrics and tests. Does not apply recovery as a side effect.
func (e *Engine) Coefficient(userID, trait string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.users[userID]
	if !ok {
		return resonanceDefault
	}
	return st.coefficients[trait]
}

// Metrics returns a snapshot of protection-event counters.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// BeginSession resets a user's session-start snapshot to their current
// coefficients, establishing a fresh baseline for the session change cap.
func (e *Engine) BeginSession(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.userState(userID)
	for name, c := range st.coefficients {
		st.sessionStart[name] = c
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
