// Package orchestrator implements the session orchestrator: it receives
// one inbound user message, fans it out to short-term memory, long-term
// memory, the personality core, the partner model, and mode detection in
// parallel, fans the results back in (skipping a long-term-memory recall
// that fails or times out), and assembles the turn that C2's actor system dispatches to
// the LLM client.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"agentcore/internal/analyzers"
	"agentcore/internal/ltm"
	"agentcore/internal/modedetect"
	"agentcore/internal/observability"
	"agentcore/internal/partner"
	"agentcore/internal/personality"
	"agentcore/internal/stm"
	"agentcore/internal/telemetry"
)

// UserMessage is one inbound turn.
type UserMessage struct {
	UserID        string
	Content       string
	Timestamp     time.Time
	Embedding     []float32
	ContextVector []float32
}

// DependencyTimeouts gives each fan-out leg its own timeout context. Only
// the LTM leg's timeout can cut a call short, through the vector store's
// similarity search; the STM, partner and personality calls do not
// observe their context and mode detection takes none, so Process waits
// for those legs to return however long they take.
type DependencyTimeouts struct {
	STM         time.Duration
	LTM         time.Duration
	Personality time.Duration
	Partner     time.Duration
	ModeDetect  time.Duration
}

func (d DependencyTimeouts) withDefaults() DependencyTimeouts {
	if d.STM <= 0 {
		d.STM = 200 * time.Millisecond
	}
	if d.LTM <= 0 {
		d.LTM = 500 * time.Millisecond
	}
	if d.Personality <= 0 {
		d.Personality = 150 * time.Millisecond
	}
	if d.Partner <= 0 {
		d.Partner = 150 * time.Millisecond
	}
	if d.ModeDetect <= 0 {
		d.ModeDetect = 50 * time.Millisecond
	}
	return d
}

// Config gathers the orchestrator's tunables.
type Config struct {
	Timeouts    DependencyTimeouts
	ModeDetect  modedetect.Config
	RecallCount int
}

func (c Config) withDefaults() Config {
	c.Timeouts = c.Timeouts.withDefaults()
	if c.RecallCount <= 0 {
		c.RecallCount = 5
	}
	return c
}

// Readiness records, for each optional dependency, whether it answered,
// timed out, or was never invoked (e.g. degraded mode upstream).
type Readiness struct {
	STMReady, LTMReady, PersonalityReady, PartnerReady, ModeReady bool
}

// Turn is the fully assembled result of processing one UserMessage,
// everything C3 hands to the LLM client and to the response pipeline.
type Turn struct {
	UserID         string
	RecentContext  stm.ContextResponse
	Recalled       []ltm.Memory
	Personality    personality.Profile
	Partner        partner.Model
	Mode           modedetect.Mode
	ModeConfidence float64
	Readiness      Readiness
}

// Orchestrator wires C4-C9 together behind Process.
type Orchestrator struct {
	cfg Config

	stm         *stm.Store
	ltmStore    *ltm.Store
	personality *personality.Engine
	partnerSt   *partner.Store
	dedupe      DedupeStore
	analytics   AnalyticsSink
}

// AnalyticsSink receives one resonance-analytics row per processed turn.
// Implementations may discard, log, or durably persist (see ClickHouseSink).
type AnalyticsSink interface {
	RecordTurn(ctx context.Context, row AnalyticsRow) error
}

// AnalyticsRow is the resonance-analytics fact the personality core and
// orchestrator contribute per turn.
type AnalyticsRow struct {
	Timestamp              time.Time
	UserID                 string
	Mode                   string
	ModeConfidence         float64
	PersonalityStability   float64
	PersonalityDominance   float64
	PersonalityBalance     float64
	CoreConstraintsApplied int64
	SessionLimitsApplied   int64
	RecoveriesTriggered    int64
	PartnerVersion         int
}

func New(cfg Config, stmStore *stm.Store, ltmStore *ltm.Store, personalityEngine *personality.Engine, partnerStore *partner.Store, dedupe DedupeStore, analytics AnalyticsSink) *Orchestrator {
	if analytics == nil {
		analytics = NoopAnalyticsSink{}
	}
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		stm:         stmStore,
		ltmStore:    ltmStore,
		personality: personalityEngine,
		partnerSt:   partnerStore,
		dedupe:      dedupe,
		analytics:   analytics,
	}
}

// RequestID derives a stable idempotency key for a message, so retried
// delivery of the same turn doesn't fan out twice.
func RequestID(msg UserMessage) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", msg.UserID, msg.Content, msg.Timestamp.UnixNano())))
	return hex.EncodeToString(h[:16])
}

// Process fans msg out to every dependency in parallel (see
// DependencyTimeouts for which legs a timeout bounds), waits for every
// leg, assembles a Turn from what they returned, folds the
// turn's signal back into STM/partner/personality, and records one
// analytics row.
func (o *Orchestrator) Process(ctx context.Context, msg UserMessage) (Turn, error) {
	ctx, span := telemetry.StartSpan(ctx, "agentcore/orchestrator", "session.turn", map[string]string{
		"user_id": msg.UserID,
	})
	defer span.End()

	reqID := RequestID(msg)
	observability.LoggerWithTrace(ctx).Debug().Str("user_id", msg.UserID).Str("request_id", reqID).Msg("orchestrator: turn started")

	if o.dedupe != nil {
		if existing, err := o.dedupe.Get(ctx, reqID); err == nil && existing != "" {
			return Turn{}, fmt.Errorf("duplicate request %s already processed", reqID)
		}
	}

	turn := Turn{UserID: msg.UserID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, o.cfg.Timeouts.STM)
		defer cancel()
		turn.RecentContext = o.stm.GetContext(cctx, msg.UserID, 20, stm.FormatStructured)
		turn.Readiness.STMReady = true
		return nil
	})

	if o.ltmStore != nil {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, o.cfg.Timeouts.LTM)
			defer cancel()
			recalled, err := o.ltmStore.Recall(cctx, msg.UserID, msg.Embedding, o.cfg.RecallCount, msg.Timestamp)
			if err != nil {
				return nil // timeout/backend error: proceed without recall, not a hard failure
			}
			turn.Recalled = recalled
			turn.Readiness.LTMReady = true
			return nil
		})
	}

	var partnerModel partner.Model
	if o.partnerSt != nil {
		g.Go(func() error {
			_, cancel := context.WithTimeout(gctx, o.cfg.Timeouts.Partner)
			defer cancel()
			partnerModel = o.partnerSt.GetPartnerModel(gctx, msg.UserID)
			turn.Partner = partnerModel
			turn.Readiness.PartnerReady = true
			return nil
		})
	}

	if o.personality != nil {
		g.Go(func() error {
			_, cancel := context.WithTimeout(gctx, o.cfg.Timeouts.Personality)
			defer cancel()
			turn.Personality = o.personality.GetPersonalityProfile(gctx, msg.UserID, personality.StyleEmotionInput{}, msg.Timestamp)
			turn.Readiness.PersonalityReady = true
			return nil
		})
	}

	g.Go(func() error {
		_, cancel := context.WithTimeout(gctx, o.cfg.Timeouts.ModeDetect)
		defer cancel()
		history := o.recentModeHistory(msg.UserID)
		partnerMode := modedetect.Mode(turn.Partner.PreferredMode)
		mode, confidence := modedetect.Score(o.cfg.ModeDetect, msg.Content, history, partnerMode, turn.Partner.ModeConfidence)
		turn.Mode = mode
		turn.ModeConfidence = confidence
		turn.Readiness.ModeReady = true
		return nil
	})

	if err := g.Wait(); err != nil {
		return Turn{}, err
	}

	o.foldBack(ctx, msg, turn)

	if o.dedupe != nil {
		_ = o.dedupe.Set(ctx, reqID, "processed", 24*time.Hour)
	}

	_ = o.analytics.RecordTurn(ctx, AnalyticsRow{
		Timestamp:              msg.Timestamp,
		UserID:                 msg.UserID,
		Mode:                   string(turn.Mode),
		ModeConfidence:         turn.ModeConfidence,
		PersonalityStability:   turn.Personality.Stability,
		PersonalityDominance:   turn.Personality.Dominance,
		PersonalityBalance:     turn.Personality.Balance,
		CoreConstraintsApplied: turn.Personality.Protection.CoreConstraintsApplied,
		SessionLimitsApplied:   turn.Personality.Protection.SessionLimitsApplied,
		RecoveriesTriggered:    turn.Personality.Protection.RecoveriesTriggered,
		PartnerVersion:         turn.Partner.Version,
	})

	return turn, nil
}

// foldBack persists the turn's own signal: the user's message into STM,
// a style/trait observation into the partner model, and (every
// AdaptationInterval-th interaction) a personality adaptation pass.
func (o *Orchestrator) foldBack(ctx context.Context, msg UserMessage, turn Turn) {
	_ = o.stm.StoreMemory(ctx, msg.UserID, stm.User, msg.Content, nil)

	rows := o.stm.Rows(msg.UserID, 50)
	style := analyzers.Style(rows)
	traits := analyzers.Traits(rows)

	if o.partnerSt != nil {
		manifestations := make(map[string]float64, len(traits))
		for _, tr := range traits {
			manifestations[tr.Trait] = tr.Score
		}
		o.partnerSt.UpdatePartnerModel(ctx, msg.UserID, partner.Observation{
			Style: map[string]float64{
				"playfulness":  style.Vector.Playfulness,
				"seriousness":  style.Vector.Seriousness,
				"emotionality": style.Vector.Emotionality,
				"creativity":   style.Vector.Creativity,
			},
			Manifestations: manifestations,
			Mode:           string(turn.Mode),
			ModeConfidence: turn.ModeConfidence,
		})
	}

	if o.personality != nil {
		o.personality.Adapt(msg.UserID, map[string]float64{
			"warmth": style.Vector.Emotionality,
			"humor":  style.Vector.Playfulness,
		}, nil)
	}
}

// recentModeHistory returns the partner model's preferred mode as a
// one-entry history, or nil when there is none. It holds at most one
// entry, so modedetect's three-entry stable-history boost never applies.
func (o *Orchestrator) recentModeHistory(userID string) []modedetect.Mode {
	if o.partnerSt == nil {
		return nil
	}
	m := o.partnerSt.GetPartnerModel(context.Background(), userID)
	if m.PreferredMode == "" {
		return nil
	}
	return []modedetect.Mode{modedetect.Mode(m.PreferredMode)}
}

// NoopAnalyticsSink discards every row; used when no analytics backend is
// configured.
type NoopAnalyticsSink struct{}

func (NoopAnalyticsSink) RecordTurn(context.Context, AnalyticsRow) error { return nil }
