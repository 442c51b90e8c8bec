package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/internal/ltm"
	"agentcore/internal/partner"
	"agentcore/internal/persistence/databases"
	"agentcore/internal/personality"
	"agentcore/internal/stm"
)

func newTestOrchestrator() *Orchestrator {
	stmStore := stm.New(stm.Config{}, true)
	ltmStore := ltm.New(ltm.Config{}, databases.NewMemoryVector())
	personalityEngine := personality.NewEngine(personality.Config{}, []personality.BaseTrait{
		{Name: "warmth", BaseValue: 0.7, IsCore: true},
		{Name: "humor", BaseValue: 0.5},
	})
	partnerStore := partner.NewStore(partner.Config{})
	return New(Config{}, stmStore, ltmStore, personalityEngine, partnerStore, nil, nil)
}

func TestProcessAssemblesTurnFromAllDependencies(t *testing.T) {
	o := newTestOrchestrator()
	turn, err := o.Process(context.Background(), UserMessage{
		UserID:    "u1",
		Content:   "explain in detail how this works",
		Timestamp: time.Now(),
		Embedding: []float32{1, 0, 0},
	})

	require.NoError(t, err)
	assert.True(t, turn.Readiness.STMReady)
	assert.True(t, turn.Readiness.PersonalityReady)
	assert.True(t, turn.Readiness.PartnerReady)
	assert.True(t, turn.Readiness.ModeReady)
	assert.Equal(t, "expert", string(turn.Mode))
}

func TestProcessStoresMessageIntoSTM(t *testing.T) {
	o := newTestOrchestrator()
	_, err := o.Process(context.Background(), UserMessage{
		UserID:    "u1",
		Content:   "hello there",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, o.stm.Count("u1"))
}

func TestProcessRejectsDuplicateRequestViaDedupe(t *testing.T) {
	stmStore := stm.New(stm.Config{}, true)
	dedupe := newFakeDedupe()
	o := New(Config{}, stmStore, nil, nil, nil, dedupe, nil)

	msg := UserMessage{UserID: "u1", Content: "hi", Timestamp: time.Unix(1000, 0)}
	_, err := o.Process(context.Background(), msg)
	require.NoError(t, err)

	_, err = o.Process(context.Background(), msg)
	assert.Error(t, err)
}

func TestRequestIDIsStableForIdenticalMessages(t *testing.T) {
	msg := UserMessage{UserID: "u1", Content: "hi", Timestamp: time.Unix(1000, 0)}
	assert.Equal(t, RequestID(msg), RequestID(msg))
}

type fakeDedupe struct {
	values map[string]string
}

func newFakeDedupe() *fakeDedupe { return &fakeDedupe{values: map[string]string{}} }

func (f *fakeDedupe) Get(_ context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeDedupe) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.values[key] = value
	return nil
}
