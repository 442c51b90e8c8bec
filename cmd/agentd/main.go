// Command agentd is the agent core's process entrypoint: it loads
// config, opens the durable backends config calls for, constructs C1-C9,
// and blocks until an OS signal requests a shutdown that stops the actor
// runtime and flushes the event store's write buffer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"agentcore/internal/actor"
	"agentcore/internal/config"
	"agentcore/internal/eventstore"
	"agentcore/internal/ltm"
	"agentcore/internal/observability"
	"agentcore/internal/orchestrator"
	"agentcore/internal/partner"
	"agentcore/internal/persistence/databases"
	"agentcore/internal/personality"
	"agentcore/internal/stm"
	"agentcore/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("agentd")
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.Log.Path, cfg.Log.Level)

	baseCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(cfg.Telemetry, nil)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry init failed, continuing without tracing")
	} else {
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	store, closeStore, err := buildEventStore(baseCtx, cfg)
	if err != nil {
		return fmt.Errorf("init event store: %w", err)
	}
	defer closeStore()

	vectorStore, closeVector := buildVectorStore(baseCtx, cfg)
	defer closeVector()

	var dedupe orchestrator.DedupeStore
	if cfg.Redis.Addr != "" {
		redisDedupe, err := orchestrator.NewRedisDedupeStore(cfg.Redis.Addr)
		if err != nil {
			log.Warn().Err(err).Msg("redis dedupe init failed, proceeding without idempotency")
		} else {
			dedupe = redisDedupe
			defer redisDedupe.Close()
		}
	}

	var analytics orchestrator.AnalyticsSink = orchestrator.NoopAnalyticsSink{}
	if cfg.ClickHouse.Addr != "" {
		sink, err := orchestrator.NewClickHouseSink(baseCtx, cfg.ClickHouse.Addr, cfg.ClickHouse.Database, cfg.ClickHouse.Username, cfg.ClickHouse.Password)
		if err != nil {
			log.Warn().Err(err).Msg("clickhouse sink init failed, resonance analytics disabled")
		} else {
			analytics = sink
			defer sink.Close()
		}
	}

	stmStore := stm.New(cfg.STM, true)
	ltmStore := ltm.New(cfg.LTM, vectorStore)
	personalityEngine := personality.NewEngine(cfg.Personality, defaultBaseTraits())
	partnerStore := partner.NewStore(cfg.Partner)

	orch := orchestrator.New(cfg.Orchestrator, stmStore, ltmStore, personalityEngine, partnerStore, dedupe, analytics)

	system := actor.NewSystem(cfg.Actor, cfg.CircuitBreaker, maxInt(cfg.DLQMaxSize, 1000))
	if err := registerSessionActor(system, orch, store); err != nil {
		return fmt.Errorf("register session actor: %w", err)
	}
	if err := system.Start("session"); err != nil {
		return fmt.Errorf("start session actor: %w", err)
	}

	janitorCtx, stopJanitor := context.WithCancel(baseCtx)
	defer stopJanitor()
	go system.RunJanitor(janitorCtx, time.Minute)

	log.Info().Msg("agentd started")
	<-baseCtx.Done()
	log.Info().Msg("agentd shutting down")

	stopJanitor()
	if err := system.Stop("session", 10*time.Second); err != nil {
		log.Warn().Err(err).Msg("session actor stop")
	}
	system.Wait()

	return nil
}

// registerSessionActor wires the session orchestrator behind an actor
// mailbox: every inbound message becomes one Process call, and
// the resulting Turn is persisted as an event on the user's stream.
func registerSessionActor(system *actor.System, orch *orchestrator.Orchestrator, store eventstore.Store) error {
	return system.Register("session", 256, func(ctx context.Context, msg actor.Message) error {
		userID, _ := msg.Payload["user_id"].(string)
		content, _ := msg.Payload["content"].(string)

		turn, err := orch.Process(ctx, orchestrator.UserMessage{
			UserID:    userID,
			Content:   content,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		nextVersion := 0
		if last, ok, lerr := store.GetLastEvent(ctx, userID); lerr == nil && ok {
			nextVersion = last.Version + 1
		}
		evt := eventstore.New(userID, "turn.processed", map[string]any{
			"mode":            string(turn.Mode),
			"mode_confidence": turn.ModeConfidence,
			"partner_version": turn.Partner.Version,
		}, nextVersion, msg.CorrelationID)
		return store.Append(ctx, evt)
	})
}

func buildEventStore(ctx context.Context, cfg *config.Config) (eventstore.Store, func(), error) {
	if cfg.Postgres.DSN == "" {
		mem := eventstore.NewMemory(eventstore.MemoryConfig{})
		return mem, func() {}, nil
	}
	pool, err := databases.OpenPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres pool: %w", err)
	}
	pg, err := eventstore.NewPostgres(ctx, pool, eventstore.PostgresConfig{})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("init postgres event store: %w", err)
	}
	return pg, func() { pg.Close(); pool.Close() }, nil
}

func buildVectorStore(ctx context.Context, cfg *config.Config) (databases.VectorStore, func()) {
	if cfg.Qdrant.DSN == "" {
		return databases.NewMemoryVector(), func() {}
	}
	qv, err := databases.NewQdrantVector(cfg.Qdrant.DSN, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions, cfg.Qdrant.Metric)
	if err != nil {
		log.Warn().Err(err).Msg("qdrant init failed, falling back to degraded no-op vector store")
		return databases.NoopVector{}, func() {}
	}
	closer, ok := qv.(interface{ Close() error })
	if !ok {
		return qv, func() {}
	}
	return qv, func() { _ = closer.Close() }
}

// defaultBaseTraits is the fixed base-trait table the personality engine
// is constructed with.
func defaultBaseTraits() []personality.BaseTrait {
	return []personality.BaseTrait{
		{Name: "warmth", BaseValue: 0.7, IsCore: true},
		{Name: "directness", BaseValue: 0.6, IsCore: true},
		{Name: "humor", BaseValue: 0.5},
		{Name: "curiosity", BaseValue: 0.6},
		{Name: "formality", BaseValue: 0.4},
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
