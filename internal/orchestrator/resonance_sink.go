package orchestrator

import (
	"context"
	"database/sql"
	"fmt"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseSink persists AnalyticsRow facts to a ClickHouse table for
// offline resonance analysis: how often protection kicks in, mode mix
// over time, and personality drift per user.
type ClickHouseSink struct {
	db *sql.DB
}

// NewClickHouseSink opens a ClickHouse connection via database/sql and
// ensures the resonance_events table exists.
func NewClickHouseSink(ctx context.Context, addr, database, username, password string) (*ClickHouseSink, error) {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	sink := &ClickHouseSink{db: db}
	if err := sink.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *ClickHouseSink) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS resonance_events (
			event_time DateTime64(3),
			user_id String,
			mode String,
			mode_confidence Float64,
			stability Float64,
			dominance Float64,
			balance Float64,
			core_constraints_applied Int64,
			session_limits_applied Int64,
			recoveries_triggered Int64,
			partner_version Int32
		) ENGINE = MergeTree()
		ORDER BY (user_id, event_time)
	`)
	return err
}

// RecordTurn appends one AnalyticsRow. Errors are the caller's to decide
// whether to treat as fatal; the orchestrator logs and continues.
func (s *ClickHouseSink) RecordTurn(ctx context.Context, row AnalyticsRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resonance_events (
			event_time, user_id, mode, mode_confidence, stability, dominance, balance,
			core_constraints_applied, session_limits_applied, recoveries_triggered, partner_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.Timestamp, row.UserID, row.Mode, row.ModeConfidence,
		row.PersonalityStability, row.PersonalityDominance, row.PersonalityBalance,
		row.CoreConstraintsApplied, row.SessionLimitsApplied, row.RecoveriesTriggered,
		row.PartnerVersion,
	)
	return err
}

func (s *ClickHouseSink) Close() error { return s.db.Close() }
