package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the side effect event log tables
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.WithComponent("database").Info("Creating event log schema")

	for _, stmt := range []string{createSideEffectEventsTable, createSideEffectEventsIndexes} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create event log schema: %w", err)
		}
	}

	return nil
}

const createSideEffectEventsTable = `
CREATE TABLE IF NOT EXISTS side_effect_events (
	id BIGSERIAL PRIMARY KEY,
	task_id VARCHAR(64) NOT NULL,
	kind VARCHAR(64) NOT NULL,
	provider_id VARCHAR(255) NOT NULL,
	subject_id VARCHAR(255),
	outcome VARCHAR(16) NOT NULL CHECK (outcome IN ('succeeded', 'failed', 'dropped')),
	error_message TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	occurred_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);`

const createSideEffectEventsIndexes = `
CREATE INDEX IF NOT EXISTS idx_side_effect_events_provider ON side_effect_events(provider_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_side_effect_events_outcome ON side_effect_events(outcome) WHERE outcome <> 'succeeded';`
