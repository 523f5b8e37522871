package sideeffects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Recorder persists side effect outcomes
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// MemoryRecorder keeps events in memory
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryRecorder creates an empty memory recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends event
func (m *MemoryRecorder) Record(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the recorded events
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// SQLRecorder writes events to the side_effect_events table
type SQLRecorder struct {
	db *sql.DB
}

// NewSQLRecorder creates a recorder backed by db
func NewSQLRecorder(db *sql.DB) *SQLRecorder {
	return &SQLRecorder{db: db}
}

const insertEventQuery = `
	INSERT INTO side_effect_events (task_id, kind, provider_id, subject_id, outcome, error_message, duration_ms, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Record inserts event
func (r *SQLRecorder) Record(ctx context.Context, event Event) error {
	_, err := r.db.ExecContext(ctx, insertEventQuery,
		event.TaskID,
		event.Kind,
		event.ProviderID,
		nullString(event.SubjectID),
		string(event.Outcome),
		nullString(event.Error),
		event.Duration.Milliseconds(),
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert side effect event: %w", err)
	}
	return nil
}

// MultiRecorder fans events out to several recorders
type MultiRecorder []Recorder

// Record writes event to every recorder and joins their errors
func (m MultiRecorder) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
