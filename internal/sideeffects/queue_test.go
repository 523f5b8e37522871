package sideeffects

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingMetrics) RecordSideEffect(kind, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[kind+"/"+outcome]++
}

func (c *countingMetrics) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func closeQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
}

func TestQueue_RunsTasksAndRecordsOutcomes(t *testing.T) {
	rec := NewMemoryRecorder()
	metrics := &countingMetrics{}
	q := NewQueue(4, time.Second, rec, metrics, logger.Discard())

	ran := make(chan struct{}, 1)
	q.Enqueue(Task{Kind: "patient_stats", ProviderID: "provider-1", SubjectID: "p-1", Run: func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}})
	q.Enqueue(Task{Kind: "patient_stats", ProviderID: "provider-1", SubjectID: "p-2", Run: func(ctx context.Context) error {
		return errors.New("conditional check failed")
	}})

	failure := <-q.Failures()
	assert.Equal(t, OutcomeFailed, failure.Outcome)
	assert.Equal(t, "p-2", failure.SubjectID)
	assert.Equal(t, "conditional check failed", failure.Error)
	<-ran

	closeQueue(t, q)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, OutcomeSucceeded, events[0].Outcome)
	assert.NotEmpty(t, events[0].TaskID)
	assert.Equal(t, OutcomeFailed, events[1].Outcome)
	assert.Equal(t, 1, metrics.get("patient_stats/succeeded"))
	assert.Equal(t, 1, metrics.get("patient_stats/failed"))
}

func TestQueue_FullBufferDropsTask(t *testing.T) {
	rec := NewMemoryRecorder()
	q := NewQueue(1, time.Second, rec, nil, logger.Discard())

	started := make(chan struct{})
	release := make(chan struct{})
	q.Enqueue(Task{Kind: "blocker", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started

	q.Enqueue(Task{Kind: "queued", Run: func(ctx context.Context) error { return nil }})
	q.Enqueue(Task{Kind: "overflow", Run: func(ctx context.Context) error { return nil }})

	dropped := <-q.Failures()
	assert.Equal(t, OutcomeDropped, dropped.Outcome)
	assert.Equal(t, "overflow", dropped.Kind)

	close(release)
	closeQueue(t, q)

	outcomes := map[string]Outcome{}
	for _, e := range rec.Events() {
		outcomes[e.Kind] = e.Outcome
	}
	assert.Equal(t, OutcomeSucceeded, outcomes["blocker"])
	assert.Equal(t, OutcomeSucceeded, outcomes["queued"])
	assert.Equal(t, OutcomeDropped, outcomes["overflow"])
}

func TestQueue_RecoversPanics(t *testing.T) {
	rec := NewMemoryRecorder()
	q := NewQueue(2, time.Second, rec, nil, logger.Discard())

	q.Enqueue(Task{Kind: "boom", Run: func(ctx context.Context) error {
		panic("nil map")
	}})

	failure := <-q.Failures()
	assert.Equal(t, OutcomeFailed, failure.Outcome)
	assert.Contains(t, failure.Error, "panicked")

	closeQueue(t, q)
}

func TestQueue_TaskTimeout(t *testing.T) {
	q := NewQueue(1, 20*time.Millisecond, nil, nil, logger.Discard())

	q.Enqueue(Task{Kind: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	failure := <-q.Failures()
	assert.Contains(t, failure.Error, context.DeadlineExceeded.Error())

	closeQueue(t, q)
}

func TestQueue_EnqueueAfterCloseIsDropped(t *testing.T) {
	rec := NewMemoryRecorder()
	metrics := &countingMetrics{}
	q := NewQueue(1, time.Second, rec, metrics, logger.Discard())
	closeQueue(t, q)

	q.Enqueue(Task{Kind: "late", Run: func(ctx context.Context) error { return nil }})

	assert.Equal(t, 1, metrics.get("late/dropped"))
	assert.Empty(t, rec.Events())

	_, open := <-q.Failures()
	assert.False(t, open)

	// Closing twice is harmless.
	closeQueue(t, q)
}

// slowRecorder takes delay per event
type slowRecorder struct {
	delay time.Duration
	mem   *MemoryRecorder
}

func (s slowRecorder) Record(ctx context.Context, event Event) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.mem.Record(ctx, event)
}

func TestQueue_DropDoesNotWaitForRecorder(t *testing.T) {
	rec := slowRecorder{delay: 300 * time.Millisecond, mem: NewMemoryRecorder()}
	q := NewQueue(1, time.Second, rec, nil, logger.Discard())

	started := make(chan struct{})
	release := make(chan struct{})
	q.Enqueue(Task{Kind: "blocker", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started
	q.Enqueue(Task{Kind: "queued", Run: func(ctx context.Context) error { return nil }})

	start := time.Now()
	q.Enqueue(Task{Kind: "overflow", Run: func(ctx context.Context) error { return nil }})
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	dropped := <-q.Failures()
	assert.Equal(t, "overflow", dropped.Kind)

	close(release)
	closeQueue(t, q)

	kinds := map[string]Outcome{}
	for _, e := range rec.mem.Events() {
		kinds[e.Kind] = e.Outcome
	}
	assert.Equal(t, OutcomeDropped, kinds["overflow"])
	assert.Len(t, kinds, 3)
}

func TestSQLRecorder_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	occurred := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO side_effect_events")).
		WithArgs("task-1", "patient_stats", "provider-1", "p-1", "failed", "boom", int64(12), occurred).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := NewSQLRecorder(db)
	err = rec.Record(context.Background(), Event{
		TaskID:     "task-1",
		Kind:       "patient_stats",
		ProviderID: "provider-1",
		SubjectID:  "p-1",
		Outcome:    OutcomeFailed,
		Error:      "boom",
		Duration:   12 * time.Millisecond,
		OccurredAt: occurred,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRecorder_RecordError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO side_effect_events").WillReturnError(errors.New("relation does not exist"))

	err = NewSQLRecorder(db).Record(context.Background(), Event{TaskID: "t", Outcome: OutcomeSucceeded})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")
}

type failingRecorder struct{}

func (failingRecorder) Record(ctx context.Context, event Event) error {
	return errors.New("disk full")
}

func TestMultiRecorder(t *testing.T) {
	mem := NewMemoryRecorder()
	multi := MultiRecorder{mem, failingRecorder{}}

	err := multi.Record(context.Background(), Event{TaskID: "t-1", Outcome: OutcomeSucceeded})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, mem.Events(), 1)
}
