// Package sideeffects runs best-effort work after a request has already
// been answered. Outcomes are recorded and published on a failure channel;
// they never reach the caller that enqueued the task.
package sideeffects

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
)

// Outcome of a side effect task
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeDropped   Outcome = "dropped"
)

// Task is a unit of best-effort work
type Task struct {
	ID         string
	Kind       string
	ProviderID string
	SubjectID  string
	Run        func(ctx context.Context) error
}

// Event records what happened to a task
type Event struct {
	TaskID     string        `json:"taskId"`
	Kind       string        `json:"kind"`
	ProviderID string        `json:"providerId"`
	SubjectID  string        `json:"subjectId,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// Metrics receives side effect outcome counts
type Metrics interface {
	RecordSideEffect(kind, outcome string)
}

// Queue executes tasks on a single background worker. Dropped tasks are
// recorded by a second goroutine so Enqueue never waits on the recorder.
type Queue struct {
	tasks    chan Task
	drops    chan Event
	failures chan Event
	recorder Recorder
	metrics  Metrics
	logger   *logger.Logger
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewQueue creates a queue holding up to buffer pending tasks and starts
// its worker. Each task runs with its own timeout, detached from the
// request that enqueued it.
func NewQueue(buffer int, timeout time.Duration, recorder Recorder, metrics Metrics, log *logger.Logger) *Queue {
	if buffer <= 0 {
		buffer = 1
	}
	q := &Queue{
		tasks:    make(chan Task, buffer),
		drops:    make(chan Event, buffer),
		failures: make(chan Event, buffer),
		recorder: recorder,
		metrics:  metrics,
		logger:   log,
		timeout:  timeout,
		done:     make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		q.worker()
	}()
	go func() {
		defer wg.Done()
		q.recordDrops()
	}()
	go func() {
		wg.Wait()
		close(q.failures)
		close(q.done)
	}()
	return q
}

// Enqueue schedules task without blocking. When the buffer is full the task
// is dropped: it is counted, published on Failures and recorded in the
// background. A task enqueued after Close is only counted and logged.
func (q *Queue) Enqueue(task Task) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.closed {
		select {
		case q.tasks <- task:
			return
		default:
		}
	}

	event := newEvent(task, OutcomeDropped, errors.New("side effect queue unavailable"), 0)
	entry := q.report(event)
	if q.closed {
		return
	}

	select {
	case q.drops <- event:
	default:
		entry.Warn("Dropped side effect not recorded, recorder backlog full")
	}
	select {
	case q.failures <- event:
	default:
	}
}

// Failures publishes failed and dropped events. The channel is closed by
// Close once the worker has stopped. Events are discarded when nobody
// keeps up with the channel.
func (q *Queue) Failures() <-chan Event {
	return q.failures
}

// Close stops accepting tasks, waits for pending ones to finish or ctx to
// expire, and closes the failure channel.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	close(q.tasks)
	close(q.drops)
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("side effect queue did not drain: %w", ctx.Err())
	}
}

// Pending returns the number of queued tasks
func (q *Queue) Pending() int {
	return len(q.tasks)
}

func (q *Queue) worker() {
	for task := range q.tasks {
		start := time.Now()
		err := q.run(task)
		outcome := OutcomeSucceeded
		if err != nil {
			outcome = OutcomeFailed
		}

		event := newEvent(task, outcome, err, time.Since(start))
		entry := q.report(event)
		q.record(entry, event)
		if outcome == OutcomeSucceeded {
			continue
		}
		select {
		case q.failures <- event:
		default:
		}
	}
}

func (q *Queue) recordDrops() {
	for event := range q.drops {
		q.record(q.entry(event), event)
	}
}

func (q *Queue) run(task Task) (err error) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("side effect panicked: %v", r)
		}
	}()

	if task.Run == nil {
		return fmt.Errorf("side effect %s has no work", task.Kind)
	}
	return task.Run(ctx)
}

func newEvent(task Task, outcome Outcome, err error, duration time.Duration) Event {
	event := Event{
		TaskID:     task.ID,
		Kind:       task.Kind,
		ProviderID: task.ProviderID,
		SubjectID:  task.SubjectID,
		Outcome:    outcome,
		Duration:   duration,
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

func (q *Queue) entry(event Event) *logrus.Entry {
	return q.logger.WithComponent("sideeffects").WithField("task_id", event.TaskID).
		WithField("kind", event.Kind).WithField("outcome", event.Outcome)
}

// report counts and logs event
func (q *Queue) report(event Event) *logrus.Entry {
	if q.metrics != nil {
		q.metrics.RecordSideEffect(event.Kind, string(event.Outcome))
	}

	entry := q.entry(event)
	if event.Outcome == OutcomeSucceeded {
		entry.Debug("Side effect completed")
	} else {
		entry.WithField("error", event.Error).Warn("Side effect did not complete")
	}
	return entry
}

func (q *Queue) record(entry *logrus.Entry, event Event) {
	if q.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.recorder.Record(ctx, event); err != nil {
		entry.WithError(err).Warn("Failed to record side effect outcome")
	}
}
