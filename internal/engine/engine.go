// Package engine is the background workflow engine: it dispatches workflow
// tasks from published events and cron ticks, runs them on a worker pool
// with at-least-once delivery, retries transient failures with backoff, and
// checkpoints each named step so a redelivered task resumes where it left
// off.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/expenseai/engine/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultMaxRetries = 3

// Engine executes registered workflows. It uses a buffered channel for task
// distribution and is safe for concurrent use. This implementation is
// suitable for single-instance deployments; a multi-instance deployment
// would swap the channel for a durable broker behind the same surface.
type Engine struct {
	registry    *Registry
	tasks       TaskStore
	checkpoints CheckpointStore
	log         zerolog.Logger

	taskChan  chan *Task
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool

	workers  int
	limiters map[string]*ratelimit.Keyed
	cron     *cron.Cron
}

// Option configures the engine.
type Option func(*Engine)

// WithWorkers sets the number of concurrent task workers.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBuffer sets the task channel buffer size.
func WithBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.taskChan = make(chan *Task, n)
		}
	}
}

// New creates an engine over the given registry. Workflows may still be
// registered after New and before Start; the engine itself is an event
// Publisher, so workflows that publish follow-up events are registered
// against the engine they run on.
func New(registry *Registry, tasks TaskStore, checkpoints CheckpointStore, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		tasks:       tasks,
		checkpoints: checkpoints,
		log:         log,
		taskChan:    make(chan *Task, 100),
		closeChan:   make(chan struct{}),
		workers:     5,
		limiters:    make(map[string]*ratelimit.Keyed),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PublishEvent dispatches one task per workflow registered for the named
// event. payload is marshaled to JSON when it is not already raw bytes.
func (e *Engine) PublishEvent(ctx context.Context, name string, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("PublishEvent %s: %w", name, err)
	}

	workflows := e.registry.ByEvent(name)
	if len(workflows) == 0 {
		e.log.Warn().Str("event", name).Msg("No workflow registered for event")
		return nil
	}

	for _, w := range workflows {
		if err := e.dispatch(ctx, w, name, raw); err != nil {
			return fmt.Errorf("PublishEvent %s: %w", name, err)
		}
	}
	return nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return raw, nil
	}
}

// dispatch creates a task, records it, and enqueues it.
func (e *Engine) dispatch(ctx context.Context, w Workflow, eventName string, payload json.RawMessage) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return fmt.Errorf("dispatch: engine is closed")
	}

	maxRetries := w.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	task := &Task{
		ID:         uuid.New().String(),
		Workflow:   w.Name,
		EventName:  eventName,
		Payload:    payload,
		Status:     TaskStatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: maxRetries,
	}

	if err := e.tasks.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("dispatch: save task: %w", err)
	}

	select {
	case e.taskChan <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.closeChan:
		return fmt.Errorf("dispatch: engine is closed")
	}
}

// Start launches the worker pool and the cron triggers. Per-workflow
// throttles are materialized here so all workers share one limiter per
// workflow.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return fmt.Errorf("Start: engine is closed")
	}
	e.mu.RUnlock()

	for _, w := range e.registry.Workflows() {
		if w.Throttle != nil {
			e.limiters[w.Name] = ratelimit.NewKeyed(w.Throttle.Limit, w.Throttle.Window)
		}
	}

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}

	cronWorkflows := e.registry.CronWorkflows()
	if len(cronWorkflows) > 0 {
		e.cron = cron.New()
		for _, w := range cronWorkflows {
			w := w
			_, err := e.cron.AddFunc(w.Trigger.Cron, func() {
				if err := e.dispatch(ctx, w, "", nil); err != nil {
					e.log.Error().Err(err).Str("workflow", w.Name).Msg("Failed to dispatch cron tick")
				}
			})
			if err != nil {
				return fmt.Errorf("Start: cron %s for workflow %s: %w", w.Trigger.Cron, w.Name, err)
			}
		}
		e.cron.Start()
	}

	return nil
}

// worker processes tasks from the queue.
func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closeChan:
			return
		case task := <-e.taskChan:
			if task == nil {
				return
			}
			e.processTask(ctx, task)
		}
	}
}

// processTask executes a single task with retry logic. Throttled workflows
// wait for their per-key limiter before running.
func (e *Engine) processTask(ctx context.Context, task *Task) {
	w, ok := e.workflow(task.Workflow)
	if !ok {
		e.log.Error().Str("workflow", task.Workflow).Str("task_id", task.ID).Msg("Task references unknown workflow")
		return
	}

	if limiter, ok := e.limiters[w.Name]; ok && w.Throttle.Key != nil {
		if key := w.Throttle.Key(task.Payload); key != "" {
			if err := limiter.Wait(ctx, key); err != nil {
				return
			}
		}
	}

	task.Status = TaskStatusRunning
	now := time.Now()
	task.StartedAt = &now
	_ = e.tasks.SaveTask(ctx, task)

	ex := NewExecution(task.ID, e.checkpoints, e.log.With().Str("workflow", w.Name).Logger())
	result, err := w.Handler(ctx, ex, task.Payload)

	completedAt := time.Now()
	task.CompletedAt = &completedAt

	if err != nil {
		task.Error = err.Error()

		if !IsFatal(err) && task.RetryCount < task.MaxRetries {
			task.RetryCount++
			task.Status = TaskStatusRetrying
			_ = e.tasks.SaveTask(ctx, task)

			// Re-enqueue with exponential backoff; the stable task ID
			// means completed steps are skipped on the next attempt.
			backoff := time.Duration(1<<uint(task.RetryCount-1)) * time.Second
			time.AfterFunc(backoff, func() {
				task.Status = TaskStatusPending
				task.StartedAt = nil
				task.CompletedAt = nil
				e.requeue(ctx, task)
			})
			return
		}

		task.Status = TaskStatusFailed
		_ = e.tasks.SaveTask(ctx, task)
		e.log.Error().Err(err).Str("workflow", w.Name).Str("task_id", task.ID).Msg("Task failed")
		return
	}

	if result != nil {
		if raw, merr := json.Marshal(result); merr == nil {
			task.Result = raw
		}
	}
	task.Status = TaskStatusCompleted
	task.Error = ""
	_ = e.tasks.SaveTask(ctx, task)
}

func (e *Engine) requeue(ctx context.Context, task *Task) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}

	select {
	case e.taskChan <- task:
	case <-ctx.Done():
	case <-e.closeChan:
	}
}

func (e *Engine) workflow(name string) (Workflow, bool) {
	for _, w := range e.registry.Workflows() {
		if w.Name == name {
			return w, true
		}
	}
	return Workflow{}, false
}

// Stop stops the cron triggers and waits for in-flight tasks to complete,
// bounded by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.closeChan)
	e.mu.Unlock()

	if e.cron != nil {
		cronCtx := e.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
