package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Handler processes one workflow task. The returned value is marshaled and
// recorded as the task result. Returning an error hands the task back to
// the queue: retryable errors are retried with backoff, Fatal ones fail the
// task immediately.
type Handler func(ctx context.Context, ex *Execution, payload json.RawMessage) (any, error)

// Trigger binds a workflow to either a named event or a cron schedule.
type Trigger struct {
	Event string
	Cron  string
}

// OnEvent triggers a workflow for every published event with this name.
func OnEvent(name string) Trigger {
	return Trigger{Event: name}
}

// OnCron triggers a workflow on a cron schedule (standard 5-field spec).
func OnCron(spec string) Trigger {
	return Trigger{Cron: spec}
}

// Throttle caps task completions per key within a rolling window. Tasks over
// the limit wait; they are never dropped.
type Throttle struct {
	Limit  int
	Window time.Duration

	// Key derives the throttle key from the task payload. An empty key
	// bypasses throttling for that task.
	Key func(payload json.RawMessage) string
}

// Workflow is one registered trigger-to-handler binding.
type Workflow struct {
	Name       string
	Trigger    Trigger
	Handler    Handler
	Throttle   *Throttle
	MaxRetries int
}

// Registry holds workflow registrations. It is built at startup and passed
// into the engine; there is no package-level registration state.
type Registry struct {
	workflows []Workflow
	byName    map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a workflow. Names must be unique and every workflow needs
// exactly one trigger kind.
func (r *Registry) Register(w Workflow) error {
	if w.Name == "" {
		return fmt.Errorf("Register: workflow name is required")
	}
	if w.Handler == nil {
		return fmt.Errorf("Register: workflow %s: handler is required", w.Name)
	}
	if (w.Trigger.Event == "") == (w.Trigger.Cron == "") {
		return fmt.Errorf("Register: workflow %s: exactly one of event or cron trigger is required", w.Name)
	}
	if _, exists := r.byName[w.Name]; exists {
		return fmt.Errorf("Register: workflow %s already registered", w.Name)
	}

	r.byName[w.Name] = len(r.workflows)
	r.workflows = append(r.workflows, w)
	return nil
}

// MustRegister is Register that panics on error, for static startup wiring.
func (r *Registry) MustRegister(w Workflow) {
	if err := r.Register(w); err != nil {
		panic(err)
	}
}

// ByEvent returns every workflow triggered by the named event.
func (r *Registry) ByEvent(name string) []Workflow {
	var matched []Workflow
	for _, w := range r.workflows {
		if w.Trigger.Event == name {
			matched = append(matched, w)
		}
	}
	return matched
}

// CronWorkflows returns every cron-triggered workflow.
func (r *Registry) CronWorkflows() []Workflow {
	var matched []Workflow
	for _, w := range r.workflows {
		if w.Trigger.Cron != "" {
			matched = append(matched, w)
		}
	}
	return matched
}

// Workflows returns all registrations.
func (r *Registry) Workflows() []Workflow {
	return r.workflows
}
