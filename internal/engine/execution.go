package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Execution is the step runner handed to a workflow handler. Each named step
// is individually checkpointed under the task's instance ID: when a task is
// redelivered after a crash or retry, steps that already completed return
// their recorded results without re-running.
type Execution struct {
	instanceID  string
	checkpoints CheckpointStore
	log         zerolog.Logger
}

// NewExecution creates a step runner for one workflow instance.
func NewExecution(instanceID string, checkpoints CheckpointStore, log zerolog.Logger) *Execution {
	return &Execution{
		instanceID:  instanceID,
		checkpoints: checkpoints,
		log:         log.With().Str("instance_id", instanceID).Logger(),
	}
}

// InstanceID returns the workflow instance identifier.
func (ex *Execution) InstanceID() string {
	return ex.instanceID
}

// Log returns the instance-scoped logger.
func (ex *Execution) Log() *zerolog.Logger {
	return &ex.log
}

// Run executes one named step. The step's JSON result is persisted before
// Run returns; a failed step's error propagates to the queue for retry
// without disturbing checkpoints of earlier steps.
func (ex *Execution) Run(ctx context.Context, name string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if cached, ok, err := ex.checkpoints.GetCheckpoint(ctx, ex.instanceID, name); err != nil {
		return nil, fmt.Errorf("step %s: read checkpoint: %w", name, err)
	} else if ok {
		ex.log.Debug().Str("step", name).Msg("Step already completed, using checkpoint")
		return cached, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}

	if err := ex.checkpoints.PutCheckpoint(ctx, ex.instanceID, name, result); err != nil {
		return nil, fmt.Errorf("step %s: write checkpoint: %w", name, err)
	}

	ex.log.Debug().Str("step", name).Msg("Step completed")
	return result, nil
}

// RunStep executes a named step with a typed result, marshaling it through
// the execution's checkpoint store.
func RunStep[T any](ctx context.Context, ex *Execution, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	raw, err := ex.Run(ctx, name, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("step %s: unmarshal checkpoint: %w", name, err)
	}
	return out, nil
}
