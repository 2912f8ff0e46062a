package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStepCheckpointsResult(t *testing.T) {
	checkpoints := NewMemoryCheckpointStore()
	ex := NewExecution("task-1", checkpoints, zerolog.Nop())

	calls := 0
	fn := func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	}

	v, err := RunStep(context.Background(), ex, "compute", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)

	// Second run under the same instance returns the checkpoint.
	v, err = RunStep(context.Background(), ex, "compute", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls, "completed step must not re-run")
}

func TestRunStepResumesAcrossExecutions(t *testing.T) {
	checkpoints := NewMemoryCheckpointStore()

	calls := 0
	fn := func(ctx context.Context) (string, error) {
		calls++
		return "done", nil
	}

	ex1 := NewExecution("task-1", checkpoints, zerolog.Nop())
	_, err := RunStep(context.Background(), ex1, "step-a", fn)
	require.NoError(t, err)

	// A redelivered task keeps its ID, so a fresh Execution over the same
	// checkpoint store sees the completed step.
	ex2 := NewExecution("task-1", checkpoints, zerolog.Nop())
	v, err := RunStep(context.Background(), ex2, "step-a", fn)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 1, calls)

	// A different task gets its own checkpoints.
	ex3 := NewExecution("task-2", checkpoints, zerolog.Nop())
	_, err = RunStep(context.Background(), ex3, "step-a", fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRunStepFailureIsNotCheckpointed(t *testing.T) {
	checkpoints := NewMemoryCheckpointStore()
	ex := NewExecution("task-1", checkpoints, zerolog.Nop())

	boom := errors.New("transient")
	attempts := 0
	fn := func(ctx context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, boom
		}
		return 7, nil
	}

	_, err := RunStep(context.Background(), ex, "flaky", fn)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	v, err := RunStep(context.Background(), ex, "flaky", fn)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, attempts)
}

func TestRunStepDistinctNames(t *testing.T) {
	checkpoints := NewMemoryCheckpointStore()
	ex := NewExecution("task-1", checkpoints, zerolog.Nop())

	a, err := RunStep(context.Background(), ex, "step-a", func(ctx context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	b, err := RunStep(context.Background(), ex, "step-b", func(ctx context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestFatalClassification(t *testing.T) {
	base := errors.New("row gone")

	assert.False(t, IsFatal(base))
	assert.True(t, IsFatal(Fatal(base)))
	assert.Nil(t, Fatal(nil))

	// Wrapping preserves fatality, including through step error wrapping.
	ex := NewExecution("task-1", NewMemoryCheckpointStore(), zerolog.Nop())
	_, err := RunStep(context.Background(), ex, "doomed", func(ctx context.Context) (int, error) {
		return 0, Fatal(base)
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, base)
}

func TestValidationErrorExtraction(t *testing.T) {
	ve := &ValidationError{Field: "email", Reason: "missing"}
	assert.Equal(t, "validation: email: missing", ve.Error())

	ex := NewExecution("task-1", NewMemoryCheckpointStore(), zerolog.Nop())
	_, err := RunStep(context.Background(), ex, "validate", func(ctx context.Context) (int, error) {
		return 0, ve
	})
	require.Error(t, err)

	got, ok := AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "email", got.Field)

	_, ok = AsValidation(errors.New("other"))
	assert.False(t, ok)
}
