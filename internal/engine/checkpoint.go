package engine

import (
	"context"
	"fmt"
	"sync"
)

// CheckpointStore persists (instanceID, stepName) -> result so a redelivered
// task skips steps that already completed.
type CheckpointStore interface {
	// GetCheckpoint returns the recorded result for a step, if any.
	GetCheckpoint(ctx context.Context, instanceID, stepName string) ([]byte, bool, error)

	// PutCheckpoint records a step's result.
	PutCheckpoint(ctx context.Context, instanceID, stepName string, result []byte) error
}

// MemoryCheckpointStore is an in-memory CheckpointStore, safe for concurrent
// use. Checkpoints are lost on restart; a durable deployment would back this
// with the relational store.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	results map[string][]byte
}

// NewMemoryCheckpointStore creates an empty checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		results: make(map[string][]byte),
	}
}

func checkpointKey(instanceID, stepName string) string {
	return fmt.Sprintf("%s/%s", instanceID, stepName)
}

// GetCheckpoint implements CheckpointStore.
func (s *MemoryCheckpointStore) GetCheckpoint(ctx context.Context, instanceID, stepName string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[checkpointKey(instanceID, stepName)]
	if !ok {
		return nil, false, nil
	}

	// Return a copy to avoid external modifications
	resultCopy := make([]byte, len(result))
	copy(resultCopy, result)
	return resultCopy, true, nil
}

// PutCheckpoint implements CheckpointStore.
func (s *MemoryCheckpointStore) PutCheckpoint(ctx context.Context, instanceID, stepName string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resultCopy := make([]byte, len(result))
	copy(resultCopy, result)
	s.results[checkpointKey(instanceID, stepName)] = resultCopy
	return nil
}

var _ CheckpointStore = (*MemoryCheckpointStore)(nil)
