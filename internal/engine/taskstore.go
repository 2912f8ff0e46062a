package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryTaskStore is an in-memory TaskStore. It is safe for concurrent use;
// task state is lost on restart.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryTaskStore creates an empty task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]*Task),
	}
}

// SaveTask implements TaskStore.
func (s *MemoryTaskStore) SaveTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("SaveTask: task ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external modifications
	taskCopy := *task
	s.tasks[task.ID] = &taskCopy
	return nil
}

// GetTask implements TaskStore.
func (s *MemoryTaskStore) GetTask(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, fmt.Errorf("GetTask: task not found: %s", id)
	}

	taskCopy := *task
	return &taskCopy, nil
}

// ListTasks implements TaskStore. Results come back newest first.
func (s *MemoryTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Task
	for _, task := range s.tasks {
		if filter.Workflow != "" && task.Workflow != filter.Workflow {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}

		taskCopy := *task
		result = append(result, &taskCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*Task{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

var _ TaskStore = (*MemoryTaskStore)(nil)
