package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// InMemoryStore is a process-local CheckpointStore keeping the latest
// checkpoint per task id.
//
// Concurrency: protected by RWMutex. Suitable for tests and setups where
// checkpoint durability across restarts is not required.
type InMemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*core.TaskCheckpoint // taskID -> latest checkpoint
}

// NewInMemoryStore creates a new in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{checkpoints: make(map[string]*core.TaskCheckpoint)}
}

// Save writes or replaces the checkpoint for its task.
func (s *InMemoryStore) Save(_ context.Context, cp *core.TaskCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cp
	s.checkpoints[cp.TaskID] = &clone
	return nil
}

// Load returns a copy of the latest checkpoint for the task.
func (s *InMemoryStore) Load(_ context.Context, taskID string) (*core.TaskCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[taskID]
	if !ok {
		return nil, core.ErrCheckpointNotFound
	}
	clone := *cp
	return &clone, nil
}

// List returns all stored checkpoints, newest first.
func (s *InMemoryStore) List(_ context.Context) ([]*core.TaskCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.TaskCheckpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		clone := *cp
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Delete removes the checkpoint for the task. Missing entries are not an
// error.
func (s *InMemoryStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, taskID)
	return nil
}
