package core

import "context"

// CheckpointStore persists task checkpoints for interruption-and-resume.
// Implementations must be safe for concurrent use. The memory package
// provides an in-memory store and a SQLite-backed store.
type CheckpointStore interface {
	// Save writes or replaces the checkpoint for its task.
	Save(ctx context.Context, cp *TaskCheckpoint) error

	// Load returns the latest checkpoint for the task, or ErrCheckpointNotFound.
	Load(ctx context.Context, taskID string) (*TaskCheckpoint, error)

	// List returns all stored checkpoints, newest first.
	List(ctx context.Context) ([]*TaskCheckpoint, error)

	// Delete removes the checkpoint for the task. Deleting a missing
	// checkpoint is not an error.
	Delete(ctx context.Context, taskID string) error
}

// MetricsStore holds per-target performance metrics for the decision
// engine's scorer. Kept behind an interface so a persistent implementation
// can be substituted without touching the scoring logic.
type MetricsStore interface {
	// Get returns the metrics for a target, false when no history exists.
	Get(target string) (PerformanceMetrics, bool)

	// Record merges one execution sample into the target's rolling metrics
	// and refreshes LastUsed.
	Record(target string, sample PerformanceSample)

	// Snapshot returns a copy of all per-target metrics.
	Snapshot() map[string]PerformanceMetrics
}
