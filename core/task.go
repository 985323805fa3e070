package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskPriority classifies how urgently a task should be scheduled.
type TaskPriority string

const (
	// PriorityLow is for background work that can wait indefinitely.
	PriorityLow TaskPriority = "low"
	// PriorityMedium is the default priority for submitted tasks.
	PriorityMedium TaskPriority = "medium"
	// PriorityHigh schedules ahead of medium and low priority work.
	PriorityHigh TaskPriority = "high"
	// PriorityUrgent routes through the high-priority queue and may trigger
	// interruption of running work depending on the configured policy.
	PriorityUrgent TaskPriority = "urgent"
)

// Tier returns the numeric scheduling tier for the priority. Unknown values
// map to the medium tier so a malformed task never jumps the queue.
func (p TaskPriority) Tier() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskPending means the task is queued and waiting for dispatch.
	TaskPending TaskStatus = "pending"
	// TaskRunning means the task is currently executing against a target.
	TaskRunning TaskStatus = "running"
	// TaskPaused means a running task was suspended (checkpoint recorded).
	TaskPaused TaskStatus = "paused"
	// TaskCompleted means execution finished successfully.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed means execution returned an error or timed out.
	TaskFailed TaskStatus = "failed"
	// TaskCancelled means the task was cancelled before or during execution.
	TaskCancelled TaskStatus = "cancelled"
	// TaskInterrupted means the task was preempted by higher-priority work.
	TaskInterrupted TaskStatus = "interrupted"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Task is the unit of routable work owned by the scheduler once submitted.
// The decision engine only reads it; mutation after submission is reserved
// for the scheduler.
type Task struct {
	// ID uniquely identifies the task across queued, running and completed
	// sets. An id may only be re-submitted after its record has been purged.
	ID string `json:"id"`
	// Type is a free-form task category (e.g. "file_operation", "web_search")
	// matched against routing rules and tool heuristics.
	Type string `json:"type"`
	// Description is the human-readable statement of the work.
	Description string `json:"description"`
	// Priority determines queue ordering and interruption behavior.
	Priority TaskPriority `json:"priority"`
	// RequiredCapabilities must be a subset of the chosen target's declared
	// capabilities.
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty"`
	// Specialties optionally narrows peer selection to agents declaring an
	// overlapping specialty set.
	Specialties []string `json:"specialties,omitempty"`
	// Dependencies lists task ids that must reach the completed state before
	// this task becomes eligible for dispatch.
	Dependencies []string `json:"dependencies,omitempty"`
	// Context carries caller-supplied execution context forwarded to the
	// target.
	Context map[string]any `json:"context,omitempty"`
	// Metadata carries opaque annotations that are never interpreted by the
	// routing subsystem.
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt is set on construction.
	CreatedAt time.Time `json:"createdAt"`
	// Deadline, when set, adds an urgency bonus to the priority score as it
	// approaches.
	Deadline *time.Time `json:"deadline,omitempty"`
	// RetryCount tracks how often the task has been re-submitted.
	RetryCount int `json:"retryCount,omitempty"`
}

// NewTask constructs a task with a generated id, the given description and
// sensible defaults (medium priority, created now).
func NewTask(description string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Type:        "general",
		Description: description,
		Priority:    PriorityMedium,
		CreatedAt:   time.Now(),
	}
}

// PriorityScore computes the scheduling score: the priority tier scaled up,
// plus a bonus that grows as the deadline approaches. Higher scores dispatch
// first.
func (t *Task) PriorityScore(now time.Time) float64 {
	score := float64(t.Priority.Tier()) * 100
	if t.Deadline != nil {
		remaining := t.Deadline.Sub(now)
		switch {
		case remaining <= 0:
			score += 50 // overdue
		case remaining < time.Minute:
			score += 40
		case remaining < 10*time.Minute:
			score += 25
		case remaining < time.Hour:
			score += 10
		}
	}
	return score
}

// TaskResult records the terminal outcome of one task execution.
type TaskResult struct {
	TaskID      string        `json:"taskId"`
	Status      TaskStatus    `json:"status"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	ExecutedBy  string        `json:"executedBy"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	Duration    time.Duration `json:"duration"`
}

// TaskCheckpoint is a durable snapshot of a running task's progress, taken on
// the checkpoint tick and on interruption. It is the only recovery mechanism:
// progress between checkpoints is lost on a crash.
type TaskCheckpoint struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"taskId"`
	Timestamp   time.Time      `json:"timestamp"`
	State       map[string]any `json:"state,omitempty"`
	Description string         `json:"description"`
	Progress    float64        `json:"progress"`
	CanResume   bool           `json:"canResume"`
}

// TaskRequest is the wire-level payload handed to a remote target (MCP
// service or A2A peer) when a task is dispatched to it.
type TaskRequest struct {
	TaskID       string         `json:"taskId"`
	Type         string         `json:"type"`
	Description  string         `json:"description"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RequestForTask builds the wire payload for dispatching the given task.
func RequestForTask(t *Task) TaskRequest {
	return TaskRequest{
		TaskID:       t.ID,
		Type:         t.Type,
		Description:  t.Description,
		Capabilities: t.RequiredCapabilities,
		Context:      t.Context,
		Metadata:     t.Metadata,
	}
}
