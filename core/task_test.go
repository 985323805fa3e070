package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("summarize the report")
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "general", task.Type)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestPriorityTier(t *testing.T) {
	assert.Equal(t, 4, PriorityUrgent.Tier())
	assert.Equal(t, 3, PriorityHigh.Tier())
	assert.Equal(t, 2, PriorityMedium.Tier())
	assert.Equal(t, 1, PriorityLow.Tier())
	// Unknown priorities never jump the queue.
	assert.Equal(t, 2, TaskPriority("bogus").Tier())
}

func TestPriorityScoreOrdering(t *testing.T) {
	now := time.Now()

	urgent := NewTask("urgent work")
	urgent.Priority = PriorityUrgent
	low := NewTask("background work")
	low.Priority = PriorityLow

	assert.Greater(t, urgent.PriorityScore(now), low.PriorityScore(now))
}

func TestPriorityScoreDeadlineBonus(t *testing.T) {
	now := time.Now()

	soon := NewTask("due soon")
	deadline := now.Add(30 * time.Second)
	soon.Deadline = &deadline

	relaxed := NewTask("due much later")
	far := now.Add(24 * time.Hour)
	relaxed.Deadline = &far

	assert.Greater(t, soon.PriorityScore(now), relaxed.PriorityScore(now))

	// An imminent deadline can outrank a higher tier without one.
	high := NewTask("high priority, no deadline")
	high.Priority = PriorityHigh
	soon.Priority = PriorityHigh
	assert.Greater(t, soon.PriorityScore(now), high.PriorityScore(now))
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, TaskCancelled.Terminal())
	assert.False(t, TaskRunning.Terminal())
	assert.False(t, TaskPaused.Terminal())
	assert.False(t, TaskInterrupted.Terminal())
}

func TestRequestForTask(t *testing.T) {
	task := NewTask("index the repository")
	task.Type = "file_operation"
	task.RequiredCapabilities = []string{"file_operations"}
	task.Context = map[string]any{"root": "/tmp"}

	req := RequestForTask(task)
	assert.Equal(t, task.ID, req.TaskID)
	assert.Equal(t, "file_operation", req.Type)
	assert.Equal(t, []string{"file_operations"}, req.Capabilities)
	assert.Equal(t, "/tmp", req.Context["root"])
}
