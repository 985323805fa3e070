package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/decision"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
)

// localServiceName is the built-in tool service used for locally routed
// tasks when no LocalExecutor is configured.
const localServiceName = "system"

type stopReason int

const (
	stopNone stopReason = iota
	stopPause
	stopCancel
	stopInterrupt
)

// LocalExecutor runs a locally routed task in-process.
type LocalExecutor func(ctx context.Context, task *core.Task) (any, error)

// Hooks are optional lifecycle callbacks. They run synchronously on the
// executing goroutine and must not block.
type Hooks struct {
	OnTaskStarted     func(task *core.Task)
	OnTaskCompleted   func(task *core.Task, result *core.TaskResult)
	OnTaskFailed      func(task *core.Task, result *core.TaskResult)
	OnTaskInterrupted func(task *core.Task)
}

// Options configures a Manager instance.
type Options struct {
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger

	// Config tunes concurrency, timeouts and interruption. Defaults to
	// core.DefaultSchedulerConfig().
	Config core.SchedulerConfig

	// Checkpoints persists task snapshots. Defaults to an in-memory store.
	Checkpoints core.CheckpointStore

	// LocalExecutor handles tasks the decision engine routes to local
	// execution. Defaults to dispatching against the built-in tool service.
	LocalExecutor LocalExecutor

	// Hooks receive task lifecycle events.
	Hooks Hooks
}

type runningTask struct {
	task       *core.Task
	cancel     context.CancelFunc
	startedAt  time.Time
	executedBy string
	reason     stopReason
}

// Manager is the task scheduler. Safe for concurrent use.
type Manager struct {
	logger      logging.Logger
	cfg         core.SchedulerConfig
	engine      *decision.Engine
	services    core.ServiceRegistry
	peers       core.PeerRegistry
	checkpoints core.CheckpointStore
	localExec   LocalExecutor
	hooks       Hooks

	mu       sync.Mutex
	queue    []*core.Task
	high     []*core.Task
	running  map[string]*runningTask
	paused   map[string]*core.Task
	statuses map[string]core.TaskStatus
	results  map[string]*core.TaskResult
	// resumeOn maps an urgent task id to the ids it preempted; they are
	// resumed once the urgent task reaches a terminal state.
	resumeOn map[string][]string
	// pendingInterrupts holds urgent tasks waiting for the next checkpoint
	// tick under the at_checkpoint policy.
	pendingInterrupts []*core.Task
	stopped           bool

	stopOnce sync.Once
	stopCh   chan struct{}
	loopWg   sync.WaitGroup
	taskWg   sync.WaitGroup
}

// New creates a Manager over the decision engine and both registries.
func New(engine *decision.Engine, services core.ServiceRegistry, peers core.PeerRegistry, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Config: core.DefaultSchedulerConfig(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = memory.NewInMemoryStore()
	}

	return &Manager{
		logger:      opts.Logger,
		cfg:         opts.Config,
		engine:      engine,
		services:    services,
		peers:       peers,
		checkpoints: opts.Checkpoints,
		localExec:   opts.LocalExecutor,
		hooks:       opts.Hooks,
		running:     make(map[string]*runningTask),
		paused:      make(map[string]*core.Task),
		statuses:    make(map[string]core.TaskStatus),
		results:     make(map[string]*core.TaskResult),
		resumeOn:    make(map[string][]string),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the scheduling and checkpoint loops and, when configured,
// recovers resumable tasks from the checkpoint store.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.AutoRecover {
		m.recover(ctx)
	}

	m.loopWg.Add(2)
	go m.scheduleLoop(ctx)
	go m.checkpointLoop(ctx)
}

// Stop drains the scheduler: no new submissions are accepted, queued tasks
// stay queued, and running tasks are given until ctx expires to finish
// before being cancelled.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopCh) })
	m.loopWg.Wait()

	done := make(chan struct{})
	go func() {
		m.taskWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.mu.Lock()
		for _, rt := range m.running {
			rt.reason = stopCancel
			rt.cancel()
		}
		m.mu.Unlock()
		<-done
	}
}

// Submit queues a task for execution. Task ids must be unique across
// queued, running and completed records.
func (m *Manager) Submit(task *core.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return core.ErrSchedulerStopped
	}
	if m.known(task.ID) {
		return fmt.Errorf("task %s: %w", task.ID, core.ErrDuplicateTaskID)
	}

	m.statuses[task.ID] = core.TaskPending
	if task.Priority.Tier() >= core.PriorityHigh.Tier() {
		m.high = append(m.high, task)
	} else {
		m.queue = append(m.queue, task)
	}
	m.logger.Info("task submitted", "taskId", task.ID, "type", task.Type, "priority", string(task.Priority))
	return nil
}

// SubmitUrgent forces the task to urgent priority and applies the
// configured interruption policy against currently running work.
func (m *Manager) SubmitUrgent(task *core.Task) error {
	task.Priority = core.PriorityUrgent

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return core.ErrSchedulerStopped
	}
	if m.known(task.ID) {
		m.mu.Unlock()
		return fmt.Errorf("task %s: %w", task.ID, core.ErrDuplicateTaskID)
	}
	m.statuses[task.ID] = core.TaskPending

	policy := m.cfg.InterruptionPolicy
	switch policy {
	case core.InterruptImmediate:
		m.high = append([]*core.Task{task}, m.high...)
		preempted := m.preemptRunningLocked(task.ID)
		m.mu.Unlock()
		m.logger.Info("urgent task preempting running work",
			"taskId", task.ID, "preempted", len(preempted))
	case core.InterruptAtCheckpoint:
		m.high = append([]*core.Task{task}, m.high...)
		m.pendingInterrupts = append(m.pendingInterrupts, task)
		m.mu.Unlock()
		m.logger.Info("urgent task waiting for next checkpoint", "taskId", task.ID)
	default: // core.InterruptAfterCurrent
		m.high = append(m.high, task)
		m.mu.Unlock()
		m.logger.Info("urgent task queued behind current work", "taskId", task.ID)
	}
	return nil
}

// preemptRunningLocked checkpoints and interrupts every running task,
// recording them for resume once the urgent task finishes. Caller holds
// m.mu.
func (m *Manager) preemptRunningLocked(urgentID string) []string {
	var preempted []string
	for id, rt := range m.running {
		m.writeCheckpoint(rt)
		rt.reason = stopInterrupt
		rt.cancel()
		preempted = append(preempted, id)
	}
	if len(preempted) > 0 {
		m.resumeOn[urgentID] = append(m.resumeOn[urgentID], preempted...)
	}
	return preempted
}

// Pause suspends a task. A running task is checkpointed and interrupted; a
// queued task is simply parked.
func (m *Manager) Pause(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rt, ok := m.running[taskID]; ok {
		m.writeCheckpoint(rt)
		rt.reason = stopPause
		rt.cancel()
		return nil
	}
	if task, ok := m.removeQueuedLocked(taskID); ok {
		m.paused[taskID] = task
		m.statuses[taskID] = core.TaskPaused
		return nil
	}
	return fmt.Errorf("task %s: %w", taskID, core.ErrTaskNotFound)
}

// Resume re-queues a paused task at high priority so it restarts promptly.
// Execution restarts from the task's last checkpoint state.
func (m *Manager) Resume(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumeLocked(taskID)
}

func (m *Manager) resumeLocked(taskID string) error {
	task, ok := m.paused[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, core.ErrTaskNotFound)
	}
	delete(m.paused, taskID)

	if cp, err := m.checkpoints.Load(context.Background(), taskID); err == nil {
		if task.Context == nil {
			task.Context = make(map[string]any)
		}
		task.Context["checkpoint"] = cp.State
	}

	m.statuses[taskID] = core.TaskPending
	m.high = append(m.high, task)
	m.logger.Info("task resumed", "taskId", taskID)
	return nil
}

// Cancel terminates a task in any non-terminal state.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rt, ok := m.running[taskID]; ok {
		rt.reason = stopCancel
		rt.cancel()
		return nil
	}
	if task, ok := m.removeQueuedLocked(taskID); ok {
		m.finishLocked(task, &core.TaskResult{
			TaskID:      taskID,
			Status:      core.TaskCancelled,
			CompletedAt: time.Now(),
		})
		return nil
	}
	if task, ok := m.paused[taskID]; ok {
		delete(m.paused, taskID)
		m.finishLocked(task, &core.TaskResult{
			TaskID:      taskID,
			Status:      core.TaskCancelled,
			CompletedAt: time.Now(),
		})
		return nil
	}
	return fmt.Errorf("task %s: %w", taskID, core.ErrTaskNotFound)
}

// Status returns the lifecycle state of a task.
func (m *Manager) Status(taskID string) (core.TaskStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[taskID]
	return status, ok
}

// Result returns the terminal result of a task, false while it is still
// queued or running.
func (m *Manager) Result(taskID string) (*core.TaskResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.results[taskID]
	return result, ok
}

// QueuedCount returns the number of tasks waiting for dispatch.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) + len(m.high)
}

// RunningCount returns the number of tasks currently executing.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) known(taskID string) bool {
	if _, ok := m.statuses[taskID]; ok {
		return true
	}
	return false
}

func (m *Manager) removeQueuedLocked(taskID string) (*core.Task, bool) {
	for i, t := range m.high {
		if t.ID == taskID {
			m.high = append(m.high[:i], m.high[i+1:]...)
			return t, true
		}
	}
	for i, t := range m.queue {
		if t.ID == taskID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	defer m.loopWg.Done()
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick dispatches eligible tasks up to the concurrency ceiling, high queue
// first, both ordered by priority score.
func (m *Manager) tick() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.running) < m.cfg.MaxConcurrentTasks {
		task := m.nextEligibleLocked(now)
		if task == nil {
			return
		}
		m.dispatchLocked(task)
	}
}

func (m *Manager) nextEligibleLocked(now time.Time) *core.Task {
	sortByScore(m.high, now)
	sortByScore(m.queue, now)

	for _, q := range []*[]*core.Task{&m.high, &m.queue} {
		for i, task := range *q {
			if !m.dependenciesMetLocked(task) {
				continue
			}
			*q = append((*q)[:i], (*q)[i+1:]...)
			return task
		}
	}
	return nil
}

func sortByScore(tasks []*core.Task, now time.Time) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].PriorityScore(now) > tasks[j].PriorityScore(now)
	})
}

func (m *Manager) dependenciesMetLocked(task *core.Task) bool {
	for _, dep := range task.Dependencies {
		if m.statuses[dep] != core.TaskCompleted {
			return false
		}
	}
	return true
}

func (m *Manager) dispatchLocked(task *core.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TaskTimeout)
	rt := &runningTask{task: task, cancel: cancel, startedAt: time.Now()}
	m.running[task.ID] = rt
	m.statuses[task.ID] = core.TaskRunning

	m.taskWg.Add(1)
	go func() {
		defer m.taskWg.Done()
		defer cancel()
		m.execute(ctx, rt)
	}()
}

func (m *Manager) execute(ctx context.Context, rt *runningTask) {
	task := rt.task
	if m.hooks.OnTaskStarted != nil {
		m.hooks.OnTaskStarted(task)
	}

	var (
		output any
		err    error
	)
	dec, err := m.engine.Decide(ctx, task)
	if err == nil {
		// The checkpoint loop reads executedBy under m.mu.
		m.mu.Lock()
		rt.executedBy = string(dec.TargetType) + ":" + dec.TargetName
		m.mu.Unlock()
		output, err = m.dispatchTo(ctx, dec, task)
	}
	duration := time.Since(rt.startedAt)

	if dec != nil && dec.TargetName != "" {
		m.engine.UpdatePerformance(dec.TargetName, core.PerformanceSample{
			ResponseTime: duration,
			Success:      err == nil,
		})
	}

	m.mu.Lock()
	delete(m.running, task.ID)
	reason := rt.reason
	if reason == stopNone && err != nil && errors.Is(err, context.Canceled) {
		// Cancelled from outside the scheduler's own control paths.
		reason = stopCancel
	}

	switch reason {
	case stopPause, stopInterrupt:
		m.paused[task.ID] = task
		if reason == stopInterrupt {
			m.statuses[task.ID] = core.TaskInterrupted
		} else {
			m.statuses[task.ID] = core.TaskPaused
		}
		m.mu.Unlock()
		if reason == stopInterrupt {
			m.logger.Info("task interrupted", "taskId", task.ID)
			if m.hooks.OnTaskInterrupted != nil {
				m.hooks.OnTaskInterrupted(task)
			}
		} else {
			m.logger.Info("task paused", "taskId", task.ID)
		}
		return
	case stopCancel:
		m.finishLocked(task, &core.TaskResult{
			TaskID:      task.ID,
			Status:      core.TaskCancelled,
			ExecutedBy:  rt.executedBy,
			StartedAt:   rt.startedAt,
			CompletedAt: time.Now(),
			Duration:    duration,
		})
		m.mu.Unlock()
		return
	}

	result := &core.TaskResult{
		TaskID:      task.ID,
		ExecutedBy:  rt.executedBy,
		StartedAt:   rt.startedAt,
		CompletedAt: time.Now(),
		Duration:    duration,
	}
	if err != nil {
		result.Status = core.TaskFailed
		result.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			result.Error = "task timed out after " + m.cfg.TaskTimeout.String()
		}
	} else {
		result.Status = core.TaskCompleted
		result.Output = output
	}
	m.finishLocked(task, result)
	m.mu.Unlock()

	if result.Status == core.TaskCompleted {
		_ = m.checkpoints.Delete(context.Background(), task.ID)
	}
	m.logTaskResult(task, result)
	m.fireTerminalHooks(task, result)
}

// dispatchTo routes the task execution to the decided target.
func (m *Manager) dispatchTo(ctx context.Context, dec *core.DecisionResult, task *core.Task) (any, error) {
	req := core.RequestForTask(task)
	switch dec.TargetType {
	case core.TargetMCP:
		return m.services.ExecuteTask(ctx, dec.TargetName, req)
	case core.TargetAgent:
		return m.peers.ExecuteTask(ctx, dec.TargetName, req)
	default:
		if m.localExec != nil {
			return m.localExec(ctx, task)
		}
		return m.services.ExecuteTask(ctx, localServiceName, req)
	}
}

// finishLocked records a terminal result and releases any tasks that were
// preempted to make room for this one. Caller holds m.mu.
func (m *Manager) finishLocked(task *core.Task, result *core.TaskResult) {
	m.statuses[task.ID] = result.Status
	m.results[task.ID] = result

	for _, id := range m.resumeOn[task.ID] {
		if err := m.resumeLocked(id); err != nil {
			m.logger.Warn("preempted task could not be resumed", "taskId", id, "error", err)
		}
	}
	delete(m.resumeOn, task.ID)
}

func (m *Manager) fireTerminalHooks(task *core.Task, result *core.TaskResult) {
	switch result.Status {
	case core.TaskCompleted:
		if m.hooks.OnTaskCompleted != nil {
			m.hooks.OnTaskCompleted(task, result)
		}
	case core.TaskFailed:
		if m.hooks.OnTaskFailed != nil {
			m.hooks.OnTaskFailed(task, result)
		}
	}
}

func (m *Manager) checkpointLoop(ctx context.Context) {
	defer m.loopWg.Done()
	ticker := time.NewTicker(m.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkpointTick()
		}
	}
}

// checkpointTick snapshots all running tasks and services any interruption
// that was deferred to a safe point.
func (m *Manager) checkpointTick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rt := range m.running {
		m.writeCheckpoint(rt)
	}

	if len(m.pendingInterrupts) > 0 {
		for _, urgent := range m.pendingInterrupts {
			preempted := m.preemptRunningLocked(urgent.ID)
			m.logger.Info("deferred interruption applied at checkpoint",
				"taskId", urgent.ID, "preempted", len(preempted))
		}
		m.pendingInterrupts = nil
	}
}

// writeCheckpoint persists a snapshot for one running task. Progress is an
// estimate from elapsed time against the task timeout; the serialized task
// rides along so recovery can rebuild it.
func (m *Manager) writeCheckpoint(rt *runningTask) {
	elapsed := time.Since(rt.startedAt)
	progress := float64(elapsed) / float64(m.cfg.TaskTimeout)
	if progress > 0.95 {
		progress = 0.95
	}

	state := map[string]any{
		"elapsed":    elapsed.String(),
		"executedBy": rt.executedBy,
	}
	if raw, err := json.Marshal(rt.task); err == nil {
		state["task"] = string(raw)
	}

	cp := &core.TaskCheckpoint{
		ID:          uuid.NewString(),
		TaskID:      rt.task.ID,
		Timestamp:   time.Now(),
		State:       state,
		Description: "snapshot of " + rt.task.Description,
		Progress:    progress,
		CanResume:   true,
	}
	if err := m.checkpoints.Save(context.Background(), cp); err != nil {
		m.logger.Warn("checkpoint save failed", "taskId", rt.task.ID, "error", err)
	}
}

// recover re-submits tasks with resumable checkpoints, typically after a
// restart with a persistent store.
func (m *Manager) recover(ctx context.Context) {
	cps, err := m.checkpoints.List(ctx)
	if err != nil {
		m.logger.Warn("checkpoint recovery failed", "error", err)
		return
	}

	recovered := 0
	for _, cp := range cps {
		if !cp.CanResume {
			continue
		}
		raw, ok := cp.State["task"].(string)
		if !ok {
			continue
		}
		var task core.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			m.logger.Warn("checkpoint task unmarshal failed", "taskId", cp.TaskID, "error", err)
			continue
		}

		m.mu.Lock()
		if !m.known(task.ID) {
			if task.Context == nil {
				task.Context = make(map[string]any)
			}
			task.Context["checkpoint"] = cp.State
			task.RetryCount++
			m.statuses[task.ID] = core.TaskPending
			m.high = append(m.high, &task)
			recovered++
		}
		m.mu.Unlock()
	}
	if recovered > 0 {
		m.logger.Info("recovered tasks from checkpoints", "count", recovered)
	}
}

func (m *Manager) logTaskResult(task *core.Task, result *core.TaskResult) {
	if rl, ok := m.logger.(*logging.RelayLogger); ok {
		var err error
		if result.Error != "" {
			err = errors.New(result.Error)
		}
		rl.LogTaskExecution(task.ID, result.ExecutedBy, result.Duration, result.Status == core.TaskCompleted, err)
		return
	}
	m.logger.Info("task finished",
		"taskId", task.ID,
		"status", string(result.Status),
		"executedBy", result.ExecutedBy,
		"duration", result.Duration,
	)
}
