// Package agentrelay provides a high-level façade over the task routing
// subsystem: the MCP service registry, the A2A peer registry, the decision
// engine, the tool router and the task scheduler. Most applications
// interact with this package by:
//  1. Creating an Orchestrator via New() with service and peer configs
//  2. Calling Start() to connect the pools and launch the scheduler
//  3. Submitting tasks (SubmitTask, SubmitUrgentTask) or routing ad-hoc
//     tool calls (ExecuteToolCall)
//
// The façade delegates all routing decisions to the decision engine while
// keeping setup ergonomics concise. All defaults are safe for local
// development; production deployments typically supply a persistent
// checkpoint store and a structured logger.
package agentrelay

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/decision"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/mcp"
	"github.com/hupe1980/agentrelay/router"
	"github.com/hupe1980/agentrelay/scheduler"
	"github.com/hupe1980/agentrelay/tool"
)

// cacheCleanupInterval is how often the decision cache sweeps expired
// entries.
const cacheCleanupInterval = time.Minute

// Options configures the Orchestrator instance.
type Options struct {
	// Services declares the MCP service pool.
	Services []core.ServiceConfig

	// Peers declares the A2A peer pool.
	Peers []core.PeerConfig

	// Decision tunes the decision engine (strategy, rules, cache).
	Decision core.DecisionConfig

	// Router tunes the tool router (strategy, fallback, timeout).
	Router core.RouterConfig

	// Scheduler tunes the task manager (concurrency, interruption,
	// checkpoints).
	Scheduler core.SchedulerConfig

	// Checkpoints persists task snapshots. Defaults to an in-memory store;
	// supply memory.NewSQLiteStore for recovery across restarts.
	Checkpoints core.CheckpointStore

	// Balancing picks among equally qualified A2A peers.
	Balancing core.BalancingStrategy

	// SystemTools extends or replaces the built-in local tool set.
	SystemTools []tool.Tool

	// LocalExecutor overrides how locally routed tasks execute. Defaults to
	// the built-in tool service.
	LocalExecutor scheduler.LocalExecutor

	// Hooks receive task lifecycle events from the scheduler.
	Hooks scheduler.Hooks

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Status is a point-in-time snapshot of the subsystem.
type Status struct {
	ConnectedServices int
	ConnectedPeers    int
	QueuedTasks       int
	RunningTasks      int
	CurrentLoad       int
	CacheStats        decision.CacheStats
	RouterStats       router.Stats
}

// Orchestrator is the high-level façade aggregating the registries, the
// decision engine, the tool router and the scheduler.
type Orchestrator struct {
	opts      Options
	logger    logging.Logger
	services  *mcp.Registry
	peers     *a2a.Registry
	engine    *decision.Engine
	router    *router.Router
	scheduler *scheduler.Manager

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Orchestrator with optional overrides. Nothing connects
// until Start is called.
func New(optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Decision:  core.DefaultDecisionConfig(),
		Router:    core.DefaultRouterConfig(),
		Scheduler: core.DefaultSchedulerConfig(),
		Balancing: core.BalanceRoundRobin,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	services := mcp.New(opts.Services, func(o *mcp.Options) {
		o.Logger = opts.Logger
		o.SystemTools = opts.SystemTools
	})
	peers := a2a.New(opts.Peers, func(o *a2a.Options) {
		o.Logger = opts.Logger
		o.Balancing = opts.Balancing
	})
	engine := decision.New(services, peers, func(o *decision.Options) {
		o.Logger = opts.Logger
		o.Config = opts.Decision
	})
	toolRouter := router.New(services, peers, engine, func(o *router.Options) {
		o.Logger = opts.Logger
		o.Config = opts.Router
	})
	taskManager := scheduler.New(engine, services, peers, func(o *scheduler.Options) {
		o.Logger = opts.Logger
		o.Config = opts.Scheduler
		o.Checkpoints = opts.Checkpoints
		o.LocalExecutor = opts.LocalExecutor
		o.Hooks = opts.Hooks
	})

	return &Orchestrator{
		opts:      opts,
		logger:    opts.Logger,
		services:  services,
		peers:     peers,
		engine:    engine,
		router:    toolRouter,
		scheduler: taskManager,
	}
}

// Start connects both pools best-effort, launches health checking, cache
// cleanup, the scheduler and the monitoring loop. Unreachable targets are
// reported in the logs, never as a startup failure.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	mcpReport := o.services.Initialize(ctx)
	a2aReport := o.peers.Initialize(ctx)
	o.logger.Info("orchestrator pools initialized",
		"mcpConnected", mcpReport.Connected,
		"mcpFailed", mcpReport.Failed,
		"a2aConnected", a2aReport.Connected,
		"a2aFailed", a2aReport.Failed,
	)

	o.services.Start(runCtx)
	o.peers.Start(runCtx)
	o.engine.Cache().StartCleanup(cacheCleanupInterval)
	o.scheduler.Start(runCtx)

	o.wg.Add(1)
	go o.monitor(runCtx)

	o.started = true
	return nil
}

// Stop shuts the subsystem down in reverse order of Start, giving running
// tasks until ctx expires to drain.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return
	}

	o.scheduler.Stop(ctx)
	o.engine.Cache().StopCleanup()
	o.cancel()
	o.wg.Wait()
	o.peers.Stop()
	o.services.Stop()

	o.started = false
	o.logger.Info("orchestrator stopped")
}

// SubmitTask queues a task for scheduled execution.
func (o *Orchestrator) SubmitTask(task *core.Task) error {
	return o.scheduler.Submit(task)
}

// SubmitUrgentTask forces urgent priority and applies the configured
// interruption policy.
func (o *Orchestrator) SubmitUrgentTask(task *core.Task) error {
	return o.scheduler.SubmitUrgent(task)
}

// CancelTask terminates a task in any non-terminal state.
func (o *Orchestrator) CancelTask(taskID string) error {
	return o.scheduler.Cancel(taskID)
}

// PauseTask suspends a queued or running task with a checkpoint.
func (o *Orchestrator) PauseTask(taskID string) error {
	return o.scheduler.Pause(taskID)
}

// ResumeTask re-queues a paused task from its last checkpoint.
func (o *Orchestrator) ResumeTask(taskID string) error {
	return o.scheduler.Resume(taskID)
}

// TaskStatus returns the lifecycle state of a task.
func (o *Orchestrator) TaskStatus(taskID string) (core.TaskStatus, bool) {
	return o.scheduler.Status(taskID)
}

// TaskResult returns the terminal result of a task, false while it is
// still queued or running.
func (o *Orchestrator) TaskResult(taskID string) (*core.TaskResult, bool) {
	return o.scheduler.Result(taskID)
}

// ExecuteToolCall routes one ad-hoc tool call, bypassing the scheduler.
func (o *Orchestrator) ExecuteToolCall(ctx context.Context, call core.ToolCall) *core.ToolCallResult {
	return o.router.ExecuteToolCall(ctx, call)
}

// DecisionEngine exposes the engine for rule management and metrics.
func (o *Orchestrator) DecisionEngine() *decision.Engine { return o.engine }

// ToolRouter exposes the router for stats queries.
func (o *Orchestrator) ToolRouter() *router.Router { return o.router }

// Services exposes the MCP service registry.
func (o *Orchestrator) Services() *mcp.Registry { return o.services }

// Peers exposes the A2A peer registry.
func (o *Orchestrator) Peers() *a2a.Registry { return o.peers }

// Status returns a point-in-time snapshot of the subsystem.
func (o *Orchestrator) Status() Status {
	return Status{
		ConnectedServices: o.services.ConnectedCount(),
		ConnectedPeers:    o.peers.ConnectedCount(),
		QueuedTasks:       o.scheduler.QueuedCount(),
		RunningTasks:      o.scheduler.RunningCount(),
		CurrentLoad:       o.services.CurrentLoad() + o.peers.CurrentLoad(),
		CacheStats:        o.engine.Cache().Stats(),
		RouterStats:       o.router.Stats(),
	}
}

// monitor periodically logs a status snapshot.
func (o *Orchestrator) monitor(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(core.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := o.Status()
			o.logger.Info("orchestrator status",
				"connectedServices", s.ConnectedServices,
				"connectedPeers", s.ConnectedPeers,
				"queuedTasks", s.QueuedTasks,
				"runningTasks", s.RunningTasks,
				"currentLoad", s.CurrentLoad,
			)
		}
	}
}
