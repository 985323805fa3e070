package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/decision"
	"github.com/hupe1980/agentrelay/logging"
)

// defaultInference maps capability tags to tool-name keywords. A tool named
// read_file infers file_operations, store_memory infers memory_management.
var defaultInference = map[string][]string{
	"file_operations":   {"file", "read", "write", "directory", "list"},
	"memory_management": {"memory", "store", "search", "recall"},
	"command_execution": {"command", "execute", "bash", "shell", "run"},
	"planning":          {"plan"},
	"chat":              {"chat", "completion", "generate"},
}

// Options configures a Router instance.
type Options struct {
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger

	// Config tunes strategy, fallback and timeout. Defaults to
	// core.DefaultRouterConfig().
	Config core.RouterConfig
}

// Stats are the router's running counters. AverageExecutionTime covers all
// calls, successful or not.
type Stats struct {
	TotalCalls           int64
	MCPCalls             int64
	A2ACalls             int64
	SuccessfulCalls      int64
	FailedCalls          int64
	AverageExecutionTime time.Duration
}

// Router dispatches tool calls to MCP services or A2A peers per the
// configured strategy. Safe for concurrent use.
type Router struct {
	logger   logging.Logger
	cfg      core.RouterConfig
	services core.ServiceRegistry
	peers    core.PeerRegistry
	engine   *decision.Engine

	inference map[string][]string

	inferMu  sync.RWMutex
	inferred map[string][]string // memoized per tool name

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Router over the given registries. The decision engine backs
// the capability-based and hybrid strategies.
func New(services core.ServiceRegistry, peers core.PeerRegistry, engine *decision.Engine, optFns ...func(o *Options)) *Router {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Config: core.DefaultRouterConfig(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	inference := opts.Config.Inference
	if inference == nil {
		inference = defaultInference
	}

	return &Router{
		logger:    opts.Logger,
		cfg:       opts.Config,
		services:  services,
		peers:     peers,
		engine:    engine,
		inference: inference,
		inferred:  make(map[string][]string),
	}
}

// ExecuteToolCall routes one tool call and always returns a result
// envelope; failures are reported in the envelope, never as an error.
func (r *Router) ExecuteToolCall(ctx context.Context, call core.ToolCall) *core.ToolCallResult {
	start := time.Now()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	result := r.route(ctx, call, r.cfg.Strategy)
	if !result.Success && r.cfg.FallbackEnabled {
		if alt := oppositeStrategy(r.cfg.Strategy); alt != r.cfg.Strategy {
			r.logger.Debug("tool call failed, retrying with fallback strategy",
				"tool", call.Name, "strategy", string(alt), "error", result.Error)
			if retry := r.route(ctx, call, alt); retry.Success {
				result = retry
			}
		}
	}

	result.ExecutionTime = time.Since(start)
	r.record(result)
	r.logToolCall(call.Name, result)
	return result
}

func oppositeStrategy(s core.RoutingStrategy) core.RoutingStrategy {
	switch s {
	case core.RouteMCPFirst:
		return core.RouteA2AFirst
	case core.RouteA2AFirst:
		return core.RouteMCPFirst
	case core.RouteCapabilityBased:
		return core.RouteLoadBalanced
	case core.RouteLoadBalanced:
		return core.RouteCapabilityBased
	default: // hybrid already tries both orders
		return s
	}
}

func (r *Router) route(ctx context.Context, call core.ToolCall, strategy core.RoutingStrategy) *core.ToolCallResult {
	switch strategy {
	case core.RouteMCPFirst:
		if result := r.tryMCP(ctx, call); result.Success {
			return result
		}
		return r.tryA2A(ctx, call)
	case core.RouteA2AFirst:
		if result := r.tryA2A(ctx, call); result.Success {
			return result
		}
		return r.tryMCP(ctx, call)
	case core.RouteLoadBalanced:
		if r.services.CurrentLoad() <= r.peers.CurrentLoad() {
			return r.route(ctx, call, core.RouteMCPFirst)
		}
		return r.route(ctx, call, core.RouteA2AFirst)
	case core.RouteHybrid:
		return r.routeHybrid(ctx, call)
	default: // core.RouteCapabilityBased
		return r.routeByCapability(ctx, call)
	}
}

// routeByCapability asks the decision engine where a synthetic task shaped
// like this tool call should execute.
func (r *Router) routeByCapability(ctx context.Context, call core.ToolCall) *core.ToolCallResult {
	if r.engine == nil {
		return r.route(ctx, call, core.RouteMCPFirst)
	}

	dec, err := r.decideForCall(ctx, call)
	if err != nil {
		return failure(err.Error())
	}
	return r.executeDecision(ctx, dec, call)
}

// routeHybrid accepts the capability-based decision outright above the
// confidence threshold. Below it the decision competes against the
// load-balanced alternative, whose confidence is the less loaded side's
// inverse load, and the higher-confidence route wins.
func (r *Router) routeHybrid(ctx context.Context, call core.ToolCall) *core.ToolCallResult {
	if r.engine == nil {
		return r.route(ctx, call, core.RouteLoadBalanced)
	}

	dec, err := r.decideForCall(ctx, call)
	if err != nil {
		return r.route(ctx, call, core.RouteLoadBalanced)
	}
	if dec.Confidence >= r.cfg.ConfidenceThreshold {
		return r.executeDecision(ctx, dec, call)
	}

	load := r.services.CurrentLoad()
	if peerLoad := r.peers.CurrentLoad(); peerLoad < load {
		load = peerLoad
	}
	balancedConfidence := 1.0 / (1.0 + float64(load))
	if dec.Confidence >= balancedConfidence {
		return r.executeDecision(ctx, dec, call)
	}
	return r.route(ctx, call, core.RouteLoadBalanced)
}

func (r *Router) decideForCall(ctx context.Context, call core.ToolCall) (*core.DecisionResult, error) {
	task := core.NewTask("tool call " + call.Name)
	task.Type = "tool_call"
	task.RequiredCapabilities = r.inferCapabilities(call.Name)
	task.Context = call.Context
	return r.engine.Decide(ctx, task)
}

func (r *Router) executeDecision(ctx context.Context, dec *core.DecisionResult, call core.ToolCall) *core.ToolCallResult {
	switch dec.TargetType {
	case core.TargetMCP:
		return r.callService(ctx, dec.TargetName, call)
	case core.TargetAgent:
		return r.delegate(ctx, dec.TargetName, call)
	default:
		// Local execution means the system service's built-in tools.
		return r.tryMCP(ctx, call)
	}
}

func (r *Router) tryMCP(ctx context.Context, call core.ToolCall) *core.ToolCallResult {
	name, ok := r.services.FindToolService(call.Name)
	if !ok {
		return noRoute(fmt.Errorf("%w: no connected service exposes tool %s", core.ErrNoRoute, call.Name))
	}
	return r.callService(ctx, name, call)
}

func (r *Router) callService(ctx context.Context, service string, call core.ToolCall) *core.ToolCallResult {
	result, err := r.services.CallTool(ctx, service, call.Name, call.Arguments)
	if err != nil {
		return failure(err.Error())
	}
	return &core.ToolCallResult{
		Success:    true,
		Result:     result,
		ExecutedBy: "mcp:" + service,
	}
}

func (r *Router) tryA2A(ctx context.Context, call core.ToolCall) *core.ToolCallResult {
	peer, ok := r.peers.SelectAgent(r.inferCapabilities(call.Name), nil)
	if !ok {
		return noRoute(fmt.Errorf("%w: no connected peer covers tool %s", core.ErrNoRoute, call.Name))
	}
	return r.delegate(ctx, peer, call)
}

func (r *Router) delegate(ctx context.Context, peer string, call core.ToolCall) *core.ToolCallResult {
	task := core.NewTask("tool call " + call.Name)
	req := core.TaskRequest{
		TaskID:      task.ID,
		Type:        "tool_call",
		Description: task.Description,
		Context: map[string]any{
			"tool":      call.Name,
			"arguments": call.Arguments,
		},
	}
	result, err := r.peers.ExecuteTask(ctx, peer, req)
	if err != nil {
		return failure(err.Error())
	}
	return &core.ToolCallResult{
		Success:    true,
		Result:     result,
		ExecutedBy: "agent:" + peer,
	}
}

func failure(msg string) *core.ToolCallResult {
	return &core.ToolCallResult{Success: false, Error: msg, ExecutedBy: "none"}
}

// noRoute reports a no-route failure in the result envelope, preserving the
// core.ErrNoRoute message prefix.
func noRoute(err error) *core.ToolCallResult {
	return failure(err.Error())
}

// inferCapabilities derives capability tags from the tool name via the
// inference table. Results are memoized per tool name.
func (r *Router) inferCapabilities(toolName string) []string {
	r.inferMu.RLock()
	caps, ok := r.inferred[toolName]
	r.inferMu.RUnlock()
	if ok {
		return caps
	}

	lower := strings.ToLower(toolName)
	for tag, keywords := range r.inference {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				caps = append(caps, tag)
				break
			}
		}
	}

	r.inferMu.Lock()
	r.inferred[toolName] = caps
	r.inferMu.Unlock()
	return caps
}

func (r *Router) record(result *core.ToolCallResult) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	r.stats.TotalCalls++
	if result.Success {
		r.stats.SuccessfulCalls++
	} else {
		r.stats.FailedCalls++
	}
	switch {
	case strings.HasPrefix(result.ExecutedBy, "mcp:"):
		r.stats.MCPCalls++
	case strings.HasPrefix(result.ExecutedBy, "agent:"):
		r.stats.A2ACalls++
	}
	r.stats.AverageExecutionTime += (result.ExecutionTime - r.stats.AverageExecutionTime) / time.Duration(r.stats.TotalCalls)
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// ResetStats zeroes the router counters.
func (r *Router) ResetStats() {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.stats = Stats{}
}

func (r *Router) logToolCall(tool string, result *core.ToolCallResult) {
	if rl, ok := r.logger.(*logging.RelayLogger); ok {
		var err error
		if !result.Success {
			err = &toolCallError{msg: result.Error}
		}
		rl.LogToolCall(tool, result.ExecutedBy, result.ExecutionTime, result.Success, err)
		return
	}
	r.logger.Info("Tool call routed",
		"tool", tool,
		"executedBy", result.ExecutedBy,
		"duration", result.ExecutionTime,
		"success", result.Success,
	)
}

type toolCallError struct{ msg string }

func (e *toolCallError) Error() string { return e.msg }
