package core

import "time"

// TransportType identifies how an MCP service is reached.
type TransportType string

const (
	// TransportStdio spawns the service as a subprocess and speaks MCP over
	// its stdin/stdout.
	TransportStdio TransportType = "stdio"
	// TransportHTTP speaks MCP over streamable HTTP.
	TransportHTTP TransportType = "http"
	// TransportWebSocket speaks JSON-RPC over a WebSocket connection.
	TransportWebSocket TransportType = "websocket"
	// TransportInternal marks the in-process system-tools pseudo-service.
	TransportInternal TransportType = "internal"
)

// ServiceConfig declares one MCP service in the pool.
type ServiceConfig struct {
	Name      string        `json:"name"`
	Transport TransportType `json:"transport"`
	// Command, Args and Env apply to stdio transports.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	// URL applies to http and websocket transports.
	URL string `json:"url,omitempty"`
	// Headers are attached to http transport requests (auth tokens etc.).
	Headers      map[string]string `json:"headers,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Priority     int               `json:"priority"`
	// Timeout bounds connect attempts and individual tool calls.
	Timeout time.Duration `json:"timeout,omitempty"`
	// MaxRetries is the consecutive-error budget before a reconnect is
	// triggered.
	MaxRetries int  `json:"maxRetries,omitempty"`
	Enabled    bool `json:"enabled"`
}

// PeerProtocol identifies how an A2A peer is reached.
type PeerProtocol string

const (
	// PeerHTTP sends task requests as JSON POSTs.
	PeerHTTP PeerProtocol = "http"
	// PeerWebSocket sends correlated messages over a WebSocket connection.
	PeerWebSocket PeerProtocol = "websocket"
	// PeerGRPC is declared but not implemented.
	PeerGRPC PeerProtocol = "grpc"
	// PeerMessageQueue is declared but not implemented.
	PeerMessageQueue PeerProtocol = "message_queue"
)

// PeerAuth configures authentication for a peer endpoint.
type PeerAuth struct {
	// Type is "bearer" or "api_key".
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// PeerConfig declares one A2A peer agent in the pool.
type PeerConfig struct {
	Name         string       `json:"name"`
	Protocol     PeerProtocol `json:"protocol"`
	Endpoint     string       `json:"endpoint"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Specialties  []string     `json:"specialties,omitempty"`
	Priority     int          `json:"priority"`
	// Weight biases weighted-random balancing; 0 counts as 1.
	Weight     int           `json:"weight,omitempty"`
	Auth       *PeerAuth     `json:"auth,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	MaxRetries int           `json:"maxRetries,omitempty"`
	Enabled    bool          `json:"enabled"`
}

// DecisionConfig tunes the decision engine.
type DecisionConfig struct {
	Strategy DecisionStrategy `json:"strategy"`
	// ConfidenceThreshold gates the hybrid strategy's acceptance of the
	// rule-based result.
	ConfidenceThreshold float64          `json:"confidenceThreshold"`
	FallbackStrategy    FallbackStrategy `json:"fallbackStrategy"`
	// CacheTTL bounds how long a decision may be served from cache.
	CacheTTL time.Duration `json:"cacheTTL"`
	Rules    []RoutingRule `json:"rules,omitempty"`
}

// DefaultDecisionConfig returns the baseline decision configuration:
// rule-based strategy, 0.7 hybrid threshold, local fallback, 5 minute cache.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		Strategy:            StrategyRuleBased,
		ConfidenceThreshold: 0.7,
		FallbackStrategy:    FallbackLocal,
		CacheTTL:            5 * time.Minute,
	}
}

// RoutingStrategy selects the tool router's target search order.
type RoutingStrategy string

const (
	// RouteMCPFirst searches MCP services, then A2A peers.
	RouteMCPFirst RoutingStrategy = "mcp_first"
	// RouteA2AFirst searches A2A peers, then MCP services.
	RouteA2AFirst RoutingStrategy = "a2a_first"
	// RouteCapabilityBased infers required capabilities from the tool name
	// and delegates to the decision engine with a synthetic task.
	RouteCapabilityBased RoutingStrategy = "capability_based"
	// RouteLoadBalanced picks the less loaded of the two registries.
	RouteLoadBalanced RoutingStrategy = "load_balanced"
	// RouteHybrid uses the capability-based result when confident enough,
	// otherwise the higher-confidence of capability-based and load-balanced.
	RouteHybrid RoutingStrategy = "hybrid"
)

// RouterConfig tunes the tool router.
type RouterConfig struct {
	Strategy RoutingStrategy `json:"strategy"`
	// FallbackEnabled retries a failed call once with the opposite strategy.
	FallbackEnabled bool `json:"fallbackEnabled"`
	// Inference maps capability tags to keyword lists used to infer required
	// capabilities from tool names. Nil uses the built-in table.
	Inference map[string][]string `json:"inference,omitempty"`
	// ConfidenceThreshold gates the hybrid strategy's acceptance of the
	// capability-based decision. Below it the router compares against the
	// load-balanced alternative and keeps the higher-confidence route.
	ConfidenceThreshold float64 `json:"confidenceThreshold,omitempty"`
	// Timeout bounds one routed tool call.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// DefaultRouterConfig returns the baseline router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Strategy:            RouteCapabilityBased,
		FallbackEnabled:     true,
		ConfidenceThreshold: 0.8,
		Timeout:             30 * time.Second,
	}
}

// InterruptionPolicy determines how an urgent task displaces running work.
type InterruptionPolicy string

const (
	// InterruptImmediate pauses all running tasks now (each with a
	// checkpoint), runs the urgent task, then resumes the paused ones.
	InterruptImmediate InterruptionPolicy = "immediate"
	// InterruptAtCheckpoint queues the interruption until the next
	// checkpoint tick signals it is safe.
	InterruptAtCheckpoint InterruptionPolicy = "at_checkpoint"
	// InterruptAfterCurrent enqueues the task at high priority and lets
	// normal scheduling handle it once current work finishes.
	InterruptAfterCurrent InterruptionPolicy = "after_current"
)

// SchedulerConfig tunes the task manager.
type SchedulerConfig struct {
	// MaxConcurrentTasks is the dispatch ceiling checked on every tick.
	MaxConcurrentTasks int `json:"maxConcurrentTasks"`
	// TaskTimeout is the hard per-task execution bound.
	TaskTimeout time.Duration `json:"taskTimeout"`
	// TickInterval drives the scheduling loop.
	TickInterval time.Duration `json:"tickInterval"`
	// CheckpointInterval drives periodic snapshots of running tasks.
	CheckpointInterval time.Duration      `json:"checkpointInterval"`
	InterruptionPolicy InterruptionPolicy `json:"interruptionPolicy"`
	// AutoRecover re-submits persisted canResume checkpoints on startup.
	AutoRecover bool `json:"autoRecover"`
}

// DefaultSchedulerConfig returns the baseline scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentTasks: 3,
		TaskTimeout:        5 * time.Minute,
		TickInterval:       time.Second,
		CheckpointInterval: 30 * time.Second,
		InterruptionPolicy: InterruptAfterCurrent,
		AutoRecover:        false,
	}
}

// HealthCheckInterval is how often registries probe their connected targets.
const HealthCheckInterval = 60 * time.Second
