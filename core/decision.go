package core

import (
	"sort"
	"strings"
	"time"
)

// TargetType identifies which executor class a decision routes to.
type TargetType string

const (
	// TargetMCP routes to an MCP tool-providing service.
	TargetMCP TargetType = "mcp"
	// TargetAgent routes to an A2A peer agent.
	TargetAgent TargetType = "agent"
	// TargetLocal routes to in-process execution.
	TargetLocal TargetType = "local"
)

// DecisionResult is the routing decision for one task. It is produced fresh
// per decision or served from a time-bounded cache; it is never persisted
// across restarts.
type DecisionResult struct {
	TargetType TargetType `json:"targetType"`
	TargetName string     `json:"targetName"`
	// Confidence is in [0,1]. Fallback decisions are fixed at 0.3.
	Confidence float64 `json:"confidence"`
	// Reasoning is a human-readable explanation of why the target was chosen.
	Reasoning string `json:"reasoning"`
	// FallbackOptions lists alternative target names in preference order.
	FallbackOptions []string  `json:"fallbackOptions,omitempty"`
	DecidedAt       time.Time `json:"decidedAt"`
}

// DecisionKey derives the cache key for a task: type plus the sorted
// capability set plus priority. Two tasks with the same key are considered
// routing-equivalent within the cache window.
func DecisionKey(t *Task) string {
	caps := make([]string, len(t.RequiredCapabilities))
	copy(caps, t.RequiredCapabilities)
	sort.Strings(caps)
	return t.Type + "|" + strings.Join(caps, ",") + "|" + string(t.Priority)
}

// DecisionStrategy selects the scoring algorithm used when no routing rule
// matches.
type DecisionStrategy string

const (
	// StrategyRuleBased scores candidates on capability match, historical
	// performance and load. This is the default.
	StrategyRuleBased DecisionStrategy = "rule_based"
	// StrategyMLBased is reserved for a learned scoring model. It currently
	// delegates to the rule-based strategy and logs that it is not
	// implemented.
	StrategyMLBased DecisionStrategy = "ml_based"
	// StrategyHybrid uses the rule-based result when its confidence clears
	// the configured threshold, otherwise compares against ml_based and keeps
	// the higher-confidence result.
	StrategyHybrid DecisionStrategy = "hybrid"
)

// FallbackStrategy determines the last-resort decision when no candidate
// satisfies the task's requirements.
type FallbackStrategy string

const (
	// FallbackLocal always degrades to local execution.
	FallbackLocal FallbackStrategy = "local"
	// FallbackRandom picks uniformly across all known target names.
	FallbackRandom FallbackStrategy = "random"
	// FallbackPriority picks the target with the highest static priority.
	FallbackPriority FallbackStrategy = "priority"
)

// RuleTarget names a concrete routing destination.
type RuleTarget struct {
	Type TargetType `json:"type"`
	Name string     `json:"name"`
}

// RuleConditions are the match predicates of a routing rule. A rule matches
// only if all present conditions hold; absent (zero-value) conditions are
// ignored.
type RuleConditions struct {
	// Keywords match as substrings against description+type (case
	// insensitive). Any single keyword hit satisfies the condition.
	Keywords []string `json:"keywords,omitempty"`
	// TaskType requires an exact task-type match.
	TaskType string `json:"taskType,omitempty"`
	// Priority requires an exact priority match.
	Priority TaskPriority `json:"priority,omitempty"`
	// Capabilities must be a subset of the task's required capabilities.
	Capabilities []string `json:"capabilities,omitempty"`
	// ContextContains matches as a substring against the serialized task
	// context.
	ContextContains string `json:"contextContains,omitempty"`
}

// RoutingRule is a static, priority-ordered condition→target mapping
// evaluated before dynamic scoring.
type RoutingRule struct {
	Name       string         `json:"name"`
	Priority   int            `json:"priority"`
	Enabled    bool           `json:"enabled"`
	Conditions RuleConditions `json:"conditions"`
	Target     RuleTarget     `json:"target"`
	// Fallbacks are tried in order when the rule's target is unavailable.
	Fallbacks []RuleTarget `json:"fallbacks,omitempty"`
}

// TargetCandidate is a registry's read-only view of one selectable target,
// consumed by the decision engine's scorer.
type TargetCandidate struct {
	Name         string
	Type         TargetType
	Capabilities []string
	Priority     int
	Load         int
}

// HasCapabilities reports whether the candidate's declared capabilities are a
// superset of the required set.
func (c TargetCandidate) HasCapabilities(required []string) bool {
	return CapabilitySuperset(c.Capabilities, required)
}

// CapabilitySuperset reports whether declared covers every tag in required.
// An empty required set is trivially covered.
func CapabilitySuperset(declared, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(declared))
	for _, c := range declared {
		set[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// CapabilityOverlap returns the fraction of required tags present in
// declared. Returns 1 when required is empty.
func CapabilityOverlap(declared, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	set := make(map[string]struct{}, len(declared))
	for _, c := range declared {
		set[c] = struct{}{}
	}
	matched := 0
	for _, r := range required {
		if _, ok := set[r]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// PerformanceMetrics are per-target rolling statistics used by the decision
// engine's scoring function. They are never reset except by process restart.
type PerformanceMetrics struct {
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	SuccessRate         float64       `json:"successRate"`
	ErrorRate           float64       `json:"errorRate"`
	LastUsed            time.Time     `json:"lastUsed"`
	TotalUsage          int64         `json:"totalUsage"`
}

// PerformanceSample is one observed execution outcome merged into the rolling
// metrics after every decision-driven execution.
type PerformanceSample struct {
	ResponseTime time.Duration
	Success      bool
}
