package decision

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// LocalTargetName names the in-process execution target used by fallback
// decisions.
const LocalTargetName = "local"

const (
	capabilityWeight  = 0.4
	performanceWeight = 0.4
	loadWeight        = 0.2

	// Performance is a blend of historical success rate, inverse response
	// time and inverse error rate.
	successRateWeight = 0.5
	latencyWeight     = 0.3
	errorRateWeight   = 0.2

	// defaultPerformanceScore is assumed for targets with no history so new
	// targets are neither favored nor starved.
	defaultPerformanceScore = 0.5

	ruleConfidence         = 0.9
	ruleFallbackConfidence = 0.7
	fallbackConfidence     = 0.3
)

// Options configures an Engine instance.
type Options struct {
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger

	// Config tunes strategy, threshold, fallback and cache TTL. Defaults
	// to core.DefaultDecisionConfig().
	Config core.DecisionConfig

	// Metrics holds per-target performance history. Defaults to an
	// in-memory store.
	Metrics core.MetricsStore
}

// Engine decides where each task executes. Safe for concurrent use.
type Engine struct {
	logger   logging.Logger
	cfg      core.DecisionConfig
	services core.ServiceRegistry
	peers    core.PeerRegistry
	metrics  core.MetricsStore
	cache    *Cache

	rulesMu sync.RWMutex
	rules   []core.RoutingRule // sorted by Priority descending
}

// New creates an Engine over the given registries.
func New(services core.ServiceRegistry, peers core.PeerRegistry, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Config: core.DefaultDecisionConfig(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewInMemoryMetrics()
	}

	e := &Engine{
		logger:   opts.Logger,
		cfg:      opts.Config,
		services: services,
		peers:    peers,
		metrics:  opts.Metrics,
		cache:    NewCache(opts.Config.CacheTTL),
	}
	e.rules = sortRules(opts.Config.Rules)
	return e
}

func sortRules(rules []core.RoutingRule) []core.RoutingRule {
	out := make([]core.RoutingRule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Cache exposes the decision cache for lifecycle control and stats.
func (e *Engine) Cache() *Cache { return e.cache }

// Metrics exposes the per-target performance store.
func (e *Engine) Metrics() core.MetricsStore { return e.metrics }

// AddRule inserts a routing rule, keeping priority order.
func (e *Engine) AddRule(rule core.RoutingRule) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	e.rules = sortRules(append(e.rules, rule))
	e.cache.Clear()
}

// RemoveRule drops the named rule. Returns false when no rule matched.
func (e *Engine) RemoveRule(name string) bool {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	for i, rule := range e.rules {
		if rule.Name == name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			e.cache.Clear()
			return true
		}
	}
	return false
}

// Rules returns a copy of the active rule set in evaluation order.
func (e *Engine) Rules() []core.RoutingRule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	out := make([]core.RoutingRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Decide resolves the execution target for a task. The result is never nil
// on a nil error: when nothing qualifies, the configured fallback strategy
// still produces a decision.
func (e *Engine) Decide(ctx context.Context, task *core.Task) (*core.DecisionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := core.DecisionKey(task)
	if cached, ok := e.cache.Get(key); ok {
		e.logDecision(task.ID, cached, true)
		return cached, nil
	}

	result := e.decide(task)
	result.DecidedAt = time.Now()

	e.cache.Put(key, result)
	e.logDecision(task.ID, result, false)
	return result, nil
}

func (e *Engine) decide(task *core.Task) *core.DecisionResult {
	if result := e.applyRules(task); result != nil {
		return result
	}

	switch e.cfg.Strategy {
	case core.StrategyMLBased:
		e.logger.Debug("ml_based strategy not implemented, delegating to rule_based", "taskId", task.ID)
		return e.scoreCandidates(task)
	case core.StrategyHybrid:
		result := e.scoreCandidates(task)
		if result.Confidence >= e.cfg.ConfidenceThreshold {
			return result
		}
		e.logger.Debug("hybrid strategy below threshold, ml_based delegate offers no alternative",
			"taskId", task.ID, "confidence", result.Confidence, "threshold", e.cfg.ConfidenceThreshold)
		return result
	default:
		return e.scoreCandidates(task)
	}
}

// applyRules evaluates the static rule set in priority order and returns a
// decision for the first matching rule with an available target.
func (e *Engine) applyRules(task *core.Task) *core.DecisionResult {
	e.rulesMu.RLock()
	rules := e.rules
	e.rulesMu.RUnlock()

	for _, rule := range rules {
		if !rule.Enabled || !ruleMatches(rule.Conditions, task) {
			continue
		}
		if e.targetAvailable(rule.Target) {
			return &core.DecisionResult{
				TargetType: rule.Target.Type,
				TargetName: rule.Target.Name,
				Confidence: ruleConfidence,
				Reasoning:  "matched routing rule " + rule.Name,
			}
		}
		for _, fb := range rule.Fallbacks {
			if e.targetAvailable(fb) {
				return &core.DecisionResult{
					TargetType: fb.Type,
					TargetName: fb.Name,
					Confidence: ruleFallbackConfidence,
					Reasoning:  "matched routing rule " + rule.Name + ", primary target unavailable",
				}
			}
		}
		e.logger.Debug("routing rule matched but no target available", "rule", rule.Name, "taskId", task.ID)
	}
	return nil
}

func (e *Engine) targetAvailable(target core.RuleTarget) bool {
	switch target.Type {
	case core.TargetLocal:
		return true
	case core.TargetMCP:
		for _, c := range e.services.Candidates() {
			if c.Name == target.Name {
				return true
			}
		}
	case core.TargetAgent:
		for _, c := range e.peers.Candidates() {
			if c.Name == target.Name {
				return true
			}
		}
	}
	return false
}

// ruleMatches reports whether all present conditions hold for the task.
func ruleMatches(cond core.RuleConditions, task *core.Task) bool {
	if cond.TaskType != "" && cond.TaskType != task.Type {
		return false
	}
	if cond.Priority != "" && cond.Priority != task.Priority {
		return false
	}
	if len(cond.Capabilities) > 0 && !core.CapabilitySuperset(task.RequiredCapabilities, cond.Capabilities) {
		return false
	}
	if len(cond.Keywords) > 0 {
		haystack := strings.ToLower(task.Description + " " + task.Type)
		hit := false
		for _, kw := range cond.Keywords {
			if strings.Contains(haystack, strings.ToLower(kw)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if cond.ContextContains != "" {
		serialized, err := json.Marshal(task.Context)
		if err != nil || !strings.Contains(strings.ToLower(string(serialized)), strings.ToLower(cond.ContextContains)) {
			return false
		}
	}
	return true
}

type scoredCandidate struct {
	candidate core.TargetCandidate
	score     float64
}

// scoreCandidates ranks every capability-qualified target by weighted
// capability match, historical performance and current load. When nothing
// qualifies, the configured fallback strategy decides.
func (e *Engine) scoreCandidates(task *core.Task) *core.DecisionResult {
	all := append(e.services.Candidates(), e.peers.Candidates()...)

	var scored []scoredCandidate
	for _, c := range all {
		if !c.HasCapabilities(task.RequiredCapabilities) {
			continue
		}
		scored = append(scored, scoredCandidate{candidate: c, score: e.score(c, task)})
	}
	if len(scored) == 0 {
		return e.fallbackDecision(all)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].candidate.Name < scored[j].candidate.Name
	})

	best := scored[0]
	var alternatives []string
	for _, s := range scored[1:] {
		alternatives = append(alternatives, s.candidate.Name)
		if len(alternatives) == 3 {
			break
		}
	}

	return &core.DecisionResult{
		TargetType:      best.candidate.Type,
		TargetName:      best.candidate.Name,
		Confidence:      best.score,
		Reasoning:       "best weighted score among capability matches",
		FallbackOptions: alternatives,
	}
}

func (e *Engine) score(c core.TargetCandidate, task *core.Task) float64 {
	capScore := core.CapabilityOverlap(c.Capabilities, task.RequiredCapabilities)

	perfScore := defaultPerformanceScore
	if m, ok := e.metrics.Get(c.Name); ok && m.TotalUsage > 0 {
		latencyScore := 1.0 / (1.0 + m.AverageResponseTime.Seconds())
		perfScore = successRateWeight*m.SuccessRate +
			latencyWeight*latencyScore +
			errorRateWeight*(1.0-m.ErrorRate)
	}

	loadScore := 1.0 / (1.0 + float64(c.Load))

	return capabilityWeight*capScore + performanceWeight*perfScore + loadWeight*loadScore
}

// fallbackDecision produces a total decision when no candidate covers the
// required capabilities.
func (e *Engine) fallbackDecision(all []core.TargetCandidate) *core.DecisionResult {
	result := &core.DecisionResult{
		TargetType: core.TargetLocal,
		TargetName: LocalTargetName,
		Confidence: fallbackConfidence,
		Reasoning:  "no capability match, falling back to local execution",
	}
	if len(all) == 0 {
		return result
	}

	switch e.cfg.FallbackStrategy {
	case core.FallbackRandom:
		pick := all[rand.Intn(len(all))]
		result.TargetType = pick.Type
		result.TargetName = pick.Name
		result.Reasoning = "no capability match, random fallback target"
	case core.FallbackPriority:
		best := all[0]
		for _, c := range all[1:] {
			if c.Priority > best.Priority {
				best = c
			}
		}
		result.TargetType = best.Type
		result.TargetName = best.Name
		result.Reasoning = "no capability match, highest priority fallback target"
	}
	return result
}

// UpdatePerformance feeds one observed execution outcome back into the
// metrics that drive future scoring.
func (e *Engine) UpdatePerformance(target string, sample core.PerformanceSample) {
	e.metrics.Record(target, sample)
}

func (e *Engine) logDecision(taskID string, result *core.DecisionResult, cached bool) {
	if rl, ok := e.logger.(*logging.RelayLogger); ok {
		rl.LogDecision(taskID, string(result.TargetType), result.TargetName, result.Confidence, cached)
		return
	}
	e.logger.Info("Decision made",
		"taskId", taskID,
		"targetType", string(result.TargetType),
		"targetName", result.TargetName,
		"confidence", result.Confidence,
		"cached", cached,
	)
}
