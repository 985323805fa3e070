package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/tool"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultCallTimeout    = 30 * time.Second
	defaultErrorBudget    = 3
)

// Options configures a Registry instance.
type Options struct {
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger

	// SystemTools are registered with the built-in system pseudo-service.
	// Defaults to tool.Builtins(nil) if nil.
	SystemTools []tool.Tool

	// SystemCapabilities overrides the system service's declared capability
	// tags.
	SystemCapabilities []string

	// HealthCheckInterval drives the periodic probe of connected services.
	// Defaults to core.HealthCheckInterval.
	HealthCheckInterval time.Duration

	// ClientFactory builds transports per service config. Defaults to the
	// production factory (mcp-go stdio/HTTP, wsrpc websocket).
	ClientFactory ClientFactory
}

// InitReport summarizes a best-effort pool initialization. Partial failure
// is expected and reported as counts, never as a fatal error.
type InitReport struct {
	Connected int
	Failed    int
	Errors    map[string]error
}

// Registry owns connectivity to all configured MCP services plus the
// synthetic system service for in-process built-ins.
type Registry struct {
	logger         logging.Logger
	factory        ClientFactory
	healthInterval time.Duration

	mu       sync.RWMutex
	services map[string]*ServiceInstance

	rr atomic.Uint64 // round-robin cursor

	stopMu   sync.Mutex
	stopped  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Compile-time interface assertion.
var _ core.ServiceRegistry = (*Registry)(nil)

// New creates a Registry for the given service configs. The system
// pseudo-service is always present, in addition to the configured services.
// Call Initialize to connect and Start to begin health checking.
func New(configs []core.ServiceConfig, optFns ...func(o *Options)) *Registry {
	opts := Options{
		Logger:              logging.NoOpLogger{},
		HealthCheckInterval: core.HealthCheckInterval,
		ClientFactory:       defaultClientFactory,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.SystemTools == nil {
		opts.SystemTools = tool.Builtins(nil)
	}

	r := &Registry{
		logger:         opts.Logger,
		factory:        opts.ClientFactory,
		healthInterval: opts.HealthCheckInterval,
		services:       make(map[string]*ServiceInstance),
		stopCh:         make(chan struct{}),
	}

	system := newServiceInstance(systemServiceConfig(opts.SystemCapabilities))
	system.markConnected(newSystemClient(opts.SystemTools), mustListTools(opts.SystemTools), nil)
	r.services[SystemServiceName] = system

	for _, cfg := range configs {
		if !cfg.Enabled || cfg.Name == SystemServiceName {
			continue
		}
		r.services[cfg.Name] = newServiceInstance(cfg)
	}

	return r
}

func mustListTools(tools []tool.Tool) []ToolInfo {
	out := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolInfo{Name: t.Name(), Description: t.Description()})
	}
	return out
}

// Initialize connects every registered service in parallel, best-effort. A
// service that fails to connect is marked error and does not abort the rest;
// the returned report carries per-service errors.
func (r *Registry) Initialize(ctx context.Context) *InitReport {
	r.mu.RLock()
	instances := make([]*ServiceInstance, 0, len(r.services))
	for _, inst := range r.services {
		if inst.Config().Transport == core.TransportInternal {
			continue
		}
		instances = append(instances, inst)
	}
	r.mu.RUnlock()

	report := &InitReport{Errors: make(map[string]error)}
	var reportMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		g.Go(func() error {
			err := r.connect(gctx, inst)
			reportMu.Lock()
			defer reportMu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors[inst.Config().Name] = err
				r.logger.Warn("mcp service connect failed", "service", inst.Config().Name, "error", err)
			} else {
				report.Connected++
			}
			return nil // best-effort: never abort sibling connects
		})
	}
	_ = g.Wait()

	r.logger.Info("mcp registry initialized", "connected", report.Connected, "failed", report.Failed)
	return report
}

// connect establishes the transport for one instance and discovers its tool
// and resource inventory.
func (r *Registry) connect(ctx context.Context, inst *ServiceInstance) error {
	cfg := inst.Config()
	inst.setStatus(StatusConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
	defer cancel()

	client, err := r.factory(cfg, r.logger)
	if err != nil {
		inst.markError(err, 1)
		return err
	}
	if err := client.Initialize(connectCtx); err != nil {
		_ = client.Close()
		inst.markError(err, 1)
		return err
	}

	tools, err := client.ListTools(connectCtx)
	if err != nil {
		_ = client.Close()
		inst.markError(err, 1)
		return err
	}

	// Resource discovery is optional; services without resources are fine.
	resources, err := client.ListResources(connectCtx)
	if err != nil {
		r.logger.Debug("mcp resource discovery failed", "service", cfg.Name, "error", err)
		resources = nil
	}

	inst.markConnected(client, tools, resources)
	r.logger.Info("mcp service connected", "service", cfg.Name, "tools", len(tools))
	return nil
}

// AddService registers and connects a service at runtime.
func (r *Registry) AddService(ctx context.Context, cfg core.ServiceConfig) error {
	if cfg.Name == SystemServiceName {
		return fmt.Errorf("service name %q is reserved", SystemServiceName)
	}
	r.mu.Lock()
	if _, exists := r.services[cfg.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("service %s already registered", cfg.Name)
	}
	inst := newServiceInstance(cfg)
	r.services[cfg.Name] = inst
	r.mu.Unlock()

	return r.connect(ctx, inst)
}

// RemoveService disconnects and drops a service from the pool.
func (r *Registry) RemoveService(name string) error {
	if name == SystemServiceName {
		return fmt.Errorf("service name %q is reserved", SystemServiceName)
	}
	r.mu.Lock()
	inst, ok := r.services[name]
	if ok {
		delete(r.services, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("service %s: %w", name, core.ErrServiceNotFound)
	}
	if client, _ := inst.currentClient(); client != nil {
		_ = client.Close()
	}
	return nil
}

// Start launches the periodic health-check loop.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.healthCheck(ctx)
			}
		}
	}()
}

// Stop terminates the health loop and closes all transports.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.stopMu.Lock()
		r.stopped = true
		close(r.stopCh)
		r.stopMu.Unlock()
	})
	r.wg.Wait()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.services {
		if client, _ := inst.currentClient(); client != nil {
			_ = client.Close()
		}
	}
}

// healthCheck probes every connected service with a cheap tool-list call.
// Probe failures count against the error budget and may trigger a reconnect.
func (r *Registry) healthCheck(ctx context.Context) {
	for _, inst := range r.snapshot() {
		client, status := inst.currentClient()
		if status != StatusConnected || client == nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, connectTimeout(inst.Config()))
		_, err := client.ListTools(probeCtx)
		cancel()
		if err != nil {
			r.recordError(inst, err)
		}
	}
}

// recordError charges one failure against the instance's error budget and,
// once exhausted, kicks off an async reconnect decoupled from the failing
// call.
func (r *Registry) recordError(inst *ServiceInstance, err error) {
	cfg := inst.Config()
	budget := cfg.MaxRetries
	if budget <= 0 {
		budget = defaultErrorBudget
	}
	if inst.markError(err, budget) {
		r.logger.Warn("mcp service error budget exhausted, reconnecting", "service", cfg.Name, "error", err)
		// Guard the Add against a concurrent Stop already in Wait.
		r.stopMu.Lock()
		if r.stopped {
			r.stopMu.Unlock()
			return
		}
		r.wg.Add(1)
		r.stopMu.Unlock()
		go func() {
			defer r.wg.Done()
			r.reconnect(inst)
		}()
	}
}

func (r *Registry) reconnect(inst *ServiceInstance) {
	if old := inst.resetForReconnect(); old != nil {
		_ = old.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(inst.Config()))
	defer cancel()
	if err := r.connect(ctx, inst); err != nil {
		r.logger.Warn("mcp service reconnect failed", "service", inst.Config().Name, "error", err)
	}
}

// SelectService filters connected services whose effective capabilities
// cover the required set and picks one by strategy. The boolean is false
// when no candidate qualifies; callers must treat that as "no route".
func (r *Registry) SelectService(required []string, strategy core.SelectionStrategy) (string, bool) {
	type candidate struct {
		inst *ServiceInstance
		caps []string
	}
	var candidates []candidate
	for _, inst := range r.snapshot() {
		if inst.Status() != StatusConnected {
			continue
		}
		caps := inst.effectiveCapabilities()
		if !core.CapabilitySuperset(caps, required) {
			continue
		}
		candidates = append(candidates, candidate{inst: inst, caps: caps})
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].inst.Config().Name < candidates[j].inst.Config().Name
	})

	switch strategy {
	case core.SelectRoundRobin:
		idx := int(r.rr.Add(1)-1) % len(candidates)
		return candidates[idx].inst.Config().Name, true
	case core.SelectLeastErrors:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.inst.ErrorCount() < best.inst.ErrorCount() {
				best = c
			}
		}
		return best.inst.Config().Name, true
	case core.SelectBestMatch:
		best := candidates[0]
		bestScore := core.CapabilityOverlap(best.caps, required)
		for _, c := range candidates[1:] {
			if score := core.CapabilityOverlap(c.caps, required); score > bestScore {
				best, bestScore = c, score
			}
		}
		return best.inst.Config().Name, true
	default: // core.SelectByPriority
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.inst.Config().Priority > best.inst.Config().Priority {
				best = c
			}
		}
		return best.inst.Config().Name, true
	}
}

// FindToolService returns a connected service exposing the named tool. The
// system service wins ties so built-ins stay local.
func (r *Registry) FindToolService(toolName string) (string, bool) {
	instances := r.snapshot()
	sort.Slice(instances, func(i, j int) bool {
		a, b := instances[i].Config().Name, instances[j].Config().Name
		if a == SystemServiceName {
			return true
		}
		if b == SystemServiceName {
			return false
		}
		return a < b
	})
	for _, inst := range instances {
		if inst.Status() == StatusConnected && inst.hasTool(toolName) {
			return inst.Config().Name, true
		}
	}
	return "", false
}

// CallTool invokes a named tool on a specific service. Transport errors are
// charged against the service's error budget.
func (r *Registry) CallTool(ctx context.Context, service, toolName string, args map[string]any) (any, error) {
	inst, ok := r.get(service)
	if !ok {
		return nil, core.NewTargetError(core.TargetMCP, service, core.ErrServiceNotFound)
	}
	client, status := inst.currentClient()
	if status != StatusConnected || client == nil {
		return nil, core.NewTargetError(core.TargetMCP, service, core.ErrServiceNotConnected)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout(inst.Config()))
	defer cancel()

	inst.inFlight.Add(1)
	defer inst.inFlight.Add(-1)

	result, err := client.CallTool(callCtx, toolName, args)
	if err != nil {
		r.recordError(inst, err)
		return nil, core.NewTargetError(core.TargetMCP, service, err)
	}
	return result, nil
}

// ExecuteTask auto-selects a tool within the service matching the request's
// declared type heuristically (e.g. a tool name containing "file" for
// file_operation tasks), then calls it.
func (r *Registry) ExecuteTask(ctx context.Context, service string, req core.TaskRequest) (any, error) {
	inst, ok := r.get(service)
	if !ok {
		return nil, core.NewTargetError(core.TargetMCP, service, core.ErrServiceNotFound)
	}
	toolName, ok := pickToolForType(inst.Tools(), req.Type)
	if !ok {
		return nil, core.NewTargetError(core.TargetMCP, service, fmt.Errorf("no tool for task type %q: %w", req.Type, core.ErrToolNotFound))
	}

	args := make(map[string]any, len(req.Context)+1)
	for k, v := range req.Context {
		args[k] = v
	}
	if len(args) == 0 {
		args["description"] = req.Description
	}
	return r.CallTool(ctx, service, toolName, args)
}

// pickToolForType matches task-type tokens against tool names, preferring a
// token hit, then a generic execute_task tool, then the first tool.
func pickToolForType(tools []ToolInfo, taskType string) (string, bool) {
	if len(tools) == 0 {
		return "", false
	}
	for _, token := range strings.Split(strings.ToLower(taskType), "_") {
		switch token {
		case "", "operation", "task", "general":
			continue
		}
		for _, t := range tools {
			if strings.Contains(strings.ToLower(t.Name), token) {
				return t.Name, true
			}
		}
	}
	for _, t := range tools {
		if t.Name == "execute_task" {
			return t.Name, true
		}
	}
	return tools[0].Name, true
}

// Candidates returns a snapshot of all connected services for the decision
// engine's scorer.
func (r *Registry) Candidates() []core.TargetCandidate {
	var out []core.TargetCandidate
	for _, inst := range r.snapshot() {
		if inst.Status() != StatusConnected {
			continue
		}
		cfg := inst.Config()
		out = append(out, core.TargetCandidate{
			Name:         cfg.Name,
			Type:         core.TargetMCP,
			Capabilities: inst.effectiveCapabilities(),
			Priority:     cfg.Priority,
			Load:         inst.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConnectedCount returns the number of services currently connected.
func (r *Registry) ConnectedCount() int {
	count := 0
	for _, inst := range r.snapshot() {
		if inst.Status() == StatusConnected {
			count++
		}
	}
	return count
}

// ErrorCount returns the number of services currently in the error state.
func (r *Registry) ErrorCount() int {
	count := 0
	for _, inst := range r.snapshot() {
		if inst.Status() == StatusError {
			count++
		}
	}
	return count
}

// CurrentLoad returns the number of in-flight calls across the pool.
func (r *Registry) CurrentLoad() int {
	load := 0
	for _, inst := range r.snapshot() {
		load += inst.Load()
	}
	return load
}

// Service returns the instance for a name, for status queries.
func (r *Registry) Service(name string) (*ServiceInstance, bool) {
	return r.get(name)
}

// ServiceNames returns all registered service names, sorted.
func (r *Registry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) get(name string) (*ServiceInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.services[name]
	return inst, ok
}

func (r *Registry) snapshot() []*ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServiceInstance, 0, len(r.services))
	for _, inst := range r.services {
		out = append(out, inst)
	}
	return out
}

func connectTimeout(cfg core.ServiceConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return defaultConnectTimeout
}

func callTimeout(cfg core.ServiceConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return defaultCallTimeout
}
