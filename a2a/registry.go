package a2a

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

const defaultErrorBudget = 3

// Options configures a Registry instance.
type Options struct {
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger

	// Balancing picks a peer within the highest-priority tier of
	// qualifying candidates. Defaults to round robin.
	Balancing core.BalancingStrategy

	// HealthCheckInterval drives the periodic probe of connected peers.
	// Defaults to core.HealthCheckInterval.
	HealthCheckInterval time.Duration

	// ClientFactory builds transports per peer config. Defaults to the
	// production factory (HTTP JSON, websocket).
	ClientFactory ClientFactory
}

// InitReport summarizes a best-effort pool initialization.
type InitReport struct {
	Connected int
	Failed    int
	Errors    map[string]error
}

// Registry owns connectivity to all configured A2A peers.
type Registry struct {
	logger         logging.Logger
	factory        ClientFactory
	balancing      core.BalancingStrategy
	healthInterval time.Duration

	mu    sync.RWMutex
	peers map[string]*PeerInstance

	rr atomic.Uint64 // round-robin cursor

	stopMu   sync.Mutex
	stopped  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Compile-time interface assertion.
var _ core.PeerRegistry = (*Registry)(nil)

// New creates a Registry for the given peer configs. Call Initialize to
// connect and Start to begin health checking.
func New(configs []core.PeerConfig, optFns ...func(o *Options)) *Registry {
	opts := Options{
		Logger:              logging.NoOpLogger{},
		Balancing:           core.BalanceRoundRobin,
		HealthCheckInterval: core.HealthCheckInterval,
		ClientFactory:       defaultClientFactory,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	r := &Registry{
		logger:         opts.Logger,
		factory:        opts.ClientFactory,
		balancing:      opts.Balancing,
		healthInterval: opts.HealthCheckInterval,
		peers:          make(map[string]*PeerInstance),
		stopCh:         make(chan struct{}),
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		r.peers[cfg.Name] = newPeerInstance(cfg)
	}

	return r
}

// Initialize connects every registered peer in parallel, best-effort. An
// unreachable peer is marked error and does not abort the rest.
func (r *Registry) Initialize(ctx context.Context) *InitReport {
	r.mu.RLock()
	instances := make([]*PeerInstance, 0, len(r.peers))
	for _, inst := range r.peers {
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
				r.logger.Warn("a2a peer connect failed", "peer", inst.Config().Name, "error", err)
			} else {
				report.Connected++
			}
			return nil // best-effort: never abort sibling connects
		})
	}
	_ = g.Wait()

	r.logger.Info("a2a registry initialized", "connected", report.Connected, "failed", report.Failed)
	return report
}

func (r *Registry) connect(ctx context.Context, inst *PeerInstance) error {
	cfg := inst.Config()
	inst.mu.Lock()
	inst.status = StatusConnecting
	inst.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
	defer cancel()

	client, err := r.factory(cfg, r.logger)
	if err != nil {
		inst.markError(err, 1)
		return err
	}
	if err := client.Connect(connectCtx); err != nil {
		_ = client.Close()
		inst.markError(err, 1)
		return err
	}

	inst.markConnected(client)
	r.logger.Info("a2a peer connected", "peer", cfg.Name, "protocol", string(cfg.Protocol))
	return nil
}

// AddPeer registers and connects a peer at runtime.
func (r *Registry) AddPeer(ctx context.Context, cfg core.PeerConfig) error {
	r.mu.Lock()
	if _, exists := r.peers[cfg.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("peer %s already registered", cfg.Name)
	}
	inst := newPeerInstance(cfg)
	r.peers[cfg.Name] = inst
	r.mu.Unlock()

	return r.connect(ctx, inst)
}

// RemovePeer disconnects and drops a peer from the pool.
func (r *Registry) RemovePeer(name string) error {
	r.mu.Lock()
	inst, ok := r.peers[name]
	if ok {
		delete(r.peers, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("peer %s: %w", name, core.ErrPeerNotFound)
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
	for _, inst := range r.peers {
		if client, _ := inst.currentClient(); client != nil {
			_ = client.Close()
		}
	}
}

func (r *Registry) healthCheck(ctx context.Context) {
	for _, inst := range r.snapshot() {
		client, status := inst.currentClient()
		if status != StatusConnected || client == nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, connectTimeout(inst.Config()))
		err := client.Ping(probeCtx)
		cancel()
		if err != nil {
			r.recordError(inst, err)
		}
	}
}

func (r *Registry) recordError(inst *PeerInstance, err error) {
	cfg := inst.Config()
	budget := cfg.MaxRetries
	if budget <= 0 {
		budget = defaultErrorBudget
	}
	if inst.markError(err, budget) {
		r.logger.Warn("a2a peer error budget exhausted, reconnecting", "peer", cfg.Name, "error", err)
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

func (r *Registry) reconnect(inst *PeerInstance) {
	if old := inst.resetForReconnect(); old != nil {
		_ = old.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(inst.Config()))
	defer cancel()
	if err := r.connect(ctx, inst); err != nil {
		r.logger.Warn("a2a peer reconnect failed", "peer", inst.Config().Name, "error", err)
	}
}

// SelectAgent filters connected peers by capability coverage and specialty
// intersection, restricts to the highest priority tier and balances within
// it. The boolean is false when no peer qualifies.
func (r *Registry) SelectAgent(required, specialties []string) (string, bool) {
	var qualified []*PeerInstance
	for _, inst := range r.snapshot() {
		if inst.Status() != StatusConnected {
			continue
		}
		cfg := inst.Config()
		if !core.CapabilitySuperset(cfg.Capabilities, required) {
			continue
		}
		if len(specialties) > 0 && core.CapabilityOverlap(cfg.Specialties, specialties) == 0 {
			continue
		}
		qualified = append(qualified, inst)
	}
	if len(qualified) == 0 {
		return "", false
	}

	// Only the highest priority tier competes.
	top := qualified[0].Config().Priority
	for _, inst := range qualified[1:] {
		if p := inst.Config().Priority; p > top {
			top = p
		}
	}
	tier := qualified[:0]
	for _, inst := range qualified {
		if inst.Config().Priority == top {
			tier = append(tier, inst)
		}
	}
	sort.Slice(tier, func(i, j int) bool {
		return tier[i].Config().Name < tier[j].Config().Name
	})

	return r.balance(tier).Config().Name, true
}

func (r *Registry) balance(tier []*PeerInstance) *PeerInstance {
	if len(tier) == 1 {
		return tier[0]
	}
	switch r.balancing {
	case core.BalanceWeightedRandom:
		total := 0
		for _, inst := range tier {
			total += weight(inst.Config())
		}
		pick := rand.Intn(total)
		for _, inst := range tier {
			pick -= weight(inst.Config())
			if pick < 0 {
				return inst
			}
		}
		return tier[len(tier)-1]
	case core.BalanceLeastLoad:
		best := tier[0]
		for _, inst := range tier[1:] {
			if inst.Load() < best.Load() {
				best = inst
			}
		}
		return best
	default: // core.BalanceRoundRobin
		return tier[int(r.rr.Add(1)-1)%len(tier)]
	}
}

func weight(cfg core.PeerConfig) int {
	if cfg.Weight > 0 {
		return cfg.Weight
	}
	return 1
}

// ExecuteTask sends a task request to a specific peer and folds the outcome
// into its delivery statistics.
func (r *Registry) ExecuteTask(ctx context.Context, peer string, req core.TaskRequest) (any, error) {
	inst, ok := r.get(peer)
	if !ok {
		return nil, core.NewTargetError(core.TargetAgent, peer, core.ErrPeerNotFound)
	}
	client, status := inst.currentClient()
	if status != StatusConnected || client == nil {
		return nil, core.NewTargetError(core.TargetAgent, peer, core.ErrPeerNotConnected)
	}

	inst.inFlight.Add(1)
	defer inst.inFlight.Add(-1)

	start := time.Now()
	result, err := client.ExecuteTask(ctx, req)
	latency := time.Since(start)

	inst.recordResult(latency, err == nil)
	if err != nil {
		r.recordError(inst, err)
		return nil, core.NewTargetError(core.TargetAgent, peer, err)
	}
	return result, nil
}

// Candidates returns a snapshot of all connected peers for the decision
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
			Type:         core.TargetAgent,
			Capabilities: cfg.Capabilities,
			Priority:     cfg.Priority,
			Load:         inst.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConnectedCount returns the number of peers currently connected.
func (r *Registry) ConnectedCount() int {
	count := 0
	for _, inst := range r.snapshot() {
		if inst.Status() == StatusConnected {
			count++
		}
	}
	return count
}

// CurrentLoad returns the number of in-flight requests across peers.
func (r *Registry) CurrentLoad() int {
	load := 0
	for _, inst := range r.snapshot() {
		load += inst.Load()
	}
	return load
}

// Peer returns the instance for a name, for status and stats queries.
func (r *Registry) Peer(name string) (*PeerInstance, bool) {
	return r.get(name)
}

// PeerNames returns all registered peer names, sorted.
func (r *Registry) PeerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.peers))
	for name := range r.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) get(name string) (*PeerInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.peers[name]
	return inst, ok
}

func (r *Registry) snapshot() []*PeerInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PeerInstance, 0, len(r.peers))
	for _, inst := range r.peers {
		out = append(out, inst)
	}
	return out
}

func connectTimeout(cfg core.PeerConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return defaultConnectTimeout
}
