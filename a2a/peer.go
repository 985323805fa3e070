package a2a

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// PeerStatus tracks the lifecycle of one peer connection.
type PeerStatus string

const (
	StatusDisconnected PeerStatus = "disconnected"
	StatusConnecting   PeerStatus = "connecting"
	StatusConnected    PeerStatus = "connected"
	StatusError        PeerStatus = "error"
)

// PeerStats aggregates delivery outcomes for one peer.
type PeerStats struct {
	TotalTasks     int64
	Succeeded      int64
	Failed         int64
	SuccessRate    float64
	AverageLatency time.Duration
}

// PeerInstance is the registry's view of one configured peer: its config,
// connection state and accumulated delivery statistics.
type PeerInstance struct {
	mu          sync.RWMutex
	cfg         core.PeerConfig
	status      PeerStatus
	errorCount  int
	lastError   error
	client      AgentClient
	connectedAt time.Time

	totalTasks int64
	succeeded  int64
	failed     int64
	avgLatency time.Duration

	inFlight atomic.Int64
}

func newPeerInstance(cfg core.PeerConfig) *PeerInstance {
	return &PeerInstance{cfg: cfg, status: StatusDisconnected}
}

func (p *PeerInstance) Config() core.PeerConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *PeerInstance) Status() PeerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *PeerInstance) ErrorCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.errorCount
}

func (p *PeerInstance) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastError
}

// Load returns the number of requests currently in flight to this peer.
func (p *PeerInstance) Load() int {
	return int(p.inFlight.Load())
}

// Stats returns a snapshot of the peer's delivery statistics.
func (p *PeerInstance) Stats() PeerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := PeerStats{
		TotalTasks:     p.totalTasks,
		Succeeded:      p.succeeded,
		Failed:         p.failed,
		AverageLatency: p.avgLatency,
	}
	if p.totalTasks > 0 {
		stats.SuccessRate = float64(p.succeeded) / float64(p.totalTasks)
	}
	return stats
}

// recordResult folds one task outcome into the rolling statistics.
func (p *PeerInstance) recordResult(latency time.Duration, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalTasks++
	if success {
		p.succeeded++
	} else {
		p.failed++
	}
	// Incremental mean keeps the average without storing samples.
	p.avgLatency += (latency - p.avgLatency) / time.Duration(p.totalTasks)
}

func (p *PeerInstance) markConnected(client AgentClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
	p.status = StatusConnected
	p.errorCount = 0
	p.lastError = nil
	p.connectedAt = time.Now()
}

// markError records a failure and reports whether the error budget is now
// exhausted.
func (p *PeerInstance) markError(err error, budget int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorCount++
	p.lastError = err
	if p.errorCount >= budget {
		p.status = StatusError
		return true
	}
	return false
}

func (p *PeerInstance) resetForReconnect() AgentClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.client
	p.client = nil
	p.status = StatusConnecting
	return old
}

func (p *PeerInstance) currentClient() (AgentClient, PeerStatus) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client, p.status
}
