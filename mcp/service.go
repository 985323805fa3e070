package mcp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// ServiceStatus is the live connection state of one service.
type ServiceStatus string

const (
	// StatusDisconnected means no transport is open.
	StatusDisconnected ServiceStatus = "disconnected"
	// StatusConnecting means a connect attempt is in progress.
	StatusConnecting ServiceStatus = "connecting"
	// StatusConnected means the service is usable.
	StatusConnected ServiceStatus = "connected"
	// StatusError means the service exceeded its error budget or failed to
	// connect.
	StatusError ServiceStatus = "error"
	// StatusMaintenance means the service is administratively disabled.
	StatusMaintenance ServiceStatus = "maintenance"
)

// ServiceInstance wraps a service config with its live transport state.
// Exclusively owned by the Registry.
type ServiceInstance struct {
	mu sync.RWMutex

	config      core.ServiceConfig
	status      ServiceStatus
	errorCount  int
	lastError   error
	tools       []ToolInfo
	resources   []ResourceInfo
	client      ServiceClient
	connectedAt time.Time

	inFlight atomic.Int64
}

func newServiceInstance(cfg core.ServiceConfig) *ServiceInstance {
	return &ServiceInstance{config: cfg, status: StatusDisconnected}
}

// Config returns the service's declared configuration.
func (s *ServiceInstance) Config() core.ServiceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Status returns the current connection state.
func (s *ServiceInstance) Status() ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ErrorCount returns the consecutive error count.
func (s *ServiceInstance) ErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorCount
}

// Tools returns the discovered tool list.
func (s *ServiceInstance) Tools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolInfo, len(s.tools))
	copy(out, s.tools)
	return out
}

// Resources returns the discovered resource list.
func (s *ServiceInstance) Resources() []ResourceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ResourceInfo, len(s.resources))
	copy(out, s.resources)
	return out
}

// Load returns the number of in-flight calls against this service.
func (s *ServiceInstance) Load() int {
	return int(s.inFlight.Load())
}

// hasTool reports whether the service exposes the named tool.
func (s *ServiceInstance) hasTool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// effectiveCapabilities returns the declared capabilities, falling back to
// the discovered tool names when none are declared.
func (s *ServiceInstance) effectiveCapabilities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.config.Capabilities) > 0 {
		out := make([]string, len(s.config.Capabilities))
		copy(out, s.config.Capabilities)
		return out
	}
	out := make([]string, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.Name)
	}
	return out
}

// markConnected records a successful connect with discovered inventory and
// resets the error budget.
func (s *ServiceInstance) markConnected(client ServiceClient, tools []ToolInfo, resources []ResourceInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.tools = tools
	s.resources = resources
	s.status = StatusConnected
	s.errorCount = 0
	s.lastError = nil
	s.connectedAt = time.Now()
}

// markError records a failure and reports whether the error budget is now
// exhausted.
func (s *ServiceInstance) markError(err error, budget int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	s.lastError = err
	if s.errorCount >= budget {
		s.status = StatusError
		return true
	}
	return false
}

// resetForReconnect tears down the client reference ahead of a reconnect.
func (s *ServiceInstance) resetForReconnect() ServiceClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.client
	s.client = nil
	s.status = StatusConnecting
	return old
}

func (s *ServiceInstance) setStatus(status ServiceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *ServiceInstance) currentClient() (ServiceClient, ServiceStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.status
}
