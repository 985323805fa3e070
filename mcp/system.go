package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/tool"
)

// SystemServiceName is the reserved name of the in-process pseudo-service
// exposing the built-in tools.
const SystemServiceName = "system"

// systemClient serves the built-in tools without any transport. It is always
// connected and its ping never fails.
type systemClient struct {
	mu    sync.RWMutex
	tools map[string]tool.Tool
}

func newSystemClient(tools []tool.Tool) *systemClient {
	m := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return &systemClient{tools: m}
}

func (s *systemClient) Initialize(context.Context) error { return nil }

func (s *systemClient) ListTools(context.Context) ([]ToolInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, ToolInfo{Name: t.Name(), Description: t.Description()})
	}
	return out, nil
}

func (s *systemClient) ListResources(context.Context) ([]ResourceInfo, error) {
	return nil, nil
}

func (s *systemClient) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	t, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("system tool %s: %w", name, core.ErrToolNotFound)
	}
	return t.Call(ctx, args)
}

func (s *systemClient) Close() error { return nil }

// systemServiceConfig returns the synthetic config for the system service.
func systemServiceConfig(capabilities []string) core.ServiceConfig {
	if len(capabilities) == 0 {
		capabilities = []string{
			"file_operations",
			"command_execution",
			"memory_management",
			"planning",
		}
	}
	return core.ServiceConfig{
		Name:         SystemServiceName,
		Transport:    core.TransportInternal,
		Capabilities: capabilities,
		Priority:     1,
		Enabled:      true,
	}
}
