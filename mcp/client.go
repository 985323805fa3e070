package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/wsrpc"
	"github.com/hupe1980/agentrelay/logging"
)

// ToolInfo describes one tool discovered on a service.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ResourceInfo describes one resource discovered on a service.
type ResourceInfo struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// ServiceClient abstracts one live transport to an MCP service. The registry
// only depends on this interface, so tests and custom transports can
// substitute their own implementation via Options.ClientFactory.
type ServiceClient interface {
	// Initialize performs the protocol handshake.
	Initialize(ctx context.Context) error

	// ListTools returns the tools the service exposes. Also used as the
	// cheap health-check probe.
	ListTools(ctx context.Context) ([]ToolInfo, error)

	// ListResources returns the resources the service exposes.
	ListResources(ctx context.Context) ([]ResourceInfo, error)

	// CallTool invokes a named tool with the given arguments.
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)

	// Close tears down the transport.
	Close() error
}

// ClientFactory builds a ServiceClient for a service config. The default
// factory dispatches on the config's transport type.
type ClientFactory func(cfg core.ServiceConfig, logger logging.Logger) (ServiceClient, error)

// defaultClientFactory returns the production transports: mcp-go for stdio
// and streamable HTTP, wsrpc for websocket.
func defaultClientFactory(cfg core.ServiceConfig, logger logging.Logger) (ServiceClient, error) {
	switch cfg.Transport {
	case core.TransportStdio:
		c, err := mcpclient.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("stdio client for %s: %w", cfg.Name, err)
		}
		return &protocolClient{client: c}, nil
	case core.TransportHTTP:
		var opts []mcptransport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcptransport.WithHTTPHeaders(cfg.Headers))
		}
		c, err := mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("http client for %s: %w", cfg.Name, err)
		}
		return &protocolClient{client: c}, nil
	case core.TransportWebSocket:
		return &wsClient{url: cfg.URL, timeout: cfg.Timeout, logger: logger}, nil
	default:
		return nil, fmt.Errorf("service %s: transport %q: %w", cfg.Name, cfg.Transport, core.ErrProtocolNotSupported)
	}
}

// protocolClient wraps an mcp-go client (stdio or streamable HTTP).
type protocolClient struct {
	client *mcpclient.Client
}

func (p *protocolClient) Initialize(ctx context.Context) error {
	_, err := p.client.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ProtocolVersion: mcplib.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcplib.Implementation{Name: "agentrelay", Version: "0.1.0"},
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

func (p *protocolClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	res, err := p.client.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	tools := make([]ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description})
	}
	return tools, nil
}

func (p *protocolClient) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	res, err := p.client.ListResources(ctx, mcplib.ListResourcesRequest{})
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	resources := make([]ResourceInfo, 0, len(res.Resources))
	for _, r := range res.Resources {
		resources = append(resources, ResourceInfo{URI: r.URI, Name: r.Name})
	}
	return resources, nil
}

func (p *protocolClient) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	res, err := p.client.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}

	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(mcplib.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return nil, fmt.Errorf("tool %s returned error: %s", name, text)
	}
	return text, nil
}

func (p *protocolClient) Close() error { return p.client.Close() }

// wsClient speaks the correlated JSON-RPC dialect over a WebSocket
// connection, for services that expose MCP-style methods without an mcp-go
// transport.
type wsClient struct {
	url     string
	timeout time.Duration
	logger  logging.Logger
	conn    *wsrpc.Conn
}

func (w *wsClient) Initialize(ctx context.Context) error {
	conn, err := wsrpc.Dial(ctx, w.url, nil, w.logger)
	if err != nil {
		return err
	}
	w.conn = conn
	if _, err := conn.Call(ctx, "initialize", map[string]any{
		"clientInfo": map[string]any{"name": "agentrelay", "version": "0.1.0"},
	}, w.callTimeout()); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

func (w *wsClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := w.conn.Call(ctx, "tools/list", nil, w.callTimeout())
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode tools/list: %w", err)
	}
	return payload.Tools, nil
}

func (w *wsClient) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	raw, err := w.conn.Call(ctx, "resources/list", nil, w.callTimeout())
	if err != nil {
		return nil, err
	}
	var payload struct {
		Resources []ResourceInfo `json:"resources"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode resources/list: %w", err)
	}
	return payload.Resources, nil
}

func (w *wsClient) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	raw, err := w.conn.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	}, w.callTimeout())
	if err != nil {
		return nil, err
	}
	var result any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decode tools/call result: %w", err)
		}
	}
	return result, nil
}

func (w *wsClient) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

func (w *wsClient) callTimeout() time.Duration {
	if w.timeout > 0 {
		return w.timeout
	}
	return defaultCallTimeout
}
