package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/wsrpc"
	"github.com/hupe1980/agentrelay/logging"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultCallTimeout    = 30 * time.Second
)

// AgentClient is the transport abstraction over one peer endpoint.
type AgentClient interface {
	// Connect establishes or verifies the transport.
	Connect(ctx context.Context) error

	// ExecuteTask delivers a task request and returns the peer's result.
	ExecuteTask(ctx context.Context, req core.TaskRequest) (any, error)

	// Ping performs a cheap liveness probe.
	Ping(ctx context.Context) error

	// Close tears the transport down.
	Close() error
}

// ClientFactory builds transports per peer config. Tests inject fakes here.
type ClientFactory func(cfg core.PeerConfig, logger logging.Logger) (AgentClient, error)

func defaultClientFactory(cfg core.PeerConfig, logger logging.Logger) (AgentClient, error) {
	switch cfg.Protocol {
	case core.PeerHTTP:
		return newHTTPAgentClient(cfg), nil
	case core.PeerWebSocket:
		return newWSAgentClient(cfg, logger), nil
	default:
		// grpc and message_queue are declared in config but have no
		// transport yet.
		return nil, fmt.Errorf("peer protocol %q: %w", cfg.Protocol, core.ErrProtocolNotSupported)
	}
}

func authHeader(auth *core.PeerAuth) (key, value string) {
	if auth == nil || auth.Token == "" {
		return "", ""
	}
	switch auth.Type {
	case "api_key":
		return "X-API-Key", auth.Token
	default:
		return "Authorization", "Bearer " + auth.Token
	}
}

// httpAgentClient speaks plain request/response JSON. Tasks go to
// POST {endpoint}/tasks, probes to GET {endpoint}/health.
type httpAgentClient struct {
	cfg  core.PeerConfig
	http *http.Client
}

var _ AgentClient = (*httpAgentClient)(nil)

func newHTTPAgentClient(cfg core.PeerConfig) *httpAgentClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &httpAgentClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *httpAgentClient) Connect(ctx context.Context) error {
	return c.Ping(ctx)
}

type taskResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *httpAgentClient) ExecuteTask(ctx context.Context, req core.TaskRequest) (any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal task request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/tasks", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if k, v := authHeader(c.cfg.Auth); k != "" {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("peer returned status %d: %s", resp.StatusCode, payload)
	}

	var tr taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode task response: %w", err)
	}
	if !tr.Success {
		return nil, fmt.Errorf("peer rejected task: %s", tr.Error)
	}
	return tr.Result, nil
}

func (c *httpAgentClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	if k, v := authHeader(c.cfg.Auth); k != "" {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *httpAgentClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// wsAgentClient keeps a persistent connection and correlates task requests
// by message ID.
type wsAgentClient struct {
	cfg    core.PeerConfig
	logger logging.Logger
	conn   *wsrpc.Conn
}

var _ AgentClient = (*wsAgentClient)(nil)

func newWSAgentClient(cfg core.PeerConfig, logger logging.Logger) *wsAgentClient {
	return &wsAgentClient{cfg: cfg, logger: logger}
}

func (c *wsAgentClient) Connect(ctx context.Context) error {
	header := http.Header{}
	if k, v := authHeader(c.cfg.Auth); k != "" {
		header.Set(k, v)
	}
	conn, err := wsrpc.Dial(ctx, c.cfg.Endpoint, header, c.logger)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *wsAgentClient) ExecuteTask(ctx context.Context, req core.TaskRequest) (any, error) {
	if c.conn == nil || c.conn.Closed() {
		return nil, core.ErrPeerNotConnected
	}
	raw, err := c.conn.Call(ctx, "task/execute", req, c.callTimeout())
	if err != nil {
		return nil, err
	}

	var tr taskResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("decode task response: %w", err)
	}
	if !tr.Success {
		return nil, fmt.Errorf("peer rejected task: %s", tr.Error)
	}
	return tr.Result, nil
}

func (c *wsAgentClient) Ping(ctx context.Context) error {
	if c.conn == nil || c.conn.Closed() {
		return core.ErrPeerNotConnected
	}
	return c.conn.Notify("ping", nil)
}

func (c *wsAgentClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *wsAgentClient) callTimeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return defaultCallTimeout
}
