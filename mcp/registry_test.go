package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

type fakeClient struct {
	mu      sync.Mutex
	tools   []ToolInfo
	initErr error
	callErr error
	result  any
	calls   []string
	closed  bool
}

func (f *fakeClient) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return f.tools, nil
}

func (f *fakeClient) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	return nil, nil
}

func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.result, nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) calledTools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func fakeFactory(clients map[string]*fakeClient) ClientFactory {
	return func(cfg core.ServiceConfig, _ logging.Logger) (ServiceClient, error) {
		client, ok := clients[cfg.Name]
		if !ok {
			return nil, errors.New("no fake for " + cfg.Name)
		}
		return client, nil
	}
}

func serviceCfg(name string, caps []string, priority int) core.ServiceConfig {
	return core.ServiceConfig{
		Name:         name,
		Transport:    core.TransportStdio,
		Capabilities: caps,
		Priority:     priority,
		Enabled:      true,
	}
}

func TestRegistryInitializeBestEffort(t *testing.T) {
	clients := map[string]*fakeClient{
		"good": {tools: []ToolInfo{{Name: "fetch_docs"}}},
		"bad":  {initErr: errors.New("boom")},
	}
	r := New([]core.ServiceConfig{
		serviceCfg("good", []string{"docs"}, 5),
		serviceCfg("bad", []string{"docs"}, 5),
	}, func(o *Options) { o.ClientFactory = fakeFactory(clients) })

	report := r.Initialize(context.Background())

	assert.Equal(t, 1, report.Connected)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Errors, "bad")

	good, ok := r.Service("good")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, good.Status())

	bad, ok := r.Service("bad")
	require.True(t, ok)
	assert.Equal(t, StatusError, bad.Status())
}

func TestRegistrySystemServiceAlwaysConnected(t *testing.T) {
	r := New(nil)

	// System is available without Initialize.
	assert.Equal(t, 1, r.ConnectedCount())

	name, ok := r.FindToolService("read_file")
	require.True(t, ok)
	assert.Equal(t, SystemServiceName, name)
}

func TestRegistryDisabledServicesSkipped(t *testing.T) {
	cfg := serviceCfg("off", []string{"docs"}, 1)
	cfg.Enabled = false
	r := New([]core.ServiceConfig{cfg})

	_, ok := r.Service("off")
	assert.False(t, ok)
}

func TestRegistrySelectService(t *testing.T) {
	clients := map[string]*fakeClient{
		"alpha": {tools: []ToolInfo{{Name: "a"}}},
		"beta":  {tools: []ToolInfo{{Name: "b"}}},
	}
	r := New([]core.ServiceConfig{
		serviceCfg("alpha", []string{"docs", "search"}, 2),
		serviceCfg("beta", []string{"docs"}, 9),
	}, func(o *Options) { o.ClientFactory = fakeFactory(clients) })
	r.Initialize(context.Background())

	name, ok := r.SelectService([]string{"docs"}, core.SelectByPriority)
	require.True(t, ok)
	assert.Equal(t, "beta", name)

	// Only alpha covers both capabilities.
	name, ok = r.SelectService([]string{"docs", "search"}, core.SelectByPriority)
	require.True(t, ok)
	assert.Equal(t, "alpha", name)

	_, ok = r.SelectService([]string{"quantum"}, core.SelectByPriority)
	assert.False(t, ok)

	// Round robin cycles through the qualifying pair.
	seen := map[string]bool{}
	for range 4 {
		name, ok := r.SelectService([]string{"docs"}, core.SelectRoundRobin)
		require.True(t, ok)
		seen[name] = true
	}
	assert.True(t, seen["alpha"])
	assert.True(t, seen["beta"])
}

func TestRegistryCallTool(t *testing.T) {
	clients := map[string]*fakeClient{
		"alpha": {tools: []ToolInfo{{Name: "fetch"}}, result: "ok"},
	}
	r := New([]core.ServiceConfig{
		serviceCfg("alpha", []string{"docs"}, 1),
	}, func(o *Options) { o.ClientFactory = fakeFactory(clients) })
	r.Initialize(context.Background())

	result, err := r.CallTool(context.Background(), "alpha", "fetch", map[string]any{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	_, err = r.CallTool(context.Background(), "ghost", "fetch", nil)
	assert.ErrorIs(t, err, core.ErrServiceNotFound)

	var terr *core.TargetError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, core.TargetMCP, terr.Type)
	assert.Equal(t, "ghost", terr.Target)
}

func TestRegistryCallToolNotConnected(t *testing.T) {
	clients := map[string]*fakeClient{
		"down": {initErr: errors.New("refused")},
	}
	r := New([]core.ServiceConfig{
		serviceCfg("down", []string{"docs"}, 1),
	}, func(o *Options) { o.ClientFactory = fakeFactory(clients) })
	r.Initialize(context.Background())

	_, err := r.CallTool(context.Background(), "down", "fetch", nil)
	assert.ErrorIs(t, err, core.ErrServiceNotConnected)
}

func TestRegistryErrorBudgetTriggersReconnect(t *testing.T) {
	failing := &fakeClient{tools: []ToolInfo{{Name: "fetch"}}, callErr: errors.New("io")}
	healthy := &fakeClient{tools: []ToolInfo{{Name: "fetch"}}, result: "ok"}

	reconnected := make(chan struct{})
	attempts := 0
	var mu sync.Mutex
	factory := func(cfg core.ServiceConfig, _ logging.Logger) (ServiceClient, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return failing, nil
		}
		close(reconnected)
		return healthy, nil
	}

	cfg := serviceCfg("alpha", []string{"docs"}, 1)
	cfg.MaxRetries = 2
	r := New([]core.ServiceConfig{cfg}, func(o *Options) { o.ClientFactory = factory })
	r.Initialize(context.Background())

	for range 2 {
		_, err := r.CallTool(context.Background(), "alpha", "fetch", nil)
		require.Error(t, err)
	}

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect not triggered after error budget exhausted")
	}

	require.Eventually(t, func() bool {
		inst, _ := r.Service("alpha")
		return inst.Status() == StatusConnected && inst.ErrorCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	result, err := r.CallTool(context.Background(), "alpha", "fetch", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestRegistryNoReconnectAfterStop(t *testing.T) {
	failing := &fakeClient{tools: []ToolInfo{{Name: "fetch"}}, callErr: errors.New("io")}
	attempts := 0
	var mu sync.Mutex
	factory := func(cfg core.ServiceConfig, _ logging.Logger) (ServiceClient, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return failing, nil
	}

	cfg := serviceCfg("alpha", []string{"docs"}, 1)
	cfg.MaxRetries = 1
	r := New([]core.ServiceConfig{cfg}, func(o *Options) { o.ClientFactory = factory })
	r.Initialize(context.Background())
	r.Stop()

	// A failure on an in-flight call after shutdown exhausts the budget but
	// must not spawn a reconnect.
	_, err := r.CallTool(context.Background(), "alpha", "fetch", nil)
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestRegistryExecuteTaskPicksToolByType(t *testing.T) {
	client := &fakeClient{
		tools:  []ToolInfo{{Name: "search_index"}, {Name: "read_document"}},
		result: "done",
	}
	r := New([]core.ServiceConfig{
		serviceCfg("alpha", []string{"docs"}, 1),
	}, func(o *Options) { o.ClientFactory = fakeFactory(map[string]*fakeClient{"alpha": client}) })
	r.Initialize(context.Background())

	_, err := r.ExecuteTask(context.Background(), "alpha", core.TaskRequest{
		Type:        "document_review",
		Description: "read the report",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"read_document"}, client.calledTools())
}

func TestPickToolForType(t *testing.T) {
	tools := []ToolInfo{{Name: "execute_task"}, {Name: "query_db"}}

	name, ok := pickToolForType(tools, "db_query")
	require.True(t, ok)
	assert.Equal(t, "query_db", name)

	name, ok = pickToolForType(tools, "general")
	require.True(t, ok)
	assert.Equal(t, "execute_task", name)

	_, ok = pickToolForType(nil, "anything")
	assert.False(t, ok)
}

func TestRegistryAddRemoveService(t *testing.T) {
	clients := map[string]*fakeClient{
		"late": {tools: []ToolInfo{{Name: "ping"}}},
	}
	r := New(nil, func(o *Options) { o.ClientFactory = fakeFactory(clients) })

	require.NoError(t, r.AddService(context.Background(), serviceCfg("late", []string{"net"}, 1)))
	assert.Equal(t, 2, r.ConnectedCount())

	err := r.AddService(context.Background(), serviceCfg("late", nil, 1))
	assert.Error(t, err)

	assert.Error(t, r.AddService(context.Background(), serviceCfg(SystemServiceName, nil, 1)))
	assert.Error(t, r.RemoveService(SystemServiceName))

	require.NoError(t, r.RemoveService("late"))
	assert.True(t, clients["late"].closed)
	assert.ErrorIs(t, r.RemoveService("late"), core.ErrServiceNotFound)
}

func TestRegistryCandidates(t *testing.T) {
	clients := map[string]*fakeClient{
		"alpha": {tools: []ToolInfo{{Name: "fetch"}}},
	}
	r := New([]core.ServiceConfig{
		serviceCfg("alpha", []string{"docs"}, 3),
	}, func(o *Options) { o.ClientFactory = fakeFactory(clients) })
	r.Initialize(context.Background())

	candidates := r.Candidates()
	require.Len(t, candidates, 2) // alpha + system

	byName := map[string]core.TargetCandidate{}
	for _, c := range candidates {
		byName[c.Name] = c
	}
	assert.Equal(t, core.TargetMCP, byName["alpha"].Type)
	assert.Equal(t, []string{"docs"}, byName["alpha"].Capabilities)
	assert.Equal(t, 3, byName["alpha"].Priority)
	assert.Contains(t, byName[SystemServiceName].Capabilities, "file_operations")
}

func TestRegistryEffectiveCapabilitiesFallBackToToolNames(t *testing.T) {
	clients := map[string]*fakeClient{
		"bare": {tools: []ToolInfo{{Name: "translate"}}},
	}
	r := New([]core.ServiceConfig{
		serviceCfg("bare", nil, 1),
	}, func(o *Options) { o.ClientFactory = fakeFactory(clients) })
	r.Initialize(context.Background())

	name, ok := r.SelectService([]string{"translate"}, core.SelectBestMatch)
	require.True(t, ok)
	assert.Equal(t, "bare", name)
}
