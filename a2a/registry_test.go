package a2a

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

type fakeAgent struct {
	mu         sync.Mutex
	connectErr error
	execErr    error
	pingErr    error
	result     any
	executed   []core.TaskRequest
	closed     bool
}

func (f *fakeAgent) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeAgent) ExecuteTask(ctx context.Context, req core.TaskRequest) (any, error) {
	f.mu.Lock()
	f.executed = append(f.executed, req)
	f.mu.Unlock()
	if f.execErr != nil {
		return nil, f.execErr
	}
	return f.result, nil
}

func (f *fakeAgent) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeAgent) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func fakeFactory(agents map[string]*fakeAgent) ClientFactory {
	return func(cfg core.PeerConfig, _ logging.Logger) (AgentClient, error) {
		agent, ok := agents[cfg.Name]
		if !ok {
			return nil, errors.New("no fake for " + cfg.Name)
		}
		return agent, nil
	}
}

func peerCfg(name string, caps, specialties []string, priority int) core.PeerConfig {
	return core.PeerConfig{
		Name:         name,
		Protocol:     core.PeerHTTP,
		Endpoint:     "http://" + name + ".invalid",
		Capabilities: caps,
		Specialties:  specialties,
		Priority:     priority,
		Enabled:      true,
	}
}

func TestRegistryInitializeBestEffort(t *testing.T) {
	agents := map[string]*fakeAgent{
		"up":   {},
		"down": {connectErr: errors.New("refused")},
	}
	r := New([]core.PeerConfig{
		peerCfg("up", []string{"review"}, nil, 1),
		peerCfg("down", []string{"review"}, nil, 1),
	}, func(o *Options) { o.ClientFactory = fakeFactory(agents) })

	report := r.Initialize(context.Background())

	assert.Equal(t, 1, report.Connected)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Errors, "down")
	assert.Equal(t, 1, r.ConnectedCount())
}

func TestRegistrySelectAgent(t *testing.T) {
	agents := map[string]*fakeAgent{
		"generalist": {},
		"expert":     {},
		"outsider":   {},
	}
	r := New([]core.PeerConfig{
		peerCfg("generalist", []string{"code_review"}, nil, 1),
		peerCfg("expert", []string{"code_review"}, []string{"security"}, 5),
		peerCfg("outsider", []string{"translation"}, nil, 9),
	}, func(o *Options) { o.ClientFactory = fakeFactory(agents) })
	r.Initialize(context.Background())

	// Highest priority tier wins among capability matches.
	name, ok := r.SelectAgent([]string{"code_review"}, nil)
	require.True(t, ok)
	assert.Equal(t, "expert", name)

	// Specialty filter excludes peers without an intersection.
	name, ok = r.SelectAgent([]string{"code_review"}, []string{"security"})
	require.True(t, ok)
	assert.Equal(t, "expert", name)

	_, ok = r.SelectAgent([]string{"code_review"}, []string{"frontend"})
	assert.False(t, ok)

	_, ok = r.SelectAgent([]string{"quantum"}, nil)
	assert.False(t, ok)
}

func TestRegistryBalancingRoundRobin(t *testing.T) {
	agents := map[string]*fakeAgent{"a": {}, "b": {}}
	r := New([]core.PeerConfig{
		peerCfg("a", []string{"review"}, nil, 1),
		peerCfg("b", []string{"review"}, nil, 1),
	}, func(o *Options) { o.ClientFactory = fakeFactory(agents) })
	r.Initialize(context.Background())

	seen := map[string]int{}
	for range 4 {
		name, ok := r.SelectAgent([]string{"review"}, nil)
		require.True(t, ok)
		seen[name]++
	}
	assert.Equal(t, 2, seen["a"])
	assert.Equal(t, 2, seen["b"])
}

func TestRegistryBalancingLeastLoad(t *testing.T) {
	agents := map[string]*fakeAgent{"a": {}, "b": {}}
	r := New([]core.PeerConfig{
		peerCfg("a", []string{"review"}, nil, 1),
		peerCfg("b", []string{"review"}, nil, 1),
	}, func(o *Options) {
		o.ClientFactory = fakeFactory(agents)
		o.Balancing = core.BalanceLeastLoad
	})
	r.Initialize(context.Background())

	busy, _ := r.Peer("a")
	busy.inFlight.Add(3)

	name, ok := r.SelectAgent([]string{"review"}, nil)
	require.True(t, ok)
	assert.Equal(t, "b", name)
}

func TestRegistryExecuteTaskRecordsStats(t *testing.T) {
	agents := map[string]*fakeAgent{"a": {result: "done"}}
	r := New([]core.PeerConfig{
		peerCfg("a", []string{"review"}, nil, 1),
	}, func(o *Options) { o.ClientFactory = fakeFactory(agents) })
	r.Initialize(context.Background())

	result, err := r.ExecuteTask(context.Background(), "a", core.TaskRequest{TaskID: "t1", Type: "review"})
	require.NoError(t, err)
	assert.Equal(t, "done", result)

	inst, _ := r.Peer("a")
	stats := inst.Stats()
	assert.EqualValues(t, 1, stats.TotalTasks)
	assert.EqualValues(t, 1, stats.Succeeded)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

func TestRegistryExecuteTaskErrors(t *testing.T) {
	agents := map[string]*fakeAgent{"a": {execErr: errors.New("overloaded")}}
	r := New([]core.PeerConfig{
		peerCfg("a", []string{"review"}, nil, 1),
	}, func(o *Options) { o.ClientFactory = fakeFactory(agents) })
	r.Initialize(context.Background())

	_, err := r.ExecuteTask(context.Background(), "a", core.TaskRequest{TaskID: "t1"})
	require.Error(t, err)

	var terr *core.TargetError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, core.TargetAgent, terr.Type)

	inst, _ := r.Peer("a")
	assert.EqualValues(t, 1, inst.Stats().Failed)

	_, err = r.ExecuteTask(context.Background(), "ghost", core.TaskRequest{})
	assert.ErrorIs(t, err, core.ErrPeerNotFound)
}

func TestRegistryErrorBudgetTriggersReconnect(t *testing.T) {
	failing := &fakeAgent{execErr: errors.New("io")}
	healthy := &fakeAgent{result: "ok"}

	reconnected := make(chan struct{})
	attempts := 0
	var mu sync.Mutex
	factory := func(cfg core.PeerConfig, _ logging.Logger) (AgentClient, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return failing, nil
		}
		close(reconnected)
		return healthy, nil
	}

	cfg := peerCfg("a", []string{"review"}, nil, 1)
	cfg.MaxRetries = 2
	r := New([]core.PeerConfig{cfg}, func(o *Options) { o.ClientFactory = factory })
	r.Initialize(context.Background())

	for range 2 {
		_, err := r.ExecuteTask(context.Background(), "a", core.TaskRequest{})
		require.Error(t, err)
	}

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect not triggered after error budget exhausted")
	}

	require.Eventually(t, func() bool {
		inst, _ := r.Peer("a")
		return inst.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	result, err := r.ExecuteTask(context.Background(), "a", core.TaskRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestRegistryNoReconnectAfterStop(t *testing.T) {
	failing := &fakeAgent{execErr: errors.New("io")}
	attempts := 0
	var mu sync.Mutex
	factory := func(cfg core.PeerConfig, _ logging.Logger) (AgentClient, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return failing, nil
	}

	cfg := peerCfg("a", []string{"review"}, nil, 1)
	cfg.MaxRetries = 1
	r := New([]core.PeerConfig{cfg}, func(o *Options) { o.ClientFactory = factory })
	r.Initialize(context.Background())
	r.Stop()

	// A failure on an in-flight call after shutdown exhausts the budget but
	// must not spawn a reconnect.
	_, err := r.ExecuteTask(context.Background(), "a", core.TaskRequest{})
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestRegistryAddRemovePeer(t *testing.T) {
	agents := map[string]*fakeAgent{"late": {}}
	r := New(nil, func(o *Options) { o.ClientFactory = fakeFactory(agents) })

	require.NoError(t, r.AddPeer(context.Background(), peerCfg("late", []string{"review"}, nil, 1)))
	assert.Equal(t, 1, r.ConnectedCount())
	assert.Error(t, r.AddPeer(context.Background(), peerCfg("late", nil, nil, 1)))

	require.NoError(t, r.RemovePeer("late"))
	assert.True(t, agents["late"].closed)
	assert.ErrorIs(t, r.RemovePeer("late"), core.ErrPeerNotFound)
}

func TestRegistryCandidates(t *testing.T) {
	agents := map[string]*fakeAgent{"a": {}}
	r := New([]core.PeerConfig{
		peerCfg("a", []string{"review", "testing"}, nil, 4),
	}, func(o *Options) { o.ClientFactory = fakeFactory(agents) })
	r.Initialize(context.Background())

	candidates := r.Candidates()
	require.Len(t, candidates, 1)
	assert.Equal(t, "a", candidates[0].Name)
	assert.Equal(t, core.TargetAgent, candidates[0].Type)
	assert.Equal(t, 4, candidates[0].Priority)
}

func TestPeerStatsRollingAverage(t *testing.T) {
	inst := newPeerInstance(core.PeerConfig{Name: "a"})
	inst.recordResult(100*time.Millisecond, true)
	inst.recordResult(300*time.Millisecond, true)

	stats := inst.Stats()
	assert.Equal(t, 200*time.Millisecond, stats.AverageLatency)
	assert.EqualValues(t, 2, stats.TotalTasks)
}
