package a2a

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/wsrpc"
)

func TestHTTPAgentClientExecuteTask(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/tasks":
			gotAuth = r.Header.Get("Authorization")
			var req core.TaskRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "t1", req.TaskID)
			json.NewEncoder(w).Encode(taskResponse{Success: true, Result: "reviewed"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newHTTPAgentClient(core.PeerConfig{
		Name:     "reviewer",
		Protocol: core.PeerHTTP,
		Endpoint: server.URL,
		Auth:     &core.PeerAuth{Type: "bearer", Token: "secret"},
	})

	require.NoError(t, client.Connect(context.Background()))

	result, err := client.ExecuteTask(context.Background(), core.TaskRequest{TaskID: "t1", Type: "review"})
	require.NoError(t, err)
	assert.Equal(t, "reviewed", result)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestHTTPAgentClientRejectedTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(taskResponse{Success: false, Error: "no capacity"})
	}))
	defer server.Close()

	client := newHTTPAgentClient(core.PeerConfig{Endpoint: server.URL})

	_, err := client.ExecuteTask(context.Background(), core.TaskRequest{TaskID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capacity")
}

func TestHTTPAgentClientHealthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newHTTPAgentClient(core.PeerConfig{Endpoint: server.URL})
	assert.Error(t, client.Ping(context.Background()))
}

func TestWSAgentClientExecuteTask(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			var msg wsrpc.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Method != "task/execute" {
				continue
			}
			result, _ := json.Marshal(taskResponse{Success: true, Result: "done"})
			conn.WriteJSON(wsrpc.Message{ID: msg.ID, Result: result})
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := newWSAgentClient(core.PeerConfig{Name: "ws-peer", Endpoint: wsURL}, nil)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	result, err := client.ExecuteTask(context.Background(), core.TaskRequest{TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "done", result)

	require.NoError(t, client.Ping(context.Background()))
}

func TestWSAgentClientNotConnected(t *testing.T) {
	client := newWSAgentClient(core.PeerConfig{Endpoint: "ws://unused.invalid"}, nil)

	_, err := client.ExecuteTask(context.Background(), core.TaskRequest{})
	assert.ErrorIs(t, err, core.ErrPeerNotConnected)
	assert.ErrorIs(t, client.Ping(context.Background()), core.ErrPeerNotConnected)
}

func TestDefaultClientFactoryUnsupportedProtocol(t *testing.T) {
	_, err := defaultClientFactory(core.PeerConfig{Protocol: core.PeerGRPC}, nil)
	assert.ErrorIs(t, err, core.ErrProtocolNotSupported)

	_, err = defaultClientFactory(core.PeerConfig{Protocol: core.PeerMessageQueue}, nil)
	assert.ErrorIs(t, err, core.ErrProtocolNotSupported)
}
