package wsrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

var upgrader = websocket.Upgrader{}

// echoServer responds to every request whose method is not "sleep"; "sleep"
// requests are never answered so timeout behavior can be observed.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()
		for {
			var msg Message
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Method == "sleep" || msg.ID == "" {
				continue
			}
			if msg.Method == "fail" {
				_ = ws.WriteJSON(Message{ID: msg.ID, Error: &Error{Code: 500, Message: "boom"}})
				continue
			}
			result, _ := json.Marshal(map[string]any{"method": msg.Method})
			_ = ws.WriteJSON(Message{ID: msg.ID, Result: result})
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestConnCall(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), wsURL(srv), nil, logging.NoOpLogger{})
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	result, err := conn.Call(context.Background(), "ping", nil, time.Second)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(result, &payload))
	assert.Equal(t, "ping", payload["method"])
	assert.Equal(t, 0, conn.PendingCount())
}

func TestConnCallRemoteError(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), wsURL(srv), nil, logging.NoOpLogger{})
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Call(context.Background(), "fail", nil, time.Second)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 500, rpcErr.Code)
}

func TestConnCallTimeoutCleansPending(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), wsURL(srv), nil, logging.NoOpLogger{})
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Call(context.Background(), "sleep", nil, 50*time.Millisecond)
	require.ErrorIs(t, err, core.ErrRequestTimeout)

	// The pending entry must not leak after the timeout.
	assert.Equal(t, 0, conn.PendingCount())
}

func TestConnNotify(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), wsURL(srv), nil, logging.NoOpLogger{})
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	assert.NoError(t, conn.Notify("health_check", map[string]any{"ts": time.Now().Unix()}))
}

func TestConnCallAfterClose(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), wsURL(srv), nil, logging.NoOpLogger{})
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.True(t, conn.Closed())

	_, err = conn.Call(context.Background(), "ping", nil, time.Second)
	assert.Error(t, err)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/nope", nil, nil)
	assert.Error(t, err)
}
