// Package wsrpc implements a small correlated request/response protocol over
// a WebSocket connection. Requests carry a generated id; the read loop
// resolves the matching pending entry when a response with that id arrives.
// A per-request timeout removes the pending entry so the map cannot grow
// without bound.
package wsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Message is the wire frame for both directions. Requests have a non-empty
// Method; responses echo the request ID and carry Result or Error.
type Message struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params any             `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is the wire-level error payload of a failed response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// Conn wraps one WebSocket connection with correlated calls and
// fire-and-forget notifications. Safe for concurrent use.
type Conn struct {
	ws     *websocket.Conn
	logger logging.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Message

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a WebSocket connection to url with a connect timeout taken from
// ctx and starts the read loop.
func Dial(ctx context.Context, url string, header http.Header, logger logging.Logger) (*Conn, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Conn{
		ws:      ws,
		logger:  logger,
		pending: make(map[string]chan Message),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call sends a request and waits for the correlated response, the timeout or
// ctx cancellation, whichever comes first. The pending entry is always
// removed before Call returns.
func (c *Conn) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan Message, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(Message{ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, msg.Error
		}
		return msg.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", method, core.ErrRequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("%s: connection closed", method)
	}
}

// Notify sends a request without registering for a response.
func (c *Conn) Notify(method string, params any) error {
	return c.write(Message{Method: method, Params: params})
}

// Close tears down the connection; pending calls fail with a closed error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// PendingCount returns the number of in-flight correlated requests.
func (c *Conn) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *Conn) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return fmt.Errorf("write %s: connection closed", msg.Method)
	default:
	}
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Method, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer func() { _ = c.Close() }()

	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Debug("wsrpc read loop terminated", "error", err)
			}
			return
		}
		if msg.ID == "" {
			// Unsolicited notification from the remote side, ignored.
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		c.pendingMu.Unlock()
		if !ok {
			// Response after timeout cleanup, drop it.
			c.logger.Debug("wsrpc response without pending request", "id", msg.ID)
			continue
		}
		ch <- msg
	}
}
