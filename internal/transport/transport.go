// Package transport implements the JSON-RPC 2.0 WebSocket client that
// delivers G-code and pattern primitives to the external motion controller.
//
// It is grounded on original_source/Motion/Moonraker_ws_v2.py's
// MoonrakerWSClient (connection lifecycle, send-lock, pending-request table,
// single reader goroutine, notification dispatch) and, for the goroutine and
// mutex shape of a long-lived gorilla/websocket connection, on
// Valkyrie/internal/livefeed/streamer.go.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrTimeout is returned by Call when no response arrives before the deadline.
var ErrTimeout = fmt.Errorf("transport: call timed out")

// ErrClosed is returned to any in-flight or future Call once Close has run.
var ErrClosed = fmt.Errorf("transport: closed")

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *uint64     `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type pendingCall struct {
	resultCh chan json.RawMessage
	errCh    chan error
}

// NotificationHandler processes an unsolicited server notification. It must
// never panic or block for long; a misbehaving handler cannot fail the
// transport itself.
type NotificationHandler func(params json.RawMessage)

// Client is a JSON-RPC 2.0 WebSocket client talking to the motion controller.
type Client struct {
	url    string
	logger *logrus.Entry

	connMu sync.Mutex
	conn   *websocket.Conn

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]*pendingCall
	nextID    uint64

	handlersMu sync.RWMutex
	handlers   map[string]NotificationHandler

	closed   bool
	closedMu sync.Mutex
}

// New creates a client. Dial must be called before Call or SendFireAndForget.
func New(url string, logger *logrus.Entry) *Client {
	return &Client{
		url:      url,
		logger:   logger,
		pending:  make(map[uint64]*pendingCall),
		handlers: make(map[string]NotificationHandler),
	}
}

// Dial opens the WebSocket connection and starts the dedicated reader goroutine.
func (c *Client) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	go c.readLoop()
	return nil
}

// OnNotify registers a handler for a given JSON-RPC notification method.
// Handlers are dispatched from the single reader goroutine.
func (c *Client) OnNotify(method string, handler NotificationHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = handler
}

// SendFireAndForget serializes a notification (no id, no response expected)
// and writes it to the socket under the send lock. It returns as soon as the
// frame is written; the caller gets no correlation with any later response.
func (c *Client) SendFireAndForget(method string, params interface{}) error {
	if c.isClosed() {
		return ErrClosed
	}
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params}
	return c.writeJSON(req)
}

// Call sends a JSON-RPC request and blocks until the matching response
// arrives, the timeout elapses, or the transport closes.
func (c *Client) Call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	c.pendingMu.Lock()
	c.nextID++
	id := c.nextID
	call := &pendingCall{resultCh: make(chan json.RawMessage, 1), errCh: make(chan error, 1)}
	c.pending[id] = call
	c.pendingMu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := c.writeJSON(req); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("transport: send %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-call.resultCh:
		return result, nil
	case err := <-call.errCh:
		return nil, err
	case <-timer.C:
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ErrTimeout
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Client) writeJSON(v interface{}) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.WithError(err).Warn("transport read loop terminated")
			c.failAllPending(fmt.Errorf("transport: read loop terminated: %w", err))
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.WithError(err).Debug("dropping malformed frame")
			continue
		}

		if resp.ID != nil {
			c.dispatchResponse(&resp)
			continue
		}

		if resp.Method != "" {
			c.dispatchNotification(resp.Method, resp.Params)
		}
	}
}

func (c *Client) dispatchResponse(resp *rpcResponse) {
	c.pendingMu.Lock()
	call, ok := c.pending[*resp.ID]
	if ok {
		delete(c.pending, *resp.ID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	if resp.Error != nil {
		call.errCh <- resp.Error
		return
	}
	call.resultCh <- resp.Result
}

func (c *Client) dispatchNotification(method string, params json.RawMessage) {
	c.handlersMu.RLock()
	handler, ok := c.handlers[method]
	c.handlersMu.RUnlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("method", method).Errorf("notification handler panicked: %v", r)
		}
	}()
	handler(params)
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, call := range c.pending {
		call.errCh <- err
		delete(c.pending, id)
	}
}

// Close shuts the connection down idempotently, failing any outstanding calls.
func (c *Client) Close() error {
	c.closedMu.Lock()
	if c.closed {
		c.closedMu.Unlock()
		return nil
	}
	c.closed = true
	c.closedMu.Unlock()

	c.failAllPending(ErrClosed)

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) isClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.closed
}
