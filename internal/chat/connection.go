package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the connection lifecycle state. Transitions only move
// forward; a closed Connection is never reused.
type ConnState int32

const (
	StateUnconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handler receives the data payload of a live event.
type Handler func(data json.RawMessage)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 512 * 1024
)

// Connection owns the single persistent channel to the messaging backend.
// One Connection exists per session; every chat session shares it and scopes
// itself with room-keyed subscriptions rather than its own transport.
type Connection struct {
	ws *websocket.Conn

	mu       sync.RWMutex
	state    ConnState
	handlers map[string]map[string]Handler // event -> subscriber key -> handler

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the backend's real-time endpoint with the session's
// bearer credential. The returned Connection is live until Close.
func Dial(ctx context.Context, baseURL, token string) (*Connection, error) {
	if strings.TrimSpace(token) == "" {
		return nil, &AuthError{Reason: "missing session token"}
	}

	endpoint, err := wsEndpoint(baseURL)
	if err != nil {
		return nil, &ValidationError{Field: "baseURL", Reason: err.Error()}
	}

	c := &Connection{
		state:    StateConnecting,
		handlers: make(map[string]map[string]Handler),
		done:     make(chan struct{}),
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		c.setState(StateClosed)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{Reason: "backend rejected credential"}
		}
		return nil, &NetworkError{Op: "dial " + endpoint, Err: err}
	}

	c.ws = ws
	c.setState(StateOpen)
	go c.readLoop()
	return c, nil
}

// State reports the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed when the transport drops, whether by Close or by the peer.
// Controllers watch it to disable sending and show a disconnected indicator.
func (c *Connection) Done() <-chan struct{} { return c.done }

// On registers fn for event under the subscriber key. Registering the same
// (event, key) pair again replaces the previous handler, so a subscriber
// cannot accidentally double-deliver to itself. Distinct keys are distinct
// consumers and all fire.
func (c *Connection) On(event, key string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[string]Handler)
	}
	c.handlers[event][key] = fn
}

// Off removes the handler registered under (event, key). Removing an absent
// pair is a no-op.
func (c *Connection) Off(event, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers[event], key)
}

// Emit sends a named event to the backend. Delivery is fire-and-forget:
// while the connection is not open the payload is dropped and Emit returns
// nil, per the best-effort contract.
func (c *Connection) Emit(event string, payload any) error {
	if c.State() != StateOpen {
		return nil
	}

	env, err := NewEnvelope(event, payload)
	if err != nil {
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// Re-check now that the socket cannot be closed under us; a send racing
	// Close stays a silent drop rather than a write error.
	if c.State() != StateOpen {
		return nil
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &NetworkError{Op: "emit " + event, Err: err}
	}
	return nil
}

// Close releases the transport. Safe to call more than once and from any
// teardown path; the Connection is unusable afterwards.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		if c.ws != nil {
			// Socket teardown happens under writeMu so an in-flight Emit
			// finishes its write before the transport goes away.
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.ws.Close()
			c.writeMu.Unlock()
		}
		close(c.done)
	})
	return nil
}

func (c *Connection) readLoop() {
	defer c.Close()

	c.ws.SetReadLimit(maxFrameSize)
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			continue // not an envelope, skip
		}
		c.dispatch(env)
	}
}

// dispatch delivers one inbound event to every handler registered for it,
// sequentially, so callers observe events in arrival order.
func (c *Connection) dispatch(env Envelope) {
	c.mu.RLock()
	fns := make([]Handler, 0, len(c.handlers[env.Event]))
	for _, fn := range c.handlers[env.Event] {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(env.Data)
	}
}

// setState only ever moves the state forward.
func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s > c.state {
		c.state = s
	}
}

// wsEndpoint turns the configured HTTP base URL into the websocket endpoint.
func wsEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat"
	return u.String(), nil
}
