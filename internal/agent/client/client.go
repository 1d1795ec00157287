// Package client maintains the agent's single persistent WebSocket to
// the relay: register on connect, heartbeat while open, reconnect on
// loss, dispatch inbound frames to subscribers.
package client

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vominhhoang308/claude-mobile/internal/wire"
	"github.com/vominhhoang308/claude-mobile/pkg/logger"
)

const (
	// heartbeatInterval paces the application-level keepalive pings.
	heartbeatInterval = 30 * time.Second
	// reconnectDelay is the fixed backoff between connection attempts.
	reconnectDelay = 5 * time.Second
	// writeWait bounds every single write.
	writeWait = 10 * time.Second
)

// Handler receives every parsed inbound frame.
type Handler func(frame map[string]any)

// Client is the agent's relay connection. At most one underlying
// socket exists at a time; Send reports false whenever it is not open.
type Client struct {
	relayURL string
	identity string
	version  string

	mu       sync.RWMutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	handlers []Handler

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates a client for one relay URL and one agent identity. The
// relay URL may use http(s) or ws(s) scheme.
func New(relayURL, identity, version string) *Client {
	return &Client{
		relayURL: relayURL,
		identity: identity,
		version:  version,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// OnFrame registers a handler. All handlers run for every frame, in
// registration order, on the single consumer goroutine. Registration
// must happen before Start.
func (c *Client) OnFrame(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Start launches the connection loop. It returns immediately; the
// client reconnects forever until Stop.
func (c *Client) Start() {
	go c.run()
}

// Stop cancels any pending reconnect and closes the socket with a
// normal closure. Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, message)
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	<-c.doneCh
}

// Send marshals and writes one frame. Returns false when the socket is
// not open; nothing is ever queued across a disconnect.
func (c *Client) Send(v any) bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		logger.Warnf("[Agent] frame marshal failed: %v", err)
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Debugf("[Agent] send failed: %v", err)
		return false
	}
	return true
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

func (c *Client) run() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, err := c.dial()
		if err != nil {
			logger.Warnf("[Agent] relay connect failed: %v (retrying in %v)", err, reconnectDelay)
			if !c.sleep(reconnectDelay) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		logger.Infof("[Agent] connected to relay")
		c.Send(wire.AgentRegister{Type: wire.TypeAgentRegister, AgentToken: c.identity, Version: c.version})

		heartbeatStop := make(chan struct{})
		go c.heartbeat(heartbeatStop)

		c.readLoop(conn)
		close(heartbeatStop)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		select {
		case <-c.stopCh:
			return
		default:
		}

		logger.Warnf("[Agent] relay connection lost, reconnecting in %v", reconnectDelay)
		if !c.sleep(reconnectDelay) {
			return
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL(), nil)
	return conn, err
}

// wsURL builds the classified relay URL, translating http(s) schemes.
func (c *Client) wsURL() string {
	base := c.relayURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	separator := "?"
	if strings.Contains(base, "?") {
		separator = "&"
	}
	return base + separator + "type=agent&agentToken=" + url.QueryEscape(c.identity)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debugf("[Agent] read: %v", err)
			return
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue // unparsable frames are dropped
		}

		c.dispatch(frame)
	}
}

// dispatch invokes every handler sequentially. A failing handler must
// not take down its peers or the read loop.
func (c *Client) dispatch(frame map[string]any) {
	c.mu.RLock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[Agent] frame handler panic: %v", r)
				}
			}()
			h(frame)
		}()
	}
}

// heartbeat emits application-level pings while the socket is open.
func (c *Client) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Send(wire.Ping{Type: wire.TypePing, SessionID: wire.HeartbeatSession})
		}
	}
}

// sleep waits for d unless Stop arrives first; reports whether the
// client should keep running.
func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
