package buffer

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vibetunnel/internal/vt"
)

const (
	writeDeadline = 5 * time.Second
	readDeadline  = 90 * time.Second
	pingInterval  = 30 * time.Second

	// debounceInterval bounds re-encode/push frequency per session to at
	// most once per 16ms, per spec.md §4.6.
	debounceInterval = 16 * time.Millisecond

	// clientSendQueue is each client's outbound high-water mark; when the
	// queue is full the new frame for that client is dropped, never queued
	// unboundedly.
	clientSendQueue = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
}

type controlMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// Client is one WebSocket connection with a set of subscribed session ids.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu            sync.Mutex
	subscriptions map[string]struct{}

	send   chan []byte
	closed chan struct{}
}

// Aggregator is the C6 singleton: it holds every connected Client and,
// per session, the last-sent-at timestamp used for debouncing.
type Aggregator struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	sessionMu sync.Mutex
	lastSent  map[string]time.Time
}

// New creates an Aggregator.
func New() *Aggregator {
	return &Aggregator{
		clients:  make(map[*Client]struct{}),
		lastSent: make(map[string]time.Time),
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the client's
// read/write pumps until disconnect, per spec.md §6's /buffers endpoint.
func (a *Aggregator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[buffer] upgrade failed", "error", err)
		return
	}

	c := &Client{
		conn:          conn,
		subscriptions: make(map[string]struct{}),
		send:          make(chan []byte, clientSendQueue),
		closed:        make(chan struct{}),
	}

	a.mu.Lock()
	a.clients[c] = struct{}{}
	a.mu.Unlock()

	conn.SetReadLimit(32 * 1024)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	go c.writePump()
	go a.pingLoop(c)
	a.readPump(c)

	a.mu.Lock()
	delete(a.clients, c)
	a.mu.Unlock()
	close(c.closed)
	conn.Close()
}

func (a *Aggregator) readPump(c *Client) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[buffer] readPump recovered", "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var ctrl controlMsg
		if err := json.Unmarshal(msg, &ctrl); err != nil {
			continue
		}
		switch ctrl.Type {
		case "subscribe":
			c.mu.Lock()
			c.subscriptions[ctrl.SessionID] = struct{}{}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			delete(c.subscriptions, ctrl.SessionID)
			c.mu.Unlock()
		case "ping":
			c.enqueue([]byte(`{"type":"pong"}`), true)
		}
	}
}

func (c *Client) writePump() {
	for data := range c.send {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		msgType := websocket.BinaryMessage
		if data[0] != frameMagic {
			msgType = websocket.TextMessage
		}
		err := c.conn.WriteMessage(msgType, data)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// enqueue pushes data onto the client's send queue. If the queue is
// already at its high-water mark, the frame is dropped rather than
// queued unboundedly (spec.md §4.6); text control replies (forceSend)
// still respect the same drop policy to avoid unbounded memory growth
// from a stuck client.
func (c *Client) enqueue(data []byte, _ bool) {
	select {
	case c.send <- data:
	default:
	}
}

func (a *Aggregator) pingLoop(c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Publish re-encodes snap for sessionID and pushes it to every subscribed
// client, debounced to at most once per 16ms. Callers (internal/manager,
// driven by internal/vt's change signal) may call this far more often
// than 16ms; excess calls within the window are dropped, and the next
// tick carries a fresher snapshot, per spec.md §4.6.
func (a *Aggregator) Publish(sessionID string, snap vt.BufferSnapshot) {
	a.sessionMu.Lock()
	now := time.Now()
	if last, ok := a.lastSent[sessionID]; ok && now.Sub(last) < debounceInterval {
		a.sessionMu.Unlock()
		return
	}
	a.lastSent[sessionID] = now
	a.sessionMu.Unlock()

	payload := EncodePayload(snap)
	frame, err := EncodeFrame(sessionID, payload)
	if err != nil {
		slog.Warn("[buffer] encode frame failed", "session", sessionID, "error", err)
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for c := range a.clients {
		c.mu.Lock()
		_, subscribed := c.subscriptions[sessionID]
		c.mu.Unlock()
		if subscribed {
			c.enqueue(frame, false)
		}
	}
}

// RemoveSession drops a per-session debounce entry, e.g. once a session
// has exited and will never publish again.
func (a *Aggregator) RemoveSession(sessionID string) {
	a.sessionMu.Lock()
	delete(a.lastSent, sessionID)
	a.sessionMu.Unlock()
}
