package federation

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// WSProxy maintains one upstream WebSocket connection per remote,
// multiplexing every local client's buffer subscriptions for that
// remote's sessions over it, per spec.md §4.9.
type WSProxy struct {
	registry *Registry

	mu        sync.Mutex
	upstreams map[string]*upstream // remote id -> shared connection
}

type upstream struct {
	conn *websocket.Conn

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
}

// NewWSProxy constructs a WSProxy bound to registry.
func NewWSProxy(registry *Registry) *WSProxy {
	return &WSProxy{
		registry:  registry,
		upstreams: make(map[string]*upstream),
	}
}

// Subscribe ensures an upstream WS connection exists for sessionID's
// owning remote and registers a forwarding channel on it. The returned
// func unsubscribes. Frames delivered on the channel already carry the
// 0xBF-magic session-id-prefixed framing from the remote, so the caller
// relays them to its own client unmodified — ids are globally unique, so
// no prefix rewrite is needed.
func (p *WSProxy) Subscribe(sessionID string) (<-chan []byte, func(), error) {
	remoteID, ok := p.registry.OwnerOf(sessionID)
	if !ok {
		return nil, nil, fmt.Errorf("no remote owns session %s", sessionID)
	}
	reg, ok := p.registry.Get(remoteID)
	if !ok {
		return nil, nil, fmt.Errorf("remote %s no longer registered", remoteID)
	}

	up, err := p.acquireUpstream(remoteID, reg)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan []byte, 8)
	up.mu.Lock()
	up.subscribers[ch] = struct{}{}
	up.mu.Unlock()

	if err := up.conn.WriteJSON(map[string]string{"type": "subscribe", "sessionId": sessionID}); err != nil {
		slog.Warn("[federation] upstream subscribe write failed", "remote", remoteID, "session", sessionID, "error", err)
	}

	unsubscribe := func() {
		up.mu.Lock()
		delete(up.subscribers, ch)
		up.mu.Unlock()
		up.conn.WriteJSON(map[string]string{"type": "unsubscribe", "sessionId": sessionID})
	}
	return ch, unsubscribe, nil
}

func (p *WSProxy) acquireUpstream(remoteID string, reg Registration) (*upstream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if up, ok := p.upstreams[remoteID]; ok {
		return up, nil
	}

	wsURL := toWebsocketURL(reg.BaseURL) + "/buffers?token=" + url.QueryEscape(reg.BearerToken)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}

	up := &upstream{conn: conn, subscribers: make(map[chan []byte]struct{})}
	p.upstreams[remoteID] = up
	go p.pump(remoteID, up)
	return up, nil
}

func (p *WSProxy) pump(remoteID string, up *upstream) {
	defer func() {
		p.mu.Lock()
		delete(p.upstreams, remoteID)
		p.mu.Unlock()
		up.conn.Close()
		up.mu.Lock()
		for ch := range up.subscribers {
			close(ch)
		}
		up.mu.Unlock()
	}()
	for {
		msgType, data, err := up.conn.ReadMessage()
		if err != nil {
			slog.Warn("[federation] upstream WS closed", "remote", remoteID, "error", err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		up.mu.Lock()
		for ch := range up.subscribers {
			select {
			case ch <- data:
			default:
			}
		}
		up.mu.Unlock()
	}
}

func toWebsocketURL(baseURL string) string {
	if strings.HasPrefix(baseURL, "https://") {
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	}
	return "ws://" + strings.TrimPrefix(baseURL, "http://")
}
