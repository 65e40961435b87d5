// Package realtime maintains the live event channel to the appeals
// server. A bridge joins one room per tracked entity and forwards every
// received event, tagged with its name, to a caller-supplied handler; it
// performs no filtering or interpretation of its own.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/citydesk/appealsync/internal/client"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// Token absence is usually a short-lived startup race, not a
	// systemic failure, so retry on a fixed short interval rather than
	// exponential backoff.
	defaultTokenRetryInterval = 1200 * time.Millisecond
	defaultReconnectInterval  = 2 * time.Second
)

// Handler receives every event delivered over the connection.
type Handler func(event string, data json.RawMessage)

// Options configures a bridge.
type Options struct {
	// URL is the websocket endpoint, e.g. wss://host/realtime.
	URL string
	// Rooms to (re-)join on every successful connect.
	Rooms []string
	// Tokens supplies the bearer token the handshake carries.
	Tokens client.TokenSource
	// Handler receives all events. Required.
	Handler Handler

	TokenRetryInterval time.Duration
	ReconnectInterval  time.Duration

	// OnConnect and OnDisconnect observe connection lifecycle, used to
	// drive the status machine. Optional.
	OnConnect    func()
	OnDisconnect func()
}

// Bridge owns one websocket connection and its reconnect loop. It never
// mutates domain state; events flow out through Options.Handler.
type Bridge struct {
	opts   Options
	logger *zap.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	active    bool
	refreshed bool // one token refresh per error occurrence

	writeMu sync.Mutex
	done    chan struct{}
}

// New creates a bridge. Call Start to begin connecting.
func New(opts Options, logger *zap.Logger) *Bridge {
	if opts.TokenRetryInterval <= 0 {
		opts.TokenRetryInterval = defaultTokenRetryInterval
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	return &Bridge{
		opts:   opts,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		done:   make(chan struct{}),
	}
}

// Start launches the connect/read loop.
func (b *Bridge) Start() {
	b.mu.Lock()
	b.active = true
	b.mu.Unlock()
	go b.run()
}

// Close tears the bridge down: the active flag flip cancels any
// in-flight connect attempt, rooms are left if still connected, and the
// socket is closed.
func (b *Bridge) Close() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.active = false
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn != nil {
		for _, room := range b.opts.Rooms {
			_ = b.writeJSON(conn, controlFrame{Action: "leave", Room: room})
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
	<-b.done
}

// Emit sends an event frame to the server. Returns an error when not
// connected.
func (b *Bridge) Emit(event string, data any) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return b.writeJSON(conn, eventFrame{Event: event, Data: raw})
}

func (b *Bridge) isActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Bridge) run() {
	defer close(b.done)

	for b.isActive() {
		token, err := b.opts.Tokens.AccessToken(context.Background())
		if err != nil || token == "" {
			// No token yet: defer and retry on the fixed interval.
			b.sleep(b.opts.TokenRetryInterval)
			continue
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		conn, resp, err := b.dialer.Dial(b.opts.URL, header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized && b.tryRefresh() {
				// Reconnect immediately with the refreshed token.
				continue
			}
			b.logger.Warn("realtime connect failed", zap.Error(err))
			// The guard is scoped to one error occurrence: the next
			// attempt after the backoff may refresh again, so a token
			// rotated while we slept is picked up.
			b.mu.Lock()
			b.refreshed = false
			b.mu.Unlock()
			b.sleep(b.opts.ReconnectInterval)
			continue
		}

		// A teardown may have raced the dial; never resurrect a closed
		// bridge.
		b.mu.Lock()
		if !b.active {
			b.mu.Unlock()
			_ = conn.Close()
			return
		}
		b.conn = conn
		b.refreshed = false
		b.mu.Unlock()

		b.joinRooms(conn)
		if b.opts.OnConnect != nil {
			b.opts.OnConnect()
		}

		b.readLoop(conn)

		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		stillActive := b.active
		b.mu.Unlock()

		if b.opts.OnDisconnect != nil {
			b.opts.OnDisconnect()
		}
		if stillActive {
			b.sleep(b.opts.ReconnectInterval)
		}
	}
}

// tryRefresh performs at most one token refresh per error occurrence.
func (b *Bridge) tryRefresh() bool {
	b.mu.Lock()
	if b.refreshed {
		b.mu.Unlock()
		return false
	}
	b.refreshed = true
	b.mu.Unlock()

	token, err := b.opts.Tokens.RefreshToken(context.Background())
	if err != nil || token == "" {
		b.logger.Warn("token refresh failed", zap.Error(err))
		return false
	}
	b.logger.Info("token refreshed after unauthorized connect")
	return true
}

func (b *Bridge) joinRooms(conn *websocket.Conn) {
	for _, room := range b.opts.Rooms {
		if err := b.writeJSON(conn, controlFrame{Action: "join", Room: room}); err != nil {
			b.logger.Warn("join room failed", zap.String("room", room), zap.Error(err))
			return
		}
	}
	b.logger.Info("realtime connected", zap.Strings("rooms", b.opts.Rooms))
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	stopPing := make(chan struct{})
	go b.pingLoop(conn, stopPing)
	defer close(stopPing)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				b.logger.Warn("realtime read error", zap.Error(err))
			}
			return
		}

		var f eventFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			b.logger.Warn("malformed realtime frame", zap.Error(err))
			continue
		}
		if f.Event == "" {
			continue
		}
		b.opts.Handler(f.Event, f.Data)
	}
}

func (b *Bridge) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			b.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (b *Bridge) writeJSON(conn *websocket.Conn, v any) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (b *Bridge) sleep(d time.Duration) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	<-deadline.C
}
