package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTokens struct {
	mu        sync.Mutex
	access    string
	refreshTo string
	refreshes int
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access, nil
}

func (f *fakeTokens) RefreshToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.access = f.refreshTo
	return f.access, nil
}

func (f *fakeTokens) setAccess(tok string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = tok
}

func (f *fakeTokens) setRefreshTo(tok string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshTo = tok
}

func (f *fakeTokens) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

// recvFrame is the union of control and event frames as the server sees
// them; the data field is ignored.
type recvFrame struct {
	Action string `json:"action"`
	Room   string `json:"room"`
	Event  string `json:"event"`
}

// wsServer accepts connections carrying the expected bearer token and
// records received frames.
type wsServer struct {
	*httptest.Server
	expectToken string

	mu       sync.Mutex
	frames   []recvFrame
	conns    []*websocket.Conn
	attempts int
}

func newWSServer(t *testing.T, expectToken string) *wsServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	s := &wsServer{expectToken: expectToken}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+s.expectToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			var frame recvFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, frame)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) receivedFrames() []recvFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recvFrame(nil), s.frames...)
}

func (s *wsServer) dialAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// push sends an event frame on the most recent connection.
func (s *wsServer) push(t *testing.T, event string, data any) {
	t.Helper()
	s.mu.Lock()
	require.NotEmpty(t, s.conns, "no connection to push on")
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(eventFrame{Event: event, Data: raw}))
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBridgeConnectsJoinsAndForwards(t *testing.T) {
	server := newWSServer(t, "tok")
	tokens := &fakeTokens{access: "tok"}

	var mu sync.Mutex
	var events []string
	connected := make(chan struct{}, 1)

	b := New(Options{
		URL:    server.url(),
		Rooms:  []string{AppealRoom(42), UserRoom(7), DepartmentRoom(3)},
		Tokens: tokens,
		Handler: func(event string, _ json.RawMessage) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		},
		OnConnect: func() {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
	}, zap.NewNop())
	b.Start()
	defer b.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never connected")
	}

	eventually(t, func() bool { return len(server.receivedFrames()) >= 3 }, "join frames not received")
	frames := server.receivedFrames()
	assert.Equal(t, "join", frames[0].Action)
	assert.Equal(t, "appeal:42", frames[0].Room)
	assert.Equal(t, "user:7", frames[1].Room)
	assert.Equal(t, "department:3", frames[2].Room)

	server.push(t, "messageAdded", map[string]any{"appealId": 42})
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1 && events[0] == "messageAdded"
	}, "event not forwarded to handler")
}

func TestBridgeWaitsForToken(t *testing.T) {
	server := newWSServer(t, "tok")
	tokens := &fakeTokens{access: ""}
	connected := make(chan struct{}, 1)

	b := New(Options{
		URL:                server.url(),
		Tokens:             tokens,
		Handler:            func(string, json.RawMessage) {},
		TokenRetryInterval: 30 * time.Millisecond,
		OnConnect: func() {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
	}, zap.NewNop())
	b.Start()
	defer b.Close()

	// No token: no dial attempts at all.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, server.dialAttempts(), "must not dial without a token")

	tokens.setAccess("tok")
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never connected after token became available")
	}
}

func TestBridgeRefreshesOnceOnUnauthorized(t *testing.T) {
	server := newWSServer(t, "good")
	tokens := &fakeTokens{access: "stale", refreshTo: "good"}
	connected := make(chan struct{}, 1)

	b := New(Options{
		URL:               server.url(),
		Tokens:            tokens,
		Handler:           func(string, json.RawMessage) {},
		ReconnectInterval: 50 * time.Millisecond,
		OnConnect: func() {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
	}, zap.NewNop())
	b.Start()
	defer b.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never recovered from unauthorized")
	}

	assert.Equal(t, 1, tokens.refreshCount(), "exactly one refresh per error occurrence")
}

func TestBridgeRecoversFromBadRefresh(t *testing.T) {
	server := newWSServer(t, "good")
	// The first refresh yields a token the server still rejects.
	tokens := &fakeTokens{access: "stale", refreshTo: "stale"}
	connected := make(chan struct{}, 1)

	b := New(Options{
		URL:               server.url(),
		Tokens:            tokens,
		Handler:           func(string, json.RawMessage) {},
		ReconnectInterval: 30 * time.Millisecond,
		OnConnect: func() {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
	}, zap.NewNop())
	b.Start()
	defer b.Close()

	// Each fresh dial attempt after the backoff is a new error
	// occurrence and may refresh again.
	eventually(t, func() bool { return tokens.refreshCount() >= 2 },
		"refresh never retried after an unsuccessful refresh")

	// A credential rotation while the bridge is cycling must be picked
	// up by a later refresh.
	tokens.setRefreshTo("good")
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never connected after token rotation")
	}
}

func TestBridgeCloseLeavesRooms(t *testing.T) {
	server := newWSServer(t, "tok")
	tokens := &fakeTokens{access: "tok"}
	connected := make(chan struct{}, 1)

	b := New(Options{
		URL:     server.url(),
		Rooms:   []string{AppealRoom(42)},
		Tokens:  tokens,
		Handler: func(string, json.RawMessage) {},
		OnConnect: func() {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
	}, zap.NewNop())
	b.Start()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never connected")
	}
	eventually(t, func() bool { return len(server.receivedFrames()) >= 1 }, "join frame not received")

	b.Close()

	eventually(t, func() bool {
		for _, f := range server.receivedFrames() {
			if f.Action == "leave" && f.Room == "appeal:42" {
				return true
			}
		}
		return false
	}, "leave frame not received on close")

	// A closed bridge must not reconnect.
	attempts := server.dialAttempts()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, attempts, server.dialAttempts(), "closed bridge reconnected")
}

func TestEmitWhileDisconnected(t *testing.T) {
	b := New(Options{
		URL:     "ws://127.0.0.1:1/realtime",
		Tokens:  &fakeTokens{access: "tok"},
		Handler: func(string, json.RawMessage) {},
	}, zap.NewNop())

	err := b.Emit("presence:focus", map[string]bool{"focused": true})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestFocusTrackerEmitsOnlyOnChange(t *testing.T) {
	server := newWSServer(t, "tok")
	tokens := &fakeTokens{access: "tok"}
	connected := make(chan struct{}, 1)

	b := New(Options{
		URL:     server.url(),
		Tokens:  tokens,
		Handler: func(string, json.RawMessage) {},
		OnConnect: func() {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
	}, zap.NewNop())
	b.Start()
	defer b.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never connected")
	}

	f := NewFocusTracker(b)
	f.SetFocused(true)
	f.SetFocused(true) // no change, no frame
	f.SetFocused(false)

	focusFrames := func() int {
		count := 0
		for _, fr := range server.receivedFrames() {
			if fr.Event == "presence:focus" {
				count++
			}
		}
		return count
	}
	eventually(t, func() bool { return focusFrames() == 2 }, "expected exactly two focus frames")

	// Verify no third frame sneaks in.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, focusFrames())

}
