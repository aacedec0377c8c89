package wsapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pdg-labs/rl-ble-gateway/internal/config"
)

// fakeDispatcher records every Dispatch/EndSession call and replies with
// a fixed payload so the hub's plumbing can be tested in isolation from
// the real Dispatcher.
type fakeDispatcher struct {
	mu        sync.Mutex
	received  []string
	ended     []string
	transport *Server
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, sessionID string, raw []byte) {
	f.mu.Lock()
	f.received = append(f.received, string(raw))
	f.mu.Unlock()
	if f.transport != nil {
		f.transport.Send(sessionID, map[string]string{"status": "ok"})
	}
}

func (f *fakeDispatcher) EndSession(sessionID string) {
	f.mu.Lock()
	f.ended = append(f.ended, sessionID)
	f.mu.Unlock()
}

func testWSConfig() config.WSConfig {
	return config.WSConfig{
		Path:            "/ws",
		PingInterval:    time.Hour,
		WriteTimeout:    time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

func TestDialAndEcho(t *testing.T) {
	fd := &fakeDispatcher{}
	s := NewServer(testWSConfig(), fd, slog.Default())
	fd.transport = s

	ts := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"get_all_cars"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(reply, &decoded); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if decoded["status"] != "ok" {
		t.Fatalf("reply = %v, want status ok", decoded)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond)

	fd.mu.Lock()
	defer fd.mu.Unlock()
	if len(fd.received) != 1 {
		t.Fatalf("dispatcher received %d messages, want 1", len(fd.received))
	}
	if len(fd.ended) != 1 {
		t.Fatalf("dispatcher EndSession called %d times, want 1", len(fd.ended))
	}
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	fd := &fakeDispatcher{}
	s := NewServer(testWSConfig(), fd, slog.Default())

	ts := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}
	time.Sleep(50 * time.Millisecond)

	s.Broadcast(map[string]string{"status": "game started"})

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("conn %d read: %v", i, err)
		}
		if !strings.Contains(string(msg), "game started") {
			t.Fatalf("conn %d got %s, want broadcast payload", i, msg)
		}
	}
}

func TestSendToGoneSessionErrors(t *testing.T) {
	fd := &fakeDispatcher{}
	s := NewServer(testWSConfig(), fd, slog.Default())

	if err := s.Send("no-such-session", map[string]string{"a": "b"}); err == nil {
		t.Fatalf("Send to unknown session should error")
	}
}
