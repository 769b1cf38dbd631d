package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer(hub, nil, nil).Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dialPath(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dial connects to /ws and consumes the ready greeting.
func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn := dialPath(t, srv, "/ws")
	if env := readEnvelope(t, conn); env.Event != "ready" {
		t.Fatalf("first event = %q, want ready", env.Event)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

// expectSilence fails if conn receives anything within a short window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected message: %s", data)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectSendsReady(t *testing.T) {
	hub, srv := newTestServer(t)
	dial(t, srv)
	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })
}

func TestGetConfigAnsweredOnlyToRequester(t *testing.T) {
	hub, srv := newTestServer(t)
	hub.Register(EventGetConfig, func(_ context.Context, clientID string, _ Request) error {
		hub.SendTo(clientID, Message{Tag: TagConfig, Data: map[string]int{"captureInterval": 250}})
		return nil
	})

	asker := dial(t, srv)
	bystander := dial(t, srv)

	if err := asker.WriteJSON(map[string]string{"event": "getConfig"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readEnvelope(t, asker)
	if env.Event != "config" {
		t.Fatalf("event = %q, want config", env.Event)
	}
	if string(env.Data) != `{"captureInterval":250}` {
		t.Errorf("data = %s", env.Data)
	}
	expectSilence(t, bystander)
}

func TestUnknownEventsAreDropped(t *testing.T) {
	hub, srv := newTestServer(t)
	var called atomic.Bool
	hub.Register(EventInit, func(context.Context, string, Request) error {
		called.Store(true)
		return nil
	})

	conn := dial(t, srv)
	for _, msg := range []string{`{"event":"teleport"}`, `garbage`, `{"data":1}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	expectSilence(t, conn)
	if called.Load() {
		t.Error("init handler ran for unrelated messages")
	}
	if hub.ClientCount() != 1 {
		t.Error("connection dropped after unknown events")
	}
}

func TestHandlerErrorKeepsConnection(t *testing.T) {
	hub, srv := newTestServer(t)
	hub.Register(EventInit, func(context.Context, string, Request) error {
		return context.DeadlineExceeded
	})
	hub.Register(EventGetConfig, func(_ context.Context, id string, _ Request) error {
		hub.SendTo(id, Message{Tag: TagConfig})
		return nil
	})

	conn := dial(t, srv)
	conn.WriteJSON(map[string]string{"event": "init"})
	conn.WriteJSON(map[string]string{"event": "getConfig"})
	if env := readEnvelope(t, conn); env.Event != "config" {
		t.Errorf("event = %q, want config", env.Event)
	}
}

func TestRegisterReplacesHandler(t *testing.T) {
	hub := NewHub(nil)
	var first, second atomic.Int32
	hub.Register(EventInit, func(context.Context, string, Request) error { first.Add(1); return nil })
	hub.Register(EventInit, func(context.Context, string, Request) error { second.Add(1); return nil })

	hub.HandleMessage(context.Background(), "c1", []byte(`{"event":"init"}`))
	if first.Load() != 0 || second.Load() != 1 {
		t.Errorf("calls = (%d, %d), want (0, 1)", first.Load(), second.Load())
	}
}

func TestHandlerReceivesTypedRequest(t *testing.T) {
	hub := NewHub(nil)
	var got Request
	hub.Register(EventCheckLibUpdate, func(_ context.Context, _ string, req Request) error {
		got = req
		return nil
	})
	hub.HandleMessage(context.Background(), "c1", []byte(`{"event":"checkLibUpdate","data":{"force":true}}`))
	if got != (CheckLibUpdateRequest{Force: true}) {
		t.Errorf("handler got %#v", got)
	}
}

func TestBroadcastSurvivesDisconnect(t *testing.T) {
	hub, srv := newTestServer(t)
	var emptied atomic.Int32
	hub.OnEmpty(func() { emptied.Add(1) })

	stays := dial(t, srv)
	leaves := dial(t, srv)
	waitFor(t, "two clients", func() bool { return hub.ClientCount() == 2 })

	leaves.Close()
	waitFor(t, "one client", func() bool { return hub.ClientCount() == 1 })
	if emptied.Load() != 0 {
		t.Fatal("OnEmpty ran while a client remained")
	}

	hub.Broadcast(Message{Tag: TagTrack, Data: map[string]float64{"x": 1}})
	if env := readEnvelope(t, stays); env.Event != "track" {
		t.Errorf("event = %q, want track", env.Event)
	}

	stays.Close()
	waitFor(t, "OnEmpty", func() bool { return emptied.Load() == 1 })
}

func TestSendToRemovedClientDoesNotPanic(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv)
	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })

	var c *client
	hub.mu.RLock()
	for _, cl := range hub.clients {
		c = cl
	}
	hub.mu.RUnlock()
	id := c.id
	c.close()

	hub.SendTo(id, Message{Tag: TagTrack})
	hub.Broadcast(Message{Tag: TagTrack})
	hub.RemoveClient(id)
	hub.SendTo(id, Message{Tag: TagTrack})
	hub.SendTo("nobody", Message{Tag: TagTrack})
	conn.Close()
}

func TestRegisterAndConnectWithID(t *testing.T) {
	hub, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/register", "application/json", strings.NewReader(`{"user_id":"traveler"}`))
	if err != nil {
		t.Fatalf("POST /register: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var reg registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reg.ID) != 32 || strings.Contains(reg.ID, "-") {
		t.Errorf("id = %q, want 32 hex chars", reg.ID)
	}
	if !strings.HasSuffix(reg.URL, "/ws/"+reg.ID) {
		t.Errorf("url = %q", reg.URL)
	}

	conn := dialPath(t, srv, "/ws/"+reg.ID)
	if env := readEnvelope(t, conn); env.Event != "ready" {
		t.Fatalf("first event = %q, want ready", env.Event)
	}

	pub, err := http.Post(srv.URL+"/publish", "application/json",
		strings.NewReader(`{"user_id":"traveler","message":"hello"}`))
	if err != nil {
		t.Fatalf("POST /publish: %v", err)
	}
	pub.Body.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("published frame = %q, want hello", data)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/register/"+reg.ID, nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", del.StatusCode)
	}
	waitFor(t, "client removal", func() bool { return hub.ClientCount() == 0 })
	if hub.Reserved(reg.ID) {
		t.Error("reservation survived DELETE")
	}
}

func TestConnectWithUnknownIDRejected(t *testing.T) {
	_, srv := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/deadbeef"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial with unknown id succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %v, want 404", resp)
	}
}

func TestHTTPRoutes(t *testing.T) {
	_, srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"register without body", http.MethodPost, "/register", "", http.StatusOK},
		{"register bad body", http.MethodPost, "/register", "{", http.StatusBadRequest},
		{"unregister unknown", http.MethodDelete, "/register/nope", "", http.StatusNotFound},
		{"publish empty", http.MethodPost, "/publish", `{"message":""}`, http.StatusBadRequest},
		{"publish to nobody", http.MethodPost, "/publish", `{"message":"hi"}`, http.StatusOK},
		{"preflight", http.MethodOptions, "/register", "", http.StatusNoContent},
		{"wrong method", http.MethodGet, "/publish", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, bytes.NewReader([]byte(tt.body)))
			if err != nil {
				t.Fatal(err)
			}
			req.Header.Set("Origin", "https://example.com")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s %s: %v", tt.method, tt.path, err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://example.com" {
				t.Errorf("Access-Control-Allow-Origin = %q", got)
			}
		})
	}
}

func TestOriginAllowList(t *testing.T) {
	s := NewServer(NewHub(nil), []string{"https://map.example.com"}, nil)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://map.example.com", true},
		{"http://map.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := s.checkOrigin(req); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
