package signal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"interview_room/native/internal/domain"

	"github.com/gorilla/websocket"
)

// mockHandler records signaling events.
type mockHandler struct {
	mu          sync.Mutex
	self, other domain.PeerHandle
	offers      []domain.PeerHandle
	alerts      []domain.AlertEvent
	ended       bool
	disconnects []string
	events      chan string
}

func newMockHandler() *mockHandler {
	return &mockHandler{events: make(chan string, 16)}
}

func (h *mockHandler) record(ev string) { h.events <- ev }

func (h *mockHandler) OnRoomJoined(self, other domain.PeerHandle) {
	h.mu.Lock()
	h.self, h.other = self, other
	h.mu.Unlock()
	h.record(EventRoomJoined)
}

func (h *mockHandler) OnPeerJoined(domain.PeerHandle) { h.record(EventPeerJoined) }
func (h *mockHandler) OnPeerLeft(domain.PeerHandle)   { h.record(EventPeerLeft) }

func (h *mockHandler) OnOffer(from domain.PeerHandle, _ domain.SessionDescription) {
	h.mu.Lock()
	h.offers = append(h.offers, from)
	h.mu.Unlock()
	h.record(EventOffer)
}

func (h *mockHandler) OnAnswer(domain.PeerHandle, domain.SessionDescription) { h.record(EventAnswer) }

func (h *mockHandler) OnRemoteICECandidate(domain.PeerHandle, domain.ICECandidate) {
	h.record(EventICECandidate)
}

func (h *mockHandler) OnAlert(a domain.AlertEvent) {
	h.mu.Lock()
	h.alerts = append(h.alerts, a)
	h.mu.Unlock()
	h.record(EventAlert)
}

func (h *mockHandler) OnInterviewEnded() {
	h.mu.Lock()
	h.ended = true
	h.mu.Unlock()
	h.record(EventInterviewEnded)
}

func (h *mockHandler) OnDisconnect(reason string) {
	h.mu.Lock()
	h.disconnects = append(h.disconnects, reason)
	h.mu.Unlock()
	h.record(EventDisconnect)
}

func (h *mockHandler) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-h.events:
		if got != want {
			t.Fatalf("expected event %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

// scriptedServer upgrades one connection and hands it to script.
func scriptedServer(t *testing.T, script func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func writeMsg(t *testing.T, conn *websocket.Conn, m Message) {
	t.Helper()
	data, err := Encode(m)
	if err != nil {
		t.Errorf("encode: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Errorf("write: %v", err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("read: %v", err)
		return nil
	}
	m, err := Decode(data)
	if err != nil {
		t.Errorf("decode: %v", err)
	}
	return m
}

func TestClient_JoinAndReceiveEvents(t *testing.T) {
	var gotAuth string
	srv := scriptedServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		join, ok := readMsg(t, conn).(*JoinRoom)
		if !ok || join.RoomID != "room-1" || join.Role != domain.RoleCandidate || join.UserName != "Ada" {
			t.Errorf("unexpected join: %+v", join)
		}
		writeMsg(t, conn, RoomJoined{SocketID: "me", OtherPeerID: "them"})
		writeMsg(t, conn, Offer{SenderID: "them", Offer: domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"}})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"mystery","data":{}}`))
		writeMsg(t, conn, Alert{RoomID: "room-1", Alert: domain.AlertEvent{Type: domain.AlertTabSwitch, Message: "left tab"}})
		writeMsg(t, conn, InterviewEnded{RoomID: "room-1"})

		// Wait for the client to hang up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	h := newMockHandler()
	c := NewClient(Options{URL: wsURL(srv), Token: "secret"}, h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if err := c.Join("room-1", domain.RoleCandidate, "Ada"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	h.wait(t, EventRoomJoined)
	h.wait(t, EventOffer)
	h.wait(t, EventAlert)
	h.wait(t, EventInterviewEnded)

	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if h.self != "me" || h.other != "them" {
		t.Errorf("room-joined: self=%q other=%q", h.self, h.other)
	}
	if c.ID() != "me" {
		t.Errorf("expected ID me, got %q", c.ID())
	}
	if len(h.offers) != 1 || h.offers[0] != "them" {
		t.Errorf("expected one offer from them, got %v", h.offers)
	}
	if len(h.alerts) != 1 || h.alerts[0].Type != domain.AlertTabSwitch || h.alerts[0].Payload != nil {
		t.Errorf("unexpected alerts: %+v", h.alerts)
	}
}

func TestClient_RemoteCloseNotifiesOnce(t *testing.T) {
	srv := scriptedServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeMsg(t, conn, Disconnect{Reason: "io server disconnect"})
	})

	h := newMockHandler()
	c := NewClient(Options{URL: wsURL(srv)}, h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	h.wait(t, EventDisconnect)

	select {
	case ev := <-h.events:
		t.Fatalf("unexpected extra event %s", ev)
	case <-time.After(200 * time.Millisecond):
	}
	if len(h.disconnects) != 1 || h.disconnects[0] != "io server disconnect" {
		t.Errorf("expected one disconnect with server reason, got %v", h.disconnects)
	}
	if c.Connected() {
		t.Error("expected disconnected state")
	}
	if err := c.SendEndInterview("room-1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_LocalCloseDoesNotNotify(t *testing.T) {
	srv := scriptedServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	h := newMockHandler()
	c := NewClient(Options{URL: wsURL(srv)}, h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// A second Connect while connected is a no-op.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	c.Close()
	c.Close()

	select {
	case ev := <-h.events:
		t.Fatalf("local close must not notify, got %s", ev)
	case <-time.After(200 * time.Millisecond):
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	h := newMockHandler()
	c := NewClient(Options{URL: "ws://127.0.0.1:1/ws", HandshakeTimeout: time.Second}, h)

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if c.State() != domain.ConnDisconnected {
		t.Errorf("expected disconnected, got %s", c.State())
	}
}

func TestClient_SilentServerReportsDisconnect(t *testing.T) {
	release := make(chan struct{})
	srv := scriptedServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Never read, so pings are never answered.
		<-release
	})
	t.Cleanup(func() { close(release) })

	h := newMockHandler()
	c := NewClient(Options{URL: wsURL(srv), PingInterval: 20 * time.Millisecond}, h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	h.wait(t, EventDisconnect)
	if c.Connected() {
		t.Error("expected client to report disconnected")
	}
}

func TestClient_CloseAbortsStalledDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		// Accept and hold connections without answering the handshake.
		var held []net.Conn
		defer func() {
			for _, conn := range held {
				conn.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, conn)
		}
	}()

	h := newMockHandler()
	c := NewClient(Options{URL: "ws://" + ln.Addr().String() + "/ws", HandshakeTimeout: 5 * time.Second}, h)

	result := make(chan error, 1)
	go func() { result <- c.Connect(context.Background()) }()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	c.Close()
	if d := time.Since(start); d > time.Second {
		t.Errorf("Close blocked for %s during dial", d)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Close")
	}
	if c.State() != domain.ConnDisconnected {
		t.Errorf("expected disconnected, got %s", c.State())
	}
}
