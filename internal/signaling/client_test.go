package signaling

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/kuuji/swaprelay/pkg/protocol"
)

// receiveTimeout reads a message from the channel with a timeout.
func receiveTimeout(t *testing.T, ch <-chan protocol.Message, timeout time.Duration) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("message channel closed unexpectedly")
		}
		return msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// expectNoMessage asserts that no message arrives within the given duration.
func expectNoMessage(t *testing.T, ch <-chan protocol.Message, duration time.Duration) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %T %+v", msg, msg)
	case <-time.After(duration):
		// OK, no message received.
	}
}

// dropConnections closes every server-side socket without shutting the hub.
func dropConnections(h *Hub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		_ = c.ws.CloseNow()
	}
}

func content(t *testing.T, msg protocol.Message) string {
	t.Helper()
	rm, ok := msg.(*protocol.ReceiveMessage)
	if !ok {
		t.Fatalf("expected *protocol.ReceiveMessage, got %T", msg)
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(rm.Data(), &body); err != nil {
		t.Fatalf("decoding receive-message payload: %v", err)
	}
	return body.Content
}

func TestClient_IdentifiesAndJoins(t *testing.T) {
	t.Parallel()

	tr := startRelay(t, HubConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(ClientConfig{
		ServerURL: tr.url,
		UserID:    "u1",
		Rooms:     []string{"r1"},
	})
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	// The relay answers identify-user with the ICE server list.
	ice, ok := receiveTimeout(t, client.Messages(), 2*time.Second).(*protocol.ICEServers)
	if !ok || len(ice.Servers) != 1 {
		t.Fatalf("expected ice-servers with one entry, got %+v", ice)
	}

	b := dialRaw(t, tr.url)
	b.identify(t, "u2")
	b.write(t, `{"type":"join-chat","data":"r1"}`)
	tr.waitMembers(t, "r1", 2)

	b.write(t, `{"type":"send-message","data":{"connectionId":"r1","content":"hello"}}`)
	if got := content(t, receiveTimeout(t, client.Messages(), 2*time.Second)); got != "hello" {
		t.Errorf("content = %q, want hello", got)
	}

	if err := client.Send(ctx, &protocol.Typing{ConnectionID: "r1", UserID: "u1"}); err != nil {
		t.Fatalf("Send(typing) error: %v", err)
	}
	if got := b.next(t); got != `{"type":"user-typing","data":{"connectionId":"r1","userId":"u1"}}` {
		t.Errorf("B received %s", got)
	}
}

func TestClient_JoinLeaveRoom(t *testing.T) {
	t.Parallel()

	tr := startRelay(t, HubConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(ClientConfig{ServerURL: tr.url, UserID: "u1"})
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()
	receiveTimeout(t, client.Messages(), 2*time.Second) // drain ice-servers

	if err := client.JoinRoom(ctx, "r2"); err != nil {
		t.Fatalf("JoinRoom() error: %v", err)
	}
	tr.waitMembers(t, "r2", 1)

	if err := client.LeaveRoom(ctx, "r2"); err != nil {
		t.Fatalf("LeaveRoom() error: %v", err)
	}
	waitFor(t, "room r2 removed", func() bool { return len(tr.rooms.Members("r2", "")) == 0 })
}

func TestClient_ReconnectRestoresIdentityAndRooms(t *testing.T) {
	t.Parallel()

	tr := startRelay(t, HubConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := NewClient(ClientConfig{
		ServerURL: tr.url,
		UserID:    "u1",
		Rooms:     []string{"r1"},
		Reconnect: ReconnectConfig{
			Enabled:      true,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
		},
	})
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()
	receiveTimeout(t, client.Messages(), 2*time.Second) // drain ice-servers
	tr.waitMembers(t, "r1", 1)

	before, _ := tr.registry.Resolve("u1")
	dropConnections(tr.hub)

	// A fresh identify produces a second ice-servers event.
	if _, ok := receiveTimeout(t, client.Messages(), 3*time.Second).(*protocol.ICEServers); !ok {
		t.Fatal("expected ice-servers after reconnect")
	}
	after, ok := tr.registry.Resolve("u1")
	if !ok || after == before {
		t.Fatalf("u1 resolves to %q (ok=%v), want a new connection", after, ok)
	}
	waitFor(t, "rejoin of r1", func() bool {
		return tr.rooms.Has("r1", after) && !tr.rooms.Has("r1", before)
	})

	b := dialRaw(t, tr.url)
	b.identify(t, "u2")
	b.write(t, `{"type":"join-chat","data":"r1"}`)
	tr.waitMembers(t, "r1", 2)
	b.write(t, `{"type":"send-message","data":{"connectionId":"r1","content":"back"}}`)

	if got := content(t, receiveTimeout(t, client.Messages(), 2*time.Second)); got != "back" {
		t.Errorf("content = %q, want back", got)
	}
}

func TestClient_ReconnectExhausted(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{})
	srv := httptest.NewServer(hub)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := NewClient(ClientConfig{
		ServerURL:   wsURL,
		UserID:      "u1",
		DialTimeout: 500 * time.Millisecond,
		Reconnect: ReconnectConfig{
			Enabled:      true,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			MaxAttempts:  3,
		},
	})

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	// Force-close all connections, then shut down the server.
	hub.Close()
	srv.Close()

	// The client should detect the disconnect, attempt reconnection
	// (which will fail since the server is down), and eventually
	// exhaust its attempts and close the message channel.
	select {
	case _, ok := <-client.Messages():
		if ok {
			for range client.Messages() {
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client to exhaust reconnection attempts")
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	t.Parallel()

	tr := startRelay(t, HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	client := NewClient(ClientConfig{ServerURL: tr.url, UserID: "u1"})
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	receiveTimeout(t, client.Messages(), 2*time.Second) // drain ice-servers

	// Cancel the context; the client should shut down gracefully.
	cancel()

	select {
	case _, ok := <-client.Messages():
		if ok {
			for range client.Messages() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message channel to close after context cancellation")
	}

	// Close should return immediately since the receive loop already stopped.
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestClient_SendWithoutConnect(t *testing.T) {
	t.Parallel()

	client := NewClient(ClientConfig{
		ServerURL: "ws://localhost:0/bogus",
		UserID:    "u1",
	})

	err := client.Send(context.Background(), &protocol.IdentifyUser{UserID: "u1"})
	if err == nil {
		t.Fatal("expected error sending without connection, got nil")
	}
}

func TestClient_ConnectToUnreachableServer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := NewClient(ClientConfig{
		ServerURL: "ws://127.0.0.1:1/bogus",
		UserID:    "u1",
	})

	if err := client.Connect(ctx); err == nil {
		t.Fatal("expected error connecting to unreachable server, got nil")
	}
	// Close must not hang after a failed Connect.
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestClient_OriginHeader(t *testing.T) {
	t.Parallel()

	tr := startRelay(t, HubConfig{OriginPatterns: []string{"https://chat.example.com"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rejected := NewClient(ClientConfig{ServerURL: tr.url, UserID: "u1", Origin: "https://evil.example.com"})
	if err := rejected.Connect(ctx); err == nil {
		rejected.Close()
		t.Fatal("client with a foreign origin connected")
	}

	allowed := NewClient(ClientConfig{ServerURL: tr.url, UserID: "u1", Origin: "https://chat.example.com"})
	if err := allowed.Connect(ctx); err != nil {
		t.Fatalf("Connect() with allowed origin: %v", err)
	}
	allowed.Close()
}

func TestClient_IgnoresMalformedFrames(t *testing.T) {
	t.Parallel()

	// A server that sends garbage before a valid event.
	srv := httptest.NewServer(websocketHandler(func(ctx context.Context, ws *websocket.Conn) {
		_ = ws.Write(ctx, websocket.MessageText, []byte(`{"type":"nope"}`))
		_ = ws.Write(ctx, websocket.MessageText, []byte(`{"type":"user-disconnected","data":{"userId":"u9"}}`))
		_, _, _ = ws.Read(ctx)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(ClientConfig{ServerURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	msg, ok := receiveTimeout(t, client.Messages(), 2*time.Second).(*protocol.UserDisconnected)
	if !ok || msg.UserID != "u9" {
		t.Fatalf("expected user-disconnected for u9, got %+v", msg)
	}
	expectNoMessage(t, client.Messages(), 100*time.Millisecond)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
		{100, time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(100*time.Millisecond, time.Second, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
