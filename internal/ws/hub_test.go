package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	wsHub "github.com/driftgate/driftgate/internal/ws"
)

// --- helpers ----------------------------------------------------------------

// startHub starts a test HTTP server with the hub as its handler and runs
// its shutdown watcher with a cancellable context.
func startHub(t *testing.T) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.NewHub()
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsHub.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var env wsHub.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

// waitForCount polls until room has n clients or the deadline passes.
func waitForCount(t *testing.T, hub *wsHub.Hub, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.Count(room) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %q: count never reached %d (now %d)", room, n, hub.Count(room))
}

// --- tests ------------------------------------------------------------------

func TestHub_BroadcastReachesRoom(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conn := dial(t, wsURL+"?room=events")
	waitForCount(t, hub, wsHub.RoomEvents, 1)

	n := hub.BroadcastToRoom(wsHub.RoomEvents, wsHub.NewEnvelope("notification_sent", map[string]string{
		"route": "page-oncall",
	}))
	if n != 1 {
		t.Errorf("recipients: got %d, want 1", n)
	}

	env := readEnvelope(t, conn)
	if env.Type != "notification_sent" {
		t.Errorf("type: got %q", env.Type)
	}
	if env.Timestamp.IsZero() {
		t.Error("timestamp: zero")
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["route"] != "page-oncall" {
		t.Errorf("data: got %v", env.Data)
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	events := dial(t, wsURL+"?room=events")
	incidents := dial(t, wsURL+"?room=incidents")
	waitForCount(t, hub, wsHub.RoomEvents, 1)
	waitForCount(t, hub, wsHub.RoomIncidents, 1)

	if n := hub.BroadcastToRoom(wsHub.RoomIncidents, wsHub.NewEnvelope("incident_created", nil)); n != 1 {
		t.Errorf("incident recipients: got %d, want 1", n)
	}

	env := readEnvelope(t, incidents)
	if env.Type != "incident_created" {
		t.Errorf("incidents room got %q", env.Type)
	}

	// The events client must not see the incidents broadcast.
	events.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := events.ReadMessage(); err == nil {
		t.Error("events room received an incidents broadcast")
	}
}

func TestHub_UnknownRoomFallsBackToEvents(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	dial(t, wsURL+"?room=lounge")
	waitForCount(t, hub, wsHub.RoomEvents, 1)
}

func TestHub_RecipientCount(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	for i := 0; i < 3; i++ {
		dial(t, wsURL+"?room=events")
	}
	waitForCount(t, hub, wsHub.RoomEvents, 3)

	if n := hub.BroadcastToRoom(wsHub.RoomEvents, wsHub.NewEnvelope("notification_sent", nil)); n != 3 {
		t.Errorf("recipients: got %d, want 3", n)
	}
	if n := hub.BroadcastToRoom(wsHub.RoomIncidents, wsHub.NewEnvelope("incident_created", nil)); n != 0 {
		t.Errorf("empty room recipients: got %d, want 0", n)
	}
}

func TestHub_CountDecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conn := dial(t, wsURL)
	waitForCount(t, hub, wsHub.RoomEvents, 1)

	conn.Close()
	waitForCount(t, hub, wsHub.RoomEvents, 0)
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t)

	dial(t, wsURL)
	waitForCount(t, hub, wsHub.RoomEvents, 1)

	cancel()
	waitForCount(t, hub, wsHub.RoomEvents, 0)
}

func TestHub_NonWebSocketRequestReturns400(t *testing.T) {
	hub := wsHub.NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
