package wshub

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func dialHub(t *testing.T, h *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestEmitBroadcastsToConnectedClients(t *testing.T) {
	h := New(zap.NewNop(), nil)
	conn, cleanup := dialHub(t, h)
	defer cleanup()

	waitForClientCount(t, h, 1)

	h.Emit("realtime_data_update", map[string]any{"device_id": "dev-1", "value": 42})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got.Type != "realtime_data_update" {
		t.Fatalf("Type = %q, want realtime_data_update", got.Type)
	}
	if got.Payload["device_id"] != "dev-1" {
		t.Fatalf("Payload[device_id] = %v, want dev-1", got.Payload["device_id"])
	}
}

func TestEmitWithNoClientsDoesNotBlock(t *testing.T) {
	h := New(zap.NewNop(), nil)
	h.Emit("device_coil_update", map[string]any{"device_id": "dev-2"})
}

func TestUnregisterOnDisconnectDropsClientCount(t *testing.T) {
	h := New(zap.NewNop(), nil)
	conn, cleanup := dialHub(t, h)
	waitForClientCount(t, h, 1)

	cleanup()

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d, want 0 after disconnect", h.ClientCount())
	}
	_ = conn
}

func TestCheckOriginRejectsDisallowedOrigin(t *testing.T) {
	h := New(zap.NewNop(), []string{"https://allowed.example"})
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected dial to fail for disallowed origin")
	}
	if resp != nil && resp.StatusCode != 403 {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func waitForClientCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.ClientCount() != want {
		t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), want)
	}
}
