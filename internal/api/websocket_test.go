package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"taskdeck/internal/events"
)

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return msg
}

func TestWebSocketSubscribeReceivesEvents(t *testing.T) {
	srv, _, pub, _ := newTestServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(WSMessage{Type: "subscribe", TaskID: "TASK-1"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ack := readWSMessage(t, conn)
	if ack["type"] != "subscribed" || ack["task_id"] != "TASK-1" {
		t.Fatalf("ack = %v", ack)
	}

	pub.Publish(events.NewEvent(events.EventTaskStatusChanged, "TASK-1", events.StatusChange{From: "todo", To: "review"}))

	msg := readWSMessage(t, conn)
	if msg["type"] != "event" || msg["event"] != string(events.EventTaskStatusChanged) {
		t.Errorf("event = %v", msg)
	}
}

func TestWebSocketGlobalSubscription(t *testing.T) {
	srv, _, pub, _ := newTestServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(WSMessage{Type: "subscribe", TaskID: events.GlobalTaskID}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = readWSMessage(t, conn) // ack

	pub.Publish(events.NewEvent(events.EventTaskCreated, "TASK-2", nil))

	msg := readWSMessage(t, conn)
	if msg["task_id"] != "TASK-2" {
		t.Errorf("global subscription missed event: %v", msg)
	}
}

func TestWebSocketPingAndErrors(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(WSMessage{Type: "ping"}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if msg := readWSMessage(t, conn); msg["type"] != "pong" {
		t.Errorf("pong = %v", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "subscribe"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWSMessage(t, conn); msg["type"] != "error" {
		t.Errorf("expected error for empty task_id, got %v", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "wat"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWSMessage(t, conn); msg["type"] != "error" {
		t.Errorf("expected error for unknown type, got %v", msg)
	}
}
