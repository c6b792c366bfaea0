package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/clara/pkg/logger"
)

type signalHandler struct {
	got chan string
}

func (h *signalHandler) HandleMessage(client *Client, messageType string, data map[string]any) error {
	h.got <- messageType
	return nil
}

func startServer(t *testing.T) (*Server, *signalHandler, string) {
	t.Helper()
	s := NewServer(logger.NewNop())
	h := &signalHandler{got: make(chan string, 8)}
	s.SetMessageHandler(h)
	go s.Run()
	srv := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	t.Cleanup(func() {
		s.Stop()
		srv.Close()
	})
	return s, h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestTopic(t *testing.T) {
	cases := map[string]string{
		"encounter.turn":      "encounter",
		"nearby_care.updated": "nearby_care",
		"welcome":             "welcome",
	}
	for in, want := range cases {
		if got := Topic(in); got != want {
			t.Errorf("Topic(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPublishReachesClient(t *testing.T) {
	_, _, url := startServer(t)
	conn := dial(t, url)

	if m := read(t, conn); m.Type != MessageTypeWelcome {
		t.Fatalf("first message = %q", m.Type)
	}
}

func TestBroadcastAndSubscribe(t *testing.T) {
	s, h, url := startServer(t)
	conn := dial(t, url)
	read(t, conn)

	s.Publish("encounter.status", map[string]any{"status": "Microphone live: Listening..."})
	m := read(t, conn)
	if m.Type != "encounter.status" || m.Data["status"] != "Microphone live: Listening..." {
		t.Fatalf("got %+v", m)
	}

	conn.WriteJSON(Message{Type: MessageTypeSubscribe, Data: map[string]any{"topics": []string{"encounter"}}})
	conn.WriteJSON(Message{Type: "ping", Data: map[string]any{}})
	select {
	case got := <-h.got:
		if got != "ping" {
			t.Fatalf("handler got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	s.Publish("assistant.status", map[string]any{"status": "Listening..."})
	s.Publish("encounter.turn", map[string]any{"patient_id": "PT-1234"})
	if m := read(t, conn); m.Type != "encounter.turn" {
		t.Fatalf("filtered client got %q", m.Type)
	}
}

func TestStopDisconnectsClients(t *testing.T) {
	s, _, url := startServer(t)
	conn := dial(t, url)
	read(t, conn)

	s.Stop()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to close")
	}
	s.Publish("encounter.status", nil)
}
