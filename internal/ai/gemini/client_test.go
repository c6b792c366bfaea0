package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/internal/audio"
	"github.com/yegors/clara/pkg/logger"
)

// fakeLiveServer accepts one BidiGenerateContent connection, records the setup
// message, acknowledges it and then runs script against the connection
func fakeLiveServer(t *testing.T, ack bool, script func(conn *websocket.Conn)) (*Client, <-chan map[string]any) {
	t.Helper()
	setups := make(chan map[string]any, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultPath || r.URL.Query().Get("key") != "test-key" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		setups <- setup
		if !ack {
			time.Sleep(200 * time.Millisecond)
			return
		}
		conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		script(conn)
	}))
	t.Cleanup(srv.Close)

	c := &Client{
		apiKey:           "test-key",
		host:             strings.TrimPrefix(srv.URL, "http://"),
		scheme:           "ws",
		handshakeTimeout: 100 * time.Millisecond,
		logger:           logger.NewNop(),
		dialer:           &websocket.Dialer{HandshakeTimeout: time.Second},
	}
	return c, setups
}

func TestConnectLiveSendsSetup(t *testing.T) {
	c, setups := fakeLiveServer(t, true, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	conn, err := c.ConnectLive(context.Background(), ai.LiveConfig{
		Model:               "gemini-live",
		ResponseModality:    ai.ModalityAudio,
		Voice:               "Zephyr",
		SystemInstruction:   "be brief",
		InputTranscription:  true,
		OutputTranscription: true,
	})
	if err != nil {
		t.Fatalf("ConnectLive: %v", err)
	}
	defer conn.Close()

	setup := (<-setups)["setup"].(map[string]any)
	if setup["model"] != "models/gemini-live" {
		t.Errorf("model = %v", setup["model"])
	}
	if _, ok := setup["input_audio_transcription"]; !ok {
		t.Error("input transcription not requested")
	}
	if _, ok := setup["output_audio_transcription"]; !ok {
		t.Error("output transcription not requested")
	}
	gen := setup["generation_config"].(map[string]any)
	voice := gen["speech_config"].(map[string]any)["voice_config"].(map[string]any)["prebuilt_voice_config"].(map[string]any)["voice_name"]
	if voice != "Zephyr" {
		t.Errorf("voice = %v", voice)
	}
	instr := setup["system_instruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"]
	if instr != "be brief" {
		t.Errorf("system instruction = %v", instr)
	}
}

func TestConnectLiveWithoutAck(t *testing.T) {
	c, _ := fakeLiveServer(t, false, nil)
	if _, err := c.ConnectLive(context.Background(), ai.LiveConfig{Model: "m"}); err == nil {
		t.Fatal("expected error when setup is never acknowledged")
	}
}

func TestConnectLiveDialFailure(t *testing.T) {
	c := &Client{
		apiKey:           "k",
		host:             "127.0.0.1:1",
		scheme:           "ws",
		handshakeTimeout: time.Second,
		logger:           logger.NewNop(),
		dialer:           &websocket.Dialer{HandshakeTimeout: time.Second},
	}
	if _, err := c.ConnectLive(context.Background(), ai.LiveConfig{Model: "m"}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestLiveConnectionEvents(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	c, _ := fakeLiveServer(t, true, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "Pa"},
		}})
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "Hello"},
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{
					"mimeType": "audio/pcm;rate=24000",
					"data":     audio.BytesToTransportText(pcm),
				}},
			}},
		}})
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{"interrupted": true}})
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	})

	conn, err := c.ConnectLive(context.Background(), ai.LiveConfig{Model: "m"})
	if err != nil {
		t.Fatalf("ConnectLive: %v", err)
	}
	defer conn.Close()

	want := []ai.LiveMessageKind{
		ai.MessageInputTranscript,
		ai.MessageOutputTranscript,
		ai.MessageAudio,
		ai.MessageInterrupted,
		ai.MessageTurnComplete,
	}
	for i, kind := range want {
		msg, err := conn.Receive()
		if err != nil {
			t.Fatalf("Receive %d: %v", i, err)
		}
		if msg.Kind != kind {
			t.Fatalf("event %d kind = %v, want %v", i, msg.Kind, kind)
		}
		switch kind {
		case ai.MessageInputTranscript:
			if msg.Text != "Pa" {
				t.Errorf("input text = %q", msg.Text)
			}
		case ai.MessageAudio:
			if string(msg.Audio) != string(pcm) {
				t.Errorf("audio = %v", msg.Audio)
			}
		}
	}

	if _, err := conn.Receive(); !errors.Is(err, io.EOF) {
		t.Fatalf("after clean close err = %v, want EOF", err)
	}
}

func TestLiveConnectionSendAudio(t *testing.T) {
	got := make(chan map[string]any, 1)
	c, _ := fakeLiveServer(t, true, func(conn *websocket.Conn) {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err == nil {
			got <- msg
		}
	})

	conn, err := c.ConnectLive(context.Background(), ai.LiveConfig{Model: "m", InputSampleRate: 16000})
	if err != nil {
		t.Fatalf("ConnectLive: %v", err)
	}
	defer conn.Close()

	chunk := audio.Encode([]float32{0, 0.5}, 16000)
	if err := conn.SendAudio(chunk); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-got:
		raw, _ := json.Marshal(msg)
		if !strings.Contains(string(raw), `"mime_type":"audio/pcm;rate=16000"`) {
			t.Errorf("unexpected realtime input %s", raw)
		}
		if !strings.Contains(string(raw), chunk.Data) {
			t.Errorf("audio payload missing from %s", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received audio")
	}
}

func TestLiveConnectionCloseIdempotent(t *testing.T) {
	c, _ := fakeLiveServer(t, true, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})
	conn, err := c.ConnectLive(context.Background(), ai.LiveConfig{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
	conn.Close()
	if _, err := conn.Receive(); !errors.Is(err, io.EOF) {
		t.Fatalf("Receive after Close err = %v, want EOF", err)
	}
}

func TestToGenaiSchema(t *testing.T) {
	s := &ai.Schema{
		Type:     ai.TypeObject,
		Required: []string{"items"},
		Properties: map[string]*ai.Schema{
			"items": {Type: ai.TypeArray, Items: &ai.Schema{Type: ai.TypeString, Enum: []string{"a", "b"}}},
			"score": {Type: ai.TypeInteger, Description: "0-100"},
		},
	}
	g := toGenaiSchema(s)
	if g.Type != genai.TypeObject {
		t.Fatalf("type = %v", g.Type)
	}
	if len(g.Properties) != 2 || g.Properties["items"].Items == nil {
		t.Fatalf("properties not converted: %+v", g.Properties)
	}
	if got := g.Properties["items"].Items.Enum; len(got) != 2 {
		t.Fatalf("enum = %v", got)
	}
	if g.Properties["score"].Description != "0-100" {
		t.Fatal("description lost")
	}
	if toGenaiSchema(nil) != nil {
		t.Fatal("nil schema should convert to nil")
	}
}
