package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/internal/audio"
	"github.com/yegors/clara/pkg/logger"
)

const (
	// DefaultHost is the default host for Gemini API
	DefaultHost = "generativelanguage.googleapis.com"
	// DefaultPath is the WebSocket path for BidiGenerateContent
	DefaultPath = "/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
)

// Config holds connection settings for the Gemini client
type Config struct {
	APIKey           string
	LiveHost         string
	HandshakeTimeout time.Duration
	// BaseURL overrides the REST endpoint used by the genai SDK
	BaseURL string
}

// Client represents a Google Gemini API client. Live sessions use the raw
// BidiGenerateContent websocket, one-shot calls go through the genai SDK.
type Client struct {
	apiKey           string
	host             string
	scheme           string
	handshakeTimeout time.Duration
	logger           *logger.Logger
	dialer           *websocket.Dialer
	genai            *genai.Client
}

// NewClient creates a new Gemini Client
func NewClient(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	host := cfg.LiveHost
	if host == "" {
		host = DefaultHost
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		apiKey:           cfg.APIKey,
		host:             host,
		scheme:           "wss",
		handshakeTimeout: timeout,
		logger:           log.Named("gemini"),
		dialer:           &websocket.Dialer{HandshakeTimeout: timeout},
		genai:            gc,
	}, nil
}

// -- LiveProvider Implementation --

// ConnectLive dials BidiGenerateContent, sends the setup message and waits
// for setupComplete
func (c *Client) ConnectLive(ctx context.Context, cfg ai.LiveConfig) (ai.LiveConnection, error) {
	u := url.URL{
		Scheme: c.scheme,
		Host:   c.host,
		Path:   DefaultPath,
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	c.logger.Info("Connecting to Gemini Live API",
		logger.String("host", c.host),
		logger.String("model", cfg.Model))

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			c.logger.Error("Gemini WebSocket handshake failed",
				logger.Int("status_code", resp.StatusCode),
				logger.String("status", resp.Status))
		}
		return nil, fmt.Errorf("failed to dial Gemini: %w", err)
	}

	if err := conn.WriteJSON(setupMessage(cfg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send setup to Gemini: %w", err)
	}

	if err := c.awaitSetupComplete(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	rate := cfg.InputSampleRate
	if rate <= 0 {
		rate = audio.CaptureSampleRate
	}
	c.logger.Info("Gemini live session ready", logger.String("model", cfg.Model))

	return &LiveConnection{
		conn:     conn,
		logger:   c.logger,
		mimeType: audio.PCMMIMEType(rate),
		textMode: cfg.ResponseModality == ai.ModalityText,
	}, nil
}

func (c *Client) awaitSetupComplete(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(c.handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("gemini setup not acknowledged: %w", err)
		}
		var msg struct {
			SetupComplete *json.RawMessage `json:"setupComplete"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func modelName(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	return "models/" + model
}

func setupMessage(cfg ai.LiveConfig) map[string]any {
	modality := cfg.ResponseModality
	if modality == "" {
		modality = ai.ModalityAudio
	}
	generation := map[string]any{
		"response_modalities": []string{string(modality)},
	}
	if cfg.Voice != "" && modality == ai.ModalityAudio {
		generation["speech_config"] = map[string]any{
			"voice_config": map[string]any{
				"prebuilt_voice_config": map[string]any{
					"voice_name": cfg.Voice,
				},
			},
		}
	}

	setup := map[string]any{
		"model":             modelName(cfg.Model),
		"generation_config": generation,
	}
	if cfg.SystemInstruction != "" {
		setup["system_instruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": cfg.SystemInstruction},
			},
		}
	}
	if cfg.InputTranscription {
		setup["input_audio_transcription"] = map[string]any{}
	}
	if cfg.OutputTranscription {
		setup["output_audio_transcription"] = map[string]any{}
	}
	return map[string]any{"setup": setup}
}

// LiveConnection is an open BidiGenerateContent stream
type LiveConnection struct {
	conn     *websocket.Conn
	logger   *logger.Logger
	mimeType string
	textMode bool

	writeMu sync.Mutex
	pending []ai.LiveMessage

	closeOnce sync.Once
	closed    bool
	closeMu   sync.Mutex
}

// SendAudio sends one capture frame as realtime input
func (c *LiveConnection) SendAudio(chunk audio.EncodedChunk) error {
	mime := chunk.MIMEType
	if mime == "" {
		mime = c.mimeType
	}
	msg := map[string]any{
		"realtime_input": map[string]any{
			"media_chunks": []map[string]any{
				{
					"mime_type": mime,
					"data":      chunk.Data,
				},
			},
		},
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

type serverMessage struct {
	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
		InputTranscription *struct {
			Text string `json:"text"`
		} `json:"inputTranscription"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription"`
		TurnComplete bool `json:"turnComplete"`
		Interrupted  bool `json:"interrupted"`
	} `json:"serverContent"`
}

// Receive returns the next server event in transport order. A single server
// message may carry several events; the rest are queued.
func (c *LiveConnection) Receive() (ai.LiveMessage, error) {
	for len(c.pending) == 0 {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ai.LiveMessage{}, io.EOF
			}
			if c.isClosed() {
				return ai.LiveMessage{}, io.EOF
			}
			return ai.LiveMessage{}, err
		}
		c.pending = c.decode(data)
	}
	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg, nil
}

func (c *LiveConnection) decode(data []byte) []ai.LiveMessage {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("Ignoring undecodable live message", logger.Error(err))
		return nil
	}
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var out []ai.LiveMessage
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out = append(out, ai.LiveMessage{Kind: ai.MessageInputTranscript, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, ai.LiveMessage{Kind: ai.MessageOutputTranscript, Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				pcm, err := audio.TransportTextToBytes(part.InlineData.Data)
				if err != nil {
					c.logger.Warn("Dropping undecodable audio part", logger.Error(err))
					continue
				}
				out = append(out, ai.LiveMessage{Kind: ai.MessageAudio, Audio: pcm})
			}
			if part.Text != "" && c.textMode {
				out = append(out, ai.LiveMessage{Kind: ai.MessageOutputTranscript, Text: part.Text})
			}
		}
	}
	if sc.Interrupted {
		out = append(out, ai.LiveMessage{Kind: ai.MessageInterrupted})
	}
	if sc.TurnComplete {
		out = append(out, ai.LiveMessage{Kind: ai.MessageTurnComplete})
	}
	return out
}

func (c *LiveConnection) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

// Close sends a normal close frame and closes the socket
func (c *LiveConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closed = true
		c.closeMu.Unlock()

		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
