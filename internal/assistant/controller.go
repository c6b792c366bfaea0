package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/internal/app"
	"github.com/yegors/clara/internal/audio"
	"github.com/yegors/clara/internal/live"
	"github.com/yegors/clara/internal/playback"
	"github.com/yegors/clara/internal/records"
	"github.com/yegors/clara/pkg/logger"
)

// ErrEmptyMessage is returned by SendText for blank input
var ErrEmptyMessage = errors.New("message is empty")

const (
	MessageTypeStatus = "assistant.status"
	MessageTypeFeed   = "assistant.feed"
)

// Status lines shown while the voice session runs
const (
	StatusEstablished = "Voice Link Established: Listening..."
	StatusResponding  = "CLARA is responding..."
	StatusListening   = "Listening..."
	StatusReady       = "Ready for next query."
)

// ChatFallback replaces the reply when typed chat fails
const ChatFallback = "Consultation timed out."

// MaxFeedEntries caps the dialogue feed
const MaxFeedEntries = 200

// Feed roles
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// FeedEntry is one bubble of the assistant dialogue feed. Live entries are
// still receiving streamed transcription.
type FeedEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
	Live bool   `json:"live"`
}

// Config holds assistant settings
type Config struct {
	Model              string
	Voice              string
	SystemPrompt       string
	ChatModel          string
	ChatSystemPrompt   string
	CaptureSampleRate  int
	PlaybackSampleRate int
}

// Controller runs the spoken assistant session and typed consultations
type Controller struct {
	cfg       Config
	session   *live.Session
	scheduler *playback.Scheduler
	chat      ai.ChatProvider
	audit     *records.AuditLog
	state     *app.Context
	pub       app.Publisher
	logger    *logger.Logger

	mu      sync.Mutex
	running bool
	status  string
	feed    []FeedEntry
}

// Deps groups the collaborators of a Controller
type Deps struct {
	Session   *live.Session
	Scheduler *playback.Scheduler
	Chat      ai.ChatProvider
	Audit     *records.AuditLog
	State     *app.Context
	Publisher app.Publisher
}

// NewController creates an assistant controller
func NewController(cfg Config, deps Deps, log *logger.Logger) *Controller {
	if cfg.PlaybackSampleRate <= 0 {
		cfg.PlaybackSampleRate = audio.PlaybackSampleRate
	}
	return &Controller{
		cfg:       cfg,
		session:   deps.Session,
		scheduler: deps.Scheduler,
		chat:      deps.Chat,
		audit:     deps.Audit,
		state:     deps.State,
		pub:       deps.Publisher,
		logger:    log.Named("assistant"),
	}
}

// Start opens the voice session
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return live.ErrSessionActive
	}
	c.running = true
	c.mu.Unlock()

	c.scheduler.InterruptAll()

	err := c.session.Open(ctx, ai.LiveConfig{
		Model:               c.cfg.Model,
		ResponseModality:    ai.ModalityAudio,
		Voice:               c.cfg.Voice,
		SystemInstruction:   c.cfg.SystemPrompt,
		InputTranscription:  true,
		OutputTranscription: true,
		InputSampleRate:     c.cfg.CaptureSampleRate,
	}, live.Handlers{
		OnPartialText:  c.onPartialText,
		OnAudioChunk:   c.onAudioChunk,
		OnTurnComplete: c.onTurnComplete,
		OnInterrupted:  c.onInterrupted,
		OnError:        c.onError,
		OnClosed:       c.onClosed,
	})
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.logger.Error("Failed to start voice session", logger.Error(err))
		return err
	}

	if c.Running() {
		c.state.SetAssistantActive(true)
	}
	c.setStatus(StatusEstablished)
	c.logger.Info("Voice session started", logger.String("voice", c.cfg.Voice))
	return nil
}

// Stop ends the voice session and silences any queued playback
func (c *Controller) Stop() {
	c.session.Close()
	c.teardown()
}

func (c *Controller) teardown() {
	c.scheduler.InterruptAll()

	c.mu.Lock()
	was := c.running
	c.running = false
	c.finalizeLocked()
	c.mu.Unlock()

	if !was {
		return
	}
	c.state.SetAssistantActive(false)
	c.publishFeed()
	if _, err := c.audit.Log("Voice Session Ended", "Assistant Hub", records.CategoryInfo); err != nil {
		c.logger.Warn("Failed to audit voice session end", logger.Error(err))
	}
	c.logger.Info("Voice session ended")
}

// Running reports whether the voice session is live
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status returns the last status line
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Feed returns a copy of the dialogue feed
func (c *Controller) Feed() []FeedEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FeedEntry{}, c.feed...)
}

// SendText asks the chat model a typed question. When the model call fails
// the fallback reply is added to the feed and the error is returned.
func (c *Controller) SendText(ctx context.Context, text string) (FeedEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return FeedEntry{}, ErrEmptyMessage
	}
	c.appendEntry(FeedEntry{Role: RoleUser, Text: text})

	reply, err := c.chat.ChatCompletion(ctx, []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: c.cfg.ChatSystemPrompt},
		{Role: ai.RoleUser, Content: text},
	}, ai.ChatConfig{Model: c.cfg.ChatModel})

	if err != nil {
		c.logger.Error("Assistant consultation failed", logger.Error(err))
		entry := FeedEntry{Role: RoleAI, Text: ChatFallback}
		c.appendEntry(entry)
		return entry, fmt.Errorf("assistant consultation failed: %w", err)
	}
	entry := FeedEntry{Role: RoleAI, Text: reply}
	c.appendEntry(entry)
	return entry, nil
}

func (c *Controller) appendEntry(e FeedEntry) {
	c.mu.Lock()
	c.feed = append(c.feed, e)
	c.trimLocked()
	c.mu.Unlock()
	c.publishFeed()
}

func (c *Controller) onPartialText(dir live.Direction, text string) {
	role := RoleUser
	if dir == live.Output {
		role = RoleAI
	}
	c.mu.Lock()
	if i := c.liveIndexLocked(role); i >= 0 {
		c.feed[i].Text += text
	} else {
		c.feed = append(c.feed, FeedEntry{Role: role, Text: text, Live: true})
		c.trimLocked()
	}
	c.mu.Unlock()
	c.publishFeed()
}

func (c *Controller) onAudioChunk(pcm []byte) {
	buf := &playback.Buffer{
		Channels:   audio.PCM16ToFloats(pcm, 1),
		SampleRate: c.cfg.PlaybackSampleRate,
	}
	c.setStatus(StatusResponding)
	if _, err := c.scheduler.Schedule(buf); err != nil {
		c.logger.Error("Failed to schedule assistant audio", logger.Error(err))
	}
}

func (c *Controller) onInterrupted() {
	stopped := c.scheduler.InterruptAll()
	c.logger.Debug("Assistant interrupted", logger.Int("stopped", stopped))
	c.setStatus(StatusListening)
}

func (c *Controller) onTurnComplete() {
	c.mu.Lock()
	c.finalizeLocked()
	c.mu.Unlock()
	c.publishFeed()
	c.setStatus(StatusReady)
}

func (c *Controller) onError(err error) {
	c.logger.Error("Voice session error", logger.Error(err))
	c.teardown()
}

func (c *Controller) onClosed() {
	c.teardown()
}

func (c *Controller) liveIndexLocked(role string) int {
	for i := len(c.feed) - 1; i >= 0; i-- {
		if c.feed[i].Live && c.feed[i].Role == role {
			return i
		}
	}
	return -1
}

func (c *Controller) finalizeLocked() {
	for i := range c.feed {
		c.feed[i].Live = false
	}
}

func (c *Controller) trimLocked() {
	if over := len(c.feed) - MaxFeedEntries; over > 0 {
		c.feed = append([]FeedEntry(nil), c.feed[over:]...)
	}
}

func (c *Controller) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.pub.Publish(MessageTypeStatus, map[string]any{"status": status})
}

func (c *Controller) publishFeed() {
	c.pub.Publish(MessageTypeFeed, map[string]any{"feed": c.Feed()})
}
