package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/internal/app"
	"github.com/yegors/clara/internal/audio"
	"github.com/yegors/clara/internal/live"
	"github.com/yegors/clara/internal/live/livetest"
	"github.com/yegors/clara/internal/playback"
	"github.com/yegors/clara/internal/records"
	"github.com/yegors/clara/pkg/logger"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Save(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
	return nil
}

func (m *memStore) Load(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, map[string]any) {}

type fakeVoice struct {
	id      string
	at      time.Duration
	done    chan struct{}
	once    sync.Once
	stopped bool
}

func (v *fakeVoice) ID() string            { return v.id }
func (v *fakeVoice) Done() <-chan struct{} { return v.done }
func (v *fakeVoice) Stop() {
	v.once.Do(func() {
		v.stopped = true
		close(v.done)
	})
}

type fakeOutput struct {
	mu     sync.Mutex
	voices []*fakeVoice
}

func (o *fakeOutput) Now() time.Duration { return 0 }

func (o *fakeOutput) Start(buf *playback.Buffer, at time.Duration) (playback.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := &fakeVoice{id: "v", at: at, done: make(chan struct{})}
	o.voices = append(o.voices, v)
	return v, nil
}

func (o *fakeOutput) starts() []time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]time.Duration, len(o.voices))
	for i, v := range o.voices {
		out[i] = v.at
	}
	return out
}

type fakeChat struct {
	reply    string
	err      error
	messages []ai.ChatMessage
	cfg      ai.ChatConfig
}

func (f *fakeChat) ChatCompletion(ctx context.Context, msgs []ai.ChatMessage, cfg ai.ChatConfig) (string, error) {
	f.messages = msgs
	f.cfg = cfg
	return f.reply, f.err
}

type fixture struct {
	ctrl      *Controller
	audit     *records.AuditLog
	state     *app.Context
	source    *livetest.Source
	provider  *livetest.Provider
	output    *fakeOutput
	scheduler *playback.Scheduler
	chat      *fakeChat
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()
	audit, _ := records.NewAuditLog(&memStore{}, log)
	state := app.NewContext("English", nopPublisher{}, log)
	out := &fakeOutput{}
	f := &fixture{
		audit:     audit,
		state:     state,
		source:    &livetest.Source{},
		provider:  livetest.NewProvider(),
		output:    out,
		scheduler: playback.NewScheduler(out, log),
		chat:      &fakeChat{reply: "Check renal function first."},
	}
	f.ctrl = NewController(Config{
		Model:              "live-model",
		Voice:              "Zephyr",
		SystemPrompt:       "You are CLARA.",
		ChatModel:          "chat-model",
		ChatSystemPrompt:   "You are CLARA, an advanced clinical assistant.",
		PlaybackSampleRate: 24000,
	}, Deps{
		Session:   live.NewSession("assistant", f.source, f.provider, log),
		Scheduler: f.scheduler,
		Chat:      f.chat,
		Audit:     audit,
		State:     state,
		Publisher: nopPublisher{},
	}, log)
	return f
}

func (f *fixture) start(t *testing.T) *livetest.Conn {
	t.Helper()
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := f.provider.NextConn(time.Second)
	if conn == nil {
		t.Fatal("no live connection")
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// pcm returns n samples of 24 kHz mono PCM16
func pcm(n int) []byte {
	return audio.FloatsToPCM16(make([]float32, n))
}

func TestStartConfiguresDialogue(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	defer f.ctrl.Stop()

	cfg := f.provider.Configs()[0]
	if cfg.Voice != "Zephyr" || !cfg.InputTranscription || !cfg.OutputTranscription {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.ResponseModality != ai.ModalityAudio || cfg.SystemInstruction != "You are CLARA." {
		t.Fatalf("config = %+v", cfg)
	}
	if f.ctrl.Status() != StatusEstablished || !f.state.Snapshot().AssistantActive {
		t.Fatal("assistant not marked active")
	}
}

func TestAudioChunksPlayBackToBack(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)
	defer f.ctrl.Stop()

	conn.Emit(ai.LiveMessage{Kind: ai.MessageAudio, Audio: pcm(480)})
	conn.Emit(ai.LiveMessage{Kind: ai.MessageAudio, Audio: pcm(240)})
	waitFor(t, func() bool { return len(f.output.starts()) == 2 })

	starts := f.output.starts()
	if starts[0] != 0 || starts[1] != 20*time.Millisecond {
		t.Fatalf("starts = %v", starts)
	}
	if got := f.scheduler.NextStartTime(); got != 30*time.Millisecond {
		t.Fatalf("cursor = %v", got)
	}
	if f.ctrl.Status() != StatusResponding {
		t.Fatalf("status = %q", f.ctrl.Status())
	}
}

func TestInterruptedStopsPlayback(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)
	defer f.ctrl.Stop()

	conn.Emit(ai.LiveMessage{Kind: ai.MessageAudio, Audio: pcm(2400)})
	conn.Emit(ai.LiveMessage{Kind: ai.MessageAudio, Audio: pcm(2400)})
	waitFor(t, func() bool { return f.scheduler.Active() == 2 })

	conn.Emit(ai.LiveMessage{Kind: ai.MessageInterrupted})
	waitFor(t, func() bool { return f.ctrl.Status() == StatusListening })

	if f.scheduler.Active() != 0 || f.scheduler.NextStartTime() != 0 {
		t.Fatal("playback not cleared on interruption")
	}
	for _, v := range f.output.voices {
		if !v.stopped {
			t.Fatal("voice not stopped")
		}
	}
}

func TestTranscriptionFeed(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)
	defer f.ctrl.Stop()

	conn.Text(ai.MessageInputTranscript, "Interaction between ")
	conn.Text(ai.MessageInputTranscript, "warfarin and aspirin?")
	conn.Text(ai.MessageOutputTranscript, "Bleeding risk ")
	conn.Text(ai.MessageOutputTranscript, "increases.")
	waitFor(t, func() bool {
		feed := f.ctrl.Feed()
		return len(feed) == 2 && feed[1].Text == "Bleeding risk increases."
	})

	feed := f.ctrl.Feed()
	if feed[0].Role != RoleUser || feed[0].Text != "Interaction between warfarin and aspirin?" || !feed[0].Live {
		t.Fatalf("user entry = %+v", feed[0])
	}
	if feed[1].Role != RoleAI || !feed[1].Live {
		t.Fatalf("ai entry = %+v", feed[1])
	}

	conn.Emit(ai.LiveMessage{Kind: ai.MessageTurnComplete})
	waitFor(t, func() bool { return f.ctrl.Status() == StatusReady })
	for _, e := range f.ctrl.Feed() {
		if e.Live {
			t.Fatal("entries still live after turn complete")
		}
	}

	conn.Text(ai.MessageInputTranscript, "Next question")
	waitFor(t, func() bool { return len(f.ctrl.Feed()) == 3 })
}

func TestStopCleansUpOnce(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)
	conn.Emit(ai.LiveMessage{Kind: ai.MessageAudio, Audio: pcm(2400)})
	waitFor(t, func() bool { return f.scheduler.Active() == 1 })

	f.ctrl.Stop()
	f.ctrl.Stop()

	if f.source.Held() != 0 || f.scheduler.Active() != 0 {
		t.Fatal("resources left after stop")
	}
	events := f.audit.List()
	if len(events) != 1 {
		t.Fatalf("audit events = %d", len(events))
	}
	if ev := events[0]; ev.Action != "Voice Session Ended" || ev.Resource != "Assistant Hub" || ev.Category != records.CategoryInfo {
		t.Fatalf("audit = %+v", ev)
	}
	if f.state.Snapshot().AssistantActive {
		t.Fatal("assistant still marked active")
	}
}

func TestRemoteCloseRunsCleanup(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)

	conn.RemoteClose()
	waitFor(t, func() bool { return !f.ctrl.Running() })
	waitFor(t, func() bool { return f.source.Held() == 0 })
	if len(f.audit.List()) != 1 {
		t.Fatal("session end not audited")
	}
}

func TestTransportErrorRunsCleanup(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)

	conn.Fail(errors.New("reset by peer"))
	waitFor(t, func() bool { return !f.ctrl.Running() })
	if len(f.audit.List()) != 1 {
		t.Fatal("session end not audited once")
	}
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Stop()
	if len(f.audit.List()) != 0 {
		t.Fatal("stop without a session should not audit")
	}
}

func TestSendText(t *testing.T) {
	f := newFixture(t)
	entry, err := f.ctrl.SendText(context.Background(), "  Dose for CKD stage 3? ")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Text != "Check renal function first." || entry.Role != RoleAI {
		t.Fatalf("entry = %+v", entry)
	}
	if f.chat.cfg.Model != "chat-model" || len(f.chat.messages) != 2 || f.chat.messages[1].Content != "Dose for CKD stage 3?" {
		t.Fatalf("chat request = %+v %+v", f.chat.cfg, f.chat.messages)
	}
	if feed := f.ctrl.Feed(); len(feed) != 2 || feed[0].Role != RoleUser {
		t.Fatalf("feed = %+v", feed)
	}
}

func TestSendTextFallback(t *testing.T) {
	f := newFixture(t)
	f.chat.err = errors.New("deadline exceeded")

	entry, err := f.ctrl.SendText(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if entry.Text != ChatFallback {
		t.Fatalf("entry = %+v", entry)
	}
	feed := f.ctrl.Feed()
	if feed[len(feed)-1].Text != ChatFallback {
		t.Fatal("fallback not in feed")
	}
}

func TestSendTextEmpty(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.SendText(context.Background(), "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v", err)
	}
}

func TestFeedCapped(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < MaxFeedEntries; i++ {
		f.ctrl.SendText(context.Background(), "q")
	}
	if n := len(f.ctrl.Feed()); n != MaxFeedEntries {
		t.Fatalf("feed len = %d", n)
	}
}

func TestStartWhileRunningKeepsSession(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)

	conn.Emit(ai.LiveMessage{Kind: ai.MessageAudio, Audio: pcm(2400)})
	waitFor(t, func() bool { return f.scheduler.Active() == 1 })

	if err := f.ctrl.Start(context.Background()); !errors.Is(err, live.ErrSessionActive) {
		t.Fatalf("second Start err = %v, want ErrSessionActive", err)
	}
	if !f.ctrl.Running() || f.ctrl.session.State() != live.StateOpen {
		t.Fatal("second Start disturbed the running session")
	}
	if f.scheduler.Active() != 1 {
		t.Fatalf("active voices = %d, want 1", f.scheduler.Active())
	}

	f.ctrl.Stop()
	if f.state.Snapshot().AssistantActive {
		t.Fatal("assistant still marked active after Stop")
	}
	ended := 0
	for _, e := range f.audit.List() {
		if e.Action == "Voice Session Ended" {
			ended++
		}
	}
	if ended != 1 {
		t.Fatalf("Voice Session Ended audited %d times, want 1", ended)
	}
}
