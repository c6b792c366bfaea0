package encounter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/internal/app"
	"github.com/yegors/clara/internal/capture"
	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/internal/live"
	"github.com/yegors/clara/internal/live/livetest"
	"github.com/yegors/clara/internal/records"
	"github.com/yegors/clara/internal/templating"
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
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Load(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
	data  []map[string]any
}

func (p *recordingPublisher) Publish(msgType string, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, msgType)
	p.data = append(p.data, data)
}

func (p *recordingPublisher) last(msgType string) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.types) - 1; i >= 0; i-- {
		if p.types[i] == msgType {
			return p.data[i]
		}
	}
	return nil
}

type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeSynth) Synthesize(ctx context.Context, id string) (clinical.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return clinical.Artifact{Summary: "done"}, f.err
}

type countingRecorder struct {
	mu sync.Mutex
	n  int
}

func (r *countingRecorder) TurnCommitted() {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
}

type fixture struct {
	ctrl     *Controller
	roster   *records.Roster
	audit    *records.AuditLog
	state    *app.Context
	pub      *recordingPublisher
	source   *livetest.Source
	provider *livetest.Provider
	synth    *fakeSynth
	recorder *countingRecorder
	patient  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()
	store := &memStore{}
	roster, _ := records.NewRoster(store, log)
	audit, _ := records.NewAuditLog(store, log)
	pub := &recordingPublisher{}
	state := app.NewContext("English", pub, log)
	src := &livetest.Source{}
	prov := livetest.NewProvider()

	f := &fixture{
		roster:   roster,
		audit:    audit,
		state:    state,
		pub:      pub,
		source:   src,
		provider: prov,
		synth:    &fakeSynth{},
		recorder: &countingRecorder{},
	}
	f.ctrl = NewController(Config{
		Model:             "live-model",
		CaptureSampleRate: 16000,
		GraceDelay:        10 * time.Millisecond,
	}, Deps{
		Session:     live.NewSession("encounter", src, prov, log),
		Roster:      roster,
		Audit:       audit,
		Prompts:     templating.NewService(templating.Paths{}, log),
		State:       state,
		Synthesizer: f.synth,
		Publisher:   pub,
		Recorder:    f.recorder,
	}, log)

	p, err := roster.Create(clinical.Patient{Name: "Chloe Dupont"})
	if err != nil {
		t.Fatal(err)
	}
	f.patient = p.ID
	state.SetActivePatient(p.ID)
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

func (f *fixture) turns(t *testing.T) []clinical.Turn {
	t.Helper()
	p, err := f.roster.Get(f.patient)
	if err != nil {
		t.Fatal(err)
	}
	return p.Encounters
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

func TestStartConfiguresTranscription(t *testing.T) {
	f := newFixture(t)
	f.ctrl.SetSpeaker(clinical.SpeakerDoctor)
	f.start(t)
	defer f.ctrl.Stop()

	cfg := f.provider.Configs()[0]
	if cfg.Model != "live-model" || cfg.ResponseModality != ai.ModalityAudio {
		t.Fatalf("config = %+v", cfg)
	}
	if !cfg.InputTranscription || cfg.OutputTranscription {
		t.Fatal("encounter must request input transcription only")
	}
	if !strings.HasSuffix(cfg.SystemInstruction, "The audio may be in English.") {
		t.Fatalf("instruction = %q", cfg.SystemInstruction)
	}
	if f.ctrl.Speaker() != clinical.SpeakerPatient {
		t.Fatal("Start must reset the speaker to Patient")
	}
	if f.ctrl.Status() != StatusListening {
		t.Fatalf("status = %q", f.ctrl.Status())
	}
	if !f.state.Snapshot().EncounterActive {
		t.Fatal("encounter not marked active")
	}
}

func TestPartialTextCommitsOneTrimmedTurn(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)
	defer f.ctrl.Stop()

	conn.Text(ai.MessageInputTranscript, "  Pa")
	conn.Text(ai.MessageInputTranscript, "tient reports pain ")
	waitFor(t, func() bool {
		live := f.pub.last(MessageTypeLive)
		return live != nil && live["text"] == "  Patient reports pain "
	})
	if len(f.turns(t)) != 0 {
		t.Fatal("partial text must not be persisted")
	}

	f.ctrl.SetSpeaker(clinical.SpeakerDoctor)
	conn.Emit(ai.LiveMessage{Kind: ai.MessageTurnComplete})
	waitFor(t, func() bool { return len(f.turns(t)) == 1 })

	turn := f.turns(t)[0]
	if turn.Text != "Patient reports pain" {
		t.Fatalf("text = %q", turn.Text)
	}
	if turn.Speaker != clinical.SpeakerDoctor {
		t.Fatalf("speaker = %q, want the speaker at commit time", turn.Speaker)
	}
	if turn.Timestamp == 0 {
		t.Fatal("timestamp not set")
	}
	waitFor(t, func() bool { return f.ctrl.Status() == StatusFinalized })
}

func TestEmptyAccumulatorCommitsNothing(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)
	defer f.ctrl.Stop()

	conn.Text(ai.MessageInputTranscript, "   ")
	conn.Emit(ai.LiveMessage{Kind: ai.MessageTurnComplete})
	conn.Emit(ai.LiveMessage{Kind: ai.MessageTurnComplete})
	waitFor(t, func() bool { return f.ctrl.Status() == StatusFinalized })

	if n := len(f.turns(t)); n != 0 {
		t.Fatalf("committed %d turns", n)
	}
	if f.recorder.n != 0 {
		t.Fatal("recorder counted an empty commit")
	}
}

func TestAccumulatorClearedBetweenTurns(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)
	defer f.ctrl.Stop()

	conn.Text(ai.MessageInputTranscript, "first")
	conn.Emit(ai.LiveMessage{Kind: ai.MessageTurnComplete})
	conn.Text(ai.MessageInputTranscript, "second")
	conn.Emit(ai.LiveMessage{Kind: ai.MessageTurnComplete})
	waitFor(t, func() bool { return len(f.turns(t)) == 2 })

	turns := f.turns(t)
	if turns[0].Text != "first" || turns[1].Text != "second" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestTranscribingStatusNamesSpeaker(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)
	defer f.ctrl.Stop()

	conn.Text(ai.MessageInputTranscript, "hello")
	waitFor(t, func() bool { return f.ctrl.Status() == "Transcribing Patient..." })
}

func TestOutputTranscriptIgnored(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)
	defer f.ctrl.Stop()

	conn.Text(ai.MessageOutputTranscript, "model chatter")
	conn.Emit(ai.LiveMessage{Kind: ai.MessageTurnComplete})
	waitFor(t, func() bool { return f.ctrl.Status() == StatusFinalized })
	if len(f.turns(t)) != 0 {
		t.Fatal("output transcription committed")
	}
}

func TestSessionErrorStatus(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)

	conn.Fail(errors.New("socket reset"))
	waitFor(t, func() bool { return f.ctrl.Status() == StatusSessionError })
	waitFor(t, func() bool { return !f.ctrl.Running() })
	waitFor(t, func() bool { return f.source.Held() == 0 })
	if f.state.Snapshot().EncounterActive {
		t.Fatal("encounter still marked active")
	}
}

func TestStartPropagatesDeviceErrors(t *testing.T) {
	f := newFixture(t)
	f.source.Err = capture.ErrPermissionDenied

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
	if f.ctrl.Running() {
		t.Fatal("controller running after failed start")
	}
}

func TestStartRequiresActivePatient(t *testing.T) {
	f := newFixture(t)
	f.state.SetActivePatient("")
	if err := f.ctrl.Start(context.Background()); !errors.Is(err, ErrNoActivePatient) {
		t.Fatalf("err = %v", err)
	}
}

func TestStopReleasesDevice(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)
	f.ctrl.Stop()
	f.ctrl.Stop()

	if f.source.Held() != 0 || !conn.IsClosed() {
		t.Fatal("stop did not release resources")
	}
	if f.state.Snapshot().EncounterActive {
		t.Fatal("encounter still marked active")
	}
}

func TestStopAndSynthesize(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	if _, err := f.ctrl.StopAndSynthesize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.source.Held() != 0 {
		t.Fatal("device held during synthesis")
	}
	if len(f.synth.calls) != 1 || f.synth.calls[0] != f.patient {
		t.Fatalf("synth calls = %v", f.synth.calls)
	}
}

func TestStopAndSynthesizeCancelled(t *testing.T) {
	f := newFixture(t)
	f.ctrl.cfg.GraceDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.ctrl.StopAndSynthesize(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(f.synth.calls) != 0 {
		t.Fatal("synthesis ran after cancellation")
	}
}

func TestAddManualTurn(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.AddManualTurn("   "); !errors.Is(err, ErrEmptyTurn) {
		t.Fatalf("err = %v", err)
	}
	turn, err := f.ctrl.AddManualTurn("  BP 150/90 ")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Speaker != clinical.SpeakerDoctor || turn.Text != "BP 150/90" {
		t.Fatalf("turn = %+v", turn)
	}
	if len(f.turns(t)) != 1 {
		t.Fatal("manual turn not persisted")
	}
}

func TestSetTurnSpeaker(t *testing.T) {
	f := newFixture(t)
	f.ctrl.AddManualTurn("hello")

	if err := f.ctrl.SetTurnSpeaker(f.patient, 0, clinical.SpeakerPatient); err != nil {
		t.Fatal(err)
	}
	if f.turns(t)[0].Speaker != clinical.SpeakerPatient {
		t.Fatal("speaker not relabelled")
	}
	if err := f.ctrl.SetTurnSpeaker(f.patient, 5, clinical.SpeakerPatient); !errors.Is(err, records.ErrTurnNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSetLanguageAudits(t *testing.T) {
	f := newFixture(t)
	f.ctrl.SetLanguage("Hindi")

	if f.state.Language() != "Hindi" {
		t.Fatal("language not stored")
	}
	ev := f.audit.List()[0]
	if ev.Action != "Language Changed" || ev.Resource != "Hindi" || ev.Category != records.CategoryConfiguration {
		t.Fatalf("audit = %+v", ev)
	}
}

func TestStartWhileRunningKeepsPendingTurn(t *testing.T) {
	f := newFixture(t)
	conn := f.start(t)

	conn.Text(ai.MessageInputTranscript, "Pa")
	waitFor(t, func() bool {
		live := f.pub.last(MessageTypeLive)
		return live != nil && live["text"] == "Pa"
	})
	f.ctrl.SetSpeaker(clinical.SpeakerDoctor)

	if err := f.ctrl.Start(context.Background()); !errors.Is(err, live.ErrSessionActive) {
		t.Fatalf("second Start err = %v, want ErrSessionActive", err)
	}
	if !f.ctrl.Running() || f.ctrl.Speaker() != clinical.SpeakerDoctor {
		t.Fatal("second Start reset the running encounter")
	}

	conn.Text(ai.MessageInputTranscript, "tient reports pain")
	conn.Emit(ai.LiveMessage{Kind: ai.MessageTurnComplete})
	waitFor(t, func() bool { return len(f.turns(t)) == 1 })
	if turn := f.turns(t)[0]; turn.Text != "Patient reports pain" || turn.Speaker != clinical.SpeakerDoctor {
		t.Fatalf("turn = %+v", turn)
	}

	f.ctrl.Stop()
	if f.state.Snapshot().EncounterActive {
		t.Fatal("encounter still marked active after Stop")
	}
}

func TestStartCarriesLanguageInInstruction(t *testing.T) {
	f := newFixture(t)
	f.ctrl.SetLanguage("Spanish")
	f.start(t)
	defer f.ctrl.Stop()

	cfg := f.provider.Configs()[0]
	if !strings.HasSuffix(cfg.SystemInstruction, "The audio may be in Spanish.") {
		t.Fatalf("instruction = %q", cfg.SystemInstruction)
	}
}
