package encounter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/internal/app"
	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/internal/live"
	"github.com/yegors/clara/internal/records"
	"github.com/yegors/clara/internal/templating"
	"github.com/yegors/clara/pkg/logger"
)

var (
	// ErrNoActivePatient is returned when an operation needs a selected patient
	ErrNoActivePatient = errors.New("no active patient")
	// ErrEmptyTurn is returned for a blank manual entry
	ErrEmptyTurn = errors.New("turn text is empty")
)

const (
	MessageTypeStatus  = "encounter.status"
	MessageTypeLive    = "encounter.live"
	MessageTypeTurn    = "encounter.turn"
	MessageTypeTurns   = "encounter.transcript"
	MessageTypeSpeaker = "encounter.speaker"
)

// Status lines shown while capturing
const (
	StatusListening    = "Microphone live: Listening..."
	StatusFinalized    = "Dialogue segment finalized."
	StatusAwaiting     = "Awaiting clinical input..."
	StatusSessionError = "Session error detected."
)

func transcribingStatus(s clinical.Speaker) string {
	return "Transcribing " + string(s) + "..."
}

// Synthesizer produces the clinical artifact once capture stops
type Synthesizer interface {
	Synthesize(ctx context.Context, patientID string) (clinical.Artifact, error)
}

// Recorder receives encounter metrics
type Recorder interface {
	TurnCommitted()
}

type nopRecorder struct{}

func (nopRecorder) TurnCommitted() {}

// Config holds encounter capture settings
type Config struct {
	Model             string
	DefaultSpeaker    clinical.Speaker
	CaptureSampleRate int
	GraceDelay        time.Duration
	// AwaitingDelay is how long "finalized" stays up before the idle status
	AwaitingDelay time.Duration
}

// Controller runs ambient transcription of a doctor/patient encounter and
// commits finished utterances to the active patient's transcript
type Controller struct {
	cfg      Config
	session  *live.Session
	roster   *records.Roster
	audit    *records.AuditLog
	prompts  *templating.Service
	state    *app.Context
	synth    Synthesizer
	pub      app.Publisher
	recorder Recorder
	now      func() time.Time
	logger   *logger.Logger

	mu      sync.Mutex
	speaker clinical.Speaker
	pending strings.Builder
	running bool
	status  string
	timer   *time.Timer
}

// Deps groups the collaborators of a Controller
type Deps struct {
	Session     *live.Session
	Roster      *records.Roster
	Audit       *records.AuditLog
	Prompts     *templating.Service
	State       *app.Context
	Synthesizer Synthesizer
	Publisher   app.Publisher
	Recorder    Recorder
}

// NewController creates an encounter controller
func NewController(cfg Config, deps Deps, log *logger.Logger) *Controller {
	if cfg.DefaultSpeaker == "" {
		cfg.DefaultSpeaker = clinical.SpeakerPatient
	}
	if cfg.AwaitingDelay <= 0 {
		cfg.AwaitingDelay = 2 * time.Second
	}
	rec := deps.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Controller{
		cfg:      cfg,
		session:  deps.Session,
		roster:   deps.Roster,
		audit:    deps.Audit,
		prompts:  deps.Prompts,
		state:    deps.State,
		synth:    deps.Synthesizer,
		pub:      deps.Publisher,
		recorder: rec,
		now:      time.Now,
		logger:   log.Named("encounter"),
		speaker:  cfg.DefaultSpeaker,
	}
}

// Start opens the transcription session. Device and permission errors are
// returned unchanged.
func (c *Controller) Start(ctx context.Context) error {
	if c.state.ActivePatient() == "" {
		return ErrNoActivePatient
	}
	lang := c.state.Language()
	instruction, err := c.prompts.RenderEncounterInstruction(lang)
	if err != nil {
		return fmt.Errorf("failed to render encounter instruction: %w", err)
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return live.ErrSessionActive
	}
	c.speaker = c.cfg.DefaultSpeaker
	c.pending.Reset()
	c.running = true
	c.mu.Unlock()

	err = c.session.Open(ctx, ai.LiveConfig{
		Model:              c.cfg.Model,
		ResponseModality:   ai.ModalityAudio,
		SystemInstruction:  instruction,
		InputTranscription: true,
		InputSampleRate:    c.cfg.CaptureSampleRate,
	}, live.Handlers{
		OnPartialText:  c.onPartialText,
		OnTurnComplete: c.onTurnComplete,
		OnError:        c.onError,
		OnClosed:       c.onClosed,
	})
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.logger.Error("Failed to start encounter capture", logger.Error(err))
		return err
	}

	if c.Running() {
		c.state.SetEncounterActive(true)
	}
	c.publishSpeaker()
	c.setStatus(StatusListening)
	c.logger.Info("Encounter capture started",
		logger.String("patient_id", c.state.ActivePatient()),
		logger.String("language", lang))
	return nil
}

// Stop ends capture. Uncommitted partial text is discarded.
func (c *Controller) Stop() {
	c.session.Close()
	if c.markStopped() {
		c.logger.Info("Encounter capture stopped")
	}
}

// StopAndSynthesize stops capture, waits out the grace delay and runs
// synthesis for the active patient
func (c *Controller) StopAndSynthesize(ctx context.Context) (clinical.Artifact, error) {
	c.Stop()

	if c.cfg.GraceDelay > 0 {
		select {
		case <-time.After(c.cfg.GraceDelay):
		case <-ctx.Done():
			return clinical.Artifact{}, ctx.Err()
		}
	}

	id := c.state.ActivePatient()
	if id == "" {
		return clinical.Artifact{}, ErrNoActivePatient
	}
	return c.synth.Synthesize(ctx, id)
}

func (c *Controller) markStopped() bool {
	c.mu.Lock()
	was := c.running
	c.running = false
	c.pending.Reset()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	if was {
		c.state.SetEncounterActive(false)
	}
	return was
}

// SetSpeaker selects who is talking. It applies to the next committed turn,
// including text already accumulated.
func (c *Controller) SetSpeaker(s clinical.Speaker) {
	c.mu.Lock()
	c.speaker = s
	c.mu.Unlock()
	c.publishSpeaker()
}

// Speaker returns the current speaker
func (c *Controller) Speaker() clinical.Speaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaker
}

// Status returns the last status line
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Running reports whether capture is live
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// AddManualTurn appends a typed entry, always attributed to the doctor
func (c *Controller) AddManualTurn(text string) (clinical.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return clinical.Turn{}, ErrEmptyTurn
	}
	id := c.state.ActivePatient()
	if id == "" {
		return clinical.Turn{}, ErrNoActivePatient
	}
	turn := clinical.Turn{Speaker: clinical.SpeakerDoctor, Text: text, Timestamp: c.now().UnixMilli()}
	if err := c.commit(id, turn); err != nil {
		return clinical.Turn{}, err
	}
	return turn, nil
}

// SetTurnSpeaker relabels a committed turn
func (c *Controller) SetTurnSpeaker(patientID string, index int, s clinical.Speaker) error {
	if err := c.roster.SetTurnSpeaker(patientID, index, s); err != nil {
		return err
	}
	p, err := c.roster.Get(patientID)
	if err != nil {
		return err
	}
	c.pub.Publish(MessageTypeTurns, map[string]any{
		"patient_id": patientID,
		"encounters": p.Encounters,
	})
	return nil
}

// SetLanguage changes the transcription language. It takes effect on the
// next Start.
func (c *Controller) SetLanguage(lang string) {
	c.state.SetLanguage(lang)
	if _, err := c.audit.Log("Language Changed", lang, records.CategoryConfiguration); err != nil {
		c.logger.Warn("Failed to audit language change", logger.Error(err))
	}
}

func (c *Controller) onPartialText(dir live.Direction, text string) {
	if dir != live.Input {
		return
	}
	c.mu.Lock()
	c.pending.WriteString(text)
	accumulated := c.pending.String()
	speaker := c.speaker
	c.mu.Unlock()

	c.setStatus(transcribingStatus(speaker))
	c.pub.Publish(MessageTypeLive, map[string]any{
		"speaker": speaker,
		"text":    accumulated,
	})
}

func (c *Controller) onTurnComplete() {
	c.mu.Lock()
	text := strings.TrimSpace(c.pending.String())
	c.pending.Reset()
	speaker := c.speaker
	c.mu.Unlock()

	if id := c.state.ActivePatient(); id != "" && text != "" {
		turn := clinical.Turn{Speaker: speaker, Text: text, Timestamp: c.now().UnixMilli()}
		if err := c.commit(id, turn); err != nil {
			c.logger.Error("Failed to commit turn", logger.String("patient_id", id), logger.Error(err))
		}
	}

	c.setStatus(StatusFinalized)
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.AwaitingDelay, func() {
		if c.Running() {
			c.setStatus(StatusAwaiting)
		}
	})
	c.mu.Unlock()
}

func (c *Controller) commit(patientID string, turn clinical.Turn) error {
	if err := c.roster.AppendTurn(patientID, turn); err != nil {
		return err
	}
	c.recorder.TurnCommitted()
	c.logger.Debug("Turn committed",
		logger.String("patient_id", patientID),
		logger.String("speaker", string(turn.Speaker)),
		logger.Int("length", len(turn.Text)))
	c.pub.Publish(MessageTypeTurn, map[string]any{
		"patient_id": patientID,
		"turn":       turn,
	})
	return nil
}

func (c *Controller) onError(err error) {
	c.logger.Error("Encounter session error", logger.Error(err))
	c.markStopped()
	c.setStatus(StatusSessionError)
}

func (c *Controller) onClosed() {
	if c.markStopped() {
		c.logger.Info("Encounter session closed remotely")
	}
}

func (c *Controller) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.pub.Publish(MessageTypeStatus, map[string]any{"status": status})
}

func (c *Controller) publishSpeaker() {
	c.pub.Publish(MessageTypeSpeaker, map[string]any{"speaker": c.Speaker()})
}
