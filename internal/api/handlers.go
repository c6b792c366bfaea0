package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/yegors/clara/internal/app"
	"github.com/yegors/clara/internal/assistant"
	"github.com/yegors/clara/internal/capture"
	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/internal/config"
	"github.com/yegors/clara/internal/encounter"
	"github.com/yegors/clara/internal/live"
	"github.com/yegors/clara/internal/records"
	"github.com/yegors/clara/internal/synthesis"
	"github.com/yegors/clara/pkg/logger"
)

// EncounterController drives ambient transcription for the active patient
type EncounterController interface {
	Start(ctx context.Context) error
	Stop()
	StopAndSynthesize(ctx context.Context) (clinical.Artifact, error)
	SetSpeaker(s clinical.Speaker)
	Speaker() clinical.Speaker
	Status() string
	Running() bool
	AddManualTurn(text string) (clinical.Turn, error)
	SetTurnSpeaker(patientID string, index int, s clinical.Speaker) error
	SetLanguage(lang string)
}

// AssistantController drives the voice assistant hub and typed chat
type AssistantController interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Status() string
	Feed() []assistant.FeedEntry
	SendText(ctx context.Context, text string) (assistant.FeedEntry, error)
}

// Synthesizer produces clinical artifacts and nearby-care results
type Synthesizer interface {
	Synthesize(ctx context.Context, patientID string) (clinical.Artifact, error)
	FindNearbyCare(ctx context.Context, patientID string) (clinical.NearbyCare, error)
}

// LocationReporter accepts browser geolocation results
type LocationReporter interface {
	Report(lat, lon float64)
	Deny()
}

// Handler contains the API handlers
type Handler struct {
	roster     *records.Roster
	audit      *records.AuditLog
	state      *app.Context
	encounter  EncounterController
	assistant  AssistantController
	synthesis  Synthesizer
	locator    LocationReporter // nil when a static location is configured
	config     *config.Config
	logger     *logger.Logger
	startedAt  time.Time
	seedSource func() []clinical.Patient
}

// Deps groups the services the handlers call into
type Deps struct {
	Roster    *records.Roster
	Audit     *records.AuditLog
	State     *app.Context
	Encounter EncounterController
	Assistant AssistantController
	Synthesis Synthesizer
	Locator   LocationReporter
	// Seed produces the demo roster
	Seed func() []clinical.Patient
}

// NewHandler creates a new API handler
func NewHandler(deps Deps, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		roster:     deps.Roster,
		audit:      deps.Audit,
		state:      deps.State,
		encounter:  deps.Encounter,
		assistant:  deps.Assistant,
		synthesis:  deps.Synthesis,
		locator:    deps.Locator,
		config:     cfg,
		logger:     log.Named("api-handler"),
		startedAt:  time.Now(),
		seedSource: deps.Seed,
	}
}

// GetHealth returns service health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Snapshot()
	response := map[string]interface{}{
		"status":           "ok",
		"uptime_seconds":   int(time.Since(h.startedAt).Seconds()),
		"patient_count":    len(h.roster.List()),
		"encounter_active": snap.EncounterActive,
		"assistant_active": snap.AssistantActive,
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetConfig returns the public configuration
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	// Create a sanitized config with only public values
	publicConfig := map[string]interface{}{
		"encounter": map[string]interface{}{
			"model":               h.config.Encounter.Model,
			"default_language":    h.config.Encounter.DefaultLanguage,
			"default_speaker":     h.config.Encounter.DefaultSpeaker,
			"capture_sample_rate": h.config.Encounter.CaptureSampleRate,
			"frame_samples":       h.config.Encounter.FrameSamples,
		},
		"assistant": map[string]interface{}{
			"model":                h.config.Assistant.Model,
			"voice":                h.config.Assistant.Voice,
			"chat_provider":        h.config.Assistant.ChatProvider,
			"playback_sample_rate": h.config.Assistant.PlaybackSampleRate,
		},
		"synthesis": map[string]interface{}{
			"model": h.config.Synthesis.Model,
		},
		"nearby_care": map[string]interface{}{
			"model": h.config.NearbyCare.Model,
		},
		"geolocation": map[string]interface{}{
			"timeout_millis": h.config.Geolocation.TimeoutMillis,
			"max_age_secs":   h.config.Geolocation.MaxAgeSecs,
			"static":         h.config.Geolocation.Latitude != nil && h.config.Geolocation.Longitude != nil,
		},
		"capture": map[string]interface{}{
			"source": h.config.Capture.Source,
		},
		"playback": map[string]interface{}{
			"sink": h.config.Playback.Sink,
		},
		"gemini_configured": h.config.Gemini.APIKey != "",
	}

	WriteJSON(w, http.StatusOK, publicConfig)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError maps domain errors onto HTTP status codes
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", logger.String("op", op), logger.Error(err))
	} else {
		h.logger.Debug("Request rejected",
			logger.String("op", op),
			logger.Int("status", status),
			logger.Error(err))
	}
	WriteJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, records.ErrPatientNotFound),
		errors.Is(err, records.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, encounter.ErrEmptyTurn),
		errors.Is(err, assistant.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, encounter.ErrNoActivePatient),
		errors.Is(err, live.ErrSessionActive),
		errors.Is(err, live.ErrClosedWhileConnecting),
		errors.Is(err, capture.ErrPermissionDenied),
		errors.Is(err, capture.ErrDeviceUnavailable),
		errors.Is(err, capture.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, synthesis.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, synthesis.ErrMalformedSynthesis),
		errors.Is(err, synthesis.ErrSearchUnavailable),
		errors.Is(err, live.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// decodeBody decodes a JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
