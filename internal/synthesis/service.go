package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/internal/app"
	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/internal/geo"
	"github.com/yegors/clara/internal/records"
	"github.com/yegors/clara/internal/templating"
	"github.com/yegors/clara/pkg/logger"
)

var (
	// ErrInsufficientData is returned when a patient has no transcript turns
	ErrInsufficientData = errors.New("dialogue data required for synthesis")
	// ErrMalformedSynthesis is returned when the model output does not parse
	// or lacks required fields
	ErrMalformedSynthesis = errors.New("malformed synthesis response")
	// ErrSearchUnavailable is returned when the grounded search fails
	ErrSearchUnavailable = errors.New("nearby-care search unavailable")
)

// MessageTypeSynthesisComplete is published after an artifact is applied
const MessageTypeSynthesisComplete = "synthesis.complete"

// Failure reasons reported to the Recorder
const (
	ReasonNone      = ""
	ReasonNoData    = "insufficient_data"
	ReasonPrompt    = "prompt"
	ReasonProvider  = "provider"
	ReasonMalformed = "malformed"
	ReasonPersist   = "persist"
)

// Recorder receives synthesis metrics
type Recorder interface {
	SynthesisStarted()
	SynthesisFinished(elapsed time.Duration, reason string)
	NearbyCareFailed()
}

type nopRecorder struct{}

func (nopRecorder) SynthesisStarted()                      {}
func (nopRecorder) SynthesisFinished(time.Duration, string) {}
func (nopRecorder) NearbyCareFailed()                      {}

// Config holds the models and messages used by the Service
type Config struct {
	Model           string
	NearbyCareModel string
	FallbackMessage string
	// SearchTimeout bounds one nearby-care lookup; zero means no bound
	SearchTimeout time.Duration
}

// Service turns encounter transcripts into clinical artifacts and looks up
// nearby care for the result
type Service struct {
	cfg       Config
	generator ai.StructuredProvider
	search    ai.GroundedSearchProvider
	roster    *records.Roster
	audit     *records.AuditLog
	prompts   *templating.Service
	state     *app.Context
	locator   geo.Locator
	pub       app.Publisher
	recorder  Recorder
	logger    *logger.Logger

	wg sync.WaitGroup
}

// Deps groups the collaborators of a Service
type Deps struct {
	Generator ai.StructuredProvider
	Search    ai.GroundedSearchProvider
	Roster    *records.Roster
	Audit     *records.AuditLog
	Prompts   *templating.Service
	State     *app.Context
	Locator   geo.Locator
	Publisher app.Publisher
	Recorder  Recorder
}

// NewService creates a synthesis service
func NewService(cfg Config, deps Deps, log *logger.Logger) *Service {
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = "Could not retrieve nearby facilities."
	}
	rec := deps.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Service{
		cfg:       cfg,
		generator: deps.Generator,
		search:    deps.Search,
		roster:    deps.Roster,
		audit:     deps.Audit,
		prompts:   deps.Prompts,
		state:     deps.State,
		locator:   deps.Locator,
		pub:       deps.Publisher,
		recorder:  rec,
		logger:    log.Named("synthesis"),
	}
}

// Synthesize generates a clinical artifact for the patient's encounter and
// applies it. Nothing is changed when an error is returned. On success a
// nearby-care search is started in the background.
func (s *Service) Synthesize(ctx context.Context, patientID string) (clinical.Artifact, error) {
	start := time.Now()
	s.recorder.SynthesisStarted()

	artifact, reason, err := s.synthesize(ctx, patientID)
	s.recorder.SynthesisFinished(time.Since(start), reason)
	if err != nil {
		s.logger.Error("Clinical synthesis failed",
			logger.String("patient_id", patientID),
			logger.String("reason", reason),
			logger.Error(err))
		return clinical.Artifact{}, err
	}

	s.logger.Info("Clinical synthesis applied",
		logger.String("patient_id", patientID),
		logger.Int("risk", *artifact.Risk.Score),
		logger.String("level", artifact.Risk.Level),
		logger.Duration("elapsed", time.Since(start)))

	if _, err := s.audit.Log("Clinical Synthesis", patientID, records.CategorySuccess); err != nil {
		s.logger.Warn("Failed to audit synthesis", logger.Error(err))
	}
	s.pub.Publish(MessageTypeSynthesisComplete, map[string]any{
		"patient_id": patientID,
		"analysis":   artifact,
	})

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.FindNearbyCare(bg, patientID)
	}()

	return artifact, nil
}

func (s *Service) synthesize(ctx context.Context, patientID string) (clinical.Artifact, string, error) {
	p, err := s.roster.Get(patientID)
	if err != nil {
		return clinical.Artifact{}, ReasonNoData, err
	}
	if len(p.Encounters) == 0 {
		return clinical.Artifact{}, ReasonNoData, fmt.Errorf("%w: %s", ErrInsufficientData, patientID)
	}

	prompt, err := s.prompts.RenderSynthesisPrompt(p, s.state.Language())
	if err != nil {
		return clinical.Artifact{}, ReasonPrompt, fmt.Errorf("failed to render synthesis prompt: %w", err)
	}

	raw, err := s.generator.GenerateStructured(ctx, ai.StructuredRequest{
		Model:  s.cfg.Model,
		Prompt: prompt,
		Schema: ClinicalSchema(),
	})
	if err != nil {
		return clinical.Artifact{}, ReasonProvider, fmt.Errorf("synthesis request failed: %w", err)
	}

	artifact, err := ParseArtifact(raw)
	if err != nil {
		return clinical.Artifact{}, ReasonMalformed, err
	}

	_, err = s.roster.Update(patientID, func(p *clinical.Patient) error {
		a := artifact
		p.Analysis = &a
		p.Risk = *artifact.Risk.Score
		p.Status = artifact.Risk.Level
		return nil
	})
	if err != nil {
		return clinical.Artifact{}, ReasonPersist, err
	}
	return artifact, ReasonNone, nil
}

// ParseArtifact decodes and validates raw model output
func ParseArtifact(raw string) (clinical.Artifact, error) {
	var a clinical.Artifact
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &a); err != nil {
		return clinical.Artifact{}, fmt.Errorf("%w: %v", ErrMalformedSynthesis, err)
	}
	if err := a.Validate(); err != nil {
		return clinical.Artifact{}, fmt.Errorf("%w: %v", ErrMalformedSynthesis, err)
	}
	return a, nil
}

// FindNearbyCare searches for facilities suited to the patient's primary
// condition. The loading state is set before it returns control to any
// blocking call. Results are only applied while the patient is active.
func (s *Service) FindNearbyCare(ctx context.Context, patientID string) (clinical.NearbyCare, error) {
	s.state.SetNearbyCare(clinical.NearbyCare{PatientID: patientID, Status: clinical.NearbyLoading})

	if s.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SearchTimeout)
		defer cancel()
	}
	result, err := s.findNearbyCare(ctx, patientID)
	if err != nil {
		s.recorder.NearbyCareFailed()
		s.logger.Error("Nearby-care search failed",
			logger.String("patient_id", patientID),
			logger.Error(err))
		result = clinical.NearbyCare{
			PatientID: patientID,
			Status:    clinical.NearbyError,
			Text:      s.cfg.FallbackMessage,
		}
		s.state.SetNearbyCare(result)
		return result, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}

	if !s.state.SetNearbyCare(result) {
		s.logger.Debug("Nearby-care result no longer relevant", logger.String("patient_id", patientID))
	}
	return result, nil
}

func (s *Service) findNearbyCare(ctx context.Context, patientID string) (clinical.NearbyCare, error) {
	p, err := s.roster.Get(patientID)
	if err != nil {
		return clinical.NearbyCare{}, err
	}

	var location *ai.LatLng
	if s.locator != nil {
		if c, ok := s.locator.Coordinates(ctx); ok {
			location = &ai.LatLng{Latitude: c.Latitude, Longitude: c.Longitude}
		}
	}

	prompt, err := s.prompts.RenderNearbyCarePrompt(p.Analysis.PrimaryCondition())
	if err != nil {
		return clinical.NearbyCare{}, fmt.Errorf("failed to render nearby-care prompt: %w", err)
	}

	res, err := s.search.GroundedSearch(ctx, ai.GroundedSearchRequest{
		Model:    s.cfg.NearbyCareModel,
		Prompt:   prompt,
		Location: location,
	})
	if err != nil {
		return clinical.NearbyCare{}, err
	}

	return clinical.NearbyCare{
		PatientID:  patientID,
		Status:     clinical.NearbyComplete,
		Text:       res.Text,
		Facilities: dedupeFacilities(res.Sources),
	}, nil
}

func dedupeFacilities(sources []ai.Source) []clinical.Facility {
	out := make([]clinical.Facility, 0, len(sources))
	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		key := src.URI
		if key == "" {
			key = "title:" + src.Title
		}
		if key == "title:" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, clinical.Facility{Title: src.Title, URI: src.URI})
	}
	return out
}

// Wait blocks until background nearby-care searches finish
func (s *Service) Wait() {
	s.wg.Wait()
}
