package templating

import (
	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/pkg/logger"
)

// Service renders the console's prompts
type Service struct {
	engine *Engine
	logger *logger.Logger
}

// Paths holds optional override files per prompt
type Paths struct {
	Encounter  string
	Synthesis  string
	NearbyCare string
}

// NewService creates a new templating service
func NewService(paths Paths, logger *logger.Logger) *Service {
	engine := NewEngine(map[Prompt]string{
		PromptEncounter:  paths.Encounter,
		PromptSynthesis:  paths.Synthesis,
		PromptNearbyCare: paths.NearbyCare,
	}, logger)

	return &Service{
		engine: engine,
		logger: logger.Named("templating-service"),
	}
}

// RenderEncounterInstruction renders the transcription system instruction
func (s *Service) RenderEncounterInstruction(language string) (string, error) {
	return s.engine.Render(PromptEncounter, EncounterData{Language: language})
}

// RenderSynthesisPrompt renders the synthesis prompt for a patient
func (s *Service) RenderSynthesisPrompt(p clinical.Patient, language string) (string, error) {
	return s.engine.Render(PromptSynthesis, SynthesisData{
		Name:       p.Name,
		DOB:        p.DOB,
		Gender:     p.Gender,
		Language:   language,
		Transcript: FormatTranscript(p.Encounters),
	})
}

// RenderNearbyCarePrompt renders the facility search prompt
func (s *Service) RenderNearbyCarePrompt(condition string) (string, error) {
	if condition == "" {
		condition = FallbackCondition
	}
	return s.engine.Render(PromptNearbyCare, NearbyCareData{Condition: condition})
}

// Reload re-reads every prompt template
func (s *Service) Reload() error {
	return s.engine.ReloadAllTemplates()
}

// GetEngine returns the underlying template engine
func (s *Service) GetEngine() *Engine {
	return s.engine
}
