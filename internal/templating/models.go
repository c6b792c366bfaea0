package templating

import (
	"strings"

	"github.com/yegors/clara/internal/clinical"
)

// EncounterData feeds the ambient transcription system instruction
type EncounterData struct {
	Language string
}

// SynthesisData feeds the clinical synthesis prompt
type SynthesisData struct {
	Name       string
	DOB        string
	Gender     string
	Language   string
	Transcript string
}

// NearbyCareData feeds the facility search prompt
type NearbyCareData struct {
	Condition string
}

// FallbackCondition is used when no diagnosis is available
const FallbackCondition = "medical symptoms"

// FormatTranscript renders turns as ordered "speaker: text" lines
func FormatTranscript(turns []clinical.Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = string(t.Speaker) + ": " + t.Text
	}
	return strings.Join(lines, "\n")
}
