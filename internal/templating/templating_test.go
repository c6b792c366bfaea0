package templating

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/pkg/logger"
)

func TestDefaultEncounterInstruction(t *testing.T) {
	s := NewService(Paths{}, logger.NewNop())
	got, err := s.RenderEncounterInstruction("Spanish")
	if err != nil {
		t.Fatal(err)
	}
	want := "You are an expert medical transcriptionist. Transcribe the audio from a clinical setting with high accuracy. The audio may be in Spanish."
	if got != want {
		t.Fatalf("got %q", got)
	}
}

func TestSynthesisPromptOrdersTurns(t *testing.T) {
	s := NewService(Paths{}, logger.NewNop())
	p := clinical.Patient{
		Name:   "Samuel Okoro",
		DOB:    "1952-03-01",
		Gender: "Male",
		Encounters: []clinical.Turn{
			{Speaker: clinical.SpeakerDoctor, Text: "How are you?"},
			{Speaker: clinical.SpeakerPatient, Text: "Short of breath."},
		},
	}
	got, err := s.RenderSynthesisPrompt(p, "English")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"safety audit for: Samuel Okoro.",
		"Born 1952-03-01, Gender Male.",
		"Transcript (Language: English): Doctor: How are you?\nPatient: Short of breath..",
		"Return ONLY valid JSON",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestNearbyCareFallbackCondition(t *testing.T) {
	s := NewService(Paths{}, logger.NewNop())
	got, err := s.RenderNearbyCarePrompt("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "for a patient with: medical symptoms.") {
		t.Fatalf("got %q", got)
	}
}

func TestOverrideAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encounter.tmpl")
	os.WriteFile(path, []byte("v1 {{.Language}}"), 0o644)

	s := NewService(Paths{Encounter: path}, logger.NewNop())
	got, _ := s.RenderEncounterInstruction("French")
	if got != "v1 French" {
		t.Fatalf("got %q", got)
	}

	os.WriteFile(path, []byte("v2 {{.Language}}"), 0o644)
	got, _ = s.RenderEncounterInstruction("French")
	if got != "v1 French" {
		t.Fatalf("cache bypassed: %q", got)
	}

	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	got, _ = s.RenderEncounterInstruction("French")
	if got != "v2 French" {
		t.Fatalf("after reload got %q", got)
	}
}

func TestMissingOverrideFile(t *testing.T) {
	s := NewService(Paths{Synthesis: filepath.Join(t.TempDir(), "absent.tmpl")}, logger.NewNop())
	if _, err := s.RenderSynthesisPrompt(clinical.Patient{}, "English"); err == nil {
		t.Fatal("expected error for missing template file")
	}
}

func TestClearCache(t *testing.T) {
	e := NewEngine(nil, logger.NewNop())
	if _, err := e.Render(PromptNearbyCare, NearbyCareData{Condition: "asthma"}); err != nil {
		t.Fatal(err)
	}
	if e.CachedCount() != 1 {
		t.Fatalf("cached = %d", e.CachedCount())
	}
	e.ClearCache()
	if e.CachedCount() != 0 {
		t.Fatal("cache not cleared")
	}
}
