package clinical

import (
	"errors"
	"fmt"
	"strings"
)

// Speaker labels a transcript turn
type Speaker string

const (
	SpeakerDoctor  Speaker = "Doctor"
	SpeakerPatient Speaker = "Patient"
)

// ParseSpeaker accepts a speaker label case-insensitively
func ParseSpeaker(s string) (Speaker, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "doctor":
		return SpeakerDoctor, nil
	case "patient":
		return SpeakerPatient, nil
	}
	return "", fmt.Errorf("unknown speaker %q", s)
}

// Turn is one committed utterance in an encounter
type Turn struct {
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"ts"` // unix millis
}

// Vitals is one vitals reading
type Vitals struct {
	Systolic  int   `json:"systolic"`
	Diastolic int   `json:"diastolic"`
	HR        int   `json:"hr"`
	Pain      int   `json:"pain"`
	Timestamp int64 `json:"ts"`
}

// Patient is one roster entry
type Patient struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	DOB        string    `json:"dob"` // YYYY-MM-DD
	Gender     string    `json:"gender"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Risk       int       `json:"risk"`
	Status     string    `json:"status"`
	Encounters []Turn    `json:"encounters"`
	Vitals     []Vitals  `json:"vitals"`
	Analysis   *Artifact `json:"analysis"`
	Deployed   bool      `json:"deployed"`
}

// StatusDraft is the status of a patient with no synthesis yet
const StatusDraft = "Draft"

// Diagnosis is one differential diagnosis
type Diagnosis struct {
	Condition   string `json:"condition"`
	Probability string `json:"probability"`
	Reasoning   string `json:"reasoning"`
	ICD10       string `json:"icd10"`
}

// Risk is the synthesized risk assessment
type Risk struct {
	Score    *int   `json:"score"`
	Level    string `json:"level"`
	Analysis string `json:"analysis"`
}

// Treatment is one treatment plan line
type Treatment struct {
	Medication             string `json:"medication"`
	Purpose                string `json:"purpose"`
	SideEffects            string `json:"side_effects"`
	DosageInstructions     string `json:"dosage_instructions"`
	DosageAdjustmentReason string `json:"dosage_adjustment_reason,omitempty"`
	ICD10Link              string `json:"icd10_link"`
}

// Alert severities
const (
	SeverityCritical      = "Critical"
	SeverityWarning       = "Warning"
	SeverityInformational = "Informational"
)

// SafetyAlert flags an interaction or contraindication
type SafetyAlert struct {
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Rationale   string `json:"rationale"`
}

// Recommendation is an optional follow-up action
type Recommendation struct {
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
}

// Artifact is the structured synthesis of an encounter
type Artifact struct {
	Summary               string           `json:"summary"`
	DifferentialDiagnoses []Diagnosis      `json:"differential_diagnoses"`
	Risk                  *Risk            `json:"risk"`
	TreatmentPlan         []Treatment      `json:"treatment_plan"`
	SafetyAlerts          []SafetyAlert    `json:"safety_alerts"`
	PredictiveInsight     string           `json:"predictive_insight"`
	Recommendations       []Recommendation `json:"recommendations,omitempty"`
}

// Validate checks that every required field is present
func (a *Artifact) Validate() error {
	var missing []string
	if strings.TrimSpace(a.Summary) == "" {
		missing = append(missing, "summary")
	}
	if a.DifferentialDiagnoses == nil {
		missing = append(missing, "differential_diagnoses")
	}
	if a.Risk == nil {
		missing = append(missing, "risk")
	} else {
		if a.Risk.Score == nil {
			missing = append(missing, "risk.score")
		} else if *a.Risk.Score < 0 || *a.Risk.Score > 100 {
			return fmt.Errorf("risk.score %d out of range", *a.Risk.Score)
		}
		if a.Risk.Level == "" {
			missing = append(missing, "risk.level")
		}
	}
	if a.TreatmentPlan == nil {
		missing = append(missing, "treatment_plan")
	}
	if a.SafetyAlerts == nil {
		missing = append(missing, "safety_alerts")
	}
	if strings.TrimSpace(a.PredictiveInsight) == "" {
		missing = append(missing, "predictive_insight")
	}
	for i, d := range a.DifferentialDiagnoses {
		if d.Condition == "" {
			missing = append(missing, fmt.Sprintf("differential_diagnoses[%d].condition", i))
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}

// PrimaryCondition returns the first diagnosis, or "" when there is none
func (a *Artifact) PrimaryCondition() string {
	if a == nil || len(a.DifferentialDiagnoses) == 0 {
		return ""
	}
	return a.DifferentialDiagnoses[0].Condition
}

// Nearby-care statuses
const (
	NearbyLoading  = "loading"
	NearbyComplete = "complete"
	NearbyError    = "error"
)

// Facility is a grounded care facility reference
type Facility struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// NearbyCare is the result of a location-grounded facility search
type NearbyCare struct {
	PatientID  string     `json:"patient_id"`
	Status     string     `json:"status"`
	Text       string     `json:"text,omitempty"`
	Facilities []Facility `json:"links"`
}
