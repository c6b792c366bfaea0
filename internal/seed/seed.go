// Package seed generates the demo roster
package seed

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/yegors/clara/internal/clinical"
)

// yearMillis is one Julian year
const yearMillis = 31557600000

type scenario struct {
	name       string
	age        int
	gender     string
	condition  string
	transcript string
}

var scenarios = []scenario{
	{"Anita Sharma", 62, "Female", "Type 2 Diabetes & Hypertension", "I've been feeling very thirsty lately and my blood pressure was high at home, around 160 over 95. I'm also taking Metformin but noticed some dizziness when I stand up."},
	{"Robert Miller", 45, "Male", "Acute Lumbar Strain", "My lower back is killing me after moving some boxes yesterday. The pain radiates down my left leg slightly. I tried some Ibuprofen but it didn't help much."},
	{"Chloe Dupont", 29, "Female", "Migraine with Aura", "I'm seeing spots and have a throbbing headache on the right side. This happens every few months. Light is making it much worse."},
	{"Samuel Okoro", 74, "Male", "COPD Exacerbation", "I can't catch my breath, even just walking to the kitchen. My cough is producing more phlegm than usual, it looks yellowish."},
	{"Li Wei", 53, "Non-binary", "GERD & Gastritis", "Frequent heartburn after eating spicy food. It's a burning sensation in my chest that goes up to my throat. Antacids provide only temporary relief."},
	{"Elena Rossi", 38, "Female", "Generalized Anxiety Disorder", "My heart races randomly and I feel a constant sense of dread. I'm not sleeping well and I have tension in my shoulders all day."},
	{"Hiroshi Tanaka", 67, "Male", "Atrial Fibrillation", "My heart feels like it's fluttering or skipping beats. I feel lightheaded sometimes. I was prescribed Warfarin years ago but haven't been consistent."},
	{"Sarah Jenkins", 31, "Female", "Asthma Flare-up", "I've been wheezing since the pollen count went up. My rescue inhaler isn't working as well as it usually does. I feel tight in the chest."},
	{"Marcus Thorne", 41, "Male", "Hyperlipidemia", "Found out my cholesterol is high during a screening. No symptoms, but my father had a heart attack at 50 so I'm worried."},
	{"Sofia Mendez", 25, "Female", "Hypothyroidism", "I'm constantly exhausted, even after 10 hours of sleep. My skin is dry and I've gained weight without changing my diet."},
}

// OpeningQuestion is the doctor's first turn in every demo encounter
const OpeningQuestion = "How have you been feeling since our last visit?"

// Generate builds the ten demo patients. Risk scores are drawn from rng in
// the range 10 to 89.
func Generate(now time.Time, rng *rand.Rand) []clinical.Patient {
	nowMs := now.UnixMilli()
	out := make([]clinical.Patient, len(scenarios))
	for i, s := range scenarios {
		dob := time.UnixMilli(nowMs - int64(s.age)*yearMillis).UTC().Format("2006-01-02")
		first := strings.ToLower(strings.Fields(s.name)[0])
		out[i] = clinical.Patient{
			ID:     fmt.Sprintf("PT-%d", 6000+i),
			Name:   s.name,
			DOB:    dob,
			Gender: s.gender,
			Email:  first + "@hospital-demo.com",
			Phone:  fmt.Sprintf("+1-555-010%d", i),
			Risk:   rng.Intn(80) + 10,
			Status: clinical.StatusDraft,
			Encounters: []clinical.Turn{
				{Speaker: clinical.SpeakerDoctor, Text: OpeningQuestion, Timestamp: nowMs - 100000},
				{Speaker: clinical.SpeakerPatient, Text: s.transcript, Timestamp: nowMs - 50000},
			},
			Vitals: []clinical.Vitals{
				{Systolic: 120 + i, Diastolic: 80, HR: 72, Pain: i % 5, Timestamp: nowMs},
			},
		}
	}
	return out
}

// Condition returns the scenario condition for a demo patient id
func Condition(id string) (string, bool) {
	var i int
	if _, err := fmt.Sscanf(id, "PT-%d", &i); err != nil {
		return "", false
	}
	i -= 6000
	if i < 0 || i >= len(scenarios) {
		return "", false
	}
	return scenarios[i].condition, true
}
