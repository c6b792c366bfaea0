package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/pkg/logger"
)

const (
	// RosterKey is the storage key of the patient roster
	RosterKey = "CLARA_PRO_V17"
	// HighRiskThreshold is the risk score above which a patient is high risk
	HighRiskThreshold = 70
	// LowRiskCeiling is the highest risk score counted as low risk
	LowRiskCeiling = 30
)

var (
	// ErrPatientNotFound is returned for an unknown patient id
	ErrPatientNotFound = errors.New("patient not found")
	// ErrTurnNotFound is returned for a transcript index out of range
	ErrTurnNotFound = errors.New("turn not found")
)

// Store persists opaque blobs by key
type Store interface {
	Save(key string, value []byte) error
	Load(key string) ([]byte, bool, error)
}

// Roster is the in-memory patient list, written through to a Store as a
// single JSON document
type Roster struct {
	mu       sync.RWMutex
	store    Store
	patients []clinical.Patient
	rng      *rand.Rand
	logger   *logger.Logger
}

// NewRoster loads the roster from store. An unreadable document yields an
// empty roster.
func NewRoster(store Store, log *logger.Logger) (*Roster, error) {
	r := &Roster{
		store:  store,
		rng:    rand.New(rand.NewSource(rand.Int63())),
		logger: log.Named("roster"),
	}
	data, ok, err := store.Load(RosterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	if ok {
		if err := json.Unmarshal(data, &r.patients); err != nil {
			r.logger.Warn("Discarding unreadable roster", logger.Error(err))
			r.patients = nil
		}
	}
	r.logger.Info("Roster loaded", logger.Int("patients", len(r.patients)))
	return r, nil
}

// List returns a copy of every patient, newest first
func (r *Roster) List() []clinical.Patient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]clinical.Patient, len(r.patients))
	for i, p := range r.patients {
		out[i] = clonePatient(p)
	}
	return out
}

// Get returns a copy of one patient
func (r *Roster) Get(id string) (clinical.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexLocked(id)
	if i < 0 {
		return clinical.Patient{}, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	return clonePatient(r.patients[i]), nil
}

// Create adds a new draft patient at the front of the roster
func (r *Roster) Create(p clinical.Patient) (clinical.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.ID = r.newIDLocked()
	p.Risk = 0
	p.Status = clinical.StatusDraft
	p.Encounters = []clinical.Turn{}
	p.Vitals = []clinical.Vitals{}
	p.Analysis = nil
	p.Deployed = false

	r.patients = append([]clinical.Patient{p}, r.patients...)
	if err := r.persistLocked(); err != nil {
		return clinical.Patient{}, err
	}
	r.logger.Info("Patient created", logger.String("patient_id", p.ID))
	return clonePatient(p), nil
}

func (r *Roster) newIDLocked() string {
	for {
		id := fmt.Sprintf("PT-%d", r.rng.Intn(9000)+1000)
		if r.indexLocked(id) < 0 {
			return id
		}
	}
}

// Update applies fn to the stored patient and persists the result. The
// roster is unchanged if fn returns an error.
func (r *Roster) Update(id string, fn func(p *clinical.Patient) error) (clinical.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return clinical.Patient{}, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	p := clonePatient(r.patients[i])
	if err := fn(&p); err != nil {
		return clinical.Patient{}, err
	}
	p.ID = id
	r.patients[i] = p
	if err := r.persistLocked(); err != nil {
		return clinical.Patient{}, err
	}
	return clonePatient(p), nil
}

// AppendTurn appends a committed turn to the patient's encounter
func (r *Roster) AppendTurn(id string, turn clinical.Turn) error {
	_, err := r.Update(id, func(p *clinical.Patient) error {
		p.Encounters = append(p.Encounters, turn)
		return nil
	})
	return err
}

// SetTurnSpeaker relabels the speaker of an existing turn
func (r *Roster) SetTurnSpeaker(id string, index int, speaker clinical.Speaker) error {
	_, err := r.Update(id, func(p *clinical.Patient) error {
		if index < 0 || index >= len(p.Encounters) {
			return fmt.Errorf("%w: index %d", ErrTurnNotFound, index)
		}
		p.Encounters[index].Speaker = speaker
		return nil
	})
	return err
}

// Replace swaps the whole roster, as when demo data is seeded
func (r *Roster) Replace(patients []clinical.Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients = make([]clinical.Patient, len(patients))
	for i, p := range patients {
		r.patients[i] = clonePatient(p)
	}
	return r.persistLocked()
}

// Stats summarizes the roster for the dashboard
type Stats struct {
	Total       int `json:"total"`
	HighRisk    int `json:"high_risk"`
	AverageRisk int `json:"average_risk"`
	Deployed    int `json:"deployed"`
}

// Stats returns dashboard counters
func (r *Roster) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	var sum int
	for _, p := range r.patients {
		s.Total++
		sum += p.Risk
		if p.Risk > HighRiskThreshold {
			s.HighRisk++
		}
		if p.Deployed {
			s.Deployed++
		}
	}
	if s.Total > 0 {
		s.AverageRisk = int(math.Round(float64(sum) / float64(s.Total)))
	}
	return s
}

// Distribution buckets patients by risk score
type Distribution struct {
	Low      int `json:"low"`
	Moderate int `json:"moderate"`
	High     int `json:"high"`
}

// RiskDistribution counts patients per risk band
func (r *Roster) RiskDistribution() Distribution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var d Distribution
	for _, p := range r.patients {
		switch {
		case p.Risk <= LowRiskCeiling:
			d.Low++
		case p.Risk <= HighRiskThreshold:
			d.Moderate++
		default:
			d.High++
		}
	}
	return d
}

func (r *Roster) indexLocked(id string) int {
	for i := range r.patients {
		if r.patients[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Roster) persistLocked() error {
	data, err := json.Marshal(r.patients)
	if err != nil {
		return fmt.Errorf("failed to encode roster: %w", err)
	}
	if err := r.store.Save(RosterKey, data); err != nil {
		r.logger.Error("Failed to persist roster", logger.Error(err))
		return err
	}
	return nil
}

func clonePatient(p clinical.Patient) clinical.Patient {
	p.Encounters = append([]clinical.Turn(nil), p.Encounters...)
	p.Vitals = append([]clinical.Vitals(nil), p.Vitals...)
	if p.Analysis != nil {
		a := *p.Analysis
		p.Analysis = &a
	}
	if p.Encounters == nil {
		p.Encounters = []clinical.Turn{}
	}
	if p.Vitals == nil {
		p.Vitals = []clinical.Vitals{}
	}
	return p
}
