package app

import (
	"sync"

	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/pkg/logger"
)

// Publisher fans state changes out to connected front ends
type Publisher interface {
	Publish(msgType string, data map[string]any)
}

const (
	MessageTypeContext    = "context.updated"
	MessageTypeNearbyCare = "nearby_care.updated"
)

// Snapshot is a read-only copy of the shared application state
type Snapshot struct {
	ActivePatientID string               `json:"active_patient_id"`
	Language        string               `json:"language"`
	EncounterActive bool                 `json:"encounter_active"`
	AssistantActive bool                 `json:"assistant_active"`
	NearbyCare      *clinical.NearbyCare `json:"nearby_care"`
}

// Context is the single home of cross-controller state: the active patient,
// the nearby-care result for that patient, the selected language and which
// live sessions are running
type Context struct {
	mu              sync.RWMutex
	activePatientID string
	language        string
	encounterActive bool
	assistantActive bool
	nearby          *clinical.NearbyCare

	pub    Publisher
	logger *logger.Logger
}

// NewContext creates the application context
func NewContext(language string, pub Publisher, log *logger.Logger) *Context {
	return &Context{
		language: language,
		pub:      pub,
		logger:   log.Named("app-context"),
	}
}

// ActivePatient returns the active patient id, or "" when none is selected
func (c *Context) ActivePatient() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activePatientID
}

// SetActivePatient switches the active patient. Any nearby-care result is
// cleared since it belonged to the previous selection.
func (c *Context) SetActivePatient(id string) {
	c.mu.Lock()
	changed := c.activePatientID != id
	c.activePatientID = id
	c.nearby = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if changed {
		c.logger.Info("Active patient changed", logger.String("patient_id", id))
	}
	c.publish(snap)
	c.pub.Publish(MessageTypeNearbyCare, map[string]any{"nearby_care": nil})
}

// NearbyCare returns a copy of the current nearby-care result
func (c *Context) NearbyCare() *clinical.NearbyCare {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneNearby(c.nearby)
}

// SetNearbyCare stores a nearby-care result. It is dropped, returning false,
// when the result is for a patient that is no longer active.
func (c *Context) SetNearbyCare(result clinical.NearbyCare) bool {
	c.mu.Lock()
	if result.PatientID != c.activePatientID {
		c.mu.Unlock()
		c.logger.Debug("Dropping stale nearby-care result",
			logger.String("patient_id", result.PatientID),
			logger.String("status", result.Status))
		return false
	}
	c.nearby = cloneNearby(&result)
	c.mu.Unlock()

	c.pub.Publish(MessageTypeNearbyCare, map[string]any{"nearby_care": cloneNearby(&result)})
	return true
}

// Language returns the selected transcription language
func (c *Context) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.language
}

// SetLanguage changes the selected transcription language
func (c *Context) SetLanguage(lang string) {
	c.mu.Lock()
	c.language = lang
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// SetEncounterActive records whether the encounter session is running
func (c *Context) SetEncounterActive(active bool) {
	c.mu.Lock()
	c.encounterActive = active
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// SetAssistantActive records whether the assistant session is running
func (c *Context) SetAssistantActive(active bool) {
	c.mu.Lock()
	c.assistantActive = active
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// Snapshot returns a copy of the whole state
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Context) snapshotLocked() Snapshot {
	return Snapshot{
		ActivePatientID: c.activePatientID,
		Language:        c.language,
		EncounterActive: c.encounterActive,
		AssistantActive: c.assistantActive,
		NearbyCare:      cloneNearby(c.nearby),
	}
}

func (c *Context) publish(s Snapshot) {
	c.pub.Publish(MessageTypeContext, map[string]any{
		"active_patient_id": s.ActivePatientID,
		"language":          s.Language,
		"encounter_active":  s.EncounterActive,
		"assistant_active":  s.AssistantActive,
	})
}

func cloneNearby(n *clinical.NearbyCare) *clinical.NearbyCare {
	if n == nil {
		return nil
	}
	out := *n
	out.Facilities = append([]clinical.Facility(nil), n.Facilities...)
	return &out
}
