package api

import (
	"net/http"
	"strings"

	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/pkg/logger"
)

func (h *Handler) encounterState() map[string]interface{} {
	return map[string]interface{}{
		"running":           h.encounter.Running(),
		"status":            h.encounter.Status(),
		"speaker":           h.encounter.Speaker(),
		"active_patient_id": h.state.ActivePatient(),
		"language":          h.state.Language(),
	}
}

// StartEncounter opens ambient capture for the active patient. The request
// blocks until the microphone is granted or refused.
func (h *Handler) StartEncounter(w http.ResponseWriter, r *http.Request) {
	if err := h.encounter.Start(r.Context()); err != nil {
		h.writeError(w, "encounter_start", err)
		return
	}
	WriteJSON(w, http.StatusOK, h.encounterState())
}

// StopEncounter ends capture without synthesis
func (h *Handler) StopEncounter(w http.ResponseWriter, r *http.Request) {
	h.encounter.Stop()
	WriteJSON(w, http.StatusOK, h.encounterState())
}

// StopAndSynthesize ends capture and synthesizes the active patient's record
func (h *Handler) StopAndSynthesize(w http.ResponseWriter, r *http.Request) {
	id := h.state.ActivePatient()
	artifact, err := h.encounter.StopAndSynthesize(r.Context())
	if err != nil {
		h.writeError(w, "encounter_stop_and_synthesize", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"patient_id": id,
		"analysis":   artifact,
	})
}

// SetEncounterSpeaker selects who is speaking now
func (h *Handler) SetEncounterSpeaker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speaker string `json:"speaker"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	speaker, err := clinical.ParseSpeaker(req.Speaker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.encounter.SetSpeaker(speaker)
	WriteJSON(w, http.StatusOK, h.encounterState())
}

// SetLanguage changes the language used by later sessions and prompts
func (h *Handler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		http.Error(w, "Language is required", http.StatusBadRequest)
		return
	}
	h.encounter.SetLanguage(lang)
	WriteJSON(w, http.StatusOK, map[string]string{"language": lang})
}

func (h *Handler) assistantState() map[string]interface{} {
	return map[string]interface{}{
		"running": h.assistant.Running(),
		"status":  h.assistant.Status(),
	}
}

// StartAssistant opens the spoken assistant session
func (h *Handler) StartAssistant(w http.ResponseWriter, r *http.Request) {
	if err := h.assistant.Start(r.Context()); err != nil {
		h.writeError(w, "assistant_start", err)
		return
	}
	WriteJSON(w, http.StatusOK, h.assistantState())
}

// StopAssistant closes the spoken assistant session and silences playback
func (h *Handler) StopAssistant(w http.ResponseWriter, r *http.Request) {
	h.assistant.Stop()
	WriteJSON(w, http.StatusOK, h.assistantState())
}

// SendAssistantMessage sends a typed question to the chat model
func (h *Handler) SendAssistantMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	reply, err := h.assistant.SendText(r.Context(), req.Text)
	if err != nil {
		h.writeError(w, "assistant_message", err)
		return
	}
	WriteJSON(w, http.StatusOK, reply)
}

// GetAssistantFeed returns the dialogue feed
func (h *Handler) GetAssistantFeed(w http.ResponseWriter, r *http.Request) {
	feed := h.assistant.Feed()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"feed":    feed,
		"count":   len(feed),
		"running": h.assistant.Running(),
		"status":  h.assistant.Status(),
	})
}

// locationRequest is a browser geolocation result. Denied reports that the
// user refused or the lookup failed.
type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Denied    bool     `json:"denied"`
}

// ReportLocation accepts a browser geolocation fix
func (h *Handler) ReportLocation(w http.ResponseWriter, r *http.Request) {
	if h.locator == nil {
		http.Error(w, "Location is statically configured", http.StatusConflict)
		return
	}
	var req locationRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Denied {
		h.locator.Deny()
		WriteJSON(w, http.StatusOK, map[string]string{"status": "denied"})
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		http.Error(w, "latitude and longitude are required", http.StatusBadRequest)
		return
	}
	if !validCoordinates(*req.Latitude, *req.Longitude) {
		http.Error(w, "Coordinates out of range", http.StatusBadRequest)
		return
	}

	h.locator.Report(*req.Latitude, *req.Longitude)
	h.logger.Debug("Location reported",
		logger.Float64("latitude", *req.Latitude),
		logger.Float64("longitude", *req.Longitude))
	WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func validCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
