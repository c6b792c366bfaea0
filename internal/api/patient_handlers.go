package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/clara/internal/clinical"
	"github.com/yegors/clara/internal/records"
	"github.com/yegors/clara/pkg/logger"
)

// createPatientRequest is the registration form body
type createPatientRequest struct {
	Name   string `json:"name"`
	DOB    string `json:"dob"`
	Gender string `json:"gender"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

// GetPatients returns the roster, newest first
func (h *Handler) GetPatients(w http.ResponseWriter, r *http.Request) {
	patients := h.roster.List()

	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if query != "" {
		filtered := patients[:0]
		for _, p := range patients {
			if strings.Contains(strings.ToLower(p.Name), query) ||
				strings.Contains(strings.ToLower(p.ID), query) {
				filtered = append(filtered, p)
			}
		}
		patients = filtered
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"patients":          patients,
		"count":             len(patients),
		"active_patient_id": h.state.ActivePatient(),
	})
}

// CreatePatient registers a new draft patient
func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "Patient name is required", http.StatusBadRequest)
		return
	}

	p, err := h.roster.Create(clinical.Patient{
		Name:   req.Name,
		DOB:    strings.TrimSpace(req.DOB),
		Gender: strings.TrimSpace(req.Gender),
		Email:  strings.TrimSpace(req.Email),
		Phone:  strings.TrimSpace(req.Phone),
	})
	if err != nil {
		h.writeError(w, "create_patient", err)
		return
	}

	WriteJSON(w, http.StatusCreated, p)
}

// GetPatient returns one patient
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.roster.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get_patient", err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// ActivatePatient makes the patient the subject of encounters and synthesis
func (h *Handler) ActivatePatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.roster.Get(id)
	if err != nil {
		h.writeError(w, "activate_patient", err)
		return
	}
	if h.encounter.Running() && h.state.ActivePatient() != id {
		h.encounter.Stop()
	}
	h.state.SetActivePatient(id)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"active_patient_id": id,
		"patient":           p,
	})
}

// AddTurn appends a manually typed turn. The patient must be active.
func (h *Handler) AddTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.roster.Get(id); err != nil {
		h.writeError(w, "add_turn", err)
		return
	}
	if h.state.ActivePatient() != id {
		WriteJSON(w, http.StatusConflict, map[string]string{"error": "patient is not active"})
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	turn, err := h.encounter.AddManualTurn(req.Text)
	if err != nil {
		h.writeError(w, "add_turn", err)
		return
	}
	WriteJSON(w, http.StatusCreated, turn)
}

// SetTurnSpeaker relabels one transcript turn
func (h *Handler) SetTurnSpeaker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "Invalid turn index", http.StatusBadRequest)
		return
	}

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

	if err := h.encounter.SetTurnSpeaker(id, index, speaker); err != nil {
		h.writeError(w, "set_turn_speaker", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"patient_id": id,
		"index":      index,
		"speaker":    speaker,
	})
}

// SynthesizePatient runs clinical synthesis for the patient's transcript
func (h *Handler) SynthesizePatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	artifact, err := h.synthesis.Synthesize(r.Context(), id)
	if err != nil {
		h.writeError(w, "synthesize", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"patient_id": id,
		"analysis":   artifact,
	})
}

// FindNearbyCare reruns the nearby-care search for the patient. The result
// is returned even when the search failed so the fallback text can be shown.
func (h *Handler) FindNearbyCare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.roster.Get(id); err != nil {
		h.writeError(w, "nearby_care", err)
		return
	}

	result, err := h.synthesis.FindNearbyCare(r.Context(), id)
	if err != nil {
		h.logger.Warn("Nearby-care search returned fallback",
			logger.String("patient_id", id),
			logger.Error(err))
		WriteJSON(w, statusFor(err), result)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// GetNearbyCare returns the nearby-care state of the active patient
func (h *Handler) GetNearbyCare(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"active_patient_id": h.state.ActivePatient(),
		"nearby_care":       h.state.NearbyCare(),
	})
}

// SeedDemoData replaces the roster with the demo scenarios
func (h *Handler) SeedDemoData(w http.ResponseWriter, r *http.Request) {
	if h.seedSource == nil {
		http.Error(w, "Demo data not available", http.StatusServiceUnavailable)
		return
	}
	if h.encounter.Running() {
		h.encounter.Stop()
	}

	patients := h.seedSource()
	if err := h.roster.Replace(patients); err != nil {
		h.writeError(w, "seed", err)
		return
	}
	h.state.SetActivePatient("")

	h.logger.Info("Demo registry seeded", logger.Int("patients", len(patients)))
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"count":  len(patients),
	})
}

// GetDashboard returns the dashboard counters
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	stats := h.roster.Stats()
	active := 0
	if h.encounter.Running() {
		active = 1
	}
	patients := h.roster.List()
	recent := patients
	if len(recent) > 5 {
		recent = recent[:5]
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total_patients":    stats.Total,
		"high_risk":         stats.HighRisk,
		"average_risk":      stats.AverageRisk,
		"deployments":       stats.Deployed,
		"active_encounters": active,
		"recent_patients":   recent,
	})
}

// GetRiskDistribution returns patient counts per risk band
func (h *Handler) GetRiskDistribution(w http.ResponseWriter, r *http.Request) {
	d := h.roster.RiskDistribution()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"distribution": d,
		"thresholds": map[string]int{
			"low_max":      records.LowRiskCeiling,
			"moderate_max": records.HighRiskThreshold,
		},
	})
}

// GetAuditLog returns the retained audit events, newest first
func (h *Handler) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	events := h.audit.List()

	if category := r.URL.Query().Get("category"); category != "" {
		filtered := make([]records.AuditEvent, 0, len(events))
		for _, e := range events {
			if strings.EqualFold(e.Category, category) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
