package api

import (
	"fmt"

	"github.com/yegors/clara/internal/app"
	"github.com/yegors/clara/internal/websocket"
	"github.com/yegors/clara/pkg/logger"
)

// Front end messages received on the state hub
const (
	MessageTypeLocationReport  = "location.report"
	MessageTypeLocationDenied  = "location.denied"
	MessageTypeSnapshotRequest = "snapshot.request"
)

// HubMessageHandler handles messages the front end sends over /ws
type HubMessageHandler struct {
	state   *app.Context
	locator LocationReporter
	logger  *logger.Logger
}

// NewHubMessageHandler creates the hub message handler. locator may be nil.
func NewHubMessageHandler(state *app.Context, locator LocationReporter, log *logger.Logger) *HubMessageHandler {
	return &HubMessageHandler{
		state:   state,
		locator: locator,
		logger:  log.Named("hub-messages"),
	}
}

// HandleMessage implements websocket.MessageHandler
func (m *HubMessageHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case MessageTypeLocationReport:
		if m.locator == nil {
			return nil
		}
		lat, latOK := data["latitude"].(float64)
		lon, lonOK := data["longitude"].(float64)
		if !latOK || !lonOK {
			return fmt.Errorf("location report missing coordinates")
		}
		if !validCoordinates(lat, lon) {
			return fmt.Errorf("location report out of range: %f,%f", lat, lon)
		}
		m.locator.Report(lat, lon)
	case MessageTypeLocationDenied:
		if m.locator != nil {
			m.locator.Deny()
		}
	case MessageTypeSnapshotRequest:
		snap := m.state.Snapshot()
		client.SendMessage(&websocket.Message{
			Type: app.MessageTypeContext,
			Data: map[string]any{
				"active_patient_id": snap.ActivePatientID,
				"language":          snap.Language,
				"encounter_active":  snap.EncounterActive,
				"assistant_active":  snap.AssistantActive,
				"nearby_care":       snap.NearbyCare,
			},
		})
	default:
		m.logger.Debug("Ignoring unknown hub message", logger.String("type", messageType))
	}
	return nil
}
