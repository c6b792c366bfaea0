package records

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/clara/pkg/logger"
)

const (
	// AuditKey is the storage key of the audit log
	AuditKey = "CLARA_AUDIT_V17"
	// MaxAuditEvents caps the retained audit log
	MaxAuditEvents = 50

	CategorySuccess       = "Success"
	CategoryInfo          = "Info"
	CategoryConfiguration = "Configuration"
	CategoryError         = "Error"
)

// AuditEvent is one audit log entry
type AuditEvent struct {
	Timestamp string `json:"timestamp"` // RFC3339 UTC
	ID        string `json:"id"`
	Action    string `json:"action"`
	Resource  string `json:"resource"`
	Category  string `json:"category"`
}

// AuditLog keeps the most recent audit events, newest first
type AuditLog struct {
	mu     sync.Mutex
	store  Store
	events []AuditEvent
	now    func() time.Time
	logger *logger.Logger
}

// NewAuditLog loads the audit log from store
func NewAuditLog(store Store, log *logger.Logger) (*AuditLog, error) {
	a := &AuditLog{store: store, now: time.Now, logger: log.Named("audit")}
	data, ok, err := store.Load(AuditKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit log: %w", err)
	}
	if ok {
		if err := json.Unmarshal(data, &a.events); err != nil {
			a.logger.Warn("Discarding unreadable audit log", logger.Error(err))
			a.events = nil
		}
	}
	return a, nil
}

// Log records an event. An empty category means CategorySuccess.
func (a *AuditLog) Log(action, resource, category string) (AuditEvent, error) {
	if category == "" {
		category = CategorySuccess
	}
	ev := AuditEvent{
		Timestamp: a.now().UTC().Format(time.RFC3339Nano),
		ID:        eventID(),
		Action:    action,
		Resource:  resource,
		Category:  category,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append([]AuditEvent{ev}, a.events...)
	if len(a.events) > MaxAuditEvents {
		a.events = a.events[:MaxAuditEvents]
	}

	data, err := json.Marshal(a.events)
	if err != nil {
		return ev, fmt.Errorf("failed to encode audit log: %w", err)
	}
	if err := a.store.Save(AuditKey, data); err != nil {
		a.logger.Error("Failed to persist audit log", logger.Error(err))
		return ev, err
	}
	a.logger.Debug("Audit event",
		logger.String("action", action),
		logger.String("resource", resource),
		logger.String("category", category))
	return ev, nil
}

// List returns a copy of the retained events, newest first
func (a *AuditLog) List() []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEvent{}, a.events...)
}

// eventID returns 9 upper-case alphanumeric characters
func eventID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}
