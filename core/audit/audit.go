// Package audit records security-relevant events of the pickup flow.
//
// Events are built with NewEvent, passed through a Logger (which applies
// hooks such as ID generation) and persisted by an AuditStore.
//
//	audit.NewEvent(audit.EventPickupRejected).
//	    Session(sid).
//	    Resource("order", "42").
//	    Failure().
//	    Message("ownership_mismatch")
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// RiskLevel categorizes the severity of audit events.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AuditEvent represents a structured security event record.
type AuditEvent struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	ActorID      string          `json:"actor_id"`
	SubjectID    string          `json:"subject_id"`
	Status       string          `json:"status"` // "success", "failure", "blocked"
	Message      string          `json:"message"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	DeviceID     string          `json:"device_id,omitempty"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Risk         RiskLevel       `json:"risk,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AuditStore defines the interface for persisting and querying audit events.
type AuditStore interface {
	SaveEvent(ctx context.Context, event *AuditEvent) error
	Query(ctx context.Context, filter Filter) ([]AuditEvent, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	// Purge deletes events older than the given time and returns how many were removed.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// Filter for querying audit events.
type Filter struct {
	Types        []string
	Statuses     []string
	SessionID    string
	ResourceType string
	ResourceID   string
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
	Offset       int
}

const (
	EventPickupIssued   = "pickup.token.issued"
	EventPickupAccepted = "pickup.token.accepted"
	EventPickupRejected = "pickup.token.rejected"
	EventConfigError    = "pickup.config.error"
	EventDeviceIssued   = "device.token.issued"
)

// EventBuilder provides a fluent API for creating audit events.
type EventBuilder struct {
	event *AuditEvent
}

// NewEvent starts building a new audit event.
func NewEvent(eventType string) *EventBuilder {
	return &EventBuilder{
		event: &AuditEvent{
			Type:      eventType,
			CreatedAt: time.Now(),
			Risk:      RiskLow,
		},
	}
}

func (b *EventBuilder) Actor(actorID string) *EventBuilder {
	b.event.ActorID = actorID
	return b
}

func (b *EventBuilder) Subject(subjectID string) *EventBuilder {
	b.event.SubjectID = subjectID
	return b
}

func (b *EventBuilder) Success() *EventBuilder {
	b.event.Status = "success"
	return b
}

func (b *EventBuilder) Failure() *EventBuilder {
	b.event.Status = "failure"
	return b
}

func (b *EventBuilder) Message(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

func (b *EventBuilder) Session(sessionID string) *EventBuilder {
	b.event.SessionID = sessionID
	return b
}

func (b *EventBuilder) Device(deviceID string) *EventBuilder {
	b.event.DeviceID = deviceID
	return b
}

func (b *EventBuilder) Resource(resourceType, resourceID string) *EventBuilder {
	b.event.ResourceType = resourceType
	b.event.ResourceID = resourceID
	return b
}

func (b *EventBuilder) Risk(level RiskLevel) *EventBuilder {
	b.event.Risk = level
	return b
}

// Meta marshals v into the event metadata. Marshal errors drop the metadata.
func (b *EventBuilder) Meta(v any) *EventBuilder {
	if raw, err := json.Marshal(v); err == nil {
		b.event.Metadata = raw
	}
	return b
}

func (b *EventBuilder) At(t time.Time) *EventBuilder {
	b.event.CreatedAt = t
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() *AuditEvent {
	return b.event
}

// Hooks provides extension points for audit behavior.
type Hooks struct {
	// BeforeSave is called before persisting an event.
	// Return an error to prevent saving.
	BeforeSave func(ctx context.Context, event *AuditEvent) error

	// AlertOnRisk is called for high/critical risk events after they are saved.
	AlertOnRisk func(ctx context.Context, event *AuditEvent)

	// IDGenerator generates event IDs. If nil, the store generates them.
	IDGenerator func() string
}

// Logger wraps an AuditStore and applies hooks.
type Logger struct {
	store AuditStore
	hooks Hooks
}

// NewLogger creates a new audit logger.
func NewLogger(store AuditStore, hooks Hooks) *Logger {
	return &Logger{store: store, hooks: hooks}
}

// Log persists an audit event with hooks applied.
func (l *Logger) Log(ctx context.Context, event *AuditEvent) error {
	if event.ID == "" && l.hooks.IDGenerator != nil {
		event.ID = l.hooks.IDGenerator()
	}

	if l.hooks.BeforeSave != nil {
		if err := l.hooks.BeforeSave(ctx, event); err != nil {
			return err
		}
	}

	if err := l.store.SaveEvent(ctx, event); err != nil {
		return err
	}

	if (event.Risk == RiskHigh || event.Risk == RiskCritical) && l.hooks.AlertOnRisk != nil {
		l.hooks.AlertOnRisk(ctx, event)
	}

	return nil
}

// Query delegates to the store.
func (l *Logger) Query(ctx context.Context, filter Filter) ([]AuditEvent, error) {
	return l.store.Query(ctx, filter)
}
