package telemetry

import (
	"context"
	"log/slog"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEmitter records destructive operations (channel and message deletes) on the bus.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        string       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level    string `json:"level"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Text     string `json:"text"`
}

// AuditRecord is one audited action.
type AuditRecord struct {
	Level     string
	Action    string
	Resource  string
	Text      string
	RequestID string
	UserID    string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Envelope builds the wire form of a record.
func (e *AuditEmitter) Envelope(rec AuditRecord) AuditEnvelope {
	level := rec.Level
	if level == "" {
		level = "INFO"
	}
	return AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		UserID:        rec.UserID,
		Payload: AuditPayload{
			Level:    level,
			Action:   rec.Action,
			Resource: rec.Resource,
			Text:     rec.Text,
		},
	}
}

// Emit publishes the record. Publish failures are logged and swallowed.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	slog.Info("audit emit", "action", rec.Action, "resource", rec.Resource, "request_id", rec.RequestID, "user_id", rec.UserID)
	if err := e.publisher.Publish(ctx, e.routingKey, e.Envelope(rec)); err != nil {
		slog.Error("audit publish failed", "err", err)
	}
}
