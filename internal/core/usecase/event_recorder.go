package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
)

// EventRecorder appends security events to the central outbox. Recording
// failures are logged and never fail the operation that produced them.
type EventRecorder struct {
	outbox ports.OutboxRepository
	logger *zap.Logger
}

func NewEventRecorder(outbox ports.OutboxRepository, logger *zap.Logger) *EventRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventRecorder{outbox: outbox, logger: logger}
}

func (r *EventRecorder) Record(ctx context.Context, eventType, tenantID, subject string, meta domain.EventMetadata, payload map[string]any) {
	if r == nil || r.outbox == nil {
		return
	}
	meta = meta.Normalize()
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.NewString()
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("encode event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	envelope := domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		SchemaVersion: domain.CurrentEventSchemaVersion,
		TenantID:      tenantID,
		Subject:       subject,
		OccurredAt:    meta.OccurredAt,
		CorrelationID: meta.CorrelationID,
		Actor:         meta.Actor,
		Source:        meta.Source,
		Payload:       body,
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		r.logger.Warn("encode event envelope", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	now := time.Now().UTC()
	err = r.outbox.Enqueue(ctx, domain.OutboxEvent{
		EventID:       envelope.EventID,
		TenantID:      tenantID,
		Topic:         eventTopic(tenantID, eventType),
		PayloadJSON:   encoded,
		Status:        "pending",
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	if err != nil {
		r.logger.Warn("enqueue event", zap.String("event_type", eventType), zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func eventTopic(tenantID, eventType string) string {
	if tenantID == "" {
		tenantID = "central"
	}
	return "events." + tenantID + "." + eventType
}
