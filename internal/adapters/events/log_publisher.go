package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
)

// LogPublisher writes security events to the structured log. The subject
// is included; payloads never carry secrets.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.logger.Info("security event",
		zap.String("topic", topic),
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("tenant_id", event.TenantID),
		zap.String("subject", event.Subject),
		zap.String("actor", event.Actor),
		zap.String("correlation_id", event.CorrelationID),
		zap.Time("occurred_at", event.OccurredAt),
		zap.Any("payload", event.Payload),
	)
	return nil
}
