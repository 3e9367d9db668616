package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

const (
	EventTenantCreated         = "tenant.created"
	EventTenantUpdated         = "tenant.updated"
	EventTenantDeleted         = "tenant.deleted"
	EventTenantRestored        = "tenant.restored"
	EventTenantPasswordReset   = "tenant.password_reset"
	EventImpersonationIssued   = "impersonation.issued"
	EventImpersonationRedeemed = "impersonation.redeemed"
	EventAuthThrottled         = "auth.throttled"
	EventAuthPanelDenied       = "auth.panel_denied"
)

type EventMetadata struct {
	Actor         string
	Source        string
	CorrelationID string
	OccurredAt    time.Time
}

func (m EventMetadata) Normalize() EventMetadata {
	if m.Actor == "" {
		m.Actor = "system"
	}
	if m.Source == "" {
		m.Source = "api"
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = time.Now().UTC()
	}
	return m
}

type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	TenantID      string          `json:"tenant_id"`
	Subject       string          `json:"subject"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	Actor         string          `json:"actor"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	TenantID      string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
