package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookPublisher POSTs security events to a receiver such as a SIEM
// collector. Bodies are signed with HMAC-SHA256; a non-2xx reply is an
// error and leaves the event to the dispatcher's retry schedule.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
}

func NewWebhookPublisher(url, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

// Publish sends event with these headers:
//
//	X-Tenancy-Topic:        <topic>
//	X-Tenancy-Event-Type:   <event.EventType>
//	X-Tenancy-Event-Id:     <event.EventID>
//	X-Tenancy-Tenant:       <event.TenantID>, "central" for admin events
//	X-Hub-Signature-256:    sha256=<hex HMAC-SHA256 of the body>
func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	sig := p.sign(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tenancy-webhook/1")
	req.Header.Set("X-Tenancy-Topic", topic)
	req.Header.Set("X-Tenancy-Event-Type", event.EventType)
	req.Header.Set("X-Tenancy-Event-Id", event.EventID)
	req.Header.Set("X-Tenancy-Tenant", tenantHeader(event.TenantID))
	req.Header.Set("X-Hub-Signature-256", "sha256="+sig)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func tenantHeader(tenantID string) string {
	if tenantID == "" {
		return "central"
	}
	return tenantID
}

func (p *WebhookPublisher) sign(payload []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
