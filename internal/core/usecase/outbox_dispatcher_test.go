package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
)

type outboxRepoStub struct {
	mu     sync.Mutex
	events []domain.OutboxEvent
}

func (r *outboxRepoStub) Enqueue(_ context.Context, event domain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = int64(len(r.events) + 1)
	r.events = append(r.events, event)
	return nil
}

func (r *outboxRepoStub) FetchPending(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var out []domain.OutboxEvent
	for _, e := range r.events {
		if e.Status != "pending" || e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepoStub) MarkDispatched(_ context.Context, id int64) error {
	return r.update(id, func(e *domain.OutboxEvent) {
		now := time.Now().UTC()
		e.Status = "dispatched"
		e.DispatchedAt = &now
	})
}

func (r *outboxRepoStub) MarkFailed(_ context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error {
	next, err := time.Parse(time.RFC3339Nano, nextAttemptAt)
	if err != nil {
		return err
	}
	return r.update(id, func(e *domain.OutboxEvent) {
		e.Attempts = attempts
		e.NextAttemptAt = next
		e.LastError = errMsg
	})
}

func (r *outboxRepoStub) MarkDead(_ context.Context, id int64, attempts int, errMsg string) error {
	return r.update(id, func(e *domain.OutboxEvent) {
		e.Status = "dead"
		e.Attempts = attempts
		e.LastError = errMsg
	})
}

func (r *outboxRepoStub) update(id int64, fn func(*domain.OutboxEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id {
			fn(&r.events[i])
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func (r *outboxRepoStub) byTopic(topic string) domain.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Topic == topic {
			return e
		}
	}
	return domain.OutboxEvent{}
}

type publisherStub struct {
	mu        sync.Mutex
	failTopic map[string]error
	published []domain.EventEnvelope
	topics    []string
}

func (p *publisherStub) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failTopic[topic]; ok {
		return err
	}
	p.published = append(p.published, event)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *publisherStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func newRelay(repo *outboxRepoStub, pub *publisherStub, cfg OutboxDispatcherConfig) *OutboxDispatcher {
	return NewOutboxDispatcher(repo, pub, zap.NewNop(), cfg)
}

func TestDispatcherRelaysRecordedSecurityEvents(t *testing.T) {
	ctx := context.Background()
	repo := &outboxRepoStub{}
	pub := &publisherStub{}
	recorder := NewEventRecorder(repo, nil)

	recorder.Record(ctx, domain.EventTenantCreated, "acme", "acme", domain.EventMetadata{Actor: "root@example.com"}, map[string]any{"name": "Acme"})
	recorder.Record(ctx, domain.EventImpersonationIssued, "acme", "bob@acme.com", domain.EventMetadata{Actor: "root@example.com"}, nil)
	recorder.Record(ctx, domain.EventAuthThrottled, "", "root@example.com", domain.EventMetadata{}, map[string]any{"retry_after": 60})

	if err := newRelay(repo, pub, OutboxDispatcherConfig{}).relay(ctx); err != nil {
		t.Fatalf("relay: %v", err)
	}

	want := []string{
		"events.acme." + domain.EventTenantCreated,
		"events.acme." + domain.EventImpersonationIssued,
		"events.central." + domain.EventAuthThrottled,
	}
	if strings.Join(pub.topics, ",") != strings.Join(want, ",") {
		t.Fatalf("topics = %v, want %v", pub.topics, want)
	}
	if got := pub.published[1]; got.TenantID != "acme" || got.Subject != "bob@acme.com" || got.Actor != "root@example.com" {
		t.Fatalf("impersonation envelope = %+v", got)
	}
	for _, topic := range want {
		if e := repo.byTopic(topic); e.Status != "dispatched" || e.DispatchedAt == nil {
			t.Fatalf("%s: status %q", topic, e.Status)
		}
	}
}

func TestDispatcherReschedulesFailedPublish(t *testing.T) {
	ctx := context.Background()
	repo := &outboxRepoStub{}
	topic := "events.acme." + domain.EventImpersonationRedeemed
	pub := &publisherStub{failTopic: map[string]error{topic: errors.New("webhook returned 503")}}
	NewEventRecorder(repo, nil).Record(ctx, domain.EventImpersonationRedeemed, "acme", "bob@acme.com", domain.EventMetadata{}, nil)

	d := newRelay(repo, pub, OutboxDispatcherConfig{})
	before := time.Now().UTC()
	if err := d.relay(ctx); err != nil {
		t.Fatalf("relay: %v", err)
	}

	e := repo.byTopic(topic)
	if e.Status != "pending" || e.Attempts != 1 || e.LastError != "webhook returned 503" {
		t.Fatalf("event after failure = %+v", e)
	}
	if e.NextAttemptAt.Before(before.Add(time.Second)) {
		t.Fatalf("next attempt %v scheduled too early", e.NextAttemptAt)
	}

	// Not yet due, so a second pass leaves it alone.
	if err := d.relay(ctx); err != nil {
		t.Fatalf("second relay: %v", err)
	}
	if got := repo.byTopic(topic).Attempts; got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
	if m := d.Metrics(); m.Retried != 1 || m.Published != 0 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestDispatcherDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	repo := &outboxRepoStub{}
	topic := "events.globex." + domain.EventTenantDeleted
	pub := &publisherStub{failTopic: map[string]error{topic: errors.New("connection refused")}}
	NewEventRecorder(repo, nil).Record(ctx, domain.EventTenantDeleted, "globex", "globex", domain.EventMetadata{}, nil)
	_ = repo.update(1, func(e *domain.OutboxEvent) { e.Attempts = 2 })

	d := newRelay(repo, pub, OutboxDispatcherConfig{MaxAttempts: 3})
	if err := d.relay(ctx); err != nil {
		t.Fatalf("relay: %v", err)
	}

	e := repo.byTopic(topic)
	if e.Status != "dead" || e.Attempts != 3 || e.LastError != "connection refused" {
		t.Fatalf("event = %+v, want dead after 3 attempts", e)
	}
	if m := d.Metrics(); m.Dead != 1 || m.Retried != 0 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestDispatcherDropsStaleAuthSignals(t *testing.T) {
	ctx := context.Background()
	repo := &outboxRepoStub{}
	pub := &publisherStub{}
	recorder := NewEventRecorder(repo, nil)
	hourAgo := domain.EventMetadata{OccurredAt: time.Now().UTC().Add(-time.Hour)}

	recorder.Record(ctx, domain.EventAuthThrottled, "acme", "bob@acme.com", hourAgo, nil)
	recorder.Record(ctx, domain.EventAuthPanelDenied, "acme", "eve@acme.com", hourAgo, nil)
	recorder.Record(ctx, domain.EventImpersonationIssued, "acme", "bob@acme.com", hourAgo, nil)
	recorder.Record(ctx, domain.EventAuthThrottled, "", "root@example.com", domain.EventMetadata{}, nil)

	d := newRelay(repo, pub, OutboxDispatcherConfig{AuthSignalTTL: 10 * time.Minute})
	if err := d.relay(ctx); err != nil {
		t.Fatalf("relay: %v", err)
	}

	for _, topic := range []string{"events.acme." + domain.EventAuthThrottled, "events.acme." + domain.EventAuthPanelDenied} {
		e := repo.byTopic(topic)
		if e.Status != "dead" || e.LastError != "stale auth signal" || e.Attempts != 0 {
			t.Fatalf("%s = %+v, want dropped without an attempt", topic, e)
		}
	}
	// Old impersonation records still go out; fresh auth signals too.
	want := []string{"events.acme." + domain.EventImpersonationIssued, "events.central." + domain.EventAuthThrottled}
	if strings.Join(pub.topics, ",") != strings.Join(want, ",") {
		t.Fatalf("published %v, want %v", pub.topics, want)
	}
	if m := d.Metrics(); m.Stale != 2 || m.Published != 2 || m.Dead != 0 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestDispatcherBuriesUndecodableEnvelope(t *testing.T) {
	ctx := context.Background()
	repo := &outboxRepoStub{}
	pub := &publisherStub{}
	_ = repo.Enqueue(ctx, domain.OutboxEvent{
		EventID:       "broken",
		Topic:         "events.acme." + domain.EventTenantUpdated,
		PayloadJSON:   []byte("{"),
		Status:        "pending",
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
	})

	d := newRelay(repo, pub, OutboxDispatcherConfig{})
	if err := d.relay(ctx); err != nil {
		t.Fatalf("relay: %v", err)
	}
	e := repo.byTopic("events.acme." + domain.EventTenantUpdated)
	if e.Status != "dead" || !strings.HasPrefix(e.LastError, "undecodable envelope") {
		t.Fatalf("event = %+v", e)
	}
	if pub.count() != 0 {
		t.Fatalf("undecodable event must not be published")
	}
}

func TestDispatcherStartRelaysUntilClosed(t *testing.T) {
	repo := &outboxRepoStub{}
	pub := &publisherStub{}
	NewEventRecorder(repo, nil).Record(context.Background(), domain.EventTenantRestored, "acme", "acme", domain.EventMetadata{}, nil)

	d := newRelay(repo, pub, OutboxDispatcherConfig{Interval: 10 * time.Millisecond})
	d.Start(context.Background())
	d.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("published %d events, want 1", pub.count())
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestRelayBackoff(t *testing.T) {
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		4:  8 * time.Second,
		8:  128 * time.Second,
		9:  maxRelayBackoff,
		40: maxRelayBackoff,
	}
	for attempt, want := range cases {
		if got := relayBackoff(attempt); got != want {
			t.Errorf("relayBackoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}
