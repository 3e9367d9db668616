package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
)

const (
	DefaultRelayInterval    = 2 * time.Second
	DefaultRelayBatchSize   = 100
	DefaultRelayMaxAttempts = 5
	// DefaultAuthSignalTTL bounds how long throttle and panel-denied
	// signals stay worth delivering.
	DefaultAuthSignalTTL = 15 * time.Minute

	maxRelayBackoff = 5 * time.Minute
)

type OutboxDispatcherConfig struct {
	Interval      time.Duration
	BatchSize     int
	MaxAttempts   int
	AuthSignalTTL time.Duration
}

// OutboxDispatcher relays recorded security events to a publisher. Tenant
// lifecycle and impersonation events are retried with backoff until they
// are dead-lettered; auth.* signals are dropped once they are older than
// AuthSignalTTL.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	logger    *zap.Logger
	cfg       OutboxDispatcherConfig
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Int64
	retried   atomic.Int64
	dead      atomic.Int64
	stale     atomic.Int64
}

type OutboxDispatcherMetrics struct {
	Published int64
	Retried   int64
	Dead      int64
	Stale     int64
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, logger *zap.Logger, cfg OutboxDispatcherConfig) *OutboxDispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRelayInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRelayBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRelayMaxAttempts
	}
	if cfg.AuthSignalTTL <= 0 {
		cfg.AuthSignalTTL = DefaultAuthSignalTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		logger:    logger.Named("outbox"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(ctx)
}

// Close stops the relay loop and waits for the batch in flight.
func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := d.relay(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("relay security events", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// relay handles one batch of due events. Repository errors abort the
// batch; publish errors only affect the event at hand.
func (d *OutboxDispatcher) relay(ctx context.Context) error {
	pending, err := d.repo.FetchPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch pending: %w", err)
	}

	for _, event := range pending {
		var envelope domain.EventEnvelope
		if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
			if err := d.bury(ctx, event, event.Attempts, "undecodable envelope: "+err.Error()); err != nil {
				return err
			}
			continue
		}
		fields := eventFields(event, envelope)

		if isAuthSignal(envelope.EventType) && d.now().Sub(envelope.OccurredAt) > d.cfg.AuthSignalTTL {
			if err := d.repo.MarkDead(ctx, event.ID, event.Attempts, "stale auth signal"); err != nil {
				return fmt.Errorf("drop stale event %d: %w", event.ID, err)
			}
			d.stale.Add(1)
			d.logger.Info("stale auth signal dropped", fields...)
			continue
		}

		if err := d.publisher.Publish(ctx, event.Topic, envelope); err != nil {
			if err := d.retryOrBury(ctx, event, fields, err); err != nil {
				return err
			}
			continue
		}
		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return fmt.Errorf("mark event %d dispatched: %w", event.ID, err)
		}
		d.published.Add(1)
		d.logger.Debug("security event relayed", fields...)
	}
	return nil
}

func (d *OutboxDispatcher) retryOrBury(ctx context.Context, event domain.OutboxEvent, fields []zap.Field, publishErr error) error {
	attempts := event.Attempts + 1
	if attempts >= d.cfg.MaxAttempts {
		return d.bury(ctx, event, attempts, publishErr.Error())
	}
	next := d.now().Add(relayBackoff(attempts))
	if err := d.repo.MarkFailed(ctx, event.ID, attempts, next.Format(time.RFC3339Nano), publishErr.Error()); err != nil {
		return fmt.Errorf("reschedule event %d: %w", event.ID, err)
	}
	d.retried.Add(1)
	d.logger.Warn("security event publish failed",
		append(fields, zap.Int("attempts", attempts), zap.Time("next_attempt_at", next), zap.Error(publishErr))...)
	return nil
}

func (d *OutboxDispatcher) bury(ctx context.Context, event domain.OutboxEvent, attempts int, reason string) error {
	if err := d.repo.MarkDead(ctx, event.ID, attempts, reason); err != nil {
		return fmt.Errorf("dead-letter event %d: %w", event.ID, err)
	}
	d.dead.Add(1)
	d.logger.Error("security event dead-lettered",
		zap.String("event_id", event.EventID),
		zap.String("topic", event.Topic),
		zap.String("tenant", tenantLabel(event.TenantID)),
		zap.Int("attempts", attempts),
		zap.String("reason", reason))
	return nil
}

func (d *OutboxDispatcher) Metrics() OutboxDispatcherMetrics {
	return OutboxDispatcherMetrics{
		Published: d.published.Load(),
		Retried:   d.retried.Load(),
		Dead:      d.dead.Load(),
		Stale:     d.stale.Load(),
	}
}

func eventFields(event domain.OutboxEvent, envelope domain.EventEnvelope) []zap.Field {
	return []zap.Field{
		zap.String("event_id", envelope.EventID),
		zap.String("event_type", envelope.EventType),
		zap.String("tenant", tenantLabel(envelope.TenantID)),
		zap.String("actor", envelope.Actor),
		zap.Int64("outbox_id", event.ID),
	}
}

func isAuthSignal(eventType string) bool {
	return strings.HasPrefix(eventType, "auth.")
}

func tenantLabel(tenantID string) string {
	if tenantID == "" {
		return "central"
	}
	return tenantID
}

// relayBackoff doubles from one second and caps at five minutes.
func relayBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 9 {
		return maxRelayBackoff
	}
	return min(time.Second<<(attempt-1), maxRelayBackoff)
}
