package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
)

const (
	DefaultMaxLoginAttempts = 5
	DefaultLoginDecay       = time.Minute
)

type Credentials struct {
	Email    string
	Password string
	IP       string
	// SessionID is the caller's current session, if any. It never survives
	// an authentication attempt that reaches the panel check.
	SessionID string
}

type AuthGateConfig struct {
	MaxAttempts int
	Decay       time.Duration
}

// AuthGate verifies credentials against the active scope's identities.
type AuthGate struct {
	limiter     ports.AttemptLimiter
	hasher      ports.PasswordHasher
	sessions    *SessionManager
	events      *EventRecorder
	logger      *zap.Logger
	maxAttempts int
	decay       time.Duration

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthGate(limiter ports.AttemptLimiter, hasher ports.PasswordHasher, sessions *SessionManager, events *EventRecorder, logger *zap.Logger, cfg AuthGateConfig) *AuthGate {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxLoginAttempts
	}
	if cfg.Decay <= 0 {
		cfg.Decay = DefaultLoginDecay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthGate{
		limiter:     limiter,
		hasher:      hasher,
		sessions:    sessions,
		events:      events,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		decay:       cfg.Decay,
	}
}

// Authenticate signs creds in to panel within the active scope. Every call
// counts against the identity+IP key; once the key holds more than the
// allowed attempts the call fails with a *domain.ThrottleError whatever
// the credentials.
func (g *AuthGate) Authenticate(ctx context.Context, creds Credentials, panel string) (domain.Session, error) {
	scope, err := activeScope(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	subject := domain.NormalizeSubject(creds.Email)
	key := throttleKey(scope.Label(), panel, subject, creds.IP)

	attempts, retryAfter, err := g.limiter.Hit(ctx, key, g.decay)
	if err != nil {
		return domain.Session{}, fmt.Errorf("rate limit: %w", err)
	}
	if attempts > g.maxAttempts {
		g.logger.Warn("login throttled",
			zap.String("scope", scope.Label()),
			zap.String("panel", panel),
			zap.Int("attempts", attempts),
			zap.Duration("retry_after", retryAfter))
		if attempts == g.maxAttempts+1 {
			g.events.Record(ctx, domain.EventAuthThrottled, scope.TenantID, subject, domain.EventMetadata{Actor: subject}, map[string]any{"panel": panel, "ip": creds.IP})
		}
		return domain.Session{}, &domain.ThrottleError{RetryAfter: retryAfter}
	}

	identity, err := scope.Store.Identities().FindBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Burn the same work as a real comparison.
			g.hasher.Compare(g.dummy(), creds.Password)
			return domain.Session{}, domain.ErrInvalidCredentials
		}
		return domain.Session{}, fmt.Errorf("find identity: %w", err)
	}
	if !g.hasher.Compare(identity.HashedPassword(), creds.Password) {
		return domain.Session{}, domain.ErrInvalidCredentials
	}

	if !identity.CanAccessPanel(panel) {
		if err := g.sessions.Invalidate(ctx, creds.SessionID); err != nil {
			return domain.Session{}, err
		}
		g.logger.Info("panel access denied", zap.String("scope", scope.Label()), zap.String("panel", panel))
		g.events.Record(ctx, domain.EventAuthPanelDenied, scope.TenantID, subject, domain.EventMetadata{Actor: subject}, map[string]any{"panel": panel})
		return domain.Session{}, domain.ErrPanelAccessDenied
	}

	if err := g.limiter.Clear(ctx, key); err != nil {
		g.logger.Warn("clear login attempts", zap.Error(err))
	}
	return g.sessions.Establish(ctx, identity.Subject(), panel, "", creds.SessionID)
}

func (g *AuthGate) dummy() string {
	g.dummyOnce.Do(func() {
		hash, err := g.hasher.Hash("tenancy-dummy-password")
		if err == nil {
			g.dummyHash = hash
		}
	})
	return g.dummyHash
}

func throttleKey(scope, panel, subject, ip string) string {
	return "login:" + HashToken(strings.Join([]string{scope, panel, subject, ip}, "|"))
}
