package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
)

const (
	DefaultImpersonationTTL  = 60 * time.Second
	DefaultImpersonationPath = "login/url"
	impersonationTokenBytes  = 32
)

type ImpersonationConfig struct {
	Enabled       bool
	CentralDomain string
	LoginPath     string
	TTL           time.Duration
}

type IssueRequest struct {
	Admin        domain.Identity
	TenantID     string
	TargetUser   string
	RedirectPath string
	Panel        string
	// TTL overrides the configured lifetime when positive.
	TTL    time.Duration
	Scheme string
}

type IssuedToken struct {
	Token domain.ImpersonationToken
	URL   string
}

type Redemption struct {
	Session      domain.Session
	RedirectPath string
}

// ImpersonationService mints single-use tokens in a tenant's store and
// redeems them on the tenant's own domain.
type ImpersonationService struct {
	cfg      ImpersonationConfig
	domains  ports.DomainRepository
	switcher *Switcher
	sessions *SessionManager
	events   *EventRecorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewImpersonationService(cfg ImpersonationConfig, domains ports.DomainRepository, switcher *Switcher, sessions *SessionManager, events *EventRecorder, logger *zap.Logger) *ImpersonationService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultImpersonationTTL
	}
	if strings.TrimSpace(cfg.LoginPath) == "" {
		cfg.LoginPath = DefaultImpersonationPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImpersonationService{
		cfg:      cfg,
		domains:  domains,
		switcher: switcher,
		sessions: sessions,
		events:   events,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ImpersonationService) Enabled() bool {
	return s.cfg.Enabled
}

// Issue persists a fresh token inside the tenant's store and returns it with
// the URL that redeems it on the tenant's canonical domain.
func (s *ImpersonationService) Issue(ctx context.Context, req IssueRequest) (IssuedToken, error) {
	if !s.cfg.Enabled {
		return IssuedToken{}, domain.ErrImpersonationDisabled
	}
	admin, ok := req.Admin.(domain.Impersonator)
	if !ok || !admin.CanImpersonate() {
		return IssuedToken{}, domain.ErrImpersonationDisabled
	}
	subject := domain.NormalizeSubject(req.TargetUser)
	if subject == "" {
		return IssuedToken{}, domain.FieldError("target_user", "is required")
	}
	redirect, err := localRedirect(req.RedirectPath)
	if err != nil {
		return IssuedToken{}, err
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}

	tenant, err := s.switcher.Tenant(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return IssuedToken{}, domain.ErrNotFound
		}
		return IssuedToken{}, fmt.Errorf("load tenant: %w", err)
	}
	if !tenant.Active {
		return IssuedToken{}, domain.ErrNotFound
	}

	domains, err := s.domains.ListByTenant(ctx, req.TenantID)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("list domains: %w", err)
	}
	if len(domains) == 0 {
		return IssuedToken{}, domain.ErrNotFound
	}
	canonical := domains[0]

	raw, err := newOpaqueToken(impersonationTokenBytes)
	if err != nil {
		return IssuedToken{}, err
	}
	now := s.now()
	token := domain.ImpersonationToken{
		Token:        raw,
		TokenHash:    HashToken(raw),
		TenantID:     req.TenantID,
		Subject:      subject,
		Impersonator: admin.Subject(),
		RedirectPath: redirect,
		Panel:        req.Panel,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}

	err = s.switcher.WithTenant(ctx, req.TenantID, func(ctx context.Context) error {
		scope, err := activeScope(ctx)
		if err != nil {
			return err
		}
		if _, err := scope.Store.Identities().FindBySubject(ctx, subject); err != nil {
			return err
		}
		return scope.Store.Tokens().Create(ctx, token)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return IssuedToken{}, domain.ErrNotFound
		}
		return IssuedToken{}, fmt.Errorf("store impersonation token: %w", err)
	}

	s.logger.Info("impersonation token issued",
		zap.String("tenant_id", req.TenantID),
		zap.String("admin", admin.Subject()),
		zap.Time("expires_at", token.ExpiresAt))
	s.events.Record(ctx, domain.EventImpersonationIssued, req.TenantID, subject, domain.EventMetadata{Actor: admin.Subject()}, map[string]any{
		"redirect_path": redirect,
		"panel":         req.Panel,
		"expires_at":    token.ExpiresAt,
	})

	return IssuedToken{Token: token, URL: s.redirectURL(req.Scheme, canonical, raw, subject)}, nil
}

// Redeem consumes raw inside the active tenant scope and opens a session
// for the impersonated subject. email, when given, must name the token's
// subject. priorSessionID is destroyed on success.
func (s *ImpersonationService) Redeem(ctx context.Context, raw, email, priorSessionID string) (Redemption, error) {
	scope, err := activeScope(ctx)
	if err != nil {
		return Redemption{}, err
	}
	raw = strings.TrimSpace(raw)
	if scope.Central() || raw == "" {
		return Redemption{}, domain.ErrTokenNotFound
	}

	hash := HashToken(raw)
	token, err := scope.Store.Tokens().FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Redemption{}, domain.ErrTokenNotFound
		}
		return Redemption{}, fmt.Errorf("find impersonation token: %w", err)
	}
	if token.TenantID != scope.TenantID {
		return Redemption{}, domain.ErrTokenNotFound
	}
	if email != "" && domain.NormalizeSubject(email) != token.Subject {
		return Redemption{}, domain.ErrTokenNotFound
	}
	now := s.now()
	if token.Expired(now) {
		return Redemption{}, domain.ErrTokenExpired
	}
	if token.Consumed {
		return Redemption{}, domain.ErrTokenAlreadyUsed
	}

	flipped, err := scope.Store.Tokens().MarkConsumed(ctx, hash, now)
	if err != nil {
		return Redemption{}, fmt.Errorf("consume impersonation token: %w", err)
	}
	if !flipped {
		return Redemption{}, domain.ErrTokenAlreadyUsed
	}

	if _, err := scope.Store.Identities().FindBySubject(ctx, token.Subject); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Redemption{}, domain.ErrTokenNotFound
		}
		return Redemption{}, fmt.Errorf("find identity: %w", err)
	}

	session, err := s.sessions.Establish(ctx, token.Subject, token.Panel, token.Impersonator, priorSessionID)
	if err != nil {
		return Redemption{}, err
	}

	s.logger.Info("impersonation token redeemed",
		zap.String("tenant_id", scope.TenantID),
		zap.String("admin", token.Impersonator))
	s.events.Record(ctx, domain.EventImpersonationRedeemed, scope.TenantID, token.Subject, domain.EventMetadata{Actor: token.Impersonator}, map[string]any{
		"panel": token.Panel,
	})

	return Redemption{Session: session, RedirectPath: token.RedirectPath}, nil
}

// localRedirect accepts only same-origin paths.
func localRedirect(path string) (string, error) {
	path = strings.TrimSpace(path)
	invalid := domain.FieldError("redirect_path", "must be a local path")
	if strings.ContainsAny(path, "\\\r\n\t") {
		return "", invalid
	}
	u, err := url.Parse(path)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return "", invalid
	}
	return "/" + strings.TrimLeft(path, "/"), nil
}

func (s *ImpersonationService) redirectURL(scheme string, d domain.Domain, raw, subject string) string {
	return domain.TenantURL(scheme, d, s.cfg.CentralDomain, s.cfg.LoginPath) +
		"?token=" + url.QueryEscape(raw) + "&email=" + url.QueryEscape(subject)
}
