package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/adapters/events"
	"github.com/atvirokodosprendimai/tenancy/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/tenancy/internal/adapters/ratelimit"
	sqliteadapter "github.com/atvirokodosprendimai/tenancy/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/tenancy/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
	"github.com/atvirokodosprendimai/tenancy/internal/core/usecase"
	"github.com/atvirokodosprendimai/tenancy/migrations"
)

type Config struct {
	Addr          string
	DBPath        string
	DataDir       string
	CentralDomain string
	Scheme        string
	SecureCookies bool
	TrustProxy    bool

	AllowImpersonate  bool
	Panel             string
	AdminPanel        string
	ImpersonationTTL  time.Duration
	ImpersonationPath string
	SessionTTL        time.Duration

	LoginMaxAttempts int
	LoginDecay       time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	BcryptCost             int
	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	WebhookURL    string
	WebhookSecret string

	OutboxInterval time.Duration
	AuthSignalTTL  time.Duration
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func NewServer(ctx context.Context, cfg Config, logger *zap.Logger) (*http.Server, io.Closer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.CentralDomain) == "" {
		return nil, nil, fmt.Errorf("central domain is required")
	}

	db, err := gormsqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open central sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.UpCentral(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	tenantRepo := sqliteadapter.NewTenantRepository(db)
	domainRepo := sqliteadapter.NewDomainRepository(db)
	outboxRepo := sqliteadapter.NewOutboxRepository(db)
	stores := sqliteadapter.NewStores(db, cfg.DataDir, logger)

	limiter, limiterCloser := newLimiter(cfg, logger)

	hasher := usecase.NewBcryptHasher(cfg.BcryptCost)
	recorder := usecase.NewEventRecorder(outboxRepo, logger)
	switcher := usecase.NewSwitcher(tenantRepo, stores, logger)
	resolver := usecase.NewDomainResolver(cfg.CentralDomain, domainRepo, tenantRepo, switcher)
	sessions := usecase.NewSessionManager(cfg.SessionTTL)
	gate := usecase.NewAuthGate(limiter, hasher, sessions, recorder, logger, usecase.AuthGateConfig{
		MaxAttempts: cfg.LoginMaxAttempts,
		Decay:       cfg.LoginDecay,
	})
	impersonation := usecase.NewImpersonationService(usecase.ImpersonationConfig{
		Enabled:       cfg.AllowImpersonate,
		CentralDomain: cfg.CentralDomain,
		LoginPath:     cfg.ImpersonationPath,
		TTL:           cfg.ImpersonationTTL,
	}, domainRepo, switcher, sessions, recorder, logger)
	tenants := usecase.NewTenantService(usecase.TenantServiceConfig{
		CentralDomain: cfg.CentralDomain,
		Panel:         cfg.Panel,
	}, tenantRepo, domainRepo, switcher, hasher, recorder, logger)

	if cfg.BootstrapAdminEmail != "" {
		bootstrapCtx, bootstrapCancel := context.WithTimeout(ctx, 5*time.Second)
		err := bootstrapAdmin(bootstrapCtx, stores.Central(), hasher, cfg)
		bootstrapCancel()
		if err != nil {
			_ = limiterCloser.Close()
			_ = db.Close()
			return nil, nil, fmt.Errorf("bootstrap admin: %w", err)
		}
		logger.Info("bootstrap admin ensured", zap.String("subject", domain.NormalizeSubject(cfg.BootstrapAdminEmail)))
	}

	var publisher ports.EventPublisher = events.NewLogPublisher(logger)
	if cfg.WebhookURL != "" {
		publisher = events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
	}
	dispatcher := usecase.NewOutboxDispatcher(outboxRepo, publisher, logger, usecase.OutboxDispatcherConfig{
		Interval:      cfg.OutboxInterval,
		AuthSignalTTL: cfg.AuthSignalTTL,
	})
	dispatcher.Start(context.Background())

	handler := httpapi.NewHandler(httpapi.Config{
		Panel:         cfg.Panel,
		AdminPanel:    cfg.AdminPanel,
		SecureCookies: cfg.SecureCookies,
		Scheme:        cfg.Scheme,
		TrustProxy:    cfg.TrustProxy,
	}, resolver, gate, sessions, impersonation, tenants, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Close order: dispatcher before the databases it reads.
	return server, resourceCloser{closers: []io.Closer{dispatcher, limiterCloser, stores, db}}, nil
}

func newLimiter(cfg Config, logger *zap.Logger) (ports.AttemptLimiter, io.Closer) {
	if cfg.RedisAddr == "" {
		l := ratelimit.NewMemoryLimiter(time.Minute)
		return l, l
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.Info("login attempts counted in redis", zap.String("addr", cfg.RedisAddr))
	return ratelimit.NewRedisLimiter(client, ""), client
}

func bootstrapAdmin(ctx context.Context, central ports.Store, hasher ports.PasswordHasher, cfg Config) error {
	if len(cfg.BootstrapAdminPassword) < domain.MinPasswordLength {
		return fmt.Errorf("%w: bootstrap admin password must be at least %d characters", domain.ErrInvalidInput, domain.MinPasswordLength)
	}
	hash, err := hasher.Hash(cfg.BootstrapAdminPassword)
	if err != nil {
		return err
	}
	panel := cfg.AdminPanel
	if panel == "" {
		panel = "admin"
	}
	email := domain.NormalizeSubject(cfg.BootstrapAdminEmail)
	return central.Identities().Upsert(ctx, domain.Account{
		Email:        email,
		Name:         email,
		PasswordHash: hash,
		Active:       true,
		Panels:       []string{panel},
		CreatedAt:    time.Now().UTC(),
	}, true)
}
