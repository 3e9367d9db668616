package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/app"
	"github.com/atvirokodosprendimai/tenancy/internal/core/usecase"
	"github.com/atvirokodosprendimai/tenancy/internal/logging"
)

func main() {
	cmd := &cli.Command{
		Name:  "tenancy",
		Usage: "Tenant identity, domain resolution and impersonation service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("TENANCY_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./tenancy.sqlite",
				Sources: cli.EnvVars("TENANCY_DB_PATH"),
				Usage:   "Central SQLite file path",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Value:   "./tenants",
				Sources: cli.EnvVars("TENANCY_DATA_DIR"),
				Usage:   "Directory holding one SQLite file per tenant",
			},
			&cli.StringFlag{
				Name:     "central-domain",
				Required: true,
				Sources:  cli.EnvVars("TENANCY_CENTRAL_DOMAIN"),
				Usage:    "Host of the central admin application, e.g. example.com",
			},
			&cli.StringFlag{
				Name:    "scheme",
				Value:   "https",
				Sources: cli.EnvVars("TENANCY_SCHEME"),
				Usage:   "Scheme used in tenant links and impersonation URLs",
			},
			&cli.BoolFlag{
				Name:    "secure-cookies",
				Value:   true,
				Sources: cli.EnvVars("TENANCY_SECURE_COOKIES"),
				Usage:   "Mark session cookies Secure",
			},
			&cli.BoolFlag{
				Name:    "trust-proxy",
				Sources: cli.EnvVars("TENANCY_TRUST_PROXY"),
				Usage:   "Take client IPs from X-Forwarded-For/X-Real-IP; enable only behind a proxy that sets them",
			},
			&cli.BoolFlag{
				Name:    "allow-impersonate",
				Sources: cli.EnvVars("TENANCY_ALLOW_IMPERSONATE"),
				Usage:   "Allow central admins to sign in to tenants as a tenant user",
			},
			&cli.StringFlag{
				Name:    "panel",
				Value:   "app",
				Sources: cli.EnvVars("TENANCY_PANEL"),
				Usage:   "Tenant panel id",
			},
			&cli.StringFlag{
				Name:    "admin-panel",
				Value:   "admin",
				Sources: cli.EnvVars("TENANCY_ADMIN_PANEL"),
				Usage:   "Central admin panel id",
			},
			&cli.DurationFlag{
				Name:    "impersonation-ttl",
				Value:   60 * time.Second,
				Sources: cli.EnvVars("TENANCY_IMPERSONATION_TTL"),
				Usage:   "Lifetime of an impersonation token",
			},
			&cli.StringFlag{
				Name:    "impersonation-path",
				Value:   "login/url",
				Sources: cli.EnvVars("TENANCY_IMPERSONATION_PATH"),
				Usage:   "Tenant path that redeems impersonation tokens",
			},
			&cli.DurationFlag{
				Name:    "session-ttl",
				Value:   120 * time.Minute,
				Sources: cli.EnvVars("TENANCY_SESSION_TTL"),
				Usage:   "Absolute session lifetime",
			},
			&cli.IntFlag{
				Name:    "login-max-attempts",
				Value:   5,
				Sources: cli.EnvVars("TENANCY_LOGIN_MAX_ATTEMPTS"),
				Usage:   "Login attempts allowed per email and IP inside the decay window",
			},
			&cli.DurationFlag{
				Name:    "login-decay",
				Value:   time.Minute,
				Sources: cli.EnvVars("TENANCY_LOGIN_DECAY"),
				Usage:   "Login attempt window",
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Sources: cli.EnvVars("TENANCY_REDIS_ADDR"),
				Usage:   "Redis address for shared login attempt counters; empty keeps them in memory",
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Sources: cli.EnvVars("TENANCY_REDIS_PASSWORD"),
				Usage:   "Redis password",
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Sources: cli.EnvVars("TENANCY_REDIS_DB"),
				Usage:   "Redis database number",
			},
			&cli.IntFlag{
				Name:    "bcrypt-cost",
				Value:   12,
				Sources: cli.EnvVars("TENANCY_BCRYPT_COST"),
				Usage:   "bcrypt cost for stored passwords",
			},
			&cli.StringFlag{
				Name:    "bootstrap-admin-email",
				Sources: cli.EnvVars("TENANCY_BOOTSTRAP_ADMIN_EMAIL"),
				Usage:   "Optional central admin to upsert at startup",
			},
			&cli.StringFlag{
				Name:    "bootstrap-admin-password",
				Sources: cli.EnvVars("TENANCY_BOOTSTRAP_ADMIN_PASSWORD"),
				Usage:   "Password for the bootstrap admin",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("TENANCY_WEBHOOK_URL"),
				Usage:   "Security event webhook target URL; empty logs events instead",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("TENANCY_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
			&cli.DurationFlag{
				Name:    "outbox-interval",
				Value:   usecase.DefaultRelayInterval,
				Sources: cli.EnvVars("TENANCY_OUTBOX_INTERVAL"),
				Usage:   "How often pending security events are relayed",
			},
			&cli.DurationFlag{
				Name:    "auth-signal-ttl",
				Value:   usecase.DefaultAuthSignalTTL,
				Sources: cli.EnvVars("TENANCY_AUTH_SIGNAL_TTL"),
				Usage:   "Age after which undelivered auth.* events are dropped",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("TENANCY_LOG_LEVEL"),
				Usage:   "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Sources: cli.EnvVars("TENANCY_LOG_FORMAT"),
				Usage:   "json or console",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := logging.New(c.String("log-level"), c.String("log-format"))
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			cfg := app.Config{
				Addr:                   c.String("addr"),
				DBPath:                 c.String("db-path"),
				DataDir:                c.String("data-dir"),
				CentralDomain:          c.String("central-domain"),
				Scheme:                 c.String("scheme"),
				SecureCookies:          c.Bool("secure-cookies"),
				TrustProxy:             c.Bool("trust-proxy"),
				AllowImpersonate:       c.Bool("allow-impersonate"),
				Panel:                  c.String("panel"),
				AdminPanel:             c.String("admin-panel"),
				ImpersonationTTL:       c.Duration("impersonation-ttl"),
				ImpersonationPath:      c.String("impersonation-path"),
				SessionTTL:             c.Duration("session-ttl"),
				LoginMaxAttempts:       int(c.Int("login-max-attempts")),
				LoginDecay:             c.Duration("login-decay"),
				RedisAddr:              c.String("redis-addr"),
				RedisPassword:          c.String("redis-password"),
				RedisDB:                int(c.Int("redis-db")),
				BcryptCost:             int(c.Int("bcrypt-cost")),
				BootstrapAdminEmail:    c.String("bootstrap-admin-email"),
				BootstrapAdminPassword: c.String("bootstrap-admin-password"),
				WebhookURL:             c.String("webhook-url"),
				WebhookSecret:          c.String("webhook-secret"),
				OutboxInterval:         c.Duration("outbox-interval"),
				AuthSignalTTL:          c.Duration("auth-signal-ttl"),
			}

			server, closer, err := app.NewServer(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					logger.Error("close resources", zap.Error(closeErr))
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening",
					zap.String("addr", cfg.Addr),
					zap.String("central_domain", cfg.CentralDomain),
					zap.Bool("impersonation", cfg.AllowImpersonate))
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				logger.Info("received signal", zap.String("signal", sig.String()))
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
