package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/tenancy"
	"github.com/atvirokodosprendimai/tenancy/internal/core/usecase"
)

type ctxKey string

const (
	timeFormat             = "2006-01-02T15:04:05.999999999Z07:00"
	adminCtxKey     ctxKey = "admin"
	sessionCtxKey   ctxKey = "session"
	maxJSONBodySize        = 1 << 20
)

type Config struct {
	// Panel is the tenant-side panel that password and impersonated logins
	// open; AdminPanel is the central one.
	Panel         string
	AdminPanel    string
	CookieName    string
	SecureCookies bool
	// Scheme is used for links handed to the admin UI.
	Scheme string
	// TrustProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable it behind a proxy that overwrites them.
	TrustProxy bool
}

type Handler struct {
	cfg           Config
	resolver      *usecase.DomainResolver
	gate          *usecase.AuthGate
	sessions      *usecase.SessionManager
	impersonation *usecase.ImpersonationService
	tenants       *usecase.TenantService
	logger        *zap.Logger
}

func NewHandler(cfg Config, resolver *usecase.DomainResolver, gate *usecase.AuthGate, sessions *usecase.SessionManager, impersonation *usecase.ImpersonationService, tenants *usecase.TenantService, logger *zap.Logger) *Handler {
	if cfg.Panel == "" {
		cfg.Panel = "app"
	}
	if cfg.AdminPanel == "" {
		cfg.AdminPanel = "admin"
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "tenancy_session"
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:           cfg,
		resolver:      resolver,
		gate:          gate,
		sessions:      sessions,
		impersonation: impersonation,
		tenants:       tenants,
		logger:        logger.Named("http"),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.healthz)

	r.Group(func(rr chi.Router) {
		rr.Use(h.resolveDomain)

		rr.Group(func(cr chi.Router) {
			cr.Use(h.requireCentral)
			cr.Post("/admin/login", h.adminLogin)
			cr.Post("/admin/logout", h.logout)

			cr.Group(func(ar chi.Router) {
				ar.Use(h.requireAdmin)
				ar.Get("/admin/tenants", h.listTenants)
				ar.Post("/admin/tenants", h.createTenant)
				ar.Get("/admin/tenants/{id}", h.getTenant)
				ar.Patch("/admin/tenants/{id}", h.updateTenant)
				ar.Delete("/admin/tenants/{id}", h.deleteTenant)
				ar.Post("/admin/tenants/{id}/restore", h.restoreTenant)
				ar.Post("/admin/tenants/{id}/password", h.resetPassword)
				ar.Post("/admin/tenants/{id}/domains", h.addDomain)
				ar.Delete("/admin/tenants/{id}/domains/{domain}", h.removeDomain)
				ar.Post("/admin/tenants/{id}/impersonate", h.impersonate)
				ar.Get("/admin/tenants/{id}/url", h.viewURL)
			})
		})

		rr.Group(func(tr chi.Router) {
			tr.Use(h.requireTenant)
			tr.Post("/login", h.tenantLogin)
			tr.Get("/login/url", h.redeem)
			tr.Post("/logout", h.logout)
			tr.Get("/{panel}/me", h.me)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// resolveDomain activates the context owning the request host before any
// route runs. Unknown hosts get a bare 404.
func (h *Handler) resolveDomain(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := h.resolver.Within(r.Context(), r.Host, func(ctx context.Context) error {
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil
		})
		if err != nil {
			h.handleDomainError(w, r, err)
		}
	})
}

func (h *Handler) requireCentral(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scope, ok := tenancy.From(r.Context()); !ok || !scope.Central() {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scope, ok := tenancy.From(r.Context()); !ok || scope.Central() {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin loads the admin behind the session cookie.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		session, err := h.sessions.Lookup(ctx, h.sessionID(r))
		if err != nil {
			h.handleDomainError(w, r, err)
			return
		}
		if session.Panel != h.cfg.AdminPanel {
			h.handleDomainError(w, r, domain.ErrPanelAccessDenied)
			return
		}
		scope, _ := tenancy.From(ctx)
		identity, err := scope.Store.Identities().FindBySubject(ctx, session.Subject)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				err = usecase.ErrUnauthenticated
			}
			h.handleDomainError(w, r, err)
			return
		}
		if !identity.CanAccessPanel(h.cfg.AdminPanel) {
			h.handleDomainError(w, r, domain.ErrPanelAccessDenied)
			return
		}
		ctx = context.WithValue(ctx, adminCtxKey, identity)
		ctx = context.WithValue(ctx, sessionCtxKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminFromContext(ctx context.Context) domain.Identity {
	identity, _ := ctx.Value(adminCtxKey).(domain.Identity)
	return identity
}

func (h *Handler) eventMeta(r *http.Request) domain.EventMetadata {
	meta := domain.EventMetadata{Source: "admin", CorrelationID: middleware.GetReqID(r.Context())}
	if admin := adminFromContext(r.Context()); admin != nil {
		meta.Actor = admin.Subject()
	}
	return meta
}

func (h *Handler) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(h.cfg.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, session domain.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// handleDomainError renders err. Authentication failures stay generic and
// never reveal whether an account or token exists elsewhere.
func (h *Handler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var throttle *domain.ThrottleError
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &throttle):
		w.Header().Set("Retry-After", strconv.Itoa(throttle.Seconds()))
		writeError(w, http.StatusTooManyRequests, throttle.Error())
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": invalid.Fields})
	case errors.Is(err, domain.ErrUnknownDomain):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, usecase.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, domain.ErrPanelAccessDenied):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrImpersonationDisabled):
		writeError(w, http.StatusForbidden, "impersonation disabled")
	case errors.Is(err, domain.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, "token not found")
	case errors.Is(err, domain.ErrTokenExpired):
		writeError(w, http.StatusGone, "token expired")
	case errors.Is(err, domain.ErrTokenAlreadyUsed):
		writeError(w, http.StatusConflict, "token already used")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}
