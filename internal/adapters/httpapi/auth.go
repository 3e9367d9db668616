package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/usecase"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Subject        string `json:"subject"`
	TenantID       string `json:"tenant_id,omitempty"`
	Panel          string `json:"panel"`
	ImpersonatedBy string `json:"impersonated_by,omitempty"`
	ExpiresAt      string `json:"expires_at"`
}

func (h *Handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, h.cfg.AdminPanel)
}

func (h *Handler) tenantLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, h.cfg.Panel)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, panel string) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.gate.Authenticate(r.Context(), usecase.Credentials{
		Email:     req.Email,
		Password:  req.Password,
		IP:        clientIP(r),
		SessionID: h.sessionID(r),
	}, panel)
	if err != nil {
		if errors.Is(err, domain.ErrPanelAccessDenied) {
			h.clearSessionCookie(w)
		}
		h.handleDomainError(w, r, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Invalidate(r.Context(), h.sessionID(r)); err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// redeem consumes an impersonation token on the tenant's own domain and
// sends the browser to the stored redirect path.
func (h *Handler) redeem(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	res, err := h.impersonation.Redeem(r.Context(), query.Get("token"), query.Get("email"), h.sessionID(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	h.setSessionCookie(w, res.Session)
	http.Redirect(w, r, res.RedirectPath, http.StatusFound)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Lookup(r.Context(), h.sessionID(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	if session.Panel != chi.URLParam(r, "panel") {
		h.handleDomainError(w, r, domain.ErrPanelAccessDenied)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func toSessionResponse(session domain.Session) sessionResponse {
	return sessionResponse{
		Subject:        session.Subject,
		TenantID:       session.TenantID,
		Panel:          session.Panel,
		ImpersonatedBy: session.ImpersonatedBy,
		ExpiresAt:      formatTime(session.ExpiresAt),
	}
}
