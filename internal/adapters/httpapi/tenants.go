package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/usecase"
)

type createTenantRequest struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Domain               string `json:"domain"`
	Email                string `json:"email"`
	Phone                string `json:"phone"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	Active               *bool  `json:"active"`
}

type updateTenantRequest struct {
	Name                 *string `json:"name"`
	Email                *string `json:"email"`
	Phone                *string `json:"phone"`
	Password             string  `json:"password"`
	PasswordConfirmation string  `json:"password_confirmation"`
	Active               *bool   `json:"active"`
}

type passwordRequest struct {
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type domainRequest struct {
	Domain string `json:"domain"`
}

type impersonateRequest struct {
	User     string `json:"user"`
	Redirect string `json:"redirect"`
	Panel    string `json:"panel"`
}

type tenantResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone,omitempty"`
	Active    bool     `json:"active"`
	Domains   []string `json:"domains,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	DeletedAt string   `json:"deleted_at,omitempty"`
}

func (h *Handler) listTenants(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.TenantFilter{IncludeDeleted: query.Get("deleted") == "true"}
	if raw := query.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		filter.Active = &active
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return
		}
		filter.Limit = limit
	}

	tenants, err := h.tenants.List(r.Context(), filter)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	items := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		items = append(items, toTenantResponse(usecase.TenantView{Tenant: t}))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := h.tenants.Create(r.Context(), usecase.TenantInput{
		ID:                   req.ID,
		Name:                 req.Name,
		Domain:               req.Domain,
		Email:                req.Email,
		Phone:                req.Phone,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
		Active:               req.Active,
	}, h.eventMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenantResponse(view))
}

func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	view, err := h.tenants.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(view))
}

func (h *Handler) updateTenant(w http.ResponseWriter, r *http.Request) {
	var req updateTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := h.tenants.Update(r.Context(), chi.URLParam(r, "id"), usecase.TenantUpdate{
		Name:                 req.Name,
		Email:                req.Email,
		Phone:                req.Phone,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
		Active:               req.Active,
	}, h.eventMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(view))
}

func (h *Handler) deleteTenant(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.tenants.Delete(r.Context(), chi.URLParam(r, "id"), h.eventMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (h *Handler) restoreTenant(w http.ResponseWriter, r *http.Request) {
	restored, err := h.tenants.Restore(r.Context(), chi.URLParam(r, "id"), h.eventMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"restored": restored})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.tenants.ResetPassword(r.Context(), chi.URLParam(r, "id"), req.Password, req.PasswordConfirmation, h.eventMeta(r)); err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.tenants.AddDomain(r.Context(), chi.URLParam(r, "id"), req.Domain)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"domain": d.Domain, "tenant_id": d.TenantID})
}

func (h *Handler) removeDomain(w http.ResponseWriter, r *http.Request) {
	removed, err := h.tenants.RemoveDomain(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "domain"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// impersonate mints a token for a tenant user, the tenant owner by
// default, and redirects the admin to the tenant's redemption URL.
func (h *Handler) impersonate(w http.ResponseWriter, r *http.Request) {
	var req impersonateRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	tenantID := chi.URLParam(r, "id")

	user := strings.TrimSpace(req.User)
	if user == "" {
		view, err := h.tenants.Get(r.Context(), tenantID)
		if err != nil {
			h.handleDomainError(w, r, err)
			return
		}
		user = view.Tenant.Email
	}
	panel := req.Panel
	if panel == "" {
		panel = h.cfg.Panel
	}
	redirect := req.Redirect
	if redirect == "" {
		redirect = "/" + panel
	}

	issued, err := h.impersonation.Issue(r.Context(), usecase.IssueRequest{
		Admin:        adminFromContext(r.Context()),
		TenantID:     tenantID,
		TargetUser:   user,
		RedirectPath: redirect,
		Panel:        panel,
		Scheme:       h.cfg.Scheme,
	})
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", issued.URL)
	writeJSON(w, http.StatusSeeOther, map[string]string{
		"url":        issued.URL,
		"expires_at": formatTime(issued.Token.ExpiresAt),
	})
}

func (h *Handler) viewURL(w http.ResponseWriter, r *http.Request) {
	link, err := h.tenants.ViewURL(r.Context(), chi.URLParam(r, "id"), h.cfg.Scheme)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

func toTenantResponse(view usecase.TenantView) tenantResponse {
	resp := tenantResponse{
		ID:        view.Tenant.ID,
		Name:      view.Tenant.Name,
		Email:     view.Tenant.Email,
		Phone:     view.Tenant.Phone,
		Active:    view.Tenant.Active,
		CreatedAt: formatTime(view.Tenant.CreatedAt),
		UpdatedAt: formatTime(view.Tenant.UpdatedAt),
	}
	if view.Tenant.DeletedAt != nil {
		resp.DeletedAt = formatTime(*view.Tenant.DeletedAt)
	}
	for _, d := range view.Domains {
		resp.Domains = append(resp.Domains, d.Domain)
	}
	return resp
}
