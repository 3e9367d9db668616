package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
)

type TenantInput struct {
	ID                   string
	Name                 string
	Domain               string
	Email                string
	Phone                string
	Password             string
	PasswordConfirmation string
	Active               *bool
}

type TenantUpdate struct {
	Name                 *string
	Email                *string
	Phone                *string
	Password             string
	PasswordConfirmation string
	Active               *bool
}

type TenantView struct {
	Tenant  domain.Tenant
	Domains []domain.Domain
}

type TenantServiceConfig struct {
	CentralDomain string
	Panel         string
}

// TenantService backs the admin UI: tenant records, their domains and the
// owner account provisioned in each tenant store.
type TenantService struct {
	cfg      TenantServiceConfig
	tenants  ports.TenantRepository
	domains  ports.DomainRepository
	switcher *Switcher
	hasher   ports.PasswordHasher
	events   *EventRecorder
	logger   *zap.Logger

	createRules *FieldValidator
	updateRules *FieldValidator
	resetRules  *FieldValidator
}

func NewTenantService(cfg TenantServiceConfig, tenants ports.TenantRepository, domains ports.DomainRepository, switcher *Switcher, hasher ports.PasswordHasher, events *EventRecorder, logger *zap.Logger) *TenantService {
	if cfg.Panel == "" {
		cfg.Panel = "app"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantService{
		cfg:         cfg,
		tenants:     tenants,
		domains:     domains,
		switcher:    switcher,
		hasher:      hasher,
		events:      events,
		logger:      logger,
		createRules: MustFieldValidator(domain.TenantCreateRules),
		updateRules: MustFieldValidator(domain.TenantUpdateRules),
		resetRules:  MustFieldValidator(domain.PasswordResetRules),
	}
}

func (s *TenantService) Create(ctx context.Context, in TenantInput, meta domain.EventMetadata) (TenantView, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = domain.NormalizeSubject(in.Email)
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		in.ID = domain.TenantIDFromName(in.Name)
	}
	in.Domain = strings.ToLower(strings.TrimSpace(in.Domain))
	if in.Domain == "" {
		in.Domain = domain.DomainFromName(in.Name)
	}

	if err := s.createRules.Validate(map[string]string{
		"name":     in.Name,
		"id":       in.ID,
		"domain":   in.Domain,
		"email":    in.Email,
		"phone":    in.Phone,
		"password": in.Password,
	}); err != nil {
		return TenantView{}, err
	}
	if err := domain.ValidateDomain(in.Domain); err != nil {
		return TenantView{}, err
	}
	if err := confirmPassword(in.Password, in.PasswordConfirmation); err != nil {
		return TenantView{}, err
	}
	if err := s.ensureUnique(ctx, "id", in.ID, ""); err != nil {
		return TenantView{}, err
	}
	if err := s.ensureUnique(ctx, "name", in.Name, ""); err != nil {
		return TenantView{}, err
	}
	if err := s.ensureDomainFree(ctx, in.Domain); err != nil {
		return TenantView{}, err
	}

	var hash string
	if in.Password != "" {
		h, err := s.hasher.Hash(in.Password)
		if err != nil {
			return TenantView{}, err
		}
		hash = h
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	tenant, err := s.tenants.Create(ctx, domain.Tenant{
		ID:           in.ID,
		Name:         in.Name,
		Email:        in.Email,
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: hash,
		Active:       active,
	}, domain.Domain{Domain: in.Domain, TenantID: in.ID})
	if err != nil {
		return TenantView{}, err
	}

	if err := s.provisionOwner(ctx, tenant); err != nil {
		if purgeErr := s.tenants.Purge(ctx, tenant.ID); purgeErr != nil {
			s.logger.Error("purge unprovisioned tenant", zap.String("tenant_id", tenant.ID), zap.Error(purgeErr))
		}
		return TenantView{}, fmt.Errorf("provision tenant store: %w", err)
	}

	s.logger.Info("tenant created", zap.String("tenant_id", tenant.ID), zap.String("actor", meta.Actor))
	s.events.Record(ctx, domain.EventTenantCreated, tenant.ID, tenant.Email, meta, map[string]any{"name": tenant.Name, "domain": in.Domain})
	return s.Get(ctx, tenant.ID)
}

func (s *TenantService) Get(ctx context.Context, id string) (TenantView, error) {
	tenant, err := s.tenants.Get(ctx, id)
	if err != nil {
		return TenantView{}, err
	}
	domains, err := s.domains.ListByTenant(ctx, id)
	if err != nil {
		return TenantView{}, fmt.Errorf("list domains: %w", err)
	}
	return TenantView{Tenant: tenant, Domains: domains}, nil
}

func (s *TenantService) List(ctx context.Context, filter domain.TenantFilter) ([]domain.Tenant, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.tenants.List(ctx, filter)
}

func (s *TenantService) Update(ctx context.Context, id string, upd TenantUpdate, meta domain.EventMetadata) (TenantView, error) {
	tenant, err := s.tenants.Get(ctx, id)
	if err != nil {
		return TenantView{}, err
	}

	values := map[string]string{"password": upd.Password}
	if upd.Name != nil {
		values["name"] = strings.TrimSpace(*upd.Name)
		if values["name"] == "" {
			return TenantView{}, domain.FieldError("name", "is required")
		}
	}
	if upd.Email != nil {
		values["email"] = domain.NormalizeSubject(*upd.Email)
		if values["email"] == "" {
			return TenantView{}, domain.FieldError("email", "is required")
		}
	}
	if upd.Phone != nil {
		values["phone"] = *upd.Phone
	}
	if err := s.updateRules.Validate(values); err != nil {
		return TenantView{}, err
	}
	if err := confirmPassword(upd.Password, upd.PasswordConfirmation); err != nil {
		return TenantView{}, err
	}

	if upd.Name != nil && values["name"] != tenant.Name {
		if err := s.ensureUnique(ctx, "name", values["name"], tenant.ID); err != nil {
			return TenantView{}, err
		}
		tenant.Name = values["name"]
	}
	if upd.Email != nil {
		tenant.Email = values["email"]
	}
	if upd.Phone != nil {
		tenant.Phone = strings.TrimSpace(*upd.Phone)
	}
	if upd.Active != nil {
		tenant.Active = *upd.Active
	}
	if upd.Password != "" {
		hash, err := s.hasher.Hash(upd.Password)
		if err != nil {
			return TenantView{}, err
		}
		tenant.PasswordHash = hash
	}

	if _, err := s.tenants.Update(ctx, tenant); err != nil {
		return TenantView{}, err
	}
	if upd.Password != "" {
		if err := s.syncOwnerPassword(ctx, tenant); err != nil {
			return TenantView{}, err
		}
	}
	s.events.Record(ctx, domain.EventTenantUpdated, tenant.ID, tenant.Email, meta, nil)
	return s.Get(ctx, tenant.ID)
}

func (s *TenantService) SetActive(ctx context.Context, id string, active bool, meta domain.EventMetadata) (TenantView, error) {
	return s.Update(ctx, id, TenantUpdate{Active: &active}, meta)
}

// Delete soft-deletes the tenant; its store and domains are kept so that
// Restore brings it back unchanged.
func (s *TenantService) Delete(ctx context.Context, id string, meta domain.EventMetadata) (bool, error) {
	deleted, err := s.tenants.SoftDelete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("tenant deleted", zap.String("tenant_id", id), zap.String("actor", meta.Actor))
		s.events.Record(ctx, domain.EventTenantDeleted, id, "", meta, nil)
	}
	return deleted, nil
}

func (s *TenantService) Restore(ctx context.Context, id string, meta domain.EventMetadata) (bool, error) {
	restored, err := s.tenants.Restore(ctx, id)
	if err != nil {
		return false, err
	}
	if restored {
		s.events.Record(ctx, domain.EventTenantRestored, id, "", meta, nil)
	}
	return restored, nil
}

// ResetPassword writes a new hash straight to the tenant record and its
// owner account, bypassing the authentication gate.
func (s *TenantService) ResetPassword(ctx context.Context, id, password, confirmation string, meta domain.EventMetadata) error {
	if err := s.resetRules.Validate(map[string]string{"password": password}); err != nil {
		return err
	}
	if err := confirmPassword(password, confirmation); err != nil {
		return err
	}
	tenant, err := s.tenants.Get(ctx, id)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.tenants.UpdatePasswordHash(ctx, id, hash); err != nil {
		return err
	}
	tenant.PasswordHash = hash
	if err := s.syncOwnerPassword(ctx, tenant); err != nil {
		return err
	}
	s.events.Record(ctx, domain.EventTenantPasswordReset, id, tenant.Email, meta, nil)
	return nil
}

func (s *TenantService) AddDomain(ctx context.Context, tenantID, host string) (domain.Domain, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if err := domain.ValidateDomain(host); err != nil {
		return domain.Domain{}, err
	}
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		return domain.Domain{}, err
	}
	if err := s.ensureDomainFree(ctx, host); err != nil {
		return domain.Domain{}, err
	}
	return s.domains.Add(ctx, domain.Domain{Domain: host, TenantID: tenantID, CreatedAt: time.Now().UTC()})
}

func (s *TenantService) RemoveDomain(ctx context.Context, tenantID, host string) (bool, error) {
	return s.domains.Remove(ctx, tenantID, strings.ToLower(strings.TrimSpace(host)))
}

// ViewURL links to the tenant panel on its canonical domain.
func (s *TenantService) ViewURL(ctx context.Context, tenantID, scheme string) (string, error) {
	domains, err := s.domains.ListByTenant(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("list domains: %w", err)
	}
	if len(domains) == 0 {
		return "", domain.ErrNotFound
	}
	return domain.TenantURL(scheme, domains[0], s.cfg.CentralDomain, s.cfg.Panel), nil
}

func (s *TenantService) provisionOwner(ctx context.Context, tenant domain.Tenant) error {
	return s.switcher.WithTenant(ctx, tenant.ID, func(ctx context.Context) error {
		scope, err := activeScope(ctx)
		if err != nil {
			return err
		}
		if tenant.PasswordHash == "" {
			return nil
		}
		return scope.Store.Identities().Upsert(ctx, domain.Account{
			Email:        tenant.Email,
			Name:         tenant.Name,
			PasswordHash: tenant.PasswordHash,
			Active:       true,
			Panels:       []string{s.cfg.Panel},
			CreatedAt:    time.Now().UTC(),
		}, false)
	})
}

func (s *TenantService) syncOwnerPassword(ctx context.Context, tenant domain.Tenant) error {
	return s.switcher.WithTenant(ctx, tenant.ID, func(ctx context.Context) error {
		scope, err := activeScope(ctx)
		if err != nil {
			return err
		}
		updated, err := scope.Store.Identities().UpdatePasswordHash(ctx, tenant.Email, tenant.PasswordHash)
		if err != nil {
			return fmt.Errorf("sync owner password: %w", err)
		}
		if updated {
			return nil
		}
		return scope.Store.Identities().Upsert(ctx, domain.Account{
			Email:        tenant.Email,
			Name:         tenant.Name,
			PasswordHash: tenant.PasswordHash,
			Active:       true,
			Panels:       []string{s.cfg.Panel},
			CreatedAt:    time.Now().UTC(),
		}, false)
	})
}

func (s *TenantService) ensureUnique(ctx context.Context, column, value, exceptID string) error {
	taken, err := s.tenants.Taken(ctx, column, value, exceptID)
	if err != nil {
		return fmt.Errorf("check %s: %w", column, err)
	}
	if taken {
		return &domain.ValidationError{Fields: map[string]string{column: "has already been taken"}}
	}
	return nil
}

// ensureDomainFree rejects host when it, or the other form of the same
// public hostname, is already registered. "acme" and "acme.<central>" are
// one host.
func (s *TenantService) ensureDomainFree(ctx context.Context, host string) error {
	central := s.cfg.CentralDomain
	if central != "" && host == central {
		return domain.FieldError("domain", "is reserved for the central application")
	}
	candidates := []string{host}
	if central != "" {
		if !strings.Contains(host, ".") {
			candidates = append(candidates, host+"."+central)
		} else if label, ok := strings.CutSuffix(host, "."+central); ok && label != "" && !strings.Contains(label, ".") {
			candidates = append(candidates, label)
		}
	}

	for _, candidate := range candidates {
		_, err := s.domains.FindByHost(ctx, candidate)
		switch {
		case err == nil:
			return &domain.ValidationError{Fields: map[string]string{"domain": "has already been taken"}}
		case errors.Is(err, domain.ErrNotFound):
		default:
			return fmt.Errorf("check domain: %w", err)
		}
	}
	return nil
}

func confirmPassword(password, confirmation string) error {
	if password != "" && password != confirmation {
		return domain.FieldError("password", "confirmation does not match")
	}
	return nil
}
