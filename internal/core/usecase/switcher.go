package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
	"github.com/atvirokodosprendimai/tenancy/internal/core/tenancy"
)

// Switcher activates a tenant's isolated store for the duration of a unit
// of work.
type Switcher struct {
	tenants ports.TenantRepository
	stores  ports.StoreRegistry
	logger  *zap.Logger
}

func NewSwitcher(tenants ports.TenantRepository, stores ports.StoreRegistry, logger *zap.Logger) *Switcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Switcher{tenants: tenants, stores: stores, logger: logger}
}

// Central returns ctx with the central scope active.
func (s *Switcher) Central(ctx context.Context) context.Context {
	return tenancy.With(ctx, tenancy.Scope{Store: s.stores.Central()})
}

// WithTenant runs fn with tenantID's scope active. fn receives a derived
// context; the caller's context is never mutated, so whatever scope was
// active before (central, another tenant or none) is still active once fn
// returns, errors and panics included.
func (s *Switcher) WithTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return domain.ErrNotFound
	}
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("load tenant: %w", err)
	}
	store, err := s.stores.Tenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("open tenant store: %w", err)
	}

	previous := "none"
	if prev, ok := tenancy.From(ctx); ok {
		previous = prev.Label()
	}
	s.logger.Debug("tenancy initialized", zap.String("tenant_id", tenantID), zap.String("previous", previous))
	defer s.logger.Debug("tenancy ended", zap.String("tenant_id", tenantID), zap.String("restored", previous))

	return fn(tenancy.With(ctx, tenancy.Scope{TenantID: tenantID, Store: store}))
}

// Tenant returns the live tenant record for tenantID.
func (s *Switcher) Tenant(ctx context.Context, tenantID string) (domain.Tenant, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return s.tenants.Get(ctx, tenantID)
}

func activeScope(ctx context.Context) (tenancy.Scope, error) {
	scope, ok := tenancy.From(ctx)
	if !ok || scope.Store == nil {
		return tenancy.Scope{}, domain.ErrNoActiveScope
	}
	return scope, nil
}
