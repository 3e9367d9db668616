package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
)

type TenantRepository interface {
	// Create stores the tenant together with its first domain.
	Create(ctx context.Context, tenant domain.Tenant, first domain.Domain) (domain.Tenant, error)
	Get(ctx context.Context, id string) (domain.Tenant, error)
	List(ctx context.Context, filter domain.TenantFilter) ([]domain.Tenant, error)
	Update(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SoftDelete(ctx context.Context, id string) (bool, error)
	Restore(ctx context.Context, id string) (bool, error)
	// Purge removes the tenant row and its domains for good.
	Purge(ctx context.Context, id string) error
	// Taken reports whether column already holds value on a tenant other
	// than exceptID, soft-deleted rows included.
	Taken(ctx context.Context, column, value, exceptID string) (bool, error)
}

type DomainRepository interface {
	FindByHost(ctx context.Context, host string) (domain.Domain, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Domain, error)
	Add(ctx context.Context, d domain.Domain) (domain.Domain, error)
	Remove(ctx context.Context, tenantID, host string) (bool, error)
}
