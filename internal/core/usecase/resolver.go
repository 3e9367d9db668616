package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
)

// Resolution is the outcome of mapping a host to a context.
type Resolution struct {
	Central  bool
	TenantID string
	Domain   domain.Domain
}

// DomainResolver maps request hosts to tenants.
type DomainResolver struct {
	centralDomain string
	domains       ports.DomainRepository
	tenants       ports.TenantRepository
	switcher      *Switcher
}

func NewDomainResolver(centralDomain string, domains ports.DomainRepository, tenants ports.TenantRepository, switcher *Switcher) *DomainResolver {
	return &DomainResolver{
		centralDomain: domain.NormalizeHost(centralDomain),
		domains:       domains,
		tenants:       tenants,
		switcher:      switcher,
	}
}

// Resolve maps host to the central context or to the tenant owning it.
// Every miss, including soft-deleted and inactive tenants, is reported as
// ErrUnknownDomain.
func (r *DomainResolver) Resolve(ctx context.Context, host string) (Resolution, error) {
	host = domain.NormalizeHost(host)
	if host == "" {
		return Resolution{}, domain.ErrUnknownDomain
	}
	if host == r.centralDomain {
		return Resolution{Central: true}, nil
	}

	d, err := r.lookup(ctx, host)
	if err != nil {
		return Resolution{}, err
	}

	tenant, err := r.tenants.Get(ctx, d.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Resolution{}, domain.ErrUnknownDomain
		}
		return Resolution{}, fmt.Errorf("load tenant: %w", err)
	}
	if !tenant.Active {
		return Resolution{}, domain.ErrUnknownDomain
	}
	return Resolution{TenantID: tenant.ID, Domain: d}, nil
}

// Within resolves host and runs fn inside the resolved context.
func (r *DomainResolver) Within(ctx context.Context, host string, fn func(ctx context.Context) error) error {
	res, err := r.Resolve(ctx, host)
	if err != nil {
		return err
	}
	if res.Central {
		return fn(r.switcher.Central(ctx))
	}
	err = r.switcher.WithTenant(ctx, res.TenantID, fn)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrUnknownDomain
	}
	return err
}

func (r *DomainResolver) lookup(ctx context.Context, host string) (domain.Domain, error) {
	d, err := r.domains.FindByHost(ctx, host)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Domain{}, fmt.Errorf("find domain: %w", err)
	}

	if r.centralDomain == "" || !strings.HasSuffix(host, "."+r.centralDomain) {
		return domain.Domain{}, domain.ErrUnknownDomain
	}
	label := strings.TrimSuffix(host, "."+r.centralDomain)
	if label == "" || strings.Contains(label, ".") {
		return domain.Domain{}, domain.ErrUnknownDomain
	}
	d, err = r.domains.FindByHost(ctx, label)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Domain{}, domain.ErrUnknownDomain
		}
		return domain.Domain{}, fmt.Errorf("find domain: %w", err)
	}
	return d, nil
}
