package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
)

func TestTenantRepositorySoftDeleteAndRestore(t *testing.T) {
	ctx := context.Background()
	db := openCentral(t)
	repo := NewTenantRepository(db)

	created, err := repo.Create(ctx, domain.Tenant{ID: "acme", Name: "Acme", Email: "bob@acme.com", Active: true}, domain.Domain{Domain: "acme", TenantID: "acme"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.CreatedAt.IsZero() || created.Deleted() {
		t.Fatalf("unexpected created tenant %+v", created)
	}

	deleted, err := repo.SoftDelete(ctx, "acme")
	if err != nil || !deleted {
		t.Fatalf("soft delete: %v, %v", deleted, err)
	}
	if again, _ := repo.SoftDelete(ctx, "acme"); again {
		t.Fatal("expected second delete to be a no-op")
	}
	if _, err := repo.Get(ctx, "acme"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	visible, err := repo.List(ctx, domain.TenantFilter{})
	if err != nil || len(visible) != 0 {
		t.Fatalf("expected no visible tenants, got %d, %v", len(visible), err)
	}
	all, err := repo.List(ctx, domain.TenantFilter{IncludeDeleted: true})
	if err != nil || len(all) != 1 || !all[0].Deleted() {
		t.Fatalf("expected deleted tenant in unscoped list, got %+v, %v", all, err)
	}

	taken, err := repo.Taken(ctx, "name", "Acme", "")
	if err != nil || !taken {
		t.Fatalf("deleted tenants must keep their name reserved: %v, %v", taken, err)
	}

	restored, err := repo.Restore(ctx, "acme")
	if err != nil || !restored {
		t.Fatalf("restore: %v, %v", restored, err)
	}
	got, err := repo.Get(ctx, "acme")
	if err != nil || got.Deleted() || got.Email != "bob@acme.com" {
		t.Fatalf("unexpected restored tenant %+v, %v", got, err)
	}
	if again, _ := repo.Restore(ctx, "acme"); again {
		t.Fatal("expected second restore to be a no-op")
	}
}

func TestTenantRepositoryCreateIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := openCentral(t)
	repo := NewTenantRepository(db)

	if _, err := repo.Create(ctx, domain.Tenant{ID: "acme", Name: "Acme", Active: true}, domain.Domain{Domain: "acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Create(ctx, domain.Tenant{ID: "acme", Name: "Other", Active: true}, domain.Domain{Domain: "other"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on id, got %v", err)
	}
	if _, err := repo.Create(ctx, domain.Tenant{ID: "globex", Name: "Globex", Active: true}, domain.Domain{Domain: "acme"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on domain, got %v", err)
	}
	if _, err := repo.Get(ctx, "globex"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed create must not leave a tenant behind, got %v", err)
	}
}

func TestTenantRepositoryPurgeFreesIdentifiers(t *testing.T) {
	ctx := context.Background()
	db := openCentral(t)
	repo := NewTenantRepository(db)
	domains := NewDomainRepository(db)

	if _, err := repo.Create(ctx, domain.Tenant{ID: "acme", Name: "Acme", Active: true}, domain.Domain{Domain: "acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := domains.Add(ctx, domain.Domain{Domain: "shop.acme.io", TenantID: "acme"}); err != nil {
		t.Fatalf("add domain: %v", err)
	}
	if err := repo.Purge(ctx, "acme"); err != nil {
		t.Fatalf("purge: %v", err)
	}

	all, err := repo.List(ctx, domain.TenantFilter{IncludeDeleted: true})
	if err != nil || len(all) != 0 {
		t.Fatalf("purged tenant must not survive as deleted, got %+v, %v", all, err)
	}
	if _, err := domains.FindByHost(ctx, "shop.acme.io"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("purged tenant domains must be gone, got %v", err)
	}
	if taken, _ := repo.Taken(ctx, "name", "Acme", ""); taken {
		t.Fatal("purge must release the name")
	}
	if _, err := repo.Create(ctx, domain.Tenant{ID: "acme", Name: "Acme", Active: true}, domain.Domain{Domain: "acme"}); err != nil {
		t.Fatalf("recreate after purge: %v", err)
	}
}

func TestTenantRepositoryUpdateAndList(t *testing.T) {
	ctx := context.Background()
	db := openCentral(t)
	repo := NewTenantRepository(db)

	for _, id := range []string{"one", "two", "three"} {
		if _, err := repo.Create(ctx, domain.Tenant{ID: id, Name: id, Active: true}, domain.Domain{Domain: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	two, _ := repo.Get(ctx, "two")
	two.Active = false
	two.Phone = "+370 600 00000"
	updated, err := repo.Update(ctx, two)
	if err != nil || updated.Active || updated.Phone != "+370 600 00000" {
		t.Fatalf("unexpected update %+v, %v", updated, err)
	}
	if _, err := repo.Update(ctx, domain.Tenant{ID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	two.Name = "one"
	if _, err := repo.Update(ctx, two); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected name conflict, got %v", err)
	}

	list, err := repo.List(ctx, domain.TenantFilter{})
	if err != nil || len(list) != 3 || list[0].ID != "three" || list[2].ID != "one" {
		t.Fatalf("expected newest first, got %+v, %v", list, err)
	}
	active := true
	list, _ = repo.List(ctx, domain.TenantFilter{Active: &active})
	if len(list) != 2 {
		t.Fatalf("expected 2 active tenants, got %d", len(list))
	}
	inactive := false
	list, _ = repo.List(ctx, domain.TenantFilter{Active: &inactive, Limit: 10})
	if len(list) != 1 || list[0].ID != "two" {
		t.Fatalf("expected only two inactive, got %+v", list)
	}

	if err := repo.UpdatePasswordHash(ctx, "one", "hash"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	one, _ := repo.Get(ctx, "one")
	if one.PasswordHash != "hash" {
		t.Fatalf("expected password hash to change, got %q", one.PasswordHash)
	}

	if taken, _ := repo.Taken(ctx, "name", "one", "one"); taken {
		t.Fatal("a tenant must not collide with itself")
	}
	if _, err := repo.Taken(ctx, "password_hash", "x", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected unknown column to be rejected, got %v", err)
	}
}

func TestDomainRepository(t *testing.T) {
	ctx := context.Background()
	db := openCentral(t)
	tenants := NewTenantRepository(db)
	domains := NewDomainRepository(db)

	if _, err := tenants.Create(ctx, domain.Tenant{ID: "acme", Name: "Acme", Active: true}, domain.Domain{Domain: "acme.example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := domains.Add(ctx, domain.Domain{Domain: "acme", TenantID: "acme"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := domains.Add(ctx, domain.Domain{Domain: "acme", TenantID: "acme"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := domains.Add(ctx, domain.Domain{Domain: "ghost", TenantID: "ghost"}); err == nil {
		t.Fatal("expected foreign key failure for unknown tenant")
	}

	list, err := domains.ListByTenant(ctx, "acme")
	if err != nil || len(list) != 2 || list[0].Domain != "acme.example.com" || list[1].Domain != "acme" {
		t.Fatalf("expected registration order, got %+v, %v", list, err)
	}

	d, err := domains.FindByHost(ctx, "acme.example.com")
	if err != nil || d.TenantID != "acme" {
		t.Fatalf("find by host: %+v, %v", d, err)
	}
	if _, err := domains.FindByHost(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	removed, err := domains.Remove(ctx, "acme", "acme")
	if err != nil || !removed {
		t.Fatalf("remove: %v, %v", removed, err)
	}
	if removed, _ := domains.Remove(ctx, "other", "acme.example.com"); removed {
		t.Fatal("must not remove another tenant's domain")
	}
}
