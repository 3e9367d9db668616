package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/tenancy/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
)

type tenantModel struct {
	ID           string         `gorm:"column:id;primaryKey"`
	Name         string         `gorm:"column:name;not null"`
	Email        string         `gorm:"column:email;not null"`
	Phone        string         `gorm:"column:phone;not null"`
	PasswordHash string         `gorm:"column:password_hash;not null"`
	Active       bool           `gorm:"column:active;not null"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;not null"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (tenantModel) TableName() string {
	return "tenants"
}

type domainModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Domain    string    `gorm:"column:domain;not null"`
	TenantID  string    `gorm:"column:tenant_id;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (domainModel) TableName() string {
	return "domains"
}

// TenantRepository stores tenant records in the central database. Deletes
// are soft: rows keep their deleted_at stamp and stay out of default
// queries.
type TenantRepository struct {
	db *gormsqlite.DB
}

func NewTenantRepository(db *gormsqlite.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Create(ctx context.Context, tenant domain.Tenant, first domain.Domain) (domain.Tenant, error) {
	now := time.Now().UTC()
	model := tenantModel{
		ID:           tenant.ID,
		Name:         tenant.Name,
		Email:        tenant.Email,
		Phone:        tenant.Phone,
		PasswordHash: tenant.PasswordHash,
		Active:       tenant.Active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Create(&domainModel{Domain: first.Domain, TenantID: model.ID, CreatedAt: now}).Error
	})
	if err != nil {
		if errors.Is(translate(err), domain.ErrConflict) {
			return domain.Tenant{}, domain.ErrConflict
		}
		return domain.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return toTenant(model), nil
}

func (r *TenantRepository) Get(ctx context.Context, id string) (domain.Tenant, error) {
	var model tenantModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("id = ?", id).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Tenant{}, domain.ErrNotFound
		}
		return domain.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return toTenant(model), nil
}

func (r *TenantRepository) List(ctx context.Context, filter domain.TenantFilter) ([]domain.Tenant, error) {
	var rows []tenantModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&tenantModel{})
		if filter.IncludeDeleted {
			query = query.Unscoped()
		}
		if filter.Active != nil {
			query = query.Where("active = ?", *filter.Active)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		return query.Order("created_at DESC").Order("id ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	tenants := make([]domain.Tenant, 0, len(rows))
	for _, row := range rows {
		tenants = append(tenants, toTenant(row))
	}
	return tenants, nil
}

func (r *TenantRepository) Update(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&tenantModel{}).
			Where("id = ?", tenant.ID).
			Updates(map[string]any{
				"name":          tenant.Name,
				"email":         tenant.Email,
				"phone":         tenant.Phone,
				"password_hash": tenant.PasswordHash,
				"active":        tenant.Active,
				"updated_at":    time.Now().UTC(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		if errors.Is(translate(err), domain.ErrConflict) {
			return domain.Tenant{}, domain.ErrConflict
		}
		return domain.Tenant{}, fmt.Errorf("update tenant: %w", err)
	}
	if affected == 0 {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return r.Get(ctx, tenant.ID)
}

func (r *TenantRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&tenantModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"password_hash": hash, "updated_at": time.Now().UTC()})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("update tenant password: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TenantRepository) SoftDelete(ctx context.Context, id string) (bool, error) {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Where("id = ?", id).Delete(&tenantModel{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("delete tenant: %w", err)
	}
	return affected > 0, nil
}

func (r *TenantRepository) Purge(ctx context.Context, id string) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Where("tenant_id = ?", id).Delete(&domainModel{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Where("id = ?", id).Delete(&tenantModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("purge tenant: %w", err)
	}
	return nil
}

func (r *TenantRepository) Restore(ctx context.Context, id string) (bool, error) {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Unscoped().Model(&tenantModel{}).
			Where("id = ? AND deleted_at IS NOT NULL", id).
			Updates(map[string]any{"deleted_at": nil, "updated_at": time.Now().UTC()})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("restore tenant: %w", err)
	}
	return affected > 0, nil
}

func (r *TenantRepository) Taken(ctx context.Context, column, value, exceptID string) (bool, error) {
	switch column {
	case "id", "name":
	default:
		return false, fmt.Errorf("unique column %q: %w", column, domain.ErrInvalidInput)
	}
	var count int64
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Unscoped().Model(&tenantModel{}).Where(column+" = ?", value)
		if exceptID != "" {
			query = query.Where("id <> ?", exceptID)
		}
		return query.Count(&count).Error
	})
	if err != nil {
		return false, fmt.Errorf("check tenant %s: %w", column, err)
	}
	return count > 0, nil
}

func toTenant(model tenantModel) domain.Tenant {
	t := domain.Tenant{
		ID:           model.ID,
		Name:         model.Name,
		Email:        model.Email,
		Phone:        model.Phone,
		PasswordHash: model.PasswordHash,
		Active:       model.Active,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
	if model.DeletedAt.Valid {
		deletedAt := model.DeletedAt.Time
		t.DeletedAt = &deletedAt
	}
	return t
}

// DomainRepository maps hosts to tenants.
type DomainRepository struct {
	db *gormsqlite.DB
}

func NewDomainRepository(db *gormsqlite.DB) *DomainRepository {
	return &DomainRepository{db: db}
}

func (r *DomainRepository) FindByHost(ctx context.Context, host string) (domain.Domain, error) {
	var model domainModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("domain = ?", host).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Domain{}, domain.ErrNotFound
		}
		return domain.Domain{}, fmt.Errorf("find domain: %w", err)
	}
	return toDomain(model), nil
}

// ListByTenant returns the tenant's domains in registration order; the
// first one is canonical.
func (r *DomainRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.Domain, error) {
	var rows []domainModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	domains := make([]domain.Domain, 0, len(rows))
	for _, row := range rows {
		domains = append(domains, toDomain(row))
	}
	return domains, nil
}

func (r *DomainRepository) Add(ctx context.Context, d domain.Domain) (domain.Domain, error) {
	model := domainModel{Domain: d.Domain, TenantID: d.TenantID, CreatedAt: d.CreatedAt}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		if errors.Is(translate(err), domain.ErrConflict) {
			return domain.Domain{}, domain.ErrConflict
		}
		return domain.Domain{}, fmt.Errorf("add domain: %w", err)
	}
	return toDomain(model), nil
}

func (r *DomainRepository) Remove(ctx context.Context, tenantID, host string) (bool, error) {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Where("tenant_id = ? AND domain = ?", tenantID, host).Delete(&domainModel{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("remove domain: %w", err)
	}
	return affected > 0, nil
}

func toDomain(model domainModel) domain.Domain {
	return domain.Domain{Domain: model.Domain, TenantID: model.TenantID, CreatedAt: model.CreatedAt}
}
