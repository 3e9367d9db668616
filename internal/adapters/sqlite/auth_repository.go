package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/tenancy/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
)

type userModel struct {
	Email          string    `gorm:"column:email;primaryKey"`
	Name           string    `gorm:"column:name;not null"`
	PasswordHash   string    `gorm:"column:password_hash;not null"`
	Active         bool      `gorm:"column:active;not null"`
	Panels         string    `gorm:"column:panels;not null"`
	CanImpersonate bool      `gorm:"column:can_impersonate;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

func (userModel) TableName() string {
	return "users"
}

type sessionModel struct {
	TokenHash      string    `gorm:"column:token_hash;primaryKey"`
	TenantID       string    `gorm:"column:tenant_id;not null"`
	Subject        string    `gorm:"column:subject;not null"`
	Panel          string    `gorm:"column:panel;not null"`
	ImpersonatedBy string    `gorm:"column:impersonated_by;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	ExpiresAt      time.Time `gorm:"column:expires_at;not null"`
}

func (sessionModel) TableName() string {
	return "sessions"
}

type impersonationTokenModel struct {
	TokenHash    string     `gorm:"column:token_hash;primaryKey"`
	TenantID     string     `gorm:"column:tenant_id;not null"`
	Subject      string     `gorm:"column:subject;not null"`
	Impersonator string     `gorm:"column:impersonator;not null"`
	RedirectPath string     `gorm:"column:redirect_path;not null"`
	Panel        string     `gorm:"column:panel;not null"`
	ExpiresAt    time.Time  `gorm:"column:expires_at;not null"`
	Consumed     bool       `gorm:"column:consumed;not null"`
	ConsumedAt   *time.Time `gorm:"column:consumed_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
}

func (impersonationTokenModel) TableName() string {
	return "impersonation_tokens"
}

// IdentityRepository reads the users table of one store. Rows in the
// central store are admins; rows in a tenant store are that tenant's users.
type IdentityRepository struct {
	db       *gormsqlite.DB
	tenantID string
}

func NewIdentityRepository(db *gormsqlite.DB, tenantID string) *IdentityRepository {
	return &IdentityRepository{db: db, tenantID: tenantID}
}

func (r *IdentityRepository) FindBySubject(ctx context.Context, subject string) (domain.Identity, error) {
	var model userModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("email = ?", domain.NormalizeSubject(subject)).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	account := domain.Account{
		Email:        model.Email,
		Name:         model.Name,
		PasswordHash: model.PasswordHash,
		Active:       model.Active,
		Panels:       splitPanels(model.Panels),
		CreatedAt:    model.CreatedAt,
	}
	if r.tenantID == "" {
		return &domain.Admin{Account: account, Impersonate: model.CanImpersonate}, nil
	}
	return &domain.TenantUser{Account: account, TenantID: r.tenantID}, nil
}

func (r *IdentityRepository) Upsert(ctx context.Context, account domain.Account, impersonate bool) error {
	now := time.Now().UTC()
	model := userModel{
		Email:          domain.NormalizeSubject(account.Email),
		Name:           account.Name,
		PasswordHash:   account.PasswordHash,
		Active:         account.Active,
		Panels:         strings.Join(account.Panels, ","),
		CanImpersonate: impersonate && r.tenantID == "",
		CreatedAt:      account.CreatedAt,
		UpdatedAt:      now,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}

	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "password_hash", "active", "panels", "can_impersonate", "updated_at"}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (r *IdentityRepository) UpdatePasswordHash(ctx context.Context, subject, hash string) (bool, error) {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&userModel{}).
			Where("email = ?", domain.NormalizeSubject(subject)).
			Updates(map[string]any{"password_hash": hash, "updated_at": time.Now().UTC()})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("update user password: %w", err)
	}
	return affected > 0, nil
}

func splitPanels(raw string) []string {
	var panels []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			panels = append(panels, p)
		}
	}
	return panels
}

// SessionRepository keeps sessions by the sha256 of their identifier.
type SessionRepository struct {
	db *gormsqlite.DB
}

func NewSessionRepository(db *gormsqlite.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	model := sessionModel{
		TokenHash:      session.TokenHash,
		TenantID:       session.TenantID,
		Subject:        session.Subject,
		Panel:          session.Panel,
		ImpersonatedBy: session.ImpersonatedBy,
		CreatedAt:      session.CreatedAt,
		ExpiresAt:      session.ExpiresAt,
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) FindByHash(ctx context.Context, tokenHash string) (domain.Session, error) {
	var model sessionModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("token_hash = ?", tokenHash).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("find session: %w", err)
	}
	return domain.Session{
		TokenHash:      model.TokenHash,
		TenantID:       model.TenantID,
		Subject:        model.Subject,
		Panel:          model.Panel,
		ImpersonatedBy: model.ImpersonatedBy,
		CreatedAt:      model.CreatedAt,
		ExpiresAt:      model.ExpiresAt,
	}, nil
}

func (r *SessionRepository) DeleteByHash(ctx context.Context, tokenHash string) (bool, error) {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Where("token_hash = ?", tokenHash).Delete(&sessionModel{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return affected > 0, nil
}

// ImpersonationTokenRepository stores token hashes only.
type ImpersonationTokenRepository struct {
	db *gormsqlite.DB
}

func NewImpersonationTokenRepository(db *gormsqlite.DB) *ImpersonationTokenRepository {
	return &ImpersonationTokenRepository{db: db}
}

func (r *ImpersonationTokenRepository) Create(ctx context.Context, token domain.ImpersonationToken) error {
	model := impersonationTokenModel{
		TokenHash:    token.TokenHash,
		TenantID:     token.TenantID,
		Subject:      token.Subject,
		Impersonator: token.Impersonator,
		RedirectPath: token.RedirectPath,
		Panel:        token.Panel,
		ExpiresAt:    token.ExpiresAt,
		CreatedAt:    token.CreatedAt,
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		if errors.Is(translate(err), domain.ErrConflict) {
			return domain.ErrConflict
		}
		return fmt.Errorf("create impersonation token: %w", err)
	}
	return nil
}

func (r *ImpersonationTokenRepository) FindByHash(ctx context.Context, tokenHash string) (domain.ImpersonationToken, error) {
	var model impersonationTokenModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("token_hash = ?", tokenHash).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ImpersonationToken{}, domain.ErrNotFound
		}
		return domain.ImpersonationToken{}, fmt.Errorf("find impersonation token: %w", err)
	}
	return domain.ImpersonationToken{
		TokenHash:    model.TokenHash,
		TenantID:     model.TenantID,
		Subject:      model.Subject,
		Impersonator: model.Impersonator,
		RedirectPath: model.RedirectPath,
		Panel:        model.Panel,
		ExpiresAt:    model.ExpiresAt,
		Consumed:     model.Consumed,
		ConsumedAt:   model.ConsumedAt,
		CreatedAt:    model.CreatedAt,
	}, nil
}

func (r *ImpersonationTokenRepository) MarkConsumed(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&impersonationTokenModel{}).
			Where("token_hash = ? AND consumed = ?", tokenHash, false).
			Updates(map[string]any{"consumed": true, "consumed_at": at})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("consume impersonation token: %w", err)
	}
	return affected == 1, nil
}
