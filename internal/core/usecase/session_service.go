package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/tenancy"
)

const (
	defaultSessionTTL = 120 * time.Minute
	sessionTokenBytes = 32
)

var ErrUnauthenticated = errors.New("unauthenticated")

// SessionManager creates and looks up sessions in the active scope's store.
type SessionManager struct {
	ttl time.Duration
	now func() time.Time
}

func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionManager{ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Establish regenerates the session: priorID, when set, is destroyed and a
// fresh identifier is minted for subject.
func (m *SessionManager) Establish(ctx context.Context, subject, panel, impersonatedBy, priorID string) (domain.Session, error) {
	scope, err := activeScope(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if err := m.destroy(ctx, scope, priorID); err != nil {
		return domain.Session{}, err
	}

	raw, err := newOpaqueToken(sessionTokenBytes)
	if err != nil {
		return domain.Session{}, err
	}
	now := m.now()
	session := domain.Session{
		ID:             raw,
		TokenHash:      HashToken(raw),
		TenantID:       scope.TenantID,
		Subject:        subject,
		Panel:          panel,
		ImpersonatedBy: impersonatedBy,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
	}
	if err := scope.Store.Sessions().Create(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Invalidate destroys id in the active scope. Unknown ids are ignored.
func (m *SessionManager) Invalidate(ctx context.Context, id string) error {
	scope, err := activeScope(ctx)
	if err != nil {
		return err
	}
	return m.destroy(ctx, scope, id)
}

// Lookup returns the live session for id in the active scope.
func (m *SessionManager) Lookup(ctx context.Context, id string) (domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, ErrUnauthenticated
	}
	scope, err := activeScope(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	session, err := scope.Store.Sessions().FindByHash(ctx, HashToken(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Session{}, ErrUnauthenticated
		}
		return domain.Session{}, fmt.Errorf("find session: %w", err)
	}
	if session.TenantID != scope.TenantID || session.Expired(m.now()) {
		return domain.Session{}, ErrUnauthenticated
	}
	session.ID = id
	return session, nil
}

func (m *SessionManager) destroy(ctx context.Context, scope tenancy.Scope, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if _, err := scope.Store.Sessions().DeleteByHash(ctx, HashToken(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
