package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
)

type IdentityRepository interface {
	FindBySubject(ctx context.Context, subject string) (domain.Identity, error)
	Upsert(ctx context.Context, account domain.Account, impersonate bool) error
	UpdatePasswordHash(ctx context.Context, subject, hash string) (bool, error)
}

type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	FindByHash(ctx context.Context, tokenHash string) (domain.Session, error)
	DeleteByHash(ctx context.Context, tokenHash string) (bool, error)
}

type ImpersonationTokenRepository interface {
	Create(ctx context.Context, token domain.ImpersonationToken) error
	FindByHash(ctx context.Context, tokenHash string) (domain.ImpersonationToken, error)
	// MarkConsumed flips consumed from false to true in one conditional
	// update and reports whether this call performed the flip.
	MarkConsumed(ctx context.Context, tokenHash string, at time.Time) (bool, error)
}

// AttemptLimiter counts hits per key inside a decaying window.
type AttemptLimiter interface {
	Hit(ctx context.Context, key string, decay time.Duration) (attempts int, retryAfter time.Duration, err error)
	Clear(ctx context.Context, key string) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}
