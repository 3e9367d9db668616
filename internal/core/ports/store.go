package ports

import "context"

// Store is one isolated data namespace: the central store or one tenant's.
type Store interface {
	Identities() IdentityRepository
	Sessions() SessionRepository
	Tokens() ImpersonationTokenRepository
}

type StoreRegistry interface {
	Central() Store
	Tenant(ctx context.Context, tenantID string) (Store, error)
}
