package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenancy/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
	"github.com/atvirokodosprendimai/tenancy/migrations"
)

// Store bundles the auth repositories of one database.
type Store struct {
	identities *IdentityRepository
	sessions   *SessionRepository
	tokens     *ImpersonationTokenRepository
}

func NewStore(db *gormsqlite.DB, tenantID string) *Store {
	return &Store{
		identities: NewIdentityRepository(db, tenantID),
		sessions:   NewSessionRepository(db),
		tokens:     NewImpersonationTokenRepository(db),
	}
}

func (s *Store) Identities() ports.IdentityRepository       { return s.identities }
func (s *Store) Sessions() ports.SessionRepository          { return s.sessions }
func (s *Store) Tokens() ports.ImpersonationTokenRepository { return s.tokens }

type tenantDB struct {
	db    *gormsqlite.DB
	store *Store
}

// Stores hands out the central store and one lazily opened, migrated
// sqlite file per tenant under dataDir.
type Stores struct {
	central *Store
	dataDir string
	logger  *zap.Logger

	mu      sync.Mutex
	tenants map[string]tenantDB
	closed  bool
}

func NewStores(central *gormsqlite.DB, dataDir string, logger *zap.Logger) *Stores {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stores{
		central: NewStore(central, ""),
		dataDir: dataDir,
		logger:  logger,
		tenants: map[string]tenantDB{},
	}
}

func (s *Stores) Central() ports.Store {
	return s.central
}

func (s *Stores) Tenant(ctx context.Context, tenantID string) (ports.Store, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("tenant stores closed")
	}
	if t, ok := s.tenants[tenantID]; ok {
		return t.store, nil
	}

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := s.Path(tenantID)
	db, err := gormsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tenant db %s: %w", tenantID, err)
	}
	wdb, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tenant writer %s: %w", tenantID, err)
	}
	if err := migrations.UpTenant(ctx, wdb); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate tenant %s: %w", tenantID, err)
	}

	t := tenantDB{db: db, store: NewStore(db, tenantID)}
	s.tenants[tenantID] = t
	s.logger.Debug("tenant store opened", zap.String("tenant_id", tenantID), zap.String("path", path))
	return t.store, nil
}

// Path is the database file backing tenantID.
func (s *Stores) Path(tenantID string) string {
	return filepath.Join(s.dataDir, "tenant_"+tenantID+".sqlite")
}

// Close closes every opened tenant database. The central database belongs
// to the caller.
func (s *Stores) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var errs []error
	for id, t := range s.tenants {
		if err := t.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tenant %s: %w", id, err))
		}
		delete(s.tenants, id)
	}
	return errors.Join(errs...)
}
