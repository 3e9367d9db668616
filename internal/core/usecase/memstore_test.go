package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/tenancy/internal/core/domain"
	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
)

type memTenants struct {
	mu      sync.Mutex
	tenants map[string]domain.Tenant
	order   []string
}

func newMemTenants() *memTenants {
	return &memTenants{tenants: map[string]domain.Tenant{}}
}

func (r *memTenants) Create(_ context.Context, t domain.Tenant, _ domain.Domain) (domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[t.ID]; ok {
		return domain.Tenant{}, domain.ErrConflict
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	r.tenants[t.ID] = t
	r.order = append(r.order, t.ID)
	return t, nil
}

func (r *memTenants) put(t domain.Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
	r.order = append(r.order, t.ID)
}

func (r *memTenants) Get(_ context.Context, id string) (domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok || t.Deleted() {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return t, nil
}

func (r *memTenants) List(_ context.Context, filter domain.TenantFilter) ([]domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Tenant
	for i := len(r.order) - 1; i >= 0; i-- {
		t := r.tenants[r.order[i]]
		if t.Deleted() && !filter.IncludeDeleted {
			continue
		}
		if filter.Active != nil && t.Active != *filter.Active {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *memTenants) Update(_ context.Context, t domain.Tenant) (domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[t.ID]; !ok {
		return domain.Tenant{}, domain.ErrNotFound
	}
	r.tenants[t.ID] = t
	return t, nil
}

func (r *memTenants) UpdatePasswordHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.PasswordHash = hash
	r.tenants[id] = t
	return nil
}

func (r *memTenants) SoftDelete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok || t.Deleted() {
		return false, nil
	}
	now := time.Now().UTC()
	t.DeletedAt = &now
	r.tenants[id] = t
	return true, nil
}

func (r *memTenants) Restore(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok || !t.Deleted() {
		return false, nil
	}
	t.DeletedAt = nil
	r.tenants[id] = t
	return true, nil
}

func (r *memTenants) Purge(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *memTenants) Taken(_ context.Context, column, value, exceptID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tenants {
		if id == exceptID {
			continue
		}
		if (column == "id" && t.ID == value) || (column == "name" && t.Name == value) {
			return true, nil
		}
	}
	return false, nil
}

type memDomains struct {
	mu      sync.Mutex
	domains []domain.Domain
}

func (r *memDomains) FindByHost(_ context.Context, host string) (domain.Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.domains {
		if d.Domain == host {
			return d, nil
		}
	}
	return domain.Domain{}, domain.ErrNotFound
}

func (r *memDomains) ListByTenant(_ context.Context, tenantID string) ([]domain.Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Domain
	for _, d := range r.domains {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memDomains) Add(_ context.Context, d domain.Domain) (domain.Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.domains {
		if existing.Domain == d.Domain {
			return domain.Domain{}, domain.ErrConflict
		}
	}
	r.domains = append(r.domains, d)
	return d, nil
}

func (r *memDomains) Remove(_ context.Context, tenantID, host string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.domains {
		if d.TenantID == tenantID && d.Domain == host {
			r.domains = append(r.domains[:i], r.domains[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// tenantsWithDomains keeps the domain table in step with Create the way
// the sqlite repository does inside one transaction.
type tenantsWithDomains struct {
	*memTenants
	domains *memDomains
}

func (r tenantsWithDomains) Create(ctx context.Context, t domain.Tenant, first domain.Domain) (domain.Tenant, error) {
	created, err := r.memTenants.Create(ctx, t, first)
	if err != nil {
		return domain.Tenant{}, err
	}
	if _, err := r.domains.Add(ctx, first); err != nil {
		return domain.Tenant{}, err
	}
	return created, nil
}

func (r tenantsWithDomains) Purge(ctx context.Context, id string) error {
	if err := r.memTenants.Purge(ctx, id); err != nil {
		return err
	}
	r.domains.mu.Lock()
	defer r.domains.mu.Unlock()
	kept := r.domains.domains[:0]
	for _, d := range r.domains.domains {
		if d.TenantID != id {
			kept = append(kept, d)
		}
	}
	r.domains.domains = kept
	return nil
}

type memAccount struct {
	account     domain.Account
	impersonate bool
}

type memStore struct {
	tenantID string

	mu       sync.Mutex
	accounts map[string]memAccount
	sessions map[string]domain.Session
	tokens   map[string]domain.ImpersonationToken
}

func newMemStore(tenantID string) *memStore {
	return &memStore{
		tenantID: tenantID,
		accounts: map[string]memAccount{},
		sessions: map[string]domain.Session{},
		tokens:   map[string]domain.ImpersonationToken{},
	}
}

func (s *memStore) Identities() ports.IdentityRepository { return memIdentities{s} }
func (s *memStore) Sessions() ports.SessionRepository { return memSessions{s} }
func (s *memStore) Tokens() ports.ImpersonationTokenRepository { return memTokens{s} }

func (s *memStore) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type memIdentities struct{ s *memStore }

func (r memIdentities) FindBySubject(_ context.Context, subject string) (domain.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[strings.ToLower(subject)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if r.s.tenantID == "" {
		return &domain.Admin{Account: a.account, Impersonate: a.impersonate}, nil
	}
	return &domain.TenantUser{Account: a.account, TenantID: r.s.tenantID}, nil
}

func (r memIdentities) Upsert(_ context.Context, account domain.Account, impersonate bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.accounts[strings.ToLower(account.Email)] = memAccount{account: account, impersonate: impersonate}
	return nil
}

func (r memIdentities) UpdatePasswordHash(_ context.Context, subject, hash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[strings.ToLower(subject)]
	if !ok {
		return false, nil
	}
	a.account.PasswordHash = hash
	r.s.accounts[strings.ToLower(subject)] = a
	return true, nil
}

type memSessions struct{ s *memStore }

func (r memSessions) Create(_ context.Context, session domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session.ID = ""
	r.s.sessions[session.TokenHash] = session
	return nil
}

func (r memSessions) FindByHash(_ context.Context, hash string) (domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[hash]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return sess, nil
}

func (r memSessions) DeleteByHash(_ context.Context, hash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.sessions[hash]
	delete(r.s.sessions, hash)
	return ok, nil
}

type memTokens struct{ s *memStore }

func (r memTokens) Create(_ context.Context, token domain.ImpersonationToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token.Token = ""
	r.s.tokens[token.TokenHash] = token
	return nil
}

func (r memTokens) FindByHash(_ context.Context, hash string) (domain.ImpersonationToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tok, ok := r.s.tokens[hash]
	if !ok {
		return domain.ImpersonationToken{}, domain.ErrNotFound
	}
	return tok, nil
}

func (r memTokens) MarkConsumed(_ context.Context, hash string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tok, ok := r.s.tokens[hash]
	if !ok || tok.Consumed {
		return false, nil
	}
	tok.Consumed = true
	tok.ConsumedAt = &at
	r.s.tokens[hash] = tok
	return true, nil
}

type memRegistry struct {
	mu      sync.Mutex
	central *memStore
	tenants map[string]*memStore
	// broken tenants fail to open with the mapped error.
	broken map[string]error
}

func newMemRegistry() *memRegistry {
	return &memRegistry{central: newMemStore(""), tenants: map[string]*memStore{}}
}

func (r *memRegistry) Central() ports.Store { return r.central }

func (r *memRegistry) Tenant(_ context.Context, id string) (ports.Store, error) {
	r.mu.Lock()
	err := r.broken[id]
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.tenant(id), nil
}

func (r *memRegistry) tenant(id string) *memStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.tenants[id]
	if !ok {
		s = newMemStore(id)
		r.tenants[id] = s
	}
	return s
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (plainHasher) Compare(hash, password string) bool { return hash == "hashed:"+password }

type memLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemLimiter() *memLimiter {
	return &memLimiter{counts: map[string]int{}}
}

func (l *memLimiter) Hit(_ context.Context, key string, decay time.Duration) (int, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key], decay, nil
}

func (l *memLimiter) Clear(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key)
	return nil
}

// fixture wires the core services over in-memory adapters with tenant
// "acme" served on acme.example.com and central domain example.com.
type fixture struct {
	tenants  *memTenants
	domains  *memDomains
	registry *memRegistry
	outbox   *outboxRepoStub
	switcher *Switcher
	resolver *DomainResolver
	sessions *SessionManager
	gate     *AuthGate
	imp      *ImpersonationService
	svc      *TenantService
	limiter  *memLimiter
}

func newFixture(impersonation bool) *fixture {
	f := &fixture{
		tenants:  newMemTenants(),
		domains:  &memDomains{},
		registry: newMemRegistry(),
		outbox:   &outboxRepoStub{},
		limiter:  newMemLimiter(),
	}
	repo := tenantsWithDomains{memTenants: f.tenants, domains: f.domains}
	events := NewEventRecorder(f.outbox, nil)
	f.switcher = NewSwitcher(repo, f.registry, nil)
	f.resolver = NewDomainResolver("example.com", f.domains, repo, f.switcher)
	f.sessions = NewSessionManager(time.Hour)
	f.gate = NewAuthGate(f.limiter, plainHasher{}, f.sessions, events, nil, AuthGateConfig{MaxAttempts: 5, Decay: time.Minute})
	f.imp = NewImpersonationService(ImpersonationConfig{
		Enabled:       impersonation,
		CentralDomain: "example.com",
	}, f.domains, f.switcher, f.sessions, events, nil)
	f.svc = NewTenantService(TenantServiceConfig{CentralDomain: "example.com", Panel: "app"}, repo, f.domains, f.switcher, plainHasher{}, events, nil)

	f.tenants.put(domain.Tenant{ID: "acme", Name: "Acme", Email: "bob@acme.com", Active: true, CreatedAt: time.Now().UTC()})
	f.domains.domains = append(f.domains.domains, domain.Domain{Domain: "acme.example.com", TenantID: "acme"})
	f.registry.tenant("acme").accounts["bob@acme.com"] = memAccount{account: domain.Account{
		Email:        "bob@acme.com",
		PasswordHash: "hashed:secret-pass",
		Active:       true,
		Panels:       []string{"app"},
	}}
	f.registry.central.accounts["root@example.com"] = memAccount{account: domain.Account{
		Email:        "root@example.com",
		PasswordHash: "hashed:root-pass",
		Active:       true,
		Panels:       []string{"admin"},
	}, impersonate: true}
	return f
}

func (f *fixture) admin() *domain.Admin {
	a := f.registry.central.accounts["root@example.com"]
	return &domain.Admin{Account: a.account, Impersonate: a.impersonate}
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, e := range f.outbox.events {
		out = append(out, e.Topic)
	}
	sort.Strings(out)
	return out
}
