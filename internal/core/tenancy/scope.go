// Package tenancy carries the active data namespace through a request's
// context. There is no process-wide "current tenant": every call chain
// reads the scope from its own context.Context.
package tenancy

import (
	"context"

	"github.com/atvirokodosprendimai/tenancy/internal/core/ports"
)

type ctxKey struct{}

// Scope is the active context. An empty TenantID means central.
type Scope struct {
	TenantID string
	Store    ports.Store
}

func (s Scope) Central() bool {
	return s.TenantID == ""
}

// Label names the scope for logs.
func (s Scope) Label() string {
	if s.Central() {
		return "central"
	}
	return "tenant:" + s.TenantID
}

// With returns a child context in which s is the active scope. The parent
// context keeps its own scope, so returning from a unit of work that used
// the child restores the previous scope on every exit path.
func With(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func From(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}
