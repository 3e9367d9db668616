package tenancy

import (
	"context"
	"testing"
)

func TestScopeNestingRestoresParent(t *testing.T) {
	root := context.Background()
	if _, ok := From(root); ok {
		t.Fatal("expected no scope on background context")
	}

	central := With(root, Scope{})
	acme := With(central, Scope{TenantID: "acme"})
	globex := With(acme, Scope{TenantID: "globex"})

	if s, _ := From(globex); s.TenantID != "globex" {
		t.Fatalf("expected globex, got %q", s.TenantID)
	}
	if s, _ := From(acme); s.TenantID != "acme" {
		t.Fatalf("expected acme after inner scope, got %q", s.TenantID)
	}
	s, ok := From(central)
	if !ok || !s.Central() {
		t.Fatalf("expected central scope, got %+v", s)
	}
	if s.Label() != "central" {
		t.Fatalf("unexpected label %q", s.Label())
	}
}
