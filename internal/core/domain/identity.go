package domain

import (
	"slices"
	"strings"
	"time"
)

// Identity is anything that can sign in to a panel.
type Identity interface {
	Subject() string
	HashedPassword() string
	CanAccessPanel(panel string) bool
}

// Impersonator is an identity that may mint impersonation tokens.
type Impersonator interface {
	Identity
	CanImpersonate() bool
}

type Account struct {
	Email        string
	Name         string
	PasswordHash string
	Active       bool
	Panels       []string
	CreatedAt    time.Time
}

func (a Account) Subject() string {
	return a.Email
}

func (a Account) HashedPassword() string {
	return a.PasswordHash
}

func (a Account) allowed(panel string) bool {
	return a.Active && slices.Contains(a.Panels, panel)
}

type TenantUser struct {
	Account
	TenantID string
}

func (u *TenantUser) CanAccessPanel(panel string) bool {
	return u.allowed(panel)
}

type Admin struct {
	Account
	Impersonate bool
}

func (a *Admin) CanAccessPanel(panel string) bool {
	return a.allowed(panel)
}

func (a *Admin) CanImpersonate() bool {
	return a.Active && a.Impersonate
}

func NormalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}
