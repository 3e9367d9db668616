package domain

import "time"

// ImpersonationToken is persisted by hash only; Token carries the raw value
// solely on the struct returned from issuance.
type ImpersonationToken struct {
	Token        string
	TokenHash    string
	TenantID     string
	Subject      string
	Impersonator string
	RedirectPath string
	Panel        string
	ExpiresAt    time.Time
	Consumed     bool
	ConsumedAt   *time.Time
	CreatedAt    time.Time
}

func (t ImpersonationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
