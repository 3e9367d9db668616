package domain

import "time"

type Session struct {
	ID             string
	TokenHash      string
	TenantID       string
	Subject        string
	Panel          string
	ImpersonatedBy string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s Session) Impersonated() bool {
	return s.ImpersonatedBy != ""
}
