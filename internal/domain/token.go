package domain

import "time"

// PersonalAccessToken is an operator API token scoped to one tenant.
type PersonalAccessToken struct {
	ID        int64
	TenantID  string
	UserID    int64
	TokenHash string
	Abilities string
	ExpiresAt *time.Time
}
