package domain

import "time"

// Role differentiates end-user tokens from admin tokens.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Token represents issued authentication token metadata.
type Token struct {
	UserID    int64
	Role      Role
	ExpiresAt time.Time
	IssuedAt  time.Time
}
