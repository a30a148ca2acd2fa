package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int       `bun:",pk,nullzero" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Username     string    `bun:",nullzero" json:"username"`
	PasswordHash string    `bun:",nullzero" json:"-"`
	Role         string    `bun:",nullzero" json:"role"`
	IsActive     bool      `json:"is_active"`
}

// IsAdmin reports whether the user may perform admin operations
// (force scan, quarantine review, visibility changes).
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
