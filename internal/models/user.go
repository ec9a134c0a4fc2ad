package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleManager    UserRole = "MANAGER"
	RoleOperator   UserRole = "OPERATOR"
)

// Named capabilities granted to managers on top of their role.
const (
	PermissionExtraMeals = "rh-extras"
	PermissionTerminal   = "voucher-terminal"
	PermissionMasterData = "master-data"
)

// User represents a manager account stored in the users table.
type User struct {
	ID           string         `db:"id" json:"id"`
	Email        string         `db:"email" json:"email"`
	PasswordHash string         `db:"password_hash" json:"-"`
	FullName     string         `db:"full_name" json:"full_name"`
	Role         UserRole       `db:"role" json:"role"`
	Permissions  pq.StringArray `db:"permissions" json:"permissions"`
	Active       bool           `db:"active" json:"active"`
	LastLogin    *time.Time     `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// HasPermission reports whether the capability was granted.
func (u *User) HasPermission(permission string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
