package roles

import (
	"errors"
	"time"

	"github.com/ciec-now/ciecnow/internal/access"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("roles: not found")
	// ErrNameRequired rejects blank role names.
	ErrNameRequired = errors.New("roles: role name required")
	// ErrProtected rejects deleting, renaming or linking a super role.
	ErrProtected = errors.New("roles: super role is protected")
	// ErrReservedName rejects super-role names from callers that are not
	// super admins themselves.
	ErrReservedName = errors.New("roles: name is reserved for the super role")
)

// Role represents a permission grouping assigned to profiles.
type Role struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsSuper reports whether the role bypasses capability checks.
func (r Role) IsSuper() bool {
	return access.IsSuperRole(r.ID, r.Name)
}

// Permission is one row of the static capability table.
type Permission struct {
	ID      int64          `json:"id"`
	Action  access.Action  `json:"action"`
	Subject access.Subject `json:"subject"`
}

// Capability returns the structural key of the permission.
func (p Permission) Capability() access.Capability {
	return access.Capability{Action: p.Action, Subject: p.Subject}
}
