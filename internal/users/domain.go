package users

import (
	"errors"
	"time"

	"github.com/ciec-now/ciecnow/internal/access"
)

// ErrNotFound indicates the profile does not exist.
var ErrNotFound = errors.New("users: not found")

// Profile is the actor record used for access decisions.
type Profile struct {
	ID         int64
	Email      string
	FullName   string
	RoleID     int64
	RoleName   string
	IsApproved bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Actor projects the profile onto the access evaluator's input.
func (p Profile) Actor() access.Actor {
	return access.Actor{UserID: p.ID, RoleID: p.RoleID, RoleName: p.RoleName}
}

// ProfileRecord mirrors a profiles row joined with roles. Nullable columns
// stay nullable until ToProfile.
type ProfileRecord struct {
	ID         int64
	Email      string
	FullName   *string
	RoleID     *int64
	RoleName   *string
	IsApproved *bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ToProfile converts a row into the domain shape. Missing roles map to 0 and
// missing approval flags to false.
func (r ProfileRecord) ToProfile() Profile {
	p := Profile{ID: r.ID, Email: r.Email, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	if r.FullName != nil {
		p.FullName = *r.FullName
	}
	if r.RoleID != nil {
		p.RoleID = *r.RoleID
	}
	if r.RoleName != nil {
		p.RoleName = *r.RoleName
	}
	if r.IsApproved != nil {
		p.IsApproved = *r.IsApproved
	}
	return p
}

// ProfileView is the JSON shape sent to the view layer.
type ProfileView struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	RoleID     int64  `json:"role_id"`
	RoleName   string `json:"role_name"`
	IsApproved bool   `json:"is_approved"`
}

// ToView converts the profile into its JSON shape.
func (p Profile) ToView() ProfileView {
	return ProfileView{
		ID:         p.ID,
		Email:      p.Email,
		FullName:   p.FullName,
		RoleID:     p.RoleID,
		RoleName:   p.RoleName,
		IsApproved: p.IsApproved,
	}
}
