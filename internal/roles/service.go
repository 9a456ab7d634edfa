package roles

import (
	"context"
	"strings"

	"github.com/ciec-now/ciecnow/internal/access"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name string) (Role, error)
	RenameRole(ctx context.Context, id int64, name string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, attach, detach []int64) error
}

// Service handles role business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// CreateRole inserts a role. Only a super admin, as carried by ctx, may
// create a role with a super-role name.
func (s *Service) CreateRole(ctx context.Context, name string) (Role, error) {
	name, err := checkName(ctx, name)
	if err != nil {
		return Role{}, err
	}
	return s.repo.CreateRole(ctx, name)
}

// RenameRole changes a role's display name. Super roles keep their name.
func (s *Service) RenameRole(ctx context.Context, id int64, name string) (Role, error) {
	name, err := checkName(ctx, name)
	if err != nil {
		return Role{}, err
	}
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.IsSuper() {
		return Role{}, ErrProtected
	}
	return s.repo.RenameRole(ctx, id, name)
}

func checkName(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if access.IsSuperRole(0, name) && !access.FromContext(ctx).IsSuperAdmin() {
		return "", ErrReservedName
	}
	return name, nil
}

// DeleteRole removes a role. The super role is protected.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSuper() {
		return ErrProtected
	}
	return s.repo.DeleteRole(ctx, id)
}

// ListPermissions returns the permission table.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// RolePermissions returns the permissions linked to roleID.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.RolePermissions(ctx, roleID)
}

// SetRolePermissions replaces the permissions of a role with permissionIDs.
// Super roles carry no links.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSuper() {
		return ErrProtected
	}
	current, err := s.repo.RolePermissions(ctx, roleID)
	if err != nil {
		return err
	}
	existing := make(map[int64]struct{}, len(current))
	for _, p := range current {
		existing[p.ID] = struct{}{}
	}
	keep := make(map[int64]struct{}, len(permissionIDs))
	var attach []int64
	for _, id := range permissionIDs {
		if _, dup := keep[id]; dup {
			continue
		}
		keep[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			attach = append(attach, id)
		}
	}
	var detach []int64
	for _, p := range current {
		if _, ok := keep[p.ID]; !ok {
			detach = append(detach, p.ID)
		}
	}
	if len(attach) == 0 && len(detach) == 0 {
		return nil
	}
	return s.repo.ReplaceRolePermissions(ctx, roleID, attach, detach)
}
