package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciec-now/ciecnow/internal/access"
)

type mockRepository struct {
	roles    map[int64]Role
	links    map[int64]map[int64]struct{}
	perms    []Permission
	replaced int
	deleted  []int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		roles: map[int64]Role{
			1: {ID: 1, Name: "SuperAdmin"},
			2: {ID: 2, Name: "Secretary"},
			3: {ID: 3, Name: "Master Admin"},
		},
		links: map[int64]map[int64]struct{}{2: {10: {}, 11: {}}},
		perms: []Permission{
			{ID: 10, Action: access.ActionCreate, Subject: access.SubjectMeeting},
			{ID: 11, Action: access.ActionRead, Subject: access.SubjectMeeting},
			{ID: 12, Action: access.ActionManage, Subject: access.SubjectTask},
		},
	}
}

func (m *mockRepository) ListRoles(ctx context.Context) ([]Role, error) {
	return []Role{m.roles[1], m.roles[2], m.roles[3]}, nil
}

func (m *mockRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *mockRepository) CreateRole(ctx context.Context, name string) (Role, error) {
	r := Role{ID: int64(len(m.roles) + 1), Name: name}
	m.roles[r.ID] = r
	return r, nil
}

func (m *mockRepository) RenameRole(ctx context.Context, id int64, name string) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	r.Name = name
	m.roles[id] = r
	return r, nil
}

func (m *mockRepository) DeleteRole(ctx context.Context, id int64) error {
	m.deleted = append(m.deleted, id)
	delete(m.roles, id)
	return nil
}

func (m *mockRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return m.perms, nil
}

func (m *mockRepository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	var out []Permission
	for _, p := range m.perms {
		if _, ok := m.links[roleID][p.ID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, attach, detach []int64) error {
	m.replaced++
	if m.links[roleID] == nil {
		m.links[roleID] = map[int64]struct{}{}
	}
	for _, id := range attach {
		m.links[roleID][id] = struct{}{}
	}
	for _, id := range detach {
		delete(m.links[roleID], id)
	}
	return nil
}

func TestCreateRoleRequiresName(t *testing.T) {
	svc := NewService(newMockRepository())
	_, err := svc.CreateRole(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNameRequired)

	role, err := svc.CreateRole(context.Background(), "  Coordinator ")
	require.NoError(t, err)
	assert.Equal(t, "Coordinator", role.Name)
}

func TestDeleteRoleProtectsSuperRoles(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	assert.ErrorIs(t, svc.DeleteRole(context.Background(), 1), ErrProtected)
	assert.ErrorIs(t, svc.DeleteRole(context.Background(), 3), ErrProtected)
	require.NoError(t, svc.DeleteRole(context.Background(), 2))
	assert.Equal(t, []int64{2}, repo.deleted)
	assert.ErrorIs(t, svc.DeleteRole(context.Background(), 99), ErrNotFound)
}

func TestSetRolePermissionsDiffs(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	require.NoError(t, svc.SetRolePermissions(context.Background(), 2, []int64{11, 12, 12}))

	perms, err := svc.RolePermissions(context.Background(), 2)
	require.NoError(t, err)
	var caps []string
	for _, p := range perms {
		caps = append(caps, p.Capability().String())
	}
	assert.ElementsMatch(t, []string{"read:Meeting", "manage:Task"}, caps)
}

func TestSetRolePermissionsNoopSkipsWrite(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	require.NoError(t, svc.SetRolePermissions(context.Background(), 2, []int64{10, 11}))
	require.NoError(t, svc.SetRolePermissions(context.Background(), 2, []int64{11, 10}))
	assert.Zero(t, repo.replaced)
}

func TestRenameRoleProtectsSuperRoles(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	// Renaming a name-matched super role would strip its delete protection.
	_, err := svc.RenameRole(context.Background(), 3, "Guest")
	assert.ErrorIs(t, err, ErrProtected)
	_, err = svc.RenameRole(context.Background(), 1, "Guest")
	assert.ErrorIs(t, err, ErrProtected)
	assert.ErrorIs(t, svc.DeleteRole(context.Background(), 3), ErrProtected)
	assert.Empty(t, repo.deleted)
	assert.Equal(t, "Master Admin", repo.roles[3].Name)

	_, err = svc.RenameRole(context.Background(), 99, "Guest")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSuperRoleNamesReserved(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	manager := access.WithEvaluator(context.Background(), access.NewEvaluator(access.Actor{UserID: 5, RoleID: 2},
		access.NewPermissionSet(access.Capability{Action: access.ActionManage, Subject: access.SubjectRoles})))

	for _, name := range []string{"Super Admin", "superadmin", " Master Admin "} {
		_, err := svc.CreateRole(manager, name)
		assert.ErrorIs(t, err, ErrReservedName, name)
		_, err = svc.RenameRole(manager, 2, name)
		assert.ErrorIs(t, err, ErrReservedName, name)
	}
	_, err := svc.CreateRole(context.Background(), "Super Admin")
	assert.ErrorIs(t, err, ErrReservedName)
	assert.Len(t, repo.roles, 3)
	assert.Equal(t, "Secretary", repo.roles[2].Name)

	root := access.WithEvaluator(context.Background(), access.NewEvaluator(access.Actor{UserID: 9, RoleID: 1}, nil))
	role, err := svc.CreateRole(root, "Super Admin")
	require.NoError(t, err)
	assert.True(t, role.IsSuper())
}

func TestSetRolePermissionsRejectsSuperRoles(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	assert.ErrorIs(t, svc.SetRolePermissions(context.Background(), 1, []int64{10}), ErrProtected)
	assert.ErrorIs(t, svc.SetRolePermissions(context.Background(), 3, []int64{10}), ErrProtected)
	assert.Empty(t, repo.links[1])
	assert.Empty(t, repo.links[3])
	assert.Zero(t, repo.replaced)
}

func TestSetRolePermissionsUnknownRole(t *testing.T) {
	svc := NewService(newMockRepository())
	assert.ErrorIs(t, svc.SetRolePermissions(context.Background(), 42, []int64{10}), ErrNotFound)
}
