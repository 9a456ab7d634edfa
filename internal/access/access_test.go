package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperRoleBypassesEverything(t *testing.T) {
	cases := []Actor{
		{RoleID: SuperRoleID, RoleName: "Viewer"},
		{RoleID: 9, RoleName: "SuperAdmin"},
		{RoleID: 9, RoleName: "  super Admin "},
		{RoleID: 9, RoleName: "MASTERADMIN"},
		{RoleID: 9, RoleName: "Master\tAdmin"},
	}
	for _, actor := range cases {
		e := NewEvaluator(actor, nil)
		for _, c := range Catalog() {
			assert.True(t, e.Can(c.Action, c.Subject), "actor %+v should reach %s", actor, c)
		}
		assert.True(t, e.Can(Action("archive"), Subject("Anything")))
		assert.True(t, e.IsSuperAdmin())
	}
}

func TestNonSuperRoleUsesMembership(t *testing.T) {
	e := NewEvaluator(Actor{RoleID: 3, RoleName: "Secretary"}, NewPermissionSet(Capability{ActionCreate, SubjectMeeting}))

	assert.True(t, e.Can(ActionCreate, SubjectMeeting))
	assert.False(t, e.Can(ActionRead, SubjectMeeting))
	assert.False(t, e.IsSuperAdmin())
}

func TestSimilarNamesAreNotSuper(t *testing.T) {
	for _, name := range []string{"admin", "super", "superadmins", "Master Admin Assistant", ""} {
		assert.False(t, IsSuperRole(2, name), name)
	}
}

func TestZeroEvaluatorDenies(t *testing.T) {
	var e Evaluator
	assert.False(t, e.Can(ActionRead, SubjectTask))
	assert.Empty(t, e.Permissions())
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability("create:Meeting")
	require.NoError(t, err)
	assert.Equal(t, Capability{ActionCreate, SubjectMeeting}, c)
	assert.Equal(t, "create:Meeting", c.String())

	for _, raw := range []string{"CREATE:Meeting", "create:meeting", " Create : MEETING "} {
		c, err := ParseCapability(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "create:Meeting", c.String(), raw)
	}

	for _, raw := range []string{"", "create", "create:", ":Meeting", "fly:Meeting", "create:Spaceship"} {
		_, err := ParseCapability(raw)
		assert.ErrorIs(t, err, ErrInvalidCapability, raw)
	}
}

func TestParsePermissionSetIsIdempotent(t *testing.T) {
	raw := []string{"create:Meeting", "read:Task", "create:Meeting", "bogus"}

	first, rejected := ParsePermissionSet(raw)
	second, _ := ParsePermissionSet(raw)

	assert.Equal(t, []string{"bogus"}, rejected)
	assert.Len(t, first, 2)
	assert.True(t, first.Equal(second))
	assert.Equal(t, []string{"create:Meeting", "read:Task"}, first.Strings())
}

func TestCatalogCoversVocabulary(t *testing.T) {
	catalog := Catalog()
	assert.Len(t, catalog, len(actions)*len(subjects))
	assert.Len(t, NewPermissionSet(catalog...), len(catalog))
}
