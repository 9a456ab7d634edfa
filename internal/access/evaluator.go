package access

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// SuperRoleID is the reserved role identifier with universal access.
const SuperRoleID int64 = 1

// Normalized super-role names. Both spellings occur in stored roles.
var superRoleNames = map[string]struct{}{
	"superadmin":  {},
	"masteradmin": {},
}

// Actor is the signed-in user whose capabilities are evaluated.
type Actor struct {
	UserID   int64
	RoleID   int64
	RoleName string
}

// IsSuperRole reports whether a role bypasses all capability checks.
func IsSuperRole(roleID int64, roleName string) bool {
	if roleID == SuperRoleID {
		return true
	}
	_, ok := superRoleNames[normalizeRoleName(roleName)]
	return ok
}

func normalizeRoleName(name string) string {
	folded := cases.Fold().String(name)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
}

// Evaluator answers capability checks for one actor. The zero value denies
// everything.
type Evaluator struct {
	super bool
	perms PermissionSet
}

// NewEvaluator builds an evaluator for the actor with the given permission set.
func NewEvaluator(actor Actor, perms PermissionSet) Evaluator {
	if perms == nil {
		perms = PermissionSet{}
	}
	return Evaluator{super: IsSuperRole(actor.RoleID, actor.RoleName), perms: perms}
}

// Can reports whether the actor may perform action on subject.
func (e Evaluator) Can(action Action, subject Subject) bool {
	if e.super {
		return true
	}
	return e.perms.Has(Capability{Action: action, Subject: subject})
}

// IsSuperAdmin reports whether the actor holds the super role.
func (e Evaluator) IsSuperAdmin() bool {
	return e.super
}

// Permissions returns the sorted capability strings granted explicitly.
func (e Evaluator) Permissions() []string {
	return e.perms.Strings()
}

// Set exposes the underlying permission set.
func (e Evaluator) Set() PermissionSet {
	return e.perms
}
