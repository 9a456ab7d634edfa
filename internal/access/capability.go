package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidCapability indicates a capability string outside the known vocabulary.
var ErrInvalidCapability = errors.New("access: invalid capability")

// Action is a verb a role may be granted.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// Subject is the domain noun a permission applies to.
type Subject string

const (
	SubjectMeeting     Subject = "Meeting"
	SubjectEvent       Subject = "Event"
	SubjectTask        Subject = "Task"
	SubjectParticipant Subject = "Participant"
	SubjectCompany     Subject = "Company"
	SubjectAssistance  Subject = "Assistance"
	SubjectReport      Subject = "Report"
	SubjectDepartment  Subject = "Department"
	SubjectUsers       Subject = "Users"
	SubjectRoles       Subject = "Roles"
)

var actions = map[Action]struct{}{
	ActionCreate: {},
	ActionRead:   {},
	ActionUpdate: {},
	ActionDelete: {},
	ActionManage: {},
}

var subjects = map[Subject]struct{}{
	SubjectMeeting:     {},
	SubjectEvent:       {},
	SubjectTask:        {},
	SubjectParticipant: {},
	SubjectCompany:     {},
	SubjectAssistance:  {},
	SubjectReport:      {},
	SubjectDepartment:  {},
	SubjectUsers:       {},
	SubjectRoles:       {},
}

// subjectsByKey maps lower-cased subjects to their canonical spelling.
var subjectsByKey = func() map[string]Subject {
	m := make(map[string]Subject, len(subjects))
	for s := range subjects {
		m[strings.ToLower(string(s))] = s
	}
	return m
}()

// Valid reports whether the action belongs to the vocabulary.
func (a Action) Valid() bool {
	_, ok := actions[a]
	return ok
}

// Valid reports whether the subject belongs to the vocabulary.
func (s Subject) Valid() bool {
	_, ok := subjects[s]
	return ok
}

// Capability is one allowed (action, subject) pair.
type Capability struct {
	Action  Action
	Subject Subject
}

// String renders the wire form "action:subject".
func (c Capability) String() string {
	return string(c.Action) + ":" + string(c.Subject)
}

// ParseCapability converts the wire form into a Capability. Both parts
// match case-insensitively and come back in canonical spelling.
func ParseCapability(raw string) (Capability, error) {
	action, subject, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Capability{}, fmt.Errorf("%w: %q", ErrInvalidCapability, raw)
	}
	a := Action(strings.ToLower(strings.TrimSpace(action)))
	s, known := subjectsByKey[strings.ToLower(strings.TrimSpace(subject))]
	if !a.Valid() || !known {
		return Capability{}, fmt.Errorf("%w: %q", ErrInvalidCapability, raw)
	}
	return Capability{Action: a, Subject: s}, nil
}

// Catalog lists every capability in the vocabulary, sorted by wire form.
func Catalog() []Capability {
	out := make([]Capability, 0, len(actions)*len(subjects))
	for a := range actions {
		for s := range subjects {
			out = append(out, Capability{Action: a, Subject: s})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// PermissionSet holds the capabilities granted to an actor.
type PermissionSet map[Capability]struct{}

// NewPermissionSet builds a set from capabilities, collapsing duplicates.
func NewPermissionSet(caps ...Capability) PermissionSet {
	set := make(PermissionSet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// ParsePermissionSet builds a set from wire strings. Strings outside the
// vocabulary are returned separately so callers can log them.
func ParsePermissionSet(raw []string) (PermissionSet, []string) {
	set := make(PermissionSet, len(raw))
	var rejected []string
	for _, r := range raw {
		c, err := ParseCapability(r)
		if err != nil {
			rejected = append(rejected, r)
			continue
		}
		set[c] = struct{}{}
	}
	return set, rejected
}

// Has reports membership.
func (s PermissionSet) Has(c Capability) bool {
	if s == nil {
		return false
	}
	_, ok := s[c]
	return ok
}

// Strings returns the sorted wire form of the set.
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets contain the same capabilities.
func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for c := range s {
		if _, ok := other[c]; !ok {
			return false
		}
	}
	return true
}
