// Package session coordinates an actor's sign-in state, permission load and
// inactivity sign-out.
package session

import (
	"time"

	"github.com/ciec-now/ciecnow/internal/access"
	"github.com/ciec-now/ciecnow/internal/users"
)

// State is a node of the session state machine.
type State string

const (
	StateLoggedOut             State = "logged_out"
	StateLoadingSession        State = "loading_session"
	StateAwaitingPasswordReset State = "awaiting_password_reset"
	StatePendingApproval       State = "pending_approval"
	StateActive                State = "active"
)

// Reason explains the most recent transition to StateLoggedOut.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonVoluntary  Reason = "voluntary"
	ReasonInactivity Reason = "inactivity"
	ReasonExpired    Reason = "expired"
)

// InputKind is a user input event that counts as activity.
type InputKind string

const (
	InputPointerMove InputKind = "pointer_move"
	InputKeyPress    InputKind = "key_press"
	InputClick       InputKind = "click"
	InputScroll      InputKind = "scroll"
	InputTouch       InputKind = "touch"
)

// Valid reports whether k is a recognised input event.
func (k InputKind) Valid() bool {
	switch k {
	case InputPointerMove, InputKeyPress, InputClick, InputScroll, InputTouch:
		return true
	}
	return false
}

// AuthEvent is an external sign-in or sign-out notification.
type AuthEvent string

const (
	AuthSignedIn  AuthEvent = "signed_in"
	AuthSignedOut AuthEvent = "signed_out"
)

// Snapshot is the coordinator's state as seen by the view layer.
type Snapshot struct {
	State      State
	Reason     Reason
	Profile    *users.Profile
	Evaluator  access.Evaluator
	Generation uint64
	ChangedAt  time.Time
}

// View is the JSON shape of a Snapshot.
type View struct {
	State            State              `json:"state"`
	Reason           Reason             `json:"reason,omitempty"`
	InactivityNotice bool               `json:"inactivity_notice"`
	Profile          *users.ProfileView `json:"profile,omitempty"`
	IsSuperAdmin     bool               `json:"is_super_admin"`
	Permissions      []string           `json:"permissions"`
	Generation       uint64             `json:"generation"`
}

// ToView converts the snapshot into its JSON shape.
func (s Snapshot) ToView() View {
	v := View{
		State:            s.State,
		Reason:           s.Reason,
		InactivityNotice: s.State == StateLoggedOut && s.Reason == ReasonInactivity,
		IsSuperAdmin:     s.Evaluator.IsSuperAdmin(),
		Permissions:      s.Evaluator.Permissions(),
		Generation:       s.Generation,
	}
	if s.Profile != nil {
		pv := s.Profile.ToView()
		v.Profile = &pv
	}
	return v
}
