package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ciec-now/ciecnow/internal/access"
	"github.com/ciec-now/ciecnow/internal/users"
)

// ErrInvalidInput rejects activity reports with an unknown input kind.
var ErrInvalidInput = errors.New("session: invalid input kind")

const loadTimeout = 10 * time.Second

// Identity is what the session store knows about a browser session.
type Identity struct {
	UserID     int64
	Recovering bool
}

// IdentitySource reads and destroys backing sessions.
type IdentitySource interface {
	Identity(ctx context.Context, sessionID string) (Identity, bool, error)
	Terminate(ctx context.Context, sessionID string) error
}

// ProfileSource loads actor profiles.
type ProfileSource interface {
	Profile(ctx context.Context, userID int64) (users.Profile, error)
}

// Authorizer computes an actor's evaluator. It must not fail.
type Authorizer interface {
	Resolve(ctx context.Context, actor access.Actor) (access.Evaluator, string)
}

// SignOutHook is told when a coordinator signs a user out after inactivity.
type SignOutHook interface {
	SessionEnded(ctx context.Context, sessionID string, userID int64)
}

// Deps are the collaborators shared by every coordinator. OnSignOut is
// optional.
type Deps struct {
	Identities  IdentitySource
	Profiles    ProfileSource
	Authorizer  Authorizer
	Logger      *slog.Logger
	IdleTimeout time.Duration
	Clock       Clock
	OnSignOut   SignOutHook
}

// Coordinator owns the session state of one browser session. All mutation
// goes through its methods.
type Coordinator struct {
	id    string
	deps  Deps
	group *singleflight.Group
	idle  *idleTimer

	mu         sync.Mutex
	snap       Snapshot
	generation uint64
}

func newCoordinator(id string, deps Deps, group *singleflight.Group) *Coordinator {
	c := &Coordinator{id: id, deps: deps, group: group}
	c.idle = newIdleTimer(deps.Clock, deps.IdleTimeout, c.expire)
	c.snap = Snapshot{State: StateLoadingSession, ChangedAt: deps.Clock.Now()}
	return c
}

// ID returns the browser session the coordinator belongs to.
func (c *Coordinator) ID() string {
	return c.id
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Start performs the initial load.
func (c *Coordinator) Start(ctx context.Context) Snapshot {
	return c.Refresh(ctx)
}

// HandleAuthEvent reacts to an external sign-in or sign-out notification.
// Either event invalidates loads that started before it.
func (c *Coordinator) HandleAuthEvent(ctx context.Context, ev AuthEvent) Snapshot {
	switch ev {
	case AuthSignedOut:
		c.loggedOut(ReasonVoluntary)
	case AuthSignedIn:
		c.mu.Lock()
		c.generation++
		c.mu.Unlock()
	}
	c.group.Forget(c.id)
	return c.Refresh(ctx)
}

// HandleVisibility re-runs the full load when the document becomes visible.
func (c *Coordinator) HandleVisibility(ctx context.Context, visible bool) Snapshot {
	if !visible {
		return c.Snapshot()
	}
	return c.Refresh(ctx)
}

// RecordActivity restarts the inactivity countdown. It reports whether the
// event was counted, which only happens while Active.
func (c *Coordinator) RecordActivity(kind InputKind) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidInput, kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State != StateActive {
		return false, nil
	}
	c.idle.Reset()
	return true, nil
}

// SignOut ends the session voluntarily.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.loggedOut(ReasonVoluntary)
	if err := c.deps.Identities.Terminate(ctx, c.id); err != nil {
		return fmt.Errorf("session: terminate: %w", err)
	}
	return nil
}

// Close stops the inactivity timer without changing state.
func (c *Coordinator) Close() {
	c.idle.Stop()
}

// Refresh loads identity, profile and permissions and applies the result.
// Concurrent refreshes of the same session share one load; a load that was
// overtaken by a sign-in or sign-out is discarded.
func (c *Coordinator) Refresh(ctx context.Context) Snapshot {
	ch := c.group.DoChan(c.id, func() (interface{}, error) {
		c.mu.Lock()
		gen := c.generation
		if c.snap.State != StateActive {
			c.snap.State = StateLoadingSession
		}
		c.mu.Unlock()

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return c.apply(c.load(loadCtx), gen), nil
	})
	select {
	case <-ctx.Done():
		return c.Snapshot()
	case res := <-ch:
		return res.Val.(Snapshot)
	}
}

type loadResult struct {
	state     State
	profile   *users.Profile
	evaluator access.Evaluator
	gone      bool
}

func (c *Coordinator) load(ctx context.Context) loadResult {
	log := c.deps.Logger.With(slog.String("session", c.id))
	ident, ok, err := c.deps.Identities.Identity(ctx, c.id)
	if err != nil {
		log.Warn("session: identity lookup failed", slog.Any("error", err))
		return loadResult{state: StateLoggedOut, gone: true}
	}
	if !ok || ident.UserID <= 0 {
		return loadResult{state: StateLoggedOut, gone: true}
	}
	if ident.Recovering {
		return loadResult{state: StateAwaitingPasswordReset}
	}
	profile, err := c.deps.Profiles.Profile(ctx, ident.UserID)
	if err != nil {
		log.Warn("session: profile lookup failed", slog.Int64("user_id", ident.UserID), slog.Any("error", err))
		return loadResult{state: StateLoggedOut}
	}
	if !profile.IsApproved {
		return loadResult{state: StatePendingApproval, profile: &profile}
	}
	evaluator, path := c.deps.Authorizer.Resolve(ctx, profile.Actor())
	log.Debug("session: permissions resolved", slog.Int64("user_id", profile.ID), slog.String("path", path))
	return loadResult{state: StateActive, profile: &profile, evaluator: evaluator}
}

func (c *Coordinator) apply(res loadResult, gen uint64) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return c.snap
	}
	prev := c.snap
	next := Snapshot{
		State:      res.state,
		Profile:    res.profile,
		Evaluator:  res.evaluator,
		Generation: c.generation,
		ChangedAt:  c.deps.Clock.Now(),
	}
	if res.state == StateLoggedOut {
		switch {
		case prev.State == StateActive && res.gone:
			next.Reason = ReasonExpired
		default:
			next.Reason = prev.Reason
		}
	}
	if res.state == StateActive {
		if prev.State != StateActive {
			c.idle.Reset()
		}
	} else {
		c.idle.Stop()
	}
	c.snap = next
	return next
}

func (c *Coordinator) loggedOut(reason Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked(reason)
}

func (c *Coordinator) endLocked(reason Reason) {
	c.idle.Stop()
	c.generation++
	c.snap = Snapshot{State: StateLoggedOut, Reason: reason, Generation: c.generation, ChangedAt: c.deps.Clock.Now()}
}

func (c *Coordinator) expire() {
	c.mu.Lock()
	if c.snap.State != StateActive {
		c.mu.Unlock()
		return
	}
	var userID int64
	if c.snap.Profile != nil {
		userID = c.snap.Profile.ID
	}
	c.endLocked(ReasonInactivity)
	c.mu.Unlock()

	ctx := context.Background()
	c.deps.Logger.Info("session: signed out after inactivity", slog.String("session", c.id), slog.Int64("user_id", userID))
	if err := c.deps.Identities.Terminate(ctx, c.id); err != nil {
		c.deps.Logger.Warn("session: terminate after inactivity", slog.String("session", c.id), slog.Any("error", err))
	}
	if c.deps.OnSignOut != nil {
		c.deps.OnSignOut.SessionEnded(ctx, c.id, userID)
	}
}
