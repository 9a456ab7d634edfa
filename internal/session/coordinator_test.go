package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciec-now/ciecnow/internal/access"
	"github.com/ciec-now/ciecnow/internal/users"
)

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due timers in order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeIdentities struct {
	mu         sync.Mutex
	sessions   map[string]Identity
	err        error
	terminated []string
	gate       chan struct{}
	calls      int
	// stall holds the next lookup after it has read the session.
	stall chan struct{}
}

func (f *fakeIdentities) Identity(_ context.Context, id string) (Identity, bool, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	if stall := f.stall; stall != nil {
		f.stall = nil
		ident, ok := f.sessions[id]
		f.mu.Unlock()
		<-stall
		return ident, ok, nil
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Identity{}, false, f.err
	}
	ident, ok := f.sessions[id]
	return ident, ok, nil
}

func (f *fakeIdentities) Terminate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	f.terminated = append(f.terminated, id)
	return nil
}

func (f *fakeIdentities) set(id string, ident Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id] = ident
}

func (f *fakeIdentities) terminations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.terminated)
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[int64]users.Profile
	err      error
}

func (f *fakeProfiles) Profile(_ context.Context, id int64) (users.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return users.Profile{}, f.err
	}
	p, ok := f.profiles[id]
	if !ok {
		return users.Profile{}, users.ErrNotFound
	}
	return p, nil
}

type signOutRecorder struct {
	mu    sync.Mutex
	ended map[string]int64
}

func (r *signOutRecorder) SessionEnded(_ context.Context, sessionID string, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended[sessionID] = userID
}

func (r *signOutRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ended)
}

type fakeAuthorizer struct {
	perms []string
}

func (f fakeAuthorizer) Resolve(_ context.Context, actor access.Actor) (access.Evaluator, string) {
	set, _ := access.ParsePermissionSet(f.perms)
	return access.NewEvaluator(actor, set), access.PathPrimary
}

type fixture struct {
	clock      *manualClock
	identities *fakeIdentities
	profiles   *fakeProfiles
	signOuts   *signOutRecorder
	registry   *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:      newManualClock(),
		identities: &fakeIdentities{sessions: map[string]Identity{}},
		profiles: &fakeProfiles{profiles: map[int64]users.Profile{
			7: {ID: 7, Email: "ana@ciec.test", RoleID: 3, RoleName: "Coordinador", IsApproved: true},
			8: {ID: 8, Email: "new@ciec.test", RoleID: 3, RoleName: "Coordinador"},
			9: {ID: 9, Email: "root@ciec.test", RoleID: 1, RoleName: "Super Admin", IsApproved: true},
		}},
		signOuts: &signOutRecorder{ended: map[string]int64{}},
	}
	f.registry = NewRegistry(Deps{
		Identities:  f.identities,
		Profiles:    f.profiles,
		Authorizer:  fakeAuthorizer{perms: []string{"read:Meeting", "create:Task"}},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		IdleTimeout: 5 * time.Minute,
		Clock:       f.clock,
		OnSignOut:   f.signOuts,
	})
	return f
}

func TestStartTransitions(t *testing.T) {
	f := newFixture(t)
	f.identities.set("active", Identity{UserID: 7})
	f.identities.set("pending", Identity{UserID: 8})
	f.identities.set("recovering", Identity{UserID: 7, Recovering: true})
	f.identities.set("orphan", Identity{UserID: 404})

	cases := map[string]State{
		"active":     StateActive,
		"pending":    StatePendingApproval,
		"recovering": StateAwaitingPasswordReset,
		"orphan":     StateLoggedOut,
		"anonymous":  StateLoggedOut,
	}
	for id, want := range cases {
		t.Run(id, func(t *testing.T) {
			c := f.registry.Ensure(context.Background(), id)
			assert.Equal(t, want, c.Snapshot().State)
		})
	}
}

func TestActiveSnapshotCarriesEvaluator(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})

	snap := f.registry.Ensure(context.Background(), "s1").Snapshot()
	require.Equal(t, StateActive, snap.State)
	require.NotNil(t, snap.Profile)
	assert.True(t, snap.Evaluator.Can(access.ActionRead, access.SubjectMeeting))
	assert.False(t, snap.Evaluator.Can(access.ActionDelete, access.SubjectMeeting))

	view := snap.ToView()
	assert.Equal(t, []string{"create:Task", "read:Meeting"}, view.Permissions)
	assert.False(t, view.IsSuperAdmin)
	assert.False(t, view.InactivityNotice)
}

func TestSuperRoleBypass(t *testing.T) {
	f := newFixture(t)
	f.identities.set("root", Identity{UserID: 9})

	snap := f.registry.Ensure(context.Background(), "root").Snapshot()
	require.Equal(t, StateActive, snap.State)
	assert.True(t, snap.Evaluator.IsSuperAdmin())
	assert.True(t, snap.Evaluator.Can(access.ActionDelete, access.SubjectRoles))
}

func TestProfileFailureLogsOut(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})
	f.profiles.err = errors.New("db down")

	c := f.registry.Ensure(context.Background(), "s1")
	assert.Equal(t, StateLoggedOut, c.Snapshot().State)
	assert.Zero(t, f.clock.Pending())
}

func TestInactivityExpiry(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})
	c := f.registry.Ensure(context.Background(), "s1")
	require.Equal(t, StateActive, c.Snapshot().State)
	require.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(4*time.Minute + 59*time.Second)
	assert.Equal(t, StateActive, c.Snapshot().State)

	f.clock.Advance(time.Second)
	snap := c.Snapshot()
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.Equal(t, ReasonInactivity, snap.Reason)
	assert.True(t, snap.ToView().InactivityNotice)
	assert.Equal(t, 1, f.identities.terminations())
	assert.Equal(t, map[string]int64{"s1": 7}, f.signOuts.ended)
	assert.Zero(t, f.clock.Pending())

	// The notice survives the next load of the now empty session.
	snap = c.Refresh(context.Background())
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.Equal(t, ReasonInactivity, snap.Reason)
}

func TestActivityRestartsCountdown(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})
	c := f.registry.Ensure(context.Background(), "s1")

	for i := 0; i < 3; i++ {
		f.clock.Advance(4 * time.Minute)
		counted, err := c.RecordActivity(InputPointerMove)
		require.NoError(t, err)
		assert.True(t, counted)
		assert.Equal(t, 1, f.clock.Pending())
	}
	assert.Equal(t, StateActive, c.Snapshot().State)

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, StateLoggedOut, c.Snapshot().State)
	assert.Equal(t, 1, f.identities.terminations())

	counted, err := c.RecordActivity(InputClick)
	require.NoError(t, err)
	assert.False(t, counted)
	assert.Zero(t, f.clock.Pending())
}

func TestRecordActivityRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})
	c := f.registry.Ensure(context.Background(), "s1")

	_, err := c.RecordActivity("wheel")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestVoluntarySignOut(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})
	c := f.registry.Ensure(context.Background(), "s1")

	require.NoError(t, c.SignOut(context.Background()))
	snap := c.Snapshot()
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.Equal(t, ReasonVoluntary, snap.Reason)
	assert.False(t, snap.ToView().InactivityNotice)
	assert.Zero(t, f.clock.Pending())

	// A late expiry must not sign out a second time.
	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, f.identities.terminations())
	assert.Zero(t, f.signOuts.count())
	assert.Equal(t, ReasonVoluntary, c.Snapshot().Reason)
}

func TestRefreshWhileActiveKeepsSingleTimer(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})
	c := f.registry.Ensure(context.Background(), "s1")

	for i := 0; i < 5; i++ {
		snap := c.HandleVisibility(context.Background(), true)
		assert.Equal(t, StateActive, snap.State)
	}
	assert.Equal(t, 1, f.clock.Pending())

	snap := c.HandleVisibility(context.Background(), false)
	assert.Equal(t, StateActive, snap.State)
}

func TestExpiredSessionDetectedOnRefocus(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})
	c := f.registry.Ensure(context.Background(), "s1")

	require.NoError(t, f.identities.Terminate(context.Background(), "s1"))
	snap := c.HandleVisibility(context.Background(), true)
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.Equal(t, ReasonExpired, snap.Reason)
	assert.Zero(t, f.clock.Pending())
}

func TestRecoveryThenSignIn(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7, Recovering: true})
	c := f.registry.Ensure(context.Background(), "s1")
	require.Equal(t, StateAwaitingPasswordReset, c.Snapshot().State)
	assert.Zero(t, f.clock.Pending())

	f.identities.set("s1", Identity{UserID: 7})
	snap := c.HandleAuthEvent(context.Background(), AuthSignedIn)
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, 1, f.clock.Pending())
}

func TestStaleRefreshDiscardedAfterSignOut(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})
	c := f.registry.Ensure(context.Background(), "s1")
	require.Equal(t, StateActive, c.Snapshot().State)

	gate := make(chan struct{})
	f.identities.mu.Lock()
	f.identities.gate = gate
	f.identities.mu.Unlock()

	done := make(chan Snapshot, 1)
	go func() { done <- c.Refresh(context.Background()) }()

	require.Eventually(t, func() bool {
		f.identities.mu.Lock()
		defer f.identities.mu.Unlock()
		return f.identities.calls >= 2
	}, time.Second, time.Millisecond)

	c.loggedOut(ReasonVoluntary)
	close(gate)

	snap := <-done
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.Equal(t, ReasonVoluntary, snap.Reason)
	assert.Equal(t, StateLoggedOut, c.Snapshot().State)
	assert.Zero(t, f.clock.Pending())
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})
	c := f.registry.Ensure(context.Background(), "s1")

	gate := make(chan struct{})
	f.identities.mu.Lock()
	f.identities.gate = gate
	f.identities.calls = 0
	f.identities.mu.Unlock()

	// The first refresh holds the load open; the rest must join it.
	results := make(chan Snapshot, 4)
	go func() { results <- c.Refresh(context.Background()) }()
	require.Eventually(t, func() bool {
		f.identities.mu.Lock()
		defer f.identities.mu.Unlock()
		return f.identities.calls == 1
	}, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Refresh(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	for i := 0; i < 4; i++ {
		assert.Equal(t, StateActive, (<-results).State)
	}

	f.identities.mu.Lock()
	calls := f.identities.calls
	f.identities.mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateActive, c.Snapshot().State)
	assert.Equal(t, 1, f.clock.Pending())
}

func TestRegistryPruneAndRoleChange(t *testing.T) {
	f := newFixture(t)
	f.identities.set("s1", Identity{UserID: 7})
	f.identities.set("s2", Identity{UserID: 9})
	c1 := f.registry.Ensure(context.Background(), "s1")
	f.registry.Ensure(context.Background(), "s2")
	require.Equal(t, 2, f.registry.Len())

	f.profiles.mu.Lock()
	p := f.profiles.profiles[7]
	p.IsApproved = false
	f.profiles.profiles[7] = p
	f.profiles.mu.Unlock()

	f.registry.RoleChanged(context.Background(), 3)
	require.Eventually(t, func() bool {
		return c1.Snapshot().State == StatePendingApproval
	}, time.Second, time.Millisecond)

	require.NoError(t, c1.SignOut(context.Background()))
	f.clock.Advance(time.Hour)
	assert.Equal(t, 0, f.registry.Prune(2*time.Hour))
	assert.Equal(t, 1, f.registry.Prune(30*time.Minute))
	assert.Equal(t, 1, f.registry.Len())

	_, ok := f.registry.Lookup("s1")
	assert.False(t, ok)
}

func TestNotifySignedInAfterLogin(t *testing.T) {
	f := newFixture(t)
	c := f.registry.Ensure(context.Background(), "s1")
	require.Equal(t, StateLoggedOut, c.Snapshot().State)

	f.identities.set("s1", Identity{UserID: 7})
	view := f.registry.Notify(context.Background(), "s1", AuthSignedIn)
	assert.Equal(t, StateActive, view.State)

	view = f.registry.Notify(context.Background(), "fresh", AuthSignedIn)
	assert.Equal(t, StateLoggedOut, view.State)
}

func TestSignInOvertakesStaleRefresh(t *testing.T) {
	f := newFixture(t)
	c := f.registry.Ensure(context.Background(), "s1")
	require.Equal(t, StateLoggedOut, c.Snapshot().State)

	// A refresh from another tab reads the anonymous session and stalls.
	stall := make(chan struct{})
	f.identities.mu.Lock()
	f.identities.stall = stall
	f.identities.calls = 0
	f.identities.mu.Unlock()
	stale := make(chan Snapshot, 1)
	go func() { stale <- c.HandleVisibility(context.Background(), true) }()
	require.Eventually(t, func() bool {
		f.identities.mu.Lock()
		defer f.identities.mu.Unlock()
		return f.identities.calls == 1
	}, time.Second, time.Millisecond)

	f.identities.set("s1", Identity{UserID: 7})
	login := make(chan View, 1)
	go func() { login <- f.registry.Notify(context.Background(), "s1", AuthSignedIn) }()
	close(stall)

	assert.Equal(t, StateActive, (<-login).State)
	<-stale
	assert.Equal(t, StateActive, c.Snapshot().State)
	assert.Equal(t, StateActive, f.registry.Ensure(context.Background(), "s1").Snapshot().State)
	assert.Equal(t, 1, f.clock.Pending())
}
