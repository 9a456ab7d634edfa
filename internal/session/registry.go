package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Registry owns one Coordinator per browser session.
type Registry struct {
	deps  Deps
	group singleflight.Group

	mu           sync.Mutex
	coordinators map[string]*Coordinator
}

// NewRegistry constructs a Registry.
func NewRegistry(deps Deps) *Registry {
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{deps: deps, coordinators: make(map[string]*Coordinator)}
}

// Ensure returns the coordinator for sessionID, starting it on first use.
func (r *Registry) Ensure(ctx context.Context, sessionID string) *Coordinator {
	r.mu.Lock()
	c, ok := r.coordinators[sessionID]
	if !ok {
		c = newCoordinator(sessionID, r.deps, &r.group)
		r.coordinators[sessionID] = c
	}
	r.mu.Unlock()
	if !ok {
		c.Start(ctx)
	} else if c.Snapshot().State == StateLoadingSession {
		// Joins the in-flight load started by the first caller.
		c.Refresh(ctx)
	}
	return c
}

// Notify delivers an auth event to the coordinator of sessionID and returns
// the resulting state.
func (r *Registry) Notify(ctx context.Context, sessionID string, ev AuthEvent) View {
	if c, ok := r.Lookup(sessionID); ok {
		return c.HandleAuthEvent(ctx, ev).ToView()
	}
	return r.Ensure(ctx, sessionID).Snapshot().ToView()
}

// Lookup returns an existing coordinator.
func (r *Registry) Lookup(sessionID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coordinators[sessionID]
	return c, ok
}

// Release tears down the coordinator of sessionID.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	c, ok := r.coordinators[sessionID]
	delete(r.coordinators, sessionID)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Len reports the number of live coordinators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coordinators)
}

// ProfileChanged refreshes every session signed in as userID.
func (r *Registry) ProfileChanged(ctx context.Context, userID int64) {
	r.refreshWhere(ctx, func(s Snapshot) bool {
		return s.Profile != nil && s.Profile.ID == userID
	})
}

// RoleChanged refreshes every session whose actor holds roleID.
func (r *Registry) RoleChanged(ctx context.Context, roleID int64) {
	r.refreshWhere(ctx, func(s Snapshot) bool {
		return s.Profile != nil && s.Profile.RoleID == roleID
	})
}

func (r *Registry) refreshWhere(ctx context.Context, match func(Snapshot) bool) {
	r.mu.Lock()
	var targets []*Coordinator
	for _, c := range r.coordinators {
		if match(c.Snapshot()) {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()
	bg := context.WithoutCancel(ctx)
	for _, c := range targets {
		go c.Refresh(bg)
	}
}

// Prune releases coordinators that have been logged out for longer than retention.
func (r *Registry) Prune(retention time.Duration) int {
	cutoff := r.deps.Clock.Now().Add(-retention)
	r.mu.Lock()
	var stale []*Coordinator
	for id, c := range r.coordinators {
		s := c.Snapshot()
		if s.State == StateLoggedOut && s.ChangedAt.Before(cutoff) {
			stale = append(stale, c)
			delete(r.coordinators, id)
		}
	}
	r.mu.Unlock()
	for _, c := range stale {
		c.Close()
	}
	return len(stale)
}

// Run prunes on every tick until ctx is done, then stops all timers.
func (r *Registry) Run(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			if n := r.Prune(retention); n > 0 {
				r.deps.Logger.Debug("session: pruned coordinators", slog.Int("count", n))
			}
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := r.coordinators
	r.coordinators = make(map[string]*Coordinator)
	r.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
}
