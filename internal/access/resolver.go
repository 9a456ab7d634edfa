package access

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution paths recorded in metrics and logs.
const (
	PathPrimary  = "primary"
	PathFallback = "fallback"
	PathEmpty    = "empty"
)

// Remote resolves an actor's capabilities through the permission edge function.
type Remote interface {
	ResolvePermissions(ctx context.Context, actor Actor) ([]string, error)
}

// Resolver computes an actor's Evaluator, falling back from the remote call
// to a direct table join. It never returns an error.
type Resolver struct {
	remote      Remote
	store       Store
	logger      *slog.Logger
	resolutions *prometheus.CounterVec
}

// NewResolver wires the resolver. remote may be nil when no edge endpoint is configured.
func NewResolver(remote Remote, store Store, logger *slog.Logger, registerer prometheus.Registerer) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciecnow_permission_resolutions_total",
		Help: "Permission set resolutions partitioned by the path that produced them.",
	}, []string{"path"})
	if registerer != nil {
		if err := registerer.Register(resolutions); err != nil {
			if existing, ok := err.(prometheus.AlreadyRegisteredError); ok {
				resolutions = existing.ExistingCollector.(*prometheus.CounterVec)
			}
		}
	}
	return &Resolver{remote: remote, store: store, logger: logger, resolutions: resolutions}
}

// Resolve returns the evaluator for actor and the path that produced its set.
func (r *Resolver) Resolve(ctx context.Context, actor Actor) (Evaluator, string) {
	raw, path := r.fetch(ctx, actor)
	set, rejected := ParsePermissionSet(raw)
	if len(rejected) > 0 {
		r.logger.Warn("access: skipped unknown capabilities",
			slog.Int64("user_id", actor.UserID),
			slog.Any("capabilities", rejected))
	}
	r.resolutions.WithLabelValues(path).Inc()
	return NewEvaluator(actor, set), path
}

func (r *Resolver) fetch(ctx context.Context, actor Actor) ([]string, string) {
	if r.remote != nil {
		perms, err := r.remote.ResolvePermissions(ctx, actor)
		if err == nil {
			return perms, PathPrimary
		}
		r.logger.Warn("access: primary permission resolution failed",
			slog.Int64("user_id", actor.UserID), slog.Any("error", err))
	}
	if r.store != nil {
		perms, err := StorePermissions(ctx, r.store, actor)
		if err == nil {
			return perms, PathFallback
		}
		r.logger.Error("access: fallback permission join failed",
			slog.Int64("user_id", actor.UserID), slog.Any("error", err))
	}
	return nil, PathEmpty
}

// StorePermissions computes an actor's capability strings from the tables.
// Super roles receive the whole catalog. The edge endpoint serves the same
// result, so both resolution paths agree.
func StorePermissions(ctx context.Context, store Store, actor Actor) ([]string, error) {
	if IsSuperRole(actor.RoleID, actor.RoleName) {
		return store.CatalogPermissions(ctx)
	}
	return store.RolePermissions(ctx, actor.RoleID)
}
