package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ciec-now/ciecnow/internal/access"
	"github.com/ciec-now/ciecnow/internal/auth"
	"github.com/ciec-now/ciecnow/internal/fiscal"
	"github.com/ciec-now/ciecnow/internal/observability"
	"github.com/ciec-now/ciecnow/internal/platform/httpx"
	"github.com/ciec-now/ciecnow/internal/prefs"
	"github.com/ciec-now/ciecnow/internal/roles"
	"github.com/ciec-now/ciecnow/internal/session"
	"github.com/ciec-now/ciecnow/internal/shared"
	"github.com/ciec-now/ciecnow/internal/users"
	"github.com/ciec-now/ciecnow/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics

	AuthHandler    *auth.Handler
	SessionHandler *session.Handler
	PeriodHandler  *fiscal.Handler
	PrefsHandler   *prefs.Handler
	RolesHandler   *roles.Handler
	UsersHandler   *users.Handler
	EdgeHandler    *access.EdgeHandler
	JobHandler     *jobs.Handler
}

// NewRouter constructs the chi.Router with CIEC Now defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	mwCfg := MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}
	for _, mw := range MiddlewareStack(mwCfg) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	// Server-to-server: bearer token, no cookie session.
	if params.EdgeHandler != nil {
		r.Method(http.MethodPost, access.EdgePath, params.EdgeHandler)
	}

	r.Route("/api", func(r chi.Router) {
		for _, mw := range SessionStack(mwCfg) {
			r.Use(mw)
		}
		r.Use(params.SessionHandler.Attach)

		r.Route("/auth", params.AuthHandler.MountRoutes)
		r.Route("/session", params.SessionHandler.MountRoutes)

		r.Group(func(r chi.Router) {
			r.Use(session.RequireActive)
			if params.PeriodHandler != nil {
				r.Route("/period", params.PeriodHandler.MountRoutes)
			}
			if params.PrefsHandler != nil {
				r.Route("/preferences", params.PrefsHandler.MountRoutes)
			}
			if params.RolesHandler != nil {
				r.Route("/roles", params.RolesHandler.MountRoutes)
			}
			if params.UsersHandler != nil {
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
		})
	})

	return r
}
