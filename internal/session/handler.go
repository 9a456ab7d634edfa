package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ciec-now/ciecnow/internal/access"
	"github.com/ciec-now/ciecnow/internal/platform/httpx"
	"github.com/ciec-now/ciecnow/internal/shared"
)

type coordinatorContextKey struct{}

// FromContext returns the coordinator attached to the request.
func FromContext(ctx context.Context) *Coordinator {
	c, _ := ctx.Value(coordinatorContextKey{}).(*Coordinator)
	return c
}

// ActorID returns the signed-in, active actor of the request.
func ActorID(ctx context.Context) (int64, bool) {
	c := FromContext(ctx)
	if c == nil {
		return 0, false
	}
	snap := c.Snapshot()
	if snap.State != StateActive || snap.Profile == nil {
		return 0, false
	}
	return snap.Profile.ID, true
}

// Handler exposes the coordinator to the view layer.
type Handler struct {
	logger    *slog.Logger
	registry  *Registry
	sessions  *shared.SessionManager
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, registry *Registry, sessions *shared.SessionManager) *Handler {
	return &Handler{logger: logger, registry: registry, sessions: sessions, validator: validator.New()}
}

// Attach binds the request's coordinator and, while Active, its evaluator.
func (h *Handler) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil {
			next.ServeHTTP(w, r)
			return
		}
		c := h.registry.Ensure(r.Context(), sess.ID)
		ctx := context.WithValue(r.Context(), coordinatorContextKey{}, c)
		if snap := c.Snapshot(); snap.State == StateActive {
			ctx = access.WithEvaluator(ctx, snap.Evaluator)
			if snap.Profile != nil {
				ctx = shared.ContextWithActor(ctx, snap.Profile.ID)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireActive rejects requests whose session is not Active.
func RequireActive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ActorID(r.Context()); !ok {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, shared.ErrNotSignedIn))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MountRoutes registers session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.current)
	r.Post("/refresh", h.refresh)
	r.Post("/visibility", h.visibility)
	r.Post("/activity", h.activity)
	r.Post("/signout", h.signOut)
	r.Get("/notifications", h.notifications)
	r.With(RequireActive).Get("/can", h.can)
}

type visibilityRequest struct {
	Visible *bool `json:"visible" validate:"required"`
}

type activityRequest struct {
	Kind InputKind `json:"kind" validate:"required"`
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, c.Snapshot().ToView())
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, c.Refresh(r.Context()).ToView())
}

func (h *Handler) visibility(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	var req visibilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	httpx.JSON(w, http.StatusOK, c.HandleVisibility(r.Context(), *req.Visible).ToView())
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	var req activityRequest
	if !h.decode(w, r, &req) {
		return
	}
	counted, err := c.RecordActivity(req.Kind)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"counted": counted, "state": c.Snapshot().State})
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	if err := c.SignOut(r.Context()); err != nil {
		h.logger.Warn("session sign out", slog.Any("error", err))
	}
	h.sessions.Destroy(shared.SessionFromContext(r.Context()))
	httpx.JSON(w, http.StatusOK, c.Snapshot().ToView())
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	var out []shared.Notification
	if sess != nil {
		out = sess.DrainNotifications()
	}
	if out == nil {
		out = []shared.Notification{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (h *Handler) can(w http.ResponseWriter, r *http.Request) {
	action := access.Action(r.URL.Query().Get("action"))
	subject := access.Subject(r.URL.Query().Get("subject"))
	allowed := access.FromContext(r.Context()).Can(action, subject)
	httpx.JSON(w, http.StatusOK, map[string]any{"action": action, "subject": subject, "allowed": allowed})
}

func (h *Handler) coordinator(w http.ResponseWriter, r *http.Request) (*Coordinator, bool) {
	c := FromContext(r.Context())
	if c == nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, shared.ErrNotSignedIn))
		return nil, false
	}
	return c, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return true
}
