package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ciec-now/ciecnow/internal/access"
	"github.com/ciec-now/ciecnow/internal/platform/httpx"
	"github.com/ciec-now/ciecnow/internal/shared"
)

// ChangeListener is told when an actor's access-relevant fields change.
type ChangeListener interface {
	ProfileChanged(ctx context.Context, userID int64)
}

// Handler manages profile administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     access.Middleware
	listener  ChangeListener
	audit     shared.Auditor
	validator *validator.Validate
}

// NewHandler builds Handler instance. listener may be nil.
func NewHandler(logger *slog.Logger, service *Service, guard access.Middleware, listener ChangeListener, audit shared.Auditor) *Handler {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	return &Handler{logger: logger, service: service, guard: guard, listener: listener, audit: audit, validator: validator.New()}
}

// MountRoutes registers profile routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(
			access.Capability{Action: access.ActionRead, Subject: access.SubjectUsers},
			access.Capability{Action: access.ActionManage, Subject: access.SubjectUsers},
		))
		r.Get("/", h.listProfiles)
		r.Get("/{id}", h.getProfile)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(access.ActionManage, access.SubjectUsers))
		r.Put("/{id}/approval", h.setApproval)
		r.Put("/{id}/role", h.assignRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(
			access.Capability{Action: access.ActionDelete, Subject: access.SubjectUsers},
			access.Capability{Action: access.ActionManage, Subject: access.SubjectUsers},
		))
		r.Delete("/{id}", h.deleteProfile)
	})
}

type approvalRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

type roleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

func (h *Handler) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.ListProfiles(r.Context())
	if err != nil {
		h.logger.Error("list profiles failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	page := shared.PaginationFromRequest(r, len(profiles))
	start, end := page.Bounds()
	views := make([]ProfileView, 0, end-start)
	for _, p := range profiles[start:end] {
		views = append(views, p.ToView())
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"profiles": views, "pagination": page})
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	profile, err := h.service.Profile(r.Context(), id)
	if err != nil {
		h.respond(w, "get profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile.ToView())
}

func (h *Handler) setApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetApproval(r.Context(), id, *req.Approved); err != nil {
		h.respond(w, "set approval", err)
		return
	}
	h.changed(r.Context(), id, shared.AuditProfileApproval, map[string]any{"approved": *req.Approved})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.AssignRole(r.Context(), id, req.RoleID); err != nil {
		h.respond(w, "assign role", err)
		return
	}
	h.changed(r.Context(), id, shared.AuditProfileRole, map[string]any{"role_id": req.RoleID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteProfile(r.Context(), id); err != nil {
		h.respond(w, "delete profile", err)
		return
	}
	h.changed(r.Context(), id, shared.AuditProfileDelete, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) changed(ctx context.Context, id int64, action string, meta map[string]any) {
	if h.listener != nil {
		h.listener.ProfileChanged(ctx, id)
	}
	actor, _ := shared.ActorFromContext(ctx)
	entry := shared.AuditLog{ActorID: actor, Action: action, Entity: "profile", EntityID: strconv.FormatInt(id, 10), Meta: meta}
	if err := h.audit.Record(ctx, entry); err != nil {
		h.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return 0, false
	}
	return id, true
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

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: profile", httpx.ErrNotFound))
	case errors.Is(err, ErrInvalidRole):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
