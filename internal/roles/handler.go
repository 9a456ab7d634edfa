package roles

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

// ChangeListener is told when a role's permission set changes.
type ChangeListener interface {
	RoleChanged(ctx context.Context, roleID int64)
}

// Handler exposes role and permission administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     access.Middleware
	listener  ChangeListener
	audit     shared.Auditor
	validator *validator.Validate
}

// NewHandler builds Handler instance. listener and audit may be nil.
func NewHandler(logger *slog.Logger, service *Service, guard access.Middleware, listener ChangeListener, audit shared.Auditor) *Handler {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	return &Handler{logger: logger, service: service, guard: guard, listener: listener, audit: audit, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(
			access.Capability{Action: access.ActionRead, Subject: access.SubjectRoles},
			access.Capability{Action: access.ActionManage, Subject: access.SubjectRoles},
		))
		r.Get("/", h.listRoles)
		r.Get("/permissions", h.listPermissions)
		r.Get("/{id}/permissions", h.rolePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(access.ActionManage, access.SubjectRoles))
		r.Post("/", h.createRole)
		r.Put("/{id}", h.renameRole)
		r.Delete("/{id}", h.deleteRole)
		r.Put("/{id}/permissions", h.setRolePermissions)
	})
}

type roleRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type rolePermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respond(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respond(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	perms, err := h.service.RolePermissions(r.Context(), id)
	if err != nil {
		h.respond(w, "role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name)
	if err != nil {
		h.respond(w, "create role", err)
		return
	}
	h.record(r.Context(), role.ID, shared.AuditRoleCreate, map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) renameRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.RenameRole(r.Context(), id, req.Name)
	if err != nil {
		h.respond(w, "rename role", err)
		return
	}
	// A rename can move a role in or out of the super-role spelling set.
	h.changed(r.Context(), id)
	h.record(r.Context(), id, shared.AuditRoleRename, map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.respond(w, "delete role", err)
		return
	}
	h.changed(r.Context(), id)
	h.record(r.Context(), id, shared.AuditRoleDelete, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req rolePermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), id, req.PermissionIDs); err != nil {
		h.respond(w, "set role permissions", err)
		return
	}
	h.changed(r.Context(), id)
	h.record(r.Context(), id, shared.AuditRolePermissions, map[string]any{"permission_ids": req.PermissionIDs})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) changed(ctx context.Context, roleID int64) {
	if h.listener != nil {
		h.listener.RoleChanged(ctx, roleID)
	}
}

func (h *Handler) record(ctx context.Context, roleID int64, action string, meta map[string]any) {
	actor, _ := shared.ActorFromContext(ctx)
	entry := shared.AuditLog{ActorID: actor, Action: action, Entity: "role", EntityID: strconv.FormatInt(roleID, 10), Meta: meta}
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
		httpx.RespondError(w, fmt.Errorf("%w: role", httpx.ErrNotFound))
	case errors.Is(err, ErrNameRequired):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, ErrProtected), errors.Is(err, ErrReservedName):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrForbidden, err))
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
