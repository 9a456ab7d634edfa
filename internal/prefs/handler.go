package prefs

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ciec-now/ciecnow/internal/platform/httpx"
	"github.com/ciec-now/ciecnow/internal/shared"
)

// Handler exposes display preferences.
type Handler struct {
	logger    *slog.Logger
	store     *Store
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, store *Store) *Handler {
	return &Handler{logger: logger, store: store, validator: validator.New()}
}

// MountRoutes registers preference routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/theme", h.theme)
	r.Put("/theme", h.setTheme)
}

type themeRequest struct {
	Theme string `json:"theme" validate:"required,oneof=light dark system"`
}

func (h *Handler) theme(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, shared.ErrNotSignedIn))
		return
	}
	theme, err := h.store.Theme(r.Context(), userID)
	if err != nil {
		// Unreadable preferences fall back to the default.
		h.logger.Warn("read theme", slog.Any("error", err))
		theme = ThemeSystem
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"theme": theme})
}

func (h *Handler) setTheme(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, shared.ErrNotSignedIn))
		return
	}
	var req themeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.store.SetTheme(r.Context(), userID, req.Theme); err != nil {
		h.logger.Error("persist theme", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"theme": req.Theme})
}
