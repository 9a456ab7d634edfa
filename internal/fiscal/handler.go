package fiscal

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ciec-now/ciecnow/internal/platform/httpx"
	"github.com/ciec-now/ciecnow/internal/shared"
)

// Handler exposes the actor's fiscal period selection.
type Handler struct {
	logger    *slog.Logger
	selector  *Selector
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, selector *Selector) *Handler {
	return &Handler{logger: logger, selector: selector, validator: validator.New()}
}

// MountRoutes registers period routes. Callers mount it behind an
// active-session guard.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.current)
	r.Put("/", h.selectYear)
	r.Get("/contains", h.contains)
}

// PeriodView is the JSON shape of the selected period.
type PeriodView struct {
	StartYear int       `json:"start_year"`
	Label     string    `json:"label"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Choices   []int     `json:"choices"`
}

type selectRequest struct {
	StartYear int `json:"start_year" validate:"required,gte=1900,lte=9999"`
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actor(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(h.selector.Period(r.Context(), userID)))
}

func (h *Handler) selectYear(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.selector.SetStartYear(r.Context(), userID, req.StartYear); err != nil {
		h.logger.Error("persist fiscal year", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	cal := h.selector.Calendar()
	httpx.JSON(w, http.StatusOK, h.view(Period{StartYear: req.StartYear, Window: cal.Window(req.StartYear)}))
}

func (h *Handler) contains(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actor(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("date")
	httpx.JSON(w, http.StatusOK, map[string]any{
		"date":      raw,
		"in_period": h.selector.IsInCurrentPeriod(r.Context(), userID, raw),
	})
}

func (h *Handler) view(p Period) PeriodView {
	return PeriodView{
		StartYear: p.StartYear,
		Label:     fmt.Sprintf("%d-%d", p.StartYear, p.StartYear+1),
		Start:     p.Window.Start,
		End:       p.Window.End,
		Choices:   h.selector.Choices(),
	}
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, shared.ErrNotSignedIn))
		return 0, false
	}
	return userID, true
}
