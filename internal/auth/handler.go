package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ciec-now/ciecnow/internal/platform/httpx"
	"github.com/ciec-now/ciecnow/internal/session"
	"github.com/ciec-now/ciecnow/internal/shared"
)

// SessionNotifier forwards sign-in and sign-out events to the session layer.
type SessionNotifier interface {
	Notify(ctx context.Context, sessionID string, ev session.AuthEvent) session.View
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	notifier       SessionNotifier
	audit          shared.Auditor
	closer         *SessionCloser
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, notifier SessionNotifier, audit shared.Auditor) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		notifier:       notifier,
		audit:          audit,
		closer:         NewSessionCloser(service, audit, logger),
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrfToken)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/recovery", h.requestRecovery)
	r.Post("/recovery/verify", h.verifyRecovery)
	r.Post("/recovery/confirm", h.confirmRecovery)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type recoveryRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type recoveryVerifyRequest struct {
	Token string `json:"token" validate:"required"`
}

type recoveryConfirmRequest struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, err))
		return
	}

	sess.SetUser(strconv.FormatInt(user.ID, 10))
	sess.Delete(shared.RecoveryKey)
	h.csrfManager.Rotate(sess)
	if err := h.sessionManager.Save(r.Context(), sess); err != nil {
		h.logger.Error("save session after login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	h.record(r.Context(), user.ID, shared.AuditSignIn)
	httpx.JSON(w, http.StatusOK, h.notify(r.Context(), sess.ID, session.AuthSignedIn))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	userID, _ := strconv.ParseInt(sess.User(), 10, 64)
	// Drop the stored payload now so the coordinator's reload sees no user.
	if err := h.sessionManager.Remove(r.Context(), sess.ID); err != nil {
		h.logger.Warn("remove stored session", slog.Any("error", err))
	}
	h.sessionManager.Destroy(sess)
	h.closer.SessionEnded(r.Context(), sess.ID, userID)
	httpx.JSON(w, http.StatusOK, h.notify(r.Context(), sess.ID, session.AuthSignedOut))
}

func (h *Handler) requestRecovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.RequestRecovery(r.Context(), req.Email); err != nil {
		h.logger.Error("request recovery", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) verifyRecovery(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req recoveryVerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.service.VerifyRecovery(r.Context(), req.Token)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, err))
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	sess.Set(shared.RecoveryKey, "1")
	h.csrfManager.Rotate(sess)
	if err := h.sessionManager.Save(r.Context(), sess); err != nil {
		h.logger.Error("save session after recovery", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.notify(r.Context(), sess.ID, session.AuthSignedIn))
}

func (h *Handler) confirmRecovery(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil || userID <= 0 || sess.Get(shared.RecoveryKey) != "1" {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrForbidden, ErrNotRecovering))
		return
	}
	var req recoveryConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), userID, req.Password); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: account", httpx.ErrNotFound))
			return
		}
		h.logger.Error("reset password", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	sess.Delete(shared.RecoveryKey)
	sess.Notify(shared.NotifySuccess, "Contraseña actualizada")
	if err := h.sessionManager.Save(r.Context(), sess); err != nil {
		h.logger.Error("save session after reset", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.record(r.Context(), userID, shared.AuditPasswordReset)
	httpx.JSON(w, http.StatusOK, h.notify(r.Context(), sess.ID, session.AuthSignedIn))
}

func (h *Handler) notify(ctx context.Context, sessionID string, ev session.AuthEvent) any {
	if h.notifier == nil {
		return map[string]string{"event": string(ev)}
	}
	return h.notifier.Notify(ctx, sessionID, ev)
}

func (h *Handler) record(ctx context.Context, userID int64, action string) {
	recordAccount(ctx, h.audit, h.logger, userID, action)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*shared.Session, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during auth request")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return nil, false
	}
	return sess, true
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
