package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ciec-now/ciecnow/internal/platform/token"
	"github.com/ciec-now/ciecnow/internal/shared"
	"github.com/ciec-now/ciecnow/jobs"
)

// Service wraps authentication business rules.
type Service struct {
	repo    Repository
	tokens  *token.Manager
	mail    jobs.Enqueuer
	baseURL string
	logger  *slog.Logger
}

// NewService constructs a new Service. tokens and mail are only needed for
// password recovery.
func NewService(repo Repository, tokens *token.Manager, mail jobs.Enqueuer, baseURL string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, mail: mail, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// RequestRecovery mails a recovery link to email. Unknown or inactive
// accounts are silently ignored.
func (s *Service) RequestRecovery(ctx context.Context, email string) error {
	if s.tokens == nil || s.mail == nil {
		return errors.New("auth: recovery not configured")
	}
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}
	raw, err := s.tokens.Issue(user.ID, token.PurposeRecovery, RecoveryTTL)
	if err != nil {
		return fmt.Errorf("auth: issue recovery token: %w", err)
	}
	link := s.baseURL + "/recuperar?token=" + url.QueryEscape(raw)
	body := fmt.Sprintf("Recibimos una solicitud para restablecer tu contraseña.\n\n[Restablecer contraseña](%s)\n\nEl enlace vence en %d minutos.", link, int(RecoveryTTL.Minutes()))
	if _, err := s.mail.EnqueueSendEmail(ctx, jobs.SendEmailPayload{To: user.Email, Subject: "Recuperación de contraseña", Body: body}); err != nil {
		return fmt.Errorf("auth: enqueue recovery email: %w", err)
	}
	s.logger.Info("recovery email queued", slog.Int64("user_id", user.ID))
	return nil
}

// VerifyRecovery returns the account a recovery token was issued for.
func (s *Service) VerifyRecovery(ctx context.Context, raw string) (*User, error) {
	if s.tokens == nil {
		return nil, ErrInvalidRecoveryToken
	}
	claims, err := s.tokens.Parse(raw, token.PurposeRecovery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecoveryToken, err)
	}
	user, err := s.repo.FindByID(ctx, claims.UserID)
	if err != nil || !user.IsActive {
		return nil, ErrInvalidRecoveryToken
	}
	return user, nil
}

// ResetPassword stores a new bcrypt hash for userID.
func (s *Service) ResetPassword(ctx context.Context, userID int64, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, userID, string(hash))
}
