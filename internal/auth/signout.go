package auth

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/ciec-now/ciecnow/internal/shared"
)

// SessionCloser removes the persisted record of an ended session and audits
// the sign-out. Logout and inactivity expiry both end here.
type SessionCloser struct {
	service *Service
	audit   shared.Auditor
	logger  *slog.Logger
}

// NewSessionCloser constructs a SessionCloser.
func NewSessionCloser(service *Service, audit shared.Auditor, logger *slog.Logger) *SessionCloser {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	return &SessionCloser{service: service, audit: audit, logger: logger}
}

// SessionEnded deletes the session row and records AuditSignOut for userID.
// Anonymous sessions only lose their row.
func (c *SessionCloser) SessionEnded(ctx context.Context, sessionID string, userID int64) {
	if err := c.service.RemoveSession(ctx, sessionID); err != nil {
		c.logger.Warn("remove session", slog.String("session", sessionID), slog.Any("error", err))
	}
	if userID > 0 {
		recordAccount(ctx, c.audit, c.logger, userID, shared.AuditSignOut)
	}
}

func recordAccount(ctx context.Context, audit shared.Auditor, logger *slog.Logger, userID int64, action string) {
	entry := shared.AuditLog{ActorID: userID, Action: action, Entity: "account", EntityID: strconv.FormatInt(userID, 10)}
	if err := audit.Record(ctx, entry); err != nil {
		logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
