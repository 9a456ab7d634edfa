package session

import (
	"context"
	"strconv"
	"strings"

	"github.com/ciec-now/ciecnow/internal/shared"
)

// SessionStore reads identities from the Redis-backed cookie sessions.
type SessionStore struct {
	manager *shared.SessionManager
}

// NewSessionStore wraps manager as an IdentitySource.
func NewSessionStore(manager *shared.SessionManager) *SessionStore {
	return &SessionStore{manager: manager}
}

// Identity returns the signed-in user of sessionID, if any.
func (s *SessionStore) Identity(ctx context.Context, sessionID string) (Identity, bool, error) {
	sess, ok, err := s.manager.LoadByID(ctx, sessionID)
	if err != nil || !ok {
		return Identity{}, false, err
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return Identity{}, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, false, nil
	}
	return Identity{UserID: id, Recovering: sess.Get(shared.RecoveryKey) == "1"}, true, nil
}

// Terminate deletes the stored session.
func (s *SessionStore) Terminate(ctx context.Context, sessionID string) error {
	return s.manager.Remove(ctx, sessionID)
}

var _ IdentitySource = (*SessionStore)(nil)
