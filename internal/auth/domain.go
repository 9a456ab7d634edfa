package auth

import (
	"errors"
	"time"
)

// RecoveryTTL bounds the lifetime of a password-recovery link.
const RecoveryTTL = 30 * time.Minute

var (
	// ErrNotRecovering rejects a password change outside a recovery session.
	ErrNotRecovering = errors.New("auth: session is not in password recovery")
	// ErrInvalidRecoveryToken covers expired, forged or mis-scoped recovery tokens.
	ErrInvalidRecoveryToken = errors.New("auth: invalid recovery token")
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
