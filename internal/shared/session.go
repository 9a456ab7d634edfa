package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RecoveryKey marks a session signed in through a password-recovery link.
const RecoveryKey = "password_recovery"

// Notification kinds delivered to the view layer.
const (
	NotifySuccess = "success"
	NotifyError   = "error"
	NotifyInfo    = "info"
	NotifyWarning = "warning"
)

// Notification is a one-time message stored in session.
type Notification struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager orchestrates cookie based sessions backed by Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	secret     []byte
}

// Session holds per-request session data.
type Session struct {
	ID            string
	values        map[string]string
	userID        string
	notifications []Notification
	isNew         bool
	dirty         bool
	destroyed     bool
}

type sessionPayload struct {
	Values        map[string]string `json:"values"`
	UserID        string            `json:"user_id"`
	Notifications []Notification    `json:"notifications"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		secret:     []byte(secret),
	}
}

// Load loads or creates a new session for request.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}
	sess, ok, err := sm.LoadByID(ctx, cookie.Value)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Keep the cookie's id so state tied to it survives an expired payload.
		sess = sm.newSession()
		sess.ID = cookie.Value
	}
	return sess, nil
}

// LoadByID reads a stored session without a request.
func (sm *SessionManager) LoadByID(ctx context.Context, id string) (*Session, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("shared: load session: %w", err)
	}
	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, false, fmt.Errorf("shared: decode session: %w", err)
	}
	sess := sm.newSession()
	sess.ID = id
	sess.values = stored.Values
	if sess.values == nil {
		sess.values = make(map[string]string)
	}
	sess.userID = stored.UserID
	sess.notifications = stored.Notifications
	sess.isNew = false
	sess.dirty = false
	return sess, true, nil
}

// Remove deletes a stored session by id.
func (sm *SessionManager) Remove(ctx context.Context, id string) error {
	if err := sm.client.Del(ctx, sm.redisKey(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("shared: remove session: %w", err)
	}
	return nil
}

// Save persists a dirty session immediately, before the response is committed.
func (sm *SessionManager) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.destroyed || !(sess.dirty || sess.isNew) {
		return nil
	}
	if sess.ID == "" {
		sess.ID = sm.generateSessionID()
	}
	data, err := json.Marshal(sessionPayload{Values: sess.values, UserID: sess.userID, Notifications: sess.notifications})
	if err != nil {
		return err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
		return fmt.Errorf("shared: save session: %w", err)
	}
	sess.dirty = false
	sess.isNew = false
	return nil
}

// Commit persists the session and writes cookie headers as needed.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := sm.Remove(ctx, sess.ID); err != nil {
			return err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteStrictMode,
		})
		return nil
	}

	if err := sm.Save(ctx, sess); err != nil {
		return err
	}

	if sess.ID != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteStrictMode,
			Expires:  time.Now().Add(sm.ttl),
		})
	}
	return nil
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if s.values == nil {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SetUser associates the session with a user ID.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.dirty = true
}

// User returns the current user ID.
func (s *Session) User() string {
	return s.userID
}

// Destroyed reports whether the session is marked for deletion.
func (s *Session) Destroyed() bool {
	return s.destroyed
}

// Notify queues a notification.
func (s *Session) Notify(kind, message string) {
	s.notifications = append(s.notifications, Notification{Kind: kind, Message: message})
	s.dirty = true
}

// DrainNotifications returns and clears all queued notifications.
func (s *Session) DrainNotifications() []Notification {
	out := s.notifications
	if len(out) > 0 {
		s.notifications = nil
		s.dirty = true
	}
	return out
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		ID:     sm.generateSessionID(),
		values: make(map[string]string),
		isNew:  true,
		dirty:  true,
	}
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}

func (sm *SessionManager) generateSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	if len(sm.secret) > 0 {
		for i := range b {
			b[i] ^= sm.secret[i%len(sm.secret)]
		}
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
