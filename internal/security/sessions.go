package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionTTL is the fixed lifetime of a server-side session.
const SessionTTL = 24 * time.Hour

type sessionRecord struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IP        string    `json:"ip"`
}

// SessionManager tracks server-side sessions that run alongside tokens. A
// session is bound to the IP it was created from.
type SessionManager struct {
	store    Store
	now      func() time.Time
	log      logrus.FieldLogger
	bindToIP bool
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

func WithSessionLogger(l logrus.FieldLogger) SessionOption {
	return func(m *SessionManager) { m.log = l }
}

// WithIPBinding toggles the IP check in ValidateSession. It is on by default;
// turning it off accepts sessions from any address, e.g. behind NAT pools
// that rotate egress IPs.
func WithIPBinding(on bool) SessionOption {
	return func(m *SessionManager) { m.bindToIP = on }
}

func NewSessionManager(store Store, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		store:    store,
		now:      time.Now,
		log:      logrus.StandardLogger(),
		bindToIP: true,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateSession stores a new session for userID bound to ip and returns its id.
func (m *SessionManager) CreateSession(ctx context.Context, userID, ip string) (string, error) {
	id, err := randomToken(32)
	if err != nil {
		return "", err
	}
	rec := sessionRecord{UserID: userID, ExpiresAt: m.now().Add(SessionTTL), IP: ip}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(ctx, prefixSession+id, b, rec.ExpiresAt); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// ValidateSession returns the session's user id when it exists, has not
// expired and ip matches the address it was created from. Otherwise the
// record is removed and ok is false. Callers cannot tell the failure reasons
// apart.
func (m *SessionManager) ValidateSession(ctx context.Context, sessionID, ip string) (userID string, ok bool) {
	if sessionID == "" {
		return "", false
	}
	key := prefixSession + sessionID
	b, _, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false
	}
	if err != nil {
		m.log.WithError(err).Error("session lookup failed")
		return "", false
	}
	var rec sessionRecord
	if err := json.Unmarshal(b, &rec); err == nil &&
		!rec.ExpiresAt.Before(m.now()) &&
		(!m.bindToIP || rec.IP == ip) {
		return rec.UserID, true
	}
	if err := m.store.Delete(ctx, key); err != nil {
		m.log.WithError(err).Error("session purge failed")
	}
	return "", false
}

// RevokeSession deletes the session unconditionally.
func (m *SessionManager) RevokeSession(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, prefixSession+sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Cleanup removes sessions whose expiry has passed.
func (m *SessionManager) Cleanup(ctx context.Context) (int, error) {
	return m.store.Sweep(ctx, prefixSession, m.now())
}
