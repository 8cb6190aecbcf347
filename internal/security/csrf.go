package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// CSRFTokenTTL is how long an issued CSRF token stays valid.
const CSRFTokenTTL = time.Hour

// CSRFStore issues and checks anti-CSRF tokens.
type CSRFStore struct {
	store     Store
	now       func() time.Time
	log       logrus.FieldLogger
	singleUse bool
}

type CSRFOption func(*CSRFStore)

func WithCSRFClock(now func() time.Time) CSRFOption {
	return func(s *CSRFStore) { s.now = now }
}

func WithCSRFLogger(l logrus.FieldLogger) CSRFOption {
	return func(s *CSRFStore) { s.log = l }
}

// WithSingleUse makes a successful validation consume the token.
func WithSingleUse(on bool) CSRFOption {
	return func(s *CSRFStore) { s.singleUse = on }
}

func NewCSRFStore(store Store, opts ...CSRFOption) *CSRFStore {
	s := &CSRFStore{store: store, now: time.Now, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GenerateCSRFToken issues a token valid for CSRFTokenTTL.
func (s *CSRFStore) GenerateCSRFToken(ctx context.Context) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, prefixCSRF+token, []byte{1}, s.now().Add(CSRFTokenTTL)); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	return token, nil
}

// ValidateCSRFToken reports whether token was issued and has not expired.
// Expired tokens are deleted on sight.
func (s *CSRFStore) ValidateCSRFToken(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	key := prefixCSRF + token
	_, expiresAt, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		s.log.WithError(err).Error("csrf lookup failed")
		return false
	}
	if expiresAt.Before(s.now()) {
		if err := s.store.Delete(ctx, key); err != nil {
			s.log.WithError(err).Error("csrf purge failed")
		}
		return false
	}
	if s.singleUse {
		if err := s.store.Delete(ctx, key); err != nil {
			s.log.WithError(err).Error("csrf consume failed")
			return false
		}
	}
	return true
}

// Cleanup removes expired CSRF tokens.
func (s *CSRFStore) Cleanup(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx, prefixCSRF, s.now())
}
