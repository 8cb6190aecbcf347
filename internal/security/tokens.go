package security

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTokenRevoked is returned when the exact token string has been revoked.
	ErrTokenRevoked = errors.New("token has been revoked")
	// ErrInvalidToken wraps signature, expiry and claim failures.
	ErrInvalidToken = errors.New("invalid token")
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims is the payload of both token kinds.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair is returned to clients on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenManager mints and verifies HS256 access and refresh tokens and keeps a
// revocation blacklist in a Store.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	store         Store
	now           func() time.Time
	log           logrus.FieldLogger
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenClock overrides time.Now for minting, verification and revocation.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// WithTokenLogger sets the logger used for secret fallback warnings.
func WithTokenLogger(l logrus.FieldLogger) TokenOption {
	return func(m *TokenManager) { m.log = l }
}

// NewTokenManager returns a TokenManager. An empty secret is replaced with a
// random per-process secret, which makes tokens unverifiable after a restart
// or on any other instance.
func NewTokenManager(accessSecret, refreshSecret string, store Store, opts ...TokenOption) (*TokenManager, error) {
	m := &TokenManager{
		store: store,
		now:   time.Now,
		log:   logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(m)
	}
	var err error
	if m.accessSecret, err = secretOrRandom(accessSecret); err != nil {
		return nil, err
	}
	if m.refreshSecret, err = secretOrRandom(refreshSecret); err != nil {
		return nil, err
	}
	if accessSecret == "" || refreshSecret == "" {
		m.log.Warn("JWT_SECRET or JWT_REFRESH_SECRET not set; using a random per-process secret")
	}
	return m, nil
}

func secretOrRandom(s string) ([]byte, error) {
	if s != "" {
		return []byte(s), nil
	}
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return b, nil
}

// GenerateTokenPair issues a fresh access and refresh token for the user.
func (m *TokenManager) GenerateTokenPair(userID, role string) (TokenPair, error) {
	access, err := m.sign(userID, role, tokenTypeAccess, AccessTokenTTL, m.accessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(userID, role, tokenTypeRefresh, RefreshTokenTTL, m.refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *TokenManager) sign(userID, role, typ string, ttl time.Duration, secret []byte) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return s, nil
}

// VerifyAccessToken checks the blacklist, then the signature and expiry.
func (m *TokenManager) VerifyAccessToken(ctx context.Context, token string) (*Claims, error) {
	return m.verify(ctx, token, tokenTypeAccess, m.accessSecret)
}

// VerifyRefreshToken is VerifyAccessToken for refresh tokens.
func (m *TokenManager) VerifyRefreshToken(ctx context.Context, token string) (*Claims, error) {
	return m.verify(ctx, token, tokenTypeRefresh, m.refreshSecret)
}

func (m *TokenManager) verify(ctx context.Context, token, typ string, secret []byte) (*Claims, error) {
	revoked, err := m.IsRevoked(ctx, token)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, typ, claims.Type)
	}
	return claims, nil
}

// IsRevoked reports whether the exact token string is blacklisted.
func (m *TokenManager) IsRevoked(ctx context.Context, token string) (bool, error) {
	_, _, err := m.store.Get(ctx, blacklistKey(token))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return true, nil
}

// RevokeToken blacklists the exact token string until the token's own expiry,
// after which the sweep may forget it. Tokens whose expiry cannot be read are
// kept for the refresh token lifetime.
func (m *TokenManager) RevokeToken(ctx context.Context, token string) error {
	expiresAt := m.now().Add(RefreshTokenTTL)
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := m.store.Set(ctx, blacklistKey(token), []byte{1}, expiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// ConsumeRefreshToken verifies a refresh token and revokes it in the same
// step. When several callers present the same token concurrently exactly one
// gets the claims; the others get ErrTokenRevoked.
func (m *TokenManager) ConsumeRefreshToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := m.VerifyRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	first, err := m.store.SetIfAbsent(ctx, blacklistKey(token), []byte{1}, claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("revoke token: %w", err)
	}
	if !first {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// PurgeRevoked drops blacklist entries for tokens that have expired anyway.
func (m *TokenManager) PurgeRevoked(ctx context.Context) (int, error) {
	return m.store.Sweep(ctx, prefixBlacklist, m.now())
}

func blacklistKey(token string) string {
	h := sha256.Sum256([]byte(token))
	return prefixBlacklist + hex.EncodeToString(h[:])
}
