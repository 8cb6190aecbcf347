package main

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/staykeeper/internal/security"
)

const sessionCookie = "sid"

type ctxKey int

const (
	claimsKey ctxKey = iota
	tokenKey
)

func claimsFrom(ctx context.Context) *security.Claims {
	c, _ := ctx.Value(claimsKey).(*security.Claims)
	return c
}

func bearerFrom(ctx context.Context) string {
	s, _ := ctx.Value(tokenKey).(string)
	return s
}

// clientIP returns the address rate limits and sessions are keyed on.
func (a *App) clientIP(r *http.Request) string {
	if a.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// audit reports a security event for the request.
func (a *App) audit(r *http.Request, action string, success bool, sev security.Severity, details map[string]interface{}) {
	ev := security.SecurityEvent{
		Action:    action,
		Resource:  r.URL.Path,
		IP:        a.clientIP(r),
		UserAgent: r.UserAgent(),
		Success:   success,
		Details:   details,
		Severity:  sev,
	}
	if c := claimsFrom(r.Context()); c != nil {
		ev.UserID = c.UserID
	}
	a.Audit.LogSecurityEvent(r.Context(), ev)
}

// RequireAuth verifies the bearer access token and, when the client sends a
// session cookie, that the session belongs to the same user and IP.
func (a *App) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required")
			return
		}
		claims, err := a.Tokens.VerifyAccessToken(r.Context(), raw)
		if err != nil {
			reason := "invalid"
			if errors.Is(err, security.ErrTokenRevoked) {
				reason = "revoked"
			}
			a.audit(r, "token_verification", false, "", map[string]interface{}{"reason": reason})
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired")
			return
		}
		if ck, err := r.Cookie(sessionCookie); err == nil && ck.Value != "" {
			uid, ok := a.Sessions.ValidateSession(r.Context(), ck.Value, a.clientIP(r))
			if !ok || uid != claims.UserID {
				a.audit(r, "session_validation", false, "", map[string]interface{}{"userId": claims.UserID})
				writeError(w, http.StatusUnauthorized, "SESSION_INVALID", "Session is invalid or expired")
				return
			}
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = context.WithValue(ctx, tokenKey, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects authenticated callers without the given role.
func (a *App) RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := claimsFrom(r.Context())
		if c == nil || c.Role != role {
			a.audit(r, "authorization", false, security.SeverityHigh, map[string]interface{}{"required": role})
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CSRF requires a valid X-CSRF-Token on state-changing methods.
func (a *App) CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			if !a.CSRFTokens.ValidateCSRFToken(r.Context(), r.Header.Get("X-CSRF-Token")) {
				a.audit(r, "csrf_validation", false, security.SeverityMedium, nil)
				writeError(w, http.StatusForbidden, "CSRF_INVALID", "Invalid or missing CSRF token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit enforces l per client IP. Store failures let the request through.
func (a *App) RateLimit(l *security.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), a.clientIP(r))
			if err != nil {
				a.Log.WithError(err).WithField("limiter", l.Name()).Error("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			reset := int(math.Ceil(res.ResetAt.Sub(l.Now()).Seconds()))
			if reset < 0 {
				reset = 0
			}
			h := w.Header()
			h.Set("RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			h.Set("RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			h.Set("RateLimit-Reset", strconv.Itoa(reset))
			if !res.Allowed {
				h.Set("Retry-After", strconv.Itoa(reset))
				a.audit(r, "rate_limit_exceeded", false, security.SeverityMedium, map[string]interface{}{"limiter": l.Name()})
				writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", l.Message())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS middleware handles CORS headers
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && a.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed reflects any origin when no list is configured outside
// production.
func (a *App) originAllowed(origin string) bool {
	if len(a.AllowedOrigins) == 0 {
		return !a.Production
	}
	for _, o := range a.AllowedOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// Logging middleware logs requests
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		a.Log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   a.clientIP(r),
			"status":   wrapped.statusCode,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; frame-src 'none'; object-src 'none'")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		h.Set("Cross-Origin-Resource-Policy", "cross-origin")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-XSS-Protection", "0")
		next.ServeHTTP(w, r)
	})
}
