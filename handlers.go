package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/example/staykeeper/internal/security"
)

func userView(u *User) map[string]interface{} {
	return map[string]interface{}{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
		"role":  u.Role,
	}
}

// startSession issues a token pair and an IP-bound session cookie.
func (a *App) startSession(w http.ResponseWriter, r *http.Request, u *User) (security.TokenPair, error) {
	uid := strconv.FormatInt(u.ID, 10)
	pair, err := a.Tokens.GenerateTokenPair(uid, u.Role)
	if err != nil {
		return security.TokenPair{}, err
	}
	sid, err := a.Sessions.CreateSession(r.Context(), uid, a.clientIP(r))
	if err != nil {
		return security.TokenPair{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(security.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   a.Production,
		SameSite: http.SameSiteStrictMode,
	})
	return pair, nil
}

// HandleRegister creates a guest account.
// POST /api/auth/register
func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request, req *registerRequest) {
	hash, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to hash password")
		return
	}
	u, err := a.DB.CreateUser(req.Email, hash, req.Name, RoleGuest)
	if errors.Is(err, ErrUserExists) {
		a.audit(r, "register", false, "", map[string]interface{}{"reason": "email taken"})
		writeError(w, http.StatusConflict, "USER_EXISTS", "An account with this email already exists")
		return
	}
	if err != nil {
		a.Log.WithError(err).Error("create user")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		return
	}
	pair, err := a.startSession(w, r, u)
	if err != nil {
		a.Log.WithError(err).Error("start session")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start session")
		return
	}
	a.Audit.LogSecurityEvent(r.Context(), security.SecurityEvent{
		UserID: strconv.FormatInt(u.ID, 10), Action: "register", Resource: r.URL.Path,
		IP: a.clientIP(r), UserAgent: r.UserAgent(), Success: true,
	})
	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"user":         userView(u),
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

// HandleLogin authenticates with email and password.
// POST /api/auth/login
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request, req *loginRequest) {
	u, err := a.DB.GetUserByEmail(req.Email)
	if err != nil {
		a.Log.WithError(err).Error("get user")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user")
		return
	}
	if u == nil || !comparePassword(u.Password, req.Password) {
		a.audit(r, "login", false, "", map[string]interface{}{"email": req.Email})
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	pair, err := a.startSession(w, r, u)
	if err != nil {
		a.Log.WithError(err).Error("start session")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start session")
		return
	}
	a.Audit.LogSecurityEvent(r.Context(), security.SecurityEvent{
		UserID: strconv.FormatInt(u.ID, 10), Action: "login", Resource: r.URL.Path,
		IP: a.clientIP(r), UserAgent: r.UserAgent(), Success: true,
	})
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user":         userView(u),
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

// HandleRefresh rotates a refresh token into a new pair.
// POST /api/auth/refresh
func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request, req *refreshRequest) {
	claims, err := a.Tokens.ConsumeRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, security.ErrTokenRevoked) {
			reason = "revoked"
		}
		a.audit(r, "token_refresh", false, "", map[string]interface{}{"reason": reason})
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired refresh token")
		return
	}
	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired refresh token")
		return
	}
	u, err := a.DB.GetUserByID(id)
	if err != nil {
		a.Log.WithError(err).Error("get user")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user")
		return
	}
	if u == nil {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired refresh token")
		return
	}
	pair, err := a.Tokens.GenerateTokenPair(claims.UserID, u.Role)
	if err != nil {
		a.Log.WithError(err).Error("issue tokens")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue tokens")
		return
	}
	a.Audit.LogSecurityEvent(r.Context(), security.SecurityEvent{
		UserID: claims.UserID, Action: "token_refresh", Resource: r.URL.Path,
		IP: a.clientIP(r), UserAgent: r.UserAgent(), Success: true,
	})
	writeSuccess(w, http.StatusOK, pair)
}

// HandleLogout revokes the caller's tokens and session.
// POST /api/auth/logout
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request, req *logoutRequest) {
	ctx := r.Context()
	if err := a.Tokens.RevokeToken(ctx, bearerFrom(ctx)); err != nil {
		a.Log.WithError(err).Error("revoke access token")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to log out")
		return
	}
	if req.RefreshToken != "" {
		if c, err := a.Tokens.VerifyRefreshToken(ctx, req.RefreshToken); err == nil && c.UserID == claimsFrom(ctx).UserID {
			if err := a.Tokens.RevokeToken(ctx, req.RefreshToken); err != nil {
				a.Log.WithError(err).Error("revoke refresh token")
			}
		}
	}
	if ck, err := r.Cookie(sessionCookie); err == nil && ck.Value != "" {
		if err := a.Sessions.RevokeSession(ctx, ck.Value); err != nil {
			a.Log.WithError(err).Error("revoke session")
		}
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: a.Production, SameSite: http.SameSiteStrictMode})
	a.audit(r, "logout", true, "", nil)
	writeSuccess(w, http.StatusOK, map[string]interface{}{"loggedOut": true})
}

// HandleMe returns the authenticated user.
// GET /api/auth/me
func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r.Context())
	id, err := strconv.ParseInt(c.UserID, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token subject")
		return
	}
	u, err := a.DB.GetUserByID(id)
	if err != nil {
		a.Log.WithError(err).Error("get user")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user")
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		return
	}
	writeSuccess(w, http.StatusOK, userView(u))
}

// HandleCSRFToken issues a CSRF token.
// GET /api/csrf-token
func (a *App) HandleCSRFToken(w http.ResponseWriter, r *http.Request) {
	tok, err := a.CSRFTokens.GenerateCSRFToken(r.Context())
	if err != nil {
		a.Log.WithError(err).Error("generate csrf token")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue CSRF token")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"csrfToken": tok,
		"expiresIn": int(security.CSRFTokenTTL.Seconds()),
	})
}
