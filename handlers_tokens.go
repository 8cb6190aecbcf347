package main

import (
	"net/http"

	"github.com/example/staykeeper/internal/security"
)

// HandleTokenIntrospect reports whether a token is active, trying it as an
// access token and then as a refresh token.
// POST /api/auth/introspect
func (a *App) HandleTokenIntrospect(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	info := TokenInfo{Active: false}

	claims, err := a.Tokens.VerifyAccessToken(r.Context(), req.Token)
	if err != nil {
		claims, err = a.Tokens.VerifyRefreshToken(r.Context(), req.Token)
	}
	if err == nil {
		info.Active = true
		info.UserID = &claims.UserID
		info.Role = &claims.Role
		info.TokenType = &claims.Type
		exp := claims.ExpiresAt.Unix()
		info.ExpiresAt = &exp
	}

	writeJSON(w, http.StatusOK, info)
}

// HandleTokenValidate validates an access token
// GET /api/auth/validate?token=...
func (a *App) HandleTokenValidate(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		tokenStr = bearerToken(r)
	}
	if tokenStr == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token is required")
		return
	}

	claims, err := a.Tokens.VerifyAccessToken(r.Context(), tokenStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"valid":  true,
		"userId": claims.UserID,
		"role":   claims.Role,
		"exp":    claims.ExpiresAt.Unix(),
	})
}

// HandleRevokeToken blacklists any token. Admin only.
// POST /api/auth/revoke
func (a *App) HandleRevokeToken(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	if err := a.Tokens.RevokeToken(r.Context(), req.Token); err != nil {
		a.Log.WithError(err).Error("revoke token")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke token")
		return
	}
	a.audit(r, "token_revocation", true, security.SeverityMedium, nil)
	writeSuccess(w, http.StatusOK, map[string]interface{}{"revoked": true})
}
