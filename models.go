package main

import "time"

// Roles carried in tokens.
const (
	RoleGuest = "guest"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// User represents a user in the system
type User struct {
	ID        int64
	Email     string
	Name      string
	Password  string
	Role      string
	CreatedAt time.Time
}

// TokenInfo represents token metadata for introspection
type TokenInfo struct {
	Active    bool    `json:"active"`
	UserID    *string `json:"userId,omitempty"`
	Role      *string `json:"role,omitempty"`
	TokenType *string `json:"tokenType,omitempty"`
	ExpiresAt *int64  `json:"exp,omitempty"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,bcryptmax"`
	Name     string `json:"name" validate:"required,max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}
