package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/staykeeper/internal/security"
)

func exerciseDB(t *testing.T, db DB) {
	t.Helper()
	u, err := db.CreateUser("ana@example.com", "hash", "Ana", RoleGuest)
	require.NoError(t, err)
	require.NotZero(t, u.ID)

	_, err = db.CreateUser("Ana@Example.com", "hash", "Ana", RoleGuest)
	assert.ErrorIs(t, err, ErrUserExists)

	got, err := db.GetUserByEmail("ana@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, RoleGuest, got.Role)

	byID, err := db.GetUserByID(u.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "Ana", byID.Name)

	missing, err := db.GetUserByEmail("nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = db.InsertSecurityEvent(context.Background(), &security.LogEntry{
		ID:        "evt-1",
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Severity:  security.SeverityHigh,
		Action:    "authorization",
		Resource:  "/api/auth/revoke",
		IP:        "192.0.2.1",
		Success:   false,
		Details:   map[string]interface{}{"required": "admin"},
		UserID:    "1",
	})
	require.NoError(t, err)
}

func TestMemDB(t *testing.T) {
	db := NewMemoryDB()
	exerciseDB(t, db)
	require.Len(t, db.Events(), 1)
	assert.Equal(t, "authorization", db.Events()[0].Action)
}

func TestSQLiteDB(t *testing.T) {
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "staykeeper.db"))
	require.NoError(t, err)
	defer db.close()

	exerciseDB(t, db)
	require.True(t, db.ping())

	var details string
	require.NoError(t, db.db.QueryRow(`SELECT details FROM security_events WHERE id = 'evt-1'`).Scan(&details))
	assert.JSONEq(t, `{"required":"admin"}`, details)
}
