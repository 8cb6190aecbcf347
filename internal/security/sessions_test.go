package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManager_CreateValidate(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(NewMemoryStore(), WithSessionClock(newFakeClock().Now))

	id, err := m.CreateSession(ctx, "u1", "10.0.0.1")
	require.NoError(t, err)
	require.Len(t, id, 64)

	uid, ok := m.ValidateSession(ctx, id, "10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, "u1", uid)

	id2, err := m.CreateSession(ctx, "u1", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestSessionManager_IPMismatchPurges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewSessionManager(store, WithSessionClock(newFakeClock().Now))
	id, err := m.CreateSession(ctx, "u1", "10.0.0.1")
	require.NoError(t, err)

	_, ok := m.ValidateSession(ctx, id, "10.0.0.2")
	assert.False(t, ok)
	_, ok = m.ValidateSession(ctx, id, "10.0.0.1")
	assert.False(t, ok)
	assert.Zero(t, store.Len(prefixSession))
}

func TestSessionManager_IPBindingDisabled(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(NewMemoryStore(), WithSessionClock(newFakeClock().Now), WithIPBinding(false))
	id, err := m.CreateSession(ctx, "u1", "10.0.0.1")
	require.NoError(t, err)

	uid, ok := m.ValidateSession(ctx, id, "192.168.1.9")
	assert.True(t, ok)
	assert.Equal(t, "u1", uid)
}

func TestSessionManager_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	m := NewSessionManager(store, WithSessionClock(clock.Now))
	id, err := m.CreateSession(ctx, "u1", "10.0.0.1")
	require.NoError(t, err)

	clock.Advance(SessionTTL)
	_, ok := m.ValidateSession(ctx, id, "10.0.0.1")
	assert.True(t, ok, "valid up to and including the expiry instant")

	clock.Advance(time.Second)
	_, ok = m.ValidateSession(ctx, id, "10.0.0.1")
	assert.False(t, ok)
	assert.Zero(t, store.Len(prefixSession))
}

func TestSessionManager_UnknownAndRevoked(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(NewMemoryStore(), WithSessionClock(newFakeClock().Now))

	_, ok := m.ValidateSession(ctx, "", "10.0.0.1")
	assert.False(t, ok)
	_, ok = m.ValidateSession(ctx, "deadbeef", "10.0.0.1")
	assert.False(t, ok)

	id, err := m.CreateSession(ctx, "u1", "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, m.RevokeSession(ctx, id))
	_, ok = m.ValidateSession(ctx, id, "10.0.0.1")
	assert.False(t, ok)
	require.NoError(t, m.RevokeSession(ctx, id))
}

func TestSessionManager_Cleanup(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	m := NewSessionManager(store, WithSessionClock(clock.Now))

	old, err := m.CreateSession(ctx, "u1", "10.0.0.1")
	require.NoError(t, err)
	clock.Advance(12 * time.Hour)
	fresh, err := m.CreateSession(ctx, "u2", "10.0.0.2")
	require.NoError(t, err)

	clock.Advance(12 * time.Hour)
	n, err := m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "expiry exactly now is not in the past")

	clock.Advance(time.Second)
	n, err = m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len(prefixSession))

	_, ok := m.ValidateSession(ctx, old, "10.0.0.1")
	assert.False(t, ok)
	uid, ok := m.ValidateSession(ctx, fresh, "10.0.0.2")
	assert.True(t, ok)
	assert.Equal(t, "u2", uid)
}
