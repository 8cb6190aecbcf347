package security

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	if os.Getenv("SKIP_DOCKER") == "1" {
		t.Skip("SKIP_DOCKER=1 set; skipping redis integration test")
	}
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7-alpine",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })

	var store *RedisStore
	err = pool.Retry(func() error {
		client, err := DialRedis("localhost:"+resource.GetPort("6379/tcp"), "", 0)
		if err != nil {
			return err
		}
		store = NewRedisStore(client, "test:")
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisIntegration(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	require.True(t, store.Ping())

	// key/value with expiry
	exp := time.Now().Add(time.Minute)
	require.NoError(t, store.Set(ctx, "k", []byte("v"), exp))
	v, gotExp, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
	assert.WithinDuration(t, exp, gotExp, 2*time.Second)
	require.NoError(t, store.Delete(ctx, "k"))
	_, _, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	// set-if-absent
	ok, err := store.SetIfAbsent(ctx, "once", []byte("1"), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.SetIfAbsent(ctx, "once", []byte("2"), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	// fixed window counter
	l := NewAuthLimiter(store)
	for i := 0; i < AuthRateLimit; i++ {
		res, err := l.Allow(ctx, "10.1.1.1")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "10.1.1.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// revocation shared through redis
	logger, _ := test.NewNullLogger()
	a, err := NewTokenManager("a", "r", store, WithTokenLogger(logger))
	require.NoError(t, err)
	b, err := NewTokenManager("a", "r", store, WithTokenLogger(logger))
	require.NoError(t, err)
	pair, err := a.GenerateTokenPair("1", "guest")
	require.NoError(t, err)
	require.NoError(t, a.RevokeToken(ctx, pair.AccessToken))
	_, err = b.VerifyAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// sessions and csrf
	sessions := NewSessionManager(store)
	id, err := sessions.CreateSession(ctx, "1", "10.0.0.1")
	require.NoError(t, err)
	uid, ok := sessions.ValidateSession(ctx, id, "10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, "1", uid)

	csrf := NewCSRFStore(store)
	tok, err := csrf.GenerateCSRFToken(ctx)
	require.NoError(t, err)
	assert.True(t, csrf.ValidateCSRFToken(ctx, tok))
}
