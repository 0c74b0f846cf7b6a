package redisflag_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-auth-session/sessions/redisflag"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	store := redisflag.New(rdb, "browser-1", time.Hour)

	loggedOut, err := store.Read(ctx)
	require.NoError(t, err)
	require.False(t, loggedOut)

	require.NoError(t, store.Write(ctx, true))
	loggedOut, err = store.Read(ctx)
	require.NoError(t, err)
	require.True(t, loggedOut)

	require.NoError(t, store.Write(ctx, false))
	loggedOut, err = store.Read(ctx)
	require.NoError(t, err)
	require.False(t, loggedOut)
}

func TestSurvivesReloadWithinSession(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)

	require.NoError(t, redisflag.New(rdb, "browser-1", time.Hour).Write(ctx, true))

	reloaded := redisflag.New(rdb, "browser-1", time.Hour)
	loggedOut, err := reloaded.Read(ctx)
	require.NoError(t, err)
	require.True(t, loggedOut)

	otherTab := redisflag.New(rdb, "browser-2", time.Hour)
	loggedOut, err = otherTab.Read(ctx)
	require.NoError(t, err)
	require.False(t, loggedOut)
}

func TestExpiresWithSession(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	store := redisflag.New(rdb, "browser-1", time.Minute)

	require.NoError(t, store.Write(ctx, true))
	mr.FastForward(2 * time.Minute)

	loggedOut, err := store.Read(ctx)
	require.NoError(t, err)
	require.False(t, loggedOut)
}

func TestReadErrorWhenRedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := redisflag.New(rdb, "browser-1", time.Minute)
	mr.Close()

	_, err := store.Read(context.Background())
	require.Error(t, err)
}
