package refresh_test

import (
	"testing"
	"time"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	refreshrepofake "github.com/jrsteele09/go-auth-session/token/refresh/repofake"
	"github.com/stretchr/testify/require"
)

func TestRotateIssuesReplacement(t *testing.T) {
	m := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(), 32, time.Hour)

	first, err := m.Create("user-1", true)
	require.NoError(t, err)
	require.Len(t, first.Token, 64)

	second, err := m.Rotate(first.Token)
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)
	require.Equal(t, "user-1", second.UserID)
	require.True(t, second.Remember)

	_, err = m.Rotate(first.Token)
	require.ErrorIs(t, err, autherrors.ErrInvalidRefreshToken)
}

func TestRotateExpired(t *testing.T) {
	now := time.Now()
	refresh.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { refresh.NowTimeFunc = time.Now })

	m := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(), 16, time.Minute)
	rt, err := m.Create("user-1", false)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = m.Rotate(rt.Token)
	require.ErrorIs(t, err, autherrors.ErrRefreshTokenExpired)

	_, err = m.Get(rt.Token)
	require.Error(t, err)
}

func TestRevokeIsIdempotent(t *testing.T) {
	m := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(), 16, time.Hour)
	rt, err := m.Create("user-1", false)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(rt.Token))
	require.NoError(t, m.Revoke(rt.Token))
	_, err = m.Get(rt.Token)
	require.Error(t, err)
}

func TestRevokeUser(t *testing.T) {
	m := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(), 16, time.Hour)
	a, err := m.Create("user-1", false)
	require.NoError(t, err)
	b, err := m.Create("user-1", true)
	require.NoError(t, err)
	other, err := m.Create("user-2", false)
	require.NoError(t, err)

	require.NoError(t, m.RevokeUser("user-1"))
	_, err = m.Get(a.Token)
	require.Error(t, err)
	_, err = m.Get(b.Token)
	require.Error(t, err)
	_, err = m.Get(other.Token)
	require.NoError(t, err)
}
