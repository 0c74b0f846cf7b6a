package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jrsteele09/go-auth-session/apiclient"
	"github.com/jrsteele09/go-auth-session/authmodel"
	"github.com/jrsteele09/go-auth-session/internal/config"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/server"
	"github.com/jrsteele09/go-auth-session/token/keys"
	refreshrepofake "github.com/jrsteele09/go-auth-session/token/refresh/repofake"
	"github.com/jrsteele09/go-auth-session/users"
	fakeuserrepo "github.com/jrsteele09/go-auth-session/users/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testUsername = "ada"
	testEmail    = "ada@example.com"
	testPassword = "Analytical1"
)

type testFixture struct {
	srv    *server.Server
	http   *httptest.Server
	client *apiclient.Client
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	t.Setenv("ISSUER", "http://issuer.test")
	t.Setenv("ENV", "TEST")
	t.Setenv("ALLOWED_ORIGINS", "http://app.test")

	kp, err := keys.GenerateRSAKeyPair("test-key", 2048)
	require.NoError(t, err)

	srv, err := server.New(config.New(), server.Repos{
		Users:         fakeuserrepo.NewFakeUserRepo(),
		RefreshTokens: refreshrepofake.NewFakeRefreshTokenRepo(),
	}, keys.NewKeyPairSigner(kp), server.WithGatherer(prometheus.NewRegistry()))
	require.NoError(t, err)

	require.NoError(t, srv.SeedUser(authmodel.RegisterRequest{
		Username: testUsername,
		Email:    testEmail,
		Password: testPassword,
	}, users.PlanPro))

	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	client, err := apiclient.New(hs.URL)
	require.NoError(t, err)
	return &testFixture{srv: srv, http: hs, client: client}
}

func (f *testFixture) login(t *testing.T) *authmodel.TokenResponse {
	t.Helper()
	resp, err := f.client.Login(context.Background(), authmodel.LoginRequest{Username: testUsername, Password: testPassword})
	require.NoError(t, err)
	return resp
}

func (f *testFixture) get(t *testing.T, route, access string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.http.URL+route, nil)
	require.NoError(t, err)
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestNewValidation(t *testing.T) {
	_, err := server.New(config.New(), server.Repos{}, nil)
	require.Error(t, err)
}

func TestLoginSetsHTTPOnlyRefreshCookie(t *testing.T) {
	f := setupTestFixture(t)

	resp := f.login(t)
	require.NotEmpty(t, resp.Access)
	require.Equal(t, testUsername, resp.User.Username)
	require.Equal(t, []string{string(users.RoleMember)}, resp.User.Roles)

	body, err := json.Marshal(authmodel.LoginRequest{Username: testUsername, Password: testPassword})
	require.NoError(t, err)
	raw, err := http.Post(f.http.URL+authmodel.RouteLogin, "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer raw.Body.Close()

	var cookie *http.Cookie
	for _, c := range raw.Cookies() {
		if c.Name == "refresh_token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, "/api/auth", cookie.Path)
	require.Equal(t, 0, cookie.MaxAge)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.Login(context.Background(), authmodel.LoginRequest{Username: testUsername, Password: "wrong"})
	require.ErrorIs(t, err, autherrors.ErrUnauthorized)

	var se *apiclient.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "Invalid username or password", se.Message)
}

func TestRefreshRotatesAndVerifyIdentifies(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.login(t)
	before := f.client.Cookies()
	require.NotEmpty(t, before)

	access, err := f.client.Refresh(ctx)
	require.NoError(t, err)
	after := f.client.Cookies()
	require.NotEqual(t, before[0].Value, after[0].Value)

	user, err := f.client.Verify(ctx, access)
	require.NoError(t, err)
	require.Equal(t, testUsername, user.Username)

	_, err = f.client.Verify(ctx, "not-a-token")
	require.ErrorIs(t, err, autherrors.ErrUnauthorized)
}

func TestRefreshWithoutCookie(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.client.Refresh(context.Background())
	require.ErrorIs(t, err, autherrors.ErrUnauthorized)
}

func TestLogoutRevokesRefreshCredential(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.login(t)

	require.NoError(t, f.client.Logout(ctx))
	require.Empty(t, f.client.Cookies())

	_, err := f.client.Refresh(ctx)
	require.ErrorIs(t, err, autherrors.ErrUnauthorized)

	// Logging out twice is harmless.
	require.NoError(t, f.client.Logout(ctx))
}

func TestRegister(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	resp, err := f.client.Register(ctx, authmodel.RegisterRequest{
		Username: "grace",
		Email:    "grace@example.com",
		Password: "Compiler42",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Access)
	require.NotNil(t, resp.Next)
	require.Equal(t, "/onboarding", *resp.Next)

	_, err = f.client.Register(ctx, authmodel.RegisterRequest{Username: "grace", Email: "other@example.com", Password: "Compiler42"})
	require.ErrorIs(t, err, autherrors.ErrUserExists)

	_, err = f.client.Register(ctx, authmodel.RegisterRequest{Username: "hopper", Email: testEmail, Password: "Compiler42"})
	require.ErrorIs(t, err, autherrors.ErrUserExists)

	_, err = f.client.Register(ctx, authmodel.RegisterRequest{Username: "weak", Email: "weak@example.com", Password: "short"})
	require.ErrorIs(t, err, autherrors.ErrInvalidRequest)
}

func TestResourcesRequireBearer(t *testing.T) {
	f := setupTestFixture(t)
	access := f.login(t).Access

	for _, route := range []string{authmodel.RouteProfile, authmodel.RouteSettings, authmodel.RouteEntitlements, authmodel.RouteVerify} {
		resp := f.get(t, route, "")
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, route)

		resp = f.get(t, route, access)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, route)
		require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	}
}

func TestEntitlementsReflectPlan(t *testing.T) {
	f := setupTestFixture(t)
	access := f.login(t).Access

	resp := f.get(t, authmodel.RouteEntitlements, access)
	defer resp.Body.Close()
	var ent authmodel.Entitlements
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ent))
	require.Equal(t, "pro", ent.Plan)
	require.True(t, ent.Entitled)
	require.NotNil(t, ent.CheckedAt)
	require.False(t, ent.Fallback)
}

func TestCorsPreflight(t *testing.T) {
	f := setupTestFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.http.URL+authmodel.RouteRefresh, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://app.test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "http://app.test", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "http://evil.test")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMetrics(t *testing.T) {
	f := setupTestFixture(t)

	resp := f.get(t, authmodel.RouteHealth, "")
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"status":"ok"`)

	resp = f.get(t, authmodel.RouteMetrics, "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
