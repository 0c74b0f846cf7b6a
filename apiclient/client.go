// Package apiclient calls the authentication and user-resource endpoints.
//
// Login, register, refresh and verify go out on a plain client so an
// authorization failure there never triggers a nested renewal. Logout and
// the resource endpoints go out on the authenticated client once one is set.
// Both share one cookie jar, which carries the httpOnly refresh cookie.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/authmodel"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/transport"
	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"
)

const maxErrorBody = 64 << 10

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// Unwrap maps well known statuses onto sentinel errors.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusUnauthorized:
		return autherrors.ErrUnauthorized
	case http.StatusNotFound:
		return autherrors.ErrNotFound
	case http.StatusConflict:
		return autherrors.ErrUserExists
	case http.StatusBadRequest:
		return autherrors.ErrInvalidRequest
	}
	return nil
}

type Client struct {
	baseURL *url.URL
	jar     http.CookieJar
	plain   *http.Client
	authed  *http.Client
}

type Option func(*Client)

// WithTransport sets the round tripper of the plain client.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.plain.Transport = rt
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.plain.Timeout = d
	}
}

func New(baseURL string, options ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "[apiclient.New] invalid base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[apiclient.New] base URL %q must be absolute", baseURL)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "[apiclient.New] cookiejar.New")
	}

	c := &Client{
		baseURL: u,
		jar:     jar,
		plain:   &http.Client{Jar: jar, Transport: http.DefaultTransport},
	}
	for _, opt := range options {
		opt(c)
	}
	c.authed = c.plain
	return c, nil
}

// Transport returns the round tripper under the plain client, for wrapping.
func (c *Client) Transport() http.RoundTripper {
	return c.plain.Transport
}

// Authenticate routes logout and resource calls through rt, typically a
// transport.Transport wrapping Transport().
func (c *Client) Authenticate(rt http.RoundTripper) {
	c.authed = &http.Client{Jar: c.jar, Transport: rt, Timeout: c.plain.Timeout}
}

// HTTPClient returns the authenticated client.
func (c *Client) HTTPClient() *http.Client {
	return c.authed
}

// Cookies returns the cookies the jar would send with a refresh call.
func (c *Client) Cookies() []*http.Cookie {
	u := *c.baseURL
	u.Path += authmodel.RouteRefresh
	return c.jar.Cookies(&u)
}

func (c *Client) URL(route string) string {
	return c.baseURL.String() + route
}

func (c *Client) Login(ctx context.Context, req authmodel.LoginRequest) (*authmodel.TokenResponse, error) {
	var out authmodel.TokenResponse
	if err := c.do(ctx, c.plain, http.MethodPost, authmodel.RouteLogin, req, nil, &out); err != nil {
		return nil, err
	}
	if out.Access == "" {
		return nil, errors.Wrap(autherrors.ErrInvalidToken, "Client.Login empty access token")
	}
	return &out, nil
}

func (c *Client) Register(ctx context.Context, req authmodel.RegisterRequest) (*authmodel.TokenResponse, error) {
	var out authmodel.TokenResponse
	if err := c.do(ctx, c.plain, http.MethodPost, authmodel.RouteRegister, req, nil, &out); err != nil {
		return nil, err
	}
	if out.Access == "" {
		return nil, errors.Wrap(autherrors.ErrInvalidToken, "Client.Register empty access token")
	}
	return &out, nil
}

// Refresh exchanges the refresh cookie for a new access token.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	var out authmodel.RefreshResponse
	if err := c.do(ctx, c.plain, http.MethodPost, authmodel.RouteRefresh, nil, nil, &out); err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", errors.Wrap(autherrors.ErrInvalidToken, "Client.Refresh empty access token")
	}
	return out.Access, nil
}

// Verify fetches the identity behind accessToken.
func (c *Client) Verify(ctx context.Context, accessToken string) (*authmodel.User, error) {
	var out authmodel.VerifyResponse
	header := http.Header{"Authorization": {"Bearer " + accessToken}}
	if err := c.do(ctx, c.plain, http.MethodGet, authmodel.RouteVerify, nil, header, &out); err != nil {
		return nil, err
	}
	if !out.IsAuthenticated || out.User == nil {
		return nil, autherrors.ErrNotAuthenticated
	}
	return out.User, nil
}

// Logout asks the server to revoke the refresh credential. A 401 here is not
// worth a renewal, so the request is marked as already retried.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(transport.WithRetried(ctx), c.authed, http.MethodPost, authmodel.RouteLogout, nil, nil, nil)
}

func (c *Client) Profile(ctx context.Context) (authmodel.Document, error) {
	var out authmodel.Document
	if err := c.do(ctx, c.authed, http.MethodGet, authmodel.RouteProfile, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Settings(ctx context.Context) (authmodel.Document, error) {
	var out authmodel.Document
	if err := c.do(ctx, c.authed, http.MethodGet, authmodel.RouteSettings, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Entitlements(ctx context.Context) (authmodel.Entitlements, error) {
	var out authmodel.Entitlements
	if err := c.do(ctx, c.authed, http.MethodGet, authmodel.RouteEntitlements, nil, nil, &out); err != nil {
		return authmodel.Entitlements{}, err
	}
	out.Fallback = false
	return out, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, route string, in any, header http.Header, out any) error {
	var reader io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "Client %s %s marshal", method, route)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(route), reader)
	if err != nil {
		return errors.Wrapf(err, "Client %s %s", method, route)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "Client %s %s", method, route)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "Client %s %s decode", method, route)
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := http.StatusText(resp.StatusCode)

	var er authmodel.ErrorResponse
	if json.Unmarshal(raw, &er) == nil {
		switch {
		case er.Description != "":
			msg = er.Description
		case er.Error != "":
			msg = er.Error
		}
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
