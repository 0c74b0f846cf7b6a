// Package transport decorates an http.RoundTripper with the session's
// access token and a single renew-and-retry on authorization failure.
package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/jrsteele09/go-auth-session/authmodel"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Renewer obtains a fresh access token. renewal.Coordinator satisfies it.
type Renewer interface {
	Renew(ctx context.Context) (*authmodel.User, error)
}

type retriedKey struct{}

// WithRetried marks requests built from ctx as already retried, so an
// authorization failure is returned without another renewal.
func WithRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// IsRetried reports whether ctx carries the retry mark.
func IsRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// Transport attaches the current access token to outbound requests that have
// no Authorization header. On a 401 it renews once and re-issues the request;
// if renewal fails it reports the expiry and returns the original response.
type Transport struct {
	base             http.RoundTripper
	source           oauth2.TokenSource
	renewer          Renewer
	onSessionExpired func(error)
	metrics          *metrics.Metrics
	logger           zerolog.Logger
}

var _ http.RoundTripper = (*Transport)(nil)

type Option func(*Transport)

// WithBase sets the underlying transport. Defaults to http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = rt
	}
}

// WithSessionExpired registers the hook called when renewal after a 401 fails.
func WithSessionExpired(fn func(error)) Option {
	return func(t *Transport) {
		t.onSessionExpired = fn
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

func New(source oauth2.TokenSource, renewer Renewer, options ...Option) *Transport {
	t := &Transport{
		base:    http.DefaultTransport,
		source:  source,
		renewer: renewer,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req
	sent := ""
	if req.Header.Get("Authorization") == "" {
		if tok, err := t.source.Token(); err == nil {
			out = req.Clone(req.Context())
			tok.SetAuthHeader(out)
			sent = tok.AccessToken
		}
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if IsRetried(req.Context()) {
		t.metrics.Retry(metrics.OutcomeSkipped)
		return resp, nil
	}
	if !replayable(req) {
		t.logger.Debug().Str("path", req.URL.Path).Msg("401 on request with non-replayable body")
		t.metrics.Retry(metrics.OutcomeSkipped)
		return resp, nil
	}

	// Another request may have renewed while this one was on the wire.
	if !t.renewedSince(sent) {
		if _, rerr := t.renewer.Renew(req.Context()); rerr != nil {
			if req.Context().Err() != nil {
				t.metrics.Retry(metrics.OutcomeSkipped)
				return resp, nil
			}
			t.logger.Warn().Err(rerr).Str("path", req.URL.Path).Msg("session expired: renewal after 401 failed")
			t.metrics.Retry(metrics.OutcomeFailure)
			if t.onSessionExpired != nil {
				t.onSessionExpired(rerr)
			}
			return resp, nil
		}
	}

	tok, err := t.source.Token()
	if err != nil {
		t.metrics.Retry(metrics.OutcomeFailure)
		return resp, nil
	}

	retry := req.Clone(WithRetried(req.Context()))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			t.metrics.Retry(metrics.OutcomeFailure)
			return resp, nil
		}
		retry.Body = body
	}
	tok.SetAuthHeader(retry)

	drain(resp)
	t.metrics.Retry(metrics.OutcomeSuccess)
	t.logger.Debug().Str("path", req.URL.Path).Msg("retrying request with renewed token")
	return t.base.RoundTrip(retry)
}

func (t *Transport) renewedSince(sent string) bool {
	if sent == "" {
		return false
	}
	tok, err := t.source.Token()
	return err == nil && tok.AccessToken != sent
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
