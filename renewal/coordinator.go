// Package renewal exchanges the durable refresh credential for a new access
// token without racing itself.
package renewal

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/authmodel"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// NowTimeFunc is swapped in tests to drive the cooldown window.
var NowTimeFunc = time.Now

const renewKey = "renew"

// Client performs the two round trips a renewal needs. The refresh credential
// travels out of band (cookie), so Refresh takes no token.
type Client interface {
	Refresh(ctx context.Context) (string, error)
	Verify(ctx context.Context, accessToken string) (*authmodel.User, error)
}

// Coordinator rate limits renewals with a cooldown window and an attempt
// ceiling, and collapses concurrent callers onto one in-flight attempt.
type Coordinator struct {
	client      Client
	tokens      *token.Store
	flag        sessions.LogoutFlagStore
	cooldown    time.Duration
	maxAttempts int
	timeout     time.Duration

	// flagMu orders logout flag writes against the epoch: a renewal clears
	// the flag only while its epoch is current.
	flagMu sync.Mutex

	mu          sync.Mutex
	lastAttempt time.Time
	attempts    int
	epoch       uint64

	sf      singleflight.Group
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithAttemptTimeout bounds one renewal attempt, both round trips included.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

func NewCoordinator(
	client Client,
	tokens *token.Store,
	flag sessions.LogoutFlagStore,
	cooldown time.Duration,
	maxAttempts int,
	options ...Option,
) (*Coordinator, error) {
	if client == nil {
		return nil, errors.New("[NewCoordinator] client is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewCoordinator] token store is required")
	}
	if flag == nil {
		return nil, errors.New("[NewCoordinator] logout flag store is required")
	}
	if maxAttempts < 1 {
		return nil, errors.New("[NewCoordinator] maxAttempts must be at least 1")
	}

	c := &Coordinator{
		client:      client,
		tokens:      tokens,
		flag:        flag,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		logger:      log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Renew obtains a new access token and the identity behind it. Concurrent
// callers share one attempt. The returned error wraps ErrLoggedOut,
// ErrRenewalThrottled, ErrIdentityUnavailable or the transport failure.
//
// On identity failure the new token stays in the store; the caller decides
// whether to clear it. On any other failure the store is left untouched.
//
// The attempt runs detached from ctx. Cancelling ctx only stops this caller
// waiting; callers sharing the attempt still get its result.
func (c *Coordinator) Renew(ctx context.Context) (*authmodel.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "Coordinator.Renew")
	}
	ch := c.sf.DoChan(renewKey, func() (any, error) {
		rctx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(rctx, c.timeout)
			defer cancel()
		}
		return c.renew(rctx)
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "Coordinator.Renew")
	case res := <-ch:
		if res.Shared {
			c.logger.Debug().Msg("joined in-flight renewal")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*authmodel.User), nil
	}
}

func (c *Coordinator) renew(ctx context.Context) (*authmodel.User, error) {
	epoch, loggedOut, err := c.readFlag(ctx)
	if err != nil {
		c.logger.Err(err).Msg("renewal refused: logout flag unreadable")
		c.metrics.Renewal(metrics.OutcomeFailure)
		return nil, errors.Wrap(err, "Coordinator.Renew flag.Read")
	}
	if loggedOut {
		c.logger.Info().Msg("renewal refused: user logged out")
		c.metrics.Renewal(metrics.OutcomeLoggedOut)
		return nil, autherrors.ErrLoggedOut
	}

	if err := c.admit(epoch); err != nil {
		return nil, err
	}

	access, err := c.client.Refresh(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("renewal failed: refresh call rejected")
		c.metrics.Renewal(metrics.OutcomeFailure)
		return nil, errors.Wrap(err, "Coordinator.Renew Refresh")
	}

	if !c.storeIfCurrent(epoch, access) {
		c.logger.Info().Msg("renewal discarded: logout happened during refresh")
		c.metrics.Renewal(metrics.OutcomeLoggedOut)
		return nil, autherrors.ErrLoggedOut
	}

	current, err := c.clearFlagIfCurrent(ctx, epoch)
	if err != nil {
		c.logger.Warn().Err(err).Msg("could not clear logout flag after renewal")
	}
	if !current {
		c.logger.Info().Msg("renewal discarded: logout happened after refresh")
		c.metrics.Renewal(metrics.OutcomeLoggedOut)
		return nil, autherrors.ErrLoggedOut
	}

	user, err := c.client.Verify(ctx, access)
	if err == nil && user == nil {
		err = autherrors.ErrNotAuthenticated
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("renewal failed: identity could not be verified")
		c.metrics.Renewal(metrics.OutcomeIdentityFailure)
		return nil, autherrors.Wrapf(autherrors.ErrIdentityUnavailable, "Coordinator.Renew Verify: %v", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.metrics.Renewal(metrics.OutcomeLoggedOut)
		return nil, autherrors.ErrLoggedOut
	}
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Debug().Str("user", user.Username).Msg("access token renewed")
	c.metrics.Renewal(metrics.OutcomeSuccess)
	return user, nil
}

// readFlag snapshots the epoch together with the logout flag, so a logout
// either shows in the flag or invalidates the snapshot.
func (c *Coordinator) readFlag(ctx context.Context) (uint64, bool, error) {
	c.flagMu.Lock()
	defer c.flagMu.Unlock()
	epoch := c.currentEpoch()
	loggedOut, err := c.flag.Read(ctx)
	return epoch, loggedOut, err
}

// clearFlagIfCurrent clears the logout flag unless a logout has moved the
// epoch on. It reports whether the epoch was still current.
func (c *Coordinator) clearFlagIfCurrent(ctx context.Context, epoch uint64) (bool, error) {
	c.flagMu.Lock()
	defer c.flagMu.Unlock()
	if c.currentEpoch() != epoch {
		return false, nil
	}
	return true, c.flag.Write(ctx, false)
}

func (c *Coordinator) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// admit applies the cooldown and ceiling and, when the attempt may proceed,
// records it against epoch.
func (c *Coordinator) admit(epoch uint64) error {
	now := NowTimeFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		c.logger.Info().Msg("renewal refused: user logged out")
		c.metrics.Renewal(metrics.OutcomeLoggedOut)
		return autherrors.ErrLoggedOut
	}
	if !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.cooldown {
		c.logger.Warn().
			Dur("since_last", now.Sub(c.lastAttempt)).
			Dur("cooldown", c.cooldown).
			Msg("renewal throttled: cooldown window active")
		c.metrics.Renewal(metrics.OutcomeCooldown)
		return autherrors.ErrRenewalCooldown
	}
	if c.attempts >= c.maxAttempts {
		c.logger.Warn().
			Int("attempts", c.attempts).
			Msg("renewal throttled: attempt ceiling reached")
		c.metrics.Renewal(metrics.OutcomeCeiling)
		return autherrors.ErrRenewalCeiling
	}

	c.lastAttempt = now
	c.attempts++
	return nil
}

func (c *Coordinator) storeIfCurrent(epoch uint64, access string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.tokens.Set(access)
	return true
}

// Reset starts a fresh session after login or registration: the attempt
// counter and cooldown are cleared.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.attempts = 0
	c.lastAttempt = time.Time{}
	c.mu.Unlock()
}

// Invalidate marks every renewal already in flight as stale so its token is
// discarded.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()
}

// MarkLoggedOut invalidates in-flight renewals and sets the logout flag. A
// renewal that straddles the call can no longer clear the flag afterwards.
func (c *Coordinator) MarkLoggedOut(ctx context.Context) error {
	c.flagMu.Lock()
	defer c.flagMu.Unlock()
	c.Invalidate()
	return errors.Wrap(c.flag.Write(ctx, true), "Coordinator.MarkLoggedOut flag.Write")
}

// Attempts reports the attempts made since the last reset or successful renewal.
func (c *Coordinator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}
