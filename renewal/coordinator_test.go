package renewal_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/authmodel"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/renewal"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var errNetwork = errors.New("connection reset")

type fakeClient struct {
	refreshCalls atomic.Int32
	verifyCalls  atomic.Int32

	mu         sync.Mutex
	refreshErr  error
	verifyErr   error
	access      string
	block       chan struct{}
	verifyBlock chan struct{}
}

func (f *fakeClient) Refresh(ctx context.Context) (string, error) {
	f.refreshCalls.Add(1)
	f.mu.Lock()
	block, access, err := f.block, f.access, f.refreshErr
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return access, err
}

func (f *fakeClient) Verify(ctx context.Context, accessToken string) (*authmodel.User, error) {
	f.verifyCalls.Add(1)
	f.mu.Lock()
	block := f.verifyBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &authmodel.User{ID: "u-1", Username: "ada"}, nil
}

func (f *fakeClient) setRefreshErr(err error) {
	f.mu.Lock()
	f.refreshErr = err
	f.mu.Unlock()
}

// gatedFlagStore holds the first Write(false) until released.
type gatedFlagStore struct {
	*sessions.MemoryFlagStore
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func newGatedFlagStore() *gatedFlagStore {
	g := &gatedFlagStore{
		MemoryFlagStore: sessions.NewMemoryFlagStore(),
		reached:         make(chan struct{}, 1),
		release:         make(chan struct{}),
	}
	g.armed.Store(true)
	return g
}

func (g *gatedFlagStore) Write(ctx context.Context, loggedOut bool) error {
	if !loggedOut && g.armed.CompareAndSwap(true, false) {
		g.reached <- struct{}{}
		<-g.release
	}
	return g.MemoryFlagStore.Write(ctx, loggedOut)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	client  *fakeClient
	tokens  *token.Store
	flag    *sessions.MemoryFlagStore
	clock   *clock
	metrics *metrics.Metrics
	coord   *renewal.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	orig := renewal.NowTimeFunc
	renewal.NowTimeFunc = clk.Now
	t.Cleanup(func() { renewal.NowTimeFunc = orig })

	f := &fixture{
		client:  &fakeClient{access: "new-access"},
		tokens:  token.NewStore(),
		flag:    sessions.NewMemoryFlagStore(),
		clock:   clk,
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	coord, err := renewal.NewCoordinator(f.client, f.tokens, f.flag, 5*time.Second, 3, renewal.WithMetrics(f.metrics))
	require.NoError(t, err)
	f.coord = coord
	return f
}

func (f *fixture) renewals(outcome string) float64 {
	return testutil.ToFloat64(f.metrics.Renewals().WithLabelValues(outcome))
}

func TestNewCoordinatorValidation(t *testing.T) {
	_, err := renewal.NewCoordinator(nil, token.NewStore(), sessions.NewMemoryFlagStore(), time.Second, 3)
	require.Error(t, err)
	_, err = renewal.NewCoordinator(&fakeClient{}, nil, sessions.NewMemoryFlagStore(), time.Second, 3)
	require.Error(t, err)
	_, err = renewal.NewCoordinator(&fakeClient{}, token.NewStore(), nil, time.Second, 3)
	require.Error(t, err)
	_, err = renewal.NewCoordinator(&fakeClient{}, token.NewStore(), sessions.NewMemoryFlagStore(), time.Second, 0)
	require.Error(t, err)
}

func TestRenewSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.flag.Write(ctx, false))

	user, err := f.coord.Renew(ctx)
	require.NoError(t, err)
	require.Equal(t, "ada", user.Username)

	got, ok := f.tokens.Get()
	require.True(t, ok)
	require.Equal(t, "new-access", got)
	require.Equal(t, 0, f.coord.Attempts())
	require.EqualValues(t, 1, f.client.verifyCalls.Load())
	require.Equal(t, float64(1), f.renewals(metrics.OutcomeSuccess))

	loggedOut, err := f.flag.Read(ctx)
	require.NoError(t, err)
	require.False(t, loggedOut)
}

func TestRenewRefusedWhileLoggedOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.flag.Write(ctx, true))

	_, err := f.coord.Renew(ctx)
	require.ErrorIs(t, err, autherrors.ErrLoggedOut)
	require.EqualValues(t, 0, f.client.refreshCalls.Load())
	require.Equal(t, 0, f.coord.Attempts())
	require.Equal(t, float64(1), f.renewals(metrics.OutcomeLoggedOut))
}

func TestRenewCooldown(t *testing.T) {
	f := newFixture(t)
	f.client.setRefreshErr(errNetwork)
	ctx := context.Background()

	_, err := f.coord.Renew(ctx)
	require.ErrorIs(t, err, errNetwork)

	f.clock.Advance(4 * time.Second)
	_, err = f.coord.Renew(ctx)
	require.ErrorIs(t, err, autherrors.ErrRenewalCooldown)
	require.ErrorIs(t, err, autherrors.ErrRenewalThrottled)
	require.EqualValues(t, 1, f.client.refreshCalls.Load())
	require.Equal(t, float64(1), f.renewals(metrics.OutcomeCooldown))

	f.clock.Advance(time.Second)
	_, err = f.coord.Renew(ctx)
	require.ErrorIs(t, err, errNetwork)
	require.EqualValues(t, 2, f.client.refreshCalls.Load())
}

func TestRenewCeilingUntilReset(t *testing.T) {
	f := newFixture(t)
	f.client.setRefreshErr(errNetwork)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.coord.Renew(ctx)
		require.ErrorIs(t, err, errNetwork)
		f.clock.Advance(10 * time.Second)
	}

	_, err := f.coord.Renew(ctx)
	require.ErrorIs(t, err, autherrors.ErrRenewalCeiling)
	require.ErrorIs(t, err, autherrors.ErrRenewalThrottled)
	require.EqualValues(t, 3, f.client.refreshCalls.Load())
	require.Equal(t, float64(3), f.renewals(metrics.OutcomeFailure))
	require.Equal(t, float64(1), f.renewals(metrics.OutcomeCeiling))

	f.coord.Reset()
	f.client.setRefreshErr(nil)
	_, err = f.coord.Renew(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, f.client.refreshCalls.Load())
}

func TestRenewFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	f.tokens.Set("old-access")
	f.client.setRefreshErr(errNetwork)

	_, err := f.coord.Renew(context.Background())
	require.Error(t, err)

	got, ok := f.tokens.Get()
	require.True(t, ok)
	require.Equal(t, "old-access", got)
}

func TestRenewIdentityFailureKeepsToken(t *testing.T) {
	f := newFixture(t)
	f.client.verifyErr = errNetwork

	_, err := f.coord.Renew(context.Background())
	require.ErrorIs(t, err, autherrors.ErrIdentityUnavailable)

	got, ok := f.tokens.Get()
	require.True(t, ok)
	require.Equal(t, "new-access", got)
	require.Equal(t, 1, f.coord.Attempts())
	require.Equal(t, float64(1), f.renewals(metrics.OutcomeIdentityFailure))
}

func TestConcurrentRenewalsShareOneAttempt(t *testing.T) {
	f := newFixture(t)
	f.client.block = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Renew(ctx)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return f.client.refreshCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.client.block)
	wg.Wait()
	close(errs)

	require.EqualValues(t, 1, f.client.refreshCalls.Load())
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, autherrors.ErrRenewalCooldown)
		}
	}
}

func TestLogoutDuringRefreshDiscardsToken(t *testing.T) {
	f := newFixture(t)
	f.client.block = make(chan struct{})
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := f.coord.Renew(ctx)
		errc <- err
	}()
	require.Eventually(t, func() bool { return f.client.refreshCalls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.coord.MarkLoggedOut(ctx))
	f.tokens.Clear()
	close(f.client.block)

	require.ErrorIs(t, <-errc, autherrors.ErrLoggedOut)
	_, ok := f.tokens.Get()
	require.False(t, ok)
	require.EqualValues(t, 0, f.client.verifyCalls.Load())

	loggedOut, err := f.flag.Read(ctx)
	require.NoError(t, err)
	require.True(t, loggedOut)

	// Straggling renewals after logout never reach the network.
	f.clock.Advance(time.Minute)
	_, err = f.coord.Renew(ctx)
	require.ErrorIs(t, err, autherrors.ErrLoggedOut)
	require.EqualValues(t, 1, f.client.refreshCalls.Load())
}

func TestLogoutWhileClearingFlagKeepsFlagSet(t *testing.T) {
	f := newFixture(t)
	flag := newGatedFlagStore()
	coord, err := renewal.NewCoordinator(f.client, f.tokens, flag, 5*time.Second, 3, renewal.WithMetrics(f.metrics))
	require.NoError(t, err)
	f.client.verifyBlock = make(chan struct{})
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := coord.Renew(ctx)
		errc <- err
	}()
	<-flag.reached

	logoutDone := make(chan error, 1)
	go func() { logoutDone <- coord.MarkLoggedOut(ctx) }()
	time.Sleep(20 * time.Millisecond)
	close(flag.release)
	require.NoError(t, <-logoutDone)
	f.tokens.Clear()
	close(f.client.verifyBlock)

	require.ErrorIs(t, <-errc, autherrors.ErrLoggedOut)
	loggedOut, err := flag.Read(ctx)
	require.NoError(t, err)
	require.True(t, loggedOut)

	f.clock.Advance(time.Minute)
	_, err = coord.Renew(ctx)
	require.ErrorIs(t, err, autherrors.ErrLoggedOut)
	require.EqualValues(t, 1, f.client.refreshCalls.Load())
	_, ok := f.tokens.Get()
	require.False(t, ok)
}

func TestLogoutDuringIdentityCheckDiscardsRenewal(t *testing.T) {
	f := newFixture(t)
	f.client.verifyBlock = make(chan struct{})
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := f.coord.Renew(ctx)
		errc <- err
	}()
	require.Eventually(t, func() bool { return f.client.verifyCalls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.coord.MarkLoggedOut(ctx))
	close(f.client.verifyBlock)

	require.ErrorIs(t, <-errc, autherrors.ErrLoggedOut)
	require.Equal(t, float64(0), f.renewals(metrics.OutcomeSuccess))
	loggedOut, err := f.flag.Read(ctx)
	require.NoError(t, err)
	require.True(t, loggedOut)

	f.clock.Advance(time.Minute)
	_, err = f.coord.Renew(ctx)
	require.ErrorIs(t, err, autherrors.ErrLoggedOut)
	require.EqualValues(t, 1, f.client.refreshCalls.Load())
}

func TestCancelledCallerDoesNotAbortSharedRenewal(t *testing.T) {
	f := newFixture(t)
	f.client.block = make(chan struct{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.coord.Renew(leaderCtx)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return f.client.refreshCalls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		user *authmodel.User
		err  error
	}
	joined := make(chan result, 1)
	go func() {
		user, err := f.coord.Renew(context.Background())
		joined <- result{user, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	close(f.client.block)
	res := <-joined
	require.NoError(t, res.err)
	require.Equal(t, "ada", res.user.Username)
	require.EqualValues(t, 1, f.client.refreshCalls.Load())
	got, ok := f.tokens.Get()
	require.True(t, ok)
	require.Equal(t, "new-access", got)
}

func TestRenewWithCancelledContextMakesNoAttempt(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.coord.Renew(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 0, f.client.refreshCalls.Load())
	require.Equal(t, 0, f.coord.Attempts())
}
