package credential_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wayfarer/wayfarer/internal/cache"
	"github.com/wayfarer/wayfarer/internal/credential"
	"github.com/wayfarer/wayfarer/internal/failure"
	"github.com/wayfarer/wayfarer/internal/testhelpers"
)

const scope = "https://graph.microsoft.com/.default"

// fakeClock is a settable time source. It starts at the real time because
// the token store drops entries whose expiry has passed in real time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingExchanger issues sequential tokens valid for lifetime.
type countingExchanger struct {
	clock    *fakeClock
	lifetime time.Duration
	calls    atomic.Int32
}

func (e *countingExchanger) Exchange(ctx context.Context, scope string) (string, time.Time, error) {
	n := e.calls.Add(1)
	return scope + "-token-" + string(rune('0'+n)), e.clock.Now().Add(e.lifetime), nil
}

func newStore(t *testing.T) cache.TokenCache[credential.CachedToken] {
	t.Helper()
	store, err := cache.NewMemory[credential.CachedToken](time.Hour, 100)
	require.NoError(t, err)
	return store
}

func TestToken_SecondCallWithinMarginIsCached(t *testing.T) {
	testhelpers.SetupLogger(t)

	clock := newFakeClock()
	exchanger := &countingExchanger{clock: clock, lifetime: time.Hour}
	c := credential.New(exchanger, newStore(t), credential.WithClock(clock.Now))

	first, err := c.Token(context.Background(), scope)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)

	second, err := c.Token(context.Background(), scope)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, exchanger.calls.Load())
}

func TestToken_InsideSafetyMarginRefreshesOnce(t *testing.T) {
	testhelpers.SetupLogger(t)

	clock := newFakeClock()
	exchanger := &countingExchanger{clock: clock, lifetime: time.Hour}
	c := credential.New(exchanger, newStore(t), credential.WithClock(clock.Now))

	first, err := c.Token(context.Background(), scope)
	require.NoError(t, err)

	// 4 minutes before expiry: inside the 5 minute margin
	clock.Advance(56 * time.Minute)

	second, err := c.Token(context.Background(), scope)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.EqualValues(t, 2, exchanger.calls.Load())

	third, err := c.Token(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, second, third)
	assert.EqualValues(t, 2, exchanger.calls.Load())
}

func TestToken_MarginBoundaryIsStale(t *testing.T) {
	testhelpers.SetupLogger(t)

	clock := newFakeClock()
	exchanger := &countingExchanger{clock: clock, lifetime: time.Hour}
	c := credential.New(exchanger, newStore(t), credential.WithClock(clock.Now))

	_, err := c.Token(context.Background(), scope)
	require.NoError(t, err)

	// now + margin == expiresAt is not strictly before expiry
	clock.Advance(55 * time.Minute)

	_, err = c.Token(context.Background(), scope)
	require.NoError(t, err)
	assert.EqualValues(t, 2, exchanger.calls.Load())
}

func TestToken_ScopesAreIndependent(t *testing.T) {
	testhelpers.SetupLogger(t)

	clock := newFakeClock()
	exchanger := &countingExchanger{clock: clock, lifetime: time.Hour}
	c := credential.New(exchanger, newStore(t), credential.WithClock(clock.Now))

	a, err := c.Token(context.Background(), "scope-a")
	require.NoError(t, err)
	b, err := c.Token(context.Background(), "scope-b")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.EqualValues(t, 2, exchanger.calls.Load())
}

func TestToken_ExchangeErrorIsAuthFailure(t *testing.T) {
	testhelpers.SetupLogger(t)

	var calls int
	exchanger := credential.ExchangeFunc(func(ctx context.Context, scope string) (string, time.Time, error) {
		calls++
		return "", time.Time{}, errors.New("AADSTS7000215: invalid client secret")
	})
	c := credential.New(exchanger, newStore(t))

	_, err := c.Token(context.Background(), scope)
	require.Error(t, err)
	assert.Equal(t, failure.KindAuth, failure.KindOf(err))
	assert.ErrorContains(t, err, "AADSTS7000215")

	// no poisoning: the next call exchanges again
	_, err = c.Token(context.Background(), scope)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestToken_EmptyTokenIsAuthFailure(t *testing.T) {
	testhelpers.SetupLogger(t)

	exchanger := credential.ExchangeFunc(func(ctx context.Context, scope string) (string, time.Time, error) {
		return "", time.Now().Add(time.Hour), nil
	})
	c := credential.New(exchanger, newStore(t))

	_, err := c.Token(context.Background(), scope)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindAuth))
}

func TestToken_EmptyScopeIsInvalid(t *testing.T) {
	exchanger := credential.ExchangeFunc(func(ctx context.Context, scope string) (string, time.Time, error) {
		t.Fatal("exchange should not be called")
		return "", time.Time{}, nil
	})
	c := credential.New(exchanger, newStore(t))

	_, err := c.Token(context.Background(), "  ")
	assert.True(t, failure.Is(err, failure.KindInvalidInput))
}

func TestToken_ConcurrentCallersShareOneExchange(t *testing.T) {
	testhelpers.SetupLogger(t)

	release := make(chan struct{})
	var calls atomic.Int32
	exchanger := credential.ExchangeFunc(func(ctx context.Context, scope string) (string, time.Time, error) {
		calls.Add(1)
		<-release
		return "shared-token", time.Now().Add(time.Hour), nil
	})
	c := credential.New(exchanger, newStore(t))

	const callers = 10
	results := make(chan string, callers)
	var started sync.WaitGroup
	for range callers {
		started.Add(1)
		go func() {
			started.Done()
			token, err := c.Token(context.Background(), scope)
			assert.NoError(t, err)
			results <- token
		}()
	}
	started.Wait()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)

	for range callers {
		assert.Equal(t, "shared-token", <-results)
	}
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestToken_CallerCancellationDoesNotAbortSharedExchange(t *testing.T) {
	testhelpers.SetupLogger(t)

	release := make(chan struct{})
	exchanger := credential.ExchangeFunc(func(ctx context.Context, scope string) (string, time.Time, error) {
		select {
		case <-release:
			return "late-token", time.Now().Add(time.Hour), nil
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()
		}
	})
	c := credential.New(exchanger, newStore(t))

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := c.Token(ctx, scope)
		errs <- err
	}()

	cancel()
	err := <-errs
	assert.ErrorIs(t, err, context.Canceled)

	close(release)

	assert.Eventually(t, func() bool {
		token, err := c.Token(context.Background(), scope)
		return err == nil && token == "late-token"
	}, time.Second, 5*time.Millisecond)
}

func TestToken_ExchangeTimeout(t *testing.T) {
	testhelpers.SetupLogger(t)

	exchanger := credential.ExchangeFunc(func(ctx context.Context, scope string) (string, time.Time, error) {
		<-ctx.Done()
		return "", time.Time{}, ctx.Err()
	})
	c := credential.New(exchanger, newStore(t), credential.WithExchangeTimeout(10*time.Millisecond))

	_, err := c.Token(context.Background(), scope)
	assert.True(t, failure.Is(err, failure.KindAuth))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) (credential.CachedToken, bool, error) {
	return credential.CachedToken{}, false, errors.New("store unavailable")
}

func (brokenStore) Set(ctx context.Context, key string, token credential.CachedToken) error {
	return errors.New("store unavailable")
}

func (brokenStore) Invalidate(ctx context.Context, key string) error { return nil }
func (brokenStore) Close() error                                     { return nil }

func TestToken_StoreErrorsDegradeToExchange(t *testing.T) {
	testhelpers.SetupLogger(t)

	clock := newFakeClock()
	exchanger := &countingExchanger{clock: clock, lifetime: time.Hour}
	c := credential.New(exchanger, brokenStore{}, credential.WithClock(clock.Now))

	token, err := c.Token(context.Background(), scope)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = c.Token(context.Background(), scope)
	require.NoError(t, err)
	assert.EqualValues(t, 2, exchanger.calls.Load())
}

func TestExpiresAt(t *testing.T) {
	clock := newFakeClock()
	exchanger := &countingExchanger{clock: clock, lifetime: time.Hour}
	c := credential.New(exchanger, newStore(t), credential.WithClock(clock.Now))

	expiresAt, err := c.ExpiresAt(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), expiresAt)
}
