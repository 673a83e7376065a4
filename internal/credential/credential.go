// Package credential caches bearer tokens obtained from an identity provider,
// one per scope, refreshing them before they come within a safety margin of
// expiry.
package credential

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wayfarer/wayfarer/internal/cache"
	"github.com/wayfarer/wayfarer/internal/failure"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSafetyMargin    = 5 * time.Minute
	DefaultExchangeTimeout = 30 * time.Second
)

// CachedToken is the stored form of a credential. Entries are always replaced
// whole so that Value and ExpiresAt are never observed out of step.
type CachedToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
	Scope     string    `json:"scope"`
}

// Expiry lets the token store drop entries once the credential is no longer
// valid.
func (t CachedToken) Expiry() time.Time {
	return t.ExpiresAt
}

// Exchanger performs a credential exchange with the identity provider for a
// single scope.
type Exchanger interface {
	Exchange(ctx context.Context, scope string) (token string, expiresAt time.Time, err error)
}

// ExchangeFunc adapts a function to the Exchanger interface.
type ExchangeFunc func(ctx context.Context, scope string) (string, time.Time, error)

func (f ExchangeFunc) Exchange(ctx context.Context, scope string) (string, time.Time, error) {
	return f(ctx, scope)
}

// Cache returns bearer tokens for a scope, exchanging new ones only when the
// stored token is missing or within SafetyMargin of expiry.
type Cache struct {
	exchanger       Exchanger
	store           cache.TokenCache[CachedToken]
	group           singleflight.Group
	safetyMargin    time.Duration
	exchangeTimeout time.Duration
	now             func() time.Time
}

type Option func(*Cache)

func WithSafetyMargin(margin time.Duration) Option {
	return func(c *Cache) {
		c.safetyMargin = margin
	}
}

// WithExchangeTimeout bounds a single exchange. The exchange is shared by all
// concurrent callers for a scope, so it is not tied to any one caller's context.
func WithExchangeTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		c.exchangeTimeout = timeout
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func New(exchanger Exchanger, store cache.TokenCache[CachedToken], opts ...Option) *Cache {
	c := &Cache{
		exchanger:       exchanger,
		store:           store,
		safetyMargin:    DefaultSafetyMargin,
		exchangeTimeout: DefaultExchangeTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a bearer token for scope. A failed or empty exchange is a
// failure.KindAuth error; nothing is cached in that case, so the next call
// tries again.
func (c *Cache) Token(ctx context.Context, scope string) (string, error) {
	entry, err := c.entry(ctx, scope)
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// ExpiresAt reports when the token currently served for scope expires,
// refreshing it first if required.
func (c *Cache) ExpiresAt(ctx context.Context, scope string) (time.Time, error) {
	entry, err := c.entry(ctx, scope)
	if err != nil {
		return time.Time{}, err
	}
	return entry.ExpiresAt, nil
}

func (c *Cache) entry(ctx context.Context, scope string) (CachedToken, error) {
	if strings.TrimSpace(scope) == "" {
		return CachedToken{}, failure.New(failure.KindInvalidInput, "credential", "scope must not be empty")
	}

	if token, ok := c.lookup(ctx, scope); ok {
		return token, nil
	}

	ch := c.group.DoChan(scope, func() (any, error) {
		// another caller may have completed a refresh while this one waited
		if token, ok := c.lookup(ctx, scope); ok {
			return token, nil
		}
		return c.refresh(ctx, scope)
	})

	select {
	case <-ctx.Done():
		return CachedToken{}, failure.Wrap(failure.KindAuth, "credential", ctx.Err(), "cancelled awaiting token exchange")
	case res := <-ch:
		if res.Err != nil {
			return CachedToken{}, res.Err
		}
		return res.Val.(CachedToken), nil
	}
}

func (c *Cache) lookup(ctx context.Context, scope string) (CachedToken, bool) {
	token, found, err := c.store.Get(ctx, scope)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("scope", scope).Msg("credential store read failed; treating as miss")
		return CachedToken{}, false
	}
	if !found || !c.fresh(token) {
		return CachedToken{}, false
	}
	return token, true
}

func (c *Cache) fresh(token CachedToken) bool {
	return token.Value != "" && c.now().Add(c.safetyMargin).Before(token.ExpiresAt)
}

func (c *Cache) refresh(ctx context.Context, scope string) (CachedToken, error) {
	exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.exchangeTimeout)
	defer cancel()

	value, expiresAt, err := c.exchanger.Exchange(exchangeCtx, scope)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return CachedToken{}, failure.Wrap(failure.KindAuth, "credential", err, "token exchange timed out")
		}
		return CachedToken{}, failure.Wrap(failure.KindAuth, "credential", err, "token exchange failed")
	}
	if value == "" {
		return CachedToken{}, failure.New(failure.KindAuth, "credential", "identity provider returned an empty token for scope %q", scope)
	}

	token := CachedToken{
		Value:     value,
		ExpiresAt: expiresAt,
		Scope:     scope,
	}

	if !c.fresh(token) {
		log.Ctx(ctx).Warn().
			Str("scope", scope).
			Time("expires_at", expiresAt).
			Dur("safety_margin", c.safetyMargin).
			Msg("exchanged token expires within the safety margin; it will not be reused")
	}

	if err := c.store.Set(exchangeCtx, scope, token); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("scope", scope).Msg("credential store write failed")
	}

	log.Ctx(ctx).Debug().
		Str("scope", scope).
		Time("expires_at", expiresAt).
		Msg("credential refreshed")

	return token, nil
}
