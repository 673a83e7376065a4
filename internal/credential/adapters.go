package credential

import (
	"context"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
)

// TokenSource exposes the cached token for a scope as an oauth2.TokenSource
// so it can drive an oauth2.Transport.
func (c *Cache) TokenSource(ctx context.Context, scope string) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, cache: c, scope: scope}
}

type tokenSource struct {
	ctx   context.Context
	cache *Cache
	scope string
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	entry, err := s.cache.entry(s.ctx, s.scope)
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken: entry.Value,
		TokenType:   "Bearer",
		Expiry:      entry.ExpiresAt,
	}, nil
}

// Credential adapts the cache to azcore.TokenCredential so SDK clients share
// cached tokens rather than performing their own exchanges. Multiple requested
// scopes are joined into a single cache key.
func (c *Cache) Credential() azcore.TokenCredential {
	return azureCredential{cache: c}
}

type azureCredential struct {
	cache *Cache
}

func (a azureCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	entry, err := a.cache.entry(ctx, strings.Join(options.Scopes, " "))
	if err != nil {
		return azcore.AccessToken{}, err
	}

	return azcore.AccessToken{
		Token:     entry.Value,
		ExpiresOn: entry.ExpiresAt,
	}, nil
}
