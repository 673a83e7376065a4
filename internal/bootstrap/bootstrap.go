// Package bootstrap assembles the itinerary pipeline from configuration. It is
// shared by the server and the planctl command so both run the same stack.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wayfarer/wayfarer/internal/cache"
	"github.com/wayfarer/wayfarer/internal/config"
	"github.com/wayfarer/wayfarer/internal/credential"
	"github.com/wayfarer/wayfarer/internal/generate"
	"github.com/wayfarer/wayfarer/internal/itinerary"
	"github.com/wayfarer/wayfarer/internal/retry"
)

const (
	// tokens outlive this; a memory eviction only forces an early refresh
	tokenCacheTTL  = 90 * time.Minute
	tokenCacheSize = 1_000
)

// Credentials returns a token cache backed by the Azure client-secret
// exchanger, or nil when no identity is configured.
func Credentials(ctx context.Context, cfg config.Config) (*credential.Cache, io.Closer, error) {
	if !cfg.Identity.Configured() {
		log.Info().Msg("identity not configured: outbound calls are unauthenticated")
		return nil, nil, nil
	}

	exchanger, err := credential.NewAzureExchanger(cfg.Identity.TenantID, cfg.Identity.ClientID, cfg.Identity.ClientSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("identity configuration failed: %w", err)
	}

	store, err := cache.NewFromConfig[credential.CachedToken](ctx, cfg.Cache, tokenCacheTTL, tokenCacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("token cache configuration failed: %w", err)
	}

	creds := credential.New(exchanger, store,
		credential.WithSafetyMargin(cfg.Identity.SafetyMargin),
		credential.WithExchangeTimeout(cfg.Identity.ExchangeTimeout),
	)

	return creds, store, nil
}

// Generator builds the model client selected by MODEL_PROVIDER. The returned
// closer is nil when the generator holds no resources.
func Generator(ctx context.Context, cfg config.ModelConfig, client *http.Client) (itinerary.Generator, io.Closer, error) {
	params := generate.Parameters{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}

	switch cfg.Provider {
	case "gemini":
		gen, err := generate.NewGemini(ctx, cfg.APIKey, cfg.Name, params)
		if err != nil {
			return nil, nil, err
		}
		return gen, gen, nil

	case "http":
		envelope, err := generate.EnvelopeFor(cfg.Envelope)
		if err != nil {
			return nil, nil, err
		}

		opts := []generate.HTTPOption{
			generate.WithParameters(params),
			generate.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		}
		if client != nil {
			opts = append(opts, generate.WithHTTPClient(client))
		}
		if cfg.APIKey != "" {
			opts = append(opts, generate.WithAPIKey(cfg.APIKeyHeader, cfg.APIKey))
		}

		return generate.NewHTTP(cfg.Endpoint, envelope, opts...), nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

// ItineraryClient wires the generator to the retry policy and, when a model
// scope is configured, to bearer authentication.
func ItineraryClient(cfg config.Config, gen itinerary.Generator, creds *credential.Cache) (*itinerary.Client, error) {
	opts := []itinerary.ClientOption{
		itinerary.WithRetryPolicy(retry.PolicyFromConfig("generate", cfg.Retry)),
	}

	if cfg.Model.Scope != "" {
		if creds == nil {
			return nil, fmt.Errorf("MODEL_SCOPE is set but no identity is configured")
		}
		opts = append(opts, itinerary.WithBearerAuth(creds, cfg.Model.Scope))
	}

	return itinerary.NewClient(gen, opts...), nil
}
