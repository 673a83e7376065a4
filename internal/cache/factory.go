package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
	"github.com/wayfarer/wayfarer/internal/config"
	"github.com/wayfarer/wayfarer/internal/encryption"
)

const keyPrefix = "wayfarer:"

// NewFromConfig creates a cache implementation based on the provided configuration.
//
// The cache type must be either "memory" or "redis". Any other value returns an error.
// For "redis", cacheConfig.Redis.Address must be provided and the server must
// answer a PING before the cache is returned. When an encryption keyset file is
// configured, values are sealed with a keyset that is reloaded on the
// configured interval.
func NewFromConfig[T any](
	ctx context.Context,
	cacheConfig config.CacheConfig,
	ttl time.Duration,
	maxMemorySize int,
) (TokenCache[T], error) {
	switch cacheConfig.Type {
	case "redis":
		log.Info().
			Str("cache_type", "redis").
			Str("address", cacheConfig.Redis.Address).
			Bool("tls", cacheConfig.Redis.TLS).
			Msg("initializing distributed cache")

		if cacheConfig.Redis.Address == "" {
			return nil, fmt.Errorf("redis address is required when cache type is redis")
		}

		opts := &redis.Options{
			Addr:     cacheConfig.Redis.Address,
			Username: cacheConfig.Redis.Username,
			Password: cacheConfig.Redis.Password,
		}
		if cacheConfig.Redis.TLS {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		var aead tink.AEAD
		if cacheConfig.Encryption.Enabled() {
			refreshable, err := encryption.NewRefreshableAEADFromFile(ctx, cacheConfig.Encryption.KeysetFile, cacheConfig.Encryption.RefreshInterval)
			if err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("failed to load cache encryption keyset: %w", err)
			}
			aead = refreshable

			log.Info().
				Str("keyset_file", cacheConfig.Encryption.KeysetFile).
				Dur("refresh_interval", cacheConfig.Encryption.RefreshInterval).
				Msg("distributed cache encryption enabled")
		}

		return newDistributedFromClient[T](client, ttl, aead)

	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Msg("initializing in-memory cache")

		memory, err := NewMemory[T](ttl, maxMemorySize)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}

		return NewInstrumented(memory, "memory"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be either \"memory\" or \"redis\"", cacheConfig.Type)
	}
}

// newDistributedFromClient takes ownership of client and aead (which may be
// nil): on failure both are released.
func newDistributedFromClient[T any](client redis.UniversalClient, ttl time.Duration, aead tink.AEAD) (TokenCache[T], error) {
	var opts []DistributedOption
	if aead != nil {
		opts = append(opts, WithAEAD(aead))
	}

	distributed, err := NewDistributed[T](client, ttl, keyPrefix, opts...)
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		if closer, ok := aead.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("failed to create distributed cache: %w", err)
	}

	return NewInstrumented(distributed, "distributed"), nil
}
