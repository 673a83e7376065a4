package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tink-crypto/tink-go/v2/tink"
)

const (
	// sealedPrefix marks values written through an AEAD.
	sealedPrefix = "wf-enc:"
	// sealedKeyPrefix separates sealed entries from plaintext ones written
	// before encryption was enabled.
	sealedKeyPrefix = "enc:"
)

// Distributed implements TokenCache on Redis so that replicas share cached
// tokens. Values are JSON-serialized and, when an AEAD is configured, sealed
// with the storage key as associated data so that a value cannot be replayed
// under another key.
// The generic type T represents the token type being cached.
type Distributed[T any] struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	aead   tink.AEAD
}

type DistributedOption func(*distributedOptions)

type distributedOptions struct {
	aead tink.AEAD
}

// WithAEAD seals cached values with a. If a implements io.Closer it is closed
// with the cache.
func WithAEAD(a tink.AEAD) DistributedOption {
	return func(o *distributedOptions) {
		o.aead = a
	}
}

// NewDistributed creates a new Redis-backed cache. The ttl parameter specifies
// how long entries remain in Redis; keys are namespaced with prefix.
func NewDistributed[T any](client redis.UniversalClient, ttl time.Duration, prefix string, opts ...DistributedOption) (*Distributed[T], error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}

	var o distributedOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.aead != nil {
		prefix += sealedKeyPrefix
	}

	return &Distributed[T]{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		aead:   o.aead,
	}, nil
}

func (d *Distributed[T]) storageKey(key string) string {
	return d.prefix + key
}

func (d *Distributed[T]) seal(data []byte, storageKey string) (string, error) {
	if d.aead == nil {
		return string(data), nil
	}

	ciphertext, err := d.aead.Encrypt(data, []byte(storageKey))
	if err != nil {
		return "", fmt.Errorf("encrypting value: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (d *Distributed[T]) open(value string, storageKey string) ([]byte, error) {
	if d.aead == nil {
		return []byte(value), nil
	}

	encoded, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return nil, errors.New("cached value is not sealed")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding sealed value: %w", err)
	}

	plaintext, err := d.aead.Decrypt(ciphertext, []byte(storageKey))
	if err != nil {
		return nil, fmt.Errorf("decrypting value: %w", err)
	}
	return plaintext, nil
}

// Get retrieves a token from the cache. A missing key is not an error.
func (d *Distributed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	storageKey := d.storageKey(key)

	value, err := d.client.Get(ctx, storageKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to get cached value: %w", err)
	}

	data, err := d.open(value, storageKey)
	if err != nil {
		// best effort: a value we cannot read is as good as absent
		_ = d.client.Del(ctx, storageKey).Err()
		return zero, false, fmt.Errorf("failed to open cached token: %w", err)
	}

	var token T
	if err := json.Unmarshal(data, &token); err != nil {
		_ = d.client.Del(ctx, storageKey).Err()
		return zero, false, fmt.Errorf("failed to unmarshal cached token: %w", err)
	}

	return token, true, nil
}

// Set stores a token with the configured TTL, shortened to the token's own
// expiry when it implements Expiring. An already expired token only removes
// the existing entry.
func (d *Distributed[T]) Set(ctx context.Context, key string, token T) error {
	ttl := lifetime(token, d.ttl, time.Now())
	if ttl <= 0 {
		// a zero TTL would store it forever
		return d.Invalidate(ctx, key)
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	storageKey := d.storageKey(key)

	value, err := d.seal(data, storageKey)
	if err != nil {
		return err
	}

	if err := d.client.Set(ctx, storageKey, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached value: %w", err)
	}
	return nil
}

// Invalidate removes a token from the cache.
func (d *Distributed[T]) Invalidate(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.storageKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached value: %w", err)
	}
	return nil
}

// Close releases the underlying client connections and the AEAD.
func (d *Distributed[T]) Close() error {
	err := d.client.Close()
	if closer, ok := d.aead.(io.Closer); ok {
		err = errors.Join(err, closer.Close())
	}
	return err
}
