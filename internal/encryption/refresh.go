package encryption

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// DefaultRefreshInterval is how often the keyset file is re-read.
const DefaultRefreshInterval = 15 * time.Minute

type aeadLoader func(ctx context.Context) (tink.AEAD, error)

// RefreshableAEAD is a tink.AEAD whose keyset is reloaded on an interval, so a
// rotated keyset file takes effect without a restart. A failed reload keeps
// the current keyset.
type RefreshableAEAD struct {
	source string
	load   aeadLoader

	mu      sync.RWMutex
	current tink.AEAD

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewRefreshableAEADFromFile loads the keyset at path and then re-reads it
// every interval until Close is called. A non-positive interval uses
// DefaultRefreshInterval.
func NewRefreshableAEADFromFile(ctx context.Context, path string, interval time.Duration) (*RefreshableAEAD, error) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	return newRefreshableAEAD(ctx, path, func(context.Context) (tink.AEAD, error) {
		return LoadKeysetFile(path)
	}, interval)
}

func newRefreshableAEAD(ctx context.Context, source string, load aeadLoader, interval time.Duration) (*RefreshableAEAD, error) {
	initial, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading initial AEAD from %s: %w", source, err)
	}

	r := &RefreshableAEAD{
		source:  source,
		load:    load,
		current: initial,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	// only Close ends the loop; the startup context is usually short-lived
	go r.run(context.WithoutCancel(ctx), interval)

	return r, nil
}

func (r *RefreshableAEAD) active() tink.AEAD {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *RefreshableAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	return r.active().Encrypt(plaintext, associatedData)
}

func (r *RefreshableAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	return r.active().Decrypt(ciphertext, associatedData)
}

// Close stops reloading and waits for the reload goroutine to exit. Repeated
// calls are no-ops.
func (r *RefreshableAEAD) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.stopped
	return nil
}

func (r *RefreshableAEAD) run(ctx context.Context, interval time.Duration) {
	defer close(r.stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reload(ctx)
		}
	}
}

func (r *RefreshableAEAD) reload(ctx context.Context) {
	next, err := r.load(ctx)
	if err != nil {
		log.Warn().
			Err(err).
			Str("keyset", r.source).
			Msg("keyset reload failed, keeping current keyset")
		return
	}

	r.mu.Lock()
	r.current = next
	r.mu.Unlock()

	log.Debug().Str("keyset", r.source).Msg("keyset reloaded")
}
