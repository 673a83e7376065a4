package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DecorrelatedJitter is a backoff.BackOff whose nth delay (1-based) is drawn
// uniformly from [Base, Base*3^n), clipped to Cap. Each instance owns its own
// random source so concurrent retry loops do not synchronize.
type DecorrelatedJitter struct {
	Base time.Duration
	Cap  time.Duration

	attempt int
	rng     *rand.Rand
}

var _ backoff.BackOff = (*DecorrelatedJitter)(nil)

func NewDecorrelatedJitter(base, limit time.Duration) *DecorrelatedJitter {
	return &DecorrelatedJitter{
		Base: base,
		Cap:  limit,
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (d *DecorrelatedJitter) NextBackOff() time.Duration {
	d.attempt++

	upper := float64(d.Base) * math.Pow(3, float64(d.attempt))
	if d.Cap > 0 && upper > float64(d.Cap) {
		upper = float64(d.Cap)
	}

	delay := time.Duration(upper)
	if spread := upper - float64(d.Base); spread > 0 {
		delay = d.Base + time.Duration(d.rng.Float64()*spread)
	}

	if d.Cap > 0 && delay > d.Cap {
		delay = d.Cap
	}
	return delay
}

func (d *DecorrelatedJitter) Reset() {
	d.attempt = 0
}
