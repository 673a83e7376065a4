package retry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecorrelatedJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	limit := 2 * time.Second

	for range 200 {
		j := NewDecorrelatedJitter(base, limit)
		for n := 1; n <= 6; n++ {
			delay := j.NextBackOff()
			upper := time.Duration(math.Min(float64(base)*math.Pow(3, float64(n)), float64(limit)))

			assert.GreaterOrEqual(t, delay, base, "attempt %d", n)
			assert.LessOrEqual(t, delay, upper, "attempt %d", n)
		}
	}
}

func TestDecorrelatedJitter_Reset(t *testing.T) {
	j := NewDecorrelatedJitter(10*time.Millisecond, time.Second)
	j.NextBackOff()
	j.NextBackOff()

	j.Reset()

	assert.LessOrEqual(t, j.NextBackOff(), 30*time.Millisecond)
}

func TestDecorrelatedJitter_IndependentSources(t *testing.T) {
	a := NewDecorrelatedJitter(time.Second, time.Hour)
	b := NewDecorrelatedJitter(time.Second, time.Hour)

	same := 0
	for range 5 {
		if a.NextBackOff() == b.NextBackOff() {
			same++
		}
	}
	assert.Less(t, same, 5)
}

func TestDecorrelatedJitter_MedianNonDecreasing(t *testing.T) {
	const samples = 2000
	base := 10 * time.Millisecond
	limit := time.Hour

	var previous float64
	for n := 1; n <= 4; n++ {
		var total float64
		for range samples {
			j := NewDecorrelatedJitter(base, limit)
			var d time.Duration
			for range n {
				d = j.NextBackOff()
			}
			total += float64(d)
		}
		mean := total / samples
		assert.Greater(t, mean, previous, "attempt %d", n)
		previous = mean
	}
}
