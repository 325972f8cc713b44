package dispatcher

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeBackoffGrowsExponentiallyUntilCapped(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	base := 60 * time.Second
	max := time.Hour

	d0 := ComputeBackoff(0, base, max, 0, rnd)
	d1 := ComputeBackoff(1, base, max, 0, rnd)
	d2 := ComputeBackoff(2, base, max, 0, rnd)

	assert.Equal(t, base, d0)
	assert.Equal(t, 2*base, d1)
	assert.Equal(t, 4*base, d2)
}

func TestComputeBackoffNeverExceedsMax(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	base := 60 * time.Second
	max := 10 * time.Minute

	d := ComputeBackoff(20, base, max, 0, rnd)
	assert.LessOrEqual(t, d, max)
}

func TestComputeBackoffNeverDropsBelowFloor(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	base := 60 * time.Second
	max := time.Hour

	for i := 0; i < 100; i++ {
		d := ComputeBackoff(0, base, max, 0.9, rnd)
		assert.GreaterOrEqual(t, d, base/2)
	}
}

func TestComputeBackoffJitterStaysWithinBounds(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	base := 60 * time.Second
	max := time.Hour

	for i := 0; i < 100; i++ {
		d := ComputeBackoff(3, base, max, 0.1, rnd)
		unscaled := 8 * base // 2^3
		assert.InDelta(t, float64(unscaled), float64(d), float64(unscaled)*0.15)
	}
}
