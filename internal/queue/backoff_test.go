package queue

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_ExponentialSchedule(t *testing.T) {
	t.Parallel()

	base := time.Second
	max := 60 * time.Second
	rng := rand.New(rand.NewSource(1))

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second,
	}
	for attempt := 1; attempt <= len(want); attempt++ {
		for i := 0; i < 50; i++ {
			d := backoff(base, max, attempt, rng)
			require.GreaterOrEqualf(t, d, want[attempt-1], "attempt %d", attempt)
			require.LessOrEqualf(t, d, want[attempt-1]+base, "attempt %d", attempt)
		}
	}
}

func TestBackoff_Capped(t *testing.T) {
	t.Parallel()

	base := time.Second
	max := 60 * time.Second
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		d := backoff(base, max, 30, rng)
		require.GreaterOrEqual(t, d, max)
		require.LessOrEqual(t, d, max+base)
	}
}

func TestBackoff_AttemptFloor(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	d := backoff(time.Second, time.Minute, 0, rng)
	require.GreaterOrEqual(t, d, time.Second)
	require.LessOrEqual(t, d, 2*time.Second)
}
