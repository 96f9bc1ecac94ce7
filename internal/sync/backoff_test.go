package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestNextDelayMatchesFormula checks NextDelay against the exact
// spec §4.E formula for attempts 0..40 (invariant 3).
func TestNextDelayMatchesFormula(t *testing.T) {
	for attempts := 0; attempts <= 40; attempts++ {
		got := NextDelay(attempts)
		want := expected(attempts)
		require.Equal(t, want, got, "attempts=%d", attempts)
	}
}

// TestCappedBackoffAt20Attempts covers spec §8 scenario S3.
func TestCappedBackoffAt20Attempts(t *testing.T) {
	require.Equal(t, MaxDelay, NextDelay(20))
}

func expected(attempts int) time.Duration {
	raw := float64(1)
	for i := 0; i < attempts; i++ {
		raw *= 2
		if raw*1000 >= 300_000 {
			return MaxDelay
		}
	}
	ms := raw * 1000
	if ms > 300_000 {
		ms = 300_000
	}
	return time.Duration(ms) * time.Millisecond
}
