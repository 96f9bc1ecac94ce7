package sync

import "time"

// MaxDelay is the 5-minute backoff ceiling from spec §4.E.
const MaxDelay = 300_000 * time.Millisecond

// NextDelay computes the capped exponential backoff for a record that
// has failed attempts times: min(300000, 2^attempts * 1000) ms. This
// is the persisted, cross-restart formula — distinct from the
// in-process retry inside Engine.send, and must never be replaced by a
// ticker-based or library-driven equivalent since it has to survive
// process restarts via nextAttemptAt.
func NextDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return 1000 * time.Millisecond
	}
	if attempts >= 9 {
		// 2^9 * 1000ms = 512000ms already exceeds the 300000ms cap;
		// avoid overflowing the shift for large attempt counts.
		return MaxDelay
	}
	delay := time.Duration(1<<uint(attempts)) * 1000 * time.Millisecond
	if delay > MaxDelay {
		return MaxDelay
	}
	return delay
}
