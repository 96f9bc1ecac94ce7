/*
idempotency.go - idempotency-key and localId generation (spec §4.B).

Primary path uses github.com/google/uuid, which is backed by
crypto/rand and gives 122 bits of random entropy per RFC 4122 v4 (a
128-bit value of which 6 bits are fixed version/variant bits). The
fallback only triggers if the
OS entropy source itself is exhausted/unavailable, which uuid.NewRandom
surfaces as an error.
*/
package queue

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// NewIdempotencyKey returns a fresh, globally-unique key.
func NewIdempotencyKey() string {
	return newOpaqueToken("idem")
}

// NewLocalID returns a fresh, never-reused queue record identifier.
func NewLocalID() string {
	return newOpaqueToken("loc")
}

func newOpaqueToken(prefix string) string {
	if id, err := uuid.NewRandom(); err == nil {
		return prefix + "_" + id.String()
	}
	// Entropy source unavailable: fall back to a time+random composite.
	// Collision probability here is worse than UUIDv4 but the system is
	// presumably already in a degraded state if crypto/rand has failed.
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), rand.Int63())
}
