// Package sysadapter defines the system-adapter contract the SR core
// consumes for time and randomness, and a real implementation backed
// by the host clock. Terminal failures go through gorasta.FatalSink,
// which is configured separately.
package sysadapter

import (
	"math/rand"
	"sync"
	"time"
)

// Adapter is the external collaborator named in spec.md §6: wall
// clock in milliseconds, timer granularity, and a random source used
// to seed SN_T. The SR core never reads the
// system clock or PRNG directly - every timing and randomness
// decision is routed through here so tests can substitute a fake.
type Adapter interface {
	// Now returns the current time as a monotonic millisecond counter.
	// Wraps modulo 2^32; callers compare with "distance modulo" math.
	Now() uint32

	// TimerGranularity returns the adapter's clock resolution in
	// milliseconds, added to round-trip-delay computations so that a
	// delay that straddles a tick boundary is never under-counted.
	TimerGranularity() uint32

	// Random returns a new pseudo-random u32, used to seed SN_T on
	// init_connection_data.
	Random() uint32
}

// Real is a [Adapter] backed by time.Now() and math/rand. The epoch is
// fixed at construction time so Now() stays small and wrap-around
// behavior (relevant after ~49 days) can actually be exercised by
// letting a long-lived process run.
type Real struct {
	mu         sync.Mutex
	epoch      time.Time
	granularMs uint32
	rng        *rand.Rand
}

// NewReal builds a [Real] adapter with the given declared timer
// granularity and a PRNG seeded from the host clock.
func NewReal(granularityMs uint32) *Real {
	return &Real{
		epoch:      time.Now(),
		granularMs: granularityMs,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *Real) Now() uint32 {
	return uint32(time.Since(r.epoch).Milliseconds())
}

func (r *Real) TimerGranularity() uint32 {
	return r.granularMs
}

func (r *Real) Random() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Uint32()
}
