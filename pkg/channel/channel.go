// Package channel defines the redundancy-channel adapter contract the
// connection engine consumes (spec.md §6) and a registry for concrete
// transports: named registration at init time, then lookup by name,
// reshaped around the engine's non-blocking read/open/close/send
// verbs instead of a subscribe-callback model.
package channel

import (
	"errors"
	"fmt"
)

// ErrNoMessageReceived is returned by Read when no frame is queued.
// It is a recoverable condition, never logged as an error by callers.
var ErrNoMessageReceived = errors.New("channel: no message received")

// Channel is one redundancy channel, 1:1 with a connection_id.
// Implementations must make Read non-blocking and Send synchronous
// from the engine's point of view (spec.md §5).
//
// Open/Close are idempotent: opening an already-open channel or
// closing an already-closed one is a no-op, not an error - this
// mirrors the guard the original sradin_mock enforces so the engine
// does not need bookkeeping of its own across reconnect attempts.
type Channel interface {
	// Open establishes (or re-establishes) the channel's underlying
	// transport. Idempotent.
	Open() error

	// Close tears down the transport and discards queued frames.
	// Idempotent.
	Close() error

	// Send enqueues one frame of the given size. Synchronous: by the
	// time Send returns, the frame has been handed to the transport.
	Send(data []byte) error

	// Read dequeues the next available frame into buf and returns the
	// number of bytes written. Returns ErrNoMessageReceived, never
	// blocks, if nothing is queued. Any other error is fatal to the
	// caller per spec.md §4.4 step 1.
	Read(buf []byte) (n int, err error)
}

// NewFunc constructs a Channel for a given redundancy_channel_id.
type NewFunc func(channelID uint32) (Channel, error)

var registry = make(map[string]NewFunc)

// Register adds a named channel implementation, to be called from an
// init() function of the implementing package - see
// pkg/channel/memchannel. pkg/channel/udpchannel does not register
// itself; its channels are built directly with udpchannel.New.
func Register(name string, newChannel NewFunc) {
	registry[name] = newChannel
}

// New constructs a channel of the named, registered kind.
func New(name string, channelID uint32) (Channel, error) {
	newChannel, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("channel: unregistered transport %q", name)
	}
	return newChannel(channelID)
}
