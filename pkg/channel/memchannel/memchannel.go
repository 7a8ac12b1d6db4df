// Package memchannel implements an in-process loopback redundancy
// channel for tests, backed by a plain Go slice queue since no real
// transport is needed in-process.
package memchannel

import (
	"sync"

	"github.com/railsafe/gorasta/pkg/channel"
)

func init() {
	channel.Register("mem", func(channelID uint32) (channel.Channel, error) {
		return registryJoin(channelID), nil
	})
}

var (
	registryMu      sync.Mutex
	registryPending = make(map[uint32]*Channel)
)

// registryJoin implements the pairing half of the "mem" registry
// entry: the first caller for a given channelID parks a fresh Channel
// awaiting its peer; the second caller for that same channelID links
// the two and clears the pending entry. This lets two engines each
// call channel.New("mem", id) with the same redundancy_channel_id -
// the normal case when a demo's client and server engines both index
// their own connection list from 0 - and end up wired together
// without either side reaching into the other's internals.
func registryJoin(channelID uint32) *Channel {
	registryMu.Lock()
	defer registryMu.Unlock()
	if pending, ok := registryPending[channelID]; ok {
		delete(registryPending, channelID)
		c := New()
		c.peer = pending
		pending.peer = c
		return c
	}
	c := New()
	registryPending[channelID] = c
	return c
}

// Pair returns two connected [Channel] endpoints: frames sent on one
// are delivered to the other, and vice-versa. Used to drive a pair of
// SR connections against each other in tests without a real network.
func Pair() (a, b *Channel) {
	a = New()
	b = New()
	a.peer, b.peer = b, a
	return a, b
}

// Channel is a loopback [channel.Channel] backed by an unbounded slice
// queue. Safe for concurrent use.
type Channel struct {
	mu    sync.Mutex
	open  bool
	queue [][]byte
	peer  *Channel
}

// New returns a standalone channel with no peer; frames sent to it are
// dropped. Use [Pair] for a connected pair.
func New() *Channel {
	return &Channel{}
}

func (c *Channel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.queue = nil
	return nil
}

func (c *Channel) Send(data []byte) error {
	if c.peer == nil {
		return nil
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	c.peer.mu.Lock()
	defer c.peer.mu.Unlock()
	if !c.peer.open {
		return nil
	}
	c.peer.queue = append(c.peer.queue, frame)
	return nil
}

func (c *Channel) Read(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return 0, channel.ErrNoMessageReceived
	}
	frame := c.queue[0]
	c.queue = c.queue[1:]
	n := copy(buf, frame)
	return n, nil
}
