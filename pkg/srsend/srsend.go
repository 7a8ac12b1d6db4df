// Package srsend implements the per-connection send buffer: a bounded
// FIFO of prepared PDUs plus the retransmission-staging rewrite
// described in spec.md §4.2. Entries live in a slice in insertion
// order (appended on Add, filtered on Remove); each holds a structured
// entry - a prepared PDU plus restamp bookkeeping - rather than raw
// bytes, since srsend operates on whole messages, not a byte stream.
package srsend

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/railsafe/gorasta/pkg/srmsg"
)

// ErrNoMessageToSend is the recoverable return code for
// ReadMessageToSend when the buffer holds nothing unsent.
var ErrNoMessageToSend = errors.New("srsend: no message to send")

// entry is one buffered PDU.
type entry struct {
	data           []byte
	sequenceNumber uint32
	sent           bool
	needsRestamp   bool
}

// HeaderTemplate supplies the fields PrepareBufferForRetr rewrites
// into every renumbered entry.
type HeaderTemplate struct {
	SenderID           uint32
	ReceiverID         uint32
	SequenceNumber     uint32 // first SN assigned to the renumbered run
	ConfirmedTimeStamp uint32
}

// Buffer is one connection's send buffer: up to capacity prepared
// PDUs in FIFO order, tagged by sequence number.
type Buffer struct {
	mu       sync.Mutex
	logger   *slog.Logger
	codec    *srmsg.Codec
	capacity int
	entries  []*entry
}

// New returns an empty send buffer of the given capacity
// (n_send_max). codec is used only by PrepareBufferForRetr to rewrite
// header fields of buffered PDUs.
func New(capacity int, codec *srmsg.Codec, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{capacity: capacity, codec: codec, logger: logger}
}

// Init flushes the buffer, discarding all entries. Called on
// disconnect (spec.md §3 invariants).
func (b *Buffer) Init() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

// Add appends a prepared PDU. A full buffer is a programming error:
// callers must check FreeEntries first, per spec.md §4.2 - it panics
// rather than silently dropping, matching the fatal-on-invariant-
// violation contract the connection engine applies to this package.
func (b *Buffer) Add(msg []byte, sequenceNumber uint32, needsRestamp bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.capacity {
		b.logger.Error("send buffer full", "capacity", b.capacity, "sequence_number", sequenceNumber)
		panic(fmt.Sprintf("srsend: Add on full buffer (capacity %d)", b.capacity))
	}
	b.entries = append(b.entries, &entry{data: msg, sequenceNumber: sequenceNumber, needsRestamp: needsRestamp})
}

// ReadMessageToSend returns the next unsent PDU without removing it -
// the caller marks it sent once handed to the channel adapter via
// MarkSent. Returns ErrNoMessageToSend if every entry has been sent.
func (b *Buffer) ReadMessageToSend() ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if !e.sent {
			return e.data, e.needsRestamp, nil
		}
	}
	return nil, false, ErrNoMessageToSend
}

// MarkSent marks the next unsent entry as sent and clears its
// restamp flag, now that the engine has re-stamped and handed it to
// the adapter.
func (b *Buffer) MarkSent() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if !e.sent {
			e.sent = true
			e.needsRestamp = false
			return
		}
	}
}

// Remove drops every entry whose sequence number is <= upToCS -
// garbage-collecting messages the peer has acknowledged.
func (b *Buffer) Remove(upToCS uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.sequenceNumber > upToCS {
			kept = append(kept, e)
		}
	}
	b.entries = kept
}

// IsSequenceNumberInBuffer answers a peer RetrReq lookup.
func (b *Buffer) IsSequenceNumberInBuffer(sn uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.sequenceNumber == sn {
			return true
		}
	}
	return false
}

// PrepareBufferForRetr rewrites every entry with sequence_number >
// startCS so the sequence numbers are renumbered to start at
// template.SequenceNumber and ascend by 1; sender_id, receiver_id and
// confirmed_time_stamp are taken from template, and every rewritten
// entry is re-marked unsent and flagged for re-stamping at send time
// (time_stamp + confirmed_sequence_number + safety code, which
// PrepareBufferForRetr itself cannot know yet). Returns the last
// renumbered sequence number so the caller can advance SN_T.
func (b *Buffer) PrepareBufferForRetr(startCS uint32, template HeaderTemplate) (lastSN uint32, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lastSN = template.SequenceNumber
	found := false
	nextSN := template.SequenceNumber
	for _, e := range b.entries {
		if e.sequenceNumber <= startCS {
			continue
		}
		b.codec.RewriteForRetransmission(e.data, template.SenderID, template.ReceiverID, nextSN, template.ConfirmedTimeStamp)
		e.sequenceNumber = nextSN
		e.sent = false
		e.needsRestamp = true
		lastSN = nextSN
		nextSN++
		found = true
	}
	if found {
		b.logger.Info("send buffer renumbered for retransmission", "start_cs", startCS, "first_sn", template.SequenceNumber, "last_sn", lastSN)
	}
	return lastSN, found
}

// NumberOfMessagesToSend counts unsent entries.
func (b *Buffer) NumberOfMessagesToSend() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.entries {
		if !e.sent {
			n++
		}
	}
	return n
}

// UsedEntries counts unsent + unacknowledged (i.e. all buffered)
// entries.
func (b *Buffer) UsedEntries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// FreeEntries returns the remaining capacity.
func (b *Buffer) FreeEntries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity - len(b.entries)
}
