package srcor

import (
	"sync"

	"github.com/railsafe/gorasta/pkg/channel"
	"github.com/railsafe/gorasta/pkg/srdia"
	"github.com/railsafe/gorasta/pkg/srmsg"
	"github.com/railsafe/gorasta/pkg/srrece"
	"github.com/railsafe/gorasta/pkg/srsend"
)

// scratchSlot holds the decoded header and raw bytes of the most
// recent successfully-read message pending process_received_message,
// per spec.md §3's "Scratch input buffer".
type scratchSlot struct {
	present bool
	header  srmsg.Header
	raw     []byte
}

// Connection is one configured SR connection: its sequence/timestamp
// ledger, buffers, diagnostics and transport. Fields are guarded by mu
// since nothing in spec.md §5 forbids a host from driving different
// connections from different goroutines - only intra-connection
// ordering is the caller's responsibility, per the single-threaded-
// per-connection contract.
type Connection struct {
	mu           sync.Mutex
	engine       *Engine
	connectionID int
	senderID     uint32
	receiverID   uint32

	channel channel.Channel
	sendBuf *srsend.Buffer
	receBuf *srrece.Buffer
	diag    *srdia.Diagnostics

	// Sequence ledger (spec.md §3).
	snT, snR    uint32
	csT, csR    uint32
	csTLastSent uint32

	// Timestamps.
	tsT, tsR, ctsR uint32
	ti             uint32

	oppositeReceiveBufferSize uint32

	scratch scratchSlot

	pendingPayload      []byte
	receivedDataPending bool
	discReason          srmsg.DiscReason
	detailedDiscReason  uint16
}

// ConnectionID returns the connection's configured index.
func (c *Connection) ConnectionID() int { return c.connectionID }

// IsConnRoleServer reports whether this connection is the server
// side: sender_id > receiver_id, per spec.md §3.
func (c *Connection) IsConnRoleServer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isServerRoleLocked()
}

func (c *Connection) isServerRoleLocked() bool { return c.senderID > c.receiverID }
func (c *Connection) isClientRoleLocked() bool { return !c.isServerRoleLocked() }

// GetBufferSizeAndUtilisation reports the send buffer's used-entry
// count and the peer's announced receive-buffer size, per spec.md
// §4.4 Queries.
func (c *Connection) GetBufferSizeAndUtilisation() (utilisation int, oppositeSize uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendBuf.UsedEntries(), c.oppositeReceiveBufferSize
}

// GetReceivedMessagePendingFlag reports whether the adapter delivered
// something since the flag was last cleared.
func (c *Connection) GetReceivedMessagePendingFlag() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receivedDataPending
}

// SetReceivedMessagePendingFlag sets the pending flag.
// [Connection.ReceiveMessage] sets the same flag itself whenever the
// adapter successfully delivers a frame.
func (c *Connection) SetReceivedMessagePendingFlag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivedDataPending = true
}

// ClearInputBufferMessagePendingFlag clears the pending flag.
// [Connection.ReceiveMessage] clears the same flag itself when the
// adapter reports no message available.
func (c *Connection) ClearInputBufferMessagePendingFlag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivedDataPending = false
}

// IsReceivedMsgPendingAndBuffersNotFull implements spec.md §4.4's
// combined readiness query: pending flag set, at least one free
// receive-buffer slot, and at least three free send-buffer slots.
func (c *Connection) IsReceivedMsgPendingAndBuffersNotFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receivedDataPending && c.receBuf.FreeEntries() >= 1 && c.sendBuf.FreeEntries() >= 3
}

// Diagnostics exposes the connection's diagnostics tracker, e.g. for
// wiring a metrics exporter.
func (c *Connection) Diagnostics() *srdia.Diagnostics { return c.diag }

// ReceiveBuffer exposes the connection's receive buffer so the
// application can drain accepted DATA payloads.
func (c *Connection) ReceiveBuffer() *srrece.Buffer { return c.receBuf }
