// Package srcor implements the RaSTA SR connection engine: per-
// connection sequence/timestamp ledger, the receive and transmission
// pipelines, retransmission renumbering, and the fatal-vs-recoverable
// error contract described in spec.md §4.4. Structured as one
// long-lived struct per peer holding its own buffers and transport,
// driven by an external tick loop - the SR layer's own state machine
// lives one level up from this package (spec.md §4.4 "State machine").
package srcor

import (
	"sync"

	"github.com/railsafe/gorasta"
	"github.com/railsafe/gorasta/pkg/channel"
	"github.com/railsafe/gorasta/pkg/config"
	"github.com/railsafe/gorasta/pkg/notify"
	"github.com/railsafe/gorasta/pkg/srdia"
	"github.com/railsafe/gorasta/pkg/srmsg"
	"github.com/railsafe/gorasta/pkg/srrece"
	"github.com/railsafe/gorasta/pkg/srsend"
	"github.com/railsafe/gorasta/pkg/sysadapter"
)

// Event is emitted by [Connection.ReceiveMessage] on a successfully
// accepted PDU, or EventNone when nothing was ready.
type Event int

const (
	EventNone Event = iota
	EventConnReqReceived
	EventConnRespReceived
	EventRetrReqReceived
	EventRetrRespReceived
	EventDiscReqReceived
	EventHbReceived
	EventDataReceived
	EventRetrDataReceived
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "None"
	case EventConnReqReceived:
		return "ConnReqReceived"
	case EventConnRespReceived:
		return "ConnRespReceived"
	case EventRetrReqReceived:
		return "RetrReqReceived"
	case EventRetrRespReceived:
		return "RetrRespReceived"
	case EventDiscReqReceived:
		return "DiscReqReceived"
	case EventHbReceived:
		return "HbReceived"
	case EventDataReceived:
		return "DataReceived"
	case EventRetrDataReceived:
		return "RetrDataReceived"
	default:
		return "Unknown"
	}
}

func eventForType(t srmsg.MessageType) Event {
	switch t {
	case srmsg.TypeConnReq:
		return EventConnReqReceived
	case srmsg.TypeConnResp:
		return EventConnRespReceived
	case srmsg.TypeRetrReq:
		return EventRetrReqReceived
	case srmsg.TypeRetrResp:
		return EventRetrRespReceived
	case srmsg.TypeDiscReq:
		return EventDiscReqReceived
	case srmsg.TypeHeartbeat:
		return EventHbReceived
	case srmsg.TypeData:
		return EventDataReceived
	case srmsg.TypeRetrData:
		return EventRetrDataReceived
	default:
		return EventNone
	}
}

// Engine owns every configured connection and the collaborators each
// one shares: the codec (stateless modulo its safety-code mode), the
// system adapter, and the fatal/notification sinks. Per spec.md §9's
// design note, connection_id indexing becomes direct struct
// composition here - each [Connection] is a standalone Go value, not
// a slot in a shared array, which is the idiomatic translation for a
// language with real references instead of a C-style handle table.
type Engine struct {
	mu          sync.Mutex
	initialized bool

	cfg         *config.Config
	codec       *srmsg.Codec
	sys         sysadapter.Adapter
	fatal       gorasta.FatalSink
	sink        notify.Sink
	channelKind string

	connections []*Connection
}

// NewEngine constructs an uninitialized Engine. channelKind names a
// transport registered with pkg/channel (e.g. "mem"); sys and
// fatal must be non-nil. sink may be nil, in which case notifications
// are silently discarded.
func NewEngine(sys sysadapter.Adapter, fatal gorasta.FatalSink, sink notify.Sink, channelKind string) *Engine {
	if sink == nil {
		sink = notify.MultiSink{}
	}
	return &Engine{sys: sys, fatal: fatal, sink: sink, channelKind: channelKind}
}

func (e *Engine) raiseFatal(code gorasta.FatalCode, format string, args ...any) {
	e.fatal(gorasta.NewFatal(code, format, args...))
}

// Init validates cfg, builds the shared codec and diagnostics
// machinery, and allocates (but does not open) one Connection per
// configured entry. A second call raises FatalAlreadyInitialized -
// spec.md §4.4 describes init as "idempotent-hostile". cfg need not
// have come from config.New/LoadINI - Init re-validates it itself, so
// a hand-built config.Config literal is rejected the same as a
// malformed ini file would be.
func (e *Engine) Init(cfg *config.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fatal == nil {
		return gorasta.NewFatal(gorasta.FatalInvalidConfiguration, "srcor: nil fatal sink")
	}
	if e.initialized {
		e.raiseFatal(gorasta.FatalAlreadyInitialized, "srcor: Init called twice")
		return gorasta.NewFatal(gorasta.FatalAlreadyInitialized, "srcor: Init called twice")
	}
	if cfg == nil {
		e.raiseFatal(gorasta.FatalInvalidConfiguration, "srcor: nil config")
		return gorasta.NewFatal(gorasta.FatalInvalidConfiguration, "srcor: nil config")
	}
	if err := cfg.Validate(); err != nil {
		e.raiseFatal(gorasta.FatalInvalidConfiguration, "srcor: %v", err)
		return gorasta.NewFatal(gorasta.FatalInvalidConfiguration, "srcor: %v", err)
	}

	salt := [4]uint32(cfg.MD4InitialValue)
	e.codec = srmsg.New(cfg.SafetyCodeType, salt)
	e.cfg = cfg

	e.connections = make([]*Connection, len(cfg.Connections))
	for i, cc := range cfg.Connections {
		i := i
		diag := srdia.New(cfg.NDiagWindow, cfg.DiagTimingDistrIntervals, func(snap srdia.Snapshot) {
			e.sink.DiagnosticNotification(notify.DiagnosticEvent{ConnectionID: i, Snapshot: snap})
		})
		e.connections[i] = &Connection{
			engine:       e,
			connectionID: i,
			senderID:     cc.SenderID,
			receiverID:   cc.ReceiverID,
			sendBuf:      srsend.New(int(cfg.NSendMax), e.codec, nil),
			receBuf:      srrece.New(int(cfg.NSendMax)),
			diag:         diag,
		}
	}

	e.initialized = true
	return nil
}

// Connection returns the connectionID-th connection, or a
// FatalInvalidParameter if the index is out of range.
func (e *Engine) Connection(connectionID int) (*Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		e.raiseFatal(gorasta.FatalNotInitialized, "srcor: Connection called before Init")
		return nil, gorasta.NewFatal(gorasta.FatalNotInitialized, "srcor: Connection called before Init")
	}
	if connectionID < 0 || connectionID >= len(e.connections) {
		e.raiseFatal(gorasta.FatalInvalidParameter, "srcor: connection_id %d out of range", connectionID)
		return nil, gorasta.NewFatal(gorasta.FatalInvalidParameter, "srcor: connection_id %d out of range", connectionID)
	}
	return e.connections[connectionID], nil
}

// GetConnectionID performs the linear search over configured
// connections described in spec.md §4.4 Queries.
func (e *Engine) GetConnectionID(senderID, receiverID uint32) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, conn := range e.connections {
		if conn.senderID == senderID && conn.receiverID == receiverID {
			return i, nil
		}
	}
	e.raiseFatal(gorasta.FatalInvalidParameter, "srcor: no connection for sender=%d receiver=%d", senderID, receiverID)
	return 0, gorasta.NewFatal(gorasta.FatalInvalidParameter, "srcor: no connection for sender=%d receiver=%d", senderID, receiverID)
}

// InitConnectionData opens conn's redundancy channel, seeds SN_T from
// the random source, and sets t_i = t_max; in the client role it
// additionally zeros CS_T and sets CTS_R = now (spec.md §3 invariants,
// §4.4 Initialization).
func (e *Engine) InitConnectionData(conn *Connection) error {
	e.mu.Lock()
	cfg := e.cfg
	channelKind := e.channelKind
	e.mu.Unlock()
	if cfg == nil {
		e.raiseFatal(gorasta.FatalNotInitialized, "srcor: InitConnectionData before Init")
		return gorasta.NewFatal(gorasta.FatalNotInitialized, "srcor: InitConnectionData before Init")
	}

	ch, err := channel.New(channelKind, uint32(conn.connectionID))
	if err != nil {
		e.raiseFatal(gorasta.FatalInvalidConfiguration, "srcor: opening channel: %v", err)
		return gorasta.NewFatal(gorasta.FatalInvalidConfiguration, "srcor: opening channel: %v", err)
	}
	if err := ch.Open(); err != nil {
		e.raiseFatal(gorasta.FatalInternalError, "srcor: channel.Open: %v", err)
		return gorasta.NewFatal(gorasta.FatalInternalError, "srcor: channel.Open: %v", err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.channel = ch
	conn.snT = e.sys.Random()
	conn.ti = cfg.TMax
	conn.oppositeReceiveBufferSize = cfg.NSendMax
	if conn.isClientRoleLocked() {
		conn.csT = 0
		conn.ctsR = e.sys.Now()
	}
	return nil
}
