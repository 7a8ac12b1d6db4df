package srcor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railsafe/gorasta"
	"github.com/railsafe/gorasta/pkg/channel/memchannel"
	"github.com/railsafe/gorasta/pkg/config"
	"github.com/railsafe/gorasta/pkg/notify"
	"github.com/railsafe/gorasta/pkg/srmsg"
)

// fakeAdapter is a deterministic, directly settable
// sysadapter.Adapter for tests: a hand-written in-process double
// rather than mocking-framework generation.
type fakeAdapter struct {
	now        uint32
	granular   uint32
	randomNext uint32
}

func (f *fakeAdapter) Now() uint32              { return f.now }
func (f *fakeAdapter) TimerGranularity() uint32 { return f.granular }
func (f *fakeAdapter) Random() uint32           { return f.randomNext }

func defaultTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.New(config.Config{
		NetworkID:                1,
		TMax:                     750,
		TH:                       300,
		SafetyCodeType:           srmsg.SafetyCodeLowerMd4,
		MWA:                      10,
		NSendMax:                 20,
		NMaxPacket:               1,
		NDiagWindow:              1000,
		MD4InitialValue:          [4]uint32{0x67452301, 0xEFCDAB89, 0x98BADCFE, 0x10325476},
		DiagTimingDistrIntervals: [4]uint32{100, 200, 300, 750},
		Connections: []config.ConnectionConfig{
			{Name: "peer", SenderID: 0x61, ReceiverID: 0x62, NetworkID: 1},
		},
	})
	require.NoError(t, err)
	return cfg
}

func newTestFatalRecorder() (gorasta.FatalSink, *[]*gorasta.FatalError) {
	var got []*gorasta.FatalError
	return func(err *gorasta.FatalError) { got = append(got, err) }, &got
}

// TestClientOpenSeedsLedger exercises spec.md §8 scenario 1.
func TestClientOpenSeedsLedger(t *testing.T) {
	sys := &fakeAdapter{now: 1000, granular: 10, randomNext: 1234}
	fatal, got := newTestFatalRecorder()
	e := NewEngine(sys, fatal, nil, "mem")
	require.NoError(t, e.Init(defaultTestConfig(t)))

	conn, err := e.Connection(0)
	require.NoError(t, err)
	assert.False(t, conn.IsConnRoleServer(), "0x61 < 0x62 is the client role")

	require.NoError(t, e.InitConnectionData(conn))
	assert.Empty(t, *got)

	assert.Equal(t, uint32(1234), conn.snT)
	assert.Equal(t, uint32(0), conn.csT)
	assert.Equal(t, uint32(1000), conn.ctsR)
	assert.Equal(t, uint32(750), conn.ti)
}

// TestInitRejectsHandBuiltConfigOutOfRange exercises Init's own
// re-validation: a *config.Config assembled directly as a struct
// literal, bypassing config.New/LoadINI, is still rejected if it
// violates a spec.md §3 range domain.
func TestInitRejectsHandBuiltConfigOutOfRange(t *testing.T) {
	sys := &fakeAdapter{now: 1000, granular: 10, randomNext: 1234}
	fatal, got := newTestFatalRecorder()
	e := NewEngine(sys, fatal, nil, "mem")

	cfg := &config.Config{
		NetworkID: 1, TMax: 750, TH: 300, SafetyCodeType: srmsg.SafetyCodeLowerMd4,
		MWA: 0, NSendMax: 20, NMaxPacket: 1, NDiagWindow: 1000,
		DiagTimingDistrIntervals: [4]uint32{100, 200, 300, 750},
		Connections: []config.ConnectionConfig{
			{Name: "peer", SenderID: 0x61, ReceiverID: 0x62, NetworkID: 1},
		},
	}

	err := e.Init(cfg)
	assert.Error(t, err)
	require.Len(t, *got, 1)
	assert.Equal(t, gorasta.FatalInvalidConfiguration, (*got)[0].Code)
}

// wireUpPair builds two Engines/Connections sharing a loopback
// memchannel.Pair, with 0x61 as client and 0x62 as server - the
// default roles/IDs spec.md §8 uses throughout its scenarios.
func wireUpPair(t *testing.T) (client, server *Connection, sys *fakeAdapter) {
	t.Helper()
	sys = &fakeAdapter{now: 1000, granular: 0, randomNext: 1}
	fatal, got := newTestFatalRecorder()

	clientEngine := NewEngine(sys, fatal, nil, "mem")
	require.NoError(t, clientEngine.Init(defaultTestConfig(t)))
	client, err := clientEngine.Connection(0)
	require.NoError(t, err)

	serverCfg, err := config.New(config.Config{
		NetworkID: 1, TMax: 750, TH: 300, SafetyCodeType: srmsg.SafetyCodeLowerMd4,
		MWA: 10, NSendMax: 20, NMaxPacket: 1, NDiagWindow: 1000,
		MD4InitialValue:          [4]uint32{0x67452301, 0xEFCDAB89, 0x98BADCFE, 0x10325476},
		DiagTimingDistrIntervals: [4]uint32{100, 200, 300, 750},
		Connections: []config.ConnectionConfig{
			{Name: "peer", SenderID: 0x62, ReceiverID: 0x61, NetworkID: 1},
		},
	})
	require.NoError(t, err)
	serverEngine := NewEngine(sys, fatal, nil, "mem")
	require.NoError(t, serverEngine.Init(serverCfg))
	server, err = serverEngine.Connection(0)
	require.NoError(t, err)

	a, b := memchannel.Pair()
	client.channel = a
	server.channel = b
	require.NoError(t, a.Open())
	require.NoError(t, b.Open())
	client.snT = 100
	client.oppositeReceiveBufferSize = 20
	server.oppositeReceiveBufferSize = 20

	require.Empty(t, *got)
	return client, server, sys
}

// TestRetransmissionRenumbering exercises spec.md §8 scenario 4.
func TestRetransmissionRenumbering(t *testing.T) {
	client, _, _ := wireUpPair(t)

	for sn := uint32(100); sn <= 102; sn++ {
		h := srmsg.HeaderFields{SenderID: client.senderID, ReceiverID: client.receiverID, SequenceNumber: sn}
		msg, err := client.engine.codec.CreateDataMessage(h, []byte{byte(sn)})
		require.NoError(t, err)
		client.sendBuf.Add(msg, sn, false)
	}
	client.csR = 99
	client.snT = 103
	client.tsR = 500

	client.HandleRetrReq()

	assert.True(t, client.sendBuf.IsSequenceNumberInBuffer(103))
	assert.True(t, client.sendBuf.IsSequenceNumberInBuffer(104))
	assert.True(t, client.sendBuf.IsSequenceNumberInBuffer(105))
	assert.False(t, client.sendBuf.IsSequenceNumberInBuffer(100))
	assert.Equal(t, uint32(106), client.snT)
}

// TestHeartbeatInsertionOnWatermark exercises spec.md §8 scenario 5.
func TestHeartbeatInsertionOnWatermark(t *testing.T) {
	client, server, sys := wireUpPair(t)
	_ = server
	sys.now = 0
	client.ctsR = 0

	client.csTLastSent = 0
	for i := 0; i < 10; i++ {
		client.scratch = scratchSlot{
			present: true,
			header: srmsg.Header{
				MessageType:             srmsg.TypeData,
				SequenceNumber:          uint32(i + 1),
				ConfirmedSequenceNumber: 0,
				TimeStamp:               sys.now,
				ConfirmedTimeStamp:      client.ctsR,
			},
		}
		ok := client.ProcessReceivedMessage()
		require.True(t, ok)
	}

	assert.Equal(t, 1, client.sendBuf.UsedEntries(), "one heartbeat auto-enqueued by the watermark check")
}

// TestConnReqOrdering exercises spec.md §8 scenario 6.
func TestConnReqOrdering(t *testing.T) {
	client, _, _ := wireUpPair(t)
	client.ctsR = 777
	startSN := client.snT

	client.SendConnReqMessage()

	assert.Equal(t, uint32(0), client.ctsR)
	assert.Equal(t, startSN+1, client.snT)

	assert.Equal(t, 0, client.sendBuf.NumberOfMessagesToSend(), "ConnReq should have drained through send_pending_messages")
}

func TestDiscReqFlushesSendBufferAndNotifiesDiagnostics(t *testing.T) {
	client, _, _ := wireUpPair(t)
	sink := &recordingSink{}
	client.engine.sink = sink
	client.sendBuf.Add([]byte("pending"), client.snT, false)
	require.Equal(t, 1, client.sendBuf.UsedEntries())

	err := client.SendDiscReqMessage(7, srmsg.DiscReasonUserRequest)
	require.NoError(t, err)

	assert.Equal(t, 0, client.sendBuf.UsedEntries())
	assert.Len(t, sink.diags, 1)
}

// recordingSink is a notify.Sink test double recording every event it
// receives, in order.
type recordingSink struct {
	states []notify.ConnectionStateEvent
	diags  []notify.DiagnosticEvent
}

func (r *recordingSink) ConnectionStateNotification(e notify.ConnectionStateEvent) {
	r.states = append(r.states, e)
}

func (r *recordingSink) DiagnosticNotification(e notify.DiagnosticEvent) {
	r.diags = append(r.diags, e)
}

// TestDiscReqEmitsConnectionStateNotification exercises spec.md §6's
// connection_state_notification on disconnect: SendDiscReqMessage must
// report the transition to StateClosed along with buffer utilisation
// and the disconnect reason it was called with.
func TestDiscReqEmitsConnectionStateNotification(t *testing.T) {
	sys := &fakeAdapter{now: 1000, granular: 0, randomNext: 1}
	fatal, _ := newTestFatalRecorder()
	sink := &recordingSink{}

	e := NewEngine(sys, fatal, sink, "mem")
	require.NoError(t, e.Init(defaultTestConfig(t)))
	conn, err := e.Connection(0)
	require.NoError(t, err)

	// Set up the channel directly rather than through
	// InitConnectionData, to avoid touching the "mem" registry that
	// other tests' connections (also connection_id 0) share.
	conn.channel = memchannel.New()
	require.NoError(t, conn.channel.Open())
	conn.oppositeReceiveBufferSize = 20

	conn.sendBuf.Add([]byte("pending"), conn.snT, false)

	require.NoError(t, conn.SendDiscReqMessage(42, srmsg.DiscReasonProtocolTimeout))

	require.Len(t, sink.states, 1)
	got := sink.states[0]
	assert.Equal(t, notify.StateClosed, got.Current)
	assert.Equal(t, notify.StateUp, got.Previous)
	assert.Equal(t, 1, got.Utilisation)
	assert.Equal(t, srmsg.DiscReasonProtocolTimeout, got.DiscReason)
	assert.Equal(t, uint16(42), got.DetailedDiscReason)
}

func TestCSRNeverOutrunsSNTMinusOne(t *testing.T) {
	client, _, _ := wireUpPair(t)
	assert.True(t, client.snT-client.csR >= 1)
}

// TestSNRCBoundaryAcceptsAndRejects exercises spec.md §8's SNRC
// boundary property: a DATA at SN_R + 10*n_send_max is accepted;
// SN_R + 10*n_send_max + 1 is rejected.
func TestSNRCBoundaryAcceptsAndRejects(t *testing.T) {
	client, server, _ := wireUpPair(t)

	codec := client.engine.codec
	limit := server.snR + 10*server.engine.cfg.NSendMax

	send := func(sn uint32) Event {
		h := srmsg.HeaderFields{SenderID: client.senderID, ReceiverID: client.receiverID, SequenceNumber: sn, ConfirmedTimeStamp: server.ctsR}
		msg, err := codec.CreateDataMessage(h, []byte{1})
		require.NoError(t, err)
		require.NoError(t, client.channel.Send(msg))
		event, _, _ := server.ReceiveMessage()
		return event
	}

	assert.Equal(t, EventDataReceived, send(limit), "at the boundary, accepted")
	assert.Equal(t, EventNone, send(limit+1), "past the boundary, dropped")
}
