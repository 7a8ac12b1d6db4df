package srcor

import (
	"github.com/railsafe/gorasta"
	"github.com/railsafe/gorasta/pkg/notify"
	"github.com/railsafe/gorasta/pkg/srmsg"
	"github.com/railsafe/gorasta/pkg/srsend"
)

func (c *Connection) headerFieldsLocked() srmsg.HeaderFields {
	return srmsg.HeaderFields{
		ReceiverID:         c.receiverID,
		SenderID:           c.senderID,
		SequenceNumber:     c.snT,
		ConfirmedTimeStamp: c.tsR,
	}
}

// enqueueLocked appends msg to the send buffer tagged with the
// current SN_T, then advances SN_T - the "enqueue, increment SN_T"
// half of the shared creator pattern in spec.md §4.4.
func (c *Connection) enqueueLocked(msg []byte) {
	c.sendBuf.Add(msg, c.snT, false)
	c.snT++
}

// ProcessReceivedMessage consumes the scratch slot staged by a prior
// ReceiveMessage call, applying the ledger mutation and diagnostics
// update described in spec.md §4.4. Returns false (without mutating
// SN_R/TS_R/CTS_R) if a time-relevant message's round-trip delay
// exceeds t_max.
func (c *Connection) ProcessReceivedMessage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.scratch.present {
		return true
	}
	h := c.scratch.header
	now := c.engine.sys.Now()

	var tRtd uint32
	if isTimeRelevant(h.MessageType) {
		tRtd = now + c.engine.sys.TimerGranularity() - h.ConfirmedTimeStamp
		if tRtd > c.engine.cfg.TMax {
			c.scratch = scratchSlot{}
			return false
		}
	}

	c.snR = h.SequenceNumber + 1
	c.csT = h.SequenceNumber
	c.tsR = h.TimeStamp

	switch {
	case h.MessageType == srmsg.TypeConnReq:
		c.ctsR = now
		c.csR = c.snT - 1
	case isTimeRelevant(h.MessageType):
		c.ctsR = h.ConfirmedTimeStamp
		c.csR = h.ConfirmedSequenceNumber
		c.ti = c.engine.cfg.TMax - tRtd
		c.diag.ObserveRoundTripDelay(tRtd)
	default:
		if h.ConfirmedSequenceNumber != c.csR {
			c.csR = h.ConfirmedSequenceNumber
			c.sendBuf.Remove(c.csR)
		}
	}

	switch h.MessageType {
	case srmsg.TypeHeartbeat, srmsg.TypeRetrResp, srmsg.TypeData, srmsg.TypeRetrData:
		if c.csT-c.csTLastSent >= c.engine.cfg.MWA && c.sendBuf.NumberOfMessagesToSend() == 0 {
			c.enqueueLocked(c.engine.codec.CreateHeartbeat(c.headerFieldsLocked()))
		}
		c.sendPendingMessagesLocked()
	}

	c.scratch = scratchSlot{}
	return true
}

// SendDataMessage constructs, buffers and attempts to flush a Data
// PDU carrying payload.
func (c *Connection) SendDataMessage(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, err := c.engine.codec.CreateDataMessage(c.headerFieldsLocked(), payload)
	if err != nil {
		c.engine.raiseFatal(gorasta.FatalInvalidParameter, "srcor: SendDataMessage on connection %d: %v", c.connectionID, err)
		return gorasta.NewFatal(gorasta.FatalInvalidParameter, "srcor: SendDataMessage on connection %d: %v", c.connectionID, err)
	}
	c.enqueueLocked(msg)
	c.sendPendingMessagesLocked()
	return nil
}

// SendConnReqMessage constructs a ConnReq announcing this engine's
// configured n_send_max and protocol version 03.03, resets CTS_R to
// 0 (spec.md §4.4 Transmission pipeline), and attempts to flush it.
func (c *Connection) SendConnReqMessage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := srmsg.ConnData{ProtocolVersion: srmsg.ProtocolVersion0303, NSendMax: uint16(c.engine.cfg.NSendMax)}
	msg := c.engine.codec.CreateConnReq(c.headerFieldsLocked(), data)
	c.enqueueLocked(msg)
	c.ctsR = 0
	c.sendPendingMessagesLocked()
}

// SendConnRespMessage constructs a ConnResp announcing this engine's
// configured n_send_max, and attempts to flush it.
func (c *Connection) SendConnRespMessage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := srmsg.ConnData{ProtocolVersion: srmsg.ProtocolVersion0303, NSendMax: uint16(c.engine.cfg.NSendMax)}
	msg := c.engine.codec.CreateConnResp(c.headerFieldsLocked(), data)
	c.enqueueLocked(msg)
	c.sendPendingMessagesLocked()
}

// SendRetrReqMessage constructs a RetrReq and attempts to flush it.
func (c *Connection) SendRetrReqMessage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.engine.codec.CreateRetrReq(c.headerFieldsLocked())
	c.enqueueLocked(msg)
	c.sendPendingMessagesLocked()
}

// SendHbMessage constructs a Heartbeat and attempts to flush it.
func (c *Connection) SendHbMessage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.engine.codec.CreateHeartbeat(c.headerFieldsLocked())
	c.enqueueLocked(msg)
	c.sendPendingMessagesLocked()
}

// SendDiscReqMessage constructs a DiscReq and sends it synchronously,
// bypassing the send buffer's flow-control gate entirely (spec.md
// §4.4: "the DiscReq itself goes out synchronously ... not via the
// pending queue"), then flushes the send buffer, closes the
// redundancy channel, and emits the connection_state_notification and
// diagnostic notification spec.md §6 requires on disconnect.
func (c *Connection) SendDiscReqMessage(detailedReason uint16, reason srmsg.DiscReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := c.engine.codec.CreateDiscReq(c.headerFieldsLocked(), srmsg.DiscData{DetailedReason: detailedReason, Reason: reason})
	c.snT++
	now := c.engine.sys.Now()
	c.engine.codec.UpdateMessageHeader(msg, now, c.csT)

	if err := c.channel.Send(msg); err != nil {
		c.engine.raiseFatal(gorasta.FatalInternalError, "srcor: sending DiscReq on connection %d: %v", c.connectionID, err)
		return gorasta.NewFatal(gorasta.FatalInternalError, "srcor: sending DiscReq on connection %d: %v", c.connectionID, err)
	}
	c.tsT = now
	c.csTLastSent = c.csT
	c.detailedDiscReason = detailedReason
	c.discReason = reason

	utilisation := c.sendBuf.UsedEntries()

	c.sendBuf.Init()
	if err := c.channel.Close(); err != nil {
		c.engine.raiseFatal(gorasta.FatalInternalError, "srcor: closing channel on connection %d: %v", c.connectionID, err)
		return gorasta.NewFatal(gorasta.FatalInternalError, "srcor: closing channel on connection %d: %v", c.connectionID, err)
	}

	c.engine.sink.ConnectionStateNotification(notify.ConnectionStateEvent{
		ConnectionID:       c.connectionID,
		Previous:           notify.StateUp,
		Current:            notify.StateClosed,
		Utilisation:        utilisation,
		OppositeBufferSize: c.oppositeReceiveBufferSize,
		DiscReason:         c.discReason,
		DetailedDiscReason: c.detailedDiscReason,
	})
	c.diag.Close()
	return nil
}

// SendPendingMessages flushes as many buffered-unsent PDUs as the
// peer's announced receive-buffer size currently allows.
func (c *Connection) SendPendingMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendPendingMessagesLocked()
}

func (c *Connection) sendPendingMessagesLocked() {
	for {
		used := c.sendBuf.UsedEntries()
		toSend := c.sendBuf.NumberOfMessagesToSend()
		if toSend == 0 || int(c.oppositeReceiveBufferSize) <= used-toSend {
			return
		}

		msg, _, err := c.sendBuf.ReadMessageToSend()
		if err == srsend.ErrNoMessageToSend {
			c.engine.raiseFatal(gorasta.FatalInternalError,
				"srcor: send buffer reports %d messages to send but none available on connection %d", toSend, c.connectionID)
			return
		}

		h := srmsg.GetMessageHeader(msg)
		now := c.engine.sys.Now()
		confirmedSN := c.csT
		if h.MessageType == srmsg.TypeConnReq {
			confirmedSN = 0
		}
		c.engine.codec.UpdateMessageHeader(msg, now, confirmedSN)

		if err := c.channel.Send(msg); err != nil {
			c.engine.raiseFatal(gorasta.FatalInternalError, "srcor: adapter send on connection %d: %v", c.connectionID, err)
			return
		}
		c.sendBuf.MarkSent()
		c.tsT = now
		c.csTLastSent = confirmedSN
	}
}
