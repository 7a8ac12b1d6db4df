package srcor

import (
	"github.com/railsafe/gorasta"
	"github.com/railsafe/gorasta/pkg/channel"
	"github.com/railsafe/gorasta/pkg/srdia"
	"github.com/railsafe/gorasta/pkg/srmsg"
)

// maxPDUSize is the largest possible PDU under any safety-code mode
// (28-byte header + 2-byte payload_size + 1055-byte payload + 16-byte
// FullMd4 trailer), per spec.md §3.
const maxPDUSize = 28 + 2 + 1055 + 16

func isRangeCheckExempt(t srmsg.MessageType) bool {
	return t == srmsg.TypeConnReq || t == srmsg.TypeConnResp || t == srmsg.TypeRetrResp
}

func isSequenceCheckExempt(t srmsg.MessageType) bool {
	switch t {
	case srmsg.TypeConnReq, srmsg.TypeConnResp, srmsg.TypeRetrResp, srmsg.TypeDiscReq:
		return true
	default:
		return false
	}
}

func isTimeRelevant(t srmsg.MessageType) bool {
	switch t {
	case srmsg.TypeData, srmsg.TypeRetrData, srmsg.TypeHeartbeat:
		return true
	default:
		return false
	}
}

func isDataBearing(t srmsg.MessageType) bool {
	return t == srmsg.TypeData || t == srmsg.TypeRetrData
}

// ReceiveMessage runs the reception pipeline of spec.md §4.4: adapter
// read, check_message, authenticity, SNRC, CSI, SNC, CTSI. On success
// the decoded header and raw bytes are staged in the scratch slot for
// a following call to ProcessReceivedMessage, and the corresponding
// Event is returned. Any dropped message (protocol-level failure)
// yields EventNone with no scratch mutation; this is not an error -
// per spec.md §7 it is a recoverable, silently-dropped condition,
// counted in diagnostics where spec.md §4.4 calls for it.
func (c *Connection) ReceiveMessage() (event Event, snInSeq bool, ctsInSeq bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := make([]byte, maxPDUSize)
	n, err := c.channel.Read(buf)
	if err == channel.ErrNoMessageReceived {
		c.receivedDataPending = false
		return EventNone, false, false
	}
	if err != nil {
		c.engine.raiseFatal(gorasta.FatalInternalError, "srcor: adapter read on connection %d: %v", c.connectionID, err)
		return EventNone, false, false
	}
	c.receivedDataPending = true
	msg := buf[:n]

	codec := c.engine.codec
	if err := codec.CheckMessage(msg); err != nil {
		switch err {
		case srmsg.ErrInvalidMessageType:
			c.diag.IncrementError(srdia.ClassType)
		case srmsg.ErrInvalidMessageMd4:
			c.diag.IncrementError(srdia.ClassSafetyCode)
		}
		return EventNone, false, false
	}

	header := srmsg.GetMessageHeader(msg)

	// Authenticity.
	if header.SenderID != c.receiverID || header.ReceiverID != c.senderID {
		c.diag.IncrementError(srdia.ClassAddress)
		return EventNone, false, false
	}

	// Sequence-number-range check (SNRC).
	if !isRangeCheckExempt(header.MessageType) {
		distance := header.SequenceNumber - c.snR
		if distance > 10*c.engine.cfg.NSendMax {
			return EventNone, false, false
		}
	}

	// Confirmed-sequence integrity (CSI).
	switch header.MessageType {
	case srmsg.TypeConnReq:
		if header.ConfirmedSequenceNumber != 0 {
			c.diag.IncrementError(srdia.ClassConfirmedSequenceNumber)
			return EventNone, false, false
		}
	case srmsg.TypeConnResp:
		if header.ConfirmedSequenceNumber != c.snT-1 {
			c.diag.IncrementError(srdia.ClassConfirmedSequenceNumber)
			return EventNone, false, false
		}
	default:
		if header.ConfirmedSequenceNumber-c.csR > c.snT-1-c.csR {
			c.diag.IncrementError(srdia.ClassConfirmedSequenceNumber)
			return EventNone, false, false
		}
	}

	// Sequence-number check (SNC).
	if isSequenceCheckExempt(header.MessageType) {
		snInSeq = true
	} else {
		snInSeq = header.SequenceNumber == c.snR
		if !snInSeq && isDataBearing(header.MessageType) {
			c.diag.IncrementError(srdia.ClassSequenceNumber)
		}
	}

	// Confirmed-time-stamp integrity (CTSI).
	if isTimeRelevant(header.MessageType) {
		ctsInSeq = header.ConfirmedTimeStamp-c.ctsR < c.engine.cfg.TMax
	} else {
		ctsInSeq = true
	}

	raw := make([]byte, len(msg))
	copy(raw, msg)
	c.scratch = scratchSlot{present: true, header: header, raw: raw}

	return eventForType(header.MessageType), snInSeq, ctsInSeq
}
