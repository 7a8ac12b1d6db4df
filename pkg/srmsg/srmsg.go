// Package srmsg implements bit-exact encoding and decoding of the
// eight RaSTA SR protocol data units, and the optional MD4 safety
// trailer. All multi-byte wire fields are little-endian regardless of
// host byte order - field access always goes through explicit
// byte-level (de)serializers rather than ever overlaying an in-memory
// struct on the wire bytes.
package srmsg

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/railsafe/gorasta/internal/md4"
)

// MessageType is the wire value of the PDU's message_type field.
type MessageType uint16

const (
	TypeConnReq   MessageType = 6200
	TypeConnResp  MessageType = 6201
	TypeRetrReq   MessageType = 6212
	TypeRetrResp  MessageType = 6213
	TypeDiscReq   MessageType = 6216
	TypeHeartbeat MessageType = 6220
	TypeData      MessageType = 6240
	TypeRetrData  MessageType = 6241
)

func (t MessageType) String() string {
	switch t {
	case TypeConnReq:
		return "ConnReq"
	case TypeConnResp:
		return "ConnResp"
	case TypeRetrReq:
		return "RetrReq"
	case TypeRetrResp:
		return "RetrResp"
	case TypeDiscReq:
		return "DiscReq"
	case TypeHeartbeat:
		return "Heartbeat"
	case TypeData:
		return "Data"
	case TypeRetrData:
		return "RetrData"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(t))
	}
}

func isKnownType(t MessageType) bool {
	switch t {
	case TypeConnReq, TypeConnResp, TypeRetrReq, TypeRetrResp, TypeDiscReq, TypeHeartbeat, TypeData, TypeRetrData:
		return true
	default:
		return false
	}
}

// SafetyCodeType selects the MD4 trailer mode.
type SafetyCodeType uint8

const (
	SafetyCodeNone SafetyCodeType = iota
	SafetyCodeLowerMd4
	SafetyCodeFullMd4
)

// TrailerLen returns the number of trailer bytes for the mode.
func (s SafetyCodeType) TrailerLen() int {
	switch s {
	case SafetyCodeNone:
		return 0
	case SafetyCodeLowerMd4:
		return 8
	case SafetyCodeFullMd4:
		return 16
	default:
		return 0
	}
}

const (
	headerLen = 28

	// maxPayloadSize is the largest Data/RetrData payload.
	maxPayloadSize = 1055
)

// DiscReason is the high-level reason enum carried by DiscReq.
type DiscReason uint16

const (
	DiscReasonUnknown                DiscReason = 0
	DiscReasonUserRequest            DiscReason = 1
	DiscReasonProtocolSequenceError  DiscReason = 2
	DiscReasonProtocolTimeout        DiscReason = 3
	DiscReasonProtocolVersionError   DiscReason = 4
	DiscReasonRetrFailed             DiscReason = 5
	DiscReasonProtocolRetransmission DiscReason = 6
	DiscReasonServiceNotAvailable    DiscReason = 7
	DiscReasonIncompatibleRedundancy DiscReason = 8
	DiscReasonNotUsed                DiscReason = 9
)

// Recoverable codec return codes (spec.md §7): dropped + diagnostic
// counter bump at the srcor level, never a FatalError.
var (
	ErrInvalidMessageSize = errors.New("srmsg: invalid message size")
	ErrInvalidMessageType = errors.New("srmsg: invalid message type")
	ErrInvalidMessageMd4  = errors.New("srmsg: invalid md4 safety code")
)

// Header mirrors the 28-byte fixed PDU header, decoded into an
// in-memory struct for convenient field access. It is never the wire
// representation itself.
type Header struct {
	MessageLength           uint16
	MessageType             MessageType
	ReceiverID              uint32
	SenderID                uint32
	SequenceNumber          uint32
	ConfirmedSequenceNumber uint32
	TimeStamp               uint32
	ConfirmedTimeStamp      uint32
}

// HeaderFields is the subset of header fields a caller supplies to a
// create_* constructor. confirmed_sequence_number and time_stamp are
// always written as 0 placeholders at creation time (see DESIGN.md);
// they are re-stamped in place later via UpdateMessageHeader.
type HeaderFields struct {
	ReceiverID         uint32
	SenderID           uint32
	SequenceNumber     uint32
	ConfirmedTimeStamp uint32
}

// Codec encodes/decodes PDUs under one configured safety-code mode and
// MD4 salt. Pure modulo the cached mode - holds no connection state.
type Codec struct {
	safetyCode SafetyCodeType
	salt       md4.Salt
}

// New returns a Codec for the given safety-code mode and MD4 salt.
func New(safetyCode SafetyCodeType, salt md4.Salt) *Codec {
	return &Codec{safetyCode: safetyCode, salt: salt}
}

func (c *Codec) trailer(body []byte) []byte {
	sum := md4.Sum(c.salt, body)
	switch c.safetyCode {
	case SafetyCodeFullMd4:
		out := make([]byte, 16)
		copy(out, sum[:])
		return out
	case SafetyCodeLowerMd4:
		out := make([]byte, 8)
		copy(out, sum[:8])
		return out
	default:
		return nil
	}
}

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint16(buf[0:2], h.MessageLength)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.MessageType))
	binary.LittleEndian.PutUint32(buf[4:8], h.ReceiverID)
	binary.LittleEndian.PutUint32(buf[8:12], h.SenderID)
	binary.LittleEndian.PutUint32(buf[12:16], h.SequenceNumber)
	binary.LittleEndian.PutUint32(buf[16:20], h.ConfirmedSequenceNumber)
	binary.LittleEndian.PutUint32(buf[20:24], h.TimeStamp)
	binary.LittleEndian.PutUint32(buf[24:28], h.ConfirmedTimeStamp)
}

func getHeader(buf []byte) Header {
	return Header{
		MessageLength:           binary.LittleEndian.Uint16(buf[0:2]),
		MessageType:             MessageType(binary.LittleEndian.Uint16(buf[2:4])),
		ReceiverID:              binary.LittleEndian.Uint32(buf[4:8]),
		SenderID:                binary.LittleEndian.Uint32(buf[8:12]),
		SequenceNumber:          binary.LittleEndian.Uint32(buf[12:16]),
		ConfirmedSequenceNumber: binary.LittleEndian.Uint32(buf[16:20]),
		TimeStamp:               binary.LittleEndian.Uint32(buf[20:24]),
		ConfirmedTimeStamp:      binary.LittleEndian.Uint32(buf[24:28]),
	}
}

// assemble writes the header (with length filled in), the body, and
// the safety trailer, returning the complete PDU.
func (c *Codec) assemble(h HeaderFields, msgType MessageType, body []byte) []byte {
	trailerLen := c.safetyCode.TrailerLen()
	total := headerLen + len(body) + trailerLen
	buf := make([]byte, total)

	putHeader(buf, Header{
		MessageLength:           uint16(total),
		MessageType:             msgType,
		ReceiverID:              h.ReceiverID,
		SenderID:                h.SenderID,
		SequenceNumber:          h.SequenceNumber,
		ConfirmedSequenceNumber: 0,
		TimeStamp:               0,
		ConfirmedTimeStamp:      h.ConfirmedTimeStamp,
	})
	copy(buf[headerLen:headerLen+len(body)], body)
	if trailerLen > 0 {
		copy(buf[headerLen+len(body):], c.trailer(buf[:headerLen+len(body)]))
	}
	return buf
}

// ConnData is the ConnReq/ConnResp type-specific body.
type ConnData struct {
	ProtocolVersion [4]byte
	NSendMax        uint16
}

// ProtocolVersion0303 is the protocol version this module implements.
var ProtocolVersion0303 = [4]byte{'0', '3', '0', '3'}

// CreateConnReq builds a ConnReq PDU. Per spec.md §4.1, ConnReq
// explicitly zeros confirmed_sequence_number and confirmed_time_stamp
// regardless of what h.ConfirmedTimeStamp carries.
func (c *Codec) CreateConnReq(h HeaderFields, data ConnData) []byte {
	h.ConfirmedTimeStamp = 0
	return c.assemble(h, TypeConnReq, connBody(data))
}

// CreateConnResp builds a ConnResp PDU; same body shape as ConnReq.
func (c *Codec) CreateConnResp(h HeaderFields, data ConnData) []byte {
	return c.assemble(h, TypeConnResp, connBody(data))
}

func connBody(data ConnData) []byte {
	body := make([]byte, 14)
	copy(body[0:4], data.ProtocolVersion[:])
	binary.LittleEndian.PutUint16(body[4:6], data.NSendMax)
	// body[6:14] reserved, left zero
	return body
}

// CreateRetrReq builds a RetrReq PDU (no body).
func (c *Codec) CreateRetrReq(h HeaderFields) []byte {
	return c.assemble(h, TypeRetrReq, nil)
}

// CreateRetrResp builds a RetrResp PDU (no body).
func (c *Codec) CreateRetrResp(h HeaderFields) []byte {
	return c.assemble(h, TypeRetrResp, nil)
}

// CreateHeartbeat builds a Heartbeat PDU (no body).
func (c *Codec) CreateHeartbeat(h HeaderFields) []byte {
	return c.assemble(h, TypeHeartbeat, nil)
}

// DiscData is the DiscReq type-specific body.
type DiscData struct {
	DetailedReason uint16
	Reason         DiscReason
}

// CreateDiscReq builds a DiscReq PDU.
func (c *Codec) CreateDiscReq(h HeaderFields, data DiscData) []byte {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint16(body[0:2], data.DetailedReason)
	binary.LittleEndian.PutUint16(body[2:4], uint16(data.Reason))
	return c.assemble(h, TypeDiscReq, body)
}

// CreateDataMessage builds a Data PDU carrying payload (1..1055 bytes).
func (c *Codec) CreateDataMessage(h HeaderFields, payload []byte) ([]byte, error) {
	return c.createDataLike(h, TypeData, payload)
}

// CreateRetrDataMessage builds a RetrData PDU; same body shape as Data.
func (c *Codec) CreateRetrDataMessage(h HeaderFields, payload []byte) ([]byte, error) {
	return c.createDataLike(h, TypeRetrData, payload)
}

func (c *Codec) createDataLike(h HeaderFields, msgType MessageType, payload []byte) ([]byte, error) {
	if len(payload) < 1 || len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("srmsg: payload size %d out of range [1,%d]", len(payload), maxPayloadSize)
	}
	body := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(body[0:2], uint16(len(payload)))
	copy(body[2:], payload)
	return c.assemble(h, msgType, body), nil
}

// RewriteForRetransmission patches sender_id, receiver_id,
// sequence_number and confirmed_time_stamp in place, leaving
// time_stamp, confirmed_sequence_number and the safety trailer
// untouched - those are re-stamped separately via
// UpdateMessageHeader when the entry is actually (re-)sent. Used by
// srsend.PrepareBufferForRetr to renumber buffered entries ahead of a
// retransmission burst.
func (c *Codec) RewriteForRetransmission(msg []byte, senderID, receiverID, sequenceNumber, confirmedTimeStamp uint32) {
	binary.LittleEndian.PutUint32(msg[4:8], receiverID)
	binary.LittleEndian.PutUint32(msg[8:12], senderID)
	binary.LittleEndian.PutUint32(msg[12:16], sequenceNumber)
	binary.LittleEndian.PutUint32(msg[24:28], confirmedTimeStamp)
}

// UpdateMessageHeader rewrites confirmed_sequence_number and
// time_stamp in place and recomputes the safety trailer over the
// bytes preceding it. Precondition: msg.message_length is consistent
// with the codec's configured safety-code mode. This is not checked
// here; the engine's transmission pipeline only passes PDUs built by
// the same codec.
func (c *Codec) UpdateMessageHeader(msg []byte, timeStamp, confirmedSequenceNumber uint32) {
	binary.LittleEndian.PutUint32(msg[16:20], confirmedSequenceNumber)
	binary.LittleEndian.PutUint32(msg[20:24], timeStamp)
	trailerLen := c.safetyCode.TrailerLen()
	if trailerLen == 0 {
		return
	}
	bodyEnd := len(msg) - trailerLen
	copy(msg[bodyEnd:], c.trailer(msg[:bodyEnd]))
}

// sizeForType returns the exact expected total message size for
// non-variable-length types, or -1 for Data/RetrData whose size
// depends on the body's payload_size field.
func (c *Codec) sizeForType(t MessageType) int {
	trailerLen := c.safetyCode.TrailerLen()
	switch t {
	case TypeConnReq, TypeConnResp:
		return headerLen + 14 + trailerLen
	case TypeRetrReq, TypeRetrResp, TypeHeartbeat:
		return headerLen + trailerLen
	case TypeDiscReq:
		return headerLen + 4 + trailerLen
	case TypeData, TypeRetrData:
		return -1
	default:
		return -1
	}
}

// CheckMessage validates a received PDU per spec.md §4.1: the
// type-agnostic size checks first, then type, then the size checks
// for the declared type, then MD4. Returns nil on success.
func (c *Codec) CheckMessage(msg []byte) error {
	trailerLen := c.safetyCode.TrailerLen()
	minSize := headerLen + trailerLen
	maxSize := headerLen + 2 + maxPayloadSize + trailerLen

	if len(msg) < minSize || len(msg) > maxSize {
		return ErrInvalidMessageSize
	}
	h := getHeader(msg)
	if int(h.MessageLength) != len(msg) {
		return ErrInvalidMessageSize
	}

	if !isKnownType(h.MessageType) {
		return ErrInvalidMessageType
	}

	expected := c.sizeForType(h.MessageType)
	if expected >= 0 && expected != len(msg) {
		return ErrInvalidMessageSize
	}
	if h.MessageType == TypeData || h.MessageType == TypeRetrData {
		if len(msg) < headerLen+2 {
			return ErrInvalidMessageSize
		}
		payloadSize := binary.LittleEndian.Uint16(msg[headerLen : headerLen+2])
		if int(payloadSize) < 1 || int(payloadSize) > maxPayloadSize {
			return ErrInvalidMessageSize
		}
		if headerLen+2+int(payloadSize)+trailerLen != len(msg) {
			return ErrInvalidMessageSize
		}
	}

	if trailerLen > 0 {
		bodyEnd := len(msg) - trailerLen
		want := c.trailer(msg[:bodyEnd])
		got := msg[bodyEnd:]
		for i := range want {
			if want[i] != got[i] {
				return ErrInvalidMessageMd4
			}
		}
	}

	return nil
}

// GetMessageHeader decodes the fixed header of msg. Callers must have
// already validated msg's size (e.g. via CheckMessage).
func GetMessageHeader(msg []byte) Header {
	return getHeader(msg)
}

// GetMessageType decodes just the message_type field.
func GetMessageType(msg []byte) MessageType {
	return MessageType(binary.LittleEndian.Uint16(msg[2:4]))
}

// GetMessageSequenceNumber decodes just the sequence_number field.
func GetMessageSequenceNumber(msg []byte) uint32 {
	return binary.LittleEndian.Uint32(msg[12:16])
}

// GetDataMessagePayload decodes the payload of a Data/RetrData PDU.
// Fatal (panics) if msg is not one of those two types - callers are
// expected to check GetMessageType first.
func GetDataMessagePayload(msg []byte) []byte {
	t := GetMessageType(msg)
	if t != TypeData && t != TypeRetrData {
		panic(fmt.Sprintf("srmsg: GetDataMessagePayload called on %s", t))
	}
	payloadSize := binary.LittleEndian.Uint16(msg[headerLen : headerLen+2])
	payload := make([]byte, payloadSize)
	copy(payload, msg[headerLen+2:headerLen+2+int(payloadSize)])
	return payload
}

// GetConnMessageData decodes the body of a ConnReq/ConnResp PDU.
// Fatal (panics) if msg is not one of those two types.
func GetConnMessageData(msg []byte) ConnData {
	t := GetMessageType(msg)
	if t != TypeConnReq && t != TypeConnResp {
		panic(fmt.Sprintf("srmsg: GetConnMessageData called on %s", t))
	}
	var data ConnData
	copy(data.ProtocolVersion[:], msg[headerLen:headerLen+4])
	data.NSendMax = binary.LittleEndian.Uint16(msg[headerLen+4 : headerLen+6])
	return data
}

// GetDiscMessageData decodes the body of a DiscReq PDU. Fatal (panics)
// if msg is not a DiscReq.
func GetDiscMessageData(msg []byte) DiscData {
	if GetMessageType(msg) != TypeDiscReq {
		panic("srmsg: GetDiscMessageData called on non-DiscReq message")
	}
	return DiscData{
		DetailedReason: binary.LittleEndian.Uint16(msg[headerLen : headerLen+2]),
		Reason:         DiscReason(binary.LittleEndian.Uint16(msg[headerLen+2 : headerLen+4])),
	}
}

// IsProtocolVersionAccepted implements the predicate documented as an
// open question in spec.md §9 / REDESIGN FLAGS. protocol_version holds
// two ASCII two-digit components, [majorTens, majorOnes, minorTens,
// minorOnes]; the accept/reject examples in spec.md (04.03, 03.04,
// 99.99 accepted; 03.02 rejected, against a 03.03 baseline) are only
// consistent with comparing the ones digit of each component against
// '3', ignoring the tens digit entirely - not a strict version-order
// comparison and not an all-four-bytes check (see DESIGN.md).
func IsProtocolVersionAccepted(version [4]byte) bool {
	return version[1] >= '3' && version[3] >= '3'
}
