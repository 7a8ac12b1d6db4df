package srmsg

import (
	"testing"

	"github.com/railsafe/gorasta/internal/md4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultSalt = md4.Salt{0x67452301, 0xEFCDAB89, 0x98BADCFE, 0x10325476}

func testHeaderFields() HeaderFields {
	return HeaderFields{ReceiverID: 0x62, SenderID: 0x61, SequenceNumber: 5, ConfirmedTimeStamp: 1000}
}

func TestDataMessageRoundTrip(t *testing.T) {
	codec := New(SafetyCodeLowerMd4, defaultSalt)
	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = 0xA5
	}
	msg, err := codec.CreateDataMessage(testHeaderFields(), payload)
	require.NoError(t, err)
	assert.Len(t, msg, 48) // 28 header + 2 payload_size + 10 payload + 8 trailer

	require.NoError(t, codec.CheckMessage(msg))
	assert.Equal(t, payload, GetDataMessagePayload(msg))

	h := GetMessageHeader(msg)
	assert.Equal(t, uint32(0x62), h.ReceiverID)
	assert.Equal(t, uint32(0x61), h.SenderID)
	assert.Equal(t, uint32(5), h.SequenceNumber)
}

func TestDataMessageBitFlipBreaksMd4(t *testing.T) {
	codec := New(SafetyCodeLowerMd4, defaultSalt)
	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = 0xA5
	}
	msg, err := codec.CreateDataMessage(testHeaderFields(), payload)
	require.NoError(t, err)

	msg[30] ^= 0x01
	assert.ErrorIs(t, codec.CheckMessage(msg), ErrInvalidMessageMd4)
}

func TestCheckMessageNoErrorForEverySafetyCodeMode(t *testing.T) {
	for _, mode := range []SafetyCodeType{SafetyCodeNone, SafetyCodeLowerMd4, SafetyCodeFullMd4} {
		codec := New(mode, defaultSalt)
		msg, err := codec.CreateDataMessage(testHeaderFields(), []byte{1, 2, 3})
		require.NoError(t, err)
		assert.NoError(t, codec.CheckMessage(msg), "mode %v", mode)
	}
}

func TestHeaderRoundTripAcrossAllCreators(t *testing.T) {
	codec := New(SafetyCodeFullMd4, defaultSalt)
	h := testHeaderFields()

	conn := codec.CreateConnReq(h, ConnData{ProtocolVersion: ProtocolVersion0303, NSendMax: 20})
	retrReq := codec.CreateRetrReq(h)
	retrResp := codec.CreateRetrResp(h)
	hb := codec.CreateHeartbeat(h)
	disc := codec.CreateDiscReq(h, DiscData{DetailedReason: 7, Reason: DiscReasonUserRequest})
	data, err := codec.CreateDataMessage(h, []byte{9})
	require.NoError(t, err)

	for _, msg := range [][]byte{conn, retrReq, retrResp, hb, disc, data} {
		require.NoError(t, codec.CheckMessage(msg))
		got := GetMessageHeader(msg)
		assert.Equal(t, h.SenderID, got.SenderID)
		assert.Equal(t, h.ReceiverID, got.ReceiverID)
		assert.Equal(t, h.SequenceNumber, got.SequenceNumber)
	}
}

func TestUpdateMessageHeaderPreservesOtherFields(t *testing.T) {
	codec := New(SafetyCodeLowerMd4, defaultSalt)
	msg, err := codec.CreateDataMessage(testHeaderFields(), []byte{1, 2, 3})
	require.NoError(t, err)
	before := GetMessageHeader(msg)

	codec.UpdateMessageHeader(msg, 4242, 99)
	require.NoError(t, codec.CheckMessage(msg))

	after := GetMessageHeader(msg)
	assert.Equal(t, before.SenderID, after.SenderID)
	assert.Equal(t, before.ReceiverID, after.ReceiverID)
	assert.Equal(t, before.SequenceNumber, after.SequenceNumber)
	assert.Equal(t, before.ConfirmedTimeStamp, after.ConfirmedTimeStamp)
	assert.Equal(t, uint32(4242), after.TimeStamp)
	assert.Equal(t, uint32(99), after.ConfirmedSequenceNumber)
}

func TestCreateConnReqZerosConfirmedFields(t *testing.T) {
	codec := New(SafetyCodeNone, defaultSalt)
	h := testHeaderFields()
	msg := codec.CreateConnReq(h, ConnData{ProtocolVersion: ProtocolVersion0303, NSendMax: 20})
	got := GetMessageHeader(msg)
	assert.Equal(t, uint32(0), got.ConfirmedSequenceNumber)
	assert.Equal(t, uint32(0), got.ConfirmedTimeStamp)
	assert.Equal(t, uint32(0), got.TimeStamp)
}

func TestCheckMessageRejectsUnknownType(t *testing.T) {
	codec := New(SafetyCodeNone, defaultSalt)
	msg := codec.CreateRetrReq(testHeaderFields())
	msg[2] = 0xFF
	msg[3] = 0xFF
	assert.ErrorIs(t, codec.CheckMessage(msg), ErrInvalidMessageType)
}

func TestCheckMessageRejectsSizeMismatch(t *testing.T) {
	codec := New(SafetyCodeNone, defaultSalt)
	msg := codec.CreateRetrReq(testHeaderFields())
	truncated := msg[:len(msg)-1]
	assert.ErrorIs(t, codec.CheckMessage(truncated), ErrInvalidMessageSize)
}

func TestProtocolVersionAccepted(t *testing.T) {
	accept := [][4]byte{
		{'0', '3', '0', '3'},
		{'0', '4', '0', '3'},
		{'0', '3', '0', '4'},
		{'9', '9', '9', '9'},
	}
	for _, v := range accept {
		assert.True(t, IsProtocolVersionAccepted(v), "%s", v)
	}
	assert.False(t, IsProtocolVersionAccepted([4]byte{'0', '3', '0', '2'}))
}

func TestDataPayloadSizeBounds(t *testing.T) {
	codec := New(SafetyCodeNone, defaultSalt)
	_, err := codec.CreateDataMessage(testHeaderFields(), nil)
	assert.Error(t, err)

	big := make([]byte, 1056)
	_, err = codec.CreateDataMessage(testHeaderFields(), big)
	assert.Error(t, err)

	max := make([]byte, 1055)
	msg, err := codec.CreateDataMessage(testHeaderFields(), max)
	require.NoError(t, err)
	assert.NoError(t, codec.CheckMessage(msg))
}
