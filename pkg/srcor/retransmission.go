package srcor

import (
	"github.com/railsafe/gorasta/pkg/srmsg"
	"github.com/railsafe/gorasta/pkg/srsend"
)

// HandleRetrReq renumbers every send-buffer entry newer than CS_R to
// start at the current SN_T and advances SN_T past the renumbered
// run, per spec.md §4.4 Retransmission.
func (c *Connection) HandleRetrReq() {
	c.mu.Lock()
	defer c.mu.Unlock()

	template := srsend.HeaderTemplate{
		SenderID:           c.senderID,
		ReceiverID:         c.receiverID,
		SequenceNumber:     c.snT,
		ConfirmedTimeStamp: c.tsR,
	}
	lastSN, ok := c.sendBuf.PrepareBufferForRetr(c.csR, template)
	if ok {
		c.snT = lastSN + 1
	}
}

// IsRetrReqSequenceNumberAvailable answers whether the sequence
// number the peer's buffered RetrReq (staged in the scratch slot)
// implies it is missing is still held in our send buffer. Only
// meaningful when the scratch slot holds a RetrReq; any other state
// returns false, per spec.md §4.4.
func (c *Connection) IsRetrReqSequenceNumberAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.scratch.present || c.scratch.header.MessageType != srmsg.TypeRetrReq {
		return false
	}
	return c.sendBuf.IsSequenceNumberInBuffer(c.scratch.header.ConfirmedSequenceNumber + 1)
}
