package srcor

import "github.com/railsafe/gorasta/pkg/srmsg"

// IsProtocolVersionAccepted evaluates the scratch slot's staged
// ConnReq/ConnResp protocol_version field against the predicate
// documented in srmsg.IsProtocolVersionAccepted. Returns false if the
// scratch slot holds no message, or one of a different type.
func (c *Connection) IsProtocolVersionAccepted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.scratch.present {
		return false
	}
	t := c.scratch.header.MessageType
	if t != srmsg.TypeConnReq && t != srmsg.TypeConnResp {
		return false
	}
	data := srmsg.GetConnMessageData(c.scratch.raw)
	return srmsg.IsProtocolVersionAccepted(data.ProtocolVersion)
}
