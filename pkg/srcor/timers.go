package srcor

// IsMessageTimeout reports whether the per-connection timeout
// deadline t_i has elapsed since the last confirmed peer timestamp,
// per spec.md §4.4. Acting on a timeout (e.g. disconnecting) is the
// upper protocol layer's decision - the engine only exposes the
// predicate.
func (c *Connection) IsMessageTimeout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.sys.Now()-c.ctsR > c.ti
}

// IsHeartbeatInterval reports whether t_h has elapsed since the last
// sent timestamp TS_T, per spec.md §4.4.
func (c *Connection) IsHeartbeatInterval() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.sys.Now()-c.tsT >= c.engine.cfg.TH
}
