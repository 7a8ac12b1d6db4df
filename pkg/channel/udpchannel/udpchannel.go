// Package udpchannel implements a redundancy channel over a single
// UDP socket bound locally and sending to one fixed remote address
// (one [Channel] per transmission path), using golang.org/x/sys/unix
// for socket-option handling; the SO_ERROR / receive-queue
// introspection used by [Channel.LinkHealth] follows a raw-fd
// getsockopt pattern, adapted from TCP_INFO-style diagnostics to the
// plain getsockopt calls that apply to a connectionless UDP socket.
package udpchannel

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/railsafe/gorasta/pkg/channel"
	"golang.org/x/sys/unix"
)

// LinkHealth reports point-in-time socket diagnostics for one
// direction of a redundancy channel, analogous to the TCP_INFO
// snapshot the runZero tcpinfo packages expose for TCP sockets.
type LinkHealth struct {
	SocketError  int
	RecvQueueLen int
}

// Channel is a [channel.Channel] backed by one local UDP socket
// talking to one fixed remote peer.
type Channel struct {
	logger     *slog.Logger
	mu         sync.Mutex
	localAddr  *net.UDPAddr
	remoteAddr *net.UDPAddr
	conn       *net.UDPConn
	reusePort  bool
}

// New returns a UDP-backed channel between local and remote. Open must
// be called before Send/Read.
func New(logger *slog.Logger, local, remote *net.UDPAddr, reusePort bool) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{logger: logger, localAddr: local, remoteAddr: remote, reusePort: reusePort}
}

func (c *Channel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	lc := net.ListenConfig{}
	if c.reusePort {
		lc.Control = func(network, address string, rc syscall.RawConn) error {
			return rc.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		}
	}
	pconn, err := lc.ListenPacket(nil, "udp", c.localAddr.String())
	if err != nil {
		return fmt.Errorf("udpchannel: listen: %w", err)
	}
	conn, ok := pconn.(*net.UDPConn)
	if !ok {
		pconn.Close()
		return fmt.Errorf("udpchannel: unexpected packet conn type %T", pconn)
	}
	c.conn = conn
	c.logger.Info("redundancy channel opened", "local", c.localAddr, "remote", c.remoteAddr)
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("udpchannel: send on closed channel")
	}
	_, err := conn.WriteToUDP(data, c.remoteAddr)
	return err
}

func (c *Channel) Read(buf []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, channel.ErrNoMessageReceived
	}
	if err := conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, err
	}
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, channel.ErrNoMessageReceived
		}
		return 0, err
	}
	return n, nil
}

// LinkHealth inspects the socket's pending error and receive-queue
// depth via getsockopt, without consuming any queued datagram.
func (c *Channel) LinkHealth() (LinkHealth, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return LinkHealth{}, fmt.Errorf("udpchannel: channel not open")
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return LinkHealth{}, err
	}
	var health LinkHealth
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		soErr, gerr := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			sockErr = gerr
			return
		}
		health.SocketError = soErr

		queued, gerr := unix.IoctlGetInt(int(fd), unix.SIOCINQ)
		if gerr == nil {
			health.RecvQueueLen = queued
		}
	})
	if ctrlErr != nil {
		return LinkHealth{}, ctrlErr
	}
	return health, sockErr
}
