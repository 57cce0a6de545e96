// Package transport wraps the single UDP socket each endpoint owns. The
// socket is the only shared state between the send and receive paths;
// concurrent SendTo and RecvFrom from different goroutines are safe.
package transport

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"
)

// SocketBufferSize is applied to both the send and receive directions so
// keyframe fragment bursts are absorbed instead of dropped in the kernel.
const SocketBufferSize = 2 * 1024 * 1024

// Conn is a bound UDP socket with a configurable receive timeout.
// Steady-state send and receive failures are logged at debug and treated as
// transient drops; the protocol on top is self-healing.
type Conn struct {
	log         *slog.Logger
	sock        *net.UDPConn
	recvTimeout atomic.Int64 // nanoseconds
}

// Bind opens a UDP socket on the given port (0 for ephemeral) and sizes its
// kernel buffers. Failures here are fatal to session start.
func Bind(port uint16, log *slog.Logger) (*Conn, error) {
	if log == nil {
		log = slog.Default()
	}

	sock, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", port, err)
	}
	if err := sock.SetReadBuffer(SocketBufferSize); err != nil {
		sock.Close()
		return nil, fmt.Errorf("set receive buffer: %w", err)
	}
	if err := sock.SetWriteBuffer(SocketBufferSize); err != nil {
		sock.Close()
		return nil, fmt.Errorf("set send buffer: %w", err)
	}

	c := &Conn{
		log:  log.With("component", "udp"),
		sock: sock,
	}
	c.recvTimeout.Store(int64(100 * time.Millisecond))
	return c, nil
}

// SetRecvTimeout bounds how long each RecvFrom blocks.
func (c *Conn) SetRecvTimeout(d time.Duration) {
	c.recvTimeout.Store(int64(d))
}

// LocalPort returns the bound port.
func (c *Conn) LocalPort() uint16 {
	return uint16(c.sock.LocalAddr().(*net.UDPAddr).Port)
}

// SendTo transmits one datagram, fire-and-forget. Send failures on a
// connectionless socket carry no recovery action, so they are logged at
// debug and the datagram is treated as lost.
func (c *Conn) SendTo(b []byte, to netip.AddrPort) {
	if _, err := c.sock.WriteToUDPAddrPort(b, to); err != nil {
		c.log.Debug("send failed", "to", to, "bytes", len(b), "error", err)
	}
}

// RecvFrom reads one datagram into buf, blocking up to the configured
// receive timeout. Returns ok=false on timeout, transient error, or after
// Close.
func (c *Conn) RecvFrom(buf []byte) (n int, from netip.AddrPort, ok bool) {
	deadline := time.Now().Add(time.Duration(c.recvTimeout.Load()))
	if err := c.sock.SetReadDeadline(deadline); err != nil {
		c.log.Debug("set read deadline failed", "error", err)
		return 0, netip.AddrPort{}, false
	}

	n, from, err := c.sock.ReadFromUDPAddrPort(buf)
	if err != nil {
		if nerr, isNetErr := err.(net.Error); !isNetErr || !nerr.Timeout() {
			c.log.Debug("recv failed", "error", err)
		}
		return 0, netip.AddrPort{}, false
	}
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), true
}

// Close releases the socket, unblocking any in-flight RecvFrom.
func (c *Conn) Close() error {
	return c.sock.Close()
}
