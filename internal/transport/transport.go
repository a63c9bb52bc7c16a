// Package transport is a thin wrapper around a connectionless UDP socket,
// providing send-and-wait-for-response semantics with timeout and bounded
// retries on top of it.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Errors returned by Conn.
var (
	ErrSocketUninitialized = errors.New("socket_uninitialized")
	ErrTimeoutExceeded     = errors.New("timeout_exceeded")
)

// MaxPacketSize bounds a single UDP datagram's payload. Messages that would
// serialize larger than this are fragmented by the caller into multiple
// packets sharing one session_id (see internal/session).
const MaxPacketSize = 65000

// Conn owns one UDP socket, as used by a Session Client or a Session Server.
type Conn struct {
	sock *net.UDPConn
}

// Listen opens a UDP socket bound to addr, for server-side use.
func Listen(addr string) (*Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen addr: %w", err)
	}
	sock, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	return &Conn{sock: sock}, nil
}

// Open acquires a UDP socket on an ephemeral local port, for client-side
// use. On failure no socket is held and the returned Conn is nil; on
// success the caller releases the socket with Close.
func Open() (*Conn, error) {
	sock, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	return &Conn{sock: sock}, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	if c.sock == nil {
		return nil
	}
	err := c.sock.Close()
	c.sock = nil
	return err
}

// LocalAddr returns the address the socket is bound to.
func (c *Conn) LocalAddr() net.Addr {
	if c.sock == nil {
		return nil
	}
	return c.sock.LocalAddr()
}

// Send is a fire-and-forget write of packet to endpoint.
func (c *Conn) Send(endpoint string, packet []byte) error {
	if c.sock == nil {
		return ErrSocketUninitialized
	}
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return fmt.Errorf("resolve endpoint: %w", err)
	}
	if _, err := c.sock.WriteToUDP(packet, addr); err != nil {
		return fmt.Errorf("write udp: %w", err)
	}
	return nil
}

// Receive blocks for at most timeout waiting for one inbound datagram. A
// timeout of zero blocks indefinitely (used by Server.Serve's accept loop).
// It returns the sender's address alongside the datagram so a server can
// reply without a separate lookup.
func (c *Conn) Receive(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	if c.sock == nil {
		return nil, nil, ErrSocketUninitialized
	}
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.sock.SetReadDeadline(deadline); err != nil {
		return nil, nil, fmt.Errorf("set read deadline: %w", err)
	}
	defer c.sock.SetReadDeadline(time.Time{})

	buf := make([]byte, MaxPacketSize+1024)
	n, addr, err := c.sock.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, ErrTimeoutExceeded
		}
		return nil, nil, fmt.Errorf("read udp: %w", err)
	}
	return buf[:n], addr, nil
}

// Request sends packet to endpoint and waits for a response, retransmitting
// the same bytes on timeout up to maxRetries total attempts. Retry is
// stateless at this layer: it is the caller's job (the session_id and
// sequence already embedded in packet) to let the server treat
// retransmissions as idempotent.
func (c *Conn) Request(endpoint string, packet []byte, timeout time.Duration, maxRetries int) ([]byte, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.Send(endpoint, packet); err != nil {
			return nil, err
		}
		resp, _, err := c.Receive(timeout)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrTimeoutExceeded) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrTimeoutExceeded
	}
	return nil, fmt.Errorf("%w: after %d attempts: %v", ErrTimeoutExceeded, maxRetries, lastErr)
}
