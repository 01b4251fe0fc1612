// Package tcpframed binds transport.Channel to a net.Conn using a simple
// 4-byte big-endian length prefix per message. It is the nearest
// Go-idiomatic analogue to the reference host's HTTP request/response
// transport handler: a small dialer/listener pair rather than an
// http.Handler, since SPDM's wire format is not HTTP-shaped.
package tcpframed

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dmtf-spdm/go-spdm/transport"
)

const maxFrameSize = 64 * 1024 * 1024

// Channel wraps a net.Conn as a transport.Channel.
type Channel struct {
	conn   net.Conn
	seqLen int
}

// New wraps an already-established connection. seqLen is the secured-record
// sequence-number length this binding commits to (§6); the reference CLI
// uses 4 bytes.
func New(conn net.Conn, seqLen int) *Channel {
	return &Channel{conn: conn, seqLen: seqLen}
}

// Dial connects to addr and wraps the resulting connection.
func Dial(ctx context.Context, addr string, seqLen int) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpframed: dial %s: %w", addr, err)
	}
	return New(conn, seqLen), nil
}

func (c *Channel) Send(ctx context.Context, buf []byte) error {
	if len(buf) > maxFrameSize {
		return fmt.Errorf("tcpframed: frame of %d bytes exceeds max %d", len(buf), maxFrameSize)
	}
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(buf)))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("tcpframed: write length prefix: %w", err)
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("tcpframed: write frame: %w", err)
	}
	return nil
}

func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}
	var hdr [4]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, transport.ErrTimeout
		}
		return nil, fmt.Errorf("tcpframed: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("tcpframed: declared frame size %d exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, fmt.Errorf("tcpframed: read frame: %w", err)
	}
	return buf, nil
}

func (c *Channel) SequenceNumberLength() int { return c.seqLen }

func (c *Channel) Close() error { return c.conn.Close() }

// Listener wraps a net.Listener, accepting connections and wrapping each in
// a Channel.
type Listener struct {
	ln     net.Listener
	seqLen int
}

func Listen(addr string, seqLen int) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpframed: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, seqLen: seqLen}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) Accept() (*Channel, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return New(conn, l.seqLen), nil
}

func (l *Listener) Close() error { return l.ln.Close() }
