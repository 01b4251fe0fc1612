// Package transport defines the framed byte-channel capability the core
// consumes; concrete bindings live in transport/loopback and
// transport/tcpframed.
package transport

import (
	"context"
	"errors"
)

// ErrTimeout is returned by Channel.Receive when no message arrives before
// the deadline.
var ErrTimeout = errors.New("transport: receive timeout")

// Channel is a framed, ordered, bidirectional message transport. A single
// Channel carries exactly one logical connection between two endpoints; the
// core never multiplexes PDUs from different peers over one Channel.
type Channel interface {
	Send(ctx context.Context, buf []byte) error
	Receive(ctx context.Context) ([]byte, error)
	// SequenceNumberLength reports the transport-fixed length in bytes
	// (0..8) of the secured-record sequence number, per §6.
	SequenceNumberLength() int
	Close() error
}
