// Package loopback provides an in-process transport.Channel pair, grounded
// on the socket-loopback harness used by the reference emulator's support
// code. It is the binding used by the package test suites; the cmd hosts
// use transport/tcpframed.
package loopback

import (
	"context"

	"github.com/dmtf-spdm/go-spdm/transport"
)

// Pair returns two connected Channels; bytes sent on one are received on
// the other. seqLen sets the secured-record sequence-number length both
// sides report (§6).
func Pair(seqLen int) (a, b transport.Channel) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	closed := make(chan struct{})
	ch1 := &channel{send: ab, recv: ba, closed: closed, seqLen: seqLen}
	ch2 := &channel{send: ba, recv: ab, closed: closed, seqLen: seqLen}
	return ch1, ch2
}

type channel struct {
	send   chan []byte
	recv   chan []byte
	closed chan struct{}
	seqLen int
}

func (c *channel) Send(ctx context.Context, buf []byte) error {
	cp := append([]byte(nil), buf...)
	select {
	case c.send <- cp:
		return nil
	case <-c.closed:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *channel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case buf := <-c.recv:
		return buf, nil
	case <-c.closed:
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *channel) SequenceNumberLength() int { return c.seqLen }

func (c *channel) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}
