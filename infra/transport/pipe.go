// Package transport provides FrameTransport implementations. The pipe is an
// in-memory link used by the simulator and the integration tests; a raw
// Ethernet transport can be plugged in through the same interface.
package transport

import (
	"errors"
	"sync"

	"github.com/kilianp07/slac/core/model"
	coretransport "github.com/kilianp07/slac/core/transport"
)

// ErrPipeClosed reports a send on a closed pipe end.
var ErrPipeClosed = errors.New("pipe closed")

// pipeBuffer bounds each direction of the pipe. A full buffer drops the
// frame, mirroring a lossy physical medium rather than stalling the sender.
const pipeBuffer = 64

// Pipe is one end of a bidirectional in-memory link. Frames sent on one end
// are delivered on the peer's Inbound channel with the payload copied, so
// the sender may reuse its buffer.
type Pipe struct {
	mu     sync.Mutex
	peer   *Pipe
	in     chan coretransport.Delivery
	closed bool
}

// NewPipe creates a connected pair of transport ends.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{in: make(chan coretransport.Delivery, pipeBuffer)}
	b := &Pipe{in: make(chan coretransport.Delivery, pipeBuffer)}
	a.peer = b
	b.peer = a
	return a, b
}

// Send delivers the frame to the peer end. A full peer buffer drops the
// frame silently; the matching procedure recovers through its timers.
func (p *Pipe) Send(link model.LinkIdentity, frame []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPipeClosed
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)

	p.peer.mu.Lock()
	defer p.peer.mu.Unlock()
	if p.peer.closed {
		return ErrPipeClosed
	}
	select {
	case p.peer.in <- coretransport.Delivery{Link: link, Payload: buf}:
	default:
	}
	return nil
}

// Inbound returns the channel of frames delivered to this end. The channel
// closes when this end is closed.
func (p *Pipe) Inbound() <-chan coretransport.Delivery { return p.in }

// Close shuts this end down. Further sends from either side fail with
// ErrPipeClosed.
func (p *Pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.in)
}
