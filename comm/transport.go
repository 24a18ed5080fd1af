package comm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// An Endpoint is one end of a duplex pipe. Send never blocks and Poll returns
// immediately, reporting false when nothing is pending.
type Endpoint interface {
	Send(msg Msg) error
	Poll() (Msg, bool)
	Pending() int
	Close() error
}

// A Transport creates duplex pipes between two endpoints. The first returned
// Endpoint belongs to a, the second to b.
type Transport interface {
	NewPipe(a, b EndpointID) (Endpoint, Endpoint)
}

// NewMemTransport creates an in-process transport. Each direction of a pipe
// is backed by a Buffer of the given capacity; zero or less is unbounded.
func NewMemTransport(capacity int) Transport {
	return memTransport{capacity: capacity}
}

type memTransport struct {
	capacity int
}

func (t memTransport) NewPipe(a, b EndpointID) (Endpoint, Endpoint) {
	closed := new(atomic.Bool)
	aToB := &lockedBuffer{
		buf: NewBuffer(fmt.Sprintf("Pipe[%s->%s]", a, b), t.capacity),
	}
	bToA := &lockedBuffer{
		buf: NewBuffer(fmt.Sprintf("Pipe[%s->%s]", b, a), t.capacity),
	}

	endA := &memEndpoint{out: aToB, in: bToA, closed: closed}
	endB := &memEndpoint{out: bToA, in: aToB, closed: closed}

	return endA, endB
}

type lockedBuffer struct {
	sync.Mutex
	buf Buffer
}

type memEndpoint struct {
	out, in *lockedBuffer
	closed  *atomic.Bool
}

func (e *memEndpoint) Send(msg Msg) error {
	if e.closed.Load() {
		return ErrClosed
	}

	e.out.Lock()
	defer e.out.Unlock()

	if !e.out.buf.CanPush() {
		return ErrChannelFull
	}

	e.out.buf.Push(msg)

	return nil
}

// Poll keeps draining after Close so that nothing already sent is lost.
func (e *memEndpoint) Poll() (Msg, bool) {
	e.in.Lock()
	defer e.in.Unlock()

	return e.in.buf.Pop()
}

func (e *memEndpoint) Pending() int {
	e.in.Lock()
	defer e.in.Unlock()

	return e.in.buf.Size()
}

func (e *memEndpoint) Close() error {
	e.closed.Store(true)
	return nil
}
