package comm

import (
	"errors"
	"sync"
)

// HookPosChannelRegister marks when a pair of channels is registered. The
// item is the ChannelKey of the pair as it was requested.
var HookPosChannelRegister = &HookPos{Name: "Channel Register"}

// HookPosMsgSend marks when a message is handed to a transport.
var HookPosMsgSend = &HookPos{Name: "Msg Send"}

// HookPosMsgRecv marks when a message is retrieved by its receiver.
var HookPosMsgRecv = &HookPos{Name: "Msg Recv"}

// A Communicator owns every channel of a run. Registering a pair creates both
// directed channels at once over a fresh duplex pipe.
//
// Registration is serialized. Sends and receives only take a read lock on the
// registry; each directed channel has a single writer and a single reader.
type Communicator struct {
	HookableBase

	name      string
	transport Transport

	lock     sync.RWMutex
	closed   bool
	channels map[ChannelKey]*Channel
	order    []*Channel
	inbound  map[EndpointID][]*Channel
	servers  map[EndpointID]bool
}

// NewCommunicator creates a Communicator over an unbounded in-memory
// transport.
func NewCommunicator() *Communicator {
	return MakeCommunicatorBuilder().Build("Communicator")
}

// Name returns the name of the communicator.
func (c *Communicator) Name() string {
	return c.name
}

// Register creates the channels a->b and b->a. Registering a known pair again,
// in either order, is a no-op and creates no transport.
func (c *Communicator) Register(a, b EndpointID) error {
	if a == b {
		return ErrSelfChannel
	}

	c.lock.Lock()

	if c.closed {
		c.lock.Unlock()
		return ErrClosed
	}

	key := ChannelKey{Src: a, Dst: b}
	if _, found := c.channels[key]; found {
		c.lock.Unlock()
		return nil
	}

	endA, endB := c.transport.NewPipe(a, b)
	forward := &Channel{key: key, tx: endA, rx: endB}
	backward := &Channel{key: key.Reverse(), tx: endB, rx: endA}

	c.addChannel(forward)
	c.addChannel(backward)

	c.lock.Unlock()

	c.InvokeHook(HookCtx{
		Domain: c,
		Pos:    HookPosChannelRegister,
		Item:   key,
	})

	return nil
}

func (c *Communicator) addChannel(ch *Channel) {
	c.channels[ch.key] = ch
	c.order = append(c.order, ch)
	c.inbound[ch.key.Dst] = append(c.inbound[ch.key.Dst], ch)
}

// IsRegistered checks if a channel exists under exactly the key (a, b).
func (c *Communicator) IsRegistered(a, b EndpointID) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()

	_, found := c.channels[ChannelKey{Src: a, Dst: b}]

	return found
}

// DeclareServer marks an endpoint as a server. Messages sent by a server must
// use a ServerToDevice class, and messages sent to a server must use a
// DeviceToServer class. Without declared servers the direction of a message
// is the caller's responsibility.
func (c *Communicator) DeclareServer(id EndpointID) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.servers[id] = true
}

// IsServer checks if the endpoint was declared as a server.
func (c *Communicator) IsServer(id EndpointID) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.servers[id]
}

// SendMessage builds a message and enqueues it on the channel src->dst. It
// does not wait for the receiver.
func (c *Communicator) SendMessage(
	src, dst EndpointID,
	class Class,
	msgType Type,
	payload any,
) error {
	c.lock.RLock()

	if c.closed {
		c.lock.RUnlock()
		return ErrClosed
	}

	ch, found := c.channels[ChannelKey{Src: src, Dst: dst}]
	if !found {
		c.lock.RUnlock()
		return &UnregisteredChannelError{Src: src, Dst: dst}
	}

	builder := MsgBuilder{}.
		WithSrc(src).
		WithDst(dst).
		WithClass(class).
		WithType(msgType).
		WithPayload(payload)
	if d, ok := c.impliedDirection(src, dst); ok {
		builder = builder.WithDirection(d)
	}

	c.lock.RUnlock()

	msg, err := builder.Build()
	if err != nil {
		return err
	}

	err = ch.tx.Send(msg)
	if err != nil {
		return err
	}

	c.InvokeHook(HookCtx{
		Domain: c,
		Pos:    HookPosMsgSend,
		Item:   msg,
	})

	return nil
}

func (c *Communicator) impliedDirection(src, dst EndpointID) (Direction, bool) {
	srcIsServer := c.servers[src]
	dstIsServer := c.servers[dst]

	switch {
	case srcIsServer && !dstIsServer:
		return ServerToDevice, true
	case dstIsServer && !srcIsServer:
		return DeviceToServer, true
	default:
		return 0, false
	}
}

// RecvMessage polls every channel that ends at dst once, in registration
// order. It returns at most one message per sender and never blocks; messages
// that have not arrived yet are left for a later call. An endpoint that no
// one has registered with yet simply has nothing to receive.
func (c *Communicator) RecvMessage(dst EndpointID) ([]Msg, error) {
	c.lock.RLock()
	channels := c.inbound[dst]
	c.lock.RUnlock()

	var msgs []Msg
	for _, ch := range channels {
		msg, ok := ch.rx.Poll()
		if !ok {
			continue
		}

		msgs = append(msgs, msg)

		c.InvokeHook(HookCtx{
			Domain: c,
			Pos:    HookPosMsgRecv,
			Item:   msg,
		})
	}

	return msgs, nil
}

// Pending returns the number of messages waiting for dst across all senders.
func (c *Communicator) Pending(dst EndpointID) int {
	c.lock.RLock()
	channels := c.inbound[dst]
	c.lock.RUnlock()

	n := 0
	for _, ch := range channels {
		n += ch.Pending()
	}

	return n
}

// Channels lists every directed channel in registration order.
func (c *Communicator) Channels() []ChannelInfo {
	c.lock.RLock()
	defer c.lock.RUnlock()

	infos := make([]ChannelInfo, 0, len(c.order))
	for _, ch := range c.order {
		infos = append(infos, ChannelInfo{
			Src:     ch.key.Src,
			Dst:     ch.key.Dst,
			Pending: ch.Pending(),
		})
	}

	return infos
}

// Close closes every pipe. Later sends and registrations fail with ErrClosed,
// while messages already enqueued can still be received.
func (c *Communicator) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	var errs []error
	for _, ch := range c.order {
		if err := ch.tx.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// CommunicatorBuilder can build communicators.
type CommunicatorBuilder struct {
	transport Transport
	capacity  int
}

// MakeCommunicatorBuilder creates a builder with an unbounded in-memory
// transport.
func MakeCommunicatorBuilder() CommunicatorBuilder {
	return CommunicatorBuilder{}
}

// WithTransport sets the transport that creates the pipes.
func (b CommunicatorBuilder) WithTransport(t Transport) CommunicatorBuilder {
	b.transport = t
	return b
}

// WithBufferCapacity bounds every direction of the default in-memory
// transport. It is ignored when a transport is given.
func (b CommunicatorBuilder) WithBufferCapacity(n int) CommunicatorBuilder {
	b.capacity = n
	return b
}

// Build creates the communicator.
func (b CommunicatorBuilder) Build(name string) *Communicator {
	transport := b.transport
	if transport == nil {
		transport = NewMemTransport(b.capacity)
	}

	return &Communicator{
		name:      name,
		transport: transport,
		channels:  make(map[ChannelKey]*Channel),
		inbound:   make(map[EndpointID][]*Channel),
		servers:   make(map[EndpointID]bool),
	}
}
