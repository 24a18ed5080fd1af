package comm

import "log"

// A Buffer is a fifo queue of messages. A capacity of zero or less makes the
// buffer unbounded.
type Buffer interface {
	Named

	CanPush() bool
	Push(msg Msg)
	Pop() (Msg, bool)
	Peek() (Msg, bool)
	Capacity() int
	Size() int

	// Remove all elements in the buffer
	Clear()
}

// NewBuffer creates a default buffer object.
func NewBuffer(name string, capacity int) Buffer {
	return &bufferImpl{
		name:     name,
		capacity: capacity,
	}
}

type bufferImpl struct {
	name     string
	capacity int
	elements []Msg
}

// Name returns the name of the buffer.
func (b *bufferImpl) Name() string {
	return b.name
}

func (b *bufferImpl) CanPush() bool {
	return b.capacity <= 0 || len(b.elements) < b.capacity
}

func (b *bufferImpl) Push(msg Msg) {
	if !b.CanPush() {
		log.Panic("buffer overflow")
	}

	b.elements = append(b.elements, msg)
}

func (b *bufferImpl) Pop() (Msg, bool) {
	if len(b.elements) == 0 {
		return Msg{}, false
	}

	msg := b.elements[0]
	b.elements[0] = Msg{}
	b.elements = b.elements[1:]

	return msg, true
}

func (b *bufferImpl) Peek() (Msg, bool) {
	if len(b.elements) == 0 {
		return Msg{}, false
	}

	return b.elements[0], true
}

func (b *bufferImpl) Capacity() int {
	return b.capacity
}

func (b *bufferImpl) Size() int {
	return len(b.elements)
}

func (b *bufferImpl) Clear() {
	b.elements = nil
}
