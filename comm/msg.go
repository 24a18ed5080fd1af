package comm

import (
	"fmt"
	"strconv"
)

// An EndpointID identifies a participant, such as a device or a server.
type EndpointID int

func (id EndpointID) String() string {
	return strconv.Itoa(int(id))
}

// MsgMeta contains the meta data that is attached to every message.
type MsgMeta struct {
	ID       string
	Src, Dst EndpointID
}

// A Msg is the envelope exchanged between participants. Msgs are values; the
// receiver owns the copy it dequeues.
type Msg struct {
	MsgMeta

	Class   Class
	Type    Type
	Payload any
}

// Meta returns the meta data of the message.
func (m Msg) Meta() MsgMeta {
	return m.MsgMeta
}

// Direction returns the direction implied by the message class.
func (m Msg) Direction() Direction {
	return m.Class.Direction()
}

// Is checks both the class and the type of the message.
func (m Msg) Is(c Class, t Type) bool {
	return m.Class == c && m.Type == t
}

func (m Msg) String() string {
	return fmt.Sprintf("%s[%s->%s %s/%s]",
		m.ID, m.Src, m.Dst, m.Class, m.Type)
}

// MsgBuilder can build messages. Build validates the taxonomy before a
// message exists, so an inconsistent message can never reach a transport.
type MsgBuilder struct {
	src, dst     EndpointID
	class        Class
	msgType      Type
	payload      any
	direction    Direction
	hasDirection bool
}

// WithSrc sets the sender of the message.
func (b MsgBuilder) WithSrc(src EndpointID) MsgBuilder {
	b.src = src
	return b
}

// WithDst sets the receiver of the message.
func (b MsgBuilder) WithDst(dst EndpointID) MsgBuilder {
	b.dst = dst
	return b
}

// WithClass sets the message class.
func (b MsgBuilder) WithClass(c Class) MsgBuilder {
	b.class = c
	return b
}

// WithType sets the message type.
func (b MsgBuilder) WithType(t Type) MsgBuilder {
	b.msgType = t
	return b
}

// WithPayload sets the opaque payload.
func (b MsgBuilder) WithPayload(payload any) MsgBuilder {
	b.payload = payload
	return b
}

// WithDirection requires the class to travel in the given direction.
func (b MsgBuilder) WithDirection(d Direction) MsgBuilder {
	b.direction = d
	b.hasDirection = true

	return b
}

// Build creates the message.
func (b MsgBuilder) Build() (Msg, error) {
	if err := CheckTaxonomy(b.class, b.msgType); err != nil {
		return Msg{}, err
	}

	if b.hasDirection {
		if err := CheckDirection(b.class, b.direction); err != nil {
			return Msg{}, err
		}
	}

	msg := Msg{
		MsgMeta: MsgMeta{
			ID:  GetIDGenerator().Generate(),
			Src: b.src,
			Dst: b.dst,
		},
		Class:   b.class,
		Type:    b.msgType,
		Payload: b.payload,
	}

	return msg, nil
}
