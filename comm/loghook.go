package comm

import (
	"fmt"
	"log"
	"reflect"
)

// A LogHook is a hook that is resonsible for recording information from the
// communication layer.
type LogHook interface {
	Hook
}

// LogHookBase provides the common logic for all LogHooks.
type LogHookBase struct {
	*log.Logger
}

// MsgLogger is a hook for logging messages as they are sent and received.
type MsgLogger struct {
	LogHookBase
}

// NewMsgLogger returns a new MsgLogger which will write into the logger.
func NewMsgLogger(logger *log.Logger) *MsgLogger {
	h := new(MsgLogger)
	h.Logger = logger

	return h
}

// Func writes the message information into the logger.
func (h *MsgLogger) Func(ctx HookCtx) {
	msg, ok := ctx.Item.(Msg)
	if !ok {
		return
	}

	h.Logger.Printf("%s,%s,%s,%s,%s,%s,%s,%s\n",
		ctx.Domain.Name(),
		ctx.Pos.Name,
		msg.ID,
		msg.Src, msg.Dst,
		msg.Class, msg.Type,
		PayloadType(msg.Payload))
}

// EventLogger logs every hook invocation that is not a message, such as
// channel registrations and state changes.
type EventLogger struct {
	LogHookBase
}

// NewEventLogger returns a new EventLogger which will write into the logger.
func NewEventLogger(logger *log.Logger) *EventLogger {
	h := new(EventLogger)
	h.Logger = logger

	return h
}

// Func writes the hook position and item into the logger.
func (h *EventLogger) Func(ctx HookCtx) {
	if _, isMsg := ctx.Item.(Msg); isMsg {
		return
	}

	h.Logger.Printf("%s,%s,%v\n", ctx.Domain.Name(), ctx.Pos.Name, ctx.Item)
}

// PayloadType names the dynamic type of a payload, or "nil".
func PayloadType(payload any) string {
	if payload == nil {
		return "nil"
	}

	return fmt.Sprint(reflect.TypeOf(payload))
}
