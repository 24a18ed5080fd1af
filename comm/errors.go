package comm

import (
	"errors"
	"fmt"
)

// Sentinel errors. The typed errors below match them through errors.Is.
var (
	ErrUnregisteredChannel = errors.New("unregistered channel")
	ErrTaxonomyMismatch    = errors.New("message type does not belong to message class")
	ErrDirectionMismatch   = errors.New("message class does not belong to direction")
	ErrSelfChannel         = errors.New("cannot register a channel to itself")
	ErrChannelFull         = errors.New("channel buffer is full")
	ErrClosed              = errors.New("communicator is closed")
)

// UnregisteredChannelError is returned when a send addresses a pair that was
// never registered.
type UnregisteredChannelError struct {
	Src, Dst EndpointID
}

func (e *UnregisteredChannelError) Error() string {
	return fmt.Sprintf("no channel registered from %s to %s", e.Src, e.Dst)
}

// Is makes the error match ErrUnregisteredChannel.
func (e *UnregisteredChannelError) Is(target error) bool {
	return target == ErrUnregisteredChannel
}

// TaxonomyMismatchError reports a message type that does not belong to the
// message class it was paired with. ByCode is set when the type was looked up
// from a wire code.
type TaxonomyMismatchError struct {
	Class  Class
	Type   Type
	Code   int
	ByCode bool
}

func (e *TaxonomyMismatchError) Error() string {
	if e.ByCode {
		return fmt.Sprintf("class %s has no message type with code %d",
			e.Class, e.Code)
	}

	return fmt.Sprintf("message type %s does not belong to class %s",
		e.Type, e.Class)
}

// Is makes the error match ErrTaxonomyMismatch.
func (e *TaxonomyMismatchError) Is(target error) bool {
	return target == ErrTaxonomyMismatch
}

// DirectionMismatchError reports a message class used in the wrong
// direction.
type DirectionMismatchError struct {
	Class     Class
	Direction Direction
}

func (e *DirectionMismatchError) Error() string {
	return fmt.Sprintf("message class %s cannot travel %s",
		e.Class, e.Direction)
}

// Is makes the error match ErrDirectionMismatch.
func (e *DirectionMismatchError) Is(target error) bool {
	return target == ErrDirectionMismatch
}
