package device

import (
	"fmt"
	"time"

	"github.com/sarchlab/fedcomm/comm"
)

// Builder can build devices.
type Builder struct {
	id           comm.EndpointID
	serverID     comm.EndpointID
	messenger    Messenger
	trainer      Trainer
	ready        bool
	pollInterval time.Duration
}

// MakeBuilder creates a builder for a ready device.
func MakeBuilder() Builder {
	return Builder{
		ready:        true,
		pollInterval: 5 * time.Millisecond,
	}
}

// WithID sets the endpoint of the device.
func (b Builder) WithID(id comm.EndpointID) Builder {
	b.id = id
	return b
}

// WithServerID sets the endpoint of the server the device reports to.
func (b Builder) WithServerID(id comm.EndpointID) Builder {
	b.serverID = id
	return b
}

// WithMessenger sets how the device talks to the server.
func (b Builder) WithMessenger(m Messenger) Builder {
	b.messenger = m
	return b
}

// WithTrainer sets the trainer that runs the task.
func (b Builder) WithTrainer(t Trainer) Builder {
	b.trainer = t
	return b
}

// WithReady sets whether the device announces itself as ready.
func (b Builder) WithReady(ready bool) Builder {
	b.ready = ready
	return b
}

// WithPollInterval sets how often the device checks its inbox while waiting.
func (b Builder) WithPollInterval(d time.Duration) Builder {
	b.pollInterval = d
	return b
}

// Build creates a device. Without a name the device is named after its
// endpoint.
func (b Builder) Build(name string) *Device {
	if b.messenger == nil {
		panic("device needs a messenger")
	}

	if b.trainer == nil {
		panic("device needs a trainer")
	}

	if b.pollInterval <= 0 {
		panic("poll interval must be positive")
	}

	if name == "" {
		name = fmt.Sprintf("Device[%d]", b.id)
	}

	return &Device{
		name:         name,
		id:           b.id,
		serverID:     b.serverID,
		messenger:    b.messenger,
		trainer:      b.trainer,
		ready:        b.ready,
		pollInterval: b.pollInterval,
	}
}
