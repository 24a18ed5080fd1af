package server

import (
	"github.com/sarchlab/fedcomm/comm"
	"github.com/sarchlab/fedcomm/task"
)

type serverDeclarer interface {
	DeclareServer(id comm.EndpointID)
}

// Builder can build servers.
type Builder struct {
	id                    comm.EndpointID
	messenger             Messenger
	maxDevicesPerSelector int
	numDevicesForTask     int
	collection            CollectionPolicy
	partitionPolicy       PartitionPolicy
	notifyUnselected      bool
	taskConfig            task.Config
	globalModel           task.Weights
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		maxDevicesPerSelector: 4,
		collection:            DefaultCollectionPolicy(),
		taskConfig:            task.DefaultConfig(),
	}
}

// WithID sets the endpoint of the server.
func (b Builder) WithID(id comm.EndpointID) Builder {
	b.id = id
	return b
}

// WithMessenger sets how the server talks to devices. A messenger that can
// declare servers, such as a comm.Communicator, learns the server's role.
func (b Builder) WithMessenger(m Messenger) Builder {
	b.messenger = m
	return b
}

// WithMaxDevicesPerSelector sets the capacity of a selector.
func (b Builder) WithMaxDevicesPerSelector(n int) Builder {
	b.maxDevicesPerSelector = n
	return b
}

// WithNumDevicesForTask sets how many devices a round admits in total. Zero
// admits the whole roster.
func (b Builder) WithNumDevicesForTask(n int) Builder {
	b.numDevicesForTask = n
	return b
}

// WithCollectionPolicy sets when readiness collection ends.
func (b Builder) WithCollectionPolicy(p CollectionPolicy) Builder {
	b.collection = p
	return b
}

// WithPartitionPolicy sets how the roster is split across selectors.
func (b Builder) WithPartitionPolicy(p PartitionPolicy) Builder {
	b.partitionPolicy = p
	return b
}

// WithNotifyUnselected makes the server send TRY_LATER to every rostered
// device that a round does not admit.
func (b Builder) WithNotifyUnselected(notify bool) Builder {
	b.notifyUnselected = notify
	return b
}

// WithTaskConfig sets the configuration handed to devices.
func (b Builder) WithTaskConfig(c task.Config) Builder {
	b.taskConfig = c
	return b
}

// WithGlobalModel sets the weights handed to devices.
func (b Builder) WithGlobalModel(w task.Weights) Builder {
	b.globalModel = w
	return b
}

// Build creates a server with the given name.
func (b Builder) Build(name string) *Server {
	if b.messenger == nil {
		panic("server needs a messenger")
	}

	if b.maxDevicesPerSelector <= 0 {
		panic("max devices per selector must be positive")
	}

	if d, ok := b.messenger.(serverDeclarer); ok {
		d.DeclareServer(b.id)
	}

	return &Server{
		name:                  name,
		id:                    b.id,
		messenger:             b.messenger,
		maxDevicesPerSelector: b.maxDevicesPerSelector,
		numDevicesForTask:     b.numDevicesForTask,
		collection:            b.collection,
		partitionPolicy:       b.partitionPolicy,
		notifyUnselected:      b.notifyUnselected,
		taskConfig:            b.taskConfig,
		globalModel:           b.globalModel,
		roster:                NewRoster(),
		carried:               NewRoster(),
		statuses:              make(map[comm.EndpointID]comm.Type),
	}
}
