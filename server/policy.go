package server

import "time"

// CollectionPolicy decides when the server stops collecting readiness
// notifications and starts partitioning.
//
// Collection ends as soon as ExpectedDevices devices are on the roster, or
// when Timeout elapses. With ExpectedDevices set to 0 the server waits for the
// whole Timeout window. The inbox is re-polled every PollInterval.
type CollectionPolicy struct {
	ExpectedDevices int
	Timeout         time.Duration
	PollInterval    time.Duration

	singleDrain bool
}

// DefaultCollectionPolicy waits up to one second for readiness notifications.
func DefaultCollectionPolicy() CollectionPolicy {
	return CollectionPolicy{
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

// WaitFor waits until n devices are ready, or until the timeout.
func WaitFor(n int, timeout time.Duration) CollectionPolicy {
	p := DefaultCollectionPolicy()
	p.ExpectedDevices = n
	p.Timeout = timeout

	return p
}

// SingleDrain polls the inbox exactly once and partitions whatever arrived.
func SingleDrain() CollectionPolicy {
	return CollectionPolicy{singleDrain: true}
}

// IsSingleDrain tells if the policy polls only once.
func (p CollectionPolicy) IsSingleDrain() bool {
	return p.singleDrain
}

func (p CollectionPolicy) pollInterval() time.Duration {
	if p.PollInterval <= 0 {
		return 10 * time.Millisecond
	}

	return p.PollInterval
}

func (p CollectionPolicy) reached(rosterSize int) bool {
	return p.ExpectedDevices > 0 && rosterSize >= p.ExpectedDevices
}

// PartitionPolicy decides how many selectors a roster is split across.
type PartitionPolicy int

// Partition policies.
const (
	// FloorPartition spawns rosterSize / maxDevicesPerSelector selectors,
	// and at least one for a non-empty roster. Devices past the last full
	// chunk are left over.
	FloorPartition PartitionPolicy = iota

	// CoverLeftovers spawns enough selectors to cover every device. The last
	// selector may get a short chunk.
	CoverLeftovers
)

func (p PartitionPolicy) String() string {
	switch p {
	case FloorPartition:
		return "FloorPartition"
	case CoverLeftovers:
		return "CoverLeftovers"
	default:
		return "PartitionPolicy(?)"
	}
}
