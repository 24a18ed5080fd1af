package server

import "github.com/sarchlab/fedcomm/comm"

// A RosterEntry is a device confirmed as ready. Channel is the server to
// device channel that reaches it.
type RosterEntry struct {
	DeviceID comm.EndpointID `json:"device_id"`
	Channel  comm.ChannelKey `json:"channel"`
}

// A Roster keeps the ready devices of a round in arrival order. A device is
// listed at most once.
type Roster struct {
	entries []RosterEntry
	index   map[comm.EndpointID]int
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{index: make(map[comm.EndpointID]int)}
}

// Add appends the entry unless the device is already listed. It returns
// whether the entry was added.
func (r *Roster) Add(e RosterEntry) bool {
	if _, found := r.index[e.DeviceID]; found {
		return false
	}

	r.index[e.DeviceID] = len(r.entries)
	r.entries = append(r.entries, e)

	return true
}

// Contains tells if the device is listed.
func (r *Roster) Contains(id comm.EndpointID) bool {
	_, found := r.index[id]
	return found
}

// Len returns the number of listed devices.
func (r *Roster) Len() int {
	return len(r.entries)
}

// Entries returns a copy of the entries in arrival order.
func (r *Roster) Entries() []RosterEntry {
	return append([]RosterEntry(nil), r.entries...)
}

// Clear removes every entry.
func (r *Roster) Clear() {
	r.entries = nil
	r.index = make(map[comm.EndpointID]int)
}

// partition splits the entries into contiguous chunks of at most
// maxPerSelector entries. Under FloorPartition the entries after the last
// full chunk are returned as leftover.
func partition(
	entries []RosterEntry,
	maxPerSelector int,
	policy PartitionPolicy,
) (chunks [][]RosterEntry, leftover []RosterEntry) {
	if maxPerSelector <= 0 {
		panic("max devices per selector must be positive")
	}

	n := len(entries)
	if n == 0 {
		return nil, nil
	}

	numSelectors := n / maxPerSelector
	if policy == CoverLeftovers {
		numSelectors = (n + maxPerSelector - 1) / maxPerSelector
	}

	if numSelectors == 0 {
		numSelectors = 1
	}

	for i := 0; i < numSelectors; i++ {
		start := i * maxPerSelector
		end := min(start+maxPerSelector, n)
		chunks = append(chunks, entries[start:end])
	}

	covered := min(numSelectors*maxPerSelector, n)
	if covered < n {
		leftover = entries[covered:]
	}

	return chunks, leftover
}
