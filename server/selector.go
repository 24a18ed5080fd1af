package server

import (
	"fmt"

	"github.com/sarchlab/fedcomm/comm"
)

// A Sender can send messages on behalf of an endpoint.
type Sender interface {
	SendMessage(
		src, dst comm.EndpointID,
		class comm.Class,
		msgType comm.Type,
		payload any,
	) error
}

// A Selector admits a bounded subset of its slice of the roster into a
// round. It is created per round and discarded at the end of it.
type Selector struct {
	id       int
	serverID comm.EndpointID
	sender   Sender
	roster   []RosterEntry
	selected []RosterEntry
}

// NewSelector creates a selector that owns the given roster slice. Every entry
// must be reached over a channel from the server to its device.
func NewSelector(
	id int,
	serverID comm.EndpointID,
	sender Sender,
	roster []RosterEntry,
) *Selector {
	for _, e := range roster {
		want := comm.ChannelKey{Src: serverID, Dst: e.DeviceID}
		if e.Channel != want {
			panic(fmt.Sprintf("device %d is reached over %v, not %v",
				e.DeviceID, e.Channel, want))
		}
	}

	return &Selector{
		id:       id,
		serverID: serverID,
		sender:   sender,
		roster:   append([]RosterEntry(nil), roster...),
	}
}

// ID returns the index of the selector within its round.
func (s *Selector) ID() int {
	return s.id
}

// Roster returns the entries assigned to the selector.
func (s *Selector) Roster() []RosterEntry {
	return s.roster
}

// SelectDevices sends SELECTED over the channel of the first count entries of
// the roster in roster order. A count larger than the roster selects everyone. It stops at
// the first failed send; devices notified before the failure stay selected.
func (s *Selector) SelectDevices(count int) error {
	count = max(0, min(count, len(s.roster)))

	for _, e := range s.roster[:count] {
		err := s.sender.SendMessage(
			e.Channel.Src, e.Channel.Dst,
			comm.ServerNotification, comm.Selected,
			nil)
		if err != nil {
			return fmt.Errorf("selector %d: %w", s.id, err)
		}

		s.selected = append(s.selected, e)
	}

	return nil
}

// SelectedDevices returns the admitted entries in the order they were
// notified.
func (s *Selector) SelectedDevices() []RosterEntry {
	return s.selected
}

// Unselected returns the entries of the roster that were not admitted.
func (s *Selector) Unselected() []RosterEntry {
	return s.roster[len(s.selected):]
}
