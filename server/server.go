// Package server implements the coordinating side of a federated-learning
// round: readiness collection, partitioning of the roster across selectors,
// admission of devices, and serving the admitted devices until they report.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/sarchlab/fedcomm/comm"
	"github.com/sarchlab/fedcomm/task"
)

// State is the phase of the round state machine.
type State int

// States of the round state machine.
const (
	Idle State = iota
	CollectingReadiness
	Partitioning
	AwaitingRoundCompletion
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case CollectingReadiness:
		return "CollectingReadiness"
	case Partitioning:
		return "Partitioning"
	case AwaitingRoundCompletion:
		return "AwaitingRoundCompletion"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// HookPosRoundStart marks the start of a round. The item is the round number.
var HookPosRoundStart = &comm.HookPos{Name: "Round Start"}

// HookPosStateChange marks a transition. The item is a StateChange.
var HookPosStateChange = &comm.HookPos{Name: "State Change"}

// HookPosRoundEnd marks the end of a round. The item is the RoundResult.
var HookPosRoundEnd = &comm.HookPos{Name: "Round End"}

// HookPosReport marks a report received while serving. The item is the
// DeviceReport.
var HookPosReport = &comm.HookPos{Name: "Report"}

// StateChange is the item of HookPosStateChange.
type StateChange struct {
	Round    int
	From, To State
}

func (c StateChange) String() string {
	return fmt.Sprintf("round %d: %s -> %s", c.Round, c.From, c.To)
}

// A Messenger sends and receives messages for the server.
type Messenger interface {
	Sender
	RecvMessage(dst comm.EndpointID) ([]comm.Msg, error)
}

// SelectorResult is what one selector admitted.
type SelectorResult struct {
	Selector int               `json:"selector"`
	Assigned []comm.EndpointID `json:"assigned"`
	Selected []comm.EndpointID `json:"selected"`
}

// RoundResult summarizes a finished round.
type RoundResult struct {
	ID           string            `json:"id"`
	Number       int               `json:"number"`
	RosterSize   int               `json:"roster_size"`
	NumSelectors int               `json:"num_selectors"`
	PerSelector  int               `json:"per_selector"`
	Participants []RosterEntry     `json:"participants"`
	Selections   []SelectorResult  `json:"selections"`
	Unselected   []comm.EndpointID `json:"unselected"`
	Leftover     []comm.EndpointID `json:"leftover"`
	Backlogged   int               `json:"backlogged"`
	Degenerate   bool              `json:"degenerate"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
}

// ParticipantIDs lists the admitted devices in selector order.
func (r RoundResult) ParticipantIDs() []comm.EndpointID {
	ids := make([]comm.EndpointID, len(r.Participants))
	for i, p := range r.Participants {
		ids[i] = p.DeviceID
	}

	return ids
}

// A DeviceReport is a gradient update or a metric record sent by a device.
type DeviceReport struct {
	Round    int             `json:"round"`
	DeviceID comm.EndpointID `json:"device_id"`
	Type     comm.Type       `json:"type"`
	Payload  any             `json:"-"`
	Time     time.Time       `json:"time"`
}

// A Server runs rounds. Round and Serve must be called from a single
// goroutine; the accessors may be called from anywhere.
type Server struct {
	comm.HookableBase

	name      string
	id        comm.EndpointID
	messenger Messenger

	maxDevicesPerSelector int
	numDevicesForTask     int
	collection            CollectionPolicy
	partitionPolicy       PartitionPolicy
	notifyUnselected      bool
	taskConfig            task.Config
	globalModel           task.Weights

	lock     sync.Mutex
	state    State
	round    int
	roster   *Roster
	carried  *Roster
	backlog  []comm.Msg
	rounds   []RoundResult
	statuses map[comm.EndpointID]comm.Type
	reports  []DeviceReport
}

// Name returns the name of the server.
func (s *Server) Name() string {
	return s.name
}

// ID returns the endpoint of the server.
func (s *Server) ID() comm.EndpointID {
	return s.id
}

// State returns the current state.
func (s *Server) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.state
}

// Rounds returns the results of all finished rounds.
func (s *Server) Rounds() []RoundResult {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]RoundResult(nil), s.rounds...)
}

// LastRound returns the result of the latest finished round.
func (s *Server) LastRound() (RoundResult, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.rounds) == 0 {
		return RoundResult{}, false
	}

	return s.rounds[len(s.rounds)-1], true
}

// Status returns the last notification type received from a device.
func (s *Server) Status(device comm.EndpointID) (comm.Type, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	t, ok := s.statuses[device]

	return t, ok
}

// Statuses returns the last notification type of every device heard from.
func (s *Server) Statuses() map[comm.EndpointID]comm.Type {
	s.lock.Lock()
	defer s.lock.Unlock()

	out := make(map[comm.EndpointID]comm.Type, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}

	return out
}

// Reports returns every report received so far.
func (s *Server) Reports() []DeviceReport {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]DeviceReport(nil), s.reports...)
}

// Round runs one round: it collects readiness, partitions the roster, and
// admits devices through selectors. A round with no ready device is
// degenerate and completes with no participant. Canceling the context while
// collecting aborts the round.
func (s *Server) Round(ctx context.Context) (RoundResult, error) {
	s.lock.Lock()
	if s.state != Idle {
		s.lock.Unlock()
		panic("round already in progress")
	}
	s.round++
	number := s.round
	s.lock.Unlock()

	result := RoundResult{
		ID:        newRoundID(),
		Number:    number,
		StartTime: time.Now(),
	}

	s.InvokeHook(comm.HookCtx{
		Domain: s,
		Pos:    HookPosRoundStart,
		Item:   number,
	})

	s.setState(CollectingReadiness)

	backlogBefore := len(s.backlog)
	err := s.collect(ctx)
	result.Backlogged = len(s.backlog) - backlogBefore
	if err != nil {
		s.carryRoster()
		s.setState(Idle)
		return result, err
	}

	s.setState(Partitioning)
	entries := s.roster.Entries()
	result.RosterSize = len(entries)

	chunks, leftover := partition(
		entries, s.maxDevicesPerSelector, s.partitionPolicy)
	result.NumSelectors = len(chunks)
	result.Leftover = ids(leftover)
	result.PerSelector = s.perSelector(len(entries), len(chunks))
	result.Degenerate = len(chunks) == 0 || result.PerSelector == 0

	s.setState(AwaitingRoundCompletion)
	err = s.runSelectors(chunks, result.PerSelector, &result)

	if err == nil && s.notifyUnselected {
		notified := append(append([]comm.EndpointID(nil), result.Unselected...),
			result.Leftover...)
		err = s.sendTryLater(notified)
	}

	result.EndTime = time.Now()
	s.finishRound(result)

	return result, err
}

func newRoundID() string {
	u, err := uuid.NewV4()
	if err != nil {
		panic(err)
	}

	return u.String()
}

func (s *Server) perSelector(rosterSize, numSelectors int) int {
	if numSelectors == 0 {
		return 0
	}

	total := s.numDevicesForTask
	if total <= 0 {
		total = rosterSize
	}

	// Selectors clamp the quota to their own chunk.
	return total / numSelectors
}

func (s *Server) collect(ctx context.Context) error {
	s.roster.Clear()
	for _, e := range s.carried.Entries() {
		s.roster.Add(e)
	}
	s.carried.Clear()

	if err := s.drain(); err != nil {
		return err
	}

	if s.collection.IsSingleDrain() || s.collection.reached(s.roster.Len()) {
		return nil
	}

	deadline := time.NewTimer(s.collection.Timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(s.collection.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-ticker.C:
			if err := s.drain(); err != nil {
				return err
			}

			if s.collection.reached(s.roster.Len()) {
				return nil
			}
		}
	}
}

// drain polls the inbox once. READY notifications join the roster and
// everything else is kept for Serve.
func (s *Server) drain() error {
	msgs, err := s.messenger.RecvMessage(s.id)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if msg.Is(comm.DeviceNotification, comm.Ready) {
			s.roster.Add(RosterEntry{
				DeviceID: msg.Src,
				Channel:  comm.ChannelKey{Src: s.id, Dst: msg.Src},
			})
			s.setStatus(msg.Src, comm.Ready)

			continue
		}

		s.backlog = append(s.backlog, msg)
	}

	return nil
}

// carryRoster keeps the devices of an aborted round ready for the next one.
func (s *Server) carryRoster() {
	for _, e := range s.roster.Entries() {
		s.carried.Add(e)
	}
	s.roster.Clear()
}

func (s *Server) runSelectors(
	chunks [][]RosterEntry,
	perSelector int,
	result *RoundResult,
) error {
	selectors := make([]*Selector, len(chunks))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		selectors[i] = NewSelector(i, s.id, s.messenger, chunk)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = selectors[i].SelectDevices(perSelector)
		}(i)
	}
	wg.Wait()

	for _, sel := range selectors {
		selected := sel.SelectedDevices()
		result.Participants = append(result.Participants, selected...)
		result.Unselected = append(result.Unselected, ids(sel.Unselected())...)
		result.Selections = append(result.Selections, SelectorResult{
			Selector: sel.ID(),
			Assigned: ids(sel.Roster()),
			Selected: ids(selected),
		})
	}

	return errors.Join(errs...)
}

func (s *Server) sendTryLater(devices []comm.EndpointID) error {
	for _, d := range devices {
		err := s.messenger.SendMessage(
			s.id, d, comm.ServerNotification, comm.TryLater, nil)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) finishRound(result RoundResult) {
	s.roster.Clear()

	s.lock.Lock()
	s.rounds = append(s.rounds, result)
	s.lock.Unlock()

	s.setState(Idle)

	s.InvokeHook(comm.HookCtx{
		Domain: s,
		Pos:    HookPosRoundEnd,
		Item:   result,
	})
}

func (s *Server) setState(to State) {
	s.lock.Lock()
	from := s.state
	s.state = to
	round := s.round
	s.lock.Unlock()

	if from == to {
		return
	}

	s.InvokeHook(comm.HookCtx{
		Domain: s,
		Pos:    HookPosStateChange,
		Item:   StateChange{Round: round, From: from, To: to},
	})
}

func (s *Server) setStatus(device comm.EndpointID, t comm.Type) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.statuses[device] = t
}

// CheckReady asks a device whether it is ready. The answer arrives as a
// notification and is visible through Status once Serve or Round reads it.
func (s *Server) CheckReady(device comm.EndpointID) error {
	return s.messenger.SendMessage(
		s.id, device, comm.ServerQuery, comm.CheckReady, nil)
}

// CheckAlive asks a device for its status.
func (s *Server) CheckAlive(device comm.EndpointID) error {
	return s.messenger.SendMessage(
		s.id, device, comm.ServerQuery, comm.CheckAlive, nil)
}

func ids(entries []RosterEntry) []comm.EndpointID {
	if len(entries) == 0 {
		return nil
	}

	out := make([]comm.EndpointID, len(entries))
	for i, e := range entries {
		out[i] = e.DeviceID
	}

	return out
}
