package recording

import (
	"time"

	"github.com/sarchlab/fedcomm/comm"
	"github.com/sarchlab/fedcomm/server"
)

// Table names.
const (
	MessagesTable     = "messages"
	RoundsTable       = "rounds"
	ParticipantsTable = "participants"
	ReportsTable      = "reports"
)

// MsgEntry is a row of the messages table.
type MsgEntry struct {
	Time        int64
	Domain      string
	Pos         string
	ID          string
	Src         int
	Dst         int
	Class       string
	Type        string
	PayloadType string
}

// RoundEntry is a row of the rounds table.
type RoundEntry struct {
	ID           string
	Server       string
	Number       int
	RosterSize   int
	NumSelectors int
	PerSelector  int
	Participants int
	Unselected   int
	Leftover     int
	Backlogged   int
	Degenerate   bool
	StartTime    int64
	EndTime      int64
}

// ParticipantEntry is a row of the participants table.
type ParticipantEntry struct {
	RoundID  string
	DeviceID int
	Selector int
}

// ReportEntry is a row of the reports table.
type ReportEntry struct {
	Server      string
	Round       int
	DeviceID    int
	Type        string
	PayloadType string
	Time        int64
}

// MsgRecorder is a comm hook that records every message sent and received.
type MsgRecorder struct {
	recorder DataRecorder
}

// NewMsgRecorder creates the messages table and returns the hook.
func NewMsgRecorder(recorder DataRecorder) *MsgRecorder {
	recorder.CreateTable(MessagesTable, MsgEntry{})

	return &MsgRecorder{recorder: recorder}
}

// Func records the message of the hook context, if any.
func (h *MsgRecorder) Func(ctx comm.HookCtx) {
	msg, ok := ctx.Item.(comm.Msg)
	if !ok {
		return
	}

	h.recorder.InsertData(MessagesTable, MsgEntry{
		Time:        time.Now().UnixNano(),
		Domain:      ctx.Domain.Name(),
		Pos:         ctx.Pos.Name,
		ID:          msg.ID,
		Src:         int(msg.Src),
		Dst:         int(msg.Dst),
		Class:       msg.Class.String(),
		Type:        msg.Type.String(),
		PayloadType: comm.PayloadType(msg.Payload),
	})
}

// RoundRecorder is a server hook that records round results and reports.
type RoundRecorder struct {
	recorder DataRecorder
}

// NewRoundRecorder creates the rounds, participants and reports tables and
// returns the hook.
func NewRoundRecorder(recorder DataRecorder) *RoundRecorder {
	recorder.CreateTable(RoundsTable, RoundEntry{})
	recorder.CreateTable(ParticipantsTable, ParticipantEntry{})
	recorder.CreateTable(ReportsTable, ReportEntry{})

	return &RoundRecorder{recorder: recorder}
}

// Func records finished rounds and received reports.
func (h *RoundRecorder) Func(ctx comm.HookCtx) {
	switch item := ctx.Item.(type) {
	case server.RoundResult:
		h.recordRound(ctx.Domain.Name(), item)
	case server.DeviceReport:
		h.recorder.InsertData(ReportsTable, ReportEntry{
			Server:      ctx.Domain.Name(),
			Round:       item.Round,
			DeviceID:    int(item.DeviceID),
			Type:        item.Type.String(),
			PayloadType: comm.PayloadType(item.Payload),
			Time:        item.Time.UnixNano(),
		})
	}
}

func (h *RoundRecorder) recordRound(serverName string, r server.RoundResult) {
	h.recorder.InsertData(RoundsTable, RoundEntry{
		ID:           r.ID,
		Server:       serverName,
		Number:       r.Number,
		RosterSize:   r.RosterSize,
		NumSelectors: r.NumSelectors,
		PerSelector:  r.PerSelector,
		Participants: len(r.Participants),
		Unselected:   len(r.Unselected),
		Leftover:     len(r.Leftover),
		Backlogged:   r.Backlogged,
		Degenerate:   r.Degenerate,
		StartTime:    r.StartTime.UnixNano(),
		EndTime:      r.EndTime.UnixNano(),
	})

	for _, sel := range r.Selections {
		for _, d := range sel.Selected {
			h.recorder.InsertData(ParticipantsTable, ParticipantEntry{
				RoundID:  r.ID,
				DeviceID: int(d),
				Selector: sel.Selector,
			})
		}
	}
}
