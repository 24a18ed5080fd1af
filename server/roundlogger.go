package server

import (
	"log"

	"github.com/sarchlab/fedcomm/comm"
)

// RoundLogger is a hook that logs the progress of rounds.
type RoundLogger struct {
	comm.LogHookBase
}

// NewRoundLogger returns a new RoundLogger which will write into the logger.
func NewRoundLogger(logger *log.Logger) *RoundLogger {
	h := new(RoundLogger)
	h.Logger = logger

	return h
}

// Func writes the round event into the logger.
func (h *RoundLogger) Func(ctx comm.HookCtx) {
	switch item := ctx.Item.(type) {
	case int:
		h.Printf("%s,round %d started\n", ctx.Domain.Name(), item)
	case StateChange:
		h.Printf("%s,%s\n", ctx.Domain.Name(), item)
	case RoundResult:
		h.Printf("%s,round %d ended,roster %d,selectors %d,participants %v,"+
			"leftover %v,degenerate %t\n",
			ctx.Domain.Name(), item.Number, item.RosterSize,
			item.NumSelectors, item.ParticipantIDs(), item.Leftover,
			item.Degenerate)
	case DeviceReport:
		h.Printf("%s,round %d,report %s from %s,%s\n",
			ctx.Domain.Name(), item.Round, item.Type, item.DeviceID,
			comm.PayloadType(item.Payload))
	}
}
