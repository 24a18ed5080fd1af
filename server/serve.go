package server

import (
	"context"
	"time"

	"github.com/sarchlab/fedcomm/comm"
)

// Serve answers the participants of the last round until every one of them
// has notified TASK_FINISHED or TASK_ABORTED. It handles the messages
// collected during the round first and then polls the inbox.
//
// Queries are answered with the task configuration and a copy of the global
// model. Gradient updates and metrics are kept as reports. READY
// notifications from devices outside the round are carried into the next
// round's roster.
func (s *Server) Serve(ctx context.Context) ([]DeviceReport, error) {
	last, _ := s.LastRound()
	waiting := make(map[comm.EndpointID]bool, len(last.Participants))
	for _, p := range last.Participants {
		waiting[p.DeviceID] = true
	}

	var reports []DeviceReport

	backlog := s.backlog
	s.backlog = nil
	for _, msg := range backlog {
		r, err := s.handle(msg, last.Number, waiting)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r...)
	}

	if len(waiting) == 0 {
		return reports, nil
	}

	ticker := time.NewTicker(s.collection.pollInterval())
	defer ticker.Stop()

	for {
		msgs, err := s.messenger.RecvMessage(s.id)
		if err != nil {
			return reports, err
		}

		for _, msg := range msgs {
			r, err := s.handle(msg, last.Number, waiting)
			if err != nil {
				return reports, err
			}
			reports = append(reports, r...)
		}

		if len(waiting) == 0 {
			return reports, nil
		}

		select {
		case <-ctx.Done():
			return reports, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) handle(
	msg comm.Msg,
	round int,
	waiting map[comm.EndpointID]bool,
) ([]DeviceReport, error) {
	switch msg.Class {
	case comm.DeviceQuery:
		return nil, s.answer(msg)
	case comm.DeviceSend:
		r := DeviceReport{
			Round:    round,
			DeviceID: msg.Src,
			Type:     msg.Type,
			Payload:  msg.Payload,
			Time:     time.Now(),
		}
		s.addReport(r)

		return []DeviceReport{r}, nil
	case comm.DeviceNotification:
		s.notified(msg, waiting)
	}

	return nil, nil
}

func (s *Server) answer(query comm.Msg) error {
	switch query.Type {
	case comm.QueryTaskConfig:
		return s.messenger.SendMessage(
			s.id, query.Src,
			comm.ServerSend, comm.SendTaskConfig,
			s.taskConfig)
	case comm.QueryGlobalModel:
		return s.messenger.SendMessage(
			s.id, query.Src,
			comm.ServerSend, comm.SendGlobalModel,
			s.globalModel.Clone())
	}

	return nil
}

func (s *Server) notified(msg comm.Msg, waiting map[comm.EndpointID]bool) {
	s.setStatus(msg.Src, msg.Type)

	switch msg.Type {
	case comm.Ready:
		if !waiting[msg.Src] {
			s.carried.Add(RosterEntry{
				DeviceID: msg.Src,
				Channel:  comm.ChannelKey{Src: s.id, Dst: msg.Src},
			})
		}
	case comm.TaskFinished, comm.TaskAborted:
		delete(waiting, msg.Src)
	}
}

func (s *Server) addReport(r DeviceReport) {
	s.lock.Lock()
	s.reports = append(s.reports, r)
	s.lock.Unlock()

	s.InvokeHook(comm.HookCtx{
		Domain: s,
		Pos:    HookPosReport,
		Item:   r,
	})
}
