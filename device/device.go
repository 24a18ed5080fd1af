// Package device implements the participant side of a federated-learning
// round. A device announces itself to a server, waits to be admitted, fetches
// the task and the global model, trains, and reports back.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/fedcomm/comm"
	"github.com/sarchlab/fedcomm/task"
)

// A Trainer runs the task on the device. It must return when the context is
// canceled.
type Trainer interface {
	Train(
		ctx context.Context,
		config task.Config,
		weights task.Weights,
	) (task.Update, task.Metrics, error)
}

// A Messenger lets the device register with and talk to a server.
type Messenger interface {
	Register(a, b comm.EndpointID) error
	SendMessage(
		src, dst comm.EndpointID,
		class comm.Class,
		msgType comm.Type,
		payload any,
	) error
	RecvMessage(dst comm.EndpointID) ([]comm.Msg, error)
}

// Outcome is how a run ended.
type Outcome int

// Outcomes of a run.
const (
	OutcomeNone Outcome = iota
	OutcomeNotReady
	OutcomeNotSelected
	OutcomeFinished
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotReady:
		return "NotReady"
	case OutcomeNotSelected:
		return "NotSelected"
	case OutcomeFinished:
		return "Finished"
	case OutcomeAborted:
		return "Aborted"
	default:
		return "None"
	}
}

// Phase is where the device is in its run.
type Phase int

// Phases of a run.
const (
	PhaseIdle Phase = iota
	PhaseWaiting
	PhaseSelected
	PhaseTraining
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseWaiting:
		return "Waiting"
	case PhaseSelected:
		return "Selected"
	case PhaseTraining:
		return "Training"
	case PhaseDone:
		return "Done"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// HookPosPhaseChange marks a phase transition. The item is a PhaseChange.
var HookPosPhaseChange = &comm.HookPos{Name: "Phase Change"}

// PhaseChange is the item of HookPosPhaseChange.
type PhaseChange struct {
	From, To Phase
}

func (c PhaseChange) String() string {
	return fmt.Sprintf("%s -> %s", c.From, c.To)
}

// ErrProtocol is matched by every ProtocolError.
var ErrProtocol = errors.New("protocol error")

// ProtocolError reports a message the server should not have sent at that
// point of the exchange.
type ProtocolError struct {
	Expected comm.Class
	Got      comm.Msg
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("expected a %s message, got %s", e.Expected, e.Got)
}

// Is makes the error match ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// A Device is one participant. Run may be called again after it returns.
type Device struct {
	comm.HookableBase

	name         string
	id           comm.EndpointID
	serverID     comm.EndpointID
	messenger    Messenger
	trainer      Trainer
	ready        bool
	pollInterval time.Duration

	lock    sync.Mutex
	phase   Phase
	config  task.Config
	weights task.Weights
}

// Name returns the name of the device.
func (d *Device) Name() string {
	return d.name
}

// ID returns the endpoint of the device.
func (d *Device) ID() comm.EndpointID {
	return d.id
}

// Phase returns the current phase.
func (d *Device) Phase() Phase {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.phase
}

// SetReady changes what the device tells the server about its readiness.
func (d *Device) SetReady(ready bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.ready = ready
}

func (d *Device) isReady() bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.ready
}

// Config returns the task configuration received in the last run.
func (d *Device) Config() task.Config {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.config
}

// Weights returns the global model received in the last run.
func (d *Device) Weights() task.Weights {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.weights
}

// Run takes part in one round. It registers with the server, announces its
// readiness, and, once selected, fetches the task and the global model,
// trains, and reports. A device that is not ready only sends NOT_READY.
//
// CHECK_ALIVE and CHECK_READY queries are answered while waiting and while
// training. Any failure after selection is reported to the server with
// TASK_ABORTED and returned with OutcomeAborted.
func (d *Device) Run(ctx context.Context) (Outcome, error) {
	defer d.setPhase(PhaseDone)

	if err := d.messenger.Register(d.id, d.serverID); err != nil {
		return OutcomeNone, err
	}

	if !d.isReady() {
		return OutcomeNotReady, d.notify(comm.NotReady)
	}

	d.setPhase(PhaseWaiting)
	if err := d.notify(comm.Ready); err != nil {
		return OutcomeNone, err
	}

	selected, err := d.awaitSelection(ctx)
	if err != nil {
		return OutcomeNone, err
	}

	if !selected {
		return OutcomeNotSelected, nil
	}

	d.setPhase(PhaseSelected)

	if err := d.participate(ctx); err != nil {
		return OutcomeAborted, d.abort(err)
	}

	return OutcomeFinished, nil
}

func (d *Device) participate(ctx context.Context) error {
	cfgMsg, err := d.query(ctx, comm.QueryTaskConfig, comm.SendTaskConfig)
	if err != nil {
		return err
	}

	cfg, ok := cfgMsg.Payload.(task.Config)
	if !ok {
		return fmt.Errorf("%w: task config payload is %s",
			ErrProtocol, comm.PayloadType(cfgMsg.Payload))
	}

	modelMsg, err := d.query(ctx, comm.QueryGlobalModel, comm.SendGlobalModel)
	if err != nil {
		return err
	}

	weights, ok := modelMsg.Payload.(task.Weights)
	if !ok {
		return fmt.Errorf("%w: global model payload is %s",
			ErrProtocol, comm.PayloadType(modelMsg.Payload))
	}

	d.lock.Lock()
	d.config = cfg
	d.weights = weights
	d.lock.Unlock()

	d.setPhase(PhaseTraining)
	if err := d.notify(comm.TaskRunning); err != nil {
		return err
	}

	update, metrics, err := d.train(ctx, cfg, weights)
	if err != nil {
		return err
	}

	return d.report(cfg, update, metrics)
}

// abort tells the server that the device gave up on the task, so that the
// server stops waiting for it.
func (d *Device) abort(cause error) error {
	if err := d.notify(comm.TaskAborted); err != nil {
		return errors.Join(cause, err)
	}

	return cause
}

func (d *Device) report(
	cfg task.Config,
	update task.Update,
	metrics task.Metrics,
) error {
	if len(cfg.Metrics) > 0 {
		metrics = metrics.Select(cfg.Metrics)
	}

	err := d.send(comm.DeviceSend, comm.SendGradientUpdates, update)
	if err != nil {
		return err
	}

	err = d.send(comm.DeviceSend, comm.SendTaskMetrics, metrics)
	if err != nil {
		return err
	}

	return d.notify(comm.TaskFinished)
}

type trainResult struct {
	update  task.Update
	metrics task.Metrics
	err     error
}

// train runs the trainer in the background and keeps answering the server
// until it returns.
func (d *Device) train(
	ctx context.Context,
	cfg task.Config,
	weights task.Weights,
) (task.Update, task.Metrics, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan trainResult, 1)
	go func() {
		u, m, err := d.trainer.Train(ctx, cfg, weights)
		done <- trainResult{u, m, err}
	}()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-done:
			return r.update, r.metrics, r.err
		case <-ticker.C:
			if err := d.answerPending(); err != nil {
				cancel()
				r := <-done
				return r.update, r.metrics, errors.Join(r.err, err)
			}
		}
	}
}

func (d *Device) answerPending() error {
	msgs, err := d.messenger.RecvMessage(d.id)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if msg.Class != comm.ServerQuery {
			return &ProtocolError{Expected: comm.ServerQuery, Got: msg}
		}

		if err := d.answer(msg); err != nil {
			return err
		}
	}

	return nil
}

// awaitSelection waits for SELECTED or TRY_LATER.
func (d *Device) awaitSelection(ctx context.Context) (bool, error) {
	msg, err := d.await(ctx, comm.ServerNotification)
	if err != nil {
		return false, err
	}

	return msg.Type == comm.Selected, nil
}

// query asks the server and waits for the reply of the given type.
func (d *Device) query(
	ctx context.Context,
	q comm.Type,
	reply comm.Type,
) (comm.Msg, error) {
	if err := d.send(comm.DeviceQuery, q, nil); err != nil {
		return comm.Msg{}, err
	}

	msg, err := d.await(ctx, comm.ServerSend)
	if err != nil {
		return comm.Msg{}, err
	}

	if msg.Type != reply {
		return comm.Msg{}, fmt.Errorf("%w: asked %s, got %s",
			ErrProtocol, q, msg.Type)
	}

	return msg, nil
}

// await polls until a message of the class arrives. Server queries are
// answered on the way and any other class is a protocol error.
func (d *Device) await(ctx context.Context, class comm.Class) (comm.Msg, error) {
	var queue []comm.Msg

	for {
		if len(queue) == 0 {
			msgs, err := d.messenger.RecvMessage(d.id)
			if err != nil {
				return comm.Msg{}, err
			}
			queue = msgs
		}

		for len(queue) > 0 {
			msg := queue[0]
			queue = queue[1:]

			switch msg.Class {
			case class:
				return msg, nil
			case comm.ServerQuery:
				if err := d.answer(msg); err != nil {
					return comm.Msg{}, err
				}
			default:
				return comm.Msg{}, &ProtocolError{Expected: class, Got: msg}
			}
		}

		select {
		case <-ctx.Done():
			return comm.Msg{}, ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
}

func (d *Device) answer(q comm.Msg) error {
	switch q.Type {
	case comm.CheckReady:
		if d.isReady() {
			return d.notify(comm.Ready)
		}
		return d.notify(comm.NotReady)
	case comm.CheckAlive:
		switch d.Phase() {
		case PhaseTraining:
			return d.notify(comm.TaskRunning)
		case PhaseWaiting, PhaseSelected:
			return d.notify(comm.Ready)
		default:
			return d.notify(comm.NotReady)
		}
	}

	return nil
}

func (d *Device) notify(t comm.Type) error {
	return d.send(comm.DeviceNotification, t, nil)
}

func (d *Device) send(class comm.Class, t comm.Type, payload any) error {
	return d.messenger.SendMessage(d.id, d.serverID, class, t, payload)
}

func (d *Device) setPhase(to Phase) {
	d.lock.Lock()
	from := d.phase
	d.phase = to
	d.lock.Unlock()

	if from == to {
		return
	}

	d.InvokeHook(comm.HookCtx{
		Domain: d,
		Pos:    HookPosPhaseChange,
		Item:   PhaseChange{From: from, To: to},
	})
}
