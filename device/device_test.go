package device

import (
	"context"
	"errors"
	"time"

	"github.com/sarchlab/fedcomm/comm"
	"github.com/sarchlab/fedcomm/task"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	deviceID comm.EndpointID = 1
	serverID comm.EndpointID = 34
)

type runResult struct {
	outcome Outcome
	err     error
}

var _ = Describe("Device", func() {
	var (
		ignore   goleak.Option
		mockCtrl *gomock.Controller
		trainer  *MockTrainer
		c        *comm.Communicator
		d        *Device
		ctx      context.Context
		cancel   context.CancelFunc
		cfg      task.Config
		model    task.Weights
	)

	BeforeEach(func() {
		ignore = goleak.IgnoreCurrent()
		mockCtrl = gomock.NewController(GinkgoT())
		trainer = NewMockTrainer(mockCtrl)
		c = comm.NewCommunicator()
		c.DeclareServer(serverID)
		ctx, cancel = context.WithCancel(context.Background())

		cfg = task.DefaultConfig()
		model = task.ZeroWeights([]string{"fc"}, [][]int{{2}})

		d = MakeBuilder().
			WithID(deviceID).
			WithServerID(serverID).
			WithMessenger(c).
			WithTrainer(trainer).
			Build("")
	})

	AfterEach(func() {
		cancel()
		goleak.VerifyNone(GinkgoT(), ignore)
	})

	start := func() chan runResult {
		done := make(chan runResult, 1)
		go func() {
			outcome, err := d.Run(ctx)
			done <- runResult{outcome, err}
		}()

		return done
	}

	// next waits for the next message the device sends to the server.
	next := func() comm.Msg {
		var msg comm.Msg
		Eventually(func() bool {
			if !c.IsRegistered(deviceID, serverID) {
				return false
			}

			msgs, err := c.RecvMessage(serverID)
			Expect(err).NotTo(HaveOccurred())
			if len(msgs) == 0 {
				return false
			}

			msg = msgs[0]
			return true
		}).Should(BeTrue())

		return msg
	}

	expectNext := func(class comm.Class, t comm.Type) comm.Msg {
		msg := next()
		Expect(msg.Is(class, t)).To(BeTrue(), "got %s", msg)
		return msg
	}

	reply := func(class comm.Class, t comm.Type, payload any) {
		Expect(c.SendMessage(serverID, deviceID, class, t, payload)).
			To(Succeed())
	}

	It("should be named after its endpoint", func() {
		Expect(d.Name()).To(Equal("Device[1]"))
		Expect(d.ID()).To(Equal(deviceID))
	})

	It("should only announce that it is not ready", func() {
		d.SetReady(false)

		outcome, err := d.Run(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(OutcomeNotReady))
		Expect(c.IsRegistered(deviceID, serverID)).To(BeTrue())
		expectNext(comm.DeviceNotification, comm.NotReady)
	})

	It("should stop when told to try later", func() {
		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerNotification, comm.TryLater, nil)

		var r runResult
		Eventually(done).Should(Receive(&r))
		Expect(r.err).NotTo(HaveOccurred())
		Expect(r.outcome).To(Equal(OutcomeNotSelected))
		Expect(d.Phase()).To(Equal(PhaseDone))
	})

	It("should run the whole task once selected", func() {
		update := task.Update{Round: 1, Samples: 4}
		trainer.EXPECT().
			Train(gomock.Any(), cfg, model).
			Return(update, task.Metrics{"accuracy": 0.5, "error": 0.5}, nil)

		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerNotification, comm.Selected, nil)
		expectNext(comm.DeviceQuery, comm.QueryTaskConfig)
		reply(comm.ServerSend, comm.SendTaskConfig, cfg)
		expectNext(comm.DeviceQuery, comm.QueryGlobalModel)
		reply(comm.ServerSend, comm.SendGlobalModel, model)
		expectNext(comm.DeviceNotification, comm.TaskRunning)

		msg := expectNext(comm.DeviceSend, comm.SendGradientUpdates)
		Expect(msg.Payload).To(Equal(update))
		msg = expectNext(comm.DeviceSend, comm.SendTaskMetrics)
		Expect(msg.Payload).To(Equal(task.Metrics{"accuracy": 0.5}))
		expectNext(comm.DeviceNotification, comm.TaskFinished)

		var r runResult
		Eventually(done).Should(Receive(&r))
		Expect(r.err).NotTo(HaveOccurred())
		Expect(r.outcome).To(Equal(OutcomeFinished))
		Expect(d.Config()).To(Equal(cfg))
		Expect(d.Weights()).To(Equal(model))
	})

	It("should abort when training fails", func() {
		trainErr := errors.New("diverged")
		trainer.EXPECT().
			Train(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(task.Update{}, nil, trainErr)

		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerNotification, comm.Selected, nil)
		expectNext(comm.DeviceQuery, comm.QueryTaskConfig)
		reply(comm.ServerSend, comm.SendTaskConfig, cfg)
		expectNext(comm.DeviceQuery, comm.QueryGlobalModel)
		reply(comm.ServerSend, comm.SendGlobalModel, model)
		expectNext(comm.DeviceNotification, comm.TaskRunning)
		expectNext(comm.DeviceNotification, comm.TaskAborted)

		var r runResult
		Eventually(done).Should(Receive(&r))
		Expect(r.err).To(MatchError(trainErr))
		Expect(r.outcome).To(Equal(OutcomeAborted))
	})

	It("should answer queries while training", func() {
		release := make(chan struct{})
		trainer.EXPECT().
			Train(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(
				ctx context.Context, _ task.Config, _ task.Weights,
			) (task.Update, task.Metrics, error) {
				<-release
				return task.Update{}, task.Metrics{}, nil
			})

		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerNotification, comm.Selected, nil)
		expectNext(comm.DeviceQuery, comm.QueryTaskConfig)
		reply(comm.ServerSend, comm.SendTaskConfig, cfg)
		expectNext(comm.DeviceQuery, comm.QueryGlobalModel)
		reply(comm.ServerSend, comm.SendGlobalModel, model)
		expectNext(comm.DeviceNotification, comm.TaskRunning)

		reply(comm.ServerQuery, comm.CheckAlive, nil)
		expectNext(comm.DeviceNotification, comm.TaskRunning)
		Expect(d.Phase()).To(Equal(PhaseTraining))

		close(release)
		expectNext(comm.DeviceSend, comm.SendGradientUpdates)
		expectNext(comm.DeviceSend, comm.SendTaskMetrics)
		expectNext(comm.DeviceNotification, comm.TaskFinished)
		Eventually(done).Should(Receive())
	})

	It("should answer queries while waiting", func() {
		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerQuery, comm.CheckReady, nil)
		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerQuery, comm.CheckAlive, nil)
		expectNext(comm.DeviceNotification, comm.Ready)

		reply(comm.ServerNotification, comm.TryLater, nil)
		Eventually(done).Should(Receive())
	})

	It("should reject a reply of the wrong class", func() {
		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerSend, comm.SendTaskConfig, cfg)

		var r runResult
		Eventually(done).Should(Receive(&r))
		var protocolErr *ProtocolError
		Expect(errors.As(r.err, &protocolErr)).To(BeTrue())
		Expect(protocolErr.Expected).To(Equal(comm.ServerNotification))
		Expect(protocolErr.Got.Type).To(Equal(comm.SendTaskConfig))
	})

	It("should reject a reply of the wrong type", func() {
		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerNotification, comm.Selected, nil)
		expectNext(comm.DeviceQuery, comm.QueryTaskConfig)
		reply(comm.ServerSend, comm.SendGlobalModel, model)
		expectNext(comm.DeviceNotification, comm.TaskAborted)

		var r runResult
		Eventually(done).Should(Receive(&r))
		Expect(r.err).To(MatchError(ErrProtocol))
		Expect(r.outcome).To(Equal(OutcomeAborted))
	})

	It("should reject a payload of the wrong kind", func() {
		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerNotification, comm.Selected, nil)
		expectNext(comm.DeviceQuery, comm.QueryTaskConfig)
		reply(comm.ServerSend, comm.SendTaskConfig, "not a config")
		expectNext(comm.DeviceNotification, comm.TaskAborted)

		var r runResult
		Eventually(done).Should(Receive(&r))
		Expect(r.err).To(MatchError(ErrProtocol))
		Expect(r.err.Error()).To(ContainSubstring("string"))
		Expect(r.outcome).To(Equal(OutcomeAborted))
	})

	It("should abort when the context ends after selection", func() {
		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerNotification, comm.Selected, nil)
		expectNext(comm.DeviceQuery, comm.QueryTaskConfig)
		cancel()
		expectNext(comm.DeviceNotification, comm.TaskAborted)

		var r runResult
		Eventually(done).Should(Receive(&r))
		Expect(r.err).To(MatchError(context.Canceled))
		Expect(r.outcome).To(Equal(OutcomeAborted))
	})

	It("should stop waiting when the context ends", func() {
		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		cancel()

		var r runResult
		Eventually(done).Should(Receive(&r))
		Expect(r.err).To(MatchError(context.Canceled))
	})

	It("should report phase changes", func() {
		recorder := &phaseRecorder{}
		d.AcceptHook(recorder)
		done := start()

		expectNext(comm.DeviceNotification, comm.Ready)
		reply(comm.ServerNotification, comm.TryLater, nil)
		Eventually(done).Should(Receive())

		Expect(recorder.phases).To(Equal([]Phase{PhaseWaiting, PhaseDone}))
	})

	It("should need a trainer", func() {
		Expect(func() {
			MakeBuilder().WithMessenger(c).Build("Device")
		}).To(Panic())
	})

	It("should need a positive poll interval", func() {
		Expect(func() {
			MakeBuilder().
				WithMessenger(c).
				WithTrainer(trainer).
				WithPollInterval(0).
				Build("Device")
		}).To(Panic())
	})

	It("should fail when its server never answers in time", func() {
		short, cancelShort := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancelShort()

		_, err := d.Run(short)

		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})

type phaseRecorder struct {
	phases []Phase
}

func (r *phaseRecorder) Func(ctx comm.HookCtx) {
	r.phases = append(r.phases, ctx.Item.(PhaseChange).To)
}
