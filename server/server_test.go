package server

import (
	"bytes"
	"context"
	"log"
	"time"

	"github.com/sarchlab/fedcomm/comm"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const serverID comm.EndpointID = 34

var _ = Describe("Server", func() {
	var (
		ignore goleak.Option
		c      *comm.Communicator
		ctx    context.Context
	)

	BeforeEach(func() {
		ignore = goleak.IgnoreCurrent()
		ctx = context.Background()

		c = comm.NewCommunicator()
		for d := comm.EndpointID(1); d <= 5; d++ {
			Expect(c.Register(d, serverID)).To(Succeed())
		}
	})

	AfterEach(func() {
		goleak.VerifyNone(GinkgoT(), ignore)
	})

	ready := func(devices ...comm.EndpointID) {
		for _, d := range devices {
			Expect(c.SendMessage(d, serverID,
				comm.DeviceNotification, comm.Ready, nil)).To(Succeed())
		}
	}

	inbox := func(d comm.EndpointID) []comm.Msg {
		msgs, err := c.RecvMessage(d)
		Expect(err).NotTo(HaveOccurred())
		return msgs
	}

	build := func(b Builder) *Server {
		return b.WithID(serverID).WithMessenger(c).Build("Server")
	}

	It("should declare its role to the communicator", func() {
		build(MakeBuilder())

		Expect(c.IsServer(serverID)).To(BeTrue())
	})

	It("should admit the ready devices through one selector", func() {
		srv := build(MakeBuilder().
			WithMaxDevicesPerSelector(4).
			WithNumDevicesForTask(2).
			WithCollectionPolicy(SingleDrain()))
		ready(1, 2)

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Number).To(Equal(1))
		Expect(result.ID).NotTo(BeEmpty())
		Expect(result.RosterSize).To(Equal(2))
		Expect(result.NumSelectors).To(Equal(1))
		Expect(result.PerSelector).To(Equal(2))
		Expect(result.ParticipantIDs()).To(Equal([]comm.EndpointID{1, 2}))
		Expect(result.Participants[0].Channel).
			To(Equal(comm.ChannelKey{Src: serverID, Dst: 1}))
		Expect(result.Degenerate).To(BeFalse())
		Expect(srv.State()).To(Equal(Idle))

		for _, d := range []comm.EndpointID{1, 2} {
			msgs := inbox(d)
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Src).To(Equal(serverID))
			Expect(msgs[0].Is(comm.ServerNotification, comm.Selected)).
				To(BeTrue())
		}
		Expect(inbox(3)).To(BeEmpty())
		Expect(inbox(4)).To(BeEmpty())
	})

	It("should leave a device over under floor partitioning", func() {
		srv := build(MakeBuilder().
			WithMaxDevicesPerSelector(2).
			WithCollectionPolicy(SingleDrain()))
		ready(1, 2, 3, 4, 5)

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.NumSelectors).To(Equal(2))
		Expect(result.Selections).To(Equal([]SelectorResult{
			{Selector: 0, Assigned: []comm.EndpointID{1, 2},
				Selected: []comm.EndpointID{1, 2}},
			{Selector: 1, Assigned: []comm.EndpointID{3, 4},
				Selected: []comm.EndpointID{3, 4}},
		}))
		Expect(result.Leftover).To(Equal([]comm.EndpointID{5}))
		Expect(inbox(5)).To(BeEmpty())
	})

	It("should cover leftovers when asked to", func() {
		srv := build(MakeBuilder().
			WithMaxDevicesPerSelector(2).
			WithPartitionPolicy(CoverLeftovers).
			WithCollectionPolicy(SingleDrain()))
		ready(1, 2, 3, 4, 5)

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.NumSelectors).To(Equal(3))
		Expect(result.PerSelector).To(Equal(1))
		Expect(result.ParticipantIDs()).To(Equal([]comm.EndpointID{1, 3, 5}))
		Expect(result.Unselected).To(Equal([]comm.EndpointID{2, 4}))
		Expect(result.Leftover).To(BeEmpty())
	})

	It("should let selectors clamp a quota larger than the roster", func() {
		srv := build(MakeBuilder().
			WithMaxDevicesPerSelector(2).
			WithNumDevicesForTask(9).
			WithPartitionPolicy(CoverLeftovers).
			WithCollectionPolicy(SingleDrain()))
		ready(1, 2, 3, 4, 5)

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.NumSelectors).To(Equal(3))
		Expect(result.PerSelector).To(Equal(3))
		Expect(result.ParticipantIDs()).
			To(Equal([]comm.EndpointID{1, 2, 3, 4, 5}))
		Expect(result.Unselected).To(BeEmpty())
		Expect(result.Degenerate).To(BeFalse())
	})

	It("should complete a degenerate round without ready devices", func() {
		srv := build(MakeBuilder().WithCollectionPolicy(SingleDrain()))

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Degenerate).To(BeTrue())
		Expect(result.NumSelectors).To(Equal(0))
		Expect(result.Participants).To(BeEmpty())
	})

	It("should complete a degenerate round when nobody is admitted", func() {
		srv := build(MakeBuilder().
			WithMaxDevicesPerSelector(2).
			WithNumDevicesForTask(1).
			WithCollectionPolicy(SingleDrain()))
		ready(1, 2, 3, 4)

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.NumSelectors).To(Equal(2))
		Expect(result.PerSelector).To(Equal(0))
		Expect(result.Degenerate).To(BeTrue())
		Expect(result.Participants).To(BeEmpty())
	})

	It("should count a device once even if it is ready twice", func() {
		srv := build(MakeBuilder().WithCollectionPolicy(WaitFor(2, time.Second)))
		ready(1, 1, 2)

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.ParticipantIDs()).To(Equal([]comm.EndpointID{1, 2}))
	})

	It("should wait for late devices until the expected count", func() {
		srv := build(MakeBuilder().
			WithCollectionPolicy(WaitFor(3, 5*time.Second)))
		ready(1)

		done := make(chan RoundResult)
		go func() {
			defer GinkgoRecover()
			result, err := srv.Round(ctx)
			Expect(err).NotTo(HaveOccurred())
			done <- result
		}()

		Eventually(srv.State).Should(Equal(CollectingReadiness))
		ready(2, 3)

		var result RoundResult
		Eventually(done).Should(Receive(&result))
		Expect(result.RosterSize).To(Equal(3))
	})

	It("should stop collecting at the timeout", func() {
		srv := build(MakeBuilder().
			WithCollectionPolicy(WaitFor(5, 30*time.Millisecond)))
		ready(1, 2)

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.RosterSize).To(Equal(2))
		Expect(result.EndTime.Sub(result.StartTime)).
			To(BeNumerically(">=", 30*time.Millisecond))
	})

	It("should abort on cancellation and carry the roster over", func() {
		srv := build(MakeBuilder().
			WithCollectionPolicy(WaitFor(3, time.Minute)))
		ready(1)

		short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err := srv.Round(short)

		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(srv.State()).To(Equal(Idle))
		Expect(srv.Rounds()).To(BeEmpty())

		ready(2, 3)
		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Number).To(Equal(2))
		Expect(result.ParticipantIDs()).To(Equal([]comm.EndpointID{1, 2, 3}))
	})

	It("should tell unselected devices to try later", func() {
		srv := build(MakeBuilder().
			WithMaxDevicesPerSelector(2).
			WithNumDevicesForTask(2).
			WithNotifyUnselected(true).
			WithCollectionPolicy(SingleDrain()))
		ready(1, 2, 3, 4, 5)

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.ParticipantIDs()).To(Equal([]comm.EndpointID{1, 3}))
		Expect(result.Unselected).To(Equal([]comm.EndpointID{2, 4}))
		Expect(result.Leftover).To(Equal([]comm.EndpointID{5}))
		for _, d := range []comm.EndpointID{2, 4, 5} {
			msgs := inbox(d)
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Is(comm.ServerNotification, comm.TryLater)).
				To(BeTrue())
		}
	})

	It("should backlog other messages while collecting", func() {
		srv := build(MakeBuilder().WithCollectionPolicy(SingleDrain()))
		ready(1)
		Expect(c.SendMessage(2, serverID,
			comm.DeviceNotification, comm.NotReady, nil)).To(Succeed())

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.RosterSize).To(Equal(1))
		Expect(result.Backlogged).To(Equal(1))
		status, ok := srv.Status(1)
		Expect(ok).To(BeTrue())
		Expect(status).To(Equal(comm.Ready))
	})

	It("should run a degenerate round before any device registers", func() {
		srv := MakeBuilder().
			WithID(99).
			WithMessenger(c).
			WithCollectionPolicy(SingleDrain()).
			Build("Lonely")

		result, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.RosterSize).To(Equal(0))
		Expect(result.Degenerate).To(BeTrue())
		Expect(result.Participants).To(BeEmpty())
		Expect(srv.State()).To(Equal(Idle))
	})

	It("should admit a device that registers while collecting", func() {
		fresh := comm.NewCommunicator()
		srv := MakeBuilder().
			WithID(serverID).
			WithMessenger(fresh).
			WithCollectionPolicy(WaitFor(1, 2*time.Second)).
			Build("Server")

		joined := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(joined)

			time.Sleep(20 * time.Millisecond)
			Expect(fresh.Register(1, serverID)).To(Succeed())
			Expect(fresh.SendMessage(1, serverID,
				comm.DeviceNotification, comm.Ready, nil)).To(Succeed())
		}()

		result, err := srv.Round(ctx)
		<-joined

		Expect(err).NotTo(HaveOccurred())
		Expect(result.RosterSize).To(Equal(1))
		Expect(result.ParticipantIDs()).To(Equal([]comm.EndpointID{1}))
		msgs, err := fresh.RecvMessage(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Is(comm.ServerNotification, comm.Selected)).To(BeTrue())
	})

	It("should log rounds", func() {
		var out bytes.Buffer
		srv := build(MakeBuilder().WithCollectionPolicy(SingleDrain()))
		srv.AcceptHook(NewRoundLogger(log.New(&out, "", 0)))
		ready(1)

		_, err := srv.Round(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(Equal(
			"Server,round 1 started\n" +
				"Server,round 1: Idle -> CollectingReadiness\n" +
				"Server,round 1: CollectingReadiness -> Partitioning\n" +
				"Server,round 1: Partitioning -> AwaitingRoundCompletion\n" +
				"Server,round 1: AwaitingRoundCompletion -> Idle\n" +
				"Server,round 1 ended,roster 1,selectors 1,participants [1]," +
				"leftover [],degenerate false\n"))
	})

	It("should keep the history of rounds", func() {
		srv := build(MakeBuilder().WithCollectionPolicy(SingleDrain()))
		_, found := srv.LastRound()
		Expect(found).To(BeFalse())

		ready(1)
		_, err := srv.Round(ctx)
		Expect(err).NotTo(HaveOccurred())
		_, err = srv.Round(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(srv.Rounds()).To(HaveLen(2))
		last, found := srv.LastRound()
		Expect(found).To(BeTrue())
		Expect(last.Number).To(Equal(2))
		Expect(last.Degenerate).To(BeTrue())
	})
})

var _ = Describe("Server with a mocked messenger", func() {
	var (
		mockCtrl  *gomock.Controller
		messenger *MockMessenger
		srv       *Server
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		messenger = NewMockMessenger(mockCtrl)
		srv = MakeBuilder().
			WithID(serverID).
			WithMessenger(messenger).
			WithCollectionPolicy(SingleDrain()).
			Build("Server")
	})

	It("should report selector failures", func() {
		messenger.EXPECT().RecvMessage(serverID).Return([]comm.Msg{
			{
				MsgMeta: comm.MsgMeta{Src: 1, Dst: serverID},
				Class:   comm.DeviceNotification,
				Type:    comm.Ready,
			},
		}, nil)
		messenger.EXPECT().
			SendMessage(serverID, comm.EndpointID(1),
				comm.ServerNotification, comm.Selected, nil).
			Return(comm.ErrClosed)

		result, err := srv.Round(context.Background())

		Expect(err).To(MatchError(comm.ErrClosed))
		Expect(result.Participants).To(BeEmpty())
		Expect(srv.State()).To(Equal(Idle))
	})

	It("should ask devices about their state", func() {
		messenger.EXPECT().SendMessage(serverID, comm.EndpointID(7),
			comm.ServerQuery, comm.CheckReady, nil)
		messenger.EXPECT().SendMessage(serverID, comm.EndpointID(7),
			comm.ServerQuery, comm.CheckAlive, nil)

		Expect(srv.CheckReady(7)).To(Succeed())
		Expect(srv.CheckAlive(7)).To(Succeed())
	})

	It("should panic without a messenger", func() {
		Expect(func() { MakeBuilder().Build("Server") }).To(Panic())
	})
})
