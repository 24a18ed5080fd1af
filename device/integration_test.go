package device

import (
	"context"
	"sync"
	"time"

	"github.com/sarchlab/fedcomm/comm"
	"github.com/sarchlab/fedcomm/server"
	"github.com/sarchlab/fedcomm/task"
	"go.uber.org/goleak"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Devices and a server", func() {
	var (
		ignore goleak.Option
	)

	BeforeEach(func() {
		ignore = goleak.IgnoreCurrent()
	})

	AfterEach(func() {
		goleak.VerifyNone(GinkgoT(), ignore)
	})

	It("should complete a round", func() {
		c := comm.NewCommunicator()
		srv := server.MakeBuilder().
			WithID(serverID).
			WithMessenger(c).
			WithMaxDevicesPerSelector(2).
			WithNumDevicesForTask(2).
			WithNotifyUnselected(true).
			WithGlobalModel(task.ZeroWeights(nil, [][]int{{3}})).
			WithCollectionPolicy(server.WaitFor(4, 5*time.Second)).
			Build("Server")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		outcomes := make([]Outcome, 4)
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			d := MakeBuilder().
				WithID(comm.EndpointID(i + 1)).
				WithServerID(serverID).
				WithMessenger(c).
				WithTrainer(SyntheticTrainer{Samples: 8, Seed: int64(i)}).
				Build("")

			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()

				outcome, err := d.Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				outcomes[i] = outcome
			}(i)
		}

		Eventually(func() int { return len(c.Channels()) }).Should(Equal(8))

		result, err := srv.Round(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RosterSize).To(Equal(4))
		Expect(result.Participants).To(HaveLen(2))

		reports, err := srv.Serve(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(4))

		wg.Wait()

		finished := 0
		notSelected := 0
		for _, o := range outcomes {
			switch o {
			case OutcomeFinished:
				finished++
			case OutcomeNotSelected:
				notSelected++
			}
		}
		Expect(finished).To(Equal(2))
		Expect(notSelected).To(Equal(2))

		for _, p := range result.ParticipantIDs() {
			status, _ := srv.Status(p)
			Expect(status).To(Equal(comm.TaskFinished))
		}
	})
})
