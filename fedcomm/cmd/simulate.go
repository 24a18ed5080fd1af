package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/pkg/browser"
	"github.com/sarchlab/fedcomm/comm"
	"github.com/sarchlab/fedcomm/device"
	"github.com/sarchlab/fedcomm/monitoring"
	"github.com/sarchlab/fedcomm/recording"
	"github.com/sarchlab/fedcomm/server"
	"github.com/sarchlab/fedcomm/task"
	"github.com/spf13/cobra"
)

// simulation holds the options of the simulate command.
type simulation struct {
	devices               int
	unready               int
	serverID              int
	maxDevicesPerSelector int
	devicesForTask        int
	rounds                int
	expected              int
	timeout               time.Duration
	epochTime             time.Duration
	taskConfig            string
	record                bool
	recordFile            string
	monitor               bool
	monitorPort           int
	openMonitor           bool
	notifyUnselected      bool
	coverLeftovers        bool
	verbose               bool
}

var sim simulation

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run federated rounds between a server and simulated devices.",
	Long: `Run federated rounds between a server and simulated devices. ` +
		`Each round, every device announces itself, the server partitions ` +
		`the ready devices across its selectors, and the selected devices ` +
		`train a synthetic model and report back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return sim.run(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	f := simulateCmd.Flags()
	f.IntVar(&sim.devices, "devices", 8, "Number of simulated devices.")
	f.IntVar(&sim.unready, "unready", 0,
		"Number of devices that report they are not ready.")
	f.IntVar(&sim.serverID, "server-id", 0,
		"Endpoint of the server. Devices take the endpoints after it.")
	f.IntVar(&sim.maxDevicesPerSelector, "max-devices-per-selector", 4,
		"Maximum number of devices handed to one selector.")
	f.IntVar(&sim.devicesForTask, "devices-for-task", 0,
		"Number of devices to admit per round. 0 admits every ready device.")
	f.IntVar(&sim.rounds, "rounds", 1, "Number of rounds to run.")
	f.IntVar(&sim.expected, "expected", 0,
		"Ready devices to wait for before partitioning. "+
			"0 waits for every ready device.")
	f.DurationVar(&sim.timeout, "timeout", time.Second,
		"Longest time to wait for devices to become ready.")
	f.DurationVar(&sim.epochTime, "epoch-time", 10*time.Millisecond,
		"Time a device spends on one training epoch.")
	f.StringVar(&sim.taskConfig, "task-config", "",
		"YAML file with the task configuration.")
	f.BoolVar(&sim.record, "record", false,
		"Record messages and rounds into a SQLite file.")
	f.StringVar(&sim.recordFile, "record-file", "",
		"Name of the recording. A unique name is picked when empty.")
	f.BoolVar(&sim.monitor, "monitor", false,
		"Serve the live state of the run over HTTP.")
	f.IntVar(&sim.monitorPort, "monitor-port", 0,
		"Port of the monitoring server. A random port is used when 0.")
	f.BoolVar(&sim.openMonitor, "open-monitor", false,
		"Open the monitoring server in a browser.")
	f.BoolVar(&sim.notifyUnselected, "notify-unselected", true,
		"Send TRY_LATER to the devices that were not admitted.")
	f.BoolVar(&sim.coverLeftovers, "cover-leftovers", false,
		"Add a selector for the devices that do not fill one.")
	f.BoolVar(&sim.verbose, "verbose", false,
		"Log every message and round transition to stderr.")
}

func (s *simulation) validate() error {
	switch {
	case s.devices <= 0:
		return errors.New("--devices must be positive")
	case s.unready < 0 || s.unready > s.devices:
		return errors.New("--unready must be between 0 and --devices")
	case s.maxDevicesPerSelector <= 0:
		return errors.New("--max-devices-per-selector must be positive")
	case s.rounds <= 0:
		return errors.New("--rounds must be positive")
	case s.devicesForTask < 0:
		return errors.New("--devices-for-task must not be negative")
	case s.timeout <= 0:
		return errors.New("--timeout must be positive")
	}

	return nil
}

func (s *simulation) loadTaskConfig() (task.Config, error) {
	if s.taskConfig == "" {
		return task.DefaultConfig(), nil
	}

	return task.LoadConfig(s.taskConfig)
}

// run executes the rounds and writes one line per round into out.
func (s *simulation) run(ctx context.Context, out io.Writer) error {
	if err := s.validate(); err != nil {
		return err
	}

	cfg, err := s.loadTaskConfig()
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	c := comm.NewCommunicator()
	defer c.Close()

	srv := s.buildServer(c, cfg)
	devices, err := s.buildDevices(c)
	if err != nil {
		return err
	}

	if s.verbose {
		logger := log.New(os.Stderr, "", 0)
		c.AcceptHook(comm.NewMsgLogger(logger))
		c.AcceptHook(comm.NewEventLogger(logger))
		srv.AcceptHook(server.NewRoundLogger(logger))
	}

	if s.record {
		recorder := recording.New(s.recordFile)
		defer recorder.Close()

		c.AcceptHook(recording.NewMsgRecorder(recorder))
		srv.AcceptHook(recording.NewRoundRecorder(recorder))
	}

	if s.monitor {
		stop, err := s.startMonitor(c, srv)
		if err != nil {
			return err
		}
		defer stop()
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROUND\tROSTER\tSELECTORS\tPARTICIPANTS\tLEFTOVER\tREPORTS")

	for i := 0; i < s.rounds; i++ {
		result, reports, err := s.runRound(ctx, srv, devices)
		if err != nil {
			return errors.Join(err, w.Flush())
		}

		fmt.Fprintf(w, "%d\t%d\t%d\t%v\t%v\t%d\n",
			result.Number, result.RosterSize, result.NumSelectors,
			result.ParticipantIDs(), result.Leftover, len(reports))
	}

	return w.Flush()
}

func (s *simulation) buildServer(c *comm.Communicator, cfg task.Config) *server.Server {
	expected := s.expected
	if expected == 0 {
		expected = s.devices - s.unready
	}

	partition := server.FloorPartition
	if s.coverLeftovers {
		partition = server.CoverLeftovers
	}

	return server.MakeBuilder().
		WithID(comm.EndpointID(s.serverID)).
		WithMessenger(c).
		WithMaxDevicesPerSelector(s.maxDevicesPerSelector).
		WithNumDevicesForTask(s.devicesForTask).
		WithCollectionPolicy(server.WaitFor(expected, s.timeout)).
		WithPartitionPolicy(partition).
		WithNotifyUnselected(s.notifyUnselected).
		WithTaskConfig(cfg).
		WithGlobalModel(task.ZeroWeights(
			[]string{"conv1", "fc1", "fc2"},
			[][]int{{8, 1, 3, 3}, {72, 16}, {16, 10}},
		)).
		Build("Server")
}

// buildDevices creates the devices and registers their channels up front, so
// the monitor lists every channel from the first round on.
func (s *simulation) buildDevices(c *comm.Communicator) ([]*device.Device, error) {
	devices := make([]*device.Device, 0, s.devices)
	for i := 0; i < s.devices; i++ {
		id := comm.EndpointID(s.serverID + 1 + i)
		if err := c.Register(id, comm.EndpointID(s.serverID)); err != nil {
			return nil, err
		}

		d := device.MakeBuilder().
			WithID(id).
			WithServerID(comm.EndpointID(s.serverID)).
			WithMessenger(c).
			WithTrainer(device.SyntheticTrainer{
				EpochTime: s.epochTime,
				Samples:   32,
				Seed:      int64(id),
			}).
			WithReady(i >= s.unready).
			Build("")
		devices = append(devices, d)
	}

	return devices, nil
}

// runRound starts every device, runs one round and serves it until every
// participant is done. Devices still waiting afterwards are stopped.
func (s *simulation) runRound(
	ctx context.Context,
	srv *server.Server,
	devices []*device.Device,
) (server.RoundResult, []server.DeviceReport, error) {
	deviceCtx, stopDevices := context.WithCancel(ctx)
	defer stopDevices()

	var wg sync.WaitGroup
	errs := make([]error, len(devices))
	for i, d := range devices {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := d.Run(deviceCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errs[i] = fmt.Errorf("%s: %w", d.Name(), err)
			}
		}()
	}

	result, err := srv.Round(ctx)
	if err != nil {
		stopDevices()
		wg.Wait()
		return result, nil, err
	}

	reports, err := srv.Serve(ctx)

	stopDevices()
	wg.Wait()

	return result, reports, errors.Join(append([]error{err}, errs...)...)
}

func (s *simulation) startMonitor(
	c *comm.Communicator,
	srv *server.Server,
) (stop func(), err error) {
	m := monitoring.NewMonitor().WithPortNumber(s.monitorPort)
	m.RegisterCommunicator(c)
	bar := m.TrackRounds(srv, uint64(s.rounds))

	port, err := m.StartServer()
	if err != nil {
		return nil, err
	}

	if s.openMonitor {
		url := fmt.Sprintf("http://localhost:%d/api/servers", port)
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open %s: %s\n", url, err)
		}
	}

	return func() {
		m.CompleteProgressBar(bar)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := m.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Monitor shutdown: %s\n", err)
		}
	}, nil
}
