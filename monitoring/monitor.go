// Package monitoring serves the live state of a run over HTTP: the channels of
// a communicator, the rounds of each server, progress bars, and process
// resources.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/sarchlab/fedcomm/comm"
	"github.com/sarchlab/fedcomm/server"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// A ChannelSource lists the channels of a communicator.
type ChannelSource interface {
	comm.Named
	Channels() []comm.ChannelInfo
}

// A RoundSource is a server whose rounds can be watched.
type RoundSource interface {
	comm.Hookable
	ID() comm.EndpointID
	State() server.State
	Rounds() []server.RoundResult
	LastRound() (server.RoundResult, bool)
	Statuses() map[comm.EndpointID]comm.Type
}

// Monitor turns a run into a web server that can be inspected while rounds
// are in progress.
type Monitor struct {
	lock       sync.Mutex
	channels   []ChannelSource
	servers    []RoundSource
	portNumber int
	httpServer *http.Server

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterCommunicator registers a communicator whose channels are shown.
func (m *Monitor) RegisterCommunicator(c ChannelSource) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.channels = append(m.channels, c)
}

// RegisterServer registers a server whose rounds are shown.
func (m *Monitor) RegisterServer(s RoundSource) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.servers = append(m.servers, s)
}

// TrackRounds registers the server and shows a progress bar that advances
// every time one of its rounds ends.
func (m *Monitor) TrackRounds(s RoundSource, total uint64) *ProgressBar {
	m.RegisterServer(s)

	bar := m.CreateProgressBar("Rounds of "+s.Name(), total)
	s.AcceptHook(&roundProgress{bar: bar})

	return bar
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        comm.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/channels", m.listChannels)
	r.HandleFunc("/api/servers", m.listServers)
	r.HandleFunc("/api/server/{name}", m.serverDetails)
	r.HandleFunc("/api/rounds/{name}", m.listRounds)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// StartServer starts the monitor as a web server and returns the port it
// listens on.
func (m *Monitor) StartServer() (int, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return 0, err
	}

	port := listener.Addr().(*net.TCPAddr).Port

	fmt.Fprintf(os.Stderr,
		"Monitoring federated rounds with http://localhost:%d\n", port)

	m.lock.Lock()
	m.httpServer = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := m.httpServer
	m.lock.Unlock()

	go func() {
		err := srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			dieOnErr(err)
		}
	}()

	return port, nil
}

// Shutdown stops the web server.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.lock.Lock()
	srv := m.httpServer
	m.httpServer = nil
	m.lock.Unlock()

	if srv == nil {
		return nil
	}

	return srv.Shutdown(ctx)
}

type channelRsp struct {
	Communicator string `json:"communicator"`
	comm.ChannelInfo
}

func (m *Monitor) listChannels(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := channelsParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	m.lock.Lock()
	sources := append([]ChannelSource(nil), m.channels...)
	m.lock.Unlock()

	var channels []channelRsp
	for _, s := range sources {
		for _, info := range s.Channels() {
			channels = append(channels, channelRsp{
				Communicator: s.Name(),
				ChannelInfo:  info,
			})
		}
	}

	channels = sortAndSelectChannels(channels, sortMethod, limit, offset)

	writeJSON(w, channels)
}

func channelsParseParams(
	r *http.Request,
) (sortMethod string, limit, offset int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "registration"
	}

	if sortMethod != "registration" && sortMethod != "pending" {
		return "", 0, 0, fmt.Errorf(
			"invalid sort method: %s. Allowed values are "+
				"`registration` and `pending`", sortMethod)
	}

	limit, err = intParam(r, "limit")
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offset, err = intParam(r, "offset")
	if err != nil {
		return sortMethod, limit, 0, err
	}

	return sortMethod, limit, offset, nil
}

func intParam(r *http.Request, name string) (int, error) {
	str := r.URL.Query().Get(name)
	if str == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(str)
	if err != nil {
		return 0, err
	}

	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}

	return n, nil
}

func sortAndSelectChannels(
	channels []channelRsp,
	sortMethod string,
	limit, offset int,
) []channelRsp {
	if sortMethod == "pending" {
		sort.SliceStable(channels, func(i, j int) bool {
			return channels[i].Pending > channels[j].Pending
		})
	}

	if offset >= len(channels) {
		return []channelRsp{}
	}

	channels = channels[offset:]
	if limit > 0 && limit < len(channels) {
		channels = channels[:limit]
	}

	return channels
}

type serverRsp struct {
	Name   string          `json:"name"`
	ID     comm.EndpointID `json:"id"`
	State  string          `json:"state"`
	Rounds int             `json:"rounds"`
}

func (m *Monitor) listServers(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	servers := append([]RoundSource(nil), m.servers...)
	m.lock.Unlock()

	rsp := make([]serverRsp, 0, len(servers))
	for _, s := range servers {
		rsp = append(rsp, serverRsp{
			Name:   s.Name(),
			ID:     s.ID(),
			State:  s.State().String(),
			Rounds: len(s.Rounds()),
		})
	}

	writeJSON(w, rsp)
}

// serverSnapshot is what /api/server/{name} serializes.
type serverSnapshot struct {
	Name      string
	ID        int
	State     string
	LastRound *server.RoundResult
	Statuses  map[string]string
}

func (m *Monitor) serverDetails(w http.ResponseWriter, r *http.Request) {
	s := m.findServerOr404(w, mux.Vars(r)["name"])
	if s == nil {
		return
	}

	snapshot := serverSnapshot{
		Name:     s.Name(),
		ID:       int(s.ID()),
		State:    s.State().String(),
		Statuses: make(map[string]string),
	}

	if last, ok := s.LastRound(); ok {
		snapshot.LastRound = &last
	}

	for d, t := range s.Statuses() {
		snapshot.Statuses[d.String()] = t.String()
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(2)

	fields := r.URL.Query().Get("field")
	if fields != "" {
		err := serializer.SetEntryPoint(strings.Split(fields, "."))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Error: %s", err)
			return
		}
	}

	err := serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) listRounds(w http.ResponseWriter, r *http.Request) {
	s := m.findServerOr404(w, mux.Vars(r)["name"])
	if s == nil {
		return
	}

	writeJSON(w, s.Rounds())
}

func (m *Monitor) findServerOr404(
	w http.ResponseWriter,
	name string,
) RoundSource {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, s := range m.servers {
		if s.Name() == name {
			return s
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Server not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	snapshots := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		snapshots = append(snapshots, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, snapshots)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if d := r.URL.Query().Get("duration"); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Error: %s", err)
			return
		}
		duration = parsed
	}

	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
