package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sing "github.com/sagernet/sing-reactor"
	"github.com/sagernet/sing-reactor/common/buf"
	"github.com/sagernet/sing-reactor/common/control"
	E "github.com/sagernet/sing-reactor/common/exceptions"
	"github.com/sagernet/sing-reactor/common/log"
	M "github.com/sagernet/sing-reactor/common/metadata"
	"github.com/sagernet/sing-reactor/reactor"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type flags struct {
	Listen     string `json:"listen"`
	Server     string `json:"server"`
	Port       uint16 `json:"port"`
	Backlog    int    `json:"backlog"`
	Capacity   int    `json:"capacity"`
	NoDelay    bool   `json:"no_delay"`
	ReusePort  bool   `json:"reuse_port"`
	Mark       int    `json:"routing_mark"`
	Count      int    `json:"count"`
	Interval   string `json:"interval"`
	Verbose    bool   `json:"verbose"`
	ConfigFile string `json:"-"`
}

func main() {
	f := new(flags)

	command := &cobra.Command{
		Use:     "sockecho",
		Short:   "echo server and client running on the socket reactor",
		Version: sing.VersionStr,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(f)
		},
	}
	command.PersistentFlags().Uint16VarP(&f.Port, "port", "p", 0, "Set the port number.")
	command.PersistentFlags().IntVar(&f.Capacity, "capacity", 0, "Set the socket table size.")
	command.PersistentFlags().BoolVar(&f.NoDelay, "no-delay", false, "Disable Nagle's algorithm on every connection.")
	command.PersistentFlags().IntVar(&f.Mark, "routing-mark", 0, "Set SO_MARK on every socket.")
	command.PersistentFlags().StringVarP(&f.ConfigFile, "config", "c", "", "Use a configuration file.")
	command.PersistentFlags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose mode.")

	serverCommand := &cobra.Command{
		Use:   "server",
		Short: "Echo every received payload back to its sender",
		Run: func(cmd *cobra.Command, args []string) {
			runServer(f)
		},
	}
	serverCommand.Flags().StringVarP(&f.Listen, "listen", "l", "", "Set the listen address.")
	serverCommand.Flags().IntVar(&f.Backlog, "backlog", 0, "Set the listen backlog.")
	serverCommand.Flags().BoolVar(&f.ReusePort, "reuse-port", false, "Set SO_REUSEPORT on the listener.")

	pingCommand := &cobra.Command{
		Use:   "ping",
		Short: "Send ping frames to an echo server and log the replies",
		Run: func(cmd *cobra.Command, args []string) {
			runPing(f)
		},
	}
	pingCommand.Flags().StringVarP(&f.Server, "server", "s", "", "Set the server's hostname or IP.")
	pingCommand.Flags().IntVarP(&f.Count, "count", "n", 0, "Stop after sending count frames.")
	pingCommand.Flags().StringVarP(&f.Interval, "interval", "i", "", "Set the interval between frames.")

	command.AddCommand(serverCommand, pingCommand)
	err := command.Execute()
	if err != nil {
		logrus.Fatal(err)
	}
}

func loadConfig(f *flags) error {
	if f.ConfigFile != "" {
		configFile, err := os.ReadFile(f.ConfigFile)
		if err != nil {
			return E.Cause(err, "read config file")
		}
		flagsNew := new(flags)
		err = json.Unmarshal(configFile, flagsNew)
		if err != nil {
			return E.Cause(err, "decode config file")
		}
		if flagsNew.Listen != "" && f.Listen == "" {
			f.Listen = flagsNew.Listen
		}
		if flagsNew.Server != "" && f.Server == "" {
			f.Server = flagsNew.Server
		}
		if flagsNew.Port != 0 && f.Port == 0 {
			f.Port = flagsNew.Port
		}
		if flagsNew.Backlog != 0 && f.Backlog == 0 {
			f.Backlog = flagsNew.Backlog
		}
		if flagsNew.Capacity != 0 && f.Capacity == 0 {
			f.Capacity = flagsNew.Capacity
		}
		if flagsNew.Count != 0 && f.Count == 0 {
			f.Count = flagsNew.Count
		}
		if flagsNew.Interval != "" && f.Interval == "" {
			f.Interval = flagsNew.Interval
		}
		if flagsNew.Mark != 0 && f.Mark == 0 {
			f.Mark = flagsNew.Mark
		}
		if flagsNew.NoDelay {
			f.NoDelay = true
		}
		if flagsNew.ReusePort {
			f.ReusePort = true
		}
		if flagsNew.Verbose {
			f.Verbose = true
		}
	}
	log.SetVerbose(f.Verbose)
	if f.Port == 0 {
		return E.New("missing port")
	}
	return nil
}

func newReactor(f *flags, handler reactor.Handler) (*reactor.Server, error) {
	options := []reactor.Option{
		reactor.WithHandler(handler),
		reactor.WithLogger(log.NewLogger("sockecho")),
	}
	if f.Capacity > 0 {
		options = append(options, reactor.WithCapacity(f.Capacity))
	}
	if f.NoDelay {
		options = append(options, reactor.WithControl(control.NoDelay()))
	}
	if f.Mark != 0 {
		options = append(options, reactor.WithControl(control.RoutingMark(f.Mark)))
	}
	if f.ReusePort {
		options = append(options, reactor.WithControl(control.ReusePort()))
	}
	return reactor.New(options...)
}

func waitSignal() {
	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	<-osSignals
}

func runServer(f *flags) {
	logger := log.NewLogger("server")
	echo := &echoServer{logger: logger}
	server, err := newReactor(f, echo)
	if err != nil {
		logrus.Fatal(err)
	}
	echo.server = server
	err = server.Start()
	if err != nil {
		logrus.Fatal(err)
	}
	_, err = server.Listen(f.Listen, f.Port, 0, f.Backlog, true)
	if err != nil {
		logrus.Fatal(err)
	}
	waitSignal()
	err = server.Stop()
	if err != nil {
		logrus.Fatal(err)
	}
	stats := server.Stats()
	logger.Info("accepted ", stats.Accepted, " connections, echoed ", stats.BytesWritten, " bytes")
}

type echoServer struct {
	logger *logrus.Entry
	server *reactor.Server
}

func (s *echoServer) HandleEvent(event reactor.Event) {
	switch event.Code {
	case reactor.EventListening:
		s.logger.Info("server started at ", event.Addr)
	case reactor.EventAccepted:
		s.logger.Debug("accepted ", event.Addr)
		err := s.server.WatchPending(event.AcceptedID(), 0)
		if err != nil {
			s.logger.Warn("watch ", event.AcceptedID(), ": ", err)
		}
	case reactor.EventData:
		err := s.server.SendBuffer(event.ID, event.Payload)
		if err != nil {
			s.logger.Warn("echo ", event.ID, ": ", err)
		}
	case reactor.EventClosed:
		if event.Err != nil {
			s.logger.Debug("closed ", event.ID, ": ", event.Err)
		} else {
			s.logger.Trace("closed ", event.ID)
		}
	case reactor.EventError:
		s.logger.Error("socket ", event.ID, ": ", event.Err)
	case reactor.EventExit:
		s.logger.Info("server stopped")
	}
}

type pinger struct {
	logger  *logrus.Entry
	server  *reactor.Server
	ready   chan struct{}
	done    chan struct{}
	replies chan time.Time
	once    sync.Once
}

func (p *pinger) HandleEvent(event reactor.Event) {
	switch event.Code {
	case reactor.EventConnected:
		p.logger.Info("connected to ", event.Addr)
		close(p.ready)
	case reactor.EventData:
		p.logger.Trace("received ", event.Payload.Len(), " bytes: ", event.Payload.String())
		event.Payload.Release()
		select {
		case p.replies <- time.Now():
		default:
		}
	case reactor.EventError, reactor.EventClosed:
		if event.Err != nil {
			p.logger.Error(event.Err)
		} else {
			p.logger.Info("connection closed")
		}
		p.once.Do(func() {
			close(p.done)
		})
	}
}

const pingFrame = "ping"

func runPing(f *flags) {
	if f.Server == "" {
		logrus.Fatal("missing server address")
	}
	interval := time.Second
	if f.Interval != "" {
		var err error
		interval, err = time.ParseDuration(f.Interval)
		if err != nil {
			logrus.Fatal(E.Cause(err, "parse interval"))
		}
	}
	p := &pinger{
		logger:  log.NewLogger("ping"),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		replies: make(chan time.Time, 1),
	}
	server, err := newReactor(f, p)
	if err != nil {
		logrus.Fatal(err)
	}
	p.server = server
	err = server.Start()
	if err != nil {
		logrus.Fatal(err)
	}
	defer server.Stop()
	target := M.ParseSocksaddrHostPort(f.Server, f.Port)
	p.logger.Info("connecting to ", target.String())
	id, err := server.Connect(target.AddrString(), f.Port, 0)
	if err != nil {
		logrus.Fatal(err)
	}
	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	select {
	case <-p.ready:
	case <-p.done:
		return
	case <-osSignals:
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for sent := 0; f.Count == 0 || sent < f.Count; sent++ {
		start := time.Now()
		frame := buf.NewSize(len(pingFrame))
		_, err = frame.WriteString(pingFrame)
		if err == nil {
			err = server.SendBuffer(id, frame)
		} else {
			frame.Release()
		}
		if err != nil {
			p.logger.Error(err)
			return
		}
		select {
		case received := <-p.replies:
			p.logger.Info("reply from ", target, ": seq=", sent, " time=", received.Sub(start))
		case <-time.After(interval):
			p.logger.Warn("no reply for seq=", sent)
		case <-p.done:
			return
		case <-osSignals:
			return
		}
		select {
		case <-ticker.C:
		case <-p.done:
			return
		case <-osSignals:
			return
		}
	}
	server.Close(id, 0)
}
