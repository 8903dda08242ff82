package reactor

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sagernet/sing-reactor/common"
	"github.com/sagernet/sing-reactor/common/buf"
	"github.com/sagernet/sing-reactor/common/control"
	E "github.com/sagernet/sing-reactor/common/exceptions"
	"github.com/sagernet/sing-reactor/common/log"

	"github.com/sirupsen/logrus"
)

const (
	serverIdle int32 = iota
	serverRunning
	serverStopping
	serverStopped
)

type handlerHolder struct {
	Handler
}

// Server owns the reactor goroutine, its poller, socket table and command
// channel. All exported methods are safe for concurrent use; none of them
// touch socket state directly.
type Server struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  logrus.FieldLogger
	handler atomic.Pointer[handlerHolder]

	capacity      int
	eventBatch    int
	watchAccepted bool
	control       control.Func
	resolver      *net.Resolver

	table   *table
	poller  *poller
	channel *commandChannel
	parcels sync.Map
	ticket  atomic.Uint64
	stats   statsCounter

	state      atomic.Int32
	loopThread atomic.Int32
	deferred   []command
	done       chan struct{}
	err        error
}

func New(options ...Option) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.NewLogger("reactor"),
		resolver: net.DefaultResolver,
		done:     make(chan struct{}),
	}
	server.SetHandler(nil)
	for _, option := range options {
		option(server)
	}
	if server.capacity == 0 {
		server.capacity = defaultCapacity()
	}
	server.table = newTable(server.capacity)
	var err error
	server.poller, err = newPoller(server.eventBatch)
	if err != nil {
		cancel()
		return nil, err
	}
	server.channel, err = newCommandChannel()
	if err != nil {
		cancel()
		server.poller.Close()
		return nil, err
	}
	err = server.poller.Add(server.channel.readFD, channelTag, false)
	if err != nil {
		cancel()
		common.Close(server.poller)
		server.channel.close()
		return nil, E.Cause(err, "register command channel")
	}
	server.logger.Debug("server setup, slot number: ", server.capacity)
	return server, nil
}

// SetHandler installs the event handler. A nil handler restores the default,
// which releases data payloads and drops everything else.
func (s *Server) SetHandler(handler Handler) {
	if handler == nil {
		handler = discardHandler{}
	}
	s.handler.Store(&handlerHolder{handler})
}

func (s *Server) Capacity() int {
	return s.table.capacity()
}

func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}

// Start launches the reactor goroutine. Commands submitted before Start are
// queued in the channel and run once the loop starts.
func (s *Server) Start() error {
	if s.state.CompareAndSwap(serverIdle, serverRunning) {
		go s.loop()
		return nil
	}
	if s.state.Load() == serverRunning {
		return nil
	}
	return ErrServerClosed
}

// Stop shuts the reactor down: every socket is closed, EventExit is delivered
// and the loop exits. It returns the fatal error that ended the loop, if any.
// Called from the handler, it only requests the shutdown and returns nil.
func (s *Server) Stop() error {
	return s.StopWith(0)
}

// StopWith is Stop with an opaque value reported in EventExit.
func (s *Server) StopWith(opaque uint64) error {
	if s.state.CompareAndSwap(serverIdle, serverStopped) {
		s.cleanup()
		close(s.done)
		return s.Wait()
	}
	if s.state.CompareAndSwap(serverRunning, serverStopping) {
		err := s.submit(&shutdownCommand{opaque: opaque})
		if err != nil && err != ErrServerClosed {
			return err
		}
	}
	if s.onLoop() {
		return nil
	}
	return s.Wait()
}

// Wait blocks until the reactor goroutine has exited and its resources are
// released.
func (s *Server) Wait() error {
	<-s.done
	s.channel.close()
	return s.err
}

// Connect starts a non-blocking connection to host:port. The returned id is
// reserved immediately; the outcome arrives as EventConnected or EventError.
// A host that is not an IP literal is resolved on the reactor goroutine, which
// stalls every other socket until the lookup returns.
func (s *Server) Connect(host string, port uint16, opaque uint64) (ID, error) {
	if len(host) > MaxConnectHostLength {
		return InvalidID, ErrHostTooLong
	}
	return s.reserveAndSubmit(func(id ID) command {
		return &connectCommand{id: id, port: port, opaque: opaque, host: host}
	})
}

// Listen opens a listener on host:port. An empty host listens on all IPv4
// addresses. With poll unset the listener stays PendingListen until
// WatchPending is called.
func (s *Server) Listen(host string, port uint16, opaque uint64, backlog int, poll bool) (ID, error) {
	if len(host) > MaxListenHostLength {
		return InvalidID, ErrHostTooLong
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return s.reserveAndSubmit(func(id ID) command {
		return &listenCommand{id: id, port: port, backlog: int32(backlog), poll: poll, opaque: opaque, host: host}
	})
}

// Bind adopts an existing descriptor, which becomes owned by the reactor once
// EventBound is reported.
func (s *Server) Bind(fd int, opaque uint64) (ID, error) {
	return s.reserveAndSubmit(func(id ID) command {
		return &bindCommand{id: id, fd: int32(fd), opaque: opaque}
	})
}

// Send queues data for id. The slice must not be modified until the reactor
// has written it, which is signalled by EventSendComplete or the socket
// closing.
func (s *Server) Send(id ID, data []byte) error {
	return s.SendBuffer(id, buf.As(data))
}

// SendBuffer transfers ownership of buffer to the reactor, which releases it
// exactly once whatever the outcome.
func (s *Server) SendBuffer(id ID, buffer *buf.Buffer) error {
	if buffer == nil {
		return ErrNilBuffer
	}
	ticket := s.ticket.Add(1)
	s.parcels.Store(ticket, buffer)
	err := s.submit(&sendCommand{id: id, ticket: ticket, length: uint32(buffer.Len())})
	if err != nil {
		if parcel := s.claimParcel(ticket); parcel != nil {
			parcel.Release()
		}
	}
	return err
}

// Close closes id. Pending writes are flushed first, in which case the socket
// is HalfClosing until the queue drains.
func (s *Server) Close(id ID, opaque uint64) error {
	return s.submit(&closeCommand{id: id, opaque: opaque})
}

// WatchPending starts polling an accepted socket or an unpolled listener.
func (s *Server) WatchPending(id ID, opaque uint64) error {
	return s.submit(&watchCommand{id: id, opaque: opaque})
}

func (s *Server) reserveAndSubmit(build func(id ID) command) (ID, error) {
	if s.state.Load() > serverRunning {
		return InvalidID, ErrServerClosed
	}
	id := s.table.reserve()
	if id == InvalidID {
		return InvalidID, ErrTableFull
	}
	err := s.submit(build(id))
	if err != nil {
		s.table.unreserve(id)
		return InvalidID, err
	}
	return id, nil
}

// submit hands cmd to the reactor without blocking. Commands issued by the
// handler skip the pipe and run after the current batch.
func (s *Server) submit(cmd command) error {
	if s.onLoop() {
		s.deferred = append(s.deferred, cmd)
		return nil
	}
	frame, err := encodeCommand(cmd)
	if err != nil {
		return err
	}
	err = s.channel.send(frame)
	if err != nil && err != ErrServerClosed {
		s.logger.Error("submit command: ", err)
	}
	return err
}

func (s *Server) claimParcel(ticket uint64) *buf.Buffer {
	parcel, loaded := s.parcels.LoadAndDelete(ticket)
	if !loaded {
		return nil
	}
	return parcel.(*buf.Buffer)
}

// cleanup releases what the reactor goroutine leaves behind: parcels whose
// send command was never read, the poller and the channel's read end.
func (s *Server) cleanup() {
	s.cancel()
	s.parcels.Range(func(key, value any) bool {
		s.parcels.Delete(key)
		value.(*buf.Buffer).Release()
		return true
	})
	err := E.Errors(s.poller.Close(), s.channel.closeRead())
	if err != nil {
		s.logger.Warn("release reactor resources: ", err)
	}
}
