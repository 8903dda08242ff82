package reactor

import (
	"net/netip"

	"github.com/sagernet/sing-reactor/common"
	"github.com/sagernet/sing-reactor/common/buf"
	"github.com/sagernet/sing-reactor/common/control"
	E "github.com/sagernet/sing-reactor/common/exceptions"
	M "github.com/sagernet/sing-reactor/common/metadata"

	"golang.org/x/sys/unix"
)

func isTransient(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

func closeFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

// attach hands fd to a Reserved slot. A polled socket is registered first;
// on failure the slot stays Reserved and the descriptor is untouched.
func (s *Server) attach(sock *socket, fd int, opaque uint64, state State, writable bool) error {
	if state.polled() {
		err := s.poller.Add(fd, sock.tag(), writable)
		if err != nil {
			return E.Cause(err, "register socket")
		}
		sock.polled = true
		sock.writing = writable
	}
	sock.fd = fd
	sock.opaque = opaque
	sock.readSize = MinReadBufferSize
	sock.setState(state)
	s.stats.live.Add(1)
	return nil
}

// rollback returns a Reserved slot whose command failed.
func (s *Server) rollback(sock *socket) {
	s.table.release(sock)
}

func (s *Server) setWriting(sock *socket, writing bool) error {
	if sock.writing == writing {
		return nil
	}
	err := s.poller.Modify(sock.fd, sock.tag(), writing)
	if err != nil {
		return E.Cause(err, "modify socket interest")
	}
	sock.writing = writing
	return nil
}

func (s *Server) resolve(host string) ([]netip.Addr, error) {
	if addr := M.ParseAddr(host); addr.IsValid() {
		return []netip.Addr{addr}, nil
	}
	addrs, err := s.resolver.LookupNetIP(s.ctx, "ip", host)
	if err != nil {
		return nil, E.Cause(err, "lookup ", host)
	}
	addrs = common.Map(addrs, netip.Addr.Unmap)
	if len(addrs) == 0 {
		return nil, E.Cause(ErrNoAddress, host)
	}
	return addrs, nil
}

func newStreamSocket(addr netip.Addr) (int, error) {
	fd, err := unix.Socket(M.Family(addr), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, E.Cause(err, "create socket")
	}
	return fd, nil
}

func (s *Server) handleConnect(cmd *connectCommand) {
	sock := s.table.reserved(cmd.id)
	if sock == nil {
		s.logger.Warn("drop connect for unreserved socket ", cmd.id)
		return
	}
	addrs, err := s.resolve(cmd.host)
	if err != nil {
		s.rollback(sock)
		s.emit(Event{Code: EventError, ID: cmd.id, Opaque: cmd.opaque, Err: err})
		return
	}
	var errors []error
	for _, addr := range addrs {
		destination := netip.AddrPortFrom(addr, cmd.port)
		connected, err := s.dial(sock, destination, cmd.opaque)
		if err != nil {
			errors = append(errors, err)
			continue
		}
		if connected {
			s.stats.connected.Add(1)
			s.emit(Event{Code: EventConnected, ID: cmd.id, Opaque: cmd.opaque, Addr: M.SocksaddrFromNetIP(destination)})
		} else {
			s.logger.Debug("connecting ", cmd.id, " to ", destination)
		}
		return
	}
	s.rollback(sock)
	s.emit(Event{Code: EventError, ID: cmd.id, Opaque: cmd.opaque, Err: E.Errors(errors...)})
}

// dial attaches a socket connecting to destination. connected is false when
// the connection is still in progress.
func (s *Server) dial(sock *socket, destination netip.AddrPort, opaque uint64) (connected bool, err error) {
	fd, err := newStreamSocket(destination.Addr())
	if err != nil {
		return
	}
	err = control.Apply(fd, false, s.control)
	if err != nil {
		unix.Close(fd)
		return
	}
	err = unix.Connect(fd, M.AddrPortToSockaddr(destination))
	switch err {
	case nil:
		connected = true
		err = s.attach(sock, fd, opaque, StateConnected, false)
	case unix.EINPROGRESS:
		err = s.attach(sock, fd, opaque, StateConnecting, true)
	default:
		err = E.Cause(err, "connect ", destination)
	}
	if err != nil {
		unix.Close(fd)
	}
	return
}

func (s *Server) finishConnect(sock *socket) {
	id, opaque := sock.ID(), sock.opaque
	errno, err := unix.GetsockoptInt(sock.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && errno != 0 {
		err = unix.Errno(errno)
	}
	if err != nil {
		s.forceClose(sock)
		s.emit(Event{Code: EventError, ID: id, Opaque: opaque, Err: E.Cause(err, "connect")})
		return
	}
	sock.setState(StateConnected)
	if !sock.queued() {
		err = s.setWriting(sock, false)
		if err != nil {
			s.forceClose(sock)
			s.emit(Event{Code: EventError, ID: id, Opaque: opaque, Err: err})
			return
		}
	}
	var peer M.Socksaddr
	if sa, err := unix.Getpeername(sock.fd); err == nil {
		peer = M.SocksaddrFromSockaddr(sa)
	}
	s.stats.connected.Add(1)
	s.emit(Event{Code: EventConnected, ID: id, Opaque: opaque, Addr: peer})
}

func (s *Server) handleListen(cmd *listenCommand) {
	sock := s.table.reserved(cmd.id)
	if sock == nil {
		s.logger.Warn("drop listen for unreserved socket ", cmd.id)
		return
	}
	local, err := s.bindListener(sock, cmd)
	if err != nil {
		s.rollback(sock)
		s.emit(Event{Code: EventError, ID: cmd.id, Opaque: cmd.opaque, Err: err})
		return
	}
	s.logger.Debug("listening ", cmd.id, " on ", local)
	if cmd.poll {
		s.emit(Event{Code: EventListening, ID: cmd.id, Opaque: cmd.opaque, Addr: local})
	}
}

func (s *Server) bindListener(sock *socket, cmd *listenCommand) (M.Socksaddr, error) {
	var addr netip.Addr
	if cmd.host == "" {
		addr = netip.IPv4Unspecified()
	} else {
		addrs, err := s.resolve(cmd.host)
		if err != nil {
			return M.Socksaddr{}, err
		}
		addr = addrs[0]
	}
	backlog := int(cmd.backlog)
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	fd, err := newStreamSocket(addr)
	if err != nil {
		return M.Socksaddr{}, err
	}
	bindAddr := netip.AddrPortFrom(addr, cmd.port)
	err = control.Apply(fd, true, control.ReuseAddr(), s.control)
	if err == nil {
		err = E.Cause(unix.Bind(fd, M.AddrPortToSockaddr(bindAddr)), "bind ", bindAddr)
	}
	if err == nil {
		err = E.Cause(unix.Listen(fd, backlog), "listen ", bindAddr)
	}
	var local M.Socksaddr
	if err == nil {
		var sa unix.Sockaddr
		sa, err = unix.Getsockname(fd)
		if err == nil {
			local = M.SocksaddrFromSockaddr(sa)
		}
	}
	if err == nil {
		state := StatePendingListen
		if cmd.poll {
			state = StateListening
		}
		err = s.attach(sock, fd, cmd.opaque, state, false)
	}
	if err != nil {
		unix.Close(fd)
		return M.Socksaddr{}, err
	}
	return local, nil
}

func (s *Server) accept(listener *socket) {
	fd, sa, err := unix.Accept4(listener.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if isTransient(err) || err == unix.ECONNABORTED {
			return
		}
		s.emit(Event{Code: EventError, ID: listener.ID(), Opaque: listener.opaque, Err: E.Cause(err, "accept")})
		return
	}
	peer := M.SocksaddrFromSockaddr(sa)
	id := s.table.reserve()
	if id == InvalidID {
		unix.Close(fd)
		s.logger.Warn("reject connection from ", peer, ": ", ErrTableFull)
		s.emit(Event{Code: EventError, ID: listener.ID(), Opaque: listener.opaque, Addr: peer, Err: ErrTableFull})
		return
	}
	sock := s.table.slot(id)
	state := StatePendingAccept
	if s.watchAccepted {
		state = StateConnected
	}
	err = control.Apply(fd, false, s.control)
	if err == nil {
		err = s.attach(sock, fd, listener.opaque, state, false)
	}
	if err != nil {
		unix.Close(fd)
		s.rollback(sock)
		s.emit(Event{Code: EventError, ID: listener.ID(), Opaque: listener.opaque, Addr: peer, Err: err})
		return
	}
	s.stats.accepted.Add(1)
	s.emit(Event{Code: EventAccepted, ID: listener.ID(), Opaque: listener.opaque, UserData: int64(id), Addr: peer})
}

func (s *Server) handleWatch(cmd *watchCommand) {
	sock := s.table.entity(cmd.id)
	var next State
	if sock != nil {
		switch sock.State() {
		case StatePendingAccept:
			next = StateConnected
		case StatePendingListen:
			next = StateListening
		}
	}
	if next == StateInvalid {
		s.emit(Event{Code: EventError, ID: cmd.id, Opaque: cmd.opaque, Err: ErrInvalidState})
		return
	}
	err := s.poller.Add(sock.fd, sock.tag(), false)
	if err != nil {
		s.forceClose(sock)
		s.emit(Event{Code: EventError, ID: cmd.id, Opaque: cmd.opaque, Err: E.Cause(err, "register socket")})
		return
	}
	sock.polled = true
	sock.opaque = cmd.opaque
	sock.setState(next)
	var addr M.Socksaddr
	var sa unix.Sockaddr
	if next == StateListening {
		sa, err = unix.Getsockname(sock.fd)
	} else {
		sa, err = unix.Getpeername(sock.fd)
	}
	if err == nil {
		addr = M.SocksaddrFromSockaddr(sa)
	}
	s.emit(Event{Code: EventWatched, ID: cmd.id, Opaque: cmd.opaque, Addr: addr})
}

func (s *Server) handleBind(cmd *bindCommand) {
	sock := s.table.reserved(cmd.id)
	if sock == nil {
		s.logger.Warn("drop bind for unreserved socket ", cmd.id)
		return
	}
	fd := int(cmd.fd)
	err := E.Cause(setNonblock(fd), "set non-blocking")
	if err == nil {
		err = s.attach(sock, fd, cmd.opaque, StateBound, false)
	}
	if err != nil {
		s.rollback(sock)
		s.emit(Event{Code: EventError, ID: cmd.id, Opaque: cmd.opaque, UserData: int64(fd), Err: err})
		return
	}
	var peer M.Socksaddr
	if sa, err := unix.Getpeername(fd); err == nil {
		peer = M.SocksaddrFromSockaddr(sa)
	}
	s.emit(Event{Code: EventBound, ID: cmd.id, Opaque: cmd.opaque, UserData: int64(fd), Addr: peer})
}

func (s *Server) handleClose(cmd *closeCommand) {
	sock := s.table.entity(cmd.id)
	if sock == nil || !sock.State().live() {
		s.emit(Event{Code: EventClosed, ID: cmd.id, Opaque: cmd.opaque})
		return
	}
	if sock.queued() {
		s.logger.Debug("half-closing ", cmd.id)
		sock.closeOpaque = cmd.opaque
		sock.setState(StateHalfClosing)
		return
	}
	s.forceClose(sock)
	s.emit(Event{Code: EventClosed, ID: cmd.id, Opaque: cmd.opaque})
}

// closeWithError force-closes sock and reports it closed with cause. A
// half-closed socket reports the opaque of its Close command.
func (s *Server) closeWithError(sock *socket, cause error) {
	id, opaque := sock.ID(), sock.opaque
	if sock.State() == StateHalfClosing {
		opaque = sock.closeOpaque
	}
	s.forceClose(sock)
	s.emit(Event{Code: EventClosed, ID: id, Opaque: opaque, Err: cause})
}

func (s *Server) read(sock *socket) {
	buffer := buf.NewSize(sock.readSize)
	n, err := unix.Read(sock.fd, buffer.FreeBytes())
	if err != nil {
		buffer.Release()
		if !isTransient(err) {
			s.closeWithError(sock, E.Cause(err, "read"))
		}
		return
	}
	if n <= 0 {
		buffer.Release()
		s.closeWithError(sock, nil)
		return
	}
	buffer.Truncate(n)
	s.stats.bytesRead.Add(uint64(n))
	if n == buffer.Cap() {
		if sock.readSize < MaxReadBufferSize {
			sock.readSize <<= 1
		}
	} else if n < sock.readSize/2 && sock.readSize > MinReadBufferSize {
		sock.readSize >>= 1
	}
	if sock.State() == StateHalfClosing {
		buffer.Release()
		return
	}
	s.emit(Event{Code: EventData, ID: sock.ID(), Opaque: sock.opaque, Payload: buffer})
}
