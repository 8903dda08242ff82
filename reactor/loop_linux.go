package reactor

import (
	"runtime"

	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/sys/unix"
)

// commandBatch bounds the frames run per wake so sockets are not starved by a
// flood of commands.
const commandBatch = 256

func (s *Server) emit(event Event) {
	s.handler.Load().HandleEvent(event)
}

// loop is the reactor goroutine. It owns every socket past Reserved, the
// poller and the read end of the command channel.
func (s *Server) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	s.loopThread.Store(int32(unix.Gettid()))
	s.logger.Debug("reactor started")
	err := s.run()
	s.loopThread.Store(0)
	if err != nil {
		s.logger.Error("reactor stopped: ", err)
		s.closeAll()
		s.emit(Event{Code: EventExit, ID: InvalidID, Err: err})
		s.err = err
	} else {
		s.logger.Debug("reactor stopped")
	}
	s.state.Store(serverStopped)
	s.cleanup()
	close(s.done)
}

// onLoop reports whether the caller runs on the reactor goroutine, which is
// the only goroutine scheduled on its locked thread.
func (s *Server) onLoop() bool {
	thread := s.loopThread.Load()
	return thread != 0 && thread == int32(unix.Gettid())
}

func (s *Server) run() error {
	for {
		timeout := -1
		if len(s.deferred) > 0 || s.channel.buffered() {
			timeout = 0
		}
		events, err := s.poller.Wait(timeout)
		if err != nil {
			return err
		}
		var channelReady bool
		for _, event := range events {
			if event.tag == channelTag {
				channelReady = true
				continue
			}
			s.processSocket(ID(event.tag-1), event)
		}
		if channelReady || s.channel.buffered() {
			exit, err := s.processCommands()
			if err != nil {
				return err
			}
			if exit {
				return nil
			}
		}
		if s.processDeferred() {
			return nil
		}
	}
}

// processCommands runs up to commandBatch frames from the command channel.
// Whatever is left is picked up after the next, non-blocking, wait.
func (s *Server) processCommands() (exit bool, err error) {
	for count := 0; count < commandBatch; count++ {
		cmd, ok, err := s.channel.next()
		if err != nil {
			if err == ErrMalformedCommand {
				s.logger.Warn("drop malformed command")
				continue
			}
			return false, err
		}
		if !ok {
			return false, nil
		}
		if cmd == nil {
			s.logger.Warn("drop command of unknown type")
			continue
		}
		if s.execute(cmd) {
			return true, nil
		}
	}
	return false, nil
}

// processDeferred runs commands the handler submitted from the reactor
// goroutine. Commands they submit in turn wait for the next iteration.
func (s *Server) processDeferred() (exit bool) {
	if len(s.deferred) == 0 {
		return false
	}
	commands := s.deferred
	s.deferred = nil
	for index, cmd := range commands {
		commands[index] = nil
		if s.execute(cmd) {
			return true
		}
	}
	return false
}

func (s *Server) execute(cmd command) (exit bool) {
	s.stats.commands.Add(1)
	switch cmd := cmd.(type) {
	case *connectCommand:
		s.handleConnect(cmd)
	case *listenCommand:
		s.handleListen(cmd)
	case *sendCommand:
		s.handleSend(cmd)
	case *closeCommand:
		s.handleClose(cmd)
	case *bindCommand:
		s.handleBind(cmd)
	case *watchCommand:
		s.handleWatch(cmd)
	case *shutdownCommand:
		s.closeAll()
		s.emit(Event{Code: EventExit, ID: InvalidID, Opaque: cmd.opaque})
		return true
	}
	return false
}

func (s *Server) processSocket(id ID, event pollEvent) {
	sock := s.table.entity(id)
	if sock == nil {
		return
	}
	switch sock.State() {
	case StateConnecting:
		if event.writable {
			s.finishConnect(sock)
		}
	case StateListening:
		if event.readable {
			s.accept(sock)
		}
	case StateConnected, StateBound, StateHalfClosing:
		if event.writable && sock.writing {
			s.drain(sock)
			if s.table.entity(id) != sock {
				return
			}
		}
		if event.readable {
			s.read(sock)
		}
	}
}

// closeAll force-closes every live socket. Slots still Reserved belong to
// commands that will never run and are left alone.
func (s *Server) closeAll() {
	for index := range s.table.sockets {
		sock := &s.table.sockets[index]
		if sock.State().live() {
			s.forceClose(sock)
		}
	}
}

// forceClose drops queued writes, deregisters and closes the descriptor, and
// returns the slot to the table.
func (s *Server) forceClose(sock *socket) {
	var err error
	if sock.polled {
		err = s.poller.Remove(sock.fd)
	}
	err = E.Errors(err, closeFD(sock.fd))
	if err != nil {
		s.logger.Debug("close socket ", sock.ID(), ": ", err)
	}
	s.table.release(sock)
	s.stats.live.Add(-1)
	s.stats.closed.Add(1)
}
