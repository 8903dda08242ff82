package reactor

import (
	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/sys/unix"
)

func (s *Server) handleSend(cmd *sendCommand) {
	buffer := s.claimParcel(cmd.ticket)
	if buffer == nil {
		s.logger.Warn("drop send to ", cmd.id, ": unknown ticket ", cmd.ticket)
		return
	}
	sock := s.table.entity(cmd.id)
	if sock == nil || !sock.State().sendable() {
		buffer.Release()
		var opaque uint64
		if sock != nil {
			opaque = sock.opaque
		}
		s.emit(Event{Code: EventError, ID: cmd.id, Opaque: opaque, Err: ErrInvalidState})
		return
	}
	if buffer.IsEmpty() {
		buffer.Release()
		s.emit(Event{Code: EventSendComplete, ID: cmd.id, Opaque: sock.opaque})
		return
	}
	if sock.queued() || sock.State() == StateConnecting {
		sock.enqueue(buffer)
		return
	}
	n, err := unix.Write(sock.fd, buffer.Bytes())
	if err != nil {
		if !isTransient(err) {
			buffer.Release()
			s.closeWithError(sock, E.Cause(err, "write"))
			return
		}
		n = 0
	}
	s.stats.bytesWritten.Add(uint64(n))
	if n == buffer.Len() {
		buffer.Release()
		s.emit(Event{Code: EventSendComplete, ID: cmd.id, Opaque: sock.opaque, UserData: int64(n)})
		return
	}
	buffer.Advance(n)
	sock.enqueue(buffer)
	sock.sent = int64(n)
	err = s.setWriting(sock, true)
	if err != nil {
		s.closeWithError(sock, err)
		return
	}
	s.emit(Event{Code: EventSendPartial, ID: cmd.id, Opaque: sock.opaque, UserData: sock.sent})
}

// drain writes queued buffers head to tail until the queue is empty or the
// socket stops accepting data. Send events report the bytes written since the
// queue last became non-empty.
func (s *Server) drain(sock *socket) {
	id, opaque := sock.ID(), sock.opaque
	var progressed bool
	for sock.queued() {
		head := sock.head()
		n, err := unix.Write(sock.fd, head.Bytes())
		if err != nil {
			if isTransient(err) {
				break
			}
			s.closeWithError(sock, E.Cause(err, "write"))
			return
		}
		sock.sent += int64(n)
		s.stats.bytesWritten.Add(uint64(n))
		if n < head.Len() {
			head.Advance(n)
			s.emit(Event{Code: EventSendPartial, ID: id, Opaque: opaque, UserData: sock.sent})
			return
		}
		progressed = true
		sock.dequeue()
	}
	if sock.queued() {
		if progressed {
			s.emit(Event{Code: EventSendPartial, ID: id, Opaque: opaque, UserData: sock.sent})
		}
		return
	}
	sent := sock.sent
	sock.sent = 0
	err := s.setWriting(sock, false)
	if err != nil {
		s.closeWithError(sock, err)
		return
	}
	if sock.State() == StateHalfClosing {
		closeOpaque := sock.closeOpaque
		s.forceClose(sock)
		s.emit(Event{Code: EventClosed, ID: id, Opaque: closeOpaque})
		return
	}
	s.emit(Event{Code: EventSendComplete, ID: id, Opaque: opaque, UserData: sent})
}
