package reactor

import (
	"math"
	"sync/atomic"

	"github.com/sagernet/sing-reactor/common/buf"

	"github.com/eapache/queue"
)

// ID identifies one generation of a table slot.
type ID int32

const InvalidID ID = -1

const (
	MinReadBufferSize = 64
	MaxReadBufferSize = 64 * 1024
)

// socket is a table slot. Only state and id are touched outside the reactor
// goroutine: state by the reservation CAS, id right after a successful CAS.
type socket struct {
	id          atomic.Int32
	state       atomic.Int32
	fd          int
	opaque      uint64
	closeOpaque uint64
	readSize    int
	writing     bool
	polled      bool
	writes      *queue.Queue
	// bytes written since the write queue last became non-empty
	sent int64
}

func (s *socket) ID() ID {
	return ID(s.id.Load())
}

func (s *socket) State() State {
	return State(s.state.Load())
}

func (s *socket) setState(state State) {
	s.state.Store(int32(state))
}

// tag is the poller registration tag for the socket. Zero is reserved for the
// command channel.
func (s *socket) tag() uint64 {
	return uint64(s.ID()) + 1
}

func (s *socket) queued() bool {
	return s.writes != nil && s.writes.Length() > 0
}

func (s *socket) enqueue(buffer *buf.Buffer) {
	if s.writes == nil {
		s.writes = queue.New()
	}
	s.writes.Add(buffer)
}

func (s *socket) head() *buf.Buffer {
	return s.writes.Peek().(*buf.Buffer)
}

func (s *socket) dequeue() {
	s.writes.Remove().(*buf.Buffer).Release()
}

// dropWrites releases every queued buffer and returns the number of bytes
// discarded.
func (s *socket) dropWrites() int {
	var dropped int
	for s.queued() {
		dropped += s.head().Len()
		s.dequeue()
	}
	return dropped
}

type table struct {
	counter atomic.Uint32
	sockets []socket
}

func newTable(capacity int) *table {
	t := &table{
		sockets: make([]socket, capacity),
	}
	for index := range t.sockets {
		t.sockets[index].fd = -1
		t.sockets[index].id.Store(int32(InvalidID))
	}
	return t
}

func (t *table) capacity() int {
	return len(t.sockets)
}

func (t *table) slot(id ID) *socket {
	return &t.sockets[int(id)%len(t.sockets)]
}

// reserve claims an Invalid slot for a fresh id. It is safe to call from any
// goroutine and returns InvalidID once every slot is in use.
func (t *table) reserve() ID {
	for attempt := 0; attempt < len(t.sockets); attempt++ {
		id := ID(t.counter.Add(1) & math.MaxInt32)
		sock := t.slot(id)
		if sock.State() != StateInvalid {
			continue
		}
		if sock.state.CompareAndSwap(int32(StateInvalid), int32(StateReserved)) {
			sock.id.Store(int32(id))
			return id
		}
		// lost the slot to another reserver, try again without using up an attempt
		attempt--
	}
	return InvalidID
}

// unreserve returns a slot whose command never reached the reactor.
func (t *table) unreserve(id ID) {
	sock := t.slot(id)
	if sock.ID() == id {
		sock.state.CompareAndSwap(int32(StateReserved), int32(StateInvalid))
	}
}

// entity resolves id to its slot, or nil when the id is out of range, stale or
// the slot is Invalid.
func (t *table) entity(id ID) *socket {
	if id < 0 {
		return nil
	}
	sock := t.slot(id)
	if sock.ID() != id || sock.State() == StateInvalid {
		return nil
	}
	return sock
}

// reserved resolves id to its slot only while it is still Reserved.
func (t *table) reserved(id ID) *socket {
	sock := t.entity(id)
	if sock == nil || sock.State() != StateReserved {
		return nil
	}
	return sock
}

// release makes the slot reusable. The descriptor must already be closed or
// handed back to its owner.
func (t *table) release(sock *socket) {
	sock.dropWrites()
	sock.fd = -1
	sock.opaque = 0
	sock.closeOpaque = 0
	sock.sent = 0
	sock.writing = false
	sock.polled = false
	sock.setState(StateInvalid)
}
