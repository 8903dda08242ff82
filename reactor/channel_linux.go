package reactor

import (
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/sys/unix"
)

const channelReadSize = 16 * 1024

// commandChannel is the pipe carrying command frames from any goroutine to
// the reactor goroutine, which is its only reader. Both ends are
// non-blocking: a writer that finds the pipe full parks its frame in the
// backlog, and every later frame follows it there until the reader has taken
// the backlog, so frames from one writer stay in order.
type commandChannel struct {
	readFD  int
	writeFD int
	closed  atomic.Bool
	writers atomic.Int32

	access     sync.Mutex
	readClosed bool
	backlog    [][]byte

	// reader side, owned by the reactor goroutine
	inbox   []byte
	taken   [][]byte
	scratch [channelReadSize]byte
}

func newCommandChannel() (*commandChannel, error) {
	var pipeFDs [2]int
	err := unix.Pipe2(pipeFDs[:], unix.O_CLOEXEC|unix.O_NONBLOCK)
	if err != nil {
		return nil, E.Cause(err, "create command pipe")
	}
	return &commandChannel{
		readFD:  pipeFDs[0],
		writeFD: pipeFDs[1],
	}, nil
}

// send queues one frame and never blocks on the pipe. Frames never exceed
// PIPE_BUF, so a write is all or nothing and a short write means the channel
// is broken.
func (c *commandChannel) send(frame []byte) error {
	c.writers.Add(1)
	defer c.writers.Add(-1)
	if c.closed.Load() {
		return ErrServerClosed
	}
	c.access.Lock()
	defer c.access.Unlock()
	if c.readClosed {
		return ErrServerClosed
	}
	if len(c.backlog) > 0 {
		c.backlog = append(c.backlog, frame)
		return nil
	}
	for {
		n, err := unix.Write(c.writeFD, frame)
		if err != nil {
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				c.backlog = append(c.backlog, frame)
				return nil
			case unix.EPIPE:
				return ErrServerClosed
			}
			return E.Cause(err, "write command channel")
		}
		if n != len(frame) {
			return E.New("short write on command channel: ", n, " of ", len(frame))
		}
		return nil
	}
}

// buffered reports whether frames have been read or taken but not yet
// returned by next.
func (c *commandChannel) buffered() bool {
	return len(c.inbox) > 0 || len(c.taken) > 0
}

// next returns the next frame in submission order. ok is false once the pipe
// and the backlog are both empty. A nil command with ok set is a frame of
// unknown type.
func (c *commandChannel) next() (cmd command, ok bool, err error) {
	for {
		if frame, loaded := c.popInbox(); loaded {
			cmd, err = decodeCommand(commandType(frame[0]), frame[commandHeaderSize:])
			return cmd, true, err
		}
		if len(c.inbox) == 0 && len(c.taken) > 0 {
			frame := c.taken[0]
			c.taken[0] = nil
			c.taken = c.taken[1:]
			cmd, err = decodeCommand(commandType(frame[0]), frame[commandHeaderSize:])
			return cmd, true, err
		}
		if len(c.taken) > 0 {
			return nil, false, E.New("truncated frame ahead of command backlog")
		}
		read, err := c.fill()
		if err != nil {
			return nil, false, err
		}
		if !read {
			return nil, false, nil
		}
	}
}

func (c *commandChannel) popInbox() ([]byte, bool) {
	if len(c.inbox) < commandHeaderSize {
		return nil, false
	}
	size := commandHeaderSize + int(c.inbox[1])
	if len(c.inbox) < size {
		return nil, false
	}
	frame := c.inbox[:size]
	c.inbox = c.inbox[size:]
	if len(c.inbox) == 0 {
		c.inbox = c.inbox[:0:0]
	}
	return frame, true
}

// fill reads what the pipe holds. Once the pipe is drained it takes the
// backlog too: no writer touches the pipe while the backlog is non-empty, so
// every frame read here precedes every backlog frame.
func (c *commandChannel) fill() (bool, error) {
	c.access.Lock()
	defer c.access.Unlock()
	var read bool
	for {
		n, err := unix.Read(c.readFD, c.scratch[:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				break
			}
			return read, E.Cause(err, "read command channel")
		}
		if n == 0 {
			return read, E.Cause(io.ErrUnexpectedEOF, "read command channel")
		}
		c.inbox = append(c.inbox, c.scratch[:n]...)
		read = true
		if n < len(c.scratch) {
			continue
		}
		if len(c.inbox) >= 4*channelReadSize {
			return true, nil
		}
	}
	if len(c.backlog) > 0 {
		c.taken = append(c.taken, c.backlog...)
		c.backlog = c.backlog[:0:0]
		read = true
	}
	return read, nil
}

// closeRead is called once the reactor stops reading. Later sends fail with
// ErrServerClosed instead of growing the backlog.
func (c *commandChannel) closeRead() error {
	c.access.Lock()
	defer c.access.Unlock()
	c.readClosed = true
	c.backlog = nil
	if c.readFD == -1 {
		return nil
	}
	err := unix.Close(c.readFD)
	c.readFD = -1
	return err
}

// close releases the write end once no send is in flight, so a recycled
// descriptor number can never receive a frame.
func (c *commandChannel) close() error {
	if c.closed.Swap(true) {
		return nil
	}
	for c.writers.Load() > 0 {
		runtime.Gosched()
	}
	return E.Errors(c.closeRead(), unix.Close(c.writeFD))
}
