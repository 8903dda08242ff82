package reactor

import (
	"unsafe"

	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/sys/unix"
)

// channelTag marks readiness of the command channel. Sockets use id+1.
const channelTag uint64 = 0

const DefaultEventBatch = 256

type pollEvent struct {
	tag      uint64
	readable bool
	writable bool
}

// poller is a level-triggered epoll instance. It is used by the reactor
// goroutine only.
type poller struct {
	epollFD int
	events  []unix.EpollEvent
	ready   []pollEvent
}

func newPoller(batch int) (*poller, error) {
	if batch <= 0 {
		batch = DefaultEventBatch
	}
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, E.Cause(err, "create epoll")
	}
	return &poller{
		epollFD: epollFD,
		events:  make([]unix.EpollEvent, batch),
		ready:   make([]pollEvent, 0, batch),
	}, nil
}

func epollEvent(tag uint64, writable bool) *unix.EpollEvent {
	event := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP}
	if writable {
		event.Events |= unix.EPOLLOUT
	}
	*(*uint64)(unsafe.Pointer(&event.Fd)) = tag
	return event
}

func (p *poller) Add(fd int, tag uint64, writable bool) error {
	return unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_ADD, fd, epollEvent(tag, writable))
}

func (p *poller) Modify(fd int, tag uint64, writable bool) error {
	return unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_MOD, fd, epollEvent(tag, writable))
}

func (p *poller) Remove(fd int) error {
	return unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered descriptor is ready, or for at
// most timeout milliseconds when timeout is not negative. An interrupted wait
// returns no events and no error.
func (p *poller) Wait(timeout int) ([]pollEvent, error) {
	n, err := unix.EpollWait(p.epollFD, p.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, E.Cause(err, "epoll wait")
	}
	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		event := &p.events[i]
		flags := event.Events
		p.ready = append(p.ready, pollEvent{
			tag:      *(*uint64)(unsafe.Pointer(&event.Fd)),
			readable: flags&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			writable: flags&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return p.ready, nil
}

func (p *poller) Close() error {
	if p.epollFD == -1 {
		return nil
	}
	err := unix.Close(p.epollFD)
	p.epollFD = -1
	return err
}

func setNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
