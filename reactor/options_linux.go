package reactor

import (
	"net"

	"github.com/sagernet/sing-reactor/common/control"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	DefaultCapacity = 1 << 16
	MaxCapacity     = 1 << 20
	DefaultBacklog  = 64
)

type Option func(*Server)

// WithCapacity overrides the socket table size, which defaults to the soft
// RLIMIT_NOFILE of the process.
func WithCapacity(capacity int) Option {
	return func(server *Server) {
		if capacity > 0 {
			server.capacity = capacity
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(server *Server) {
		if logger != nil {
			server.logger = logger
		}
	}
}

func WithHandler(handler Handler) Option {
	return func(server *Server) {
		server.SetHandler(handler)
	}
}

// WithWatchAccepted registers accepted sockets with the poller right away, so
// they start as Connected instead of PendingAccept.
func WithWatchAccepted(watch bool) Option {
	return func(server *Server) {
		server.watchAccepted = watch
	}
}

// WithEventBatch sets how many readiness events one epoll wait may return.
func WithEventBatch(size int) Option {
	return func(server *Server) {
		server.eventBatch = size
	}
}

// WithControl appends functions applied to every socket the reactor creates or
// accepts.
func WithControl(funcs ...control.Func) Option {
	return func(server *Server) {
		for _, fn := range funcs {
			server.control = control.Append(server.control, fn)
		}
	}
}

func WithResolver(resolver *net.Resolver) Option {
	return func(server *Server) {
		if resolver != nil {
			server.resolver = resolver
		}
	}
}

func defaultCapacity() int {
	var limit unix.Rlimit
	err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit)
	if err != nil || limit.Cur == 0 {
		return DefaultCapacity
	}
	if limit.Cur > MaxCapacity {
		return MaxCapacity
	}
	return int(limit.Cur)
}
