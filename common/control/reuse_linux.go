package control

import (
	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/sys/unix"
)

func ReuseAddr() Func {
	return func(fd int, listen bool) error {
		if !listen {
			return nil
		}
		return E.Cause(unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1), "set SO_REUSEADDR")
	}
}

func ReusePort() Func {
	return func(fd int, listen bool) error {
		if !listen {
			return nil
		}
		return E.Cause(unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1), "set SO_REUSEPORT")
	}
}
