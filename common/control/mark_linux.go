package control

import (
	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/sys/unix"
)

func RoutingMark(mark int) Func {
	return func(fd int, listen bool) error {
		return E.Cause(unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, mark), "set SO_MARK")
	}
}
