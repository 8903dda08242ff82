package control_test

import (
	"testing"
	"time"

	"github.com/sagernet/sing-reactor/common/control"
	E "github.com/sagernet/sing-reactor/common/exceptions"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newSocket(t *testing.T) int {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fd)
	})
	return fd
}

func TestApplyListener(t *testing.T) {
	t.Parallel()
	fd := newSocket(t)
	require.NoError(t, control.Apply(fd, true, control.ReuseAddr(), nil, control.NoDelay()))
	value, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	require.NoError(t, err)
	require.Equal(t, 1, value)
	value, err = unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	require.Equal(t, 0, value)
}

func TestApplyStream(t *testing.T) {
	t.Parallel()
	fd := newSocket(t)
	fn := control.Append(control.NoDelay(), control.SetKeepAlivePeriod(30*time.Second, 1500*time.Millisecond))
	require.NoError(t, control.Apply(fd, false, control.ReuseAddr(), fn))
	value, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	require.Equal(t, 1, value)
	value, err = unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE)
	require.NoError(t, err)
	require.Equal(t, 30, value)
	value, err = unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL)
	require.NoError(t, err)
	require.Equal(t, 2, value)
	value, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	require.NoError(t, err)
	require.Equal(t, 0, value)
}

func TestApplyStopsAtFirstError(t *testing.T) {
	t.Parallel()
	var called bool
	failure := E.New("refused")
	err := control.Apply(-1, false, func(fd int, listen bool) error {
		return failure
	}, func(fd int, listen bool) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, failure)
	require.False(t, called)
}
