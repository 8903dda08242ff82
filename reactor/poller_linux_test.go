package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPollerTags(t *testing.T) {
	t.Parallel()
	p, err := newPoller(8)
	require.NoError(t, err)
	defer p.Close()

	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(pair[0])
	defer unix.Close(pair[1])

	const tag = uint64(1)<<40 | 7
	require.NoError(t, p.Add(pair[0], tag, true))
	events, err := p.Wait(-1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, tag, events[0].tag)
	require.True(t, events[0].writable)
	require.False(t, events[0].readable)

	require.NoError(t, p.Modify(pair[0], tag, false))
	_, err = unix.Write(pair[1], []byte("x"))
	require.NoError(t, err)
	events, err = p.Wait(-1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.True(t, events[0].readable)
	require.False(t, events[0].writable)

	require.NoError(t, p.Remove(pair[0]))
	require.Error(t, p.Remove(pair[0]))
}

func TestCommandChannel(t *testing.T) {
	t.Parallel()
	channel, err := newCommandChannel()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		frame, err := encodeCommand(&closeCommand{id: ID(i), opaque: uint64(i * 10)})
		require.NoError(t, err)
		require.NoError(t, channel.send(frame))
	}
	require.NoError(t, channel.send([]byte{0xee, 2, 1, 2}))
	for i := 0; i < 3; i++ {
		cmd, ok, err := channel.next()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, &closeCommand{id: ID(i), opaque: uint64(i * 10)}, cmd)
	}
	cmd, ok, err := channel.next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, cmd)

	_, ok, err = channel.next()
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, channel.buffered())

	require.NoError(t, channel.close())
	require.NoError(t, channel.close())
	require.ErrorIs(t, channel.send([]byte{0, 0}), ErrServerClosed)
}

func TestCommandChannelBacklog(t *testing.T) {
	t.Parallel()
	channel, err := newCommandChannel()
	require.NoError(t, err)
	defer channel.close()

	// far more than the pipe holds, with nobody reading
	const total = 20000
	for i := 0; i < total; i++ {
		frame, err := encodeCommand(&closeCommand{id: ID(i), opaque: uint64(i)})
		require.NoError(t, err)
		require.NoError(t, channel.send(frame))
	}
	channel.access.Lock()
	require.NotEmpty(t, channel.backlog)
	channel.access.Unlock()

	for i := 0; i < total; i++ {
		cmd, ok, err := channel.next()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, &closeCommand{id: ID(i), opaque: uint64(i)}, cmd)
	}
	_, ok, err := channel.next()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, channel.closeRead())
	frame, err := encodeCommand(&closeCommand{id: 1})
	require.NoError(t, err)
	require.ErrorIs(t, channel.send(frame), ErrServerClosed)
}
