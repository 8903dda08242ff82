package buf_test

import (
	"crypto/rand"
	"io"
	"testing"

	"github.com/sagernet/sing-reactor/common/buf"

	"github.com/stretchr/testify/require"
)

func TestBuffer(t *testing.T) {
	t.Parallel()
	buffer := buf.NewSize(1000)
	require.Equal(t, 1000, buffer.Cap())
	require.Len(t, buffer.FreeBytes(), 1000)

	payload := make([]byte, 600)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	n := copy(buffer.FreeBytes(), payload)
	buffer.Truncate(n)
	require.Equal(t, payload, buffer.Bytes())
	n, err = buffer.WriteString(string(payload))
	require.NoError(t, err)
	require.Equal(t, 400, n)
	require.True(t, buffer.IsFull())
	_, err = buffer.WriteString("x")
	require.ErrorIs(t, err, io.ErrShortBuffer)

	buffer.Advance(600)
	require.Equal(t, payload[:400], buffer.Bytes())
	buffer.Truncate(100)
	require.Equal(t, payload[:100], buffer.Bytes())
	buffer.Advance(100)
	require.True(t, buffer.IsEmpty())

	buffer.Release()
}

func TestBufferAs(t *testing.T) {
	t.Parallel()
	data := []byte("hello world")
	buffer := buf.As(data)
	require.Equal(t, "hello world", buffer.String())
	buffer.Advance(6)
	require.Equal(t, "world", buffer.String())
	buffer.Release()
	require.Equal(t, "hello world", string(data))
}

func TestAllocator(t *testing.T) {
	t.Parallel()
	for _, size := range []int{1, 64, 65, 1000, 4096, 65536} {
		data := buf.Get(size)
		require.Len(t, data, size)
		require.Equal(t, 0, cap(data)&(cap(data)-1), "capacity %d is not a power of two", cap(data))
		require.NoError(t, buf.Put(data))
	}
	require.Nil(t, buf.Get(0))
	require.Nil(t, buf.Get(65537))
	require.Error(t, buf.Put(make([]byte, 100)))
}
