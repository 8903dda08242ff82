package reactor

import (
	"sync"
	"testing"

	"github.com/sagernet/sing-reactor/common/buf"

	"github.com/stretchr/testify/require"
)

func TestTableReserveUnique(t *testing.T) {
	t.Parallel()
	const (
		capacity = 512
		workers  = 8
	)
	table := newTable(capacity)
	var (
		access sync.Mutex
		seen   = make(map[ID]bool)
		wait   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wait.Add(1)
		go func() {
			defer wait.Done()
			for j := 0; j < capacity/workers; j++ {
				id := table.reserve()
				require.NotEqual(t, InvalidID, id)
				access.Lock()
				require.False(t, seen[id], "duplicate id ", id)
				seen[id] = true
				access.Unlock()
			}
		}()
	}
	wait.Wait()
	require.Len(t, seen, capacity)
	slots := make(map[int]bool)
	for id := range seen {
		slots[int(id)%capacity] = true
		require.Equal(t, StateReserved, table.slot(id).State())
	}
	require.Len(t, slots, capacity)
}

func TestTableSaturation(t *testing.T) {
	t.Parallel()
	table := newTable(4)
	var ids []ID
	for i := 0; i < 4; i++ {
		id := table.reserve()
		require.NotEqual(t, InvalidID, id)
		ids = append(ids, id)
	}
	require.Equal(t, InvalidID, table.reserve())
	require.Equal(t, InvalidID, table.reserve())

	table.unreserve(ids[2])
	require.Nil(t, table.entity(ids[2]))
	id := table.reserve()
	require.NotEqual(t, InvalidID, id)
	require.Equal(t, int(ids[2])%4, int(id)%4)
	require.Equal(t, InvalidID, table.reserve())
}

func TestTableStaleID(t *testing.T) {
	t.Parallel()
	table := newTable(2)
	first := table.reserve()
	sock := table.reserved(first)
	require.NotNil(t, sock)
	sock.setState(StateConnected)
	require.Nil(t, table.reserved(first))
	require.Same(t, sock, table.entity(first))

	table.release(sock)
	require.Nil(t, table.entity(first))

	var next ID
	for {
		next = table.reserve()
		require.NotEqual(t, InvalidID, next)
		if table.slot(next) == sock {
			break
		}
	}
	require.NotEqual(t, first, next)
	require.Nil(t, table.entity(first))
	require.Same(t, sock, table.entity(next))

	// an unreserve carrying the old id must not free the new generation
	table.unreserve(first)
	require.Equal(t, StateReserved, sock.State())
	require.Nil(t, table.entity(InvalidID))
}

func TestTableReleaseDropsWrites(t *testing.T) {
	t.Parallel()
	table := newTable(1)
	sock := table.reserved(table.reserve())
	require.NotNil(t, sock)
	sock.enqueue(buf.As([]byte("hello")))
	sock.enqueue(buf.As([]byte("world")))
	require.True(t, sock.queued())
	require.Equal(t, "hello", sock.head().String())
	table.release(sock)
	require.False(t, sock.queued())
	require.Equal(t, StateInvalid, sock.State())
	require.Equal(t, -1, sock.fd)
}
