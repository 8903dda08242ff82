package reactor

import "sync/atomic"

// Stats is a point-in-time snapshot of reactor counters.
type Stats struct {
	Live         int64
	Accepted     uint64
	Connected    uint64
	Closed       uint64
	Commands     uint64
	BytesRead    uint64
	BytesWritten uint64
}

type statsCounter struct {
	live         atomic.Int64
	accepted     atomic.Uint64
	connected    atomic.Uint64
	closed       atomic.Uint64
	commands     atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

func (c *statsCounter) snapshot() Stats {
	return Stats{
		Live:         c.live.Load(),
		Accepted:     c.accepted.Load(),
		Connected:    c.connected.Load(),
		Closed:       c.closed.Load(),
		Commands:     c.commands.Load(),
		BytesRead:    c.bytesRead.Load(),
		BytesWritten: c.bytesWritten.Load(),
	}
}
