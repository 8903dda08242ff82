package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	Event
	Data []byte
}

type recorder struct {
	events chan recordedEvent
}

func newRecorder() *recorder {
	return &recorder{events: make(chan recordedEvent, 4096)}
}

func (r *recorder) HandleEvent(event Event) {
	record := recordedEvent{Event: event}
	if event.Payload != nil {
		record.Data = append([]byte(nil), event.Payload.Bytes()...)
		event.Payload.Release()
		record.Payload = nil
	}
	r.events <- record
}

// next returns the next event matching code and id, skipping anything else.
func (r *recorder) next(t *testing.T, code EventCode, id ID) recordedEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event := <-r.events:
			if event.Code == code && (id == InvalidID || event.ID == id) {
				return event
			}
		case <-timeout:
			t.Fatal("timeout waiting for ", code, " on ", id)
		}
	}
}

// nextOf returns the next event on id carrying any of codes. InvalidID
// matches every socket.
func (r *recorder) nextOf(t *testing.T, id ID, codes ...EventCode) recordedEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event := <-r.events:
			if id != InvalidID && event.ID != id {
				continue
			}
			for _, code := range codes {
				if event.Code == code {
					return event
				}
			}
		case <-timeout:
			t.Fatal("timeout waiting for ", codes, " on ", id)
		}
	}
}

// data collects payloads on id until n bytes arrived.
func (r *recorder) data(t *testing.T, id ID, n int) []byte {
	t.Helper()
	var content []byte
	for len(content) < n {
		content = append(content, r.next(t, EventData, id).Data...)
	}
	return content
}

// quiet fails if an event with code shows up within a short window.
func (r *recorder) quiet(t *testing.T, code EventCode) {
	t.Helper()
	timeout := time.After(200 * time.Millisecond)
	for {
		select {
		case event := <-r.events:
			require.NotEqual(t, code, event.Code, "unexpected event on ", event.ID)
		case <-timeout:
			return
		}
	}
}

func newTestServer(t *testing.T, options ...Option) (*Server, *recorder) {
	events := newRecorder()
	server, err := New(append([]Option{WithHandler(events), WithCapacity(64)}, options...)...)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		server.Stop()
	})
	return server, events
}

func Timeout(t *testing.T) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
			t.Error("timeout")
		}
	}()
	return cancel
}

type eventMatch struct {
	code EventCode
	id   ID
}

// all waits for one event per match, in any order, skipping anything else.
func (r *recorder) all(t *testing.T, matches ...eventMatch) []recordedEvent {
	t.Helper()
	found := make([]recordedEvent, len(matches))
	done := make([]bool, len(matches))
	remaining := len(matches)
	timeout := time.After(5 * time.Second)
	for remaining > 0 {
		select {
		case event := <-r.events:
			for index, match := range matches {
				if !done[index] && event.Code == match.code && (match.id == InvalidID || event.ID == match.id) {
					found[index] = event
					done[index] = true
					remaining--
					break
				}
			}
		case <-timeout:
			t.Fatal("timeout waiting for ", matches)
		}
	}
	return found
}
