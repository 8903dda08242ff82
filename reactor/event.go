package reactor

import (
	"strconv"

	"github.com/sagernet/sing-reactor/common/buf"
	M "github.com/sagernet/sing-reactor/common/metadata"
)

type EventCode uint8

const (
	// EventAccepted: ID is the listener, UserData the new socket id, Addr the peer.
	EventAccepted EventCode = iota
	// EventConnected: an outgoing connection completed. Addr is the peer.
	EventConnected
	// EventListening: a polled listener is ready. Addr is the bound address.
	EventListening
	// EventData: Payload holds the bytes read and belongs to the handler.
	EventData
	// EventSendComplete: the write queue drained. UserData counts the bytes written
	// since the queue last became non-empty.
	EventSendComplete
	// EventSendPartial: data is still queued. UserData is the running total since
	// the queue last became non-empty.
	EventSendPartial
	EventClosed
	EventError
	EventWatched
	EventBound
	EventExit
)

func (c EventCode) String() string {
	switch c {
	case EventAccepted:
		return "accepted"
	case EventConnected:
		return "connected"
	case EventListening:
		return "listening"
	case EventData:
		return "data"
	case EventSendComplete:
		return "send-complete"
	case EventSendPartial:
		return "send-partial"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventWatched:
		return "watched"
	case EventBound:
		return "bound"
	case EventExit:
		return "exit"
	default:
		return "event(" + strconv.Itoa(int(c)) + ")"
	}
}

// Event is produced on the reactor goroutine and handed to the Handler
// synchronously. Only Payload may be retained past the call, and the handler
// is responsible for releasing it.
type Event struct {
	Code     EventCode
	ID       ID
	Opaque   uint64
	UserData int64
	Payload  *buf.Buffer
	Addr     M.Socksaddr
	Err      error
}

// AcceptedID returns the id of the socket created by an EventAccepted.
func (e Event) AcceptedID() ID {
	if e.Code != EventAccepted {
		return InvalidID
	}
	return ID(e.UserData)
}

type Handler interface {
	HandleEvent(event Event)
}

type HandlerFunc func(event Event)

func (f HandlerFunc) HandleEvent(event Event) {
	f(event)
}

type discardHandler struct{}

func (discardHandler) HandleEvent(event Event) {
	if event.Payload != nil {
		event.Payload.Release()
	}
}
