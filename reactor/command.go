package reactor

import (
	"encoding/binary"
)

// Frames on the command channel are [type:1][len:1][payload:len]. The payload
// is bounded by the length byte, which keeps every frame far below PIPE_BUF so
// a single write(2) is atomic with respect to other writers.
const (
	commandHeaderSize = 2
	maxCommandPayload = 255
)

type commandType uint8

const (
	commandConnect commandType = iota + 1
	commandListen
	commandSend
	commandClose
	commandBind
	commandWatch
	commandShutdown
)

type command interface {
	commandType() commandType
	appendPayload(payload []byte) []byte
}

type connectCommand struct {
	id     ID
	port   uint16
	opaque uint64
	host   string
}

type listenCommand struct {
	id      ID
	port    uint16
	backlog int32
	poll    bool
	opaque  uint64
	host    string
}

type sendCommand struct {
	id     ID
	ticket uint64
	length uint32
}

type closeCommand struct {
	id     ID
	opaque uint64
}

type bindCommand struct {
	id     ID
	fd     int32
	opaque uint64
}

type watchCommand struct {
	id     ID
	opaque uint64
}

type shutdownCommand struct {
	opaque uint64
}

// fixed payload sizes of the commands that carry a host, excluding the host bytes
const (
	connectFixedSize = 4 + 2 + 8 + 1
	listenFixedSize  = 4 + 2 + 4 + 1 + 8 + 1

	MaxConnectHostLength = maxCommandPayload - connectFixedSize
	MaxListenHostLength  = maxCommandPayload - listenFixedSize
)

func (c *connectCommand) commandType() commandType { return commandConnect }
func (c *listenCommand) commandType() commandType  { return commandListen }
func (c *sendCommand) commandType() commandType    { return commandSend }
func (c *closeCommand) commandType() commandType   { return commandClose }
func (c *bindCommand) commandType() commandType    { return commandBind }
func (c *watchCommand) commandType() commandType   { return commandWatch }
func (c *shutdownCommand) commandType() commandType {
	return commandShutdown
}

func (c *connectCommand) appendPayload(payload []byte) []byte {
	payload = binary.LittleEndian.AppendUint32(payload, uint32(c.id))
	payload = binary.LittleEndian.AppendUint16(payload, c.port)
	payload = binary.LittleEndian.AppendUint64(payload, c.opaque)
	return appendString(payload, c.host)
}

func (c *listenCommand) appendPayload(payload []byte) []byte {
	payload = binary.LittleEndian.AppendUint32(payload, uint32(c.id))
	payload = binary.LittleEndian.AppendUint16(payload, c.port)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(c.backlog))
	if c.poll {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	payload = binary.LittleEndian.AppendUint64(payload, c.opaque)
	return appendString(payload, c.host)
}

func (c *sendCommand) appendPayload(payload []byte) []byte {
	payload = binary.LittleEndian.AppendUint32(payload, uint32(c.id))
	payload = binary.LittleEndian.AppendUint64(payload, c.ticket)
	return binary.LittleEndian.AppendUint32(payload, c.length)
}

func (c *closeCommand) appendPayload(payload []byte) []byte {
	payload = binary.LittleEndian.AppendUint32(payload, uint32(c.id))
	return binary.LittleEndian.AppendUint64(payload, c.opaque)
}

func (c *bindCommand) appendPayload(payload []byte) []byte {
	payload = binary.LittleEndian.AppendUint32(payload, uint32(c.id))
	payload = binary.LittleEndian.AppendUint32(payload, uint32(c.fd))
	return binary.LittleEndian.AppendUint64(payload, c.opaque)
}

func (c *watchCommand) appendPayload(payload []byte) []byte {
	payload = binary.LittleEndian.AppendUint32(payload, uint32(c.id))
	return binary.LittleEndian.AppendUint64(payload, c.opaque)
}

func (c *shutdownCommand) appendPayload(payload []byte) []byte {
	return binary.LittleEndian.AppendUint64(payload, c.opaque)
}

func appendString(payload []byte, value string) []byte {
	payload = append(payload, uint8(len(value)))
	return append(payload, value...)
}

// encodeCommand builds a complete frame for cmd.
func encodeCommand(cmd command) ([]byte, error) {
	frame := make([]byte, commandHeaderSize, commandHeaderSize+32)
	frame = cmd.appendPayload(frame)
	payloadLength := len(frame) - commandHeaderSize
	if payloadLength > maxCommandPayload {
		return nil, ErrMalformedCommand
	}
	frame[0] = uint8(cmd.commandType())
	frame[1] = uint8(payloadLength)
	return frame, nil
}

// decodeCommand parses the payload of a frame of the given type. Unknown types
// decode to a nil command and a nil error.
func decodeCommand(kind commandType, payload []byte) (command, error) {
	reader := payloadReader{data: payload}
	var cmd command
	switch kind {
	case commandConnect:
		cmd = &connectCommand{
			id:     ID(reader.uint32()),
			port:   reader.uint16(),
			opaque: reader.uint64(),
			host:   reader.string(),
		}
	case commandListen:
		cmd = &listenCommand{
			id:      ID(reader.uint32()),
			port:    reader.uint16(),
			backlog: int32(reader.uint32()),
			poll:    reader.uint8() != 0,
			opaque:  reader.uint64(),
			host:    reader.string(),
		}
	case commandSend:
		cmd = &sendCommand{
			id:     ID(reader.uint32()),
			ticket: reader.uint64(),
			length: reader.uint32(),
		}
	case commandClose:
		cmd = &closeCommand{
			id:     ID(reader.uint32()),
			opaque: reader.uint64(),
		}
	case commandBind:
		cmd = &bindCommand{
			id:     ID(reader.uint32()),
			fd:     int32(reader.uint32()),
			opaque: reader.uint64(),
		}
	case commandWatch:
		cmd = &watchCommand{
			id:     ID(reader.uint32()),
			opaque: reader.uint64(),
		}
	case commandShutdown:
		cmd = &shutdownCommand{
			opaque: reader.uint64(),
		}
	default:
		return nil, nil
	}
	if reader.short || len(reader.data) != 0 {
		return nil, ErrMalformedCommand
	}
	return cmd, nil
}

type payloadReader struct {
	data  []byte
	short bool
}

func (r *payloadReader) take(n int) []byte {
	if r.short || len(r.data) < n {
		r.short = true
		return nil
	}
	value := r.data[:n]
	r.data = r.data[n:]
	return value
}

func (r *payloadReader) uint8() uint8 {
	if value := r.take(1); value != nil {
		return value[0]
	}
	return 0
}

func (r *payloadReader) uint16() uint16 {
	if value := r.take(2); value != nil {
		return binary.LittleEndian.Uint16(value)
	}
	return 0
}

func (r *payloadReader) uint32() uint32 {
	if value := r.take(4); value != nil {
		return binary.LittleEndian.Uint32(value)
	}
	return 0
}

func (r *payloadReader) uint64() uint64 {
	if value := r.take(8); value != nil {
		return binary.LittleEndian.Uint64(value)
	}
	return 0
}

func (r *payloadReader) string() string {
	length := int(r.uint8())
	if value := r.take(length); value != nil {
		return string(value)
	}
	return ""
}
