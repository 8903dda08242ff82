package reactor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandRoundTrip(t *testing.T) {
	t.Parallel()
	commands := []command{
		&connectCommand{id: 7, port: 443, opaque: 1 << 40, host: "example.org"},
		&listenCommand{id: 8, port: 80, backlog: 128, poll: true, opaque: 3, host: "::1"},
		&listenCommand{id: 9, backlog: 1},
		&sendCommand{id: 10, ticket: 99, length: 1 << 20},
		&closeCommand{id: 11, opaque: 5},
		&bindCommand{id: 12, fd: 42, opaque: 6},
		&watchCommand{id: 13, opaque: 7},
		&shutdownCommand{opaque: 8},
	}
	for _, cmd := range commands {
		frame, err := encodeCommand(cmd)
		require.NoError(t, err)
		require.Equal(t, uint8(cmd.commandType()), frame[0])
		require.Equal(t, len(frame)-commandHeaderSize, int(frame[1]))
		decoded, err := decodeCommand(commandType(frame[0]), frame[commandHeaderSize:])
		require.NoError(t, err)
		require.Equal(t, cmd, decoded)
	}
}

func TestCommandHostLimit(t *testing.T) {
	t.Parallel()
	frame, err := encodeCommand(&connectCommand{host: strings.Repeat("a", MaxConnectHostLength)})
	require.NoError(t, err)
	require.Len(t, frame, commandHeaderSize+maxCommandPayload)
	_, err = encodeCommand(&listenCommand{host: strings.Repeat("a", MaxListenHostLength)})
	require.NoError(t, err)
	_, err = encodeCommand(&listenCommand{host: strings.Repeat("a", MaxListenHostLength+1)})
	require.ErrorIs(t, err, ErrMalformedCommand)
}

func TestCommandDecodeInvalid(t *testing.T) {
	t.Parallel()
	cmd, err := decodeCommand(commandType(0xff), []byte{1, 2, 3})
	require.NoError(t, err)
	require.Nil(t, cmd)

	_, err = decodeCommand(commandClose, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedCommand)

	frame, err := encodeCommand(&watchCommand{id: 1})
	require.NoError(t, err)
	_, err = decodeCommand(commandWatch, append(frame[commandHeaderSize:], 0))
	require.ErrorIs(t, err, ErrMalformedCommand)

	// host length byte pointing past the payload
	_, err = decodeCommand(commandConnect, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 9, 'a'})
	require.ErrorIs(t, err, ErrMalformedCommand)
}

func TestEventCodeString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "send-partial", EventSendPartial.String())
	require.Equal(t, "event(200)", EventCode(200).String())
	require.Equal(t, "half-closing", StateHalfClosing.String())
	require.Equal(t, InvalidID, Event{Code: EventData, UserData: 3}.AcceptedID())
	require.Equal(t, ID(3), Event{Code: EventAccepted, UserData: 3}.AcceptedID())
}
