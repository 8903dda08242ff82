package reactor

import E "github.com/sagernet/sing-reactor/common/exceptions"

var (
	ErrTableFull        = E.New("reactor: socket table full")
	ErrHostTooLong      = E.New("reactor: host too long for a command frame")
	ErrServerClosed     = E.New("reactor: server closed")
	ErrInvalidState     = E.New("reactor: socket not in a valid state for the operation")
	ErrMalformedCommand = E.New("reactor: malformed command")
	ErrNoAddress        = E.New("reactor: no usable address")
	ErrNilBuffer        = E.New("reactor: nil send buffer")
)
