package exceptions_test

import (
	"errors"
	"io"
	"testing"

	E "github.com/sagernet/sing-reactor/common/exceptions"

	"github.com/stretchr/testify/require"
)

func TestCause(t *testing.T) {
	t.Parallel()
	require.NoError(t, E.Cause(nil, "ignored"))
	err := E.Cause(io.EOF, "read ", 3)
	require.Equal(t, "read 3: EOF", err.Error())
	require.ErrorIs(t, err, io.EOF)
	var exception E.Exception
	require.True(t, errors.As(err, &exception))
	require.Equal(t, io.EOF, exception.Cause())
}

func TestErrors(t *testing.T) {
	t.Parallel()
	require.NoError(t, E.Errors(nil, nil))
	require.Equal(t, io.EOF, E.Errors(nil, io.EOF))
	err := E.Errors(io.EOF, nil, io.ErrClosedPipe)
	require.ErrorIs(t, err, io.EOF)
	require.ErrorIs(t, err, io.ErrClosedPipe)
	require.Contains(t, err.Error(), "EOF | io: read/write on closed pipe")
}
