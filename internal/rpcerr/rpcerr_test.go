package rpcerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := New(Timeout, "navigate took too long")
	require.Equal(t, "Timeout: navigate took too long", err.Error())
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(TargetGone, cause, "browser went away")
	require.ErrorIs(t, err, cause)
}

func TestCodes(t *testing.T) {
	cases := []struct {
		kind Kind
		code int
		exit int
	}{
		{InvalidParams, -32602, 2},
		{MethodNotFound, -32601, 2},
		{SessionGone, -32000, 3},
		{TargetGone, -32001, 3},
		{Timeout, -32002, 4},
		{RefExpired, -32006, 5},
		{RefInvalid, -32007, 5},
		{Internal, -32603, 1},
	}
	for _, c := range cases {
		err := New(c.kind, "x")
		require.Equal(t, c.code, err.Code(), "code for %s", c.kind)
		require.Equal(t, c.exit, err.ExitCode(), "exit for %s", c.kind)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	require.Equal(t, -32603, CodeOf(fmt.Errorf("plain")))
	require.Equal(t, 1, ExitCodeOf(fmt.Errorf("plain")))
}

func TestAs(t *testing.T) {
	e, ok := As(New(RefExpired, "stale"))
	require.True(t, ok)
	require.Equal(t, RefExpired, e.Kind)

	_, ok = As(errors.New("other"))
	require.False(t, ok)
}
