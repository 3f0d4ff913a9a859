package browser

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindFreePortScansRange(t *testing.T) {
	l := NewLauncher(29222, 29230)
	port, err := l.findFreePort()
	require.NoError(t, err)
	require.GreaterOrEqual(t, port, 29222)
	require.LessOrEqual(t, port, 29230)
}

func TestFindFreePortSkipsBoundPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:29240")
	require.NoError(t, err)
	defer ln.Close()

	l := NewLauncher(29240, 29241)
	port, err := l.findFreePort()
	require.NoError(t, err)
	require.Equal(t, 29241, port)
}

func TestFindFreePortExhaustedRange(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:29250")
	require.NoError(t, err)
	defer ln.Close()

	l := NewLauncher(29250, 29250)
	_, err = l.findFreePort()
	require.Error(t, err)
}

func TestResolveChromePathPrefersConfigured(t *testing.T) {
	path, err := resolveChromePath("/opt/custom/chrome")
	require.NoError(t, err)
	require.Equal(t, "/opt/custom/chrome", path)
}

func TestInstanceStopWithoutProcess(t *testing.T) {
	i := &Instance{}
	require.NoError(t, i.Stop())
	require.False(t, i.Alive())
}
