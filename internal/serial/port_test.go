package serial

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/KevinKickass/OpenLoomCore/internal/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newPipePort(t *testing.T) (*Port, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	p := newPort(Config{Device: "pipe"}, local, zaptest.NewLogger(t))
	t.Cleanup(func() {
		p.Close()
		remote.Close()
	})
	return p, remote
}

func readLine(t *testing.T, p *Port) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return p.ReadLine(ctx)
}

func TestPort_ReadLines(t *testing.T) {
	p, remote := newPipePort(t)

	go remote.Write([]byte("=u0\r=s1\r\r=c000000ff\r"))

	for _, expected := range []string{"=u0", "=s1", "=c000000ff"} {
		line, err := readLine(t, p)
		require.NoError(t, err)
		assert.Equal(t, expected, line)
	}
}

func TestPort_WriteAppendsTerminator(t *testing.T) {
	p, remote := newPipePort(t)

	received := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(remote).ReadString('\r')
		received <- line
	}()

	require.NoError(t, p.Write(context.Background(), "=C000000ff"))
	select {
	case line := <-received:
		assert.Equal(t, "=C000000ff\r", line)
	case <-time.After(time.Second):
		t.Fatal("nothing written")
	}
}

func TestPort_RemoteDisconnect(t *testing.T) {
	p, remote := newPipePort(t)

	require.NoError(t, remote.Close())

	_, err := readLine(t, p)
	assert.ErrorIs(t, err, machine.ErrLinkClosed)
	assert.False(t, p.IsConnected())
	assert.ErrorIs(t, p.Write(context.Background(), "=Q"), machine.ErrLinkClosed)
}

func TestPort_Close(t *testing.T) {
	p, _ := newPipePort(t)

	require.NoError(t, p.Close())
	assert.NoError(t, p.Close())

	_, err := readLine(t, p)
	assert.ErrorIs(t, err, machine.ErrLinkClosed)
}

func TestOpen_RequiresDevice(t *testing.T) {
	_, err := Open(Config{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
