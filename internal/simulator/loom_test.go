package simulator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/KevinKickass/OpenLoomCore/internal/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSettle = 50 * time.Millisecond

// openLoom creates a loom and consumes the connect greeting.
func openLoom(t *testing.T) *Loom {
	t.Helper()
	loom := Open(Config{SettleDuration: testSettle, Verbose: true}, zaptest.NewLogger(t))
	t.Cleanup(func() { loom.Close() })

	for _, expected := range []string{"=u0", "=s1"} {
		assert.Equal(t, expected, readReply(t, loom))
	}
	require.True(t, loom.IsConnected())
	return loom
}

func readReply(t *testing.T, loom *Loom) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := loom.ReadLine(ctx)
	require.NoError(t, err)
	return reply
}

// expectNoReply fails if the loom replies within the given window.
func expectNoReply(t *testing.T, loom *Loom, window time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()
	reply, err := loom.ReadLine(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "unexpected reply %q", reply)
}

func writeCommand(t *testing.T, loom *Loom, cmd string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loom.Write(ctx, cmd))
}

func state(t *testing.T, loom *Loom) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := loom.State(ctx)
	require.NoError(t, err)
	return s
}

func TestLoom_GetStatus(t *testing.T) {
	loom := openLoom(t)

	writeCommand(t, loom, "=Q")
	assert.Equal(t, "=s1", readReply(t, loom))
}

func TestLoom_GetVersion(t *testing.T) {
	loom := openLoom(t)

	writeCommand(t, loom, "=V")
	assert.Equal(t, "=v001", readReply(t, loom))
}

func TestLoom_SetDirection(t *testing.T) {
	loom := openLoom(t)

	for _, direction := range []int{1, 0, 0, 1} {
		writeCommand(t, loom, fmt.Sprintf("=U%d", direction))
		assert.Equal(t, fmt.Sprintf("=u%d", direction), readReply(t, loom))
		assert.Equal(t, direction == 0, state(t, loom).WeaveForward)
	}
}

func TestLoom_RaiseShafts(t *testing.T) {
	loom := openLoom(t)

	for _, word := range []uint32{0x0, 0x1, 0x5, 0xFE, 0xFF19, 0xFFFFFFFE, 0xFFFFFFFF} {
		writeCommand(t, loom, "#n")
		assert.Equal(t, "=s5", readReply(t, loom))

		writeCommand(t, loom, fmt.Sprintf("=C%08X", word))
		for _, expected := range []string{"=s0", "=s1", fmt.Sprintf("=c%08x", word)} {
			assert.Equal(t, expected, readReply(t, loom))
		}
		assert.Equal(t, word, state(t, loom).ShaftWord)
	}
}

func TestLoom_SettleDelay(t *testing.T) {
	loom := openLoom(t)

	writeCommand(t, loom, "#n")
	assert.Equal(t, "=s5", readReply(t, loom))

	start := time.Now()
	writeCommand(t, loom, "=C000000ff")
	assert.Equal(t, "=s0", readReply(t, loom))
	assert.True(t, state(t, loom).Moving)
	assert.Equal(t, "=s1", readReply(t, loom))
	assert.GreaterOrEqual(t, time.Since(start), testSettle)
	assert.Equal(t, "=c000000ff", readReply(t, loom))
	assert.False(t, state(t, loom).Moving)
}

func TestLoom_NewShaftWordCancelsSettle(t *testing.T) {
	loom := openLoom(t)

	writeCommand(t, loom, "#n")
	assert.Equal(t, "=s5", readReply(t, loom))
	writeCommand(t, loom, "=C00000001")
	assert.Equal(t, "=s0", readReply(t, loom))

	// Request another pick before the first motion settles
	writeCommand(t, loom, "#n")
	assert.Equal(t, "=s4", readReply(t, loom))
	writeCommand(t, loom, "=C00000002")
	assert.Equal(t, "=s0", readReply(t, loom))

	assert.Equal(t, "=s1", readReply(t, loom))
	assert.Equal(t, "=c00000002", readReply(t, loom))
	expectNoReply(t, loom, 3*testSettle)
}

func TestLoom_IgnoresShaftWordWithoutPick(t *testing.T) {
	loom := openLoom(t)

	writeCommand(t, loom, "=C000000ff")
	expectNoReply(t, loom, 3*testSettle)
	assert.Equal(t, uint32(0), state(t, loom).ShaftWord)

	// The same word is accepted once a pick is requested
	writeCommand(t, loom, "#n")
	assert.Equal(t, "=s5", readReply(t, loom))
	writeCommand(t, loom, "=C000000ff")
	assert.Equal(t, "=s0", readReply(t, loom))
}

func TestLoom_ErrorFlagGatesCommands(t *testing.T) {
	loom := openLoom(t)

	writeCommand(t, loom, "#n")
	assert.Equal(t, "=s5", readReply(t, loom))
	writeCommand(t, loom, "#e")
	assert.Equal(t, "=sd", readReply(t, loom))
	assert.True(t, state(t, loom).ErrorFlag)

	writeCommand(t, loom, "=C000000ff")
	writeCommand(t, loom, "=U1")
	writeCommand(t, loom, "#d")
	expectNoReply(t, loom, 3*testSettle)

	s := state(t, loom)
	assert.Equal(t, uint32(0), s.ShaftWord)
	assert.True(t, s.WeaveForward)

	writeCommand(t, loom, "=V")
	assert.Equal(t, "=v001", readReply(t, loom))
	writeCommand(t, loom, "=Q")
	assert.Equal(t, "=sd", readReply(t, loom))

	writeCommand(t, loom, "#E")
	assert.Equal(t, "=s5", readReply(t, loom))
	writeCommand(t, loom, "=C000000ff")
	assert.Equal(t, "=s0", readReply(t, loom))
}

func TestLoom_OOBToggleError(t *testing.T) {
	loom := openLoom(t)

	for i := 1; i < 5; i++ {
		expectedError := i%2 == 1
		expectedStatus := 0x1
		if expectedError {
			expectedStatus |= 0x8
		}
		writeCommand(t, loom, "#e")
		assert.Equal(t, fmt.Sprintf("=s%x", expectedStatus), readReply(t, loom))
		assert.Equal(t, expectedError, state(t, loom).ErrorFlag)
	}
}

func TestLoom_OOBChangeDirection(t *testing.T) {
	loom := openLoom(t)

	for _, expected := range []int{1, 0, 1, 0, 1} {
		writeCommand(t, loom, "#d")
		assert.Equal(t, fmt.Sprintf("=u%d", expected), readReply(t, loom))
	}
}

func TestLoom_OOBNextPick(t *testing.T) {
	loom := openLoom(t)

	for _, cmd := range []string{"#n", "#N", "=#n", "#n"} {
		writeCommand(t, loom, cmd)
		assert.Equal(t, "=s5", readReply(t, loom))
	}
	assert.True(t, state(t, loom).PickWanted)
}

func TestLoom_InvalidCommandsIgnored(t *testing.T) {
	loom := openLoom(t)

	for _, cmd := range []string{"", "x", "Q", "C000000ff", "=Czz", "=U2", "=Z", "#", "#x"} {
		writeCommand(t, loom, cmd)
	}
	expectNoReply(t, loom, 3*testSettle)
	assert.True(t, loom.IsConnected())
}

func TestLoom_OOBCloseConnection(t *testing.T) {
	loom := openLoom(t)

	writeCommand(t, loom, "#c")
	select {
	case <-loom.Done():
	case <-time.After(time.Second):
		t.Fatal("loom did not close")
	}
	assert.False(t, loom.IsConnected())

	_, err := loom.ReadLine(context.Background())
	assert.ErrorIs(t, err, machine.ErrLinkClosed)
	assert.ErrorIs(t, loom.Write(context.Background(), "=Q"), machine.ErrLinkClosed)
	assert.NoError(t, loom.Close())
}

func TestLoom_RepliesBeforeCloseAreDelivered(t *testing.T) {
	loom := openLoom(t)

	writeCommand(t, loom, "#n")
	writeCommand(t, loom, "#c")
	select {
	case <-loom.Done():
	case <-time.After(time.Second):
		t.Fatal("loom did not close")
	}

	assert.Equal(t, "=s5", readReply(t, loom))
	_, err := loom.ReadLine(context.Background())
	assert.ErrorIs(t, err, machine.ErrLinkClosed)
}

func TestLoom_CloseCancelsSettle(t *testing.T) {
	loom := openLoom(t)

	writeCommand(t, loom, "#n")
	assert.Equal(t, "=s5", readReply(t, loom))
	writeCommand(t, loom, "=C00000003")
	assert.Equal(t, "=s0", readReply(t, loom))

	require.NoError(t, loom.Close())
	time.Sleep(2 * testSettle)
	_, err := loom.ReadLine(context.Background())
	assert.ErrorIs(t, err, machine.ErrLinkClosed)
}
