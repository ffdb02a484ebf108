package protocol

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeShaftCommand(t *testing.T) {
	assert.Equal(t, "=C00000000", EncodeShaftCommand(0))
	assert.Equal(t, "=C000000ff", EncodeShaftCommand(0xFF))
	assert.Equal(t, "=Cfffffffe", EncodeShaftCommand(0xFFFFFFFE))
}

func TestShaftWordRoundTrip(t *testing.T) {
	words := []uint32{0x0, 0x1, 0x5, 0xFE, 0xFF19, 0xFFFFFFFE, 0xFFFFFFFF}
	rng := rand.New(rand.NewPCG(1, 2))
	for range 500 {
		words = append(words, rng.Uint32())
	}

	for _, w := range words {
		msg, err := ParseLine(EncodeShaftCommand(w))
		require.NoError(t, err)
		assert.Equal(t, byte(TagShaftCommand), msg.Tag)
		assert.Len(t, msg.Payload, 8)

		got, err := ParseShaftWord(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}
}

func TestParseLine(t *testing.T) {
	msg, err := ParseLine("=c000000ff\r")
	require.NoError(t, err)
	assert.Equal(t, Message{Kind: KindReply, Tag: 'c', Payload: "000000ff"}, msg)
	assert.Equal(t, "reply", msg.Kind.String())

	msg, err = ParseLine("=Q")
	require.NoError(t, err)
	assert.Equal(t, KindCommand, msg.Kind)
	assert.Equal(t, "", msg.Payload)
	assert.Equal(t, "=Q", msg.String())
}

func TestParseLineErrors(t *testing.T) {
	tests := []struct {
		line string
		want error
	}{
		{"", ErrTooShort},
		{"x", ErrTooShort},
		{" = \r", ErrTooShort},
		{"xc0", ErrMissingSigil},
		{"#n", ErrMissingSigil},
	}

	for _, tt := range tests {
		_, err := ParseLine(tt.line)
		assert.ErrorIs(t, err, tt.want, "line %q", tt.line)

		var lineErr *LineError
		require.ErrorAs(t, err, &lineErr)
	}
}

func TestParsePayloads(t *testing.T) {
	_, err := ParseShaftWord("zz")
	assert.ErrorIs(t, err, ErrInvalidHex)
	_, err = ParseShaftWord("")
	assert.ErrorIs(t, err, ErrInvalidHex)
	_, err = ParseShaftWord("100000000")
	assert.ErrorIs(t, err, ErrInvalidHex)

	forward, err := ParseDirection("0")
	require.NoError(t, err)
	assert.True(t, forward)
	forward, err = ParseDirection("1")
	require.NoError(t, err)
	assert.False(t, forward)
	_, err = ParseDirection("2")
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

func TestReplyEncoders(t *testing.T) {
	assert.Equal(t, "=c000000ff", EncodeShaftReply(0xFF))
	assert.Equal(t, "=u0", EncodeDirectionReply(true))
	assert.Equal(t, "=u1", EncodeDirectionReply(false))
	assert.Equal(t, "=U1", EncodeDirectionCommand(false))
	assert.Equal(t, "=s5", EncodeStatusReply(StatusShedClosed|StatusPickWanted))
	assert.Equal(t, "=v001", EncodeVersionReply("001"))
	assert.Equal(t, "=V", EncodeVersionRequest())
	assert.Equal(t, "=Q", EncodeStatusRequest())
	assert.Equal(t, "#n", EncodeOutOfBand('n'))
}
