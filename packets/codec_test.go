package packets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntRoundTrip(t *testing.T) {
	cases := []int{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, MaxVarInt}
	for _, n := range cases {
		buf := appendVarInt(nil, n)
		got, offset, err := readVarInt(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, n, got)
		assert.Equal(t, len(buf), offset)
	}
}

func TestVarIntRejectsFifthContinuationByte(t *testing.T) {
	buf := []byte{0xff, 0xff, 0xff, 0xff, 0x7f}
	_, _, err := readVarInt(buf, 0)
	assert.ErrorIs(t, err, ErrMalformedVarInt)
}

func TestReaderAssemblesPartialReads(t *testing.T) {
	full := []byte{byte(Pingreq << 4), 0x00}
	var r Reader
	r.Feed(full[:1])
	_, ok, err := r.Next(0)
	require.NoError(t, err)
	assert.False(t, ok)

	r.Feed(full[1:])
	frame, ok, err := r.Next(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, full, frame)
}

func TestReaderRejectsOversizePacket(t *testing.T) {
	var r Reader
	r.Feed([]byte{byte(Publish << 4), 0x05, 'h', 'e', 'l', 'l', 'o'})
	_, _, err := r.Next(4)
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestValidUTF8StringRejectsControlAndSurrogates(t *testing.T) {
	assert.True(t, validUTF8String([]byte("hello/world")))
	assert.False(t, validUTF8String([]byte{0x00}))
	assert.False(t, validUTF8String([]byte{0x01}))
	assert.False(t, validUTF8String([]byte{0xED, 0xA0, 0x80})) // unpaired surrogate in UTF-8 form
}
