package encoding

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0},
		{0, 0, 0, 0},
		{0xff, 0xfe, 0x00, 0x01},
		[]byte("hello world"),
	}
	for _, input := range cases {
		decoded, err := Decode(Encode(input))
		require.NoError(t, err)
		require.Equal(t, input, append([]byte{}, decoded...))
	}
}

func TestRoundTripRandom(t *testing.T) {
	for size := 0; size < 64; size++ {
		buf := make([]byte, size)
		_, err := rand.Read(buf)
		require.NoError(t, err)

		encoded := Encode(buf)
		require.NotContains(t, encoded, "=")
		require.NotContains(t, encoded, "+")
		require.NotContains(t, encoded, "/")

		decoded, err := Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, buf, decoded)
	}
}

func TestDecodeAcceptsPadding(t *testing.T) {
	decoded, err := Decode("aGk=")
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), decoded)
}

func TestDecodeRejectsInvalidAlphabet(t *testing.T) {
	_, err := Decode("a+b/c")
	require.Error(t, err)
}
