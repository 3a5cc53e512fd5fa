package sats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 16384, 1 << 32, ^uint64(0)}
	for _, v := range cases {
		buf := putUvarint(nil, v)
		got, n, err := takeUvarint(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.Equal(t, v, got)
	}
}

func TestVarintRejectsTruncated(t *testing.T) {
	buf := []byte{0x80, 0x80, 0x80} // all continuation bits set, never terminates
	_, _, err := takeUvarint(buf)
	require.Error(t, err)
}

func TestVarintRejectsOverlongEncoding(t *testing.T) {
	buf := make([]byte, 0, 11)
	for i := 0; i < 11; i++ {
		buf = append(buf, 0x80)
	}
	buf = append(buf, 0x01)
	_, _, err := takeUvarint(buf)
	require.Error(t, err)
}

func TestVarintMaxUint64(t *testing.T) {
	buf := putUvarint(nil, ^uint64(0))
	require.LessOrEqual(t, len(buf), maxVarintLen)
	got, n, err := takeUvarint(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, ^uint64(0), got)
}
