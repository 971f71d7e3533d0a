// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package compression

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZstdRoundTrip(t *testing.T) {
	require := require.New(t)
	c, err := NewZstdCompressor(1 << 16)
	require.NoError(err)

	msg := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 4096)
	compressed, err := c.Compress(msg)
	require.NoError(err)
	require.Less(len(compressed), len(msg))

	decompressed, err := c.Decompress(compressed)
	require.NoError(err)
	require.Equal(msg, decompressed)

	empty, err := c.Compress(nil)
	require.NoError(err)
	decompressed, err = c.Decompress(empty)
	require.NoError(err)
	require.Empty(decompressed)
}

func TestZstdSizeLimits(t *testing.T) {
	require := require.New(t)
	small, err := NewZstdCompressor(1024)
	require.NoError(err)
	large, err := NewZstdCompressor(1 << 20)
	require.NoError(err)

	msg := make([]byte, 4096)
	_, err = small.Compress(msg)
	require.ErrorIs(err, ErrMsgTooLarge)

	compressed, err := large.Compress(msg)
	require.NoError(err)
	_, err = small.Decompress(compressed)
	require.ErrorIs(err, ErrDecompressedMsgTooLarge)

	_, err = NewZstdCompressor(math.MaxInt64)
	require.ErrorIs(err, ErrInvalidMaxSize)
	_, err = NewZstdCompressor(0)
	require.ErrorIs(err, ErrInvalidMaxSize)
}
