// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package compression compresses bounded byte payloads.
package compression

import "errors"

var (
	ErrInvalidMaxSize          = errors.New("invalid compressor max size")
	ErrMsgTooLarge             = errors.New("msg too large to be compressed")
	ErrDecompressedMsgTooLarge = errors.New("decompressed msg too large")
)

// Compressor compresses and decompresses messages of at most a fixed size.
type Compressor interface {
	Compress([]byte) ([]byte, error)
	Decompress([]byte) ([]byte, error)
}
