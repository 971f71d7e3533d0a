// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"errors"
	"fmt"

	"github.com/luxfi/cache"
	"github.com/luxfi/database"

	"github.com/luxfi/oblivious/utils/compression"
)

const (
	// MaxCiphertextSize bounds a stored ciphertext.
	MaxCiphertextSize = 64 << 20

	// Ciphertexts at least this large are compressed when the store has a
	// compressor. Cleartext mock ciphertexts stay raw.
	minCompressedSize = 1024

	encodingRaw  byte = 0
	encodingZstd byte = 1
)

var (
	ErrInvalidEncoding = errors.New("invalid ciphertext encoding")

	ciphertextPrefix = []byte("ct:")
	sequenceKey      = []byte("seq")
)

// Store persists ciphertexts by handle. Handles are content-derived, so an
// entry in the shared hot cache is valid for every database view.
type Store struct {
	db         database.Database
	hot        *cache.LRU[Handle, []byte]
	compressor compression.Compressor
}

// NewStore returns a store over db that keeps ciphertexts uncompressed. hot
// may be nil.
func NewStore(db database.Database, hot *cache.LRU[Handle, []byte]) *Store {
	return NewCompressedStore(db, hot, nil)
}

// NewCompressedStore returns a store that compresses large ciphertexts with
// c. hot and c may be nil.
func NewCompressedStore(db database.Database, hot *cache.LRU[Handle, []byte], c compression.Compressor) *Store {
	return &Store{
		db:         db,
		hot:        hot,
		compressor: c,
	}
}

// Put stores the ciphertext for h.
func (s *Store) Put(h Handle, ct []byte) error {
	value, err := s.encode(ct)
	if err != nil {
		return fmt.Errorf("failed to encode ciphertext %s: %w", h, err)
	}
	key := prefixKey(ciphertextPrefix, h[:])
	if err := s.db.Put(key, value); err != nil {
		return fmt.Errorf("failed to store ciphertext %s: %w", h, err)
	}
	if s.hot != nil {
		s.hot.Put(h, ct)
	}
	return nil
}

// Get returns the ciphertext for h.
func (s *Store) Get(h Handle) ([]byte, error) {
	if s.hot != nil {
		if ct, ok := s.hot.Get(h); ok {
			return ct, nil
		}
	}

	key := prefixKey(ciphertextPrefix, h[:])
	value, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCiphertextNotFound, h)
		}
		return nil, err
	}
	ct, err := s.decode(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext %s: %w", h, err)
	}
	if s.hot != nil {
		s.hot.Put(h, ct)
	}
	return ct, nil
}

// Has reports whether a ciphertext is stored for h.
func (s *Store) Has(h Handle) (bool, error) {
	key := prefixKey(ciphertextPrefix, h[:])
	return s.db.Has(key)
}

// NextSequence returns the next handle sequence number and advances it.
func (s *Store) NextSequence() (uint64, error) {
	seq, err := database.GetUInt64(s.db, sequenceKey)
	switch {
	case errors.Is(err, database.ErrNotFound):
		seq = 0
	case err != nil:
		return 0, fmt.Errorf("failed to load handle sequence: %w", err)
	}
	if err := database.PutUInt64(s.db, sequenceKey, seq+1); err != nil {
		return 0, fmt.Errorf("failed to store handle sequence: %w", err)
	}
	return seq, nil
}

func (s *Store) encode(ct []byte) ([]byte, error) {
	if s.compressor == nil || len(ct) < minCompressedSize {
		return append([]byte{encodingRaw}, ct...), nil
	}
	compressed, err := s.compressor.Compress(ct)
	if err != nil {
		return nil, err
	}
	return append([]byte{encodingZstd}, compressed...), nil
}

func (s *Store) decode(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, ErrInvalidEncoding
	}
	switch value[0] {
	case encodingRaw:
		return value[1:], nil
	case encodingZstd:
		if s.compressor == nil {
			return nil, fmt.Errorf("%w: compressed ciphertext without a compressor", ErrInvalidEncoding)
		}
		return s.compressor.Decompress(value[1:])
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidEncoding, value[0])
	}
}

func prefixKey(prefix []byte, suffix ...[]byte) []byte {
	size := len(prefix)
	for _, s := range suffix {
		size += len(s)
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for _, s := range suffix {
		key = append(key, s...)
	}
	return key
}
