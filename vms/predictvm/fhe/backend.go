// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Backend is the encryption scheme behind the handle layer. Ciphertexts are
// passed in serialized form; the scheme decides their encoding.
type Backend interface {
	Name() string

	// Encrypt produces a fresh, randomized ciphertext of value.
	Encrypt(value uint64, t EncryptedType) ([]byte, error)
	// Trivial produces a deterministic encryption of a public constant.
	Trivial(value uint64, t EncryptedType) ([]byte, error)

	Add(a, b []byte, t EncryptedType) ([]byte, error)
	// Eq returns an ebool ciphertext.
	Eq(a, b []byte, t EncryptedType) ([]byte, error)
	// Select returns a if cond is true and b otherwise. cond is an ebool.
	Select(cond, a, b []byte, t EncryptedType) ([]byte, error)
	ScalarMul(a []byte, scalar uint64, t EncryptedType) ([]byte, error)

	Decrypt(ct []byte, t EncryptedType) (uint64, error)
	// Validate checks that ct is a well-formed ciphertext of type t.
	Validate(ct []byte, t EncryptedType) error
}

const (
	clearNonceLen      = 16
	clearCiphertextLen = 1 + 8 + clearNonceLen
)

var _ Backend = (*ClearBackend)(nil)

// ClearBackend keeps plaintexts inside the ciphertext encoding. It implements
// the same contract as a real scheme and is used for tests and devnets.
//
// Layout: type (1) | value (8, big endian) | nonce (16).
type ClearBackend struct{}

func NewClearBackend() *ClearBackend {
	return &ClearBackend{}
}

func (*ClearBackend) Name() string {
	return "clear"
}

func (b *ClearBackend) Encrypt(value uint64, t EncryptedType) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, t)
	}
	if value > t.MaxValue() {
		return nil, fmt.Errorf("%w: %d does not fit %s", ErrValueOutOfRange, value, t)
	}
	ct := encodeClear(value, t)
	if _, err := rand.Read(ct[1+8:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return ct, nil
}

func (b *ClearBackend) Trivial(value uint64, t EncryptedType) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, t)
	}
	return encodeClear(t.wrap(value), t), nil
}

func (b *ClearBackend) Add(x, y []byte, t EncryptedType) ([]byte, error) {
	a, err := decodeClear(x, t)
	if err != nil {
		return nil, err
	}
	c, err := decodeClear(y, t)
	if err != nil {
		return nil, err
	}
	return encodeClear(t.wrap(a+c), t), nil
}

func (b *ClearBackend) Eq(x, y []byte, t EncryptedType) ([]byte, error) {
	a, err := decodeClear(x, t)
	if err != nil {
		return nil, err
	}
	c, err := decodeClear(y, t)
	if err != nil {
		return nil, err
	}
	var eq uint64
	if a == c {
		eq = 1
	}
	return encodeClear(eq, EBool), nil
}

func (b *ClearBackend) Select(cond, x, y []byte, t EncryptedType) ([]byte, error) {
	sel, err := decodeClear(cond, EBool)
	if err != nil {
		return nil, err
	}
	a, err := decodeClear(x, t)
	if err != nil {
		return nil, err
	}
	c, err := decodeClear(y, t)
	if err != nil {
		return nil, err
	}
	if sel == 1 {
		return encodeClear(a, t), nil
	}
	return encodeClear(c, t), nil
}

func (b *ClearBackend) ScalarMul(x []byte, scalar uint64, t EncryptedType) ([]byte, error) {
	a, err := decodeClear(x, t)
	if err != nil {
		return nil, err
	}
	return encodeClear(t.wrap(a*scalar), t), nil
}

func (b *ClearBackend) Decrypt(ct []byte, t EncryptedType) (uint64, error) {
	return decodeClear(ct, t)
}

func (b *ClearBackend) Validate(ct []byte, t EncryptedType) error {
	_, err := decodeClear(ct, t)
	return err
}

func encodeClear(value uint64, t EncryptedType) []byte {
	ct := make([]byte, clearCiphertextLen)
	ct[0] = byte(t)
	binary.BigEndian.PutUint64(ct[1:], value)
	return ct
}

func decodeClear(ct []byte, t EncryptedType) (uint64, error) {
	if len(ct) != clearCiphertextLen {
		return 0, fmt.Errorf("%w: length %d", ErrMalformedCiphertext, len(ct))
	}
	if EncryptedType(ct[0]) != t {
		return 0, fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, EncryptedType(ct[0]), t)
	}
	value := binary.BigEndian.Uint64(ct[1:])
	if value > t.MaxValue() {
		return 0, fmt.Errorf("%w: %d does not fit %s", ErrMalformedCiphertext, value, t)
	}
	return value, nil
}
