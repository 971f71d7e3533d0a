// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhe is the ciphertext layer of the prediction chain. Contract logic
// only ever sees opaque handles; ciphertexts live in a Store, arithmetic is
// delegated to a swappable Backend, and access to plaintexts is governed by
// the ACL and the decryption Gateway.
package fhe

import (
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
)

var (
	ErrCiphertextNotFound  = errors.New("ciphertext not found")
	ErrTypeMismatch        = errors.New("encrypted type mismatch")
	ErrUnsupportedType     = errors.New("unsupported encrypted type")
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	ErrValueOutOfRange     = errors.New("value out of range")
)

// EncryptedType is the plaintext domain of a ciphertext.
type EncryptedType uint8

const (
	// EBool is an encrypted boolean
	EBool EncryptedType = iota
	// EUint8 is an encrypted 8-bit unsigned integer
	EUint8
	// EUint16 is an encrypted 16-bit unsigned integer
	EUint16
	// EUint32 is an encrypted 32-bit unsigned integer
	EUint32
	// EUint64 is an encrypted 64-bit unsigned integer
	EUint64
)

// String returns the string representation of the encrypted type
func (t EncryptedType) String() string {
	switch t {
	case EBool:
		return "ebool"
	case EUint8:
		return "euint8"
	case EUint16:
		return "euint16"
	case EUint32:
		return "euint32"
	case EUint64:
		return "euint64"
	default:
		return "unknown"
	}
}

// BitSize returns the bit size of the encrypted type
func (t EncryptedType) BitSize() int {
	switch t {
	case EBool:
		return 1
	case EUint8:
		return 8
	case EUint16:
		return 16
	case EUint32:
		return 32
	case EUint64:
		return 64
	default:
		return 0
	}
}

// Valid reports whether t is a known type.
func (t EncryptedType) Valid() bool {
	return t <= EUint64
}

// MaxValue returns the largest plaintext representable by t.
func (t EncryptedType) MaxValue() uint64 {
	bits := t.BitSize()
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

// wrap reduces v modulo 2^BitSize, matching integer overflow on ciphertexts.
func (t EncryptedType) wrap(v uint64) uint64 {
	return v & t.MaxValue()
}

// Handle is an opaque reference to a stored ciphertext. The final byte names
// the encrypted type, the remainder is a digest of the operation that
// produced it.
type Handle = common.Hash

// TypeOf returns the encrypted type embedded in h.
func TypeOf(h Handle) EncryptedType {
	return EncryptedType(h[common.HashLength-1])
}

// OpCode identifies the operation that produced a handle.
type OpCode uint8

const (
	OpTrivial OpCode = iota
	OpInput
	OpAdd
	OpEq
	OpSelect
	OpScalarMul
)

// String returns the string representation of the opcode
func (op OpCode) String() string {
	switch op {
	case OpTrivial:
		return "trivialEncrypt"
	case OpInput:
		return "verifyInput"
	case OpAdd:
		return "add"
	case OpEq:
		return "eq"
	case OpSelect:
		return "select"
	case OpScalarMul:
		return "scalarMul"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}
