// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/ids"
)

// Evaluator is the closed capability set contract logic may use on
// encrypted values. Nothing in it reveals a plaintext.
type Evaluator interface {
	TrivialEncrypt(value uint64, t EncryptedType) (Handle, error)
	Add(a, b Handle) (Handle, error)
	Eq(a, b Handle) (Handle, error)
	Select(cond, a, b Handle) (Handle, error)
	ScalarMul(a Handle, scalar uint64) (Handle, error)
}

var _ Evaluator = (*Executor)(nil)

// Executor binds a Backend to a Store: it type-checks operands, derives the
// result handle and persists the result ciphertext.
type Executor struct {
	chainID ids.ID
	backend Backend
	store   *Store
}

func NewExecutor(chainID ids.ID, backend Backend, store *Store) *Executor {
	return &Executor{
		chainID: chainID,
		backend: backend,
		store:   store,
	}
}

// Backend returns the scheme the executor evaluates with.
func (e *Executor) Backend() Backend {
	return e.backend
}

func (e *Executor) TrivialEncrypt(value uint64, t EncryptedType) (Handle, error) {
	ct, err := e.backend.Trivial(value, t)
	if err != nil {
		return Handle{}, fmt.Errorf("%s: %w", OpTrivial, err)
	}
	return e.emit(OpTrivial, t, ct, nil, value)
}

func (e *Executor) Add(a, b Handle) (Handle, error) {
	t := TypeOf(a)
	if TypeOf(b) != t || t == EBool {
		return Handle{}, fmt.Errorf("%s: %w: %s + %s", OpAdd, ErrTypeMismatch, t, TypeOf(b))
	}
	cts, err := e.load(a, b)
	if err != nil {
		return Handle{}, fmt.Errorf("%s: %w", OpAdd, err)
	}
	ct, err := e.backend.Add(cts[0], cts[1], t)
	if err != nil {
		return Handle{}, fmt.Errorf("%s: %w", OpAdd, err)
	}
	return e.emit(OpAdd, t, ct, []Handle{a, b}, 0)
}

func (e *Executor) Eq(a, b Handle) (Handle, error) {
	t := TypeOf(a)
	if TypeOf(b) != t || t == EBool {
		return Handle{}, fmt.Errorf("%s: %w: %s == %s", OpEq, ErrTypeMismatch, t, TypeOf(b))
	}
	cts, err := e.load(a, b)
	if err != nil {
		return Handle{}, fmt.Errorf("%s: %w", OpEq, err)
	}
	ct, err := e.backend.Eq(cts[0], cts[1], t)
	if err != nil {
		return Handle{}, fmt.Errorf("%s: %w", OpEq, err)
	}
	return e.emit(OpEq, EBool, ct, []Handle{a, b}, 0)
}

func (e *Executor) Select(cond, a, b Handle) (Handle, error) {
	t := TypeOf(a)
	if TypeOf(cond) != EBool || TypeOf(b) != t {
		return Handle{}, fmt.Errorf("%s: %w: %s ? %s : %s", OpSelect, ErrTypeMismatch, TypeOf(cond), t, TypeOf(b))
	}
	cts, err := e.load(cond, a, b)
	if err != nil {
		return Handle{}, fmt.Errorf("%s: %w", OpSelect, err)
	}
	ct, err := e.backend.Select(cts[0], cts[1], cts[2], t)
	if err != nil {
		return Handle{}, fmt.Errorf("%s: %w", OpSelect, err)
	}
	return e.emit(OpSelect, t, ct, []Handle{cond, a, b}, 0)
}

func (e *Executor) ScalarMul(a Handle, scalar uint64) (Handle, error) {
	t := TypeOf(a)
	if t == EBool {
		return Handle{}, fmt.Errorf("%s: %w: %s", OpScalarMul, ErrTypeMismatch, t)
	}
	cts, err := e.load(a)
	if err != nil {
		return Handle{}, fmt.Errorf("%s: %w", OpScalarMul, err)
	}
	ct, err := e.backend.ScalarMul(cts[0], scalar, t)
	if err != nil {
		return Handle{}, fmt.Errorf("%s: %w", OpScalarMul, err)
	}
	return e.emit(OpScalarMul, t, ct, []Handle{a}, scalar)
}

// Import stores a verified external input and returns its chain handle.
func (e *Executor) Import(input *ExternalInput) (Handle, error) {
	if err := e.backend.Validate(input.Ciphertext, input.Type); err != nil {
		return Handle{}, fmt.Errorf("%s: %w", OpInput, err)
	}
	external := input.Handle()
	return e.emit(OpInput, input.Type, input.Ciphertext, []Handle{external}, 0)
}

// Decrypt returns the plaintext behind h. Only the Gateway calls this.
func (e *Executor) Decrypt(h Handle) (uint64, error) {
	ct, err := e.store.Get(h)
	if err != nil {
		return 0, err
	}
	return e.backend.Decrypt(ct, TypeOf(h))
}

func (e *Executor) load(handles ...Handle) ([][]byte, error) {
	cts := make([][]byte, len(handles))
	for i, h := range handles {
		ct, err := e.store.Get(h)
		if err != nil {
			return nil, err
		}
		cts[i] = ct
	}
	return cts, nil
}

// emit derives the result handle from the operation, its operands and the
// next sequence number, then stores ct under it.
func (e *Executor) emit(op OpCode, t EncryptedType, ct []byte, operands []Handle, scalar uint64) (Handle, error) {
	seq, err := e.store.NextSequence()
	if err != nil {
		return Handle{}, err
	}

	var header [1 + 1 + 8 + 8]byte
	header[0] = byte(op)
	header[1] = byte(t)
	binary.BigEndian.PutUint64(header[2:], scalar)
	binary.BigEndian.PutUint64(header[10:], seq)

	parts := make([][]byte, 0, len(operands)+2)
	parts = append(parts, e.chainID[:], header[:])
	for _, operand := range operands {
		parts = append(parts, operand.Bytes())
	}

	h := Handle(crypto.Keccak256Hash(parts...))
	h[len(h)-1] = byte(t)

	if err := e.store.Put(h, ct); err != nil {
		return Handle{}, err
	}
	return h, nil
}
