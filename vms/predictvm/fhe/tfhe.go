// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"fmt"

	"github.com/luxfi/fhe"
)

var _ Backend = (*TFHEBackend)(nil)

// TFHEBackend evaluates on boolean-circuit TFHE ciphertexts. Integers are
// stored as serialized bit vectors, booleans as a single encrypted bit.
//
// The backend owns its key set. In a deployment the secret key belongs to
// the threshold decryption committee; here it is held in-process.
type TFHEBackend struct {
	params    fhe.Parameters
	encryptor *fhe.BitwiseEncryptor
	decryptor *fhe.BitwiseDecryptor
	evaluator *fhe.BitwiseEvaluator
}

// NewTFHEBackend generates a fresh key set over the PN10QP27 parameters.
func NewTFHEBackend() (*TFHEBackend, error) {
	params, err := fhe.NewParametersFromLiteral(fhe.PN10QP27)
	if err != nil {
		return nil, fmt.Errorf("failed to create TFHE parameters: %w", err)
	}

	kg := fhe.NewKeyGenerator(params)
	sk, _ := kg.GenKeyPair()
	bsk := kg.GenBootstrapKey(sk)

	return &TFHEBackend{
		params:    params,
		encryptor: fhe.NewBitwiseEncryptor(params, sk),
		decryptor: fhe.NewBitwiseDecryptor(params, sk),
		evaluator: fhe.NewBitwiseEvaluator(params, bsk, sk),
	}, nil
}

func (*TFHEBackend) Name() string {
	return "tfhe"
}

func (b *TFHEBackend) Encrypt(value uint64, t EncryptedType) ([]byte, error) {
	ft, err := tfheType(t)
	if err != nil {
		return nil, err
	}
	if t == EBool {
		return nil, fmt.Errorf("%w: encrypted %s input", ErrUnsupportedType, t)
	}
	if value > t.MaxValue() {
		return nil, fmt.Errorf("%w: %d does not fit %s", ErrValueOutOfRange, value, t)
	}
	return marshalBits(b.encryptor.EncryptUint64(value, ft))
}

func (b *TFHEBackend) Trivial(value uint64, t EncryptedType) ([]byte, error) {
	ft, err := tfheType(t)
	if err != nil {
		return nil, err
	}
	if t == EBool {
		return nil, fmt.Errorf("%w: trivial %s", ErrUnsupportedType, t)
	}
	zero := b.evaluator.Zero(ft)
	if t.wrap(value) == 0 {
		return marshalBits(zero)
	}
	ct, err := b.evaluator.ScalarAdd(zero, t.wrap(value))
	if err != nil {
		return nil, fmt.Errorf("failed to encode constant: %w", err)
	}
	return marshalBits(ct)
}

func (b *TFHEBackend) Add(x, y []byte, t EncryptedType) ([]byte, error) {
	a, err := unmarshalBits(x, t)
	if err != nil {
		return nil, err
	}
	c, err := unmarshalBits(y, t)
	if err != nil {
		return nil, err
	}
	sum, err := b.evaluator.Add(a, c)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate add: %w", err)
	}
	return marshalBits(sum)
}

func (b *TFHEBackend) Eq(x, y []byte, t EncryptedType) ([]byte, error) {
	a, err := unmarshalBits(x, t)
	if err != nil {
		return nil, err
	}
	c, err := unmarshalBits(y, t)
	if err != nil {
		return nil, err
	}
	bit, err := b.evaluator.Eq(a, c)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate eq: %w", err)
	}
	return bit.MarshalBinary()
}

func (b *TFHEBackend) Select(cond, x, y []byte, t EncryptedType) ([]byte, error) {
	sel, err := unmarshalBit(cond)
	if err != nil {
		return nil, err
	}
	a, err := unmarshalBits(x, t)
	if err != nil {
		return nil, err
	}
	c, err := unmarshalBits(y, t)
	if err != nil {
		return nil, err
	}
	out, err := b.evaluator.Select(sel, a, c)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate select: %w", err)
	}
	return marshalBits(out)
}

func (b *TFHEBackend) ScalarMul(x []byte, scalar uint64, t EncryptedType) ([]byte, error) {
	a, err := unmarshalBits(x, t)
	if err != nil {
		return nil, err
	}
	out, err := b.evaluator.ScalarMul(a, scalar)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate scalar mul: %w", err)
	}
	return marshalBits(out)
}

func (b *TFHEBackend) Decrypt(ct []byte, t EncryptedType) (uint64, error) {
	if t == EBool {
		bit, err := unmarshalBit(ct)
		if err != nil {
			return 0, err
		}
		return b.decryptor.DecryptUint64(fhe.WrapBoolCiphertext(bit)), nil
	}
	bits, err := unmarshalBits(ct, t)
	if err != nil {
		return 0, err
	}
	return b.decryptor.DecryptUint64(bits), nil
}

func (b *TFHEBackend) Validate(ct []byte, t EncryptedType) error {
	if t == EBool {
		_, err := unmarshalBit(ct)
		return err
	}
	_, err := unmarshalBits(ct, t)
	return err
}

func tfheType(t EncryptedType) (fhe.FheUintType, error) {
	switch t {
	case EBool:
		return fhe.FheBool, nil
	case EUint8:
		return fhe.FheUint8, nil
	case EUint16:
		return fhe.FheUint16, nil
	case EUint32:
		return fhe.FheUint32, nil
	case EUint64:
		return fhe.FheUint64, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedType, t)
	}
}

func marshalBits(ct *fhe.BitCiphertext) ([]byte, error) {
	data, err := ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize ciphertext: %w", err)
	}
	return data, nil
}

func unmarshalBits(data []byte, t EncryptedType) (*fhe.BitCiphertext, error) {
	ft, err := tfheType(t)
	if err != nil {
		return nil, err
	}
	ct := new(fhe.BitCiphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCiphertext, err)
	}
	if ct.Type() != ft {
		return nil, fmt.Errorf("%w: want %s", ErrTypeMismatch, t)
	}
	return ct, nil
}

func unmarshalBit(data []byte) (*fhe.Ciphertext, error) {
	ct := new(fhe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCiphertext, err)
	}
	return ct, nil
}
