// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package txs defines the signed transactions of the prediction VM.
package txs

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/ids"
)

// MaxTxSize bounds an encoded transaction. TFHE inputs are large.
const MaxTxSize = 1 << 20

var (
	ErrTxTooLarge       = errors.New("transaction too large")
	ErrInvalidSignature = errors.New("invalid signature")
)

type envelope struct {
	Kind      Kind            `json:"kind"`
	Tx        json.RawMessage `json:"tx"`
	Signature hexutil.Bytes   `json:"signature"`
}

// Tx is a signed transaction. The sender is recovered from the signature.
type Tx struct {
	Unsigned  UnsignedTx
	Signature []byte

	id     ids.ID
	sender common.Address
	bytes  []byte
}

func (tx *Tx) ID() ids.ID             { return tx.id }
func (tx *Tx) Sender() common.Address { return tx.sender }
func (tx *Tx) Bytes() []byte          { return tx.bytes }

// SigningHash is the digest a sender signs: keccak256 over the kind and the
// encoded payload.
func SigningHash(kind Kind, payload []byte) []byte {
	return crypto.Keccak256([]byte{byte(kind)}, payload)
}

// Sign signs unsigned with key and returns the parsed transaction.
func Sign(unsigned UnsignedTx, key *ecdsa.PrivateKey) (*Tx, error) {
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", unsigned.Kind(), err)
	}
	sig, err := crypto.Sign(SigningHash(unsigned.Kind(), payload), key)
	if err != nil {
		return nil, err
	}
	bytes, err := json.Marshal(envelope{
		Kind:      unsigned.Kind(),
		Tx:        payload,
		Signature: sig,
	})
	if err != nil {
		return nil, err
	}
	return Parse(bytes)
}

// Parse decodes a signed transaction, recovers its sender and checks the
// fields that do not depend on chain state.
func Parse(bytes []byte) (*Tx, error) {
	if len(bytes) > MaxTxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTxTooLarge, len(bytes))
	}

	var env envelope
	if err := json.Unmarshal(bytes, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tx: %w", err)
	}
	unsigned, err := newUnsigned(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Tx, unsigned); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Kind, err)
	}

	if len(env.Signature) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(env.Signature))
	}
	pub, err := crypto.SigToPub(SigningHash(env.Kind, env.Tx), env.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	if err := unsigned.SyntacticVerify(); err != nil {
		return nil, err
	}

	return &Tx{
		Unsigned:  unsigned,
		Signature: env.Signature,
		id:        sha256.Sum256(bytes),
		sender:    crypto.PubkeyToAddress(*pub),
		bytes:     bytes,
	}, nil
}
