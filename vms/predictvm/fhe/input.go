// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/ids"
)

var (
	ErrInvalidProof    = errors.New("input proof verification failed")
	ErrUnknownAttestor = errors.New("input attested by unknown signer")

	inputDomain = []byte("PredictVM input")
)

// ExternalInput is a ciphertext produced off-chain by a user.
type ExternalInput struct {
	Type       EncryptedType `json:"type"`
	Ciphertext hexutil.Bytes `json:"ciphertext"`
}

// Handle is the user-facing reference to the input: the ciphertext digest
// tagged with its type.
func (in *ExternalInput) Handle() Handle {
	h := Handle(crypto.Keccak256Hash(in.Ciphertext))
	h[len(h)-1] = byte(in.Type)
	return h
}

// InputDigest is the message an attestor signs for an input. It binds the
// ciphertext to the user submitting it, the contract consuming it, the
// chain, and the inclusive plaintext bound that was checked.
func InputDigest(external Handle, user, contract common.Address, chainID ids.ID, bound uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], bound)
	return crypto.Keccak256(inputDomain, external.Bytes(), user.Bytes(), contract.Bytes(), chainID[:], b[:])
}

// InputVerifier accepts inputs attested by a fixed set of signers.
type InputVerifier struct {
	chainID   ids.ID
	attestors map[common.Address]struct{}
}

func NewInputVerifier(chainID ids.ID, attestors []common.Address) *InputVerifier {
	v := &InputVerifier{
		chainID:   chainID,
		attestors: make(map[common.Address]struct{}, len(attestors)),
	}
	for _, addr := range attestors {
		v.attestors[addr] = struct{}{}
	}
	return v
}

// Verify checks that external names input and that proof is a signature by
// a known attestor over the input's digest. Every failure is reported as
// ErrInvalidProof; the cause is only kept for logging.
func (v *InputVerifier) Verify(input *ExternalInput, external Handle, proof []byte, user, contract common.Address, bound uint64) error {
	if input == nil || !input.Type.Valid() {
		return fmt.Errorf("%w: missing or untyped input", ErrInvalidProof)
	}
	if input.Handle() != external {
		return fmt.Errorf("%w: handle does not match ciphertext", ErrInvalidProof)
	}
	if len(proof) != crypto.SignatureLength {
		return fmt.Errorf("%w: proof length %d", ErrInvalidProof, len(proof))
	}

	digest := InputDigest(external, user, contract, v.chainID, bound)
	pub, err := crypto.SigToPub(digest, proof)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	signer := crypto.PubkeyToAddress(*pub)
	if _, ok := v.attestors[signer]; !ok {
		return fmt.Errorf("%w: %w %s", ErrInvalidProof, ErrUnknownAttestor, signer)
	}
	return nil
}

// Attestor stands in for the external input-proof service: it checks that a
// ciphertext is well formed and within bound, then signs the input digest.
type Attestor struct {
	chainID ids.ID
	key     *ecdsa.PrivateKey
	backend Backend
}

func NewAttestor(chainID ids.ID, key *ecdsa.PrivateKey, backend Backend) *Attestor {
	return &Attestor{
		chainID: chainID,
		key:     key,
		backend: backend,
	}
}

// Address is the signer address verifiers must trust.
func (a *Attestor) Address() common.Address {
	return crypto.PubkeyToAddress(a.key.PublicKey)
}

// Attest returns the external handle and proof for input.
func (a *Attestor) Attest(input *ExternalInput, user, contract common.Address, bound uint64) (Handle, []byte, error) {
	value, err := a.backend.Decrypt(input.Ciphertext, input.Type)
	if err != nil {
		return Handle{}, nil, err
	}
	if value > bound {
		return Handle{}, nil, fmt.Errorf("%w: %d > %d", ErrValueOutOfRange, value, bound)
	}

	external := input.Handle()
	sig, err := crypto.Sign(InputDigest(external, user, contract, a.chainID, bound), a.key)
	if err != nil {
		return Handle{}, nil, fmt.Errorf("failed to sign input: %w", err)
	}
	return external, sig, nil
}

// EncryptInput encrypts value for submission as an external input.
func EncryptInput(backend Backend, value uint64, t EncryptedType) (*ExternalInput, error) {
	ct, err := backend.Encrypt(value, t)
	if err != nil {
		return nil, err
	}
	return &ExternalInput{
		Type:       t,
		Ciphertext: ct,
	}, nil
}
