// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/geth/crypto/ecies"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/oblivious/utils/timer/mockable"
)

const secondsPerDay = 24 * 60 * 60

var (
	ErrNotPubliclyDecryptable = errors.New("handle is not publicly decryptable")
	ErrEmptyRequest           = errors.New("decryption request names no handles")
	ErrInvalidValidity        = errors.New("invalid validity window")
	ErrRequestNotYetValid     = errors.New("decryption request not yet valid")
	ErrRequestExpired         = errors.New("decryption request expired")
	ErrInvalidSignature       = errors.New("invalid decryption request signature")
	ErrContractNotListed      = errors.New("contract not listed in decryption request")
	ErrAccessDenied           = errors.New("access to handle denied")
	ErrInvalidPublicKey       = errors.New("invalid reencryption public key")

	userDecryptTypeHash = crypto.Keccak256([]byte(
		"UserDecryptRequest(bytes publicKey,address[] contractAddresses,uint256 startTimestamp,uint256 durationDays)",
	))
	userDecryptDomainHash = crypto.Keccak256([]byte("PredictVM Decryption"))
)

// Decrypter resolves a handle to its plaintext.
type Decrypter interface {
	Decrypt(h Handle) (uint64, error)
}

// HandleContractPair names a handle and the contract whose state holds it.
type HandleContractPair struct {
	Handle   Handle         `json:"handle"`
	Contract common.Address `json:"contractAddress"`
}

// UserDecryptRequest is a signed, time-bounded authorization for a user to
// read their own encrypted values. Results are sealed to PublicKey.
type UserDecryptRequest struct {
	Pairs             []HandleContractPair `json:"handleContractPairs"`
	User              common.Address       `json:"userAddress"`
	PublicKey         hexutil.Bytes        `json:"publicKey"`
	ContractAddresses []common.Address     `json:"contractAddresses"`
	StartTimestamp    uint64               `json:"startTimestamp"`
	DurationDays      uint64               `json:"durationDays"`
	Signature         hexutil.Bytes        `json:"signature"`
}

// SealedValue is a plaintext encrypted to the requester's public key.
type SealedValue struct {
	Handle Handle        `json:"handle"`
	Sealed hexutil.Bytes `json:"sealed"`
}

// Digest returns the message the user signs. Handles are not part of it: the
// authorization covers every handle the user may read in the listed
// contracts for the validity window.
func (r *UserDecryptRequest) Digest(chainID ids.ID) []byte {
	contracts := make([]byte, 0, len(r.ContractAddresses)*common.HashLength)
	for _, addr := range r.ContractAddresses {
		contracts = append(contracts, common.BytesToHash(addr.Bytes()).Bytes()...)
	}

	var start, days [32]byte
	binary.BigEndian.PutUint64(start[24:], r.StartTimestamp)
	binary.BigEndian.PutUint64(days[24:], r.DurationDays)

	structHash := crypto.Keccak256(
		userDecryptTypeHash,
		crypto.Keccak256(r.PublicKey),
		crypto.Keccak256(contracts),
		start[:],
		days[:],
	)
	domain := crypto.Keccak256(userDecryptDomainHash, chainID[:])
	return crypto.Keccak256([]byte{0x19, 0x01}, domain, structHash)
}

// Sign fills in User and Signature from key.
func (r *UserDecryptRequest) Sign(chainID ids.ID, key *ecdsa.PrivateKey) error {
	r.User = crypto.PubkeyToAddress(key.PublicKey)
	sig, err := crypto.Sign(r.Digest(chainID), key)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// Gateway answers decryption requests against committed state. Contract
// logic never calls it; it only grants or withholds eligibility via the ACL.
type Gateway struct {
	log       log.Logger
	chainID   ids.ID
	clock     *mockable.Clock
	decrypter Decrypter
	acl       *ACL
	maxDays   uint64
}

func NewGateway(
	logger log.Logger,
	chainID ids.ID,
	clock *mockable.Clock,
	decrypter Decrypter,
	acl *ACL,
	maxDays uint64,
) *Gateway {
	return &Gateway{
		log:       logger,
		chainID:   chainID,
		clock:     clock,
		decrypter: decrypter,
		acl:       acl,
		maxDays:   maxDays,
	}
}

// PublicDecrypt returns the plaintexts of handles released for public
// decryption. The request fails as a whole if any handle is not public.
func (g *Gateway) PublicDecrypt(handles []Handle) (map[Handle]uint64, error) {
	if len(handles) == 0 {
		return nil, ErrEmptyRequest
	}

	values := make(map[Handle]uint64, len(handles))
	for _, h := range handles {
		public, err := g.acl.IsPublic(h)
		if err != nil {
			return nil, err
		}
		if !public {
			return nil, fmt.Errorf("%w: %s", ErrNotPubliclyDecryptable, h)
		}
		value, err := g.decrypter.Decrypt(h)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s: %w", h, err)
		}
		values[h] = value
	}

	g.log.Debug("public decryption served", "handles", len(handles))
	return values, nil
}

// UserDecrypt checks req and returns each requested plaintext sealed to the
// request's public key.
func (g *Gateway) UserDecrypt(req *UserDecryptRequest) ([]SealedValue, error) {
	if len(req.Pairs) == 0 || len(req.ContractAddresses) == 0 {
		return nil, ErrEmptyRequest
	}
	if req.DurationDays == 0 || req.DurationDays > g.maxDays {
		return nil, fmt.Errorf("%w: %d days, max %d", ErrInvalidValidity, req.DurationDays, g.maxDays)
	}

	now := g.clock.Unix()
	if now < req.StartTimestamp {
		return nil, ErrRequestNotYetValid
	}
	if now > req.StartTimestamp+req.DurationDays*secondsPerDay {
		return nil, ErrRequestExpired
	}

	if len(req.Signature) != crypto.SignatureLength {
		return nil, ErrInvalidSignature
	}
	pub, err := crypto.SigToPub(req.Digest(g.chainID), req.Signature)
	if err != nil || crypto.PubkeyToAddress(*pub) != req.User {
		return nil, ErrInvalidSignature
	}

	sealTo, err := crypto.UnmarshalPubkey(req.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	recipient := ecies.ImportECDSAPublic(sealTo)

	listed := make(map[common.Address]struct{}, len(req.ContractAddresses))
	for _, addr := range req.ContractAddresses {
		listed[addr] = struct{}{}
	}

	sealed := make([]SealedValue, 0, len(req.Pairs))
	for _, pair := range req.Pairs {
		if _, ok := listed[pair.Contract]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrContractNotListed, pair.Contract)
		}
		if err := g.checkAccess(pair.Handle, req.User, pair.Contract); err != nil {
			return nil, err
		}

		value, err := g.decrypter.Decrypt(pair.Handle)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s: %w", pair.Handle, err)
		}
		var plaintext [8]byte
		binary.BigEndian.PutUint64(plaintext[:], value)
		ct, err := ecies.Encrypt(rand.Reader, recipient, plaintext[:], nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to seal %s: %w", pair.Handle, err)
		}
		sealed = append(sealed, SealedValue{
			Handle: pair.Handle,
			Sealed: ct,
		})
	}

	g.log.Debug("user decryption served",
		"user", req.User,
		"handles", len(sealed),
	)
	return sealed, nil
}

func (g *Gateway) checkAccess(h Handle, user, contract common.Address) error {
	for _, account := range []common.Address{user, contract} {
		allowed, err := g.acl.IsAllowed(h, account)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %s on %s", ErrAccessDenied, account, h)
		}
	}
	return nil
}

// OpenSealed recovers a plaintext sealed by UserDecrypt.
func OpenSealed(key *ecdsa.PrivateKey, sealed []byte) (uint64, error) {
	plaintext, err := ecies.ImportECDSA(key).Decrypt(sealed, nil, nil)
	if err != nil {
		return 0, err
	}
	if len(plaintext) != 8 {
		return 0, fmt.Errorf("%w: sealed value length %d", ErrMalformedCiphertext, len(plaintext))
	}
	return binary.BigEndian.Uint64(plaintext), nil
}
