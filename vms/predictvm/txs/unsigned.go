// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/ids"

	"github.com/luxfi/oblivious/vms/predictvm/fhe"
)

var (
	ErrUnknownKind  = errors.New("unknown transaction kind")
	ErrMissingField = errors.New("missing field")
)

// Kind identifies the operation a transaction performs.
type Kind uint8

const (
	KindCreatePrediction Kind = iota + 1
	KindPlaceBet
	KindEndPrediction
	KindClaimReward
)

func (k Kind) String() string {
	switch k {
	case KindCreatePrediction:
		return "createPrediction"
	case KindPlaceBet:
		return "placeBet"
	case KindEndPrediction:
		return "endPrediction"
	case KindClaimReward:
		return "claimReward"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if k.String() == "unknown" {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, k)
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for _, kind := range []Kind{KindCreatePrediction, KindPlaceBet, KindEndPrediction, KindClaimReward} {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, text)
}

// Visitor dispatches on the concrete transaction type.
type Visitor interface {
	CreatePrediction(*CreatePredictionTx) error
	PlaceBet(*PlaceBetTx) error
	EndPrediction(*EndPredictionTx) error
	ClaimReward(*ClaimRewardTx) error
}

// UnsignedTx is the signed payload of a transaction.
type UnsignedTx interface {
	Kind() Kind
	Base() *BaseTx
	// SyntacticVerify checks the fields that do not depend on chain state.
	SyntacticVerify() error
	Visit(Visitor) error
}

// BaseTx contains common fields for all transactions.
type BaseTx struct {
	ChainID ids.ID `json:"chainID"`
	Nonce   uint64 `json:"nonce"`
}

func (tx *BaseTx) Base() *BaseTx { return tx }

// CreatePredictionTx opens a new prediction.
type CreatePredictionTx struct {
	BaseTx
	Title   string   `json:"title"`
	Options []string `json:"options"`
}

func (*CreatePredictionTx) Kind() Kind { return KindCreatePrediction }

func (tx *CreatePredictionTx) SyntacticVerify() error {
	if tx.ChainID == ids.Empty {
		return fmt.Errorf("%w: chainID", ErrMissingField)
	}
	return nil
}

func (tx *CreatePredictionTx) Visit(v Visitor) error { return v.CreatePrediction(tx) }

// PlaceBetTx stakes Value wei on an encrypted choice. Handle and Proof are
// the attestation returned for Input.
type PlaceBetTx struct {
	BaseTx
	PredictionID uint64            `json:"predictionID"`
	Input        fhe.ExternalInput `json:"input"`
	Handle       fhe.Handle        `json:"handle"`
	Proof        hexutil.Bytes     `json:"proof"`
	Value        *uint256.Int      `json:"value"`
}

func (*PlaceBetTx) Kind() Kind { return KindPlaceBet }

func (tx *PlaceBetTx) SyntacticVerify() error {
	switch {
	case tx.ChainID == ids.Empty:
		return fmt.Errorf("%w: chainID", ErrMissingField)
	case tx.Value == nil:
		return fmt.Errorf("%w: value", ErrMissingField)
	case len(tx.Input.Ciphertext) == 0:
		return fmt.Errorf("%w: input ciphertext", ErrMissingField)
	case len(tx.Proof) == 0:
		return fmt.Errorf("%w: proof", ErrMissingField)
	}
	return nil
}

func (tx *PlaceBetTx) Visit(v Visitor) error { return v.PlaceBet(tx) }

// EndPredictionTx closes a prediction with a result.
type EndPredictionTx struct {
	BaseTx
	PredictionID uint64 `json:"predictionID"`
	ResultIndex  uint8  `json:"resultIndex"`
}

func (*EndPredictionTx) Kind() Kind { return KindEndPrediction }

func (tx *EndPredictionTx) SyntacticVerify() error {
	if tx.ChainID == ids.Empty {
		return fmt.Errorf("%w: chainID", ErrMissingField)
	}
	return nil
}

func (tx *EndPredictionTx) Visit(v Visitor) error { return v.EndPrediction(tx) }

// ClaimRewardTx settles the sender's bet on an ended prediction.
type ClaimRewardTx struct {
	BaseTx
	PredictionID uint64 `json:"predictionID"`
}

func (*ClaimRewardTx) Kind() Kind { return KindClaimReward }

func (tx *ClaimRewardTx) SyntacticVerify() error {
	if tx.ChainID == ids.Empty {
		return fmt.Errorf("%w: chainID", ErrMissingField)
	}
	return nil
}

func (tx *ClaimRewardTx) Visit(v Visitor) error { return v.ClaimReward(tx) }

func newUnsigned(kind Kind) (UnsignedTx, error) {
	switch kind {
	case KindCreatePrediction:
		return &CreatePredictionTx{}, nil
	case KindPlaceBet:
		return &PlaceBetTx{}, nil
	case KindEndPrediction:
		return &EndPredictionTx{}, nil
	case KindClaimReward:
		return &ClaimRewardTx{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}
