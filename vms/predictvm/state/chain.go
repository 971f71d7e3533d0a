// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
)

var (
	ErrTxNotFound    = errors.New("transaction not found")
	ErrBlockNotFound = errors.New("block not found")

	prefixNonce       = []byte("nonce:")
	prefixTx          = []byte("tx:")
	prefixBlock       = []byte("block:")
	prefixBlockHeight = []byte("height:")
	keyLastAccepted   = []byte("lastAccepted")
)

// TxStatus is the outcome of an executed transaction.
type TxStatus uint8

const (
	TxUnknown TxStatus = iota
	TxAccepted
	TxFailed
)

// String returns the string representation of the status
func (s TxStatus) String() string {
	switch s {
	case TxAccepted:
		return "accepted"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s TxStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *TxStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "accepted":
		*s = TxAccepted
	case "failed":
		*s = TxFailed
	case "unknown":
		*s = TxUnknown
	default:
		return fmt.Errorf("unknown tx status %q", text)
	}
	return nil
}

// Receipt records where and how a transaction was executed.
type Receipt struct {
	TxID   ids.ID   `json:"txID"`
	Status TxStatus `json:"status"`
	Height uint64   `json:"height"`
	Error  string   `json:"error,omitempty"`
	// PredictionID is set for transactions that create a prediction
	PredictionID uint64 `json:"predictionID,omitempty"`
}

// Chain holds per-block bookkeeping: nonces, receipts and accepted blocks.
type Chain struct {
	db database.Database
}

func NewChain(db database.Database) *Chain {
	return &Chain{db: db}
}

// Nonce returns the next expected nonce of account.
func (c *Chain) Nonce(account common.Address) (uint64, error) {
	nonce, err := database.GetUInt64(c.db, prefixed(prefixNonce, account[:]))
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	return nonce, err
}

// SetNonce stores the next expected nonce of account.
func (c *Chain) SetNonce(account common.Address, nonce uint64) error {
	return database.PutUInt64(c.db, prefixed(prefixNonce, account[:]), nonce)
}

// PutReceipt stores r.
func (c *Chain) PutReceipt(r *Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return c.db.Put(prefixed(prefixTx, r.TxID[:]), data)
}

// GetReceipt returns the receipt of txID.
func (c *Chain) GetReceipt(txID ids.ID) (*Receipt, error) {
	data, err := c.db.Get(prefixed(prefixTx, txID[:]))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return &r, nil
}

// PutBlock stores an accepted block and makes it the last accepted one.
func (c *Chain) PutBlock(blkID ids.ID, height uint64, bytes []byte) error {
	if err := c.db.Put(prefixed(prefixBlock, blkID[:]), bytes); err != nil {
		return err
	}
	if err := database.PutID(c.db, heightKey(height), blkID); err != nil {
		return err
	}
	return database.PutID(c.db, keyLastAccepted, blkID)
}

// GetBlock returns the bytes of an accepted block.
func (c *Chain) GetBlock(blkID ids.ID) ([]byte, error) {
	bytes, err := c.db.Get(prefixed(prefixBlock, blkID[:]))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrBlockNotFound
	}
	return bytes, err
}

// GetBlockIDAtHeight returns the ID of the accepted block at height.
func (c *Chain) GetBlockIDAtHeight(height uint64) (ids.ID, error) {
	blkID, err := database.GetID(c.db, heightKey(height))
	if errors.Is(err, database.ErrNotFound) {
		return ids.Empty, ErrBlockNotFound
	}
	return blkID, err
}

// LastAccepted returns the ID of the last accepted block.
func (c *Chain) LastAccepted() (ids.ID, error) {
	blkID, err := database.GetID(c.db, keyLastAccepted)
	if errors.Is(err, database.ErrNotFound) {
		return ids.Empty, ErrBlockNotFound
	}
	return blkID, err
}

func heightKey(height uint64) []byte {
	key := make([]byte, 0, len(prefixBlockHeight)+8)
	key = append(key, prefixBlockHeight...)
	return binary.BigEndian.AppendUint64(key, height)
}

func prefixed(prefix, suffix []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(suffix))
	key = append(key, prefix...)
	return append(key, suffix...)
}
