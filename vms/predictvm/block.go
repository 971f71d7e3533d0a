// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package predictvm

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/oblivious/vms/predictvm/state"
	"github.com/luxfi/oblivious/vms/predictvm/txs"
)

// maxFutureBlockTime bounds how far ahead of the local clock a block may be.
const maxFutureBlockTime = 10 * time.Second

var (
	ErrUnknownParent    = errors.New("parent is not the last accepted block")
	ErrInvalidHeight    = errors.New("invalid block height")
	ErrInvalidTimestamp = errors.New("invalid block timestamp")
	ErrTooManyTxs       = errors.New("block contains too many transactions")
	ErrBlockNotVerified = errors.New("block not verified")
)

// Status represents block status
type Status uint8

const (
	StatusUnknown Status = iota
	StatusProcessing
	StatusAccepted
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Block is an ordered batch of transactions. Its ID is the sha256 of its
// encoding.
type Block struct {
	ParentID  ids.ID          `json:"parentID"`
	Height    uint64          `json:"height"`
	Timestamp int64           `json:"timestamp"`
	Txs       []hexutil.Bytes `json:"txs"`

	vm     *VM
	id     ids.ID
	bytes  []byte
	txs    []*txs.Tx
	status Status

	// Populated by verification
	db       *versiondb.Database
	receipts []*state.Receipt
}

func newBlock(vm *VM, parentID ids.ID, height uint64, timestamp int64, included []*txs.Tx) (*Block, error) {
	b := &Block{
		ParentID:  parentID,
		Height:    height,
		Timestamp: timestamp,
		Txs:       make([]hexutil.Bytes, len(included)),
		vm:        vm,
		txs:       included,
		status:    StatusProcessing,
	}
	for i, tx := range included {
		b.Txs[i] = tx.Bytes()
	}
	bytes, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal block: %w", err)
	}
	b.bytes = bytes
	b.id = sha256.Sum256(bytes)
	return b, nil
}

func parseBlock(vm *VM, bytes []byte, status Status) (*Block, error) {
	b := &Block{
		vm:     vm,
		bytes:  bytes,
		id:     sha256.Sum256(bytes),
		status: status,
	}
	if err := json.Unmarshal(bytes, b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	b.txs = make([]*txs.Tx, len(b.Txs))
	for i, txBytes := range b.Txs {
		tx, err := txs.Parse(txBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid tx %d: %w", i, err)
		}
		b.txs[i] = tx
	}
	return b, nil
}

func (b *Block) ID() ids.ID      { return b.id }
func (b *Block) Parent() ids.ID  { return b.ParentID }
func (b *Block) Bytes() []byte   { return b.bytes }
func (b *Block) Status() Status  { return b.status }
func (b *Block) Time() time.Time { return time.Unix(b.Timestamp, 0) }

// Transactions returns the block's transactions in execution order.
func (b *Block) Transactions() []*txs.Tx {
	return b.txs
}

// Receipts returns the execution results of a verified block.
func (b *Block) Receipts() []*state.Receipt {
	return b.receipts
}

// Verify executes the block on top of the last accepted state. Transactions
// that fail business rules are recorded as failed; a transaction that could
// never be included makes the whole block invalid.
func (b *Block) Verify(context.Context) error {
	b.vm.lock.Lock()
	defer b.vm.lock.Unlock()

	return b.verify()
}

func (b *Block) verify() error {
	if b.db != nil {
		return nil
	}

	parent := b.vm.lastAccepted
	switch {
	case b.ParentID != parent.ID():
		return fmt.Errorf("%w: %s", ErrUnknownParent, b.ParentID)
	case b.Height != parent.Height+1:
		return fmt.Errorf("%w: %d after %d", ErrInvalidHeight, b.Height, parent.Height)
	case b.Timestamp < parent.Timestamp:
		return fmt.Errorf("%w: %d before parent %d", ErrInvalidTimestamp, b.Timestamp, parent.Timestamp)
	case b.Time().After(b.vm.clock.Time().Add(maxFutureBlockTime)):
		return fmt.Errorf("%w: %d is in the future", ErrInvalidTimestamp, b.Timestamp)
	case len(b.txs) > b.vm.MaxTxsPerBlock:
		return fmt.Errorf("%w: %d", ErrTooManyTxs, len(b.txs))
	}

	blockDB := versiondb.New(b.vm.db)
	executor := b.vm.newBlockExecutor(blockDB, b.Height, b.Timestamp)
	receipts := make([]*state.Receipt, len(b.txs))
	for i, tx := range b.txs {
		receipt, err := executor.execute(tx)
		if err != nil {
			blockDB.Abort()
			return fmt.Errorf("invalid tx %s: %w", tx.ID(), err)
		}
		receipts[i] = receipt
	}

	b.db = blockDB
	b.receipts = receipts
	b.status = StatusProcessing
	b.vm.verified[b.id] = b
	return nil
}

// Accept commits the block's state changes.
func (b *Block) Accept(context.Context) error {
	b.vm.lock.Lock()
	defer b.vm.lock.Unlock()

	if b.db == nil {
		return ErrBlockNotVerified
	}

	chain := b.vm.newComponents(b.db, uint64(b.Timestamp)).chain
	if err := chain.PutBlock(b.id, b.Height, b.bytes); err != nil {
		return fmt.Errorf("failed to store block: %w", err)
	}
	if err := b.db.Commit(); err != nil {
		return fmt.Errorf("failed to commit block: %w", err)
	}
	if err := b.vm.db.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}

	b.status = StatusAccepted
	b.db = nil
	b.vm.lastAccepted = b
	delete(b.vm.verified, b.id)
	b.vm.predictions.Flush()

	txIDs := make([]ids.ID, len(b.txs))
	for i, tx := range b.txs {
		txIDs[i] = tx.ID()
		b.vm.metrics.MarkTx(tx.Unsigned.Kind().String(), b.receipts[i].Status == state.TxFailed)
	}
	b.vm.mempool.Remove(txIDs...)
	b.vm.metrics.SetMempoolSize(b.vm.mempool.Len())
	b.vm.metrics.MarkBlockAccepted()

	b.vm.log.Info("accepted block",
		log.Stringer("blkID", b.id),
		log.Uint64("height", b.Height),
		log.Int("numTxs", len(b.txs)),
	)
	return nil
}

// Reject discards the block's state changes. Its transactions stay in the
// mempool.
func (b *Block) Reject(context.Context) error {
	b.vm.lock.Lock()
	defer b.vm.lock.Unlock()

	if b.db != nil {
		b.db.Abort()
		b.db = nil
	}
	b.status = StatusRejected
	delete(b.vm.verified, b.id)

	b.vm.log.Debug("rejected block",
		log.Stringer("blkID", b.id),
		log.Uint64("height", b.Height),
	)
	return nil
}
