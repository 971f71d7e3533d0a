// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package predictvm

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/oblivious/vms/predictvm/fhe"
	"github.com/luxfi/oblivious/vms/predictvm/ledger"
	"github.com/luxfi/oblivious/vms/predictvm/market"
	"github.com/luxfi/oblivious/vms/predictvm/state"
	"github.com/luxfi/oblivious/vms/predictvm/txs"
)

var (
	ErrWrongChain   = errors.New("transaction is for another chain")
	ErrNonceTooLow  = errors.New("nonce too low")
	ErrNonceTooHigh = errors.New("nonce too high")
	ErrNoPendingTxs = errors.New("no pending transactions")

	prefixFHE    = []byte("fhe")
	prefixACL    = []byte("acl")
	prefixMarket = []byte("market")
	prefixLedger = []byte("ledger")
	prefixChain  = []byte("chain")
)

// components is the contract state of one database view.
type components struct {
	exec   *fhe.Executor
	acl    *fhe.ACL
	ledger *ledger.Ledger
	market *market.Market
	chain  *state.Chain
}

func (vm *VM) newComponents(db database.Database, timestamp uint64) *components {
	return vm.newComponentsWithCache(db, timestamp, nil)
}

// newComponentsWithCache builds the components over db. predictions may
// only be passed for the committed view.
func (vm *VM) newComponentsWithCache(
	db database.Database,
	timestamp uint64,
	predictions *predictionCache,
) *components {
	store := fhe.NewCompressedStore(prefixdb.New(prefixFHE, db), vm.ciphertexts, vm.compressor)
	exec := fhe.NewExecutor(vm.chainID, vm.backend, store)
	acl := fhe.NewACL(prefixdb.New(prefixACL, db))
	l := ledger.New(prefixdb.New(prefixLedger, db), exec, acl, vm.LedgerAddress, ledger.Metadata{
		Name:     vm.TokenName,
		Symbol:   vm.TokenSymbol,
		Decimals: vm.TokenDecimals,
	})
	// Config was validated at initialization, so New cannot fail here.
	m, _ := market.New(vm.Config, market.Env{
		State:     state.New(prefixdb.New(prefixMarket, db), predictions),
		Executor:  exec,
		ACL:       acl,
		Verifier:  vm.verifier,
		Ledger:    l,
		Timestamp: timestamp,
	})
	return &components{
		exec:   exec,
		acl:    acl,
		ledger: l,
		market: m,
		chain:  state.NewChain(prefixdb.New(prefixChain, db)),
	}
}

// blockExecutor applies transactions to one block's state.
type blockExecutor struct {
	vm        *VM
	db        database.Database
	chain     *state.Chain
	height    uint64
	timestamp uint64
}

func (vm *VM) newBlockExecutor(db database.Database, height uint64, timestamp int64) *blockExecutor {
	return &blockExecutor{
		vm:        vm,
		db:        db,
		chain:     state.NewChain(prefixdb.New(prefixChain, db)),
		height:    height,
		timestamp: uint64(timestamp),
	}
}

// execute runs tx in its own layer: all of its writes commit or none do.
// A returned error means tx cannot be included in this block; business
// failures are reported in the receipt and still consume the nonce.
func (e *blockExecutor) execute(tx *txs.Tx) (*state.Receipt, error) {
	base := tx.Unsigned.Base()
	if base.ChainID != e.vm.chainID {
		return nil, fmt.Errorf("%w: %s", ErrWrongChain, base.ChainID)
	}
	sender := tx.Sender()
	nonce, err := e.chain.Nonce(sender)
	if err != nil {
		return nil, err
	}
	switch {
	case base.Nonce < nonce:
		return nil, fmt.Errorf("%w: %d < %d", ErrNonceTooLow, base.Nonce, nonce)
	case base.Nonce > nonce:
		return nil, fmt.Errorf("%w: %d > %d", ErrNonceTooHigh, base.Nonce, nonce)
	}

	txDB := versiondb.New(e.db)
	v := &txExecutor{
		sender:     sender,
		components: e.vm.newComponents(txDB, e.timestamp),
	}
	receipt := &state.Receipt{
		TxID:   tx.ID(),
		Status: state.TxAccepted,
		Height: e.height,
	}
	if err := tx.Unsigned.Visit(v); err != nil {
		txDB.Abort()
		receipt.Status = state.TxFailed
		receipt.Error = err.Error()
		e.vm.log.Debug("transaction failed",
			log.Stringer("txID", tx.ID()),
			log.Stringer("kind", tx.Unsigned.Kind()),
			log.Err(err),
		)
	} else {
		if err := txDB.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit tx %s: %w", tx.ID(), err)
		}
		receipt.PredictionID = v.predictionID
	}

	if err := e.chain.SetNonce(sender, nonce+1); err != nil {
		return nil, err
	}
	if err := e.chain.PutReceipt(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

var _ txs.Visitor = (*txExecutor)(nil)

// txExecutor maps transactions onto market calls made by sender.
type txExecutor struct {
	*components
	sender common.Address

	// Set when a prediction is created
	predictionID uint64
}

func (e *txExecutor) CreatePrediction(tx *txs.CreatePredictionTx) error {
	id, err := e.market.CreatePrediction(e.sender, tx.Title, tx.Options)
	e.predictionID = id
	return err
}

func (e *txExecutor) PlaceBet(tx *txs.PlaceBetTx) error {
	return e.market.PlaceBet(e.sender, tx.PredictionID, &tx.Input, tx.Handle, tx.Proof, tx.Value)
}

func (e *txExecutor) EndPrediction(tx *txs.EndPredictionTx) error {
	return e.market.EndPrediction(e.sender, tx.PredictionID, tx.ResultIndex)
}

func (e *txExecutor) ClaimReward(tx *txs.ClaimRewardTx) error {
	return e.market.ClaimReward(e.sender, tx.PredictionID)
}
