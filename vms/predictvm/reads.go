// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package predictvm

import (
	"context"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"

	"github.com/luxfi/oblivious/vms/predictvm/api"
	"github.com/luxfi/oblivious/vms/predictvm/config"
	"github.com/luxfi/oblivious/vms/predictvm/fhe"
	"github.com/luxfi/oblivious/vms/predictvm/ledger"
	"github.com/luxfi/oblivious/vms/predictvm/market"
	"github.com/luxfi/oblivious/vms/predictvm/state"
)

// Reads below serve the API from the last accepted state. They never see
// the effects of processing blocks.

// read runs f against the committed state under the read lock.
func (vm *VM) read(f func(*components) error) error {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if vm.shuttingDown {
		return errVMShutdown
	}
	return f(vm.newComponentsWithCache(vm.db, uint64(vm.lastAccepted.Timestamp), vm.predictions))
}

func (vm *VM) PredictionCount() (count uint64, err error) {
	err = vm.read(func(c *components) error {
		count, err = c.market.PredictionCount()
		return err
	})
	return count, err
}

func (vm *VM) GetPrediction(id uint64) (info *market.Info, err error) {
	err = vm.read(func(c *components) error {
		info, err = c.market.GetPrediction(id)
		return err
	})
	return info, err
}

func (vm *VM) GetPredictionOptions(id uint64) (options [config.MaxOptionSlots]string, count uint8, err error) {
	err = vm.read(func(c *components) error {
		options, count, err = c.market.GetPredictionOptions(id)
		return err
	})
	return options, count, err
}

func (vm *VM) GetEncryptedTotals(id uint64) (totals [config.MaxOptionSlots]fhe.Handle, count uint8, err error) {
	err = vm.read(func(c *components) error {
		totals, count, err = c.market.GetEncryptedTotals(id)
		return err
	})
	return totals, count, err
}

func (vm *VM) GetUserBet(id uint64, account common.Address) (bet *state.Bet, err error) {
	err = vm.read(func(c *components) error {
		bet, err = c.market.GetUserBet(id, account)
		return err
	})
	return bet, err
}

func (vm *VM) LedgerInfo() (info *ledger.Info, err error) {
	err = vm.read(func(c *components) error {
		info, err = c.ledger.Info()
		return err
	})
	return info, err
}

func (vm *VM) ConfidentialBalanceOf(account common.Address) (balance fhe.Handle, err error) {
	err = vm.read(func(c *components) error {
		balance, err = c.ledger.ConfidentialBalanceOf(account)
		return err
	})
	return balance, err
}

// PublicDecrypt reveals handles the market has released, such as the
// totals of ended predictions.
func (vm *VM) PublicDecrypt(handles []fhe.Handle) (values map[fhe.Handle]uint64, err error) {
	err = vm.read(func(*components) error {
		values, err = vm.gateway.PublicDecrypt(handles)
		return err
	})
	vm.metrics.MarkDecrypt("public", err)
	return values, err
}

// UserDecrypt reveals handles to their owner, sealed to the key in the
// signed request.
func (vm *VM) UserDecrypt(req *fhe.UserDecryptRequest) (sealed []fhe.SealedValue, err error) {
	err = vm.read(func(*components) error {
		sealed, err = vm.gateway.UserDecrypt(req)
		return err
	})
	vm.metrics.MarkDecrypt("user", err)
	return sealed, err
}

// GetReceipt returns the execution result of an accepted transaction.
func (vm *VM) GetReceipt(txID ids.ID) (receipt *state.Receipt, err error) {
	err = vm.read(func(c *components) error {
		receipt, err = c.chain.GetReceipt(txID)
		return err
	})
	return receipt, err
}

// IsPending reports whether txID is waiting in the mempool.
func (vm *VM) IsPending(txID ids.ID) bool {
	return vm.mempool.Has(txID)
}

// GetBlockInfo summarizes a processing or accepted block.
func (vm *VM) GetBlockInfo(_ context.Context, blkID ids.ID) (*api.BlockInfo, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	blk, err := vm.getBlock(blkID)
	if err != nil {
		return nil, err
	}
	info := &api.BlockInfo{
		ID:        blk.ID(),
		ParentID:  blk.ParentID,
		Height:    blk.Height,
		Timestamp: blk.Timestamp,
		Status:    blk.Status().String(),
		TxIDs:     make([]ids.ID, len(blk.txs)),
	}
	for i, tx := range blk.txs {
		info.TxIDs[i] = tx.ID()
	}
	return info, nil
}
