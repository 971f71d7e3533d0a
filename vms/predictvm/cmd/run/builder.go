// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"context"
	"errors"
	"time"

	"github.com/luxfi/log"
	"go.uber.org/zap"

	vmcore "github.com/luxfi/oblivious"
	"github.com/luxfi/oblivious/vms/predictvm"
)

// chain is the part of the VM the single-node block loop drives.
type chain interface {
	BuildBlock(context.Context) (*predictvm.Block, error)
}

// buildBlocks produces blocks while transactions are pending. It wakes up
// when the VM reports new transactions and on every interval.
func buildBlocks(
	ctx context.Context,
	logger log.Logger,
	vm chain,
	toEngine <-chan vmcore.Message,
	interval time.Duration,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-toEngine:
		case <-ticker.C:
		}

		for ctx.Err() == nil {
			blk, err := buildAndAccept(ctx, vm)
			if errors.Is(err, predictvm.ErrNoPendingTxs) {
				break
			}
			if err != nil {
				logger.Error("failed to produce block",
					zap.Error(err),
				)
				break
			}
			logger.Debug("produced block",
				zap.Stringer("blkID", blk.ID()),
				zap.Uint64("height", blk.Height),
				zap.Int("numTxs", len(blk.Transactions())),
			)
		}
	}
}

func buildAndAccept(ctx context.Context, vm chain) (*predictvm.Block, error) {
	blk, err := vm.BuildBlock(ctx)
	if err != nil {
		return nil, err
	}
	if err := blk.Verify(ctx); err != nil {
		return nil, errors.Join(err, blk.Reject(ctx))
	}
	return blk, blk.Accept(ctx)
}
