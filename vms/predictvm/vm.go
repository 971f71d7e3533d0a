// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package predictvm implements a confidential prediction market chain.
// Bets carry encrypted choices, per-option totals are accumulated without
// decrypting them, and rewards are minted as encrypted balances.
package predictvm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/rpc/v2"
	"github.com/luxfi/cache"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/utils/json"
	"github.com/prometheus/client_golang/prometheus"

	vmcore "github.com/luxfi/oblivious"
	"github.com/luxfi/oblivious/utils/compression"
	"github.com/luxfi/oblivious/utils/timer/mockable"
	"github.com/luxfi/oblivious/vms/predictvm/api"
	"github.com/luxfi/oblivious/vms/predictvm/config"
	"github.com/luxfi/oblivious/vms/predictvm/fhe"
	"github.com/luxfi/oblivious/vms/predictvm/metrics"
	"github.com/luxfi/oblivious/vms/predictvm/state"
	"github.com/luxfi/oblivious/vms/predictvm/txs"
)

const (
	// Version of the prediction VM
	Version = "1.0.0"

	// Name is the JSON-RPC service name
	Name = "predict"
)

var (
	_ vmcore.VM   = (*VM)(nil)
	_ api.Backend = (*VM)(nil)

	errVMShutdown = errors.New("VM is shutting down")
)

type predictionCache = cache.LRU[uint64, *state.Prediction]

// VM implements the prediction chain.
type VM struct {
	config.Config

	log      log.Logger
	metrics  *metrics.Metrics
	chainID  ids.ID
	baseDB   database.Database
	db       *versiondb.Database
	toEngine chan<- vmcore.Message
	clock    mockable.Clock

	backend     fhe.Backend
	verifier    *fhe.InputVerifier
	gateway     *fhe.Gateway
	ciphertexts *cache.LRU[fhe.Handle, []byte]
	compressor  compression.Compressor
	predictions *predictionCache

	mempool *mempool

	// lock guards the fields below and every read of committed state
	lock         sync.RWMutex
	state        vmcore.State
	lastAccepted *Block
	verified     map[ids.ID]*Block
	shuttingDown bool
}

// Initialize loads the chain from cfg.DB, creating the genesis state on
// first start.
func (vm *VM) Initialize(ctx context.Context, cfg *vmcore.Config) error {
	if cfg.Log != nil {
		vm.log = cfg.Log
	}
	if vm.log == nil {
		vm.log = log.NewNoOpLogger()
	}

	if len(cfg.ConfigBytes) > 0 {
		c, err := config.ParseConfig(cfg.ConfigBytes)
		if err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		vm.Config = c
	} else if vm.Config.Backend == "" {
		vm.Config = config.DefaultConfig()
	}
	if err := vm.Config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	genesis, err := ParseGenesis(cfg.GenesisBytes)
	if err != nil {
		return err
	}

	switch vm.Backend {
	case config.BackendTFHE:
		backend, err := fhe.NewTFHEBackend()
		if err != nil {
			return fmt.Errorf("failed to create TFHE backend: %w", err)
		}
		vm.backend = backend
	default:
		vm.backend = fhe.NewClearBackend()
	}

	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	vm.metrics, err = metrics.New(registerer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	vm.chainID = cfg.ChainID
	vm.baseDB = cfg.DB
	vm.db = versiondb.New(cfg.DB)
	vm.toEngine = cfg.ToEngine
	vm.verifier = fhe.NewInputVerifier(vm.chainID, genesis.Attestors)
	vm.ciphertexts = &cache.LRU[fhe.Handle, []byte]{Size: vm.CiphertextCacheSize}
	vm.compressor, err = compression.NewZstdCompressor(fhe.MaxCiphertextSize)
	if err != nil {
		return fmt.Errorf("failed to create ciphertext compressor: %w", err)
	}
	vm.predictions = &predictionCache{Size: vm.PredictionCacheSize}
	vm.mempool = newMempool(vm.MaxMempoolSize)
	vm.verified = make(map[ids.ID]*Block)

	committed := vm.newComponents(vm.db, 0)
	vm.gateway = fhe.NewGateway(
		vm.log,
		vm.chainID,
		&vm.clock,
		committed.exec,
		committed.acl,
		vm.MaxUserDecryptDays,
	)

	lastAcceptedID, err := committed.chain.LastAccepted()
	switch {
	case errors.Is(err, state.ErrBlockNotFound):
		if err := vm.initGenesis(genesis); err != nil {
			return fmt.Errorf("failed to initialize genesis state: %w", err)
		}
	case err != nil:
		return err
	default:
		bytes, err := committed.chain.GetBlock(lastAcceptedID)
		if err != nil {
			return fmt.Errorf("failed to load last accepted block: %w", err)
		}
		vm.lastAccepted, err = parseBlock(vm, bytes, StatusAccepted)
		if err != nil {
			return err
		}
	}

	vm.log.Info("initialized predictvm",
		log.String("version", Version),
		log.String("backend", vm.backend.Name()),
		log.Stringer("lastAcceptedID", vm.lastAccepted.ID()),
		log.Uint64("height", vm.lastAccepted.Height),
	)
	return nil
}

// initGenesis hands the ledger to the market, opens the genesis
// predictions and stores the genesis block.
func (vm *VM) initGenesis(g *Genesis) error {
	genesisDB := versiondb.New(vm.db)
	c := vm.newComponents(genesisDB, uint64(g.Timestamp))

	if err := c.ledger.Initialize(g.Deployer); err != nil {
		return err
	}
	if err := c.ledger.HandOff(g.Deployer, vm.MarketAddress); err != nil {
		return err
	}
	for i, p := range g.Predictions {
		if _, err := c.market.CreatePrediction(p.Creator, p.Title, p.Options); err != nil {
			return fmt.Errorf("invalid genesis prediction %d: %w", i, err)
		}
	}

	blk, err := newBlock(vm, ids.Empty, 0, g.Timestamp, nil)
	if err != nil {
		return err
	}
	blk.status = StatusAccepted
	if err := c.chain.PutBlock(blk.ID(), blk.Height, blk.Bytes()); err != nil {
		return err
	}
	if err := genesisDB.Commit(); err != nil {
		return err
	}
	if err := vm.db.Commit(); err != nil {
		return err
	}
	vm.lastAccepted = blk
	return nil
}

func (vm *VM) SetState(_ context.Context, state vmcore.State) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	vm.state = state
	return nil
}

func (*VM) Version(context.Context) (string, error) {
	return Version, nil
}

func (vm *VM) Shutdown(context.Context) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.shuttingDown || vm.db == nil {
		return nil
	}
	vm.shuttingDown = true
	vm.log.Info("shutting down predictvm")
	return vm.baseDB.Close()
}

// IssueTx adds a signed transaction to the mempool and returns its ID.
func (vm *VM) IssueTx(_ context.Context, bytes []byte) (ids.ID, error) {
	tx, err := txs.Parse(bytes)
	if err != nil {
		return ids.Empty, err
	}
	if chainID := tx.Unsigned.Base().ChainID; chainID != vm.chainID {
		return ids.Empty, fmt.Errorf("%w: %s", ErrWrongChain, chainID)
	}

	vm.lock.RLock()
	shuttingDown := vm.shuttingDown
	vm.lock.RUnlock()
	if shuttingDown {
		return ids.Empty, errVMShutdown
	}

	if err := vm.mempool.Add(tx); err != nil {
		return ids.Empty, err
	}
	vm.metrics.SetMempoolSize(vm.mempool.Len())
	vm.log.Debug("issued transaction",
		log.Stringer("txID", tx.ID()),
		log.Stringer("kind", tx.Unsigned.Kind()),
	)

	if vm.toEngine != nil {
		select {
		case vm.toEngine <- vmcore.Message{Type: vmcore.PendingTxs}:
		default:
		}
	}
	return tx.ID(), nil
}

// BuildBlock executes pending transactions on top of the last accepted
// block. Transactions that can never be included are dropped; those with a
// future nonce stay pending.
func (vm *VM) BuildBlock(context.Context) (*Block, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	pending := vm.mempool.Peek(vm.MaxTxsPerBlock)
	if len(pending) == 0 {
		return nil, ErrNoPendingTxs
	}

	parent := vm.lastAccepted
	timestamp := max(vm.clock.Time().Unix(), parent.Timestamp)
	height := parent.Height + 1

	blockDB := versiondb.New(vm.db)
	executor := vm.newBlockExecutor(blockDB, height, timestamp)
	var (
		included []*txs.Tx
		receipts []*state.Receipt
		dropped  []ids.ID
	)
	for _, tx := range pending {
		receipt, err := executor.execute(tx)
		switch {
		case errors.Is(err, ErrNonceTooHigh):
			continue
		case err != nil:
			vm.log.Debug("dropping transaction",
				log.Stringer("txID", tx.ID()),
				log.Err(err),
			)
			dropped = append(dropped, tx.ID())
			continue
		}
		included = append(included, tx)
		receipts = append(receipts, receipt)
	}
	vm.mempool.Remove(dropped...)
	vm.metrics.SetMempoolSize(vm.mempool.Len())

	if len(included) == 0 {
		blockDB.Abort()
		return nil, ErrNoPendingTxs
	}

	blk, err := newBlock(vm, parent.ID(), height, timestamp, included)
	if err != nil {
		blockDB.Abort()
		return nil, err
	}
	blk.db = blockDB
	blk.receipts = receipts
	vm.verified[blk.ID()] = blk

	vm.log.Debug("built block",
		log.Stringer("blkID", blk.ID()),
		log.Uint64("height", height),
		log.Int("numTxs", len(included)),
	)
	return blk, nil
}

// ParseBlock decodes a block received from a peer.
func (vm *VM) ParseBlock(_ context.Context, bytes []byte) (*Block, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	blk, err := parseBlock(vm, bytes, StatusProcessing)
	if err != nil {
		return nil, err
	}
	if verified, ok := vm.verified[blk.ID()]; ok {
		return verified, nil
	}
	return blk, nil
}

// GetBlock returns a processing or accepted block.
func (vm *VM) GetBlock(_ context.Context, blkID ids.ID) (*Block, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	return vm.getBlock(blkID)
}

func (vm *VM) getBlock(blkID ids.ID) (*Block, error) {
	if blk, ok := vm.verified[blkID]; ok {
		return blk, nil
	}
	bytes, err := vm.committedChain().GetBlock(blkID)
	if err != nil {
		return nil, err
	}
	return parseBlock(vm, bytes, StatusAccepted)
}

// GetBlockIDAtHeight returns the ID of the accepted block at height.
func (vm *VM) GetBlockIDAtHeight(_ context.Context, height uint64) (ids.ID, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	return vm.committedChain().GetBlockIDAtHeight(height)
}

func (vm *VM) LastAccepted(context.Context) (ids.ID, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	return vm.lastAccepted.ID(), nil
}

// HealthCheck reports the chain tip and mempool depth.
func (vm *VM) HealthCheck(context.Context) (interface{}, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if vm.shuttingDown {
		return nil, errVMShutdown
	}
	return &api.Health{
		Healthy:        true,
		State:          vm.state.String(),
		LastAcceptedID: vm.lastAccepted.ID(),
		Height:         vm.lastAccepted.Height,
		MempoolSize:    vm.mempool.Len(),
		Backend:        vm.backend.Name(),
	}, nil
}

// CreateHandlers returns the JSON-RPC handler of the chain.
func (vm *VM) CreateHandlers(context.Context) (map[string]http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json.NewCodec(), "application/json")
	server.RegisterCodec(json.NewCodec(), "application/json;charset=UTF-8")
	server.RegisterInterceptFunc(vm.metrics.InterceptRequest)
	server.RegisterAfterFunc(vm.metrics.AfterRequest)
	return map[string]http.Handler{
		"/rpc": server,
	}, server.RegisterService(api.NewService(vm.log, vm), Name)
}

func (vm *VM) committedChain() *state.Chain {
	return state.NewChain(prefixdb.New(prefixChain, vm.db))
}
