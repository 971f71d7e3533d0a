// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger implements the confidential balance ledger. Balances are
// encrypted 64-bit amounts that only grow through Mint.
package ledger

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/oblivious/utils/math"
	"github.com/luxfi/oblivious/vms/predictvm/fhe"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrControllerAlreadySet = errors.New("controller already set")
	ErrNotInitialized       = errors.New("ledger not initialized")
	ErrAlreadyInitialized   = errors.New("ledger already initialized")
	ErrAmountNotAllowed     = errors.New("ledger has no access to amount")

	keyDeployer   = []byte("deployer")
	keyController = []byte("controller")
	keyZero       = []byte("zero")
	keyMints      = []byte("mints")
	prefixBalance = []byte("balance:")
)

// Metadata describes the asset held by the ledger.
type Metadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Info is the public status of a ledger.
type Info struct {
	Metadata
	Address     common.Address `json:"address"`
	Controller  common.Address `json:"controller"`
	TotalMinted uint64         `json:"totalMinted"`
}

// Ledger holds one encrypted balance per account. The controller is the only
// caller allowed to mint; it is handed off from the deployer exactly once.
type Ledger struct {
	db       database.Database
	eval     fhe.Evaluator
	acl      *fhe.ACL
	address  common.Address
	metadata Metadata
}

// New returns a ledger that lives at address, reading and writing db.
func New(
	db database.Database,
	eval fhe.Evaluator,
	acl *fhe.ACL,
	address common.Address,
	metadata Metadata,
) *Ledger {
	return &Ledger{
		db:       db,
		eval:     eval,
		acl:      acl,
		address:  address,
		metadata: metadata,
	}
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Name() string            { return l.metadata.Name }
func (l *Ledger) Symbol() string          { return l.metadata.Symbol }
func (l *Ledger) Decimals() uint8         { return l.metadata.Decimals }

// Initialize records the deployer, who holds mint authority until HandOff,
// and creates the shared encrypted zero returned for untouched accounts.
func (l *Ledger) Initialize(deployer common.Address) error {
	has, err := l.db.Has(keyDeployer)
	if err != nil {
		return err
	}
	if has {
		return ErrAlreadyInitialized
	}
	if err := l.db.Put(keyDeployer, deployer.Bytes()); err != nil {
		return err
	}

	zero, err := l.eval.TrivialEncrypt(0, fhe.EUint64)
	if err != nil {
		return fmt.Errorf("failed to encrypt zero balance: %w", err)
	}
	if err := l.acl.Allow(zero, l.address); err != nil {
		return err
	}
	// Every untouched account shares this handle, so it carries no secret.
	if err := l.acl.MakePublic(zero); err != nil {
		return err
	}
	return l.db.Put(keyZero, zero.Bytes())
}

// HandOff transfers mint authority from the deployer to newController. It
// succeeds once.
func (l *Ledger) HandOff(caller, newController common.Address) error {
	deployer, err := l.loadAddress(keyDeployer)
	if err != nil {
		return err
	}
	if caller != deployer {
		return fmt.Errorf("%w: %s is not the deployer", ErrUnauthorized, caller)
	}
	has, err := l.db.Has(keyController)
	if err != nil {
		return err
	}
	if has {
		return ErrControllerAlreadySet
	}
	return l.db.Put(keyController, newController.Bytes())
}

// Controller returns the current mint authority: the deployer before the
// handoff and the new controller after it.
func (l *Ledger) Controller() (common.Address, error) {
	controller, err := l.loadAddress(keyController)
	if errors.Is(err, ErrNotInitialized) {
		return l.loadAddress(keyDeployer)
	}
	return controller, err
}

// Mint adds amount to the balance of account. caller must be the controller
// and must have granted the ledger access to amount.
func (l *Ledger) Mint(caller, account common.Address, amount fhe.Handle) error {
	controller, err := l.Controller()
	if err != nil {
		return err
	}
	if caller != controller {
		return fmt.Errorf("%w: %s is not the controller", ErrUnauthorized, caller)
	}

	allowed, err := l.acl.IsAllowed(amount, l.address)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrAmountNotAllowed, amount)
	}

	balance, err := l.ConfidentialBalanceOf(account)
	if err != nil {
		return err
	}
	updated, err := l.eval.Add(balance, amount)
	if err != nil {
		return fmt.Errorf("failed to add to balance of %s: %w", account, err)
	}
	if err := l.acl.Allow(updated, l.address); err != nil {
		return err
	}
	if err := l.acl.Allow(updated, account); err != nil {
		return err
	}
	if err := l.db.Put(balanceKey(account), updated.Bytes()); err != nil {
		return err
	}

	mints, err := l.TotalMinted()
	if err != nil {
		return err
	}
	mints, err = math.Add(mints, 1)
	if err != nil {
		return fmt.Errorf("failed to count mint: %w", err)
	}
	return database.PutUInt64(l.db, keyMints, mints)
}

// ConfidentialBalanceOf returns the balance handle of account, or the shared
// encrypted zero if the account was never minted to.
func (l *Ledger) ConfidentialBalanceOf(account common.Address) (fhe.Handle, error) {
	h, err := l.loadHandle(balanceKey(account))
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return fhe.Handle{}, err
	}
	zero, err := l.loadHandle(keyZero)
	if errors.Is(err, database.ErrNotFound) {
		return fhe.Handle{}, ErrNotInitialized
	}
	return zero, err
}

// TotalMinted returns how many mints have been applied. Amounts stay
// encrypted, so this counts events only.
func (l *Ledger) TotalMinted() (uint64, error) {
	mints, err := database.GetUInt64(l.db, keyMints)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	return mints, err
}

// Info returns the ledger's metadata, controller and mint count.
func (l *Ledger) Info() (*Info, error) {
	controller, err := l.Controller()
	if err != nil {
		return nil, err
	}
	mints, err := l.TotalMinted()
	if err != nil {
		return nil, err
	}
	return &Info{
		Metadata:    l.metadata,
		Address:     l.address,
		Controller:  controller,
		TotalMinted: mints,
	}, nil
}

func (l *Ledger) loadAddress(key []byte) (common.Address, error) {
	b, err := l.db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return common.Address{}, ErrNotInitialized
	}
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(b), nil
}

func (l *Ledger) loadHandle(key []byte) (fhe.Handle, error) {
	b, err := l.db.Get(key)
	if err != nil {
		return fhe.Handle{}, err
	}
	return fhe.Handle(common.BytesToHash(b)), nil
}

func balanceKey(account common.Address) []byte {
	key := make([]byte, 0, len(prefixBalance)+common.AddressLength)
	key = append(key, prefixBalance...)
	return append(key, account[:]...)
}
