// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/oblivious/vms/predictvm/fhe"
)

var (
	deployer = common.HexToAddress("0xde")
	market   = common.HexToAddress("0x0300000000000000000000000000000000000001")
	self     = common.HexToAddress("0x0300000000000000000000000000000000000002")
	alice    = common.HexToAddress("0xa1")
)

type fixture struct {
	exec   *fhe.Executor
	acl    *fhe.ACL
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memdb.New()
	exec := fhe.NewExecutor(ids.GenerateTestID(), fhe.NewClearBackend(), fhe.NewStore(db, nil))
	acl := fhe.NewACL(db)
	l := New(db, exec, acl, self, Metadata{Name: "ObliviousCoin", Symbol: "OBC", Decimals: 6})
	require.NoError(t, l.Initialize(deployer))
	return &fixture{exec: exec, acl: acl, ledger: l}
}

// amount returns an encrypted value the ledger may use.
func (f *fixture) amount(t *testing.T, v uint64) fhe.Handle {
	t.Helper()
	h, err := f.exec.TrivialEncrypt(v, fhe.EUint64)
	require.NoError(t, err)
	require.NoError(t, f.acl.Allow(h, self))
	return h
}

func TestMetadata(t *testing.T) {
	require := require.New(t)
	l := newFixture(t).ledger

	require.Equal("ObliviousCoin", l.Name())
	require.Equal("OBC", l.Symbol())
	require.Equal(uint8(6), l.Decimals())
	require.Equal(self, l.Address())
	require.ErrorIs(l.Initialize(deployer), ErrAlreadyInitialized)

	info, err := l.Info()
	require.NoError(err)
	require.Equal(&Info{
		Metadata:   Metadata{Name: "ObliviousCoin", Symbol: "OBC", Decimals: 6},
		Address:    self,
		Controller: deployer,
	}, info)
}

func TestHandOff(t *testing.T) {
	require := require.New(t)
	l := newFixture(t).ledger

	controller, err := l.Controller()
	require.NoError(err)
	require.Equal(deployer, controller)

	require.ErrorIs(l.HandOff(alice, alice), ErrUnauthorized)
	require.NoError(l.HandOff(deployer, market))

	controller, err = l.Controller()
	require.NoError(err)
	require.Equal(market, controller)

	require.ErrorIs(l.HandOff(deployer, alice), ErrControllerAlreadySet)
	controller, err = l.Controller()
	require.NoError(err)
	require.Equal(market, controller)
}

func TestUntouchedBalanceIsZero(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a, err := f.ledger.ConfidentialBalanceOf(alice)
	require.NoError(err)
	b, err := f.ledger.ConfidentialBalanceOf(common.HexToAddress("0xb0"))
	require.NoError(err)
	require.Equal(a, b)

	v, err := f.exec.Decrypt(a)
	require.NoError(err)
	require.Zero(v)

	public, err := f.acl.IsPublic(a)
	require.NoError(err)
	require.True(public)
}

func TestMint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.HandOff(deployer, market))

	tests := []struct {
		name    string
		caller  common.Address
		amount  func(*testing.T) fhe.Handle
		wantErr error
	}{
		{
			name:    "deployer after handoff",
			caller:  deployer,
			amount:  func(t *testing.T) fhe.Handle { return f.amount(t, 1) },
			wantErr: ErrUnauthorized,
		},
		{
			name:   "amount not shared with ledger",
			caller: market,
			amount: func(t *testing.T) fhe.Handle {
				h, err := f.exec.TrivialEncrypt(1, fhe.EUint64)
				require.NoError(t, err)
				return h
			},
			wantErr: ErrAmountNotAllowed,
		},
		{
			name:   "wrong width",
			caller: market,
			amount: func(t *testing.T) fhe.Handle {
				h, err := f.exec.TrivialEncrypt(1, fhe.EUint8)
				require.NoError(t, err)
				require.NoError(t, f.acl.Allow(h, self))
				return h
			},
			wantErr: fhe.ErrTypeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, f.ledger.Mint(tt.caller, alice, tt.amount(t)), tt.wantErr)
		})
	}

	t.Run("controller accumulates", func(t *testing.T) {
		require := require.New(t)

		require.NoError(f.ledger.Mint(market, alice, f.amount(t, 20000)))
		require.NoError(f.ledger.Mint(market, alice, f.amount(t, 0)))
		require.NoError(f.ledger.Mint(market, alice, f.amount(t, 30000)))

		balance, err := f.ledger.ConfidentialBalanceOf(alice)
		require.NoError(err)
		v, err := f.exec.Decrypt(balance)
		require.NoError(err)
		require.Equal(uint64(50000), v)

		allowed, err := f.acl.IsAllowed(balance, alice)
		require.NoError(err)
		require.True(allowed)

		mints, err := f.ledger.TotalMinted()
		require.NoError(err)
		require.Equal(uint64(3), mints)
	})
}

func TestUninitialized(t *testing.T) {
	require := require.New(t)
	db := memdb.New()
	exec := fhe.NewExecutor(ids.GenerateTestID(), fhe.NewClearBackend(), fhe.NewStore(db, nil))
	l := New(db, exec, fhe.NewACL(db), self, Metadata{})

	_, err := l.ConfidentialBalanceOf(alice)
	require.ErrorIs(err, ErrNotInitialized)
	_, err = l.Controller()
	require.ErrorIs(err, ErrNotInitialized)
	require.ErrorIs(l.HandOff(deployer, market), ErrNotInitialized)
}
