// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package market

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/oblivious/vms/predictvm/config"
	"github.com/luxfi/oblivious/vms/predictvm/fhe"
	"github.com/luxfi/oblivious/vms/predictvm/ledger"
	"github.com/luxfi/oblivious/vms/predictvm/state"
)

var (
	deployer = common.HexToAddress("0xde")
	creator  = common.HexToAddress("0xc0")
	alice    = common.HexToAddress("0xa1")
	bob      = common.HexToAddress("0xb0")
	carol    = common.HexToAddress("0xca")
)

// unit is one stake unit in wei under the default configuration.
var unit = uint256.NewInt(1_000_000_000_000)

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(unit, uint256.NewInt(n))
}

type fixture struct {
	cfg      config.Config
	chainID  ids.ID
	db       database.Database
	backend  fhe.Backend
	attestor *fhe.Attestor
	verifier *fhe.InputVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		cfg:     config.DefaultConfig(),
		chainID: ids.GenerateTestID(),
		db:      memdb.New(),
		backend: fhe.NewClearBackend(),
	}
	f.attestor = fhe.NewAttestor(f.chainID, key, f.backend)
	f.verifier = fhe.NewInputVerifier(f.chainID, []common.Address{f.attestor.Address()})

	l := f.ledger(f.db)
	require.NoError(t, l.Initialize(deployer))
	require.NoError(t, l.HandOff(deployer, f.cfg.MarketAddress))
	return f
}

func (f *fixture) executor(db database.Database) *fhe.Executor {
	return fhe.NewExecutor(f.chainID, f.backend, fhe.NewStore(db, nil))
}

func (f *fixture) ledger(db database.Database) *ledger.Ledger {
	return ledger.New(db, f.executor(db), fhe.NewACL(db), f.cfg.LedgerAddress, ledger.Metadata{
		Name:     f.cfg.TokenName,
		Symbol:   f.cfg.TokenSymbol,
		Decimals: f.cfg.TokenDecimals,
	})
}

// market returns a market view over db with a custom executor.
func (f *fixture) marketWith(t *testing.T, db database.Database, exec Executor) *Market {
	t.Helper()
	m, err := New(f.cfg, Env{
		State:     state.New(db, nil),
		Executor:  exec,
		ACL:       fhe.NewACL(db),
		Verifier:  f.verifier,
		Ledger:    f.ledger(db),
		Timestamp: 1_700_000_000,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) market(t *testing.T) *Market {
	return f.marketWith(t, f.db, f.executor(f.db))
}

func (f *fixture) create(t *testing.T, options ...string) uint64 {
	t.Helper()
	id, err := f.market(t).CreatePrediction(creator, "Who wins?", options)
	require.NoError(t, err)
	return id
}

type attested struct {
	input    *fhe.ExternalInput
	external fhe.Handle
	proof    []byte
}

func (f *fixture) attest(t *testing.T, user common.Address, choice uint64) attested {
	t.Helper()
	input, err := fhe.EncryptInput(f.backend, choice, fhe.EUint8)
	require.NoError(t, err)
	external, proof, err := f.attestor.Attest(input, user, f.cfg.MarketAddress, config.MaxOptionSlots-1)
	require.NoError(t, err)
	return attested{input: input, external: external, proof: proof}
}

func (f *fixture) bet(t *testing.T, user common.Address, id, choice uint64, value *uint256.Int) error {
	t.Helper()
	a := f.attest(t, user, choice)
	return f.market(t).PlaceBet(user, id, a.input, a.external, a.proof, value)
}

func (f *fixture) decrypt(t *testing.T, h fhe.Handle) uint64 {
	t.Helper()
	v, err := f.executor(f.db).Decrypt(h)
	require.NoError(t, err)
	return v
}

func (f *fixture) balance(t *testing.T, account common.Address) uint64 {
	t.Helper()
	h, err := f.ledger(f.db).ConfidentialBalanceOf(account)
	require.NoError(t, err)
	return f.decrypt(t, h)
}

func TestCreatePrediction(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		options []string
		wantErr error
	}{
		{
			name:    "two options",
			title:   "Rain?",
			options: []string{"Yes", "No"},
		},
		{
			name:    "four options",
			title:   "Winner",
			options: []string{"A", "B", "C", "D"},
		},
		{
			name:    "one option",
			title:   "Rain?",
			options: []string{"Yes"},
			wantErr: ErrInvalidOptionCount,
		},
		{
			name:    "five options",
			title:   "Winner",
			options: []string{"A", "B", "C", "D", "E"},
			wantErr: ErrInvalidOptionCount,
		},
		{
			name:    "empty title",
			options: []string{"Yes", "No"},
			wantErr: ErrInvalidTitle,
		},
		{
			name:    "empty label",
			title:   "Rain?",
			options: []string{"Yes", ""},
			wantErr: ErrInvalidOption,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			f := newFixture(t)
			m := f.market(t)

			id, err := m.CreatePrediction(creator, tt.title, tt.options)
			require.ErrorIs(err, tt.wantErr)
			count, countErr := m.PredictionCount()
			require.NoError(countErr)
			if tt.wantErr != nil {
				require.Zero(count)
				return
			}
			require.Equal(uint64(1), id)
			require.Equal(uint64(1), count)

			info, err := m.GetPrediction(id)
			require.NoError(err)
			require.Equal(&Info{
				Creator:     creator,
				Title:       tt.title,
				OptionCount: uint8(len(tt.options)),
			}, info)

			options, n, err := m.GetPredictionOptions(id)
			require.NoError(err)
			require.Equal(tt.options, options[:n])
			for _, empty := range options[n:] {
				require.Empty(empty)
			}

			totals, n, err := m.GetEncryptedTotals(id)
			require.NoError(err)
			for _, h := range totals[:n] {
				require.Zero(f.decrypt(t, h))
			}
			for _, h := range totals[n:] {
				require.Equal(fhe.Handle{}, h)
			}
		})
	}
}

func TestReadsUnknownPrediction(t *testing.T) {
	require := require.New(t)
	m := newFixture(t).market(t)

	_, err := m.GetPrediction(7)
	require.ErrorIs(err, ErrPredictionNotFound)
	_, _, err = m.GetPredictionOptions(7)
	require.ErrorIs(err, ErrPredictionNotFound)
	_, _, err = m.GetEncryptedTotals(7)
	require.ErrorIs(err, ErrPredictionNotFound)
	_, err = m.GetUserBet(7, alice)
	require.ErrorIs(err, ErrPredictionNotFound)
}

func TestPlaceBetErrors(t *testing.T) {
	f := newFixture(t)
	open := f.create(t, "Yes", "No")
	ended := f.create(t, "Yes", "No")
	require.NoError(t, f.market(t).EndPrediction(creator, ended, 0))
	require.NoError(t, f.bet(t, carol, open, 1, units(1)))

	valid := f.attest(t, alice, 1)
	forBob := f.attest(t, bob, 1)

	tests := []struct {
		name    string
		user    common.Address
		id      uint64
		input   attested
		value   *uint256.Int
		wantErr error
	}{
		{
			name:    "unknown prediction",
			user:    alice,
			id:      99,
			input:   valid,
			value:   units(1),
			wantErr: ErrPredictionNotFound,
		},
		{
			name:    "ended",
			user:    alice,
			id:      ended,
			input:   valid,
			value:   units(1),
			wantErr: ErrPredictionAlreadyEnded,
		},
		{
			name:    "duplicate",
			user:    carol,
			id:      open,
			input:   f.attest(t, carol, 0),
			value:   units(1),
			wantErr: ErrDuplicateBet,
		},
		{
			name:    "zero stake",
			user:    alice,
			id:      open,
			input:   valid,
			value:   uint256.NewInt(0),
			wantErr: ErrInvalidStakeGranularity,
		},
		{
			name:    "fractional stake",
			user:    alice,
			id:      open,
			input:   valid,
			value:   new(uint256.Int).AddUint64(unit, 1),
			wantErr: ErrInvalidStakeGranularity,
		},
		{
			name:    "below granularity",
			user:    alice,
			id:      open,
			input:   valid,
			value:   uint256.NewInt(999_999_999_999),
			wantErr: ErrInvalidStakeGranularity,
		},
		{
			name:    "reward would overflow",
			user:    alice,
			id:      open,
			input:   valid,
			value:   units(1 << 60),
			wantErr: ErrStakeTooLarge,
		},
		{
			name:    "proof for another user",
			user:    alice,
			id:      open,
			input:   forBob,
			value:   units(1),
			wantErr: ErrProofVerificationFailed,
		},
		{
			name: "proof for another ciphertext",
			user: alice,
			id:   open,
			input: attested{
				input:    forBob.input,
				external: valid.external,
				proof:    valid.proof,
			},
			value:   units(1),
			wantErr: ErrProofVerificationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.market(t).PlaceBet(tt.user, tt.id, tt.input.input, tt.input.external, tt.input.proof, tt.value)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	// None of the rejected attempts recorded a bet.
	bet, err := f.market(t).GetUserBet(open, alice)
	require.NoError(t, err)
	require.False(t, bet.Exists)
}

func TestChoiceOutsideBoundIsNotAttested(t *testing.T) {
	f := newFixture(t)
	input, err := fhe.EncryptInput(f.backend, config.MaxOptionSlots, fhe.EUint8)
	require.NoError(t, err)
	_, _, err = f.attestor.Attest(input, alice, f.cfg.MarketAddress, config.MaxOptionSlots-1)
	require.ErrorIs(t, err, fhe.ErrValueOutOfRange)
}

func TestEndPrediction(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	id := f.create(t, "A", "B", "C")
	m := f.market(t)

	require.ErrorIs(m.EndPrediction(creator, 99, 0), ErrPredictionNotFound)
	require.ErrorIs(m.EndPrediction(alice, id, 0), ErrNotCreator)
	require.ErrorIs(m.EndPrediction(creator, id, 3), ErrInvalidOptionIndex)

	require.NoError(m.EndPrediction(creator, id, 2))
	require.ErrorIs(m.EndPrediction(creator, id, 1), ErrPredictionAlreadyEnded)

	info, err := m.GetPrediction(id)
	require.NoError(err)
	require.True(info.Ended)
	require.Equal(uint8(2), info.ResultIndex)

	acl := fhe.NewACL(f.db)
	totals, n, err := m.GetEncryptedTotals(id)
	require.NoError(err)
	for _, h := range totals[:n] {
		public, err := acl.IsPublic(h)
		require.NoError(err)
		require.True(public)
	}
}

func TestTotalsMatchStakes(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	id := f.create(t, "A", "B", "C", "D")

	bettors := []struct {
		account common.Address
		choice  uint64
		stake   uint64
	}{
		{common.HexToAddress("0x11"), 0, 5},
		{common.HexToAddress("0x12"), 2, 7},
		{common.HexToAddress("0x13"), 0, 1},
		{common.HexToAddress("0x14"), 3, 11},
		{common.HexToAddress("0x15"), 2, 2},
	}
	for _, b := range bettors {
		require.NoError(f.bet(t, b.account, id, b.choice, units(b.stake)))
	}

	totals, n, err := f.market(t).GetEncryptedTotals(id)
	require.NoError(err)
	require.Equal(uint8(4), n)
	got := make([]uint64, n)
	for i, h := range totals[:n] {
		got[i] = f.decrypt(t, h)
	}
	require.Equal([]uint64{6, 0, 9, 11}, got)
}

// recorder counts the encrypted operations a market performs.
type recorder struct {
	Executor
	ops []string
}

func (r *recorder) TrivialEncrypt(v uint64, t fhe.EncryptedType) (fhe.Handle, error) {
	r.ops = append(r.ops, "trivial")
	return r.Executor.TrivialEncrypt(v, t)
}

func (r *recorder) Add(a, b fhe.Handle) (fhe.Handle, error) {
	r.ops = append(r.ops, "add")
	return r.Executor.Add(a, b)
}

func (r *recorder) Eq(a, b fhe.Handle) (fhe.Handle, error) {
	r.ops = append(r.ops, "eq")
	return r.Executor.Eq(a, b)
}

func (r *recorder) Select(c, a, b fhe.Handle) (fhe.Handle, error) {
	r.ops = append(r.ops, "select")
	return r.Executor.Select(c, a, b)
}

func (r *recorder) ScalarMul(a fhe.Handle, s uint64) (fhe.Handle, error) {
	r.ops = append(r.ops, "mul")
	return r.Executor.ScalarMul(a, s)
}

func TestPlaceBetTraceIsIndependentOfChoice(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	two := f.create(t, "Yes", "No")
	four := f.create(t, "A", "B", "C", "D")

	trace := func(user common.Address, id, choice uint64) []string {
		r := &recorder{Executor: f.executor(f.db)}
		a := f.attest(t, user, choice)
		require.NoError(f.marketWith(t, f.db, r).PlaceBet(user, id, a.input, a.external, a.proof, units(1)))
		return r.ops
	}

	reference := trace(common.HexToAddress("0x21"), two, 0)
	require.Equal(reference, trace(common.HexToAddress("0x22"), two, 1))
	require.Equal(reference, trace(common.HexToAddress("0x23"), four, 0))
	require.Equal(reference, trace(common.HexToAddress("0x24"), four, 3))
}

func TestClaimRewardErrors(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	id := f.create(t, "Yes", "No")
	require.NoError(f.bet(t, alice, id, 0, units(1)))

	m := f.market(t)
	require.ErrorIs(m.ClaimReward(alice, 99), ErrPredictionNotFound)
	require.ErrorIs(m.ClaimReward(alice, id), ErrPredictionNotEnded)
	require.NoError(m.EndPrediction(creator, id, 0))
	require.ErrorIs(m.ClaimReward(bob, id), ErrBetNotFound)
}

func TestClaimRollsBackWhenMintFails(t *testing.T) {
	require := require.New(t)

	// A ledger still controlled by its deployer refuses the market's mint.
	f := newFixture(t)
	f.db = memdb.New()
	require.NoError(f.ledger(f.db).Initialize(deployer))

	id := f.create(t, "Yes", "No")
	require.NoError(f.bet(t, alice, id, 0, units(2)))
	require.NoError(f.market(t).EndPrediction(creator, id, 0))

	txDB := versiondb.New(f.db)
	err := f.marketWith(t, txDB, f.executor(txDB)).ClaimReward(alice, id)
	require.ErrorIs(err, ledger.ErrUnauthorized)
	txDB.Abort()

	bet, err := f.market(t).GetUserBet(id, alice)
	require.NoError(err)
	require.True(bet.Exists)
	require.False(bet.Claimed)
	require.Zero(f.balance(t, alice))
}

func TestEndToEnd(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	id := f.create(t, "Yes", "No")
	require.NoError(f.bet(t, alice, id, 0, units(2)))
	require.NoError(f.bet(t, bob, id, 1, units(3)))
	require.ErrorIs(f.bet(t, alice, id, 1, units(1)), ErrDuplicateBet)

	m := f.market(t)
	bet, err := m.GetUserBet(id, alice)
	require.NoError(err)
	require.True(bet.Exists)
	require.False(bet.Claimed)
	require.Equal(uint64(2), f.decrypt(t, bet.Stake))

	acl := fhe.NewACL(f.db)
	allowed, err := acl.IsAllowed(bet.Choice, alice)
	require.NoError(err)
	require.True(allowed)
	allowed, err = acl.IsAllowed(bet.Choice, bob)
	require.NoError(err)
	require.False(allowed)

	require.NoError(m.EndPrediction(creator, id, 0))

	totals, n, err := m.GetEncryptedTotals(id)
	require.NoError(err)
	require.Equal(uint8(2), n)
	require.Equal(uint64(2), f.decrypt(t, totals[0]))
	require.Equal(uint64(3), f.decrypt(t, totals[1]))

	require.NoError(m.ClaimReward(alice, id))
	require.Equal(uint64(2*10_000), f.balance(t, alice))

	require.NoError(m.ClaimReward(bob, id))
	require.Zero(f.balance(t, bob))

	require.ErrorIs(m.ClaimReward(alice, id), ErrAlreadyClaimed)
	require.Equal(uint64(2*10_000), f.balance(t, alice))

	for _, account := range []common.Address{alice, bob} {
		bet, err := m.GetUserBet(id, account)
		require.NoError(err)
		require.True(bet.Claimed)
	}

	mints, err := f.ledger(f.db).TotalMinted()
	require.NoError(err)
	require.Equal(uint64(2), mints)
}
