// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package market implements the confidential prediction market: encrypted
// choices, oblivious per-option tallies and encrypted reward settlement.
package market

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/oblivious/utils/math"
	"github.com/luxfi/oblivious/vms/predictvm/config"
	"github.com/luxfi/oblivious/vms/predictvm/fhe"
	"github.com/luxfi/oblivious/vms/predictvm/state"
)

// ErrPredictionNotFound is returned for unknown prediction IDs.
var ErrPredictionNotFound = state.ErrPredictionNotFound

// Executor evaluates encrypted operations and imports verified inputs.
type Executor interface {
	fhe.Evaluator
	Import(input *fhe.ExternalInput) (fhe.Handle, error)
}

// Verifier checks that an external input was attested for a user, contract
// and plaintext bound.
type Verifier interface {
	Verify(input *fhe.ExternalInput, external fhe.Handle, proof []byte, user, contract common.Address, bound uint64) error
}

// Minter credits encrypted amounts to confidential balances.
type Minter interface {
	Address() common.Address
	Mint(caller, account common.Address, amount fhe.Handle) error
}

// Env is everything a market needs from the executing transaction.
type Env struct {
	State    *state.State
	Executor Executor
	ACL      *fhe.ACL
	Verifier Verifier
	Ledger   Minter
	// Timestamp of the executing block, in unix seconds
	Timestamp uint64
}

// Info is the plaintext summary of a prediction.
type Info struct {
	Creator     common.Address `json:"creator"`
	Title       string         `json:"title"`
	OptionCount uint8          `json:"optionCount"`
	Ended       bool           `json:"ended"`
	ResultIndex uint8          `json:"resultIndex"`
}

type Market struct {
	address     common.Address
	granularity *uint256.Int
	multiplier  uint64
	maxTitle    int
	maxOption   int

	env Env
}

func New(cfg config.Config, env Env) (*Market, error) {
	granularity, err := cfg.Granularity()
	if err != nil {
		return nil, err
	}
	if cfg.RewardMultiplier == 0 {
		return nil, config.ErrInvalidMultiplier
	}
	return &Market{
		address:     cfg.MarketAddress,
		granularity: granularity,
		multiplier:  cfg.RewardMultiplier,
		maxTitle:    cfg.MaxTitleLength,
		maxOption:   cfg.MaxOptionLength,
		env:         env,
	}, nil
}

func (m *Market) Address() common.Address {
	return m.address
}

// CreatePrediction opens a prediction on 2 to 4 options and returns its ID.
func (m *Market) CreatePrediction(caller common.Address, title string, options []string) (uint64, error) {
	if len(options) < config.MinOptions || len(options) > config.MaxOptionSlots {
		return 0, fmt.Errorf("%w: %d", ErrInvalidOptionCount, len(options))
	}
	if title == "" || utf8.RuneCountInString(title) > m.maxTitle {
		return 0, ErrInvalidTitle
	}
	for i, option := range options {
		if option == "" || utf8.RuneCountInString(option) > m.maxOption {
			return 0, fmt.Errorf("%w: option %d", ErrInvalidOption, i)
		}
	}

	totals := make([]fhe.Handle, len(options))
	for i := range totals {
		zero, err := m.env.Executor.TrivialEncrypt(0, fhe.EUint64)
		if err != nil {
			return 0, err
		}
		if err := m.env.ACL.Allow(zero, m.address); err != nil {
			return 0, err
		}
		totals[i] = zero
	}

	id, err := m.env.State.NextPredictionID()
	if err != nil {
		return 0, err
	}
	p := &state.Prediction{
		ID:        id,
		Creator:   caller,
		Title:     title,
		Options:   append([]string(nil), options...),
		Totals:    totals,
		CreatedAt: m.env.Timestamp,
	}
	if err := m.env.State.PutPrediction(p); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Market) PredictionCount() (uint64, error) {
	return m.env.State.PredictionCount()
}

func (m *Market) GetPrediction(id uint64) (*Info, error) {
	p, err := m.env.State.GetPrediction(id)
	if err != nil {
		return nil, err
	}
	return &Info{
		Creator:     p.Creator,
		Title:       p.Title,
		OptionCount: uint8(len(p.Options)),
		Ended:       p.Ended,
		ResultIndex: p.ResultIndex,
	}, nil
}

// GetPredictionOptions returns the option labels in a fixed-width array.
// Slots at or past the option count are empty.
func (m *Market) GetPredictionOptions(id uint64) ([config.MaxOptionSlots]string, uint8, error) {
	var options [config.MaxOptionSlots]string
	p, err := m.env.State.GetPrediction(id)
	if err != nil {
		return options, 0, err
	}
	copy(options[:], p.Options)
	return options, uint8(len(p.Options)), nil
}

// GetEncryptedTotals returns the per-option total handles in a fixed-width
// array. Slots at or past the option count are zero handles.
func (m *Market) GetEncryptedTotals(id uint64) ([config.MaxOptionSlots]fhe.Handle, uint8, error) {
	var totals [config.MaxOptionSlots]fhe.Handle
	p, err := m.env.State.GetPrediction(id)
	if err != nil {
		return totals, 0, err
	}
	copy(totals[:], p.Totals)
	return totals, uint8(len(p.Options)), nil
}

// PlaceBet records an encrypted choice backed by a plaintext stake of value
// wei and folds the stake into the encrypted totals without learning which
// option it belongs to.
func (m *Market) PlaceBet(
	caller common.Address,
	id uint64,
	input *fhe.ExternalInput,
	external fhe.Handle,
	proof []byte,
	value *uint256.Int,
) error {
	p, err := m.env.State.GetPrediction(id)
	if err != nil {
		return err
	}
	if p.Ended {
		return ErrPredictionAlreadyEnded
	}
	_, err = m.env.State.GetBet(id, caller)
	switch {
	case err == nil:
		return ErrDuplicateBet
	case !errors.Is(err, state.ErrBetNotFound):
		return err
	}

	units, err := m.stakeUnits(value)
	if err != nil {
		return err
	}

	if input == nil || input.Type != fhe.EUint8 {
		return ErrProofVerificationFailed
	}
	if err := m.env.Verifier.Verify(input, external, proof, caller, m.address, config.MaxOptionSlots-1); err != nil {
		return ErrProofVerificationFailed
	}
	choice, err := m.env.Executor.Import(input)
	if err != nil {
		return ErrProofVerificationFailed
	}

	stake, err := m.env.Executor.TrivialEncrypt(units, fhe.EUint64)
	if err != nil {
		return err
	}
	if err := m.allow(choice, m.address, caller); err != nil {
		return err
	}
	if err := m.allow(stake, m.address, caller); err != nil {
		return err
	}

	if err := m.accumulate(p.Totals, choice, stake); err != nil {
		return err
	}
	for _, total := range p.Totals {
		if err := m.env.ACL.Allow(total, m.address); err != nil {
			return err
		}
	}

	if err := m.env.State.PutPrediction(p); err != nil {
		return err
	}
	return m.env.State.PutBet(id, caller, &state.Bet{
		Exists:   true,
		Choice:   choice,
		Stake:    stake,
		PlacedAt: m.env.Timestamp,
	})
}

// accumulate adds stake to totals[choice]. Every slot performs the same
// Eq, Select and Add regardless of the choice or the number of options;
// slots past len(totals) run against a scratch zero that is discarded.
func (m *Market) accumulate(totals []fhe.Handle, choice, stake fhe.Handle) error {
	zero, err := m.env.Executor.TrivialEncrypt(0, fhe.EUint64)
	if err != nil {
		return err
	}
	for s := 0; s < config.MaxOptionSlots; s++ {
		slot, err := m.env.Executor.TrivialEncrypt(uint64(s), fhe.EUint8)
		if err != nil {
			return err
		}
		eq, err := m.env.Executor.Eq(choice, slot)
		if err != nil {
			return err
		}
		contribution, err := m.env.Executor.Select(eq, stake, zero)
		if err != nil {
			return err
		}

		current := zero
		if s < len(totals) {
			current = totals[s]
		}
		sum, err := m.env.Executor.Add(current, contribution)
		if err != nil {
			return err
		}
		if s < len(totals) {
			totals[s] = sum
		}
	}
	return nil
}

// EndPrediction closes a prediction with a public result and releases its
// totals for public decryption.
func (m *Market) EndPrediction(caller common.Address, id uint64, resultIndex uint8) error {
	p, err := m.env.State.GetPrediction(id)
	if err != nil {
		return err
	}
	if caller != p.Creator {
		return ErrNotCreator
	}
	if p.Ended {
		return ErrPredictionAlreadyEnded
	}
	if int(resultIndex) >= len(p.Options) {
		return fmt.Errorf("%w: %d", ErrInvalidOptionIndex, resultIndex)
	}

	p.Ended = true
	p.ResultIndex = resultIndex
	p.EndedAt = m.env.Timestamp
	for _, total := range p.Totals {
		if err := m.env.ACL.MakePublic(total); err != nil {
			return err
		}
	}
	return m.env.State.PutPrediction(p)
}

// ClaimReward mints stake*multiplier to the caller if their encrypted choice
// matches the result and zero otherwise. The bet is marked claimed either
// way; the outcome is never decrypted.
func (m *Market) ClaimReward(caller common.Address, id uint64) error {
	p, err := m.env.State.GetPrediction(id)
	if err != nil {
		return err
	}
	if !p.Ended {
		return ErrPredictionNotEnded
	}
	bet, err := m.env.State.GetBet(id, caller)
	if errors.Is(err, state.ErrBetNotFound) {
		return ErrBetNotFound
	}
	if err != nil {
		return err
	}
	if bet.Claimed {
		return ErrAlreadyClaimed
	}

	result, err := m.env.Executor.TrivialEncrypt(uint64(p.ResultIndex), fhe.EUint8)
	if err != nil {
		return err
	}
	won, err := m.env.Executor.Eq(bet.Choice, result)
	if err != nil {
		return err
	}
	scaled, err := m.env.Executor.ScalarMul(bet.Stake, m.multiplier)
	if err != nil {
		return err
	}
	zero, err := m.env.Executor.TrivialEncrypt(0, fhe.EUint64)
	if err != nil {
		return err
	}
	reward, err := m.env.Executor.Select(won, scaled, zero)
	if err != nil {
		return err
	}

	if err := m.allow(reward, m.address, m.env.Ledger.Address()); err != nil {
		return err
	}
	if err := m.env.Ledger.Mint(m.address, caller, reward); err != nil {
		return fmt.Errorf("failed to mint reward: %w", err)
	}

	bet.Claimed = true
	return m.env.State.PutBet(id, caller, bet)
}

// GetUserBet returns the bet account placed on id. A missing bet is
// reported with Exists unset.
func (m *Market) GetUserBet(id uint64, account common.Address) (*state.Bet, error) {
	if _, err := m.env.State.GetPrediction(id); err != nil {
		return nil, err
	}
	bet, err := m.env.State.GetBet(id, account)
	if errors.Is(err, state.ErrBetNotFound) {
		return &state.Bet{}, nil
	}
	return bet, err
}

// stakeUnits converts a wei amount into whole granularity units.
func (m *Market) stakeUnits(value *uint256.Int) (uint64, error) {
	if value == nil || value.IsZero() {
		return 0, fmt.Errorf("%w: zero stake", ErrInvalidStakeGranularity)
	}
	units, rem := new(uint256.Int).DivMod(value, m.granularity, new(uint256.Int))
	if !rem.IsZero() {
		return 0, fmt.Errorf("%w: %s is not a multiple of %s", ErrInvalidStakeGranularity, value, m.granularity)
	}
	if !units.IsUint64() {
		return 0, fmt.Errorf("%w: %s units", ErrStakeTooLarge, units)
	}
	// The reward of a winning stake must fit its encrypted width.
	if _, err := math.Mul(units.Uint64(), m.multiplier); err != nil {
		return 0, fmt.Errorf("%w: %s units", ErrStakeTooLarge, units)
	}
	return units.Uint64(), nil
}

func (m *Market) allow(h fhe.Handle, accounts ...common.Address) error {
	for _, account := range accounts {
		if err := m.env.ACL.Allow(h, account); err != nil {
			return err
		}
	}
	return nil
}
