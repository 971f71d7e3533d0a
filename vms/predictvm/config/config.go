// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration types for the prediction VM.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

const (
	BackendClear = "clear"
	BackendTFHE  = "tfhe"

	// MaxOptionSlots is the fixed width of option and total arrays.
	MaxOptionSlots = 4
	// MinOptions is the smallest number of outcomes a prediction may have.
	MinOptions = 2
)

var (
	ErrInvalidBackend     = errors.New("invalid ciphertext backend")
	ErrInvalidGranularity = errors.New("invalid stake granularity")
	ErrInvalidMultiplier  = errors.New("invalid reward multiplier")
	ErrInvalidAddresses   = errors.New("invalid contract addresses")
	ErrInvalidBlockLimits = errors.New("invalid block limits")
	ErrInvalidDecryptDays = errors.New("invalid user decryption window")
	ErrInvalidTitleLength = errors.New("invalid title length")
)

// Config contains configuration parameters for the prediction VM.
type Config struct {
	// Backend selects the ciphertext scheme: "clear" or "tfhe"
	Backend string `json:"backend"`

	// StakeGranularityWei is the smallest staking increment, in wei. Stakes
	// are recorded in multiples of it.
	StakeGranularityWei string `json:"stakeGranularityWei"`
	// RewardMultiplier scales a winning stake into minted reward units
	RewardMultiplier uint64 `json:"rewardMultiplier"`

	// Ledger metadata
	TokenName     string `json:"tokenName"`
	TokenSymbol   string `json:"tokenSymbol"`
	TokenDecimals uint8  `json:"tokenDecimals"`

	// Contract addresses used as ACL subjects
	MarketAddress common.Address `json:"marketAddress"`
	LedgerAddress common.Address `json:"ledgerAddress"`

	MaxTitleLength  int `json:"maxTitleLength"`
	MaxOptionLength int `json:"maxOptionLength"`

	// MaxUserDecryptDays bounds the validity window of a user decryption
	// authorization
	MaxUserDecryptDays uint64 `json:"maxUserDecryptDays"`

	// Block configuration
	BlockInterval  time.Duration `json:"blockInterval"`
	MaxTxsPerBlock int           `json:"maxTxsPerBlock"`
	MaxMempoolSize int           `json:"maxMempoolSize"`

	// Cache sizes
	CiphertextCacheSize int `json:"ciphertextCacheSize"`
	PredictionCacheSize int `json:"predictionCacheSize"`
}

// DefaultConfig returns the default configuration for the prediction VM.
func DefaultConfig() Config {
	return Config{
		Backend:             BackendClear,
		StakeGranularityWei: "1000000000000", // 0.000001 ETH
		RewardMultiplier:    10_000,
		TokenName:           "ObliviousCoin",
		TokenSymbol:         "OBC",
		TokenDecimals:       6,
		MarketAddress:       common.HexToAddress("0x0300000000000000000000000000000000000001"),
		LedgerAddress:       common.HexToAddress("0x0300000000000000000000000000000000000002"),
		MaxTitleLength:      256,
		MaxOptionLength:     64,
		MaxUserDecryptDays:  365,
		BlockInterval:       2 * time.Second,
		MaxTxsPerBlock:      256,
		MaxMempoolSize:      4096,
		CiphertextCacheSize: 4096,
		PredictionCacheSize: 1024,
	}
}

// Granularity returns the parsed stake granularity.
func (c *Config) Granularity() (*uint256.Int, error) {
	g, err := uint256.FromDecimal(c.StakeGranularityWei)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGranularity, err)
	}
	if g.IsZero() {
		return nil, ErrInvalidGranularity
	}
	return g, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendClear, BackendTFHE:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Backend)
	}

	if _, err := c.Granularity(); err != nil {
		return err
	}
	if c.RewardMultiplier == 0 {
		return ErrInvalidMultiplier
	}

	if c.MarketAddress == (common.Address{}) || c.LedgerAddress == (common.Address{}) {
		return ErrInvalidAddresses
	}
	if c.MarketAddress == c.LedgerAddress {
		return ErrInvalidAddresses
	}

	if c.MaxTitleLength <= 0 || c.MaxOptionLength <= 0 {
		return ErrInvalidTitleLength
	}
	if c.MaxUserDecryptDays == 0 {
		return ErrInvalidDecryptDays
	}
	if c.MaxTxsPerBlock <= 0 || c.MaxMempoolSize < c.MaxTxsPerBlock {
		return ErrInvalidBlockLimits
	}

	return nil
}

// ParseConfig parses configuration from JSON bytes. Unset fields keep their
// defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
