// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	require.NoError(cfg.Validate())

	g, err := cfg.Granularity()
	require.NoError(err)
	require.Equal(uint64(1_000_000_000_000), g.Uint64())
	require.Equal(uint64(10_000), cfg.RewardMultiplier)
	require.Equal(uint8(6), cfg.TokenDecimals)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "default",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "paillier" },
			wantErr: ErrInvalidBackend,
		},
		{
			name:    "zero granularity",
			mutate:  func(c *Config) { c.StakeGranularityWei = "0" },
			wantErr: ErrInvalidGranularity,
		},
		{
			name:    "malformed granularity",
			mutate:  func(c *Config) { c.StakeGranularityWei = "1e12" },
			wantErr: ErrInvalidGranularity,
		},
		{
			name:    "zero multiplier",
			mutate:  func(c *Config) { c.RewardMultiplier = 0 },
			wantErr: ErrInvalidMultiplier,
		},
		{
			name:    "shared contract address",
			mutate:  func(c *Config) { c.LedgerAddress = c.MarketAddress },
			wantErr: ErrInvalidAddresses,
		},
		{
			name:    "missing market address",
			mutate:  func(c *Config) { c.MarketAddress = common.Address{} },
			wantErr: ErrInvalidAddresses,
		},
		{
			name:    "no decrypt window",
			mutate:  func(c *Config) { c.MaxUserDecryptDays = 0 },
			wantErr: ErrInvalidDecryptDays,
		},
		{
			name:    "mempool smaller than block",
			mutate:  func(c *Config) { c.MaxMempoolSize = c.MaxTxsPerBlock - 1 },
			wantErr: ErrInvalidBlockLimits,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestParseConfig(t *testing.T) {
	require := require.New(t)

	cfg, err := ParseConfig(nil)
	require.NoError(err)
	require.Equal(DefaultConfig(), cfg)

	cfg, err = ParseConfig([]byte(`{"backend":"tfhe","rewardMultiplier":5}`))
	require.NoError(err)
	require.Equal(BackendTFHE, cfg.Backend)
	require.Equal(uint64(5), cfg.RewardMultiplier)
	require.Equal("ObliviousCoin", cfg.TokenName)

	_, err = ParseConfig([]byte(`{`))
	require.Error(err)
}
