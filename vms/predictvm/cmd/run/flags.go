// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"errors"
	"fmt"
	"os"

	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/ids"
	"github.com/spf13/pflag"
)

const (
	HTTPHostKey       = "http-host"
	HTTPPortKey       = "http-port"
	DataDirKey        = "data-dir"
	GenesisFileKey    = "genesis-file"
	ConfigFileKey     = "config-file"
	ChainIDKey        = "chain-id"
	AllowedOriginsKey = "http-allowed-origins"

	defaultChainAlias = "predictvm"
)

var errMissingGenesis = errors.New("missing genesis file")

func AddFlags(flags *pflag.FlagSet) {
	flags.String(HTTPHostKey, "127.0.0.1", "Address of the HTTP server")
	flags.Uint16(HTTPPortKey, 9650, "Port of the HTTP server")
	flags.String(DataDirKey, "", "Directory of the chain database. Empty keeps the chain in memory")
	flags.String(GenesisFileKey, "", "Genesis JSON file (required)")
	flags.String(ConfigFileKey, "", "Chain configuration JSON file")
	flags.String(ChainIDKey, "", "Chain ID transactions must be signed for. Defaults to a fixed local ID")
	flags.StringSlice(AllowedOriginsKey, []string{"*"}, "Origins allowed to make cross-origin API calls")
}

type Config struct {
	Address        string
	DataDir        string
	GenesisBytes   []byte
	ConfigBytes    []byte
	ChainID        ids.ID
	AllowedOrigins []string
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	host, err := flags.GetString(HTTPHostKey)
	if err != nil {
		return nil, err
	}

	port, err := flags.GetUint16(HTTPPortKey)
	if err != nil {
		return nil, err
	}

	dataDir, err := flags.GetString(DataDirKey)
	if err != nil {
		return nil, err
	}

	genesisFile, err := flags.GetString(GenesisFileKey)
	if err != nil {
		return nil, err
	}
	if genesisFile == "" {
		return nil, errMissingGenesis
	}
	genesisBytes, err := os.ReadFile(genesisFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis: %w", err)
	}

	configFile, err := flags.GetString(ConfigFileKey)
	if err != nil {
		return nil, err
	}
	var configBytes []byte
	if configFile != "" {
		configBytes, err = os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	chainIDStr, err := flags.GetString(ChainIDKey)
	if err != nil {
		return nil, err
	}
	chainID := ids.ID(crypto.Keccak256Hash([]byte(defaultChainAlias)))
	if chainIDStr != "" {
		chainID, err = ids.FromString(chainIDStr)
		if err != nil {
			return nil, err
		}
	}

	allowedOrigins, err := flags.GetStringSlice(AllowedOriginsKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		Address:        fmt.Sprintf("%s:%d", host, port),
		DataDir:        dataDir,
		GenesisBytes:   genesisBytes,
		ConfigBytes:    configBytes,
		ChainID:        chainID,
		AllowedOrigins: allowedOrigins,
	}, nil
}
