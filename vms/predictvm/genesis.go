// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package predictvm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
)

var (
	ErrNoDeployer  = errors.New("genesis has no deployer")
	ErrNoAttestors = errors.New("genesis has no input attestors")
)

// GenesisPrediction is a prediction opened at genesis.
type GenesisPrediction struct {
	Creator common.Address `json:"creator"`
	Title   string         `json:"title"`
	Options []string       `json:"options"`
}

// Genesis is the initial state of the chain.
type Genesis struct {
	// Timestamp of the genesis block, in unix seconds
	Timestamp int64 `json:"timestamp"`
	// Deployer creates the ledger and hands its mint authority to the market
	Deployer common.Address `json:"deployer"`
	// Attestors are the signers trusted to vouch for encrypted inputs
	Attestors   []common.Address    `json:"attestors"`
	Predictions []GenesisPrediction `json:"predictions,omitempty"`
}

// ParseGenesis decodes and checks genesis bytes.
func ParseGenesis(bytes []byte) (*Genesis, error) {
	var g Genesis
	if err := json.Unmarshal(bytes, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal genesis: %w", err)
	}
	if g.Deployer == (common.Address{}) {
		return nil, ErrNoDeployer
	}
	if len(g.Attestors) == 0 {
		return nil, ErrNoAttestors
	}
	return &g, nil
}

func (g *Genesis) Bytes() ([]byte, error) {
	return json.Marshal(g)
}
