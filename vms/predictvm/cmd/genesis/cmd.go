// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package genesis

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/luxfi/oblivious/vms/predictvm"
)

const (
	DeployerKey  = "deployer"
	AttestorsKey = "attestors"
	TimestampKey = "timestamp"
	OutputKey    = "output"
)

var errInvalidAddress = errors.New("invalid address")

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "genesis",
		Short: "Writes a genesis file for a new prediction chain",
		RunE:  genesisFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func AddFlags(flags *pflag.FlagSet) {
	flags.String(DeployerKey, "", "Address that deploys the ledger (required)")
	flags.StringSlice(AttestorsKey, nil, "Addresses trusted to attest encrypted inputs (required)")
	flags.Int64(TimestampKey, 0, "Genesis timestamp in unix seconds. Defaults to now")
	flags.String(OutputKey, "", "File to write. Defaults to stdout")
}

func genesisFunc(c *cobra.Command, args []string) error {
	flags := c.Flags()
	if err := flags.Parse(args); err != nil {
		return err
	}

	deployer, err := flags.GetString(DeployerKey)
	if err != nil {
		return err
	}
	attestors, err := flags.GetStringSlice(AttestorsKey)
	if err != nil {
		return err
	}
	timestamp, err := flags.GetInt64(TimestampKey)
	if err != nil {
		return err
	}
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}
	output, err := flags.GetString(OutputKey)
	if err != nil {
		return err
	}

	g := &predictvm.Genesis{
		Timestamp: timestamp,
		Attestors: make([]common.Address, len(attestors)),
	}
	if g.Deployer, err = parseAddress(deployer); err != nil {
		return err
	}
	for i, attestor := range attestors {
		if g.Attestors[i], err = parseAddress(attestor); err != nil {
			return err
		}
	}

	bytes, err := g.Bytes()
	if err != nil {
		return err
	}
	// Round trip through the parser so the file is known to load.
	if _, err := predictvm.ParseGenesis(bytes); err != nil {
		return err
	}

	if output == "" {
		_, err := fmt.Fprintln(c.OutOrStdout(), string(bytes))
		return err
	}
	return os.WriteFile(output, bytes, 0o600)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", errInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
