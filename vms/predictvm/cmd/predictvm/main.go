// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/oblivious/vms/predictvm/cmd/genesis"
	"github.com/luxfi/oblivious/vms/predictvm/cmd/run"
	"github.com/luxfi/oblivious/vms/predictvm/cmd/version"
)

func init() {
	cobra.EnablePrefixMatching = true
}

func main() {
	cmd := &cobra.Command{
		Use:   "predictvm",
		Short: "Runs and configures confidential prediction chains",
	}
	cmd.AddCommand(
		run.Command(),
		genesis.Command(),
		version.Command(),
	)
	ctx := context.Background()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "command failed %v\n", err)
		os.Exit(1)
	}
}
