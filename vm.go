// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vm defines the lifecycle contract shared by the chains in this
// repository.
package vm

import (
	"context"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

// VM defines the interface for a virtual machine
type VM interface {
	// Initialize initializes the VM with the given configuration
	Initialize(context.Context, *Config) error

	// Shutdown cleanly stops the VM
	Shutdown(context.Context) error

	// Version returns the VM version
	Version(context.Context) (string, error)

	// SetState transitions the VM to the specified state
	SetState(context.Context, State) error
}

// Config carries everything the host hands a VM at startup.
type Config struct {
	ChainID   ids.ID
	NetworkID uint32
	NodeID    ids.NodeID

	// DB is the chain's persistent store. The VM owns it until Shutdown.
	DB           database.Database
	GenesisBytes []byte
	ConfigBytes  []byte

	Log        log.Logger
	Registerer prometheus.Registerer

	// ToEngine receives notifications such as pending transactions. It may
	// be nil.
	ToEngine chan<- Message
}
