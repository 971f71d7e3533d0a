// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package predictvm

import (
	"github.com/luxfi/log"

	vmcore "github.com/luxfi/oblivious"
	"github.com/luxfi/oblivious/vms/predictvm/config"
)

var _ vmcore.Factory = (*Factory)(nil)

// Factory creates prediction VM instances.
type Factory struct {
	config.Config
}

// New creates a new prediction VM. Config bytes passed to Initialize
// override the factory configuration.
func (f *Factory) New(logger log.Logger) (vmcore.VM, error) {
	if f.Config.Backend == "" {
		f.Config = config.DefaultConfig()
	}

	if err := f.Config.Validate(); err != nil {
		return nil, err
	}

	return &VM{
		Config: f.Config,
		log:    logger,
	}, nil
}

// NewFactory creates a new factory with the given configuration.
func NewFactory(cfg config.Config) *Factory {
	return &Factory{Config: cfg}
}

// NewDefaultFactory creates a new factory with the default configuration.
func NewDefaultFactory() *Factory {
	return &Factory{Config: config.DefaultConfig()}
}
