// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

var (
	allowPrefix  = []byte("allow:")
	publicPrefix = []byte("public:")

	present = []byte{1}
)

// ACL records which addresses may use or decrypt a handle and which handles
// have been released for public decryption. Entries are never removed.
type ACL struct {
	db database.Database
}

func NewACL(db database.Database) *ACL {
	return &ACL{db: db}
}

// Allow grants account access to h.
func (a *ACL) Allow(h Handle, account common.Address) error {
	if err := a.db.Put(prefixKey(allowPrefix, h[:], account[:]), present); err != nil {
		return fmt.Errorf("failed to allow %s on %s: %w", account, h, err)
	}
	return nil
}

// IsAllowed reports whether account has been granted access to h.
func (a *ACL) IsAllowed(h Handle, account common.Address) (bool, error) {
	return a.db.Has(prefixKey(allowPrefix, h[:], account[:]))
}

// MakePublic releases h for public decryption.
func (a *ACL) MakePublic(h Handle) error {
	if err := a.db.Put(prefixKey(publicPrefix, h[:]), present); err != nil {
		return fmt.Errorf("failed to mark %s public: %w", h, err)
	}
	return nil
}

// IsPublic reports whether h may be decrypted by anyone.
func (a *ACL) IsPublic(h Handle) (bool, error) {
	return a.db.Has(prefixKey(publicPrefix, h[:]))
}
