// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package predictvm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/ids"

	"github.com/luxfi/oblivious/vms/predictvm/txs"
)

var (
	ErrDuplicateTx = errors.New("duplicate transaction")
	ErrMempoolFull = errors.New("mempool is full")
)

// mempool holds issued transactions in arrival order until a block
// includes or drops them.
type mempool struct {
	lock    sync.Mutex
	maxSize int
	order   []ids.ID
	txs     map[ids.ID]*txs.Tx
}

func newMempool(maxSize int) *mempool {
	return &mempool{
		maxSize: maxSize,
		txs:     make(map[ids.ID]*txs.Tx),
	}
}

func (m *mempool) Add(tx *txs.Tx) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	txID := tx.ID()
	if _, ok := m.txs[txID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTx, txID)
	}
	if len(m.txs) >= m.maxSize {
		return ErrMempoolFull
	}
	m.txs[txID] = tx
	m.order = append(m.order, txID)
	return nil
}

func (m *mempool) Has(txID ids.ID) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	_, ok := m.txs[txID]
	return ok
}

// Peek returns up to n transactions in arrival order without removing them.
func (m *mempool) Peek(n int) []*txs.Tx {
	m.lock.Lock()
	defer m.lock.Unlock()

	n = min(n, len(m.order))
	result := make([]*txs.Tx, 0, n)
	for _, txID := range m.order[:n] {
		result = append(result, m.txs[txID])
	}
	return result
}

func (m *mempool) Remove(txIDs ...ids.ID) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, txID := range txIDs {
		delete(m.txs, txID)
	}
	order := m.order[:0]
	for _, txID := range m.order {
		if _, ok := m.txs[txID]; ok {
			order = append(order, txID)
		}
	}
	m.order = order
}

func (m *mempool) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.txs)
}
