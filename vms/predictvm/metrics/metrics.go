// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics collects prometheus metrics for the prediction VM.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/oblivious/utils/wrappers"
)

const (
	kindLabel   = "kind"
	statusLabel = "status"

	statusAccepted = "accepted"
	statusFailed   = "failed"
)

// Metrics tracks block production, transaction outcomes and decryption
// requests.
type Metrics struct {
	APIInterceptor

	numTxs      *prometheus.CounterVec
	numBlocks   prometheus.Counter
	mempoolSize prometheus.Gauge
	numDecrypts *prometheus.CounterVec
}

func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		numTxs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txs_executed",
				Help: "number of transactions executed in accepted blocks",
			},
			[]string{kindLabel, statusLabel},
		),
		numBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blks_accepted",
			Help: "number of blocks accepted",
		}),
		mempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mempool_num_txs",
			Help: "number of transactions in the mempool",
		}),
		numDecrypts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decrypt_requests",
				Help: "number of gateway decryption requests",
			},
			[]string{kindLabel, statusLabel},
		),
	}

	interceptor, err := newAPIInterceptor(registerer)
	m.APIInterceptor = interceptor

	errs := wrappers.Errs{Err: err}
	errs.Add(
		registerer.Register(m.numTxs),
		registerer.Register(m.numBlocks),
		registerer.Register(m.mempoolSize),
		registerer.Register(m.numDecrypts),
	)
	return m, errs.Err
}

// MarkTx records the outcome of a transaction in an accepted block.
func (m *Metrics) MarkTx(kind string, failed bool) {
	m.numTxs.With(prometheus.Labels{
		kindLabel:   kind,
		statusLabel: status(failed),
	}).Inc()
}

func (m *Metrics) MarkBlockAccepted() {
	m.numBlocks.Inc()
}

func (m *Metrics) SetMempoolSize(n int) {
	m.mempoolSize.Set(float64(n))
}

// MarkDecrypt records a gateway request of the given kind.
func (m *Metrics) MarkDecrypt(kind string, err error) {
	m.numDecrypts.With(prometheus.Labels{
		kindLabel:   kind,
		statusLabel: status(err != nil),
	}).Inc()
}

func status(failed bool) string {
	if failed {
		return statusFailed
	}
	return statusAccepted
}
