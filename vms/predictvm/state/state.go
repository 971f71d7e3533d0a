// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state manages persistent market state for the prediction VM.
package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/cache"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/oblivious/vms/predictvm/fhe"
)

var (
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrBetNotFound        = errors.New("bet not found")

	// Database prefixes
	prefixPrediction = []byte("prediction:")
	prefixBet        = []byte("bet:")
	keyCount         = []byte("predictionCount")
)

// Prediction is a market on 2-4 outcomes. Totals hold one encrypted running
// sum of stakes per option.
type Prediction struct {
	ID          uint64         `json:"id"`
	Creator     common.Address `json:"creator"`
	Title       string         `json:"title"`
	Options     []string       `json:"options"`
	Ended       bool           `json:"ended"`
	ResultIndex uint8          `json:"resultIndex"`
	Totals      []fhe.Handle   `json:"totals"`
	CreatedAt   uint64         `json:"createdAt"`
	EndedAt     uint64         `json:"endedAt,omitempty"`
}

// Bet is one account's position in a prediction.
type Bet struct {
	Exists   bool       `json:"exists"`
	Claimed  bool       `json:"claimed"`
	Choice   fhe.Handle `json:"choice"`
	Stake    fhe.Handle `json:"stake"`
	PlacedAt uint64     `json:"placedAt"`
}

// State reads and writes market records. It holds no locks: callers own a
// database view for the duration of a transaction.
type State struct {
	db          database.Database
	predictions *cache.LRU[uint64, *Prediction]
}

// New returns market state over db. predictions may be nil; when set, it
// must only be shared between views of the same committed state.
func New(db database.Database, predictions *cache.LRU[uint64, *Prediction]) *State {
	return &State{
		db:          db,
		predictions: predictions,
	}
}

// PredictionCount returns the number of predictions ever created.
func (s *State) PredictionCount() (uint64, error) {
	count, err := database.GetUInt64(s.db, keyCount)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	return count, err
}

// NextPredictionID reserves and returns the next prediction ID. IDs start
// at 1.
func (s *State) NextPredictionID() (uint64, error) {
	count, err := s.PredictionCount()
	if err != nil {
		return 0, fmt.Errorf("failed to load prediction count: %w", err)
	}
	next := count + 1
	if err := database.PutUInt64(s.db, keyCount, next); err != nil {
		return 0, fmt.Errorf("failed to store prediction count: %w", err)
	}
	return next, nil
}

// GetPrediction returns the prediction with the given ID.
func (s *State) GetPrediction(id uint64) (*Prediction, error) {
	if s.predictions != nil {
		if p, ok := s.predictions.Get(id); ok {
			return p.clone(), nil
		}
	}

	data, err := s.db.Get(predictionKey(id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrPredictionNotFound, id)
		}
		return nil, err
	}

	var p Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prediction %d: %w", id, err)
	}
	if s.predictions != nil {
		s.predictions.Put(id, p.clone())
	}
	return &p, nil
}

// PutPrediction stores p.
func (s *State) PutPrediction(p *Prediction) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction %d: %w", p.ID, err)
	}
	if err := s.db.Put(predictionKey(p.ID), data); err != nil {
		return err
	}
	if s.predictions != nil {
		s.predictions.Evict(p.ID)
	}
	return nil
}

// GetBet returns the bet account placed on prediction id.
func (s *State) GetBet(id uint64, account common.Address) (*Bet, error) {
	data, err := s.db.Get(betKey(id, account))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrBetNotFound
		}
		return nil, err
	}

	var bet Bet
	if err := json.Unmarshal(data, &bet); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bet: %w", err)
	}
	return &bet, nil
}

// PutBet stores the bet account placed on prediction id.
func (s *State) PutBet(id uint64, account common.Address, bet *Bet) error {
	data, err := json.Marshal(bet)
	if err != nil {
		return fmt.Errorf("failed to marshal bet: %w", err)
	}
	return s.db.Put(betKey(id, account), data)
}

func (p *Prediction) clone() *Prediction {
	c := *p
	c.Options = append([]string(nil), p.Options...)
	c.Totals = append([]fhe.Handle(nil), p.Totals...)
	return &c
}

func predictionKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(prefixed(prefixPrediction, nil), id)
}

func betKey(id uint64, account common.Address) []byte {
	key := make([]byte, 0, len(prefixBet)+8+common.AddressLength)
	key = append(key, prefixBet...)
	key = binary.BigEndian.AppendUint64(key, id)
	return append(key, account[:]...)
}
