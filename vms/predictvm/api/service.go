// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api provides the JSON-RPC service of the prediction VM.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/utils/json"

	"github.com/luxfi/oblivious/vms/predictvm/config"
	"github.com/luxfi/oblivious/vms/predictvm/fhe"
	"github.com/luxfi/oblivious/vms/predictvm/ledger"
	"github.com/luxfi/oblivious/vms/predictvm/market"
	"github.com/luxfi/oblivious/vms/predictvm/state"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnexpectedState = errors.New("unexpected health report")
)

// Backend is the chain state the service reads from and submits to.
type Backend interface {
	IssueTx(ctx context.Context, bytes []byte) (ids.ID, error)

	PredictionCount() (uint64, error)
	GetPrediction(id uint64) (*market.Info, error)
	GetPredictionOptions(id uint64) ([config.MaxOptionSlots]string, uint8, error)
	GetEncryptedTotals(id uint64) ([config.MaxOptionSlots]fhe.Handle, uint8, error)
	GetUserBet(id uint64, account common.Address) (*state.Bet, error)

	LedgerInfo() (*ledger.Info, error)
	ConfidentialBalanceOf(account common.Address) (fhe.Handle, error)

	PublicDecrypt(handles []fhe.Handle) (map[fhe.Handle]uint64, error)
	UserDecrypt(req *fhe.UserDecryptRequest) ([]fhe.SealedValue, error)

	GetReceipt(txID ids.ID) (*state.Receipt, error)
	IsPending(txID ids.ID) bool
	GetBlockInfo(ctx context.Context, blkID ids.ID) (*BlockInfo, error)
	GetBlockIDAtHeight(ctx context.Context, height uint64) (ids.ID, error)
	LastAccepted(ctx context.Context) (ids.ID, error)
	HealthCheck(ctx context.Context) (interface{}, error)
}

// Health is the report returned by the health check.
type Health struct {
	Healthy        bool   `json:"healthy"`
	State          string `json:"state"`
	LastAcceptedID ids.ID `json:"lastAcceptedID"`
	Height         uint64 `json:"height"`
	MempoolSize    int    `json:"mempoolSize"`
	Backend        string `json:"backend"`
}

// BlockInfo summarizes a block.
type BlockInfo struct {
	ID        ids.ID   `json:"id"`
	ParentID  ids.ID   `json:"parentID"`
	Height    uint64   `json:"height"`
	Timestamp int64    `json:"timestamp"`
	Status    string   `json:"status"`
	TxIDs     []ids.ID `json:"txIDs"`
}

// Service is the JSON-RPC API of the prediction VM.
type Service struct {
	log log.Logger
	vm  Backend
}

// NewService creates a new API service.
func NewService(logger log.Logger, vm Backend) *Service {
	return &Service{
		log: logger,
		vm:  vm,
	}
}

func (s *Service) called(method string) {
	s.log.Debug("API called",
		log.String("service", "predict"),
		log.String("method", method),
	)
}

// ============================================
// Transactions
// ============================================

type IssueTxArgs struct {
	Tx hexutil.Bytes `json:"tx"`
}

type IssueTxReply struct {
	TxID ids.ID `json:"txID"`
}

// IssueTx submits a signed transaction.
func (s *Service) IssueTx(r *http.Request, args *IssueTxArgs, reply *IssueTxReply) error {
	s.called("issueTx")

	if len(args.Tx) == 0 {
		return fmt.Errorf("%w: empty tx", ErrInvalidRequest)
	}
	txID, err := s.vm.IssueTx(r.Context(), args.Tx)
	if err != nil {
		return err
	}
	reply.TxID = txID
	return nil
}

type GetTxStatusArgs struct {
	TxID ids.ID `json:"txID"`
}

type GetTxStatusReply struct {
	Status       string      `json:"status"`
	Height       json.Uint64 `json:"height,omitempty"`
	Error        string      `json:"error,omitempty"`
	PredictionID json.Uint64 `json:"predictionID,omitempty"`
}

// GetTxStatus returns "accepted" or "failed" for executed transactions,
// "processing" while the transaction is pending and "unknown" otherwise.
func (s *Service) GetTxStatus(_ *http.Request, args *GetTxStatusArgs, reply *GetTxStatusReply) error {
	s.called("getTxStatus")

	receipt, err := s.vm.GetReceipt(args.TxID)
	switch {
	case err == nil:
		reply.Status = receipt.Status.String()
		reply.Height = json.Uint64(receipt.Height)
		reply.Error = receipt.Error
		reply.PredictionID = json.Uint64(receipt.PredictionID)
		return nil
	case !errors.Is(err, state.ErrTxNotFound):
		return err
	case s.vm.IsPending(args.TxID):
		reply.Status = "processing"
	default:
		reply.Status = state.TxUnknown.String()
	}
	return nil
}

// ============================================
// Predictions
// ============================================

type PredictionArgs struct {
	PredictionID json.Uint64 `json:"predictionID"`
}

type PredictionCountReply struct {
	Count json.Uint64 `json:"count"`
}

// PredictionCount returns the number of predictions created so far.
func (s *Service) PredictionCount(_ *http.Request, _ *struct{}, reply *PredictionCountReply) error {
	s.called("predictionCount")

	count, err := s.vm.PredictionCount()
	reply.Count = json.Uint64(count)
	return err
}

type GetPredictionReply struct {
	market.Info
}

// GetPrediction returns the public fields of a prediction.
func (s *Service) GetPrediction(_ *http.Request, args *PredictionArgs, reply *GetPredictionReply) error {
	s.called("getPrediction")

	info, err := s.vm.GetPrediction(uint64(args.PredictionID))
	if err != nil {
		return err
	}
	reply.Info = *info
	return nil
}

type GetPredictionOptionsReply struct {
	Options     [config.MaxOptionSlots]string `json:"options"`
	OptionCount uint8                         `json:"optionCount"`
}

// GetPredictionOptions returns the option labels of a prediction. Unused
// slots are empty.
func (s *Service) GetPredictionOptions(_ *http.Request, args *PredictionArgs, reply *GetPredictionOptionsReply) error {
	s.called("getPredictionOptions")

	options, count, err := s.vm.GetPredictionOptions(uint64(args.PredictionID))
	if err != nil {
		return err
	}
	reply.Options = options
	reply.OptionCount = count
	return nil
}

type GetEncryptedTotalsReply struct {
	Totals      [config.MaxOptionSlots]fhe.Handle `json:"totals"`
	OptionCount uint8                             `json:"optionCount"`
}

// GetEncryptedTotals returns the handles of the per-option stake totals.
func (s *Service) GetEncryptedTotals(_ *http.Request, args *PredictionArgs, reply *GetEncryptedTotalsReply) error {
	s.called("getEncryptedTotals")

	totals, count, err := s.vm.GetEncryptedTotals(uint64(args.PredictionID))
	if err != nil {
		return err
	}
	reply.Totals = totals
	reply.OptionCount = count
	return nil
}

type GetUserBetArgs struct {
	PredictionID json.Uint64    `json:"predictionID"`
	Account      common.Address `json:"account"`
}

type GetUserBetReply struct {
	state.Bet
}

// GetUserBet returns the bet an account placed. Exists is false when there
// is none.
func (s *Service) GetUserBet(_ *http.Request, args *GetUserBetArgs, reply *GetUserBetReply) error {
	s.called("getUserBet")

	bet, err := s.vm.GetUserBet(uint64(args.PredictionID), args.Account)
	if err != nil {
		return err
	}
	reply.Bet = *bet
	return nil
}

// ============================================
// Ledger
// ============================================

type LedgerInfoReply struct {
	ledger.Info
}

// LedgerInfo returns the metadata and controller of the reward ledger.
func (s *Service) LedgerInfo(_ *http.Request, _ *struct{}, reply *LedgerInfoReply) error {
	s.called("ledgerInfo")

	info, err := s.vm.LedgerInfo()
	if err != nil {
		return err
	}
	reply.Info = *info
	return nil
}

type AccountArgs struct {
	Account common.Address `json:"account"`
}

type ConfidentialBalanceReply struct {
	Balance fhe.Handle `json:"balance"`
}

// ConfidentialBalanceOf returns the handle of an account's encrypted
// balance.
func (s *Service) ConfidentialBalanceOf(_ *http.Request, args *AccountArgs, reply *ConfidentialBalanceReply) error {
	s.called("confidentialBalanceOf")

	balance, err := s.vm.ConfidentialBalanceOf(args.Account)
	reply.Balance = balance
	return err
}

// ============================================
// Decryption
// ============================================

type PublicDecryptArgs struct {
	Handles []fhe.Handle `json:"handles"`
}

type DecryptedValue struct {
	Handle fhe.Handle  `json:"handle"`
	Value  json.Uint64 `json:"value"`
}

type PublicDecryptReply struct {
	Values []DecryptedValue `json:"values"`
}

// PublicDecrypt reveals publicly decryptable handles, in request order.
func (s *Service) PublicDecrypt(_ *http.Request, args *PublicDecryptArgs, reply *PublicDecryptReply) error {
	s.called("publicDecrypt")

	values, err := s.vm.PublicDecrypt(args.Handles)
	if err != nil {
		return err
	}
	reply.Values = make([]DecryptedValue, len(args.Handles))
	for i, h := range args.Handles {
		reply.Values[i] = DecryptedValue{
			Handle: h,
			Value:  json.Uint64(values[h]),
		}
	}
	return nil
}

type UserDecryptReply struct {
	Values []fhe.SealedValue `json:"values"`
}

// UserDecrypt returns values sealed to the public key of a signed request.
func (s *Service) UserDecrypt(_ *http.Request, args *fhe.UserDecryptRequest, reply *UserDecryptReply) error {
	s.called("userDecrypt")

	sealed, err := s.vm.UserDecrypt(args)
	if err != nil {
		return err
	}
	reply.Values = sealed
	return nil
}

// ============================================
// Blocks and health
// ============================================

type GetBlockArgs struct {
	BlockID ids.ID       `json:"blockID"`
	Height  *json.Uint64 `json:"height,omitempty"`
}

type GetBlockReply struct {
	BlockInfo
}

// GetBlock returns a block by ID, or the accepted block at Height when set.
func (s *Service) GetBlock(r *http.Request, args *GetBlockArgs, reply *GetBlockReply) error {
	s.called("getBlock")

	ctx := r.Context()
	blkID := args.BlockID
	if args.Height != nil {
		var err error
		blkID, err = s.vm.GetBlockIDAtHeight(ctx, uint64(*args.Height))
		if err != nil {
			return err
		}
	}
	info, err := s.vm.GetBlockInfo(ctx, blkID)
	if err != nil {
		return err
	}
	reply.BlockInfo = *info
	return nil
}

type LastAcceptedReply struct {
	BlockID ids.ID `json:"blockID"`
}

// LastAccepted returns the ID of the last accepted block.
func (s *Service) LastAccepted(r *http.Request, _ *struct{}, reply *LastAcceptedReply) error {
	s.called("lastAccepted")

	blkID, err := s.vm.LastAccepted(r.Context())
	reply.BlockID = blkID
	return err
}

// Health returns the health report of the chain.
func (s *Service) Health(r *http.Request, _ *struct{}, reply *Health) error {
	s.called("health")

	report, err := s.vm.HealthCheck(r.Context())
	if err != nil {
		return err
	}
	health, ok := report.(*Health)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedState, report)
	}
	*reply = *health
	return nil
}
