// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"context"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/rpc"
	"github.com/luxfi/utils/json"

	"github.com/luxfi/oblivious/vms/predictvm/fhe"
	"github.com/luxfi/oblivious/vms/predictvm/ledger"
	"github.com/luxfi/oblivious/vms/predictvm/market"
	"github.com/luxfi/oblivious/vms/predictvm/state"
)

// Client for interacting with the prediction VM API.
type Client struct {
	Requester rpc.EndpointRequester
}

// NewClient returns a client for the service served at uri, for example
// http://127.0.0.1:9650/ext/predict/rpc.
func NewClient(uri string) *Client {
	return &Client{Requester: rpc.NewEndpointRequester(uri)}
}

func (c *Client) IssueTx(ctx context.Context, tx []byte, options ...rpc.Option) (ids.ID, error) {
	res := &IssueTxReply{}
	err := c.Requester.SendRequest(ctx, "predict.issueTx", &IssueTxArgs{Tx: tx}, res, options...)
	return res.TxID, err
}

func (c *Client) GetTxStatus(ctx context.Context, txID ids.ID, options ...rpc.Option) (*GetTxStatusReply, error) {
	res := &GetTxStatusReply{}
	err := c.Requester.SendRequest(ctx, "predict.getTxStatus", &GetTxStatusArgs{TxID: txID}, res, options...)
	return res, err
}

func (c *Client) PredictionCount(ctx context.Context, options ...rpc.Option) (uint64, error) {
	res := &PredictionCountReply{}
	err := c.Requester.SendRequest(ctx, "predict.predictionCount", struct{}{}, res, options...)
	return uint64(res.Count), err
}

func (c *Client) GetPrediction(ctx context.Context, id uint64, options ...rpc.Option) (*market.Info, error) {
	res := &GetPredictionReply{}
	err := c.Requester.SendRequest(ctx, "predict.getPrediction", &PredictionArgs{
		PredictionID: json.Uint64(id),
	}, res, options...)
	return &res.Info, err
}

func (c *Client) GetPredictionOptions(ctx context.Context, id uint64, options ...rpc.Option) (*GetPredictionOptionsReply, error) {
	res := &GetPredictionOptionsReply{}
	err := c.Requester.SendRequest(ctx, "predict.getPredictionOptions", &PredictionArgs{
		PredictionID: json.Uint64(id),
	}, res, options...)
	return res, err
}

func (c *Client) GetEncryptedTotals(ctx context.Context, id uint64, options ...rpc.Option) (*GetEncryptedTotalsReply, error) {
	res := &GetEncryptedTotalsReply{}
	err := c.Requester.SendRequest(ctx, "predict.getEncryptedTotals", &PredictionArgs{
		PredictionID: json.Uint64(id),
	}, res, options...)
	return res, err
}

func (c *Client) GetUserBet(ctx context.Context, id uint64, account common.Address, options ...rpc.Option) (*state.Bet, error) {
	res := &GetUserBetReply{}
	err := c.Requester.SendRequest(ctx, "predict.getUserBet", &GetUserBetArgs{
		PredictionID: json.Uint64(id),
		Account:      account,
	}, res, options...)
	return &res.Bet, err
}

func (c *Client) LedgerInfo(ctx context.Context, options ...rpc.Option) (*ledger.Info, error) {
	res := &LedgerInfoReply{}
	err := c.Requester.SendRequest(ctx, "predict.ledgerInfo", struct{}{}, res, options...)
	return &res.Info, err
}

func (c *Client) ConfidentialBalanceOf(ctx context.Context, account common.Address, options ...rpc.Option) (fhe.Handle, error) {
	res := &ConfidentialBalanceReply{}
	err := c.Requester.SendRequest(ctx, "predict.confidentialBalanceOf", &AccountArgs{Account: account}, res, options...)
	return res.Balance, err
}

// PublicDecrypt returns the plaintexts of released handles.
func (c *Client) PublicDecrypt(ctx context.Context, handles []fhe.Handle, options ...rpc.Option) (map[fhe.Handle]uint64, error) {
	res := &PublicDecryptReply{}
	err := c.Requester.SendRequest(ctx, "predict.publicDecrypt", &PublicDecryptArgs{Handles: handles}, res, options...)
	if err != nil {
		return nil, err
	}
	values := make(map[fhe.Handle]uint64, len(res.Values))
	for _, v := range res.Values {
		values[v.Handle] = uint64(v.Value)
	}
	return values, nil
}

// UserDecrypt returns values sealed to the key named in req. Open them with
// fhe.OpenSealed.
func (c *Client) UserDecrypt(ctx context.Context, req *fhe.UserDecryptRequest, options ...rpc.Option) ([]fhe.SealedValue, error) {
	res := &UserDecryptReply{}
	err := c.Requester.SendRequest(ctx, "predict.userDecrypt", req, res, options...)
	return res.Values, err
}

func (c *Client) GetBlock(ctx context.Context, blkID ids.ID, options ...rpc.Option) (*BlockInfo, error) {
	res := &GetBlockReply{}
	err := c.Requester.SendRequest(ctx, "predict.getBlock", &GetBlockArgs{BlockID: blkID}, res, options...)
	return &res.BlockInfo, err
}

func (c *Client) GetBlockByHeight(ctx context.Context, height uint64, options ...rpc.Option) (*BlockInfo, error) {
	h := json.Uint64(height)
	res := &GetBlockReply{}
	err := c.Requester.SendRequest(ctx, "predict.getBlock", &GetBlockArgs{Height: &h}, res, options...)
	return &res.BlockInfo, err
}

func (c *Client) LastAccepted(ctx context.Context, options ...rpc.Option) (ids.ID, error) {
	res := &LastAcceptedReply{}
	err := c.Requester.SendRequest(ctx, "predict.lastAccepted", struct{}{}, res, options...)
	return res.BlockID, err
}

func (c *Client) Health(ctx context.Context, options ...rpc.Option) (*Health, error) {
	res := &Health{}
	err := c.Requester.SendRequest(ctx, "predict.health", struct{}{}, res, options...)
	return res, err
}
