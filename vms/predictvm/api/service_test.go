// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/rpc/v2"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/utils/json"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/oblivious/vms/predictvm/config"
	"github.com/luxfi/oblivious/vms/predictvm/fhe"
	"github.com/luxfi/oblivious/vms/predictvm/ledger"
	"github.com/luxfi/oblivious/vms/predictvm/market"
	"github.com/luxfi/oblivious/vms/predictvm/state"
)

var errIssue = errors.New("rejected")

type fakeBackend struct {
	issued    [][]byte
	receipts  map[ids.ID]*state.Receipt
	pending   map[ids.ID]bool
	blocks    map[ids.ID]*BlockInfo
	heights   map[uint64]ids.ID
	released  map[fhe.Handle]uint64
	health    interface{}
	predicted *market.Info
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		receipts: make(map[ids.ID]*state.Receipt),
		pending:  make(map[ids.ID]bool),
		blocks:   make(map[ids.ID]*BlockInfo),
		heights:  make(map[uint64]ids.ID),
		released: make(map[fhe.Handle]uint64),
	}
}

func (b *fakeBackend) IssueTx(_ context.Context, bytes []byte) (ids.ID, error) {
	if bytes[0] == 0xff {
		return ids.Empty, errIssue
	}
	b.issued = append(b.issued, bytes)
	return ids.ID{bytes[0]}, nil
}

func (*fakeBackend) PredictionCount() (uint64, error) {
	return 3, nil
}

func (b *fakeBackend) GetPrediction(id uint64) (*market.Info, error) {
	if b.predicted == nil || id != 1 {
		return nil, market.ErrPredictionNotFound
	}
	return b.predicted, nil
}

func (*fakeBackend) GetPredictionOptions(uint64) ([config.MaxOptionSlots]string, uint8, error) {
	return [config.MaxOptionSlots]string{"yes", "no"}, 2, nil
}

func (*fakeBackend) GetEncryptedTotals(uint64) ([config.MaxOptionSlots]fhe.Handle, uint8, error) {
	return [config.MaxOptionSlots]fhe.Handle{{0x01}, {0x02}}, 2, nil
}

func (*fakeBackend) GetUserBet(uint64, common.Address) (*state.Bet, error) {
	return &state.Bet{}, nil
}

func (*fakeBackend) LedgerInfo() (*ledger.Info, error) {
	return &ledger.Info{
		Metadata: ledger.Metadata{Name: "ObliviousCoin", Symbol: "OBC", Decimals: 6},
	}, nil
}

func (*fakeBackend) ConfidentialBalanceOf(common.Address) (fhe.Handle, error) {
	return fhe.Handle{0x0a}, nil
}

func (b *fakeBackend) PublicDecrypt(handles []fhe.Handle) (map[fhe.Handle]uint64, error) {
	values := make(map[fhe.Handle]uint64, len(handles))
	for _, h := range handles {
		v, ok := b.released[h]
		if !ok {
			return nil, fhe.ErrNotPubliclyDecryptable
		}
		values[h] = v
	}
	return values, nil
}

func (*fakeBackend) UserDecrypt(*fhe.UserDecryptRequest) ([]fhe.SealedValue, error) {
	return nil, fhe.ErrAccessDenied
}

func (b *fakeBackend) GetReceipt(txID ids.ID) (*state.Receipt, error) {
	r, ok := b.receipts[txID]
	if !ok {
		return nil, state.ErrTxNotFound
	}
	return r, nil
}

func (b *fakeBackend) IsPending(txID ids.ID) bool {
	return b.pending[txID]
}

func (b *fakeBackend) GetBlockInfo(_ context.Context, blkID ids.ID) (*BlockInfo, error) {
	info, ok := b.blocks[blkID]
	if !ok {
		return nil, state.ErrBlockNotFound
	}
	return info, nil
}

func (b *fakeBackend) GetBlockIDAtHeight(_ context.Context, height uint64) (ids.ID, error) {
	blkID, ok := b.heights[height]
	if !ok {
		return ids.Empty, state.ErrBlockNotFound
	}
	return blkID, nil
}

func (*fakeBackend) LastAccepted(context.Context) (ids.ID, error) {
	return ids.ID{0x07}, nil
}

func (b *fakeBackend) HealthCheck(context.Context) (interface{}, error) {
	return b.health, nil
}

func newRequest() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", nil)
}

func TestIssueTx(t *testing.T) {
	require := require.New(t)
	b := newFakeBackend()
	s := NewService(log.NewNoOpLogger(), b)

	reply := &IssueTxReply{}
	require.NoError(s.IssueTx(newRequest(), &IssueTxArgs{Tx: []byte{0x01, 0x02}}, reply))
	require.Equal(ids.ID{0x01}, reply.TxID)
	require.Len(b.issued, 1)

	err := s.IssueTx(newRequest(), &IssueTxArgs{}, &IssueTxReply{})
	require.ErrorIs(err, ErrInvalidRequest)

	err = s.IssueTx(newRequest(), &IssueTxArgs{Tx: []byte{0xff}}, &IssueTxReply{})
	require.ErrorIs(err, errIssue)
}

func TestGetTxStatus(t *testing.T) {
	b := newFakeBackend()
	accepted := ids.GenerateTestID()
	failed := ids.GenerateTestID()
	pending := ids.GenerateTestID()
	b.receipts[accepted] = &state.Receipt{
		TxID:         accepted,
		Status:       state.TxAccepted,
		Height:       4,
		PredictionID: 2,
	}
	b.receipts[failed] = &state.Receipt{
		TxID:   failed,
		Status: state.TxFailed,
		Height: 5,
		Error:  "bet already placed",
	}
	b.pending[pending] = true
	s := NewService(log.NewNoOpLogger(), b)

	tests := []struct {
		name string
		txID ids.ID
		want GetTxStatusReply
	}{
		{
			name: "accepted",
			txID: accepted,
			want: GetTxStatusReply{Status: "accepted", Height: 4, PredictionID: 2},
		},
		{
			name: "failed",
			txID: failed,
			want: GetTxStatusReply{Status: "failed", Height: 5, Error: "bet already placed"},
		},
		{
			name: "pending",
			txID: pending,
			want: GetTxStatusReply{Status: "processing"},
		},
		{
			name: "unknown",
			txID: ids.GenerateTestID(),
			want: GetTxStatusReply{Status: "unknown"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := &GetTxStatusReply{}
			require.NoError(t, s.GetTxStatus(newRequest(), &GetTxStatusArgs{TxID: tt.txID}, reply))
			require.Equal(t, tt.want, *reply)
		})
	}
}

func TestPredictionReads(t *testing.T) {
	require := require.New(t)
	b := newFakeBackend()
	b.predicted = &market.Info{Title: "rain?", OptionCount: 2}
	s := NewService(log.NewNoOpLogger(), b)

	count := &PredictionCountReply{}
	require.NoError(s.PredictionCount(newRequest(), &struct{}{}, count))
	require.Equal(json.Uint64(3), count.Count)

	info := &GetPredictionReply{}
	require.NoError(s.GetPrediction(newRequest(), &PredictionArgs{PredictionID: 1}, info))
	require.Equal("rain?", info.Title)

	err := s.GetPrediction(newRequest(), &PredictionArgs{PredictionID: 9}, &GetPredictionReply{})
	require.ErrorIs(err, market.ErrPredictionNotFound)

	options := &GetPredictionOptionsReply{}
	require.NoError(s.GetPredictionOptions(newRequest(), &PredictionArgs{PredictionID: 1}, options))
	require.Equal(uint8(2), options.OptionCount)
	require.Equal("no", options.Options[1])
	require.Empty(options.Options[2])

	totals := &GetEncryptedTotalsReply{}
	require.NoError(s.GetEncryptedTotals(newRequest(), &PredictionArgs{PredictionID: 1}, totals))
	require.Equal(fhe.Handle{0x02}, totals.Totals[1])

	bet := &GetUserBetReply{}
	require.NoError(s.GetUserBet(newRequest(), &GetUserBetArgs{PredictionID: 1}, bet))
	require.False(bet.Exists)

	ledgerInfo := &LedgerInfoReply{}
	require.NoError(s.LedgerInfo(newRequest(), &struct{}{}, ledgerInfo))
	require.Equal("OBC", ledgerInfo.Symbol)

	balance := &ConfidentialBalanceReply{}
	require.NoError(s.ConfidentialBalanceOf(newRequest(), &AccountArgs{}, balance))
	require.Equal(fhe.Handle{0x0a}, balance.Balance)
}

func TestPublicDecryptKeepsRequestOrder(t *testing.T) {
	require := require.New(t)
	b := newFakeBackend()
	first, second := fhe.Handle{0x01}, fhe.Handle{0x02}
	b.released[first] = 20000
	b.released[second] = 0
	s := NewService(log.NewNoOpLogger(), b)

	reply := &PublicDecryptReply{}
	require.NoError(s.PublicDecrypt(newRequest(), &PublicDecryptArgs{Handles: []fhe.Handle{second, first}}, reply))
	require.Equal([]DecryptedValue{
		{Handle: second, Value: 0},
		{Handle: first, Value: 20000},
	}, reply.Values)

	err := s.PublicDecrypt(newRequest(), &PublicDecryptArgs{Handles: []fhe.Handle{{0x03}}}, &PublicDecryptReply{})
	require.ErrorIs(err, fhe.ErrNotPubliclyDecryptable)

	err = s.UserDecrypt(newRequest(), &fhe.UserDecryptRequest{}, &UserDecryptReply{})
	require.ErrorIs(err, fhe.ErrAccessDenied)
}

func TestGetBlock(t *testing.T) {
	require := require.New(t)
	b := newFakeBackend()
	blkID := ids.GenerateTestID()
	b.blocks[blkID] = &BlockInfo{ID: blkID, Height: 3, Status: "accepted"}
	b.heights[3] = blkID
	s := NewService(log.NewNoOpLogger(), b)

	byID := &GetBlockReply{}
	require.NoError(s.GetBlock(newRequest(), &GetBlockArgs{BlockID: blkID}, byID))
	require.Equal(uint64(3), byID.Height)

	height := json.Uint64(3)
	byHeight := &GetBlockReply{}
	require.NoError(s.GetBlock(newRequest(), &GetBlockArgs{Height: &height}, byHeight))
	require.Equal(blkID, byHeight.ID)

	missing := json.Uint64(4)
	err := s.GetBlock(newRequest(), &GetBlockArgs{Height: &missing}, &GetBlockReply{})
	require.ErrorIs(err, state.ErrBlockNotFound)

	last := &LastAcceptedReply{}
	require.NoError(s.LastAccepted(newRequest(), &struct{}{}, last))
	require.Equal(ids.ID{0x07}, last.BlockID)
}

func TestHealth(t *testing.T) {
	require := require.New(t)
	b := newFakeBackend()
	s := NewService(log.NewNoOpLogger(), b)

	b.health = &Health{Healthy: true, Height: 2, Backend: "clear"}
	reply := &Health{}
	require.NoError(s.Health(newRequest(), &struct{}{}, reply))
	require.True(reply.Healthy)
	require.Equal("clear", reply.Backend)

	b.health = "ok"
	err := s.Health(newRequest(), &struct{}{}, &Health{})
	require.ErrorIs(err, ErrUnexpectedState)
}

func TestClient(t *testing.T) {
	require := require.New(t)
	b := newFakeBackend()
	b.predicted = &market.Info{Title: "rain?", OptionCount: 2}
	first := fhe.Handle{0x01}
	b.released[first] = 42

	server := rpc.NewServer()
	server.RegisterCodec(json.NewCodec(), "application/json")
	server.RegisterCodec(json.NewCodec(), "application/json;charset=UTF-8")
	require.NoError(server.RegisterService(NewService(log.NewNoOpLogger(), b), "predict"))
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	ctx := context.Background()
	client := NewClient(httpServer.URL)

	txID, err := client.IssueTx(ctx, []byte{0x05})
	require.NoError(err)
	require.Equal(ids.ID{0x05}, txID)

	info, err := client.GetPrediction(ctx, 1)
	require.NoError(err)
	require.Equal("rain?", info.Title)

	values, err := client.PublicDecrypt(ctx, []fhe.Handle{first})
	require.NoError(err)
	require.Equal(map[fhe.Handle]uint64{first: 42}, values)

	count, err := client.PredictionCount(ctx)
	require.NoError(err)
	require.Equal(uint64(3), count)
}
