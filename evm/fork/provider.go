// Copyright 2023 The foundry Authors
// This file is part of the foundry library.
//
// The foundry library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The foundry library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the foundry library. If not, see <http://www.gnu.org/licenses/>.

// Package fork provides a read-through view of a remote chain's state as of
// a pinned block, used as the baseline for local simulated execution.
package fork

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Trace is a single frame of a parity-style transaction trace as returned by
// trace_transaction and trace_block. The action and result payloads are kept
// raw since the fork only caches and relays them.
type Trace struct {
	Action              json.RawMessage `json:"action"`
	Result              json.RawMessage `json:"result,omitempty"`
	Error               string          `json:"error,omitempty"`
	Type                string          `json:"type"`
	Subtraces           int             `json:"subtraces"`
	TraceAddress        []int           `json:"traceAddress"`
	BlockNumber         uint64          `json:"blockNumber"`
	BlockHash           common.Hash     `json:"blockHash"`
	TransactionHash     *common.Hash    `json:"transactionHash,omitempty"`
	TransactionPosition *uint64         `json:"transactionPosition,omitempty"`
}

// Provider is the remote chain data source consumed by a fork. Every method
// either returns a value or an explicit provider error; absence of data (an
// unmined block, an unknown transaction) is reported as ethereum.NotFound,
// which is distinct from a failure.
//
// Implementations must not retry internally; retry policy belongs to the
// caller.
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, addr common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, addr common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, addr common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, addr common.Address, slot common.Hash, blockNumber *big.Int) ([]byte, error)
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TraceTransaction(ctx context.Context, hash common.Hash) ([]Trace, error)
	TraceBlock(ctx context.Context, number uint64) ([]Trace, error)

	// Close releases the underlying connection.
	Close()
}

// rpcProvider implements Provider on top of a JSON-RPC endpoint. The typed
// eth namespace calls go through ethclient; the trace namespace goes through
// the raw rpc client.
type rpcProvider struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// Dial connects to the given JSON-RPC endpoint.
func Dial(url string) (Provider, error) {
	client, err := rpc.Dial(url)
	if err != nil {
		return nil, err
	}
	return &rpcProvider{eth: ethclient.NewClient(client), rpc: client}, nil
}

func (p *rpcProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return p.eth.ChainID(ctx)
}

func (p *rpcProvider) BalanceAt(ctx context.Context, addr common.Address, blockNumber *big.Int) (*big.Int, error) {
	return p.eth.BalanceAt(ctx, addr, blockNumber)
}

func (p *rpcProvider) NonceAt(ctx context.Context, addr common.Address, blockNumber *big.Int) (uint64, error) {
	return p.eth.NonceAt(ctx, addr, blockNumber)
}

func (p *rpcProvider) CodeAt(ctx context.Context, addr common.Address, blockNumber *big.Int) ([]byte, error) {
	return p.eth.CodeAt(ctx, addr, blockNumber)
}

func (p *rpcProvider) StorageAt(ctx context.Context, addr common.Address, slot common.Hash, blockNumber *big.Int) ([]byte, error) {
	return p.eth.StorageAt(ctx, addr, slot, blockNumber)
}

func (p *rpcProvider) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	return p.eth.BlockByHash(ctx, hash)
}

func (p *rpcProvider) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return p.eth.BlockByNumber(ctx, number)
}

func (p *rpcProvider) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return p.eth.FilterLogs(ctx, query)
}

func (p *rpcProvider) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return p.eth.TransactionByHash(ctx, hash)
}

func (p *rpcProvider) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return p.eth.TransactionReceipt(ctx, hash)
}

func (p *rpcProvider) TraceTransaction(ctx context.Context, hash common.Hash) ([]Trace, error) {
	var traces []Trace
	if err := p.rpc.CallContext(ctx, &traces, "trace_transaction", hash); err != nil {
		return nil, err
	}
	return traces, nil
}

func (p *rpcProvider) TraceBlock(ctx context.Context, number uint64) ([]Trace, error) {
	var traces []Trace
	if err := p.rpc.CallContext(ctx, &traces, "trace_block", rpc.BlockNumber(number)); err != nil {
		return nil, err
	}
	return traces, nil
}

func (p *rpcProvider) Close() {
	p.eth.Close()
}
