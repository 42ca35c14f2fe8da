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

package executor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// BlockEnv is the block context of an execution: what block-level opcodes
// observe.
type BlockEnv struct {
	Number   uint64
	Time     uint64
	BaseFee  *uint256.Int
	GasLimit uint64
	Coinbase common.Address
}

// Copy returns a deep copy of the block env.
func (b *BlockEnv) Copy() BlockEnv {
	cpy := *b
	if b.BaseFee != nil {
		cpy.BaseFee = new(uint256.Int).Set(b.BaseFee)
	}
	return cpy
}

// TxEnv is the transaction context of an execution. A nil To requests a
// contract creation.
type TxEnv struct {
	Caller   common.Address
	To       *common.Address
	Data     []byte
	Value    *uint256.Int
	GasPrice *uint256.Int
	GasLimit uint64
}

// Copy returns a deep copy of the tx env.
func (t *TxEnv) Copy() TxEnv {
	cpy := *t
	if t.To != nil {
		to := *t.To
		cpy.To = &to
	}
	if t.Data != nil {
		cpy.Data = make([]byte, len(t.Data))
		copy(cpy.Data, t.Data)
	}
	if t.Value != nil {
		cpy.Value = new(uint256.Int).Set(t.Value)
	}
	if t.GasPrice != nil {
		cpy.GasPrice = new(uint256.Int).Set(t.GasPrice)
	}
	return cpy
}

// Env is the full execution environment: chain rules plus block and
// transaction context. The executor retains one as a template and rebuilds a
// per-call env from it for every call.
type Env struct {
	ChainConfig *params.ChainConfig
	ChainID     uint64
	Block       BlockEnv
	Tx          TxEnv
}

// DefaultEnv returns an environment with all protocol upgrades active, the
// usual starting point for local test execution.
func DefaultEnv() *Env {
	return &Env{
		ChainConfig: params.AllEthashProtocolChanges,
		ChainID:     params.AllEthashProtocolChanges.ChainID.Uint64(),
		Block: BlockEnv{
			Number:   1,
			Time:     1,
			BaseFee:  new(uint256.Int),
			GasLimit: 30_000_000,
		},
		Tx: TxEnv{
			Value:    new(uint256.Int),
			GasPrice: new(uint256.Int),
			GasLimit: 30_000_000,
		},
	}
}

// Copy returns a deep copy of the env.
func (e *Env) Copy() *Env {
	return &Env{
		ChainConfig: e.ChainConfig,
		ChainID:     e.ChainID,
		Block:       e.Block.Copy(),
		Tx:          e.Tx.Copy(),
	}
}

// Rules returns the protocol rules active for the env's block.
func (e *Env) Rules() params.Rules {
	number := new(big.Int).SetUint64(e.Block.Number)
	return e.ChainConfig.Rules(number, e.ChainConfig.TerminalTotalDifficulty != nil, e.Block.Time)
}

// CalcStipend computes the initial gas stipend of a transaction with the
// given calldata: the 21000 base cost plus the per-byte calldata cost, which
// Istanbul reduced from 68 to 16 for non-zero bytes. The stipend is reported
// on results and does not gate execution.
func CalcStipend(calldata []byte, rules params.Rules) uint64 {
	nonZeroCost := uint64(68)
	if rules.IsIstanbul {
		nonZeroCost = 16
	}
	stipend := uint64(21000)
	for _, b := range calldata {
		if b == 0 {
			stipend += 4
		} else {
			stipend += nonZeroCost
		}
	}
	return stipend
}
