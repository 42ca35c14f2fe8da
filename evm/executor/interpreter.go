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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mattsse/foundry/evm/state"
)

// ExitStatus classifies how an execution finished.
type ExitStatus uint8

const (
	// StatusSuccess means the call ran to completion.
	StatusSuccess ExitStatus = iota
	// StatusRevert means the call reverted; the output is the revert data.
	StatusRevert
	// StatusHalt means the call aborted without revert data, e.g. out of
	// gas or an invalid opcode.
	StatusHalt
)

func (s ExitStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRevert:
		return "revert"
	case StatusHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// Outcome is what one interpreter run produces: the exit status, the raw
// output (return data for calls, deployed code for creations), the created
// address for creations, gas accounting, emitted logs and the state
// changeset with absolute post-call values.
type Outcome struct {
	Status         ExitStatus
	Output         []byte
	CreatedAddress *common.Address
	GasUsed        uint64
	GasRefunded    uint64
	Logs           []*types.Log
	Changeset      state.Changeset
}

// Interpreter executes one transaction-shaped message against an account
// store. The bytecode loop itself is outside this package; the executor only
// relies on this contract: the interpreter reads and writes exclusively
// through db, reports inspector hooks on insp, and may mutate env's block
// fields when administrative calls ask it to.
type Interpreter interface {
	Run(env *Env, db state.Database, insp Inspector) (*Outcome, error)
}
