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
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mattsse/foundry/evm/state"
)

// ErrSkipped marks a call that deliberately signalled "skip this test".
// Callers must treat it as neither success nor failure.
var ErrSkipped = errors.New("skipped")

// ErrNoCreatedAddress is returned when the interpreter reports a successful
// creation but no created address. That violates the interpreter contract
// and indicates a logic error in the execution engine, not a test failure.
var ErrNoCreatedAddress = errors.New("deployment succeeded but no address was returned, this is a bug in the execution engine")

// ExecutionError describes a call or deployment that did not complete with
// the expected outcome. It carries everything collected up to the failure so
// callers can report it without re-running the call.
type ExecutionError struct {
	Reverted    bool
	Reason      string
	GasUsed     uint64
	GasRefunded uint64
	Stipend     uint64
	Logs        []*types.Log
	Traces      []CallTrace
	Labels      map[common.Address]string
	Changeset   state.Changeset
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution reverted: %s (gas: %d)", e.Reason, e.GasUsed)
}

// executionError builds an ExecutionError from a raw result and a decoded
// reason.
func executionError(res *RawCallResult, reason string) *ExecutionError {
	return &ExecutionError{
		Reverted:    res.Reverted,
		Reason:      reason,
		GasUsed:     res.GasUsed,
		GasRefunded: res.GasRefunded,
		Stipend:     res.Stipend,
		Logs:        res.Logs,
		Traces:      res.Traces,
		Labels:      res.Labels,
		Changeset:   res.Changeset,
	}
}
