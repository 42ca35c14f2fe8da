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

// RawCallResult is the untyped result of one executed call.
type RawCallResult struct {
	// ExitReason is the interpreter's exit status.
	ExitReason ExitStatus
	// Reverted is true if the call did not run to completion.
	Reverted bool
	// HasSnapshotFailure is true if a reverted snapshot discarded a recorded
	// global failure. Tracked separately from Reverted because assert
	// failures are stored in state, not signalled by revert.
	HasSnapshotFailure bool
	// Result is the raw return data.
	Result []byte
	// CreatedAddress is the deployed contract address for creations.
	CreatedAddress *common.Address

	GasUsed     uint64
	GasRefunded uint64
	// Stipend is the informational intrinsic gas of the calldata.
	Stipend uint64

	Logs   []*types.Log
	Labels map[common.Address]string
	Traces []CallTrace

	// Transactions queued by cheatcodes for later broadcast, if any.
	Transactions []BroadcastableTx

	// Changeset produced by the call. It has been applied to the backend
	// only for committing calls.
	Changeset state.Changeset

	// Env is the environment after the call; administrative hooks may have
	// altered its block fields.
	Env *Env

	// Cheatcodes is the cheatcode state after the call.
	Cheatcodes *CheatcodeState
}

// CallResult is the result of a successful (non-reverting, non-skipped)
// call.
type CallResult struct {
	RawCallResult

	// Skipped is true when the call signalled a deliberate skip. The
	// executor surfaces skips as ErrSkipped instead, so this is false on
	// every returned CallResult; it exists for callers that re-wrap results.
	Skipped bool
}

// DeployResult is the result of a successful deployment.
type DeployResult struct {
	// Address the contract was created at.
	Address common.Address

	GasUsed     uint64
	GasRefunded uint64

	Logs   []*types.Log
	Traces []CallTrace

	// Env after the deployment.
	Env *Env
}

// convertOutcome folds an interpreter outcome and the data aggregated by the
// inspector stack into a RawCallResult.
func convertOutcome(env *Env, insp *InspectorStack, out *Outcome, hasSnapshotFailure bool) *RawCallResult {
	data := insp.Collect()

	var transactions []BroadcastableTx
	if data.Cheatcodes != nil && len(data.Cheatcodes.BroadcastableTxs) > 0 {
		transactions = data.Cheatcodes.BroadcastableTxs
	}

	return &RawCallResult{
		ExitReason:         out.Status,
		Reverted:           out.Status != StatusSuccess,
		HasSnapshotFailure: hasSnapshotFailure,
		Result:             out.Output,
		CreatedAddress:     out.CreatedAddress,
		GasUsed:            out.GasUsed,
		GasRefunded:        out.GasRefunded,
		Stipend:            CalcStipend(env.Tx.Data, env.Rules()),
		Logs:               out.Logs,
		Labels:             data.Labels,
		Traces:             data.Traces,
		Transactions:       transactions,
		Changeset:          out.Changeset,
		Env:                env,
		Cheatcodes:         data.Cheatcodes,
	}
}
