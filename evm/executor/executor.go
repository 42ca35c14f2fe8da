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

// Package executor drives single calls and deployments against a backend and
// interprets their outcome under the DSTest success convention.
package executor

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/mattsse/foundry/evm/backend"
	"github.com/mattsse/foundry/evm/state"
)

// Executor runs transaction-shaped messages against a backend. Committing
// calls apply their changeset to the backend; plain calls run on a
// copy-on-write view and leave the backend untouched.
type Executor struct {
	// Backend is the account store all execution reads from and committing
	// calls write to.
	Backend *backend.Backend
	// Env is the template environment; every call derives its own env from
	// it.
	Env *Env
	// Inspector is the retained inspector stack. Per-call executions run on
	// a clone so a failing call cannot corrupt it.
	Inspector *InspectorStack

	interp   Interpreter
	gasLimit uint64
}

// New creates an executor over the given backend, environment template and
// interpreter. The cheatcode handler account is seeded with a non-empty code
// marker so code-presence checks against it pass.
func New(b *backend.Backend, env *Env, interp Interpreter, insp *InspectorStack, gasLimit uint64) *Executor {
	if insp == nil {
		insp = NewInspectorStack()
	}
	b.InsertAccount(CheatcodeAddress, state.AccountInfo{
		Balance: new(uint256.Int),
		Code:    []byte{0x00},
	})
	return &Executor{
		Backend:   b,
		Env:       env,
		Inspector: insp,
		interp:    interp,
		gasLimit:  gasLimit,
	}
}

// SetGasLimit changes the per-call gas limit for subsequent calls.
func (e *Executor) SetGasLimit(gasLimit uint64) *Executor {
	e.gasLimit = gasLimit
	return e
}

// GasLimit returns the per-call gas limit.
func (e *Executor) GasLimit() uint64 { return e.gasLimit }

// SetTracing toggles frame recording on the retained inspector stack.
func (e *Executor) SetTracing(enabled bool) *Executor {
	e.Inspector.SetTracing(enabled)
	return e
}

// buildCallEnv derives a per-call env from the template. Gas price and base
// fee are zeroed so test accounts never run out of balance paying for gas.
func (e *Executor) buildCallEnv(caller common.Address, to *common.Address, data []byte, value *uint256.Int) *Env {
	env := e.Env.Copy()
	env.Block.BaseFee = new(uint256.Int)
	env.Tx = TxEnv{
		Caller:   caller,
		To:       to,
		Data:     data,
		Value:    value,
		GasPrice: new(uint256.Int),
		GasLimit: e.gasLimit,
	}
	if env.Tx.Value == nil {
		env.Tx.Value = new(uint256.Int)
	}
	return env
}

// CallRawWithEnv executes env against the backend without committing the
// resulting changeset.
func (e *Executor) CallRawWithEnv(env *Env) (*RawCallResult, error) {
	insp := e.Inspector.Clone()
	out, err := e.interp.Run(env, e.Backend, insp)
	if err != nil {
		return nil, err
	}
	return convertOutcome(env, insp, out, e.Backend.HasSnapshotFailure()), nil
}

// CallRaw executes a call on a copy-on-write view of the backend, so neither
// the call's writes nor any state the interpreter touches reach the shared
// backend.
func (e *Executor) CallRaw(from common.Address, to common.Address, calldata []byte, value *uint256.Int) (*RawCallResult, error) {
	env := e.buildCallEnv(from, &to, calldata, value)
	insp := e.Inspector.Clone()
	cow := backend.NewCow(e.Backend)
	out, err := e.interp.Run(env, cow, insp)
	if err != nil {
		return nil, err
	}
	return convertOutcome(env, insp, out, cow.HasSnapshotFailure()), nil
}

// CallRawCommitting executes a call and commits its changeset to the
// backend.
func (e *Executor) CallRawCommitting(from common.Address, to common.Address, calldata []byte, value *uint256.Int) (*RawCallResult, error) {
	env := e.buildCallEnv(from, &to, calldata, value)
	res, err := e.CallRawWithEnv(env)
	if err != nil {
		return nil, err
	}
	e.commit(res)
	return res, nil
}

// CommitTxWithEnv executes env and commits its changeset to the backend.
func (e *Executor) CommitTxWithEnv(env *Env) (*RawCallResult, error) {
	res, err := e.CallRawWithEnv(env)
	if err != nil {
		return nil, err
	}
	e.commit(res)
	return res, nil
}

// commit folds a committing call's side effects back into the executor: the
// changeset into the backend, the cheatcode state and any block env changes
// into the retained template, so the next call observes them.
func (e *Executor) commit(res *RawCallResult) {
	e.Backend.Commit(res.Changeset)

	if res.Cheatcodes != nil {
		res.Cheatcodes.BroadcastableTxs = nil
	}
	e.Inspector.Cheatcodes = res.Cheatcodes

	if res.Env != nil {
		e.Env.Block = res.Env.Block.Copy()
		e.Env.ChainID = res.Env.ChainID
	}
}

// CallCommitting executes a committing call and decodes its outcome the same
// way Call does.
func (e *Executor) CallCommitting(from common.Address, to common.Address, calldata []byte, value *uint256.Int, rd RevertDecoder) (*CallResult, error) {
	res, err := e.CallRawCommitting(from, to, calldata, value)
	if err != nil {
		return nil, err
	}
	return convertCall(res, rd)
}

// Call executes a non-committing call and decodes its outcome: a skip signal
// becomes ErrSkipped, a revert becomes an ExecutionError with the decoded
// reason, and a success becomes a CallResult.
func (e *Executor) Call(from common.Address, to common.Address, calldata []byte, value *uint256.Int, rd RevertDecoder) (*CallResult, error) {
	res, err := e.CallRaw(from, to, calldata, value)
	if err != nil {
		return nil, err
	}
	return convertCall(res, rd)
}

// convertCall classifies a raw result for typed callers.
func convertCall(res *RawCallResult, rd RevertDecoder) (*CallResult, error) {
	if res.ExitReason != StatusSuccess {
		if bytes.Equal(res.Result, MagicSkipData) {
			return nil, ErrSkipped
		}
		return nil, executionError(res, decodeRevert(rd, res.Result, res.ExitReason))
	}
	return &CallResult{RawCallResult: *res}, nil
}

// Setup runs the conventional setUp() entry point of the contract under test
// as a committing call and records the test contract and caller on the
// backend. A zero from falls back to the default sender.
func (e *Executor) Setup(from, to common.Address, rd RevertDecoder) (*RawCallResult, error) {
	if from == (common.Address{}) {
		from = DefaultSender
	}
	e.Backend.SetTestContract(to).SetCaller(from)

	res, err := e.CallRawCommitting(from, to, setUpSelector, new(uint256.Int))
	if err != nil {
		return nil, err
	}
	log.Debug("Ran setUp", "contract", to, "reverted", res.Reverted, "gas", res.GasUsed)

	if !e.ensureSuccess(to, res.Reverted, res.Changeset, false) {
		return res, executionError(res, decodeRevert(rd, res.Result, res.ExitReason))
	}
	return res, nil
}

// Deploy deploys a contract from the given creation code, committing the
// deployment.
func (e *Executor) Deploy(from common.Address, code []byte, value *uint256.Int, rd RevertDecoder) (*DeployResult, error) {
	env := e.buildCallEnv(from, nil, code, value)
	return e.DeployWithEnv(env, rd)
}

// DeployWithEnv deploys a contract with a fully prepared env. The env's
// transaction target must be nil. The created account is marked persistent
// so fork swaps do not hide it.
func (e *Executor) DeployWithEnv(env *Env, rd RevertDecoder) (*DeployResult, error) {
	if env.Tx.To != nil {
		panic("deploy env must not have a transaction target")
	}

	res, err := e.CommitTxWithEnv(env)
	if err != nil {
		return nil, err
	}
	if res.ExitReason != StatusSuccess {
		return nil, executionError(res, decodeRevert(rd, res.Result, res.ExitReason))
	}
	if res.CreatedAddress == nil {
		return nil, ErrNoCreatedAddress
	}

	addr := *res.CreatedAddress
	e.Backend.AddPersistentAccount(addr)
	log.Debug("Deployed contract", "address", addr, "gas", res.GasUsed)

	return &DeployResult{
		Address:     addr,
		GasUsed:     res.GasUsed,
		GasRefunded: res.GasRefunded,
		Logs:        res.Logs,
		Traces:      res.Traces,
		Env:         res.Env,
	}, nil
}

// DeployCreate2Deployer ensures the deterministic create2 deployer proxy is
// present. The proxy is deployed from its well-known one-shot creator so it
// lands at its canonical address; the creator's balance is restored to its
// exact prior value afterwards.
func (e *Executor) DeployCreate2Deployer() error {
	info, err := e.Backend.Basic(Create2Deployer)
	if err != nil {
		return err
	}
	if info.HasCode() {
		return nil
	}

	creator, err := e.Backend.Basic(Create2DeployerCreator)
	if err != nil {
		return err
	}
	prevBalance := new(uint256.Int)
	if creator.Balance != nil {
		prevBalance.Set(creator.Balance)
	}

	if err := state.SetBalance(e.Backend, Create2DeployerCreator, new(uint256.Int).SetAllOne()); err != nil {
		return err
	}
	if _, err := e.Deploy(Create2DeployerCreator, Create2DeployerCode, new(uint256.Int), nil); err != nil {
		return err
	}
	if err := state.SetBalance(e.Backend, Create2DeployerCreator, prevBalance); err != nil {
		return err
	}

	deployed, err := e.Backend.Basic(Create2Deployer)
	if err != nil {
		return err
	}
	if !deployed.HasCode() {
		return &state.MissingAccountError{Address: Create2Deployer}
	}
	return nil
}

// IsRawCallSuccess evaluates a raw call result under the DSTest convention.
func (e *Executor) IsRawCallSuccess(address common.Address, res *RawCallResult, shouldFail bool) bool {
	if res.HasSnapshotFailure {
		return shouldFail
	}
	return e.ensureSuccess(address, res.Reverted, res.Changeset, shouldFail)
}

// IsSuccess evaluates a typed call result.
func (e *Executor) IsSuccess(address common.Address, res *CallResult, shouldFail bool) bool {
	return e.IsRawCallSuccess(address, &res.RawCallResult, shouldFail)
}

// ensureSuccess decides whether a call counts as passing. A non-reverting
// call may still have recorded an assert failure in the global failure flag,
// so the call's changeset is replayed onto a minimal reconstructed state and
// the test contract's failed() probe is consulted there. Expected failures
// invert the verdict.
func (e *Executor) ensureSuccess(address common.Address, reverted bool, changes state.Changeset, shouldFail bool) bool {
	if e.Backend.HasSnapshotFailure() {
		return shouldFail
	}

	success := !reverted
	if success {
		min := e.Backend.CloneEmpty()
		for _, addr := range []common.Address{address, backend.CheatcodeAddress} {
			if info, err := e.Backend.Basic(addr); err == nil {
				min.InsertAccount(addr, info)
			}
		}
		min.Commit(changes)

		probe := New(min, e.Env.Copy(), e.interp, e.Inspector.Clone(), e.gasLimit)
		res, err := probe.CallRaw(DefaultSender, address, failedSelector, new(uint256.Int))
		if err == nil && res.ExitReason == StatusSuccess {
			if failed, decodeErr := decodeBool(res.Result); decodeErr == nil && failed {
				success = false
			}
		}
	}
	return shouldFail != success
}

// decodeBool unpacks a single ABI-encoded bool return value.
func decodeBool(ret []byte) (bool, error) {
	boolType, err := abi.NewType("bool", "", nil)
	if err != nil {
		return false, err
	}
	args := abi.Arguments{{Type: boolType}}
	vals, err := args.Unpack(ret)
	if err != nil {
		return false, err
	}
	if len(vals) != 1 {
		return false, errors.New("failed() did not return a bool")
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, errors.New("failed() did not return a bool")
	}
	return b, nil
}

// GetBalance returns an account's balance.
func (e *Executor) GetBalance(addr common.Address) (*uint256.Int, error) {
	info, err := e.Backend.Basic(addr)
	if err != nil {
		return nil, err
	}
	if info.Balance == nil {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(info.Balance), nil
}

// SetBalance overrides an account's balance.
func (e *Executor) SetBalance(addr common.Address, amount *uint256.Int) error {
	return state.SetBalance(e.Backend, addr, amount)
}

// GetNonce returns an account's nonce.
func (e *Executor) GetNonce(addr common.Address) (uint64, error) {
	info, err := e.Backend.Basic(addr)
	if err != nil {
		return 0, err
	}
	return info.Nonce, nil
}

// SetNonce overrides an account's nonce.
func (e *Executor) SetNonce(addr common.Address, nonce uint64) error {
	return state.SetNonce(e.Backend, addr, nonce)
}

// SetCode overrides an account's code.
func (e *Executor) SetCode(addr common.Address, code []byte) error {
	return state.SetCode(e.Backend, addr, code)
}
