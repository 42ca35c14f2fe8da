// Copyright 2024 The foundry Authors
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
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/mattsse/foundry/evm/backend"
	"github.com/mattsse/foundry/evm/state"
)

// haltingInspector vetoes every hook it implements.
type haltingInspector struct {
	NoopInspector
}

func (haltingInspector) Step(uint64, byte) Action { return ActionHalt }

func (haltingInspector) Call(*CallFrame) Action { return ActionHalt }

func (haltingInspector) Create(*CallFrame) Action { return ActionHalt }

// countingInspector records how often each hook fired.
type countingInspector struct {
	NoopInspector
	steps   int
	calls   int
	creates int
}

func (c *countingInspector) Step(uint64, byte) Action { c.steps++; return ActionContinue }

func (c *countingInspector) Call(*CallFrame) Action { c.calls++; return ActionContinue }

func (c *countingInspector) Create(*CallFrame) Action { c.creates++; return ActionContinue }

func TestInspectorStackHaltVerdictWins(t *testing.T) {
	later := &countingInspector{}
	s := NewInspectorStack(haltingInspector{}, later)
	frame := &CallFrame{Caller: DefaultSender, To: common.HexToAddress("0xaa")}

	require.Equal(t, ActionHalt, s.Call(frame))
	require.Equal(t, ActionHalt, s.Step(0, 0x60))
	require.Equal(t, ActionHalt, s.Create(frame))

	// The first non-continue verdict short-circuits the fan-out.
	require.Zero(t, later.calls)
	require.Zero(t, later.steps)
	require.Zero(t, later.creates)
}

func TestInspectorStackContinueConsultsAll(t *testing.T) {
	first := &countingInspector{}
	second := &countingInspector{}
	s := NewInspectorStack(first, second)
	frame := &CallFrame{Caller: DefaultSender, To: common.HexToAddress("0xaa")}

	require.Equal(t, ActionContinue, s.Call(frame))
	require.Equal(t, ActionContinue, s.Step(0, 0x60))

	for _, c := range []*countingInspector{first, second} {
		require.Equal(t, 1, c.calls)
		require.Equal(t, 1, c.steps)
	}
}

func TestInspectorStackHaltSurfacesOnCallResult(t *testing.T) {
	// A vetoed frame surfaces to the caller as a halt, not a success.
	interp := interpFunc(func(env *Env, db state.Database, insp Inspector) (*Outcome, error) {
		frame := &CallFrame{Caller: env.Tx.Caller, To: *env.Tx.To, Input: env.Tx.Data, Gas: env.Tx.GasLimit}
		if insp.Call(frame) != ActionContinue {
			return &Outcome{Status: StatusHalt}, nil
		}
		return successOutcome(), nil
	})
	e := New(backend.NewMemory(), DefaultEnv(), interp, NewInspectorStack(haltingInspector{}), 1_000_000)

	res, err := e.CallRaw(DefaultSender, common.HexToAddress("0xaa"), nil, new(uint256.Int))
	require.NoError(t, err)
	require.True(t, res.Reverted)
	require.Equal(t, StatusHalt, res.ExitReason)
}
