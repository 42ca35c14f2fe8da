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
	"maps"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Action is an inspector's verdict on the hook it just observed.
type Action uint8

const (
	// ActionContinue lets execution proceed normally.
	ActionContinue Action = iota
	// ActionHalt short-circuits the current frame; the executor reports it
	// as a halt.
	ActionHalt
)

// CallFrame describes a message call or creation entering execution.
type CallFrame struct {
	Caller common.Address
	To     common.Address
	Input  []byte
	Gas    uint64
	Value  *uint256.Int
}

// FrameResult describes how a frame finished.
type FrameResult struct {
	Status  ExitStatus
	Output  []byte
	GasUsed uint64
}

// Inspector is the hook contract instruction-level collaborators (tracers,
// coverage collectors, debuggers, cheatcode handlers) implement. Hooks that
// return an Action may veto execution; the interpreter must honor a
// non-continue verdict.
type Inspector interface {
	// InitializeInterp runs once per new code context.
	InitializeInterp(code []byte, codeHash common.Hash)

	// Step runs once per interpreter step.
	Step(pc uint64, op byte) Action

	// Call and CallEnd bracket a message call.
	Call(frame *CallFrame) Action
	CallEnd(frame *CallFrame, result *FrameResult)

	// Create and CreateEnd bracket a contract creation.
	Create(frame *CallFrame) Action
	CreateEnd(frame *CallFrame, result *FrameResult, created common.Address)
}

// NoopInspector implements Inspector and observes nothing. Embed it to
// implement only the hooks of interest.
type NoopInspector struct{}

func (NoopInspector) InitializeInterp([]byte, common.Hash) {}

func (NoopInspector) Step(uint64, byte) Action { return ActionContinue }

func (NoopInspector) Call(*CallFrame) Action { return ActionContinue }

func (NoopInspector) CallEnd(*CallFrame, *FrameResult) {}

func (NoopInspector) Create(*CallFrame) Action { return ActionContinue }

func (NoopInspector) CreateEnd(*CallFrame, *FrameResult, common.Address) {}

// BroadcastableTx is a transaction a cheatcode queued for later on-chain
// broadcast during a scripted run.
type BroadcastableTx struct {
	From  common.Address
	To    *common.Address
	Data  []byte
	Value *uint256.Int
}

// CheatcodeState is the portion of cheatcode-handler state the executor
// manages across calls: queued broadcasts and debugger breakpoints.
type CheatcodeState struct {
	BroadcastableTxs []BroadcastableTx
	Breakpoints      map[string]uint64
}

// Copy returns a deep copy of the cheatcode state.
func (c *CheatcodeState) Copy() *CheatcodeState {
	if c == nil {
		return nil
	}
	cpy := &CheatcodeState{
		BroadcastableTxs: append([]BroadcastableTx(nil), c.BroadcastableTxs...),
	}
	if c.Breakpoints != nil {
		cpy.Breakpoints = maps.Clone(c.Breakpoints)
	}
	return cpy
}

// CallTrace is one observed frame, recorded when tracing is enabled.
type CallTrace struct {
	Depth  int
	Create bool
	Frame  CallFrame
	Result FrameResult
}

// InspectorData is everything the stack collected over one execution.
type InspectorData struct {
	Labels     map[common.Address]string
	Traces     []CallTrace
	Cheatcodes *CheatcodeState
}

// InspectorStack fans hooks out to a set of inspectors and aggregates what
// they collect. The stack itself implements Inspector, so the interpreter
// only ever sees one hook target. The first non-continue verdict wins.
type InspectorStack struct {
	inspectors []Inspector

	// Cheatcodes survives across calls on the retained stack; per-call
	// clones hand their state back through Collect.
	Cheatcodes *CheatcodeState

	tracing bool
	depth   int
	traces  []CallTrace
	labels  map[common.Address]string
}

// NewInspectorStack creates a stack over the given inspectors.
func NewInspectorStack(inspectors ...Inspector) *InspectorStack {
	return &InspectorStack{
		inspectors: inspectors,
		labels:     make(map[common.Address]string),
	}
}

// SetTracing toggles frame recording.
func (s *InspectorStack) SetTracing(enabled bool) { s.tracing = enabled }

// Label attaches a human-readable name to an address, surfaced on results.
func (s *InspectorStack) Label(addr common.Address, name string) {
	s.labels[addr] = name
}

// Clone returns an independent stack sharing the same inspectors, used so a
// non-committing call cannot corrupt the retained stack's state.
func (s *InspectorStack) Clone() *InspectorStack {
	return &InspectorStack{
		inspectors: s.inspectors,
		Cheatcodes: s.Cheatcodes.Copy(),
		tracing:    s.tracing,
		labels:     maps.Clone(s.labels),
	}
}

// Collect returns everything gathered during the last execution.
func (s *InspectorStack) Collect() InspectorData {
	return InspectorData{
		Labels:     maps.Clone(s.labels),
		Traces:     s.traces,
		Cheatcodes: s.Cheatcodes,
	}
}

func (s *InspectorStack) InitializeInterp(code []byte, codeHash common.Hash) {
	for _, insp := range s.inspectors {
		insp.InitializeInterp(code, codeHash)
	}
}

func (s *InspectorStack) Step(pc uint64, op byte) Action {
	for _, insp := range s.inspectors {
		if action := insp.Step(pc, op); action != ActionContinue {
			return action
		}
	}
	return ActionContinue
}

func (s *InspectorStack) Call(frame *CallFrame) Action {
	s.depth++
	for _, insp := range s.inspectors {
		if action := insp.Call(frame); action != ActionContinue {
			return action
		}
	}
	return ActionContinue
}

func (s *InspectorStack) CallEnd(frame *CallFrame, result *FrameResult) {
	s.depth--
	if s.tracing {
		s.traces = append(s.traces, CallTrace{Depth: s.depth, Frame: *frame, Result: *result})
	}
	for _, insp := range s.inspectors {
		insp.CallEnd(frame, result)
	}
}

func (s *InspectorStack) Create(frame *CallFrame) Action {
	s.depth++
	for _, insp := range s.inspectors {
		if action := insp.Create(frame); action != ActionContinue {
			return action
		}
	}
	return ActionContinue
}

func (s *InspectorStack) CreateEnd(frame *CallFrame, result *FrameResult, created common.Address) {
	s.depth--
	if s.tracing {
		s.traces = append(s.traces, CallTrace{Depth: s.depth, Create: true, Frame: *frame, Result: *result})
	}
	for _, insp := range s.inspectors {
		insp.CreateEnd(frame, result, created)
	}
}
