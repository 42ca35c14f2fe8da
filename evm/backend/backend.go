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

// Package backend composes an account store with snapshotting and multi-fork
// selection. A backend is either a plain in-memory store or a view forked
// off a remote chain; either way it is the component the interpreter talks
// to.
package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mattsse/foundry/evm/fork"
	"github.com/mattsse/foundry/evm/state"
)

// CheatcodeAddress is the fixed, well-known address of the cheatcode
// handler. Its storage holds the legacy DSTest global failure flag.
var CheatcodeAddress = common.HexToAddress("0x7109709ECfa91a80626fF3989D68f67F5b1DD12D")

// GlobalFailureSlot is the storage slot of the cheatcode handler holding the
// legacy DSTest global failure flag: the string "failed" right padded to 32
// bytes, matching bytes32("failed") in Solidity.
var GlobalFailureSlot = common.BytesToHash(common.RightPadBytes([]byte("failed"), 32))

// Backend is a tagged variant over an empty in-memory store and a forked
// store, extended with point-in-time snapshots and on-the-fly fork
// management.
//
// Commit and snapshot revert serialize on the backend's mutex, so a revert
// can never interleave with a commit halfway. Reads take the shared side of
// the lock so they never observe a half-swapped variant.
type Backend struct {
	mu sync.RWMutex

	// Exactly one of the two variants serves reads and writes. mem doubles
	// as the restore target when a snapshot of the simple variant is
	// reverted.
	mem    *state.MemDB
	forked *fork.ForkedDatabase

	forks      *fork.MultiFork
	activeFork fork.ForkID

	snaps      *snapshotStore
	persistent mapset.Set[common.Address]

	// snapshotFailure records that a revert discarded a state in which the
	// global failure flag was set. It survives the revert precisely because
	// the flag itself does not.
	snapshotFailure bool

	testContract common.Address
	caller       common.Address
}

// New creates a backend. With a nil spec the backend launches with an empty
// in-memory store; otherwise the fork is established first, which may
// involve remote calls to confirm chain id and block availability.
func New(ctx context.Context, spec *fork.ForkSpec) (*Backend, error) {
	b := &Backend{
		mem:        state.NewMemDB(),
		forks:      fork.NewMultiFork(),
		snaps:      newSnapshotStore(),
		persistent: mapset.NewSet[common.Address](),
	}
	if spec == nil {
		return b, nil
	}
	id, db, err := b.forks.CreateFork(ctx, spec)
	if err != nil {
		return nil, err
	}
	b.forked = db
	b.activeFork = id
	log.Debug("Launched forked backend", "fork", id)
	return b, nil
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Backend {
	b, _ := New(context.Background(), nil)
	return b
}

// db returns the active variant. The caller must hold b.mu.
func (b *Backend) db() state.Database {
	if b.forked != nil {
		return b.forked
	}
	return b.mem
}

// activeDB resolves the active variant under the shared lock, so a
// concurrent fork swap or snapshot revert cannot tear the read.
func (b *Backend) activeDB() state.Database {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.db()
}

// IsForked reports whether the backend currently serves a fork.
func (b *Backend) IsForked() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.forked != nil
}

// ActiveFork returns the id of the selected fork, or the empty id for the
// in-memory variant.
func (b *Backend) ActiveFork() fork.ForkID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.activeFork
}

func (b *Backend) Basic(addr common.Address) (state.AccountInfo, error) {
	return b.activeDB().Basic(addr)
}

func (b *Backend) CodeByHash(hash common.Hash) ([]byte, error) {
	return b.activeDB().CodeByHash(hash)
}

func (b *Backend) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return b.activeDB().Storage(addr, slot)
}

func (b *Backend) BlockHash(number uint64) (common.Hash, error) {
	return b.activeDB().BlockHash(number)
}

func (b *Backend) InsertAccount(addr common.Address, info state.AccountInfo) {
	b.activeDB().InsertAccount(addr, info)
}

func (b *Backend) SetStorage(addr common.Address, slot, value common.Hash) {
	b.activeDB().SetStorage(addr, slot, value)
}

// Commit applies a changeset produced by an executed call. This is the only
// way execution mutates the backend; direct inserts are administrative
// overrides.
func (b *Backend) Commit(changes state.Changeset) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.db().Commit(changes)
}

// InsertSnapshot captures the current state and returns its id.
func (b *Backend) InsertSnapshot() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := &backendSnapshot{activeFork: b.activeFork, failure: b.snapshotFailure}
	if b.forked != nil {
		snap.state = b.forked.Overlay()
	} else {
		snap.state = b.mem.Copy()
	}
	id := b.snaps.insert(snap)
	log.Trace("Captured backend snapshot", "id", id)
	return id
}

// RevertSnapshot restores the state captured under id, invalidating it and
// every later snapshot. It returns false if the id is unknown or already
// superseded. If the discarded state had the global failure flag set, the
// failure is retained on the backend so it is not silently undone.
func (b *Backend) RevertSnapshot(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, ok := b.snaps.revertTo(id)
	if !ok {
		return false
	}

	if flag, err := b.db().Storage(CheatcodeAddress, GlobalFailureSlot); err == nil && flag != (common.Hash{}) {
		b.snapshotFailure = true
	}

	if snap.activeFork != "" {
		if db, ok := b.forks.Fork(snap.activeFork); ok {
			b.forked = db
			b.activeFork = snap.activeFork
			b.forked.RestoreOverlay(snap.state)
		}
	} else {
		b.forked = nil
		b.activeFork = ""
		b.mem = snap.state.Copy()
	}
	log.Trace("Reverted backend snapshot", "id", id)
	return true
}

// CreateFork registers a new fork without disturbing the currently selected
// one.
func (b *Backend) CreateFork(ctx context.Context, spec *fork.ForkSpec) (fork.ForkID, error) {
	id, _, err := b.forks.CreateFork(ctx, spec)
	return id, err
}

// SelectFork swaps which fork answers reads and writes going forward.
// Selecting an unknown id is an error and leaves the selection unchanged.
// Accounts marked persistent are carried over so a swap does not hide them.
func (b *Backend) SelectFork(id fork.ForkID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id == b.activeFork {
		return nil
	}
	db, ok := b.forks.Fork(id)
	if !ok {
		return fmt.Errorf("no fork registered with id %q", id)
	}

	prev := b.db()
	for addr := range b.persistentAccounts() {
		info, err := prev.Basic(addr)
		if err != nil {
			return err
		}
		db.InsertAccount(addr, info)
	}

	b.forked = db
	b.activeFork = id
	log.Debug("Selected fork", "fork", id)
	return nil
}

// persistentAccounts returns the set of addresses carried across fork swaps:
// explicitly marked accounts plus the test contract, the configured caller
// and the cheatcode handler.
func (b *Backend) persistentAccounts() map[common.Address]struct{} {
	accounts := make(map[common.Address]struct{})
	for _, addr := range b.persistent.ToSlice() {
		accounts[addr] = struct{}{}
	}
	if b.testContract != (common.Address{}) {
		accounts[b.testContract] = struct{}{}
	}
	if b.caller != (common.Address{}) {
		accounts[b.caller] = struct{}{}
	}
	accounts[CheatcodeAddress] = struct{}{}
	return accounts
}

// AddPersistentAccount marks an account to be copied across fork selection.
func (b *Backend) AddPersistentAccount(addr common.Address) {
	b.persistent.Add(addr)
}

// RemovePersistentAccount undoes AddPersistentAccount.
func (b *Backend) RemovePersistentAccount(addr common.Address) {
	b.persistent.Remove(addr)
}

// IsPersistentAccount reports whether the account survives fork swaps.
func (b *Backend) IsPersistentAccount(addr common.Address) bool {
	return b.persistent.Contains(addr)
}

// SetTestContract records the contract under test.
func (b *Backend) SetTestContract(addr common.Address) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.testContract = addr
	return b
}

// SetCaller records the default caller.
func (b *Backend) SetCaller(addr common.Address) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caller = addr
	return b
}

// TestContract returns the recorded contract under test.
func (b *Backend) TestContract() common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.testContract
}

// HasSnapshotFailure reports whether a revert discarded a recorded global
// failure.
func (b *Backend) HasSnapshotFailure() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotFailure
}

// SetSnapshotFailure overrides the snapshot failure flag.
func (b *Backend) SetSnapshotFailure(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshotFailure = failed
}

// CloneEmpty returns a fresh in-memory backend sharing nothing with the
// receiver. Used to evaluate call success against a minimal reconstructed
// state.
func (b *Backend) CloneEmpty() *Backend {
	return NewMemory()
}

// Shutdown flushes fork caches and stops the fork handler, waiting at most
// the given timeout for in-flight flushes.
func (b *Backend) Shutdown(timeout time.Duration) {
	b.forks.ShutdownWait(timeout)
}
