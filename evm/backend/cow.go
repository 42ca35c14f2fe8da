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

package backend

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/mattsse/foundry/evm/state"
)

// CowBackend is a copy-on-write view of a backend used for non-committing
// calls. Many such views can share one backend concurrently: reads pass
// through to the shared base until a mutation is requested, at which point
// a private overlay is materialized for this view only. The base is never
// mutated.
type CowBackend struct {
	base  *Backend
	local *state.CacheDB // nil until the first mutation

	// A snapshot failure triggered while running on this view stays on the
	// view; the view is dropped after the call, so the flag travels on the
	// call result instead of the shared base.
	snapshotFailure bool
}

// NewCow creates a copy-on-write view over the given backend.
func NewCow(base *Backend) *CowBackend {
	return &CowBackend{base: base}
}

func (c *CowBackend) reader() state.DatabaseReader {
	if c.local != nil {
		return c.local
	}
	return c.base
}

// materialize creates the private overlay on first mutation.
func (c *CowBackend) materialize() *state.CacheDB {
	if c.local == nil {
		c.local = state.NewCacheDB(c.base)
	}
	return c.local
}

func (c *CowBackend) Basic(addr common.Address) (state.AccountInfo, error) {
	return c.reader().Basic(addr)
}

func (c *CowBackend) CodeByHash(hash common.Hash) ([]byte, error) {
	return c.reader().CodeByHash(hash)
}

func (c *CowBackend) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return c.reader().Storage(addr, slot)
}

func (c *CowBackend) BlockHash(number uint64) (common.Hash, error) {
	return c.reader().BlockHash(number)
}

func (c *CowBackend) InsertAccount(addr common.Address, info state.AccountInfo) {
	c.materialize().InsertAccount(addr, info)
}

func (c *CowBackend) SetStorage(addr common.Address, slot, value common.Hash) {
	c.materialize().SetStorage(addr, slot, value)
}

func (c *CowBackend) Commit(changes state.Changeset) {
	c.materialize().Commit(changes)
}

// HasSnapshotFailure reports a failure recorded on this view or already
// present on the shared base.
func (c *CowBackend) HasSnapshotFailure() bool {
	return c.snapshotFailure || c.base.HasSnapshotFailure()
}

// SetSnapshotFailure records a failure on this view without touching the
// shared base.
func (c *CowBackend) SetSnapshotFailure(failed bool) {
	c.snapshotFailure = failed
}
